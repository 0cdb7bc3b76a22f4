//go:build linux

package isolation

import (
	seccomp "github.com/elastic/go-seccomp-bpf"
	"golang.org/x/sys/unix"
)

// Native confines the calling process using the kernel's chroot, setuid,
// and seccomp facilities. The step order matches the launch contract:
// filesystem root first, then no_new_privs, then identity, then filter.
// If any step fails the process is in an undefined privilege state and the
// caller must terminate it.
type Native struct {
	Policy Policy
}

// NewNative returns an isolator enforcing the given syscall policy, with
// the environment override applied.
func NewNative(policy Policy) *Native {
	return &Native{Policy: policy.WithEnvOverride()}
}

// Apply performs the irreversible confinement. It must run on the process's
// main goroutine before any untrusted code and is never retried.
func (n *Native) Apply(uid, gid int, allowNetwork bool) Status {
	if err := unix.Chroot("."); err != nil {
		return StatusChroot
	}
	if err := unix.Chdir("/"); err != nil {
		return StatusChdir
	}
	if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		return StatusNoNewPrivs
	}
	if err := unix.Setgid(gid); err != nil {
		return StatusSetgid
	}
	if err := unix.Setuid(uid); err != nil {
		return StatusSetuid
	}
	return n.loadFilter(allowNetwork)
}

func (n *Native) loadFilter(allowNetwork bool) Status {
	policy := seccomp.Policy{
		DefaultAction: seccomp.ActionKillProcess,
		Syscalls: []seccomp.SyscallGroup{
			{
				Action: seccomp.ActionAllow,
				Names:  n.Policy.AllowedNames(allowNetwork),
			},
		},
	}
	if len(n.Policy.Errno) > 0 {
		policy.Syscalls = append(policy.Syscalls, seccomp.SyscallGroup{
			Action: seccomp.ActionErrno,
			Names:  n.Policy.Errno,
		})
	}

	// Validate the program before committing: a name the kernel tables do
	// not know is a build failure, not a load failure.
	if _, err := policy.Assemble(); err != nil {
		return StatusFilterBuild
	}

	filter := seccomp.Filter{
		NoNewPrivs: true,
		Flag:       seccomp.FilterFlagTSync,
		Policy:     policy,
	}
	if err := seccomp.LoadFilter(filter); err != nil {
		return StatusFilterLoad
	}
	return StatusOK
}

// Supported reports whether the running kernel accepts seccomp filters.
func Supported() bool {
	return seccomp.Supported()
}
