package isolation

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// AllowedSyscallsEnv overrides the baseline allow class with a
// comma-separated list of syscall names.
const AllowedSyscallsEnv = "ALLOWED_SYSCALLS"

// Policy is the syscall allow-list contract enforced by the isolator.
// Everything not named here is killed by the filter's default action.
type Policy struct {
	// Allow is the baseline class: syscalls the payload may always make.
	Allow []string `yaml:"allow"`
	// Network is appended to the allow class when the run has
	// enable_network set.
	Network []string `yaml:"network"`
	// Errno names syscalls that fail with EPERM instead of killing the
	// process. Runtimes probe these at startup and must survive the probe.
	Errno []string `yaml:"errno"`
}

// baseAllow covers file IO, memory, signals, time, and process teardown for
// an interpreter runtime, plus the exec pair the two-phase handoff needs.
var baseAllow = []string{
	// file io
	"read", "write", "openat", "close", "newfstatat", "ioctl", "lseek",
	"getdents64",

	// thread
	"futex",

	// memory
	"mmap", "brk", "mprotect", "munmap", "rt_sigreturn", "mremap",

	// user / group
	"setuid", "setgid", "getuid",

	// process
	"getpid", "getppid", "gettid", "exit", "exit_group", "tgkill",
	"rt_sigaction", "sched_yield", "set_robust_list", "get_robust_list",
	"rseq",

	// handoff
	"execve", "execveat",

	// time and polling
	"clock_gettime", "gettimeofday", "nanosleep", "epoll_create1",
	"epoll_ctl", "clock_nanosleep", "pselect6", "rt_sigprocmask",
	"sigaltstack", "getrandom",
}

var baseErrno = []string{"clone", "mkdirat", "mkdir"}

var networkAllow = []string{
	"socket", "connect", "bind", "listen", "accept", "sendto", "recvfrom",
	"getsockname", "recvmsg", "getpeername", "setsockopt", "ppoll", "uname",
	"sendmsg", "sendmmsg", "getsockopt", "fstat", "fcntl", "fstatfs",
	"poll", "epoll_pwait",
}

// nodejs needs libuv's event loop and worker pool beyond the interpreter
// baseline.
var nodejsExtra = []string{
	"epoll_pwait", "eventfd2", "pipe2", "statx", "madvise", "fstat",
	"fcntl", "dup3", "prlimit64",
}

// DefaultPolicy returns the compiled-in allow-list for a runtime. Unknown
// runtimes get the interpreter baseline.
func DefaultPolicy(runtime string) Policy {
	p := Policy{
		Allow:   append([]string(nil), baseAllow...),
		Network: append([]string(nil), networkAllow...),
		Errno:   append([]string(nil), baseErrno...),
	}
	if runtime == "nodejs" {
		p.Allow = appendMissing(p.Allow, nodejsExtra)
	}
	return p
}

// LoadPolicy reads a policy override file. The file replaces the defaults
// wholesale: a partial file means a narrower sandbox, never a wider one by
// accident.
func LoadPolicy(path string) (Policy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("reading policy file: %w", err)
	}
	var p Policy
	dec := yaml.NewDecoder(strings.NewReader(string(raw)))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return Policy{}, fmt.Errorf("parsing policy file %s: %w", path, err)
	}
	if len(p.Allow) == 0 {
		return Policy{}, fmt.Errorf("policy file %s has an empty allow list", path)
	}
	return p, nil
}

// WithEnvOverride replaces the baseline allow class when AllowedSyscallsEnv
// is set, mirroring the native library's environment contract.
func (p Policy) WithEnvOverride() Policy {
	val := os.Getenv(AllowedSyscallsEnv)
	if val == "" {
		return p
	}
	var names []string
	for _, s := range strings.Split(val, ",") {
		if s = strings.TrimSpace(s); s != "" {
			names = append(names, s)
		}
	}
	if len(names) == 0 {
		return p
	}
	p.Allow = names
	return p
}

// AllowedNames returns the full allow class for a run.
func (p Policy) AllowedNames(allowNetwork bool) []string {
	names := append([]string(nil), p.Allow...)
	if allowNetwork {
		names = appendMissing(names, p.Network)
	}
	return names
}

func appendMissing(dst, src []string) []string {
	seen := make(map[string]bool, len(dst))
	for _, n := range dst {
		seen[n] = true
	}
	for _, n := range src {
		if !seen[n] {
			dst = append(dst, n)
			seen[n] = true
		}
	}
	return dst
}
