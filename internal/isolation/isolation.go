// Package isolation defines the primitive that confines a runner process.
//
// The primitive performs syscall filtering and privilege de-escalation as
// one logical unit. It is called exactly once per process, before any
// untrusted instruction runs, and cannot be rolled back.
package isolation

import (
	"encoding/json"
	"fmt"
)

// Options is the sandbox capability configuration decoded from the runner's
// options argument. New capabilities extend this record; existing keys keep
// their meaning.
type Options struct {
	// EnableNetwork permits network-related syscalls in the filter.
	// When false, network syscalls hit the kill-process default action.
	EnableNetwork bool `json:"enable_network"`
}

// ParseOptions decodes the serialized options blob. Unknown keys are
// tolerated so that older runners accept configs from newer hosts.
func ParseOptions(raw string) (Options, error) {
	var opts Options
	if err := json.Unmarshal([]byte(raw), &opts); err != nil {
		return Options{}, fmt.Errorf("parsing sandbox options: %w", err)
	}
	return opts, nil
}

// Status is the result of an isolation attempt. Zero means the process is
// confined; negative values identify the step that failed.
type Status int

const (
	StatusOK          Status = 0
	StatusChroot      Status = -1
	StatusChdir       Status = -2
	StatusNoNewPrivs  Status = -3
	StatusSetgid      Status = -4
	StatusSetuid      Status = -5
	StatusFilterInit  Status = -6
	StatusFilterBuild Status = -7
	StatusFilterErrno Status = -8
	StatusFilterLoad  Status = -9
	StatusUnsupported Status = -10
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusChroot:
		return "chroot failed"
	case StatusChdir:
		return "chdir to new root failed"
	case StatusNoNewPrivs:
		return "no_new_privs failed"
	case StatusSetgid:
		return "setgid failed"
	case StatusSetuid:
		return "setuid failed"
	case StatusFilterInit:
		return "filter init failed"
	case StatusFilterBuild:
		return "filter build failed"
	case StatusFilterErrno:
		return "filter errno rule failed"
	case StatusFilterLoad:
		return "filter load failed"
	case StatusUnsupported:
		return "platform not supported"
	default:
		return fmt.Sprintf("status %d", int(s))
	}
}

// Isolator installs the syscall filter and switches the calling process's
// identity. Apply must be called exactly once; after a zero return the
// process cannot regain its prior privilege level or syscall surface.
type Isolator interface {
	Apply(uid, gid int, allowNetwork bool) Status
}
