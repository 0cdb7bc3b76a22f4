//go:build !linux

package isolation

// Native is only functional on Linux. On other platforms Apply refuses to
// run rather than pretending the process is confined.
type Native struct {
	Policy Policy
}

func NewNative(policy Policy) *Native {
	return &Native{Policy: policy}
}

func (n *Native) Apply(uid, gid int, allowNetwork bool) Status {
	return StatusUnsupported
}

// Supported reports whether this platform can confine a runner at all.
func Supported() bool { return false }
