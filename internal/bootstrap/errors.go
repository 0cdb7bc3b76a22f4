package bootstrap

import (
	"fmt"

	"github.com/redbearlabs/sandbox/internal/isolation"
)

// ArgumentError reports a missing or malformed launch argument. It is
// always detected before the isolation attempt.
type ArgumentError struct {
	Arg    string
	Reason string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid argument %s: %s", e.Arg, e.Reason)
}

// FilesystemError reports a failed working-directory change.
type FilesystemError struct {
	Dir string
	Err error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("entering working directory %s: %v", e.Dir, e.Err)
}

func (e *FilesystemError) Unwrap() error { return e.Err }

// IsolationError carries the raw status code returned by the isolation
// primitive. The code's meaning belongs to the primitive; the bootstrap
// only surfaces it.
type IsolationError struct {
	Code isolation.Status
}

func (e *IsolationError) Error() string {
	return fmt.Sprintf("isolation failed: status=%d (%s)", int(e.Code), e.Code)
}
