//go:build unix

package bootstrap

import (
	"os"

	"golang.org/x/sys/unix"
)

// OS is the production System backed by the operating system.
type OS struct{}

func (OS) Chdir(dir string) error { return os.Chdir(dir) }

func (OS) Environ() []string { return os.Environ() }

func (OS) Exec(argv0 string, argv []string, env []string) error {
	return unix.Exec(argv0, argv, env)
}
