// Package sandboxenv prepares and checks the per-runtime sandbox roots.
//
// A sandbox root must contain everything the interpreter needs after
// chroot: the interpreter binary, its libraries, TLS certificates, and
// timezone data. Init copies the configured host paths into the root at
// the same relative locations.
package sandboxenv

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/redbearlabs/sandbox/internal/config"
	"github.com/redbearlabs/sandbox/internal/isolation"
	"github.com/redbearlabs/sandbox/internal/language"
)

// Init populates the sandbox root for a language. Existing entries are
// kept unless force is set.
func Init(cfg *config.Config, lang string, force bool, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	rtcfg, err := cfg.Runtime(lang)
	if err != nil {
		return err
	}
	if rtcfg.Root == "" {
		return fmt.Errorf("no sandbox root configured for %s", lang)
	}

	if err := os.MkdirAll(filepath.Join(rtcfg.Root, "tmp"), 0o755); err != nil {
		return fmt.Errorf("creating sandbox root: %w", err)
	}

	for _, src := range rtcfg.LibPaths {
		dest := filepath.Join(rtcfg.Root, src)
		if _, err := os.Stat(dest); err == nil {
			if !force {
				continue
			}
			// os.CopyFS refuses to overwrite, so a forced refresh starts
			// from a clean destination.
			if err := os.RemoveAll(dest); err != nil {
				return fmt.Errorf("clearing %s: %w", dest, err)
			}
		}

		info, err := os.Stat(src)
		if os.IsNotExist(err) {
			logger.Warn("library path missing on host", "path", src)
			continue
		}
		if err != nil {
			return fmt.Errorf("checking %s: %w", src, err)
		}

		logger.Info("copying into sandbox root", "path", src, "root", rtcfg.Root)
		if info.IsDir() {
			err = copyTree(src, dest)
		} else {
			err = copyFile(src, dest, info.Mode())
		}
		if err != nil {
			return fmt.Errorf("copying %s: %w", src, err)
		}
	}
	return nil
}

func copyTree(src, dest string) error {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}
	return os.CopyFS(dest, os.DirFS(src))
}

func copyFile(src, dest string, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode.Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Check is one doctor finding.
type Check struct {
	Name   string
	OK     bool
	Detail string
}

// Doctor inspects the host setup and reports what a run would need.
func Doctor(cfg *config.Config) []Check {
	var checks []Check

	runner := cfg.RunnerPath
	if runner == "" {
		if self, err := os.Executable(); err == nil {
			runner = filepath.Join(filepath.Dir(self), "sandbox-runner")
		}
	}
	checks = append(checks, statCheck("sandbox-runner binary", runner))

	checks = append(checks, Check{
		Name:   "seccomp support",
		OK:     isolation.Supported(),
		Detail: "kernel seccomp filter support",
	})

	for _, name := range language.Names() {
		rtcfg, err := cfg.Runtime(name)
		if err != nil {
			continue
		}
		checks = append(checks, statCheck(name+" sandbox root", rtcfg.Root))
		checks = append(checks, statCheck(name+" interpreter", rtcfg.Path))
	}
	return checks
}

func statCheck(name, path string) Check {
	if path == "" {
		return Check{Name: name, OK: false, Detail: "not configured"}
	}
	if _, err := os.Stat(path); err != nil {
		return Check{Name: name, OK: false, Detail: path + " missing"}
	}
	return Check{Name: name, OK: true, Detail: path}
}
