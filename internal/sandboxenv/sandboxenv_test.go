package sandboxenv

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/redbearlabs/sandbox/internal/config"
)

func TestInitCopiesLibPaths(t *testing.T) {
	host := t.TempDir()
	root := t.TempDir()

	// A file and a directory tree on the "host".
	certs := filepath.Join(host, "certs.crt")
	if err := os.WriteFile(certs, []byte("certdata"), 0o644); err != nil {
		t.Fatal(err)
	}
	libDir := filepath.Join(host, "lib", "python3")
	if err := os.MkdirAll(libDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(libDir, "os.py"), []byte("# stdlib"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{
		Python: config.RuntimeConfig{
			Root:     root,
			LibPaths: []string{certs, filepath.Join(host, "lib", "python3"), "/does/not/exist"},
		},
	}

	if err := Init(cfg, "python3", false, nil); err != nil {
		t.Fatalf("Init: %v", err)
	}

	if _, err := os.Stat(filepath.Join(root, "tmp")); err != nil {
		t.Error("tmp dir missing")
	}
	got, err := os.ReadFile(filepath.Join(root, certs))
	if err != nil {
		t.Fatalf("copied file missing: %v", err)
	}
	if string(got) != "certdata" {
		t.Errorf("copied file = %q", got)
	}
	if _, err := os.Stat(filepath.Join(root, libDir, "os.py")); err != nil {
		t.Error("copied tree incomplete")
	}
}

func TestInitSkipsExistingWithoutForce(t *testing.T) {
	host := t.TempDir()
	root := t.TempDir()

	src := filepath.Join(host, "data")
	if err := os.WriteFile(src, []byte("new"), 0o644); err != nil {
		t.Fatal(err)
	}
	dest := filepath.Join(root, src)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dest, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{
		Python: config.RuntimeConfig{Root: root, LibPaths: []string{src}},
	}

	if err := Init(cfg, "python3", false, nil); err != nil {
		t.Fatalf("Init: %v", err)
	}
	got, _ := os.ReadFile(dest)
	if string(got) != "old" {
		t.Error("existing entry overwritten without force")
	}

	if err := Init(cfg, "python3", true, nil); err != nil {
		t.Fatalf("Init force: %v", err)
	}
	got, _ = os.ReadFile(dest)
	if string(got) != "new" {
		t.Error("force did not overwrite")
	}
}

func TestInitUnknownLanguage(t *testing.T) {
	if err := Init(&config.Config{}, "cobol", false, nil); err == nil {
		t.Error("expected error")
	}
}

func TestDoctorReportsMissing(t *testing.T) {
	cfg := &config.Config{
		RunnerPath: "/definitely/missing/sandbox-runner",
		Python:     config.RuntimeConfig{Root: "/missing/root", Path: "/missing/python"},
		Nodejs:     config.RuntimeConfig{Root: "/missing/root", Path: "/missing/node"},
	}

	checks := Doctor(cfg)
	if len(checks) == 0 {
		t.Fatal("no checks")
	}
	for _, c := range checks {
		if c.Name == "sandbox-runner binary" && c.OK {
			t.Error("missing runner reported OK")
		}
	}
}
