package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/redbearlabs/sandbox/internal/bootstrap"
	"github.com/redbearlabs/sandbox/internal/config"
	"github.com/redbearlabs/sandbox/internal/isolation"
	"github.com/redbearlabs/sandbox/internal/payload"
	"github.com/redbearlabs/sandbox/internal/storage"
	"github.com/redbearlabs/sandbox/internal/storage/sqlite"
)

// writeStub installs a shell script in place of the sandbox-runner binary
// so tests can observe the spawn contract without confining anything.
func writeStub(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("stub runner needs a shell")
	}
	path := filepath.Join(t.TempDir(), "sandbox-runner")
	script := "#!/bin/sh\n" + body
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func testConfig(t *testing.T, runner string) *config.Config {
	t.Helper()
	return &config.Config{
		MaxWorkers:    2,
		MaxRequests:   10,
		WorkerTimeout: 5 * time.Second,
		EnableNetwork: true,
		SandboxUID:    1000,
		SandboxGID:    1000,
		RunnerPath:    runner,
		Python:        config.RuntimeConfig{Root: t.TempDir()},
		Nodejs:        config.RuntimeConfig{Root: t.TempDir()},
	}
}

func newExecutor(t *testing.T, cfg *config.Config, store storage.Store) *Executor {
	t.Helper()
	e, err := New(cfg, store, slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func TestRunSpawnContract(t *testing.T) {
	capture := t.TempDir()
	stub := writeStub(t, fmt.Sprintf(`printf '%%s\n' "$@" > %[1]s/args
env > %[1]s/env
if [ -f "$6.enc" ]; then cp "$6.enc" %[1]s/staged.enc; fi
echo hello
`, capture))

	cfg := testConfig(t, stub)
	e := newExecutor(t, cfg, nil)

	source := []byte("print('confined')\n")
	res, err := e.Run(context.Background(), Request{
		Language: "python3",
		Code:     source,
		Options:  isolation.Options{EnableNetwork: true},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != 0 {
		t.Errorf("exit code = %d, stderr %q", res.ExitCode, res.Stderr)
	}
	if res.Stdout != "hello\n" {
		t.Errorf("stdout = %q", res.Stdout)
	}

	raw, err := os.ReadFile(filepath.Join(capture, "args"))
	if err != nil {
		t.Fatalf("stub captured no args: %v", err)
	}
	args := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(args) != 6 {
		t.Fatalf("runner got %d args, want 6: %v", len(args), args)
	}
	if args[0] != cfg.Python.Root {
		t.Errorf("workdir = %q, want %q", args[0], cfg.Python.Root)
	}
	if args[1] != "1000" || args[2] != "1000" {
		t.Errorf("uid/gid = %q/%q", args[1], args[2])
	}
	if !strings.Contains(args[3], `"enable_network":true`) {
		t.Errorf("options = %q", args[3])
	}
	if args[4] != "/usr/local/bin/python3" {
		t.Errorf("interpreter = %q", args[4])
	}
	if !strings.HasPrefix(args[5], "tmp/") || !strings.HasSuffix(args[5], "main.py") {
		t.Errorf("script = %q", args[5])
	}

	// The staged payload decrypts back to the source with the key from the
	// runner environment.
	envRaw, err := os.ReadFile(filepath.Join(capture, "env"))
	if err != nil {
		t.Fatal(err)
	}
	key := envValue(t, string(envRaw), bootstrap.PayloadKeyEnv)
	keyBytes, err := payload.DecodeKey(key)
	if err != nil {
		t.Fatalf("decoding captured key: %v", err)
	}
	enc, err := os.ReadFile(filepath.Join(capture, "staged.enc"))
	if err != nil {
		t.Fatalf("stub saw no staged payload: %v", err)
	}
	plain, err := payload.Open(enc, keyBytes)
	if err != nil {
		t.Fatal(err)
	}
	if string(plain) != string(source) {
		t.Errorf("staged payload = %q, want %q", plain, source)
	}

	if got := envValue(t, string(envRaw), bootstrap.RuntimeEnv); got != "python3" {
		t.Errorf("%s = %q", bootstrap.RuntimeEnv, got)
	}
}

func envValue(t *testing.T, env, key string) string {
	t.Helper()
	for _, line := range strings.Split(env, "\n") {
		if v, ok := strings.CutPrefix(line, key+"="); ok {
			return v
		}
	}
	t.Fatalf("env %s not set", key)
	return ""
}

func TestRunNetworkGatedByHost(t *testing.T) {
	capture := t.TempDir()
	stub := writeStub(t, fmt.Sprintf(`printf '%%s\n' "$@" > %s/args`, capture))

	cfg := testConfig(t, stub)
	cfg.EnableNetwork = false
	e := newExecutor(t, cfg, nil)

	req := Request{
		Language: "python3",
		Code:     []byte("pass"),
		Options:  isolation.Options{EnableNetwork: true},
	}
	if _, err := e.Run(context.Background(), req); err != nil {
		t.Fatalf("Run: %v", err)
	}

	raw, _ := os.ReadFile(filepath.Join(capture, "args"))
	if !strings.Contains(string(raw), `"enable_network":false`) {
		t.Error("host enable_network=false must win over the request option")
	}
}

func TestRunExitCode(t *testing.T) {
	stub := writeStub(t, "echo oops >&2\nexit 7\n")
	e := newExecutor(t, testConfig(t, stub), nil)

	res, err := e.Run(context.Background(), Request{Language: "python3", Code: []byte("x")})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != 7 {
		t.Errorf("exit code = %d, want 7", res.ExitCode)
	}
	if !strings.Contains(res.Stderr, "oops") {
		t.Errorf("stderr = %q", res.Stderr)
	}
}

func TestRunTimeout(t *testing.T) {
	// The background child inherits the output pipes; the timeout must
	// reap the whole tree, not just the direct child.
	stub := writeStub(t, "sleep 5 &\nsleep 5\n")
	cfg := testConfig(t, stub)
	e := newExecutor(t, cfg, nil)

	start := time.Now()
	res, err := e.Run(context.Background(), Request{
		Language: "python3",
		Code:     []byte("x"),
		Timeout:  100 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.TimedOut {
		t.Error("expected TimedOut")
	}
	if res.ExitCode != -1 {
		t.Errorf("exit code = %d, want -1", res.ExitCode)
	}
	if time.Since(start) > 3*time.Second {
		t.Error("timeout did not kill the runner promptly")
	}
}

func TestRunPolicyViolation(t *testing.T) {
	stub := writeStub(t, "kill -s SYS $$\n")
	e := newExecutor(t, testConfig(t, stub), nil)

	res, err := e.Run(context.Background(), Request{Language: "python3", Code: []byte("x")})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.PolicyViolation {
		t.Errorf("expected PolicyViolation, got %+v", res)
	}
}

func TestRunUnsupportedLanguage(t *testing.T) {
	stub := writeStub(t, "exit 0\n")
	e := newExecutor(t, testConfig(t, stub), nil)

	if _, err := e.Run(context.Background(), Request{Language: "cobol", Code: []byte("x")}); err == nil {
		t.Error("expected error for unsupported language")
	}
}

func TestRunBusy(t *testing.T) {
	started := filepath.Join(t.TempDir(), "started")
	stub := writeStub(t, fmt.Sprintf("touch %s\nsleep 3\n", started))

	cfg := testConfig(t, stub)
	cfg.MaxRequests = 1
	e := newExecutor(t, cfg, nil)

	done := make(chan error, 1)
	go func() {
		_, err := e.Run(context.Background(), Request{Language: "python3", Code: []byte("x"), Timeout: 3 * time.Second})
		done <- err
	}()

	// Wait until the first run is definitely in flight.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := os.Stat(started); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("first run never started")
		}
		time.Sleep(10 * time.Millisecond)
	}

	_, err := e.Run(context.Background(), Request{Language: "python3", Code: []byte("y")})
	if !errors.Is(err, ErrBusy) {
		t.Errorf("second run error = %v, want ErrBusy", err)
	}

	if err := <-done; err != nil {
		t.Fatalf("first run: %v", err)
	}
}

func TestRunCleansStagingDir(t *testing.T) {
	stub := writeStub(t, "exit 0\n")
	cfg := testConfig(t, stub)
	e := newExecutor(t, cfg, nil)

	if _, err := e.Run(context.Background(), Request{Language: "python3", Code: []byte("x")}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(cfg.Python.Root, "tmp"))
	if err != nil {
		t.Fatalf("reading tmp: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("staging dirs left behind: %v", entries)
	}
}

func TestStageFailureCleansUp(t *testing.T) {
	stub := writeStub(t, "exit 0\n")
	cfg := testConfig(t, stub)
	e := newExecutor(t, cfg, nil)

	orig := chmodStaging
	chmodStaging = func(string, os.FileMode) error { return errors.New("chmod failed") }
	t.Cleanup(func() { chmodStaging = orig })

	if _, err := e.Run(context.Background(), Request{Language: "python3", Code: []byte("x")}); err == nil {
		t.Fatal("expected staging error")
	}

	entries, err := os.ReadDir(filepath.Join(cfg.Python.Root, "tmp"))
	if err != nil {
		t.Fatalf("reading tmp: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("staging dirs left behind after failure: %v", entries)
	}
}

func TestRunJournals(t *testing.T) {
	stub := writeStub(t, "exit 3\n")
	store, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	e := newExecutor(t, testConfig(t, stub), store)
	if _, err := e.Run(context.Background(), Request{Language: "python3", Code: []byte("x")}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	runs, err := store.ListRuns(context.Background(), storage.RunListOptions{})
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("journal has %d runs, want 1", len(runs))
	}
	if runs[0].Language != "python3" || runs[0].ExitCode != 3 {
		t.Errorf("journal entry = %+v", runs[0])
	}
}

func TestPreloadGate(t *testing.T) {
	capture := t.TempDir()
	stub := writeStub(t, fmt.Sprintf(`env > %[1]s/env
cp "$6.enc" %[1]s/staged.enc
`, capture))

	for _, enabled := range []bool{true, false} {
		cfg := testConfig(t, stub)
		cfg.EnablePreload = enabled
		e := newExecutor(t, cfg, nil)

		req := Request{Language: "python3", Code: []byte("main()"), Preload: "import os"}
		if _, err := e.Run(context.Background(), req); err != nil {
			t.Fatalf("Run: %v", err)
		}

		envRaw, _ := os.ReadFile(filepath.Join(capture, "env"))
		keyBytes, err := payload.DecodeKey(envValue(t, string(envRaw), bootstrap.PayloadKeyEnv))
		if err != nil {
			t.Fatal(err)
		}
		enc, _ := os.ReadFile(filepath.Join(capture, "staged.enc"))
		plain, _ := payload.Open(enc, keyBytes)

		hasPreload := strings.Contains(string(plain), "import os")
		if hasPreload != enabled {
			t.Errorf("enable_preload=%v: staged payload = %q", enabled, plain)
		}
	}
}
