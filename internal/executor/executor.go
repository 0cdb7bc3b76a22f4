// Package executor stages and supervises sandboxed runs.
//
// The executor is the host side of the launch contract: it prepares a
// staging directory under the runtime's sandbox root, writes the encrypted
// payload, spawns sandbox-runner with the positional argument contract,
// and collects the confined process's output.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/redbearlabs/sandbox/internal/bootstrap"
	"github.com/redbearlabs/sandbox/internal/config"
	"github.com/redbearlabs/sandbox/internal/isolation"
	"github.com/redbearlabs/sandbox/internal/language"
	"github.com/redbearlabs/sandbox/internal/payload"
	"github.com/redbearlabs/sandbox/internal/storage"
)

// ErrBusy is returned when the request queue is full.
var ErrBusy = errors.New("too many pending requests")

// chmodStaging is swapped in tests to simulate staging failures.
var chmodStaging = os.Chmod

// Request describes one code execution.
type Request struct {
	// Language is the wire runtime identifier (python3, nodejs).
	Language string
	// Code is the payload source.
	Code []byte
	// Preload is prepended to the payload when preloading is enabled.
	Preload string
	// Options is the per-run capability configuration. Network access is
	// additionally gated by the host's enable_network setting.
	Options isolation.Options
	// Timeout overrides the configured worker timeout when positive.
	Timeout time.Duration
}

// Result is the outcome of a sandboxed execution.
type Result struct {
	Stdout          string
	Stderr          string
	ExitCode        int
	PolicyViolation bool
	TimedOut        bool
}

// Executor runs payloads through the sandbox-runner binary.
type Executor struct {
	cfg        *config.Config
	store      storage.Store
	logger     *slog.Logger
	runnerPath string

	workers chan struct{}
	pending atomic.Int64
}

// New builds an executor. store may be nil to skip journaling.
func New(cfg *config.Config, store storage.Store, logger *slog.Logger) (*Executor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	runner, err := resolveRunner(cfg.RunnerPath)
	if err != nil {
		return nil, err
	}
	workers := cfg.MaxWorkers
	if workers <= 0 {
		workers = 1
	}
	return &Executor{
		cfg:        cfg,
		store:      store,
		logger:     logger,
		runnerPath: runner,
		workers:    make(chan struct{}, workers),
	}, nil
}

func resolveRunner(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	self, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locating sandbox-runner: %w", err)
	}
	return filepath.Join(filepath.Dir(self), "sandbox-runner"), nil
}

// Run executes one payload and blocks until it finishes, is killed by the
// timeout, or ctx is cancelled.
func (e *Executor) Run(ctx context.Context, req Request) (*Result, error) {
	rt, err := language.Lookup(req.Language)
	if err != nil {
		return nil, err
	}
	rtcfg, err := e.cfg.Runtime(req.Language)
	if err != nil {
		return nil, err
	}

	if max := int64(e.cfg.MaxRequests); max > 0 && e.pending.Add(1) > max {
		e.pending.Add(-1)
		return nil, ErrBusy
	} else if max > 0 {
		defer e.pending.Add(-1)
	}

	select {
	case e.workers <- struct{}{}:
		defer func() { <-e.workers }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	run, err := e.stage(rt, rtcfg, req)
	if err != nil {
		return nil, err
	}
	defer run.cleanup(e.logger)

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = e.cfg.WorkerTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	result, err := e.spawn(runCtx, rt, run)
	if err != nil {
		return nil, err
	}

	e.journal(req.Language, run.id, time.Since(start), result)
	return result, nil
}

// stagedRun is the on-disk state of one run inside the sandbox root.
type stagedRun struct {
	id      string
	root    string
	dir     string
	script  string // relative to root, as seen by the runner
	key     []byte
	options string
}

func (e *Executor) stage(rt *language.Runtime, rtcfg config.RuntimeConfig, req Request) (*stagedRun, error) {
	source := req.Code
	if e.cfg.EnablePreload && req.Preload != "" {
		source = append([]byte(req.Preload+"\n"), source...)
	}

	key, err := payload.NewKey()
	if err != nil {
		return nil, err
	}
	enc, err := payload.Seal(source, key)
	if err != nil {
		return nil, err
	}

	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	dir := filepath.Join(rtcfg.Root, "tmp", id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating staging dir: %w", err)
	}
	// The runner writes the decrypted payload here after dropping to the
	// sandbox identity.
	if err := chmodStaging(dir, 0o777); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("opening staging dir: %w", err)
	}

	script := filepath.Join("tmp", id, "main"+rt.Ext)
	if err := os.WriteFile(filepath.Join(rtcfg.Root, script+".enc"), enc, 0o644); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("writing staged payload: %w", err)
	}

	opts := isolation.Options{
		EnableNetwork: req.Options.EnableNetwork && e.cfg.EnableNetwork,
	}
	optJSON, err := json.Marshal(opts)
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("encoding options: %w", err)
	}

	return &stagedRun{
		id:      id,
		root:    rtcfg.Root,
		dir:     dir,
		script:  script,
		key:     key,
		options: string(optJSON),
	}, nil
}

func (r *stagedRun) cleanup(logger *slog.Logger) {
	payload.Zero(r.key)
	if err := os.RemoveAll(r.dir); err != nil {
		logger.Warn("failed to clean staging dir", "dir", r.dir, "error", err)
	}
}

func (e *Executor) spawn(ctx context.Context, rt *language.Runtime, run *stagedRun) (*Result, error) {
	args := []string{
		run.root,
		strconv.Itoa(e.cfg.SandboxUID),
		strconv.Itoa(e.cfg.SandboxGID),
		run.options,
	}
	args = append(args, rt.Argv(run.script)...)

	cmd := exec.CommandContext(ctx, e.runnerPath, args...)
	cmd.Dir = run.root
	cmd.Env = e.runnerEnv(rt, run)

	// The payload may fork. Kill the whole process group on timeout: a
	// surviving descendant holding the output pipes would otherwise block
	// Wait long past the deadline.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	e.logger.Debug("spawning runner",
		"run", run.id, "language", rt.Name, "root", run.root)

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		e.logger.Warn("run timed out", "run", run.id, "language", rt.Name)
		return &Result{
			Stderr:   "Execution timeout",
			ExitCode: -1,
			TimedOut: true,
		}, nil
	}

	result := &Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("running sandbox-runner: %w", err)
		}
		result.ExitCode = exitErr.ExitCode()
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() && ws.Signal() == syscall.SIGSYS {
			result.PolicyViolation = true
		}
	}
	return result, nil
}

func (e *Executor) runnerEnv(rt *language.Runtime, run *stagedRun) []string {
	env := []string{
		"PATH=/usr/local/bin:/usr/bin:/bin",
		bootstrap.PayloadKeyEnv + "=" + payload.EncodeKey(run.key),
		bootstrap.RuntimeEnv + "=" + rt.Name,
	}
	if e.cfg.PolicyFile != "" {
		env = append(env, bootstrap.PolicyFileEnv+"="+e.cfg.PolicyFile)
	}
	if len(e.cfg.AllowedSyscalls) > 0 {
		env = append(env, isolation.AllowedSyscallsEnv+"="+strings.Join(e.cfg.AllowedSyscalls, ","))
	}

	switch {
	case e.cfg.Proxy.Socks5 != "":
		env = append(env,
			"HTTPS_PROXY="+e.cfg.Proxy.Socks5,
			"HTTP_PROXY="+e.cfg.Proxy.Socks5)
	default:
		if e.cfg.Proxy.HTTPS != "" {
			env = append(env, "HTTPS_PROXY="+e.cfg.Proxy.HTTPS)
		}
		if e.cfg.Proxy.HTTP != "" {
			env = append(env, "HTTP_PROXY="+e.cfg.Proxy.HTTP)
		}
	}
	return env
}

func (e *Executor) journal(lang, id string, elapsed time.Duration, result *Result) {
	if e.store == nil {
		return
	}
	err := e.store.RecordRun(context.Background(), &storage.Run{
		ID:              id,
		Language:        lang,
		ExitCode:        result.ExitCode,
		Duration:        elapsed,
		PolicyViolation: result.PolicyViolation,
		TimedOut:        result.TimedOut,
	})
	if err != nil {
		e.logger.Warn("failed to journal run", "run", id, "error", err)
	}
}
