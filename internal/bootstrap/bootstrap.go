// Package bootstrap implements the runner launch sequence.
//
// The bootstrap is the only code that runs with pre-sandbox privileges.
// Its sole job is to reach a confined state or terminate without ever
// executing an externally supplied instruction. The sequence is fixed:
// enter the working directory, parse the identity and options, apply the
// isolation primitive, then replace the process image with the payload.
// Handoff is by exec-replace, so no bootstrap state survives into the
// payload's address space.
package bootstrap

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/redbearlabs/sandbox/internal/isolation"
	"github.com/redbearlabs/sandbox/internal/payload"
)

// Exit codes reserved for the bootstrap itself. Everything else belongs to
// the payload, so a spawning host can tell setup failures from payload
// failures by the code alone.
const (
	// ExitSetup is returned for argument and filesystem failures, before
	// the isolation attempt.
	ExitSetup = 125
	// ExitIsolation is returned when the isolation primitive reports a
	// non-zero status, or when the handoff fails after confinement.
	ExitIsolation = 126
)

// Environment contract between the host executor and the runner process.
const (
	// PayloadKeyEnv carries the base64 per-run key used to decrypt staged
	// payload files. It is consumed and removed before the handoff.
	PayloadKeyEnv = "SANDBOX_PAYLOAD_KEY"
	// RuntimeEnv names the runtime whose default syscall policy applies.
	RuntimeEnv = "SANDBOX_RUNTIME"
	// PolicyFileEnv points at a syscall policy override file.
	PolicyFileEnv = "SANDBOX_POLICY_FILE"
)

// System is the set of process-level operations the bootstrap performs.
// It exists so tests can record call order and intercept the handoff.
type System interface {
	Chdir(dir string) error
	Environ() []string
	// Exec replaces the process image. It only returns on failure.
	Exec(argv0 string, argv []string, env []string) error
}

// Run executes the launch sequence. On success the call never returns:
// the process image has been replaced by the payload. On failure it
// returns the exit code the process must terminate with and the fatal
// error to report.
//
// argv is the positional contract: workdir, uid, gid, options JSON, then
// the payload argv (program path first).
func Run(argv []string, iso isolation.Isolator, sys System) (int, error) {
	if len(argv) < 5 {
		return ExitSetup, &ArgumentError{
			Arg:    "argv",
			Reason: fmt.Sprintf("want workdir, uid, gid, options and payload argv; got %d arguments", len(argv)),
		}
	}

	workdir := argv[0]
	if workdir == "" {
		return ExitSetup, &ArgumentError{Arg: "workdir", Reason: "empty path"}
	}
	if err := sys.Chdir(workdir); err != nil {
		return ExitSetup, &FilesystemError{Dir: workdir, Err: err}
	}

	uid, err := parseID("uid", argv[1])
	if err != nil {
		return ExitSetup, err
	}
	gid, err := parseID("gid", argv[2])
	if err != nil {
		return ExitSetup, err
	}
	opts, err := isolation.ParseOptions(argv[3])
	if err != nil {
		return ExitSetup, &ArgumentError{Arg: "options", Reason: err.Error()}
	}
	payloadArgv := argv[4:]

	if status := iso.Apply(uid, gid, opts.EnableNetwork); status != isolation.StatusOK {
		return ExitIsolation, &IsolationError{Code: status}
	}

	// The process is confined from here on. Anything that fails now still
	// must not run the payload, but it reports as a post-isolation error.
	env, err := preparePayload(payloadArgv, sys.Environ())
	if err != nil {
		return ExitIsolation, err
	}

	if err := sys.Exec(payloadArgv[0], payloadArgv, env); err != nil {
		return ExitIsolation, fmt.Errorf("exec %s: %w", payloadArgv[0], err)
	}
	return 0, nil
}

func parseID(name, raw string) (int, error) {
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, &ArgumentError{Arg: name, Reason: fmt.Sprintf("%q is not a non-negative integer", raw)}
	}
	return int(id), nil
}

// preparePayload decrypts staged payload files and scrubs launch secrets
// from the environment handed to the payload. It runs after confinement:
// plaintext only ever exists inside the sandbox.
func preparePayload(argv []string, env []string) ([]string, error) {
	encoded, env := takeEnv(env, PayloadKeyEnv)
	_, env = takeEnv(env, isolation.AllowedSyscallsEnv)

	if encoded == "" {
		return env, nil
	}

	key, err := payload.DecodeKey(encoded)
	if err != nil {
		return nil, err
	}
	defer payload.Zero(key)

	for _, arg := range argv {
		enc, err := os.ReadFile(arg + ".enc")
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading staged payload: %w", err)
		}
		plain, err := payload.Open(enc, key)
		if err != nil {
			return nil, err
		}
		if err := os.WriteFile(arg, plain, 0o400); err != nil {
			return nil, fmt.Errorf("writing payload: %w", err)
		}
		if err := os.Remove(arg + ".enc"); err != nil {
			return nil, fmt.Errorf("removing staged payload: %w", err)
		}
	}
	return env, nil
}

// takeEnv removes key from env and returns its value.
func takeEnv(env []string, key string) (string, []string) {
	prefix := key + "="
	value := ""
	out := env[:0]
	for _, kv := range env {
		if strings.HasPrefix(kv, prefix) {
			value = strings.TrimPrefix(kv, prefix)
			continue
		}
		out = append(out, kv)
	}
	return value, out
}
