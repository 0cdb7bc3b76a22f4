// sandbox-runner is the confined launcher for untrusted payloads.
//
// Usage: sandbox-runner WORKDIR UID GID OPTIONS PROGRAM [ARG...]
//
// It enters WORKDIR, applies the isolation primitive with the given
// identity and options, then replaces itself with PROGRAM. It exits 125
// on argument or filesystem errors, 126 when isolation or the handoff
// fails; every other exit status belongs to the payload.
package main

import (
	"fmt"
	"os"

	"github.com/redbearlabs/sandbox/internal/bootstrap"
	"github.com/redbearlabs/sandbox/internal/isolation"
)

func main() {
	policy := isolation.DefaultPolicy(os.Getenv(bootstrap.RuntimeEnv))
	if path := os.Getenv(bootstrap.PolicyFileEnv); path != "" {
		p, err := isolation.LoadPolicy(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "sandbox-runner: %v\n", err)
			os.Exit(bootstrap.ExitSetup)
		}
		policy = p
	}

	code, err := bootstrap.Run(os.Args[1:], isolation.NewNative(policy), bootstrap.OS{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "sandbox-runner: %v\n", err)
	}
	os.Exit(code)
}
