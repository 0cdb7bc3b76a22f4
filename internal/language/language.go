// Package language describes the payload runtimes the sandbox can launch.
package language

import (
	"fmt"
	"sort"
)

// Runtime is the launch description for one supported language.
type Runtime struct {
	// Name is the wire identifier (request "language" field).
	Name string
	// Ext is the payload source file extension.
	Ext string
	// Interpreter is the interpreter path as resolved inside the sandbox
	// root after chroot.
	Interpreter string
	// DefaultRoot is the sandbox root prepared for this runtime.
	DefaultRoot string
	// LibPaths are host paths copied into the root so the interpreter
	// works after chroot: shared libraries, TLS certs, tzdata.
	LibPaths []string
}

// Argv builds the payload argv executed after isolation.
func (r *Runtime) Argv(script string) []string {
	return []string{r.Interpreter, script}
}

var runtimes = map[string]*Runtime{
	"python3": {
		Name:        "python3",
		Ext:         ".py",
		Interpreter: "/usr/local/bin/python3",
		DefaultRoot: "/var/sandbox/sandbox-python",
		LibPaths: []string{
			"/usr/local/bin/python3",
			"/usr/local/lib/python3.12",
			"/usr/lib/python3",
			"/usr/lib/x86_64-linux-gnu",
			"/etc/ssl/certs/ca-certificates.crt",
			"/etc/nsswitch.conf",
			"/etc/hosts",
			"/etc/resolv.conf",
			"/etc/localtime",
			"/usr/share/zoneinfo",
			"/etc/timezone",
		},
	},
	"nodejs": {
		Name:        "nodejs",
		Ext:         ".js",
		Interpreter: "/usr/local/bin/node",
		DefaultRoot: "/var/sandbox/sandbox-nodejs",
		LibPaths: []string{
			"/usr/local/bin/node",
			"/usr/lib/x86_64-linux-gnu",
			"/etc/ssl/certs/ca-certificates.crt",
			"/etc/nsswitch.conf",
			"/etc/resolv.conf",
			"/etc/hosts",
		},
	},
}

// Lookup returns the runtime for a wire identifier.
func Lookup(name string) (*Runtime, error) {
	r, ok := runtimes[name]
	if !ok {
		return nil, fmt.Errorf("unsupported language: %s", name)
	}
	return r, nil
}

// Names lists the supported wire identifiers in stable order.
func Names() []string {
	names := make([]string, 0, len(runtimes))
	for name := range runtimes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
