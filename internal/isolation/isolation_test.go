package isolation

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func TestParseOptions(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Options
		wantErr bool
	}{
		{name: "network on", raw: `{"enable_network": true}`, want: Options{EnableNetwork: true}},
		{name: "network off", raw: `{"enable_network": false}`},
		{name: "empty object defaults off", raw: `{}`},
		{name: "unknown keys tolerated", raw: `{"enable_network": true, "max_memory": 42}`, want: Options{EnableNetwork: true}},
		{name: "malformed json", raw: `{enable_network`, wantErr: true},
		{name: "wrong type", raw: `{"enable_network": "yes"}`, wantErr: true},
		{name: "empty string", raw: ``, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseOptions(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseOptions(%q): expected error", tt.raw)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseOptions(%q): %v", tt.raw, err)
			}
			if got != tt.want {
				t.Errorf("ParseOptions(%q) = %+v, want %+v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestStatusString(t *testing.T) {
	if got := StatusOK.String(); got != "ok" {
		t.Errorf("StatusOK = %q", got)
	}
	if got := StatusSetuid.String(); got != "setuid failed" {
		t.Errorf("StatusSetuid = %q", got)
	}
	if got := Status(-42).String(); got != "status -42" {
		t.Errorf("unknown status = %q", got)
	}
}

func TestDefaultPolicyBaseline(t *testing.T) {
	p := DefaultPolicy("python3")

	for _, name := range []string{"read", "write", "execve", "exit_group", "getrandom"} {
		if !slices.Contains(p.Allow, name) {
			t.Errorf("baseline missing %q", name)
		}
	}
	if slices.Contains(p.Allow, "socket") {
		t.Error("socket must not be in the baseline allow class")
	}
	if !slices.Contains(p.Network, "socket") {
		t.Error("socket missing from the network class")
	}
	if !slices.Contains(p.Errno, "clone") {
		t.Error("clone missing from the errno class")
	}
}

func TestDefaultPolicyNodejs(t *testing.T) {
	p := DefaultPolicy("nodejs")
	for _, name := range []string{"eventfd2", "pipe2", "epoll_pwait"} {
		if !slices.Contains(p.Allow, name) {
			t.Errorf("nodejs allow class missing %q", name)
		}
	}

	// No duplicates from the merge.
	seen := map[string]bool{}
	for _, name := range p.Allow {
		if seen[name] {
			t.Errorf("duplicate allow entry %q", name)
		}
		seen[name] = true
	}
}

func TestAllowedNamesNetworkGate(t *testing.T) {
	p := DefaultPolicy("python3")

	closed := p.AllowedNames(false)
	if slices.Contains(closed, "connect") {
		t.Error("connect allowed with networking disabled")
	}

	open := p.AllowedNames(true)
	if !slices.Contains(open, "connect") {
		t.Error("connect missing with networking enabled")
	}
}

func TestLoadPolicy(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	data := "allow: [read, write, exit_group]\nnetwork: [socket]\nerrno: [clone]\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := LoadPolicy(path)
	if err != nil {
		t.Fatalf("LoadPolicy: %v", err)
	}
	if len(p.Allow) != 3 || p.Allow[0] != "read" {
		t.Errorf("allow = %v", p.Allow)
	}
}

func TestLoadPolicyRejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	if err := os.WriteFile(path, []byte("allow: [read]\ndeny: [write]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadPolicy(path); err == nil {
		t.Error("expected error for unknown field")
	}
}

func TestLoadPolicyRejectsEmptyAllow(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	if err := os.WriteFile(path, []byte("network: [socket]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadPolicy(path); err == nil {
		t.Error("expected error for empty allow list")
	}
}

func TestWithEnvOverride(t *testing.T) {
	t.Setenv(AllowedSyscallsEnv, "read, write ,exit_group")

	p := DefaultPolicy("python3").WithEnvOverride()
	want := []string{"read", "write", "exit_group"}
	if !slices.Equal(p.Allow, want) {
		t.Errorf("allow = %v, want %v", p.Allow, want)
	}

	// Errno and network classes are untouched by the override.
	if len(p.Errno) == 0 || len(p.Network) == 0 {
		t.Error("override must not clear the errno or network classes")
	}
}

func TestWithEnvOverrideEmpty(t *testing.T) {
	t.Setenv(AllowedSyscallsEnv, "")
	p := DefaultPolicy("python3").WithEnvOverride()
	if len(p.Allow) != len(baseAllow) {
		t.Error("empty override must keep the baseline")
	}
}
