// Package deps maintains the per-runtime dependency inventory.
//
// The inventory mirrors what is actually installed inside each runtime's
// sandbox environment. Snapshots are persisted so repeated listings do not
// shell out to the package manager every time.
package deps

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"sort"
	"time"

	"github.com/redbearlabs/sandbox/internal/config"
	"github.com/redbearlabs/sandbox/internal/storage"
)

// Manager queries and updates runtime dependencies.
type Manager struct {
	cfg    *config.Config
	store  storage.Store
	logger *slog.Logger

	// runCommand is swapped out in tests.
	runCommand func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewManager builds a dependency manager. store may be nil, in which case
// every listing queries the package manager directly.
func NewManager(cfg *config.Config, store storage.Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:    cfg,
		store:  store,
		logger: logger,
		runCommand: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).Output()
		},
	}
}

// List returns the dependency inventory for a language. A persisted
// snapshot younger than deps_update_interval is reused unless refresh is
// set.
func (m *Manager) List(ctx context.Context, lang string, refresh bool) (*storage.Snapshot, error) {
	if !refresh && m.store != nil {
		snap, err := m.store.GetSnapshot(ctx, lang)
		if err != nil {
			return nil, err
		}
		if snap != nil && time.Since(snap.RefreshedAt) < m.cfg.DepsUpdateInterval {
			return snap, nil
		}
	}
	return m.refresh(ctx, lang)
}

// Update installs packages into the runtime environment and refreshes the
// inventory.
func (m *Manager) Update(ctx context.Context, lang string, packages []string) (*storage.Snapshot, error) {
	if len(packages) > 0 {
		if err := m.install(ctx, lang, packages); err != nil {
			return nil, err
		}
	}
	return m.refresh(ctx, lang)
}

func (m *Manager) refresh(ctx context.Context, lang string) (*storage.Snapshot, error) {
	deps, err := m.query(ctx, lang)
	if err != nil {
		return nil, err
	}

	snap := &storage.Snapshot{
		Language:     lang,
		Dependencies: deps,
		RefreshedAt:  time.Now().UTC(),
	}
	if m.store != nil {
		if err := m.store.SaveSnapshot(ctx, snap); err != nil {
			m.logger.Warn("failed to persist dependency snapshot", "language", lang, "error", err)
		}
	}
	return snap, nil
}

func (m *Manager) query(ctx context.Context, lang string) ([]storage.Dependency, error) {
	rtcfg, err := m.cfg.Runtime(lang)
	if err != nil {
		return nil, err
	}

	switch lang {
	case "python3":
		out, err := m.runCommand(ctx, rtcfg.Path, "-m", "pip", "list", "--format=json")
		if err != nil {
			return nil, fmt.Errorf("listing python packages: %w", err)
		}
		return parsePipList(out)
	case "nodejs":
		out, err := m.runCommand(ctx, npmPath(rtcfg), "ls", "--json", "--depth=0")
		if err != nil {
			return nil, fmt.Errorf("listing node packages: %w", err)
		}
		return parseNpmList(out)
	default:
		return nil, fmt.Errorf("unsupported language: %s", lang)
	}
}

func (m *Manager) install(ctx context.Context, lang string, packages []string) error {
	rtcfg, err := m.cfg.Runtime(lang)
	if err != nil {
		return err
	}

	switch lang {
	case "python3":
		args := append([]string{"-m", "pip", "install"}, packages...)
		if _, err := m.runCommand(ctx, rtcfg.Path, args...); err != nil {
			return fmt.Errorf("installing python packages: %w", err)
		}
	case "nodejs":
		args := append([]string{"install"}, packages...)
		if _, err := m.runCommand(ctx, npmPath(rtcfg), args...); err != nil {
			return fmt.Errorf("installing node packages: %w", err)
		}
	default:
		return fmt.Errorf("unsupported language: %s", lang)
	}
	return nil
}

// npm lives next to the configured node binary.
func npmPath(rtcfg config.RuntimeConfig) string {
	return filepath.Join(filepath.Dir(rtcfg.Path), "npm")
}

func parsePipList(out []byte) ([]storage.Dependency, error) {
	var entries []struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	}
	if err := json.Unmarshal(out, &entries); err != nil {
		return nil, fmt.Errorf("parsing pip output: %w", err)
	}
	deps := make([]storage.Dependency, 0, len(entries))
	for _, e := range entries {
		deps = append(deps, storage.Dependency{Name: e.Name, Version: e.Version})
	}
	return deps, nil
}

func parseNpmList(out []byte) ([]storage.Dependency, error) {
	var tree struct {
		Dependencies map[string]struct {
			Version string `json:"version"`
		} `json:"dependencies"`
	}
	if err := json.Unmarshal(out, &tree); err != nil {
		return nil, fmt.Errorf("parsing npm output: %w", err)
	}
	deps := make([]storage.Dependency, 0, len(tree.Dependencies))
	for name, info := range tree.Dependencies {
		deps = append(deps, storage.Dependency{Name: name, Version: info.Version})
	}
	sort.Slice(deps, func(i, j int) bool { return deps[i].Name < deps[j].Name })
	return deps, nil
}
