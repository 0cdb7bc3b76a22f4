package storage

import (
	"context"
	"time"
)

// Run is the journal record of one sandboxed execution.
type Run struct {
	ID              string        `json:"id"`
	Language        string        `json:"language"`
	ExitCode        int           `json:"exit_code"`
	Duration        time.Duration `json:"duration"`
	PolicyViolation bool          `json:"policy_violation"`
	TimedOut        bool          `json:"timed_out"`
	StartedAt       time.Time     `json:"started_at"`
}

// Dependency is one installed package inside a runtime root.
type Dependency struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Snapshot is the dependency inventory of a runtime at a point in time.
type Snapshot struct {
	Language     string       `json:"language"`
	Dependencies []Dependency `json:"dependencies"`
	RefreshedAt  time.Time    `json:"refreshed_at"`
}

// RunListOptions controls filtering and pagination for ListRuns.
type RunListOptions struct {
	Language string
	Limit    int
	Offset   int
}

// Store is the persistence interface for the run journal and the
// dependency inventory.
type Store interface {
	// RecordRun appends a run to the journal. The ID field must be set by
	// the caller.
	RecordRun(ctx context.Context, r *Run) error

	// ListRuns returns journal entries ordered by started_at descending.
	ListRuns(ctx context.Context, opts RunListOptions) ([]Run, error)

	// SaveSnapshot replaces the dependency inventory for a language.
	SaveSnapshot(ctx context.Context, s *Snapshot) error

	// GetSnapshot returns the saved inventory for a language, or nil when
	// none exists.
	GetSnapshot(ctx context.Context, lang string) (*Snapshot, error)

	// Close releases resources.
	Close() error
}
