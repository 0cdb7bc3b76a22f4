package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/redbearlabs/sandbox/internal/storage"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements storage.Store backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at the given path and runs
// migrations. Use ":memory:" for an in-memory database (useful for
// testing).
func Open(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) RecordRun(ctx context.Context, r *storage.Run) error {
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, language, exit_code, duration_ms, policy_violation, timed_out, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Language, r.ExitCode, r.Duration.Milliseconds(),
		boolInt(r.PolicyViolation), boolInt(r.TimedOut),
		r.StartedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, opts storage.RunListOptions) ([]storage.Run, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, language, exit_code, duration_ms, policy_violation, timed_out, started_at FROM runs`
	var args []any

	if opts.Language != "" {
		query += ` WHERE language = ?`
		args = append(args, opts.Language)
	}

	query += ` ORDER BY started_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []storage.Run
	for rows.Next() {
		var (
			r          storage.Run
			durationMS int64
			violation  int
			timedOut   int
			started    string
		)
		if err := rows.Scan(&r.ID, &r.Language, &r.ExitCode, &durationMS, &violation, &timedOut, &started); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		r.Duration = time.Duration(durationMS) * time.Millisecond
		r.PolicyViolation = violation != 0
		r.TimedOut = timedOut != 0
		t, err := time.Parse(time.RFC3339, started)
		if err != nil {
			return nil, fmt.Errorf("parsing run started_at: %w", err)
		}
		r.StartedAt = t
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap *storage.Snapshot) error {
	if snap.RefreshedAt.IsZero() {
		snap.RefreshedAt = time.Now().UTC()
	}
	deps, err := json.Marshal(snap.Dependencies)
	if err != nil {
		return fmt.Errorf("encoding dependencies: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO dependency_snapshots (language, dependencies, refreshed_at)
		VALUES (?, ?, ?)
		ON CONFLICT(language) DO UPDATE SET
			dependencies = excluded.dependencies,
			refreshed_at = excluded.refreshed_at`,
		snap.Language, string(deps), snap.RefreshedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving snapshot: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSnapshot(ctx context.Context, lang string) (*storage.Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT language, dependencies, refreshed_at
		FROM dependency_snapshots WHERE language = ?`, lang)

	var (
		snap      storage.Snapshot
		deps      string
		refreshed string
	)
	if err := row.Scan(&snap.Language, &deps, &refreshed); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("querying snapshot: %w", err)
	}

	if err := json.Unmarshal([]byte(deps), &snap.Dependencies); err != nil {
		return nil, fmt.Errorf("decoding dependencies: %w", err)
	}
	t, err := time.Parse(time.RFC3339, refreshed)
	if err != nil {
		return nil, fmt.Errorf("parsing snapshot refreshed_at: %w", err)
	}
	snap.RefreshedAt = t
	return &snap, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
