package tracking

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// Store is a Sink backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the tracking database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure tracking directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tracking schema: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Path returns the database file.
func (s *Store) Path() string { return s.path }

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record stores the run, its metrics and its artifacts in one transaction.
func (s *Store) Record(ctx context.Context, r Run) (string, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin tracking tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, name, run_group, model, mode, seed, started_at, duration_ms, output_dir, config)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Name, r.Group, r.Model, r.Mode, r.Seed,
		r.StartedAt.UTC().Format(time.RFC3339Nano), r.Duration.Milliseconds(), r.OutputDir, r.Config,
	)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	names := make([]string, 0, len(r.Metrics))
	for name := range r.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, err := tx.ExecContext(ctx, `INSERT INTO metrics (run_id, name, value) VALUES (?, ?, ?)`, r.ID, name, r.Metrics[name]); err != nil {
			return "", fmt.Errorf("insert metric %s: %w", name, err)
		}
	}
	for i, a := range r.Artifacts {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO artifacts (run_id, position, kind, name, path, data) VALUES (?, ?, ?, ?, ?, ?)`,
			r.ID, i, a.Kind, a.Name, a.Path, a.Data,
		); err != nil {
			return "", fmt.Errorf("insert artifact %s: %w", a.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit tracking tx: %w", err)
	}
	return r.ID, nil
}

// Get loads a run with its metrics and its artifacts in recorded order.
func (s *Store) Get(ctx context.Context, id string) (*Run, error) {
	var (
		r          Run
		startedAt  string
		durationMS int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, run_group, model, mode, seed, started_at, duration_ms, output_dir, config
         FROM runs WHERE id = ?`, id,
	).Scan(&r.ID, &r.Name, &r.Group, &r.Model, &r.Mode, &r.Seed, &startedAt, &durationMS, &r.OutputDir, &r.Config)
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", id, err)
	}
	if r.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
		return nil, fmt.Errorf("parse run start: %w", err)
	}
	r.Duration = time.Duration(durationMS) * time.Millisecond

	rows, err := s.db.QueryContext(ctx, `SELECT name, value FROM metrics WHERE run_id = ? ORDER BY name`, id)
	if err != nil {
		return nil, fmt.Errorf("load metrics: %w", err)
	}
	r.Metrics = make(map[string]float64)
	for rows.Next() {
		var name string
		var v float64
		if err := rows.Scan(&name, &v); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan metric: %w", err)
		}
		r.Metrics[name] = v
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, `SELECT kind, name, path, data FROM artifacts WHERE run_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("load artifacts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var a Artifact
		if err := rows.Scan(&a.Kind, &a.Name, &a.Path, &a.Data); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		r.Artifacts = append(r.Artifacts, a)
	}
	return &r, rows.Err()
}

// ListGroup returns the IDs of a group's runs, oldest first.
func (s *Store) ListGroup(ctx context.Context, group string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM runs WHERE run_group = ? ORDER BY started_at, id`, group)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
