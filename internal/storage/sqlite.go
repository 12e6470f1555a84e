// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package storage provides SQLite-backed persistence for finished runs and
// their recorded traces.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tombee/flowtrace/pkg/errors"
)

// RunStatus is the terminal status of a stored run.
type RunStatus string

const (
	// RunStatusCompleted marks a run whose flow finished without error.
	RunStatusCompleted RunStatus = "completed"
	// RunStatusFailed marks a run whose flow returned an error.
	RunStatusFailed RunStatus = "failed"
)

// RunRecord is one finished run: who ran, what happened, and the full
// serialized trace tree captured by the recorder.
type RunRecord struct {
	RunID     string    `json:"run_id"`
	Flow      string    `json:"flow"`
	Status    RunStatus `json:"status"`
	Error     string    `json:"error,omitempty"`
	Traces    []any     `json:"traces"`
	CreatedAt time.Time `json:"created_at"`
}

// SQLiteStore provides SQLite-backed storage for run records.
type SQLiteStore struct {
	db *sql.DB
}

// Config contains SQLite storage configuration.
type Config struct {
	// Path is the filesystem path to the SQLite database file.
	// Special value ":memory:" creates an in-memory database.
	Path string

	// MaxOpenConns sets the maximum number of open connections.
	MaxOpenConns int
}

// New creates a new SQLite storage backend.
func New(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, &errors.ConfigError{Key: "db.path", Reason: "database path is required"}
	}

	// SQLite connection string with WAL mode for better concurrency
	connStr := cfg.Path
	if cfg.Path != ":memory:" {
		connStr += "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// With WAL mode, SQLite can handle multiple readers concurrently
	maxConns := cfg.MaxOpenConns
	if maxConns == 0 {
		maxConns = 5
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// migrate creates the database schema.
func (s *SQLiteStore) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			flow TEXT NOT NULL,
			status TEXT NOT NULL,
			error TEXT,
			traces TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		// Index for listing a flow's runs
		`CREATE INDEX IF NOT EXISTS idx_runs_flow ON runs(flow)`,
		// Index for time-based queries and retention
		`CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// SaveRun stores a finished run. Saving the same run id twice replaces the
// stored record.
func (s *SQLiteStore) SaveRun(ctx context.Context, record *RunRecord) error {
	if record == nil {
		return fmt.Errorf("run record is nil")
	}
	if record.RunID == "" {
		return fmt.Errorf("run_id is required")
	}
	if record.Flow == "" {
		return fmt.Errorf("flow is required")
	}

	tracesJSON, err := json.Marshal(record.Traces)
	if err != nil {
		return fmt.Errorf("failed to marshal traces: %w", err)
	}

	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := `
		INSERT INTO runs (run_id, flow, status, error, traces, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			flow = excluded.flow,
			status = excluded.status,
			error = excluded.error,
			traces = excluded.traces
	`
	_, err = s.db.ExecContext(ctx, query,
		record.RunID, record.Flow, string(record.Status), record.Error,
		tracesJSON, createdAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to store run: %w", err)
	}
	return nil
}

// GetRun retrieves a stored run by id.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	query := `
		SELECT run_id, flow, status, error, traces, created_at
		FROM runs WHERE run_id = ?
	`
	row := s.db.QueryRowContext(ctx, query, runID)

	var record RunRecord
	var status, errMsg string
	var tracesJSON []byte
	var createdAt int64
	err := row.Scan(&record.RunID, &record.Flow, &status, &errMsg, &tracesJSON, &createdAt)
	if err == sql.ErrNoRows {
		return nil, &errors.NotFoundError{Resource: "run", ID: runID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read run: %w", err)
	}

	record.Status = RunStatus(status)
	record.Error = errMsg
	record.CreatedAt = time.Unix(0, createdAt)
	if err := json.Unmarshal(tracesJSON, &record.Traces); err != nil {
		return nil, fmt.Errorf("failed to unmarshal traces: %w", err)
	}
	return &record, nil
}

// RunFilter narrows ListRuns results.
type RunFilter struct {
	// Flow limits results to runs of a single flow. Empty matches all.
	Flow string

	// Limit caps the number of results; 0 means a default of 50.
	Limit int
}

// ListRuns returns stored runs, newest first. Trace trees are not loaded;
// use GetRun for the full record.
func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]*RunRecord, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT run_id, flow, status, error, created_at
		FROM runs
	`
	args := []interface{}{}
	if filter.Flow != "" {
		query += ` WHERE flow = ?`
		args = append(args, filter.Flow)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var records []*RunRecord
	for rows.Next() {
		var record RunRecord
		var status, errMsg string
		var createdAt int64
		if err := rows.Scan(&record.RunID, &record.Flow, &status, &errMsg, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		record.Status = RunStatus(status)
		record.Error = errMsg
		record.CreatedAt = time.Unix(0, createdAt)
		records = append(records, &record)
	}
	return records, rows.Err()
}

// DeleteRunsOlderThan removes runs created before the given time and
// returns how many were deleted.
func (s *SQLiteStore) DeleteRunsOlderThan(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE created_at < ?`, before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to delete runs: %w", err)
	}
	return result.RowsAffected()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
