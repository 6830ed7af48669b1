// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package store persists loop runs: a SQLite history of every run and
// iteration, JSON and YAML files per run, and a fan-out sink combining them.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/trial-engine/internal/loop"
	"github.com/pdiddy/trial-engine/pkg/types"
)

// ErrRunNotFound is returned when a run ID is not in the history.
var ErrRunNotFound = errors.New("run not found")

// timeLayout is fixed-width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore manages the run history database.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the history database at path and creates the
// schema if it does not exist.
func Open(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			name TEXT NOT NULL,
			source TEXT,
			status TEXT NOT NULL DEFAULT 'running',
			reason TEXT,
			iteration_count INTEGER NOT NULL DEFAULT 0,
			corrections INTEGER NOT NULL DEFAULT 0,
			best_iteration INTEGER,
			best_quality REAL,
			quality_trajectory TEXT,
			started_at TEXT NOT NULL,
			finished_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_name ON runs(kind, name)`,
		`CREATE TABLE IF NOT EXISTS iterations (
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			idx INTEGER NOT NULL,
			overall_quality REAL NOT NULL,
			completeness REAL NOT NULL,
			accuracy REAL NOT NULL,
			cross_reference REAL NOT NULL,
			data_consistency REAL NOT NULL,
			schema_compliance REAL NOT NULL,
			critical_issues INTEGER NOT NULL,
			artifact TEXT NOT NULL,
			validation TEXT NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (run_id, idx)
		)`,
		`CREATE TABLE IF NOT EXISTS best (
			run_id TEXT PRIMARY KEY REFERENCES runs(id) ON DELETE CASCADE,
			idx INTEGER NOT NULL,
			overall_quality REAL NOT NULL,
			artifact TEXT NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// Run is the sink for a single run. It implements loop.Sink and
// loop.Finisher.
type Run struct {
	ID    string
	store *SQLiteStore
}

// BeginRun records a new run and returns its sink.
func (s *SQLiteStore) BeginRun(ctx context.Context, kind types.Kind, name, source string) (*Run, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, kind, name, source, started_at) VALUES (?, ?, ?, ?, ?)`,
		id, string(kind), name, source, s.stamp(),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting run: %w", err)
	}
	return &Run{ID: id, store: s}, nil
}

// SaveIteration stores one scored iteration.
func (r *Run) SaveIteration(ctx context.Context, it types.Iteration) error {
	artifact, err := json.Marshal(it.Artifact)
	if err != nil {
		return fmt.Errorf("marshaling artifact: %w", err)
	}
	validation, err := json.Marshal(it.Validation)
	if err != nil {
		return fmt.Errorf("marshaling validation: %w", err)
	}
	m := it.Metrics
	_, err = r.store.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO iterations (run_id, idx, overall_quality, completeness, accuracy,
			cross_reference, data_consistency, schema_compliance, critical_issues, artifact, validation, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, it.Index, m.OverallQuality, m.Completeness, m.Accuracy,
		m.CrossReferenceConsistency, m.DataConsistency, m.SchemaCompliance, m.CriticalIssues,
		string(artifact), string(validation), it.Timestamp.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting iteration %d: %w", it.Index, err)
	}
	return nil
}

// SaveBest stores the selected iteration's artifact.
func (r *Run) SaveBest(ctx context.Context, it types.Iteration) error {
	artifact, err := json.Marshal(it.Artifact)
	if err != nil {
		return fmt.Errorf("marshaling artifact: %w", err)
	}
	_, err = r.store.db.ExecContext(ctx,
		`INSERT INTO best (run_id, idx, overall_quality, artifact) VALUES (?, ?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET idx=excluded.idx,
			overall_quality=excluded.overall_quality, artifact=excluded.artifact`,
		r.ID, it.Index, it.Metrics.OverallQuality, string(artifact),
	)
	if err != nil {
		return fmt.Errorf("upserting best: %w", err)
	}
	return nil
}

// Finish records the terminal state of the run.
func (r *Run) Finish(ctx context.Context, res loop.Result) error {
	trajectory, err := json.Marshal(res.QualityTrajectory)
	if err != nil {
		return fmt.Errorf("marshaling trajectory: %w", err)
	}
	var bestIdx sql.NullInt64
	var bestQuality sql.NullFloat64
	if res.Best != nil {
		bestIdx = sql.NullInt64{Int64: int64(res.Best.Index), Valid: true}
		bestQuality = sql.NullFloat64{Float64: res.Best.Metrics.OverallQuality, Valid: true}
	}

	_, err = r.store.db.ExecContext(ctx,
		`UPDATE runs SET status=?, reason=?, iteration_count=?, corrections=?,
			best_iteration=?, best_quality=?, quality_trajectory=?, finished_at=?
		 WHERE id=?`,
		string(res.Status), res.Reason, res.IterationCount, res.Corrections,
		bestIdx, bestQuality, string(trajectory), r.store.stamp(), r.ID,
	)
	if err != nil {
		return fmt.Errorf("updating run: %w", err)
	}
	return nil
}

func (s *SQLiteStore) stamp() string {
	return s.now().UTC().Format(timeLayout)
}

// RunRecord is one row of the run history.
type RunRecord struct {
	ID                string     `json:"id" yaml:"id"`
	Kind              types.Kind `json:"kind" yaml:"kind"`
	Name              string     `json:"name" yaml:"name"`
	Source            string     `json:"source,omitempty" yaml:"source,omitempty"`
	Status            string     `json:"status" yaml:"status"`
	Reason            string     `json:"reason,omitempty" yaml:"reason,omitempty"`
	IterationCount    int        `json:"iteration_count" yaml:"iteration_count"`
	Corrections       int        `json:"corrections" yaml:"corrections"`
	BestIteration     *int       `json:"best_iteration,omitempty" yaml:"best_iteration,omitempty"`
	BestQuality       *float64   `json:"best_quality,omitempty" yaml:"best_quality,omitempty"`
	QualityTrajectory []float64  `json:"quality_trajectory,omitempty" yaml:"quality_trajectory,omitempty"`
	StartedAt         time.Time  `json:"started_at" yaml:"started_at"`
	FinishedAt        *time.Time `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
}

// QueryOptions filters ListRuns.
type QueryOptions struct {
	Kind  types.Kind
	Name  string
	Limit int
}

const runColumns = `id, kind, name, source, status, reason, iteration_count, corrections,
	best_iteration, best_quality, quality_trajectory, started_at, finished_at`

// ListRuns returns runs newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, opts QueryOptions) ([]RunRecord, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE 1=1`
	var args []any
	if opts.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(opts.Kind))
	}
	if opts.Name != "" {
		query += ` AND name = ?`
		args = append(args, opts.Name)
	}
	query += ` ORDER BY started_at DESC, rowid DESC`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// GetRun returns one run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return rec, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (RunRecord, error) {
	var (
		rec                        RunRecord
		kind                       string
		source, reason, trajectory sql.NullString
		finished                   sql.NullString
		started                    string
		bestIdx                    sql.NullInt64
		bestQuality                sql.NullFloat64
	)
	err := row.Scan(&rec.ID, &kind, &rec.Name, &source, &rec.Status, &reason,
		&rec.IterationCount, &rec.Corrections, &bestIdx, &bestQuality, &trajectory, &started, &finished)
	if err != nil {
		return RunRecord{}, err
	}
	rec.Kind = types.Kind(kind)
	rec.Source = source.String
	rec.Reason = reason.String
	if bestIdx.Valid {
		v := int(bestIdx.Int64)
		rec.BestIteration = &v
	}
	if bestQuality.Valid {
		rec.BestQuality = types.Float(bestQuality.Float64)
	}
	if trajectory.Valid && trajectory.String != "" {
		if err := json.Unmarshal([]byte(trajectory.String), &rec.QualityTrajectory); err != nil {
			return RunRecord{}, fmt.Errorf("decoding trajectory of run %s: %w", rec.ID, err)
		}
	}
	rec.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
	if finished.Valid {
		if t, err := time.Parse(time.RFC3339Nano, finished.String); err == nil {
			rec.FinishedAt = &t
		}
	}
	return rec, nil
}

// Iterations returns the recorded iterations of a run in order.
func (s *SQLiteStore) Iterations(ctx context.Context, runID string) ([]types.Iteration, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT idx, overall_quality, completeness, accuracy, cross_reference, data_consistency,
			schema_compliance, critical_issues, artifact, validation, created_at
		 FROM iterations WHERE run_id = ? ORDER BY idx`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying iterations: %w", err)
	}
	defer rows.Close()

	var out []types.Iteration
	for rows.Next() {
		var (
			it                   types.Iteration
			artifact, validation string
			created              string
		)
		m := &it.Metrics
		if err := rows.Scan(&it.Index, &m.OverallQuality, &m.Completeness, &m.Accuracy,
			&m.CrossReferenceConsistency, &m.DataConsistency, &m.SchemaCompliance, &m.CriticalIssues,
			&artifact, &validation, &created); err != nil {
			return nil, fmt.Errorf("scanning iteration: %w", err)
		}
		if err := json.Unmarshal([]byte(artifact), &it.Artifact); err != nil {
			return nil, fmt.Errorf("decoding artifact of iteration %d: %w", it.Index, err)
		}
		if err := json.Unmarshal([]byte(validation), &it.Validation); err != nil {
			return nil, fmt.Errorf("decoding validation of iteration %d: %w", it.Index, err)
		}
		m.OverallStatus = it.Validation.Summary.OverallStatus
		it.Timestamp, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, it)
	}
	return out, rows.Err()
}

// Best returns the stored best artifact of a run, or ErrRunNotFound when
// the run has none.
func (s *SQLiteStore) Best(ctx context.Context, runID string) (types.Artifact, float64, error) {
	var artifact string
	var q float64
	err := s.db.QueryRowContext(ctx, `SELECT artifact, overall_quality FROM best WHERE run_id = ?`, runID).Scan(&artifact, &q)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, fmt.Errorf("%w: no best artifact for %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("querying best: %w", err)
	}
	var a types.Artifact
	if err := json.Unmarshal([]byte(artifact), &a); err != nil {
		return nil, 0, fmt.Errorf("decoding best artifact: %w", err)
	}
	return a, q, nil
}
