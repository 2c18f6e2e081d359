// Package store persists runs, stage records, and the artifact index in
// Postgres.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/Y-Kanekoo/ai-shorts-factory/internal/pipeline"
)

type Store struct {
	DB *sql.DB
}

// NewWithDSN constructs the Store using an explicit Postgres DSN.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

// NewWithDB wraps an existing connection, used by tests.
func NewWithDB(db *sql.DB) *Store { return &Store{DB: db} }

// CreateRun inserts a new pending run and returns its id.
func (s *Store) CreateRun(ctx context.Context, topic string, keywords []string) (string, error) {
	if topic == "" {
		return "", fmt.Errorf("topic is required")
	}
	id := uuid.NewString()
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO runs (id, topic, keywords, status, created_at, updated_at)
VALUES ($1,$2,$3,$4,NOW(),NOW())`, id, topic, pq.Array(keywords), pipeline.RunPending)
	if err != nil {
		return "", err
	}
	return id, nil
}

// GetRun retrieves a run by id. The bool indicates whether it was found.
func (s *Store) GetRun(ctx context.Context, id string) (pipeline.Run, bool, error) {
	var (
		run      pipeline.Run
		keywords pq.StringArray
		stage    sql.NullString
		errMsg   sql.NullString
	)
	row := s.DB.QueryRowContext(ctx, `
SELECT id::text, topic, keywords, status, current_stage, error, created_at, updated_at
FROM runs WHERE id = $1`, id)
	if err := row.Scan(&run.ID, &run.Topic, &keywords, &run.Status, &stage, &errMsg, &run.CreatedAt, &run.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return pipeline.Run{}, false, nil
		}
		return pipeline.Run{}, false, err
	}
	run.Keywords = keywords
	run.CurrentStage = stage.String
	run.Error = errMsg.String
	return run, true, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]pipeline.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id::text, topic, keywords, status, current_stage, error, created_at, updated_at
FROM runs ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []pipeline.Run
	for rows.Next() {
		var (
			run      pipeline.Run
			keywords pq.StringArray
			stage    sql.NullString
			errMsg   sql.NullString
		)
		if err := rows.Scan(&run.ID, &run.Topic, &keywords, &run.Status, &stage, &errMsg, &run.CreatedAt, &run.UpdatedAt); err != nil {
			return nil, err
		}
		run.Keywords = keywords
		run.CurrentStage = stage.String
		run.Error = errMsg.String
		out = append(out, run)
	}
	return out, rows.Err()
}

// SetRunStatus updates a run's status and error message.
func (s *Store) SetRunStatus(ctx context.Context, id, status, errMsg string) error {
	_, err := s.DB.ExecContext(ctx, `
UPDATE runs SET status=$2, error=$3, updated_at=NOW() WHERE id=$1`, id, status, errMsg)
	return err
}

// SetCurrentStage records which stage the run is currently executing.
func (s *Store) SetCurrentStage(ctx context.Context, id, stage string) error {
	_, err := s.DB.ExecContext(ctx, `
UPDATE runs SET current_stage=$2, updated_at=NOW() WHERE id=$1`, id, stage)
	return err
}

// RequestCancel marks a run for cancellation at the next stage boundary.
func (s *Store) RequestCancel(ctx context.Context, id string) error {
	res, err := s.DB.ExecContext(ctx, `
UPDATE runs SET cancel_requested=TRUE, updated_at=NOW() WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", pipeline.ErrRunNotFound, id)
	}
	return nil
}

// CancelRequested reports whether cancellation has been requested for a run.
func (s *Store) CancelRequested(ctx context.Context, id string) (bool, error) {
	var cancelled bool
	err := s.DB.QueryRowContext(ctx, `SELECT cancel_requested FROM runs WHERE id=$1`, id).Scan(&cancelled)
	if err == sql.ErrNoRows {
		return false, fmt.Errorf("%w: %s", pipeline.ErrRunNotFound, id)
	}
	if err != nil {
		return false, err
	}
	return cancelled, nil
}

// UpsertStageRecord persists the metadata record for a run stage.
func (s *Store) UpsertStageRecord(ctx context.Context, rec pipeline.Record) error {
	if rec.RunID == "" || rec.Stage == "" {
		return fmt.Errorf("run_id and stage are required")
	}
	detailBytes, err := json.Marshal(rec.Detail)
	if err != nil {
		return fmt.Errorf("marshal record detail: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, `
INSERT INTO stage_records (run_id, stage, status, fingerprint, locations, degraded, detail, error, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW(),NOW())
ON CONFLICT (run_id, stage) DO UPDATE SET
  status      = EXCLUDED.status,
  fingerprint = EXCLUDED.fingerprint,
  locations   = EXCLUDED.locations,
  degraded    = EXCLUDED.degraded,
  detail      = EXCLUDED.detail,
  error       = EXCLUDED.error,
  updated_at  = NOW();
`, rec.RunID, rec.Stage, rec.Status, rec.Fingerprint, pq.Array(rec.Locations), rec.Degraded, detailBytes, rec.Error)
	return err
}

// GetStageRecord retrieves the record for a run stage. The bool indicates
// whether a record was found.
func (s *Store) GetStageRecord(ctx context.Context, runID, stage string) (pipeline.Record, bool, error) {
	var (
		rec         pipeline.Record
		locations   pq.StringArray
		detailBytes []byte
		errMsg      sql.NullString
	)
	row := s.DB.QueryRowContext(ctx, `
SELECT run_id::text, stage, status, fingerprint, locations, degraded, detail, error, created_at, updated_at
FROM stage_records WHERE run_id = $1 AND stage = $2`, runID, stage)
	if err := row.Scan(&rec.RunID, &rec.Stage, &rec.Status, &rec.Fingerprint, &locations, &rec.Degraded, &detailBytes, &errMsg, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return pipeline.Record{}, false, nil
		}
		return pipeline.Record{}, false, err
	}
	rec.Locations = locations
	rec.Error = errMsg.String
	if len(detailBytes) > 0 {
		var m map[string]interface{}
		_ = json.Unmarshal(detailBytes, &m)
		rec.Detail = m
	}
	return rec, true, nil
}

// ListStageRecords returns every stage record for a run.
func (s *Store) ListStageRecords(ctx context.Context, runID string) ([]pipeline.Record, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT run_id::text, stage, status, fingerprint, locations, degraded, detail, error, created_at, updated_at
FROM stage_records WHERE run_id = $1 ORDER BY created_at`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []pipeline.Record
	for rows.Next() {
		var (
			rec         pipeline.Record
			locations   pq.StringArray
			detailBytes []byte
			errMsg      sql.NullString
		)
		if err := rows.Scan(&rec.RunID, &rec.Stage, &rec.Status, &rec.Fingerprint, &locations, &rec.Degraded, &detailBytes, &errMsg, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		rec.Locations = locations
		rec.Error = errMsg.String
		if len(detailBytes) > 0 {
			var m map[string]interface{}
			_ = json.Unmarshal(detailBytes, &m)
			rec.Detail = m
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ResetStageRecords deletes the records for the given stages of a run so
// they can be recomputed.
func (s *Store) ResetStageRecords(ctx context.Context, runID string, stages []string) error {
	if len(stages) == 0 {
		return nil
	}
	_, err := s.DB.ExecContext(ctx, `
DELETE FROM stage_records WHERE run_id = $1 AND stage = ANY($2)`, runID, pq.Array(stages))
	return err
}

// IndexEntry is one row of the fingerprint→record artifact index.
type IndexEntry struct {
	Stage       string
	Fingerprint string
	Record      pipeline.Record
	CreatedAt   time.Time
	LastUsedAt  time.Time
}

// InsertArtifactIndex registers a completed artifact under its fingerprint.
// The first writer wins; the stored entry is returned either way.
func (s *Store) InsertArtifactIndex(ctx context.Context, stage, fingerprint string, rec pipeline.Record) (pipeline.Record, error) {
	if stage == "" || fingerprint == "" {
		return pipeline.Record{}, fmt.Errorf("stage and fingerprint are required")
	}
	recBytes, err := json.Marshal(rec)
	if err != nil {
		return pipeline.Record{}, fmt.Errorf("marshal index record: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, `
INSERT INTO artifact_index (stage, fingerprint, record, created_at, last_used_at)
VALUES ($1,$2,$3,NOW(),NOW())
ON CONFLICT (stage, fingerprint) DO NOTHING`, stage, fingerprint, recBytes)
	if err != nil {
		return pipeline.Record{}, err
	}
	entry, found, err := s.GetArtifactIndex(ctx, stage, fingerprint)
	if err != nil {
		return pipeline.Record{}, err
	}
	if !found {
		return rec, nil
	}
	return entry.Record, nil
}

// GetArtifactIndex looks up the index entry for a stage fingerprint.
func (s *Store) GetArtifactIndex(ctx context.Context, stage, fingerprint string) (IndexEntry, bool, error) {
	var (
		entry    IndexEntry
		recBytes []byte
	)
	row := s.DB.QueryRowContext(ctx, `
SELECT stage, fingerprint, record, created_at, last_used_at
FROM artifact_index WHERE stage = $1 AND fingerprint = $2`, stage, fingerprint)
	if err := row.Scan(&entry.Stage, &entry.Fingerprint, &recBytes, &entry.CreatedAt, &entry.LastUsedAt); err != nil {
		if err == sql.ErrNoRows {
			return IndexEntry{}, false, nil
		}
		return IndexEntry{}, false, err
	}
	if err := json.Unmarshal(recBytes, &entry.Record); err != nil {
		return IndexEntry{}, false, fmt.Errorf("decode index record: %w", err)
	}
	return entry, true, nil
}

// TouchArtifactIndex bumps the last-used timestamp for an entry.
func (s *Store) TouchArtifactIndex(ctx context.Context, stage, fingerprint string) error {
	_, err := s.DB.ExecContext(ctx, `
UPDATE artifact_index SET last_used_at=NOW() WHERE stage=$1 AND fingerprint=$2`, stage, fingerprint)
	return err
}

// DeleteArtifactIndex removes a single index entry.
func (s *Store) DeleteArtifactIndex(ctx context.Context, stage, fingerprint string) error {
	_, err := s.DB.ExecContext(ctx, `
DELETE FROM artifact_index WHERE stage=$1 AND fingerprint=$2`, stage, fingerprint)
	return err
}

// EvictArtifactIndex trims a stage's index to maxEntries, dropping the
// oldest entries first. It returns how many rows were removed.
func (s *Store) EvictArtifactIndex(ctx context.Context, stage string, maxEntries int) (int, error) {
	if maxEntries <= 0 {
		return 0, nil
	}
	res, err := s.DB.ExecContext(ctx, `
DELETE FROM artifact_index
WHERE stage = $1 AND fingerprint IN (
  SELECT fingerprint FROM artifact_index
  WHERE stage = $1
  ORDER BY created_at DESC
  OFFSET $2
)`, stage, maxEntries)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// ClaimIdempotency attempts to register a processed event. It returns false
// if the key already exists.
func (s *Store) ClaimIdempotency(ctx context.Context, scope, key string) (bool, error) {
	if scope == "" || key == "" {
		return false, fmt.Errorf("scope and key must be provided")
	}
	var inserted bool
	err := s.DB.QueryRowContext(ctx, `INSERT INTO idempotency_keys (scope, key) VALUES ($1,$2) ON CONFLICT DO NOTHING RETURNING true`, scope, key).Scan(&inserted)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return inserted, nil
}
