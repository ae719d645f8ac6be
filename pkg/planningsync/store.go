// Package planningsync keeps the external planning store weakly
// consistent with task state: an outbound fire-and-forget sync queue and
// inbound HMAC-verified webhook ingest.
package planningsync

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNoJobsDue indicates no sync job is currently due for delivery.
var ErrNoJobsDue = errors.New("no sync jobs due")

// Job mirrors one row of the sync_jobs table: a single outbound status
// update destined for the planning store.
type Job struct {
	ID             string
	TaskID         string
	ChannelID      string
	PlanningPageID string
	Payload        map[string]any
	Attempts       int
	NextAttemptAt  time.Time
	LastError      *string
	CreatedAt      time.Time
}

// Store wraps the hand-written sync_jobs queries.
type Store struct {
	db *sql.DB
}

// NewStore wraps db in a Store.
func NewStore(db *sql.DB) *Store { return &Store{db: db} }

// Enqueue inserts a new outbound sync job. Called by the queue worker's
// finalize phase and the approve handler right after they commit a task's
// status transition -
// never inside the same transaction, since sync is fire-and-forget and must
// never block or fail pipeline progress.
func (s *Store) Enqueue(ctx context.Context, taskID, channelID, planningPageID string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal sync payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sync_jobs (sync_job_id, task_id, channel_id, planning_page_id, payload_json, attempts, next_attempt_at)
		VALUES ($1, $2, $3, $4, $5, 0, now())
	`, uuid.NewString(), taskID, channelID, planningPageID, body)
	if err != nil {
		return fmt.Errorf("enqueue sync job: %w", err)
	}
	return nil
}

const jobColumns = `sync_job_id, task_id, channel_id, planning_page_id, payload_json, attempts, next_attempt_at, last_error, created_at`

func scanJob(row interface{ Scan(dest ...any) error }) (*Job, error) {
	var j Job
	var body []byte
	if err := row.Scan(&j.ID, &j.TaskID, &j.ChannelID, &j.PlanningPageID, &body, &j.Attempts, &j.NextAttemptAt, &j.LastError, &j.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(body, &j.Payload); err != nil {
		return nil, fmt.Errorf("unmarshal sync payload: %w", err)
	}
	return &j, nil
}

// ClaimNextDue atomically claims (by deleting-on-success semantics handled
// by the caller) the oldest due sync job, using the same
// SELECT ... FOR UPDATE SKIP LOCKED idiom pkg/queue uses for tasks, so
// multiple sync workers across replicas never double-send the same update.
func (s *Store) ClaimNextDue(ctx context.Context) (*Job, *sql.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin claim sync job tx: %w", err)
	}

	row := tx.QueryRowContext(ctx, `
		SELECT `+jobColumns+`
		FROM sync_jobs
		WHERE next_attempt_at <= now()
		ORDER BY next_attempt_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`)

	job, err := scanJob(row)
	if err != nil {
		_ = tx.Rollback()
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, ErrNoJobsDue
		}
		return nil, nil, fmt.Errorf("query due sync job: %w", err)
	}
	return job, tx, nil
}

// Complete deletes a successfully-delivered sync job within the
// transaction ClaimNextDue opened, committing it.
func Complete(ctx context.Context, tx *sql.Tx, jobID string) error {
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM sync_jobs WHERE sync_job_id = $1`, jobID); err != nil {
		return fmt.Errorf("delete completed sync job: %w", err)
	}
	return tx.Commit()
}

// RescheduleOrDrop bumps attempts and schedules the next retry, or - once
// attempts has reached retry.MaxAttempts - deletes the row outright and
// reports dropped=true so the caller can log a SyncDropped warning. Runs in
// the transaction ClaimNextDue opened, committing it either way.
func RescheduleOrDrop(ctx context.Context, tx *sql.Tx, jobID string, attempts int, nextAttemptAt time.Time, lastErr error, maxAttempts int) (dropped bool, err error) {
	defer func() { _ = tx.Rollback() }()

	if attempts >= maxAttempts {
		if _, err := tx.ExecContext(ctx, `DELETE FROM sync_jobs WHERE sync_job_id = $1`, jobID); err != nil {
			return false, fmt.Errorf("drop exhausted sync job: %w", err)
		}
		return true, tx.Commit()
	}

	var msg *string
	if lastErr != nil {
		m := lastErr.Error()
		msg = &m
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE sync_jobs SET attempts = $1, next_attempt_at = $2, last_error = $3 WHERE sync_job_id = $4
	`, attempts, nextAttemptAt, msg, jobID); err != nil {
		return false, fmt.Errorf("reschedule sync job: %w", err)
	}
	return false, tx.Commit()
}

// AbortClaim rolls back an in-progress claim without mutating the row,
// used when the caller errors before deciding complete vs. reschedule.
func AbortClaim(tx *sql.Tx) {
	_ = tx.Rollback()
}

// DropStale deletes sync_jobs rows older than ttl regardless of attempts -
// a safety net for rows that stopped being picked up for some reason, run
// by the retention sweep (pkg/cleanup).
func (s *Store) DropStale(ctx context.Context, ttl time.Duration) (int, error) {
	cutoff := time.Now().Add(-ttl)
	res, err := s.db.ExecContext(ctx, `DELETE FROM sync_jobs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("drop stale sync jobs: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}
