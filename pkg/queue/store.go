// Package queue implements the durable task queue: atomic claim with
// FOR UPDATE SKIP LOCKED, a worker pool that drives claimed tasks through
// one pipeline stage at a time, and a stale-claim reaper.
package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kestrelmedia/reelforge/pkg/notify"
	"github.com/kestrelmedia/reelforge/pkg/retry"
	"github.com/kestrelmedia/reelforge/pkg/taskstate"
)

// Sentinel errors for queue operations.
var (
	// ErrNoTasksAvailable indicates no claimable task exists right now.
	ErrNoTasksAvailable = errors.New("no tasks available")

	// ErrAtCapacity indicates the channel's (or global) concurrency cap has
	// been reached.
	ErrAtCapacity = errors.New("at capacity")

	// ErrDuplicateTask indicates a planning_page_id already names an
	// active (non-terminal) task; ingest must not create a second one.
	ErrDuplicateTask = errors.New("duplicate task")

	// ErrHandledByExecutor signals that StageExecutor.RunStage already
	// applied its own state change for this poll cycle (it classified the
	// failure as retryable and called ScheduleRetry itself, which writes a
	// different set of columns than Advance does) and the worker must not
	// also call Advance.
	ErrHandledByExecutor = errors.New("stage already finalized by executor")

	// ErrStageCanceled signals that RunStage's context was canceled (SIGTERM
	// during shutdown, or an operator-triggered WorkerPool.CancelTask)
	// before the stage finished, rather than the stage genuinely failing.
	// The worker must leave the task CLAIMED for the stale-claim reaper
	// instead of advancing it to a terminal *_ERROR status.
	ErrStageCanceled = errors.New("stage canceled")
)

// EnqueueInput carries the fields enqueue needs to create or re-queue a
// task.
type EnqueueInput struct {
	ID             string
	ChannelID      string
	ChannelKey     string
	PlanningPageID string
	Title          string
	Topic          string
	StoryDirection string
	Priority       string
}

// Task mirrors the tasks table (ent/schema/task.go). It is the unit the
// queue, scheduler, and pipeline driver all pass around.
type Task struct {
	ID             string
	ChannelID      string
	ChannelKey     string
	PlanningPageID string
	Title          string
	Topic          string
	StoryDirection string
	Status         taskstate.Status
	Priority       string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ClaimedAt      *time.Time
	RetryCount     int
	NextRetryAt    *time.Time
	LastError      *string
	PublishURL     *string
}

// Store wraps the hand-written task queries. It takes a *sql.DB (or, for a
// single transactional operation, a *sql.Tx via the *sql.Tx-shaped subset of
// methods below) rather than an ORM.
type Store struct {
	db *sql.DB
}

// NewStore wraps db in a Store.
func NewStore(db *sql.DB) *Store { return &Store{db: db} }

const taskColumns = `task_id, channel_id, channel_key, planning_page_id, title, topic,
	story_direction, status, priority, created_at, updated_at, claimed_at,
	retry_count, next_retry_at, last_error, publish_url`

func scanTask(row interface {
	Scan(dest ...any) error
}) (*Task, error) {
	var t Task
	var status string
	if err := row.Scan(
		&t.ID, &t.ChannelID, &t.ChannelKey, &t.PlanningPageID, &t.Title, &t.Topic,
		&t.StoryDirection, &status, &t.Priority, &t.CreatedAt, &t.UpdatedAt, &t.ClaimedAt,
		&t.RetryCount, &t.NextRetryAt, &t.LastError, &t.PublishURL,
	); err != nil {
		return nil, err
	}
	t.Status = taskstate.Status(status)
	return &t, nil
}

// Enqueue creates a new QUEUED task, or - if planning_page_id already names
// a task in a terminal status - re-queues that row in place, clearing
// last_error and resetting retry_count. If the existing row is ACTIVE, it
// returns ErrDuplicateTask: ingest must not create a second concurrent
// task for the same planning page.
func (s *Store) Enqueue(ctx context.Context, in EnqueueInput) (*Task, error) {
	priority := in.Priority
	if priority == "" {
		priority = "Normal"
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin enqueue tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		SELECT `+taskColumns+` FROM tasks WHERE planning_page_id = $1 FOR UPDATE
	`, in.PlanningPageID)

	existing, err := scanTask(row)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tasks (task_id, channel_id, channel_key, planning_page_id, title, topic,
				story_direction, status, priority, created_at, updated_at, retry_count)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now(), 0)
		`, in.ID, in.ChannelID, in.ChannelKey, in.PlanningPageID, in.Title, in.Topic,
			in.StoryDirection, string(taskstate.Queued), priority); err != nil {
			return nil, fmt.Errorf("insert task: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("query existing task: %w", err)
	default:
		if taskstate.IsActive(existing.Status) {
			return nil, fmt.Errorf("%w: planning_page_id %s is active (status %s)", ErrDuplicateTask, in.PlanningPageID, existing.Status)
		}
		if err := taskstate.Validate(existing.Status, taskstate.Queued); err != nil {
			return nil, fmt.Errorf("re-queue: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE tasks SET status = $1, title = $2, topic = $3, story_direction = $4,
				priority = $5, updated_at = now(), claimed_at = NULL, retry_count = 0,
				next_retry_at = NULL, last_error = NULL
			WHERE task_id = $6
		`, string(taskstate.Queued), in.Title, in.Topic, in.StoryDirection, priority, existing.ID); err != nil {
			return nil, fmt.Errorf("re-queue task: %w", err)
		}
		in.ID = existing.ID
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit enqueue: %w", err)
	}

	// Best-effort wake-up: idle workers still find the row on their next
	// poll if the NOTIFY is lost.
	_ = notify.Notify(ctx, s.db, notify.ChannelTaskReady)

	return s.GetByID(ctx, in.ID)
}

// GetByID fetches a single task by task_id.
func (s *Store) GetByID(ctx context.Context, taskID string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE task_id = $1`, taskID)
	return scanTask(row)
}

// claimEntryTarget names, for each status ClaimNext is willing to pick up,
// the status claiming it transitions to. QUEUED is the common case (one
// claim away from GENERATING_ASSETS, via the CLAIMED way-station, which
// stays a distinct observable status). The three
// "_APPROVED" statuses are continuation entry points: a human already
// approved the prior gate, and claiming them jumps straight to the next
// stage's in-progress status - there is no separate "claimed but not
// started" instant for these, because the transition table gives each of
// them exactly one legal next edge already.
var claimEntryTarget = map[taskstate.Status]taskstate.Status{
	taskstate.Queued:         taskstate.Claimed,
	taskstate.AssetsApproved: taskstate.GeneratingVideo,
	taskstate.VideoApproved:  taskstate.GeneratingAudio,
	taskstate.AudioApproved:  taskstate.GeneratingSFX,
}

// passthroughClaim names statuses ClaimNext picks up without changing: the
// row is already sitting at the status its own next stage call needs to run
// from, and claiming it only (re-)stamps claimed_at.
//
// ASSEMBLING and ASSEMBLED are the tail of the pipeline that runs three
// stages back to back (SFX, assembly, the hop into FINAL_REVIEW) with no
// review gate between them, unlike assets/video/audio which each get exactly
// one claim before landing on a gate. GENERATING_SFX itself needs no entry
// here: it is reached by claiming AUDIO_APPROVED, and the same poll cycle
// that performs that claim runs the SFX stage immediately afterward. UPLOADING
// is reached by a human approving FINAL_REVIEW directly (not by a worker),
// which clears claimed_at, so it needs its own claim before the upload call
// can run - the claimed_at IS NULL guard distinguishes "approved, not yet
// picked up" from "a worker is already driving this".
var passthroughClaim = map[taskstate.Status]bool{
	taskstate.Assembling: true,
	taskstate.Assembled:  true,
}

// ClaimNext atomically claims the next runnable task for one of the given
// channel IDs, trying each channel in turn (the order the scheduler already
// computed for round-robin fairness) and returning the first hit. Within a
// channel, candidates are queued/continuation-entry rows ordered by
// (priority, created_at), using SELECT ... FOR UPDATE SKIP LOCKED so
// concurrent workers never contend for the same row. channelIDs is supplied
// by the scheduler, which has already applied fairness and rate/concurrency
// gating to decide which channels are eligible to claim right now; an empty
// slice means no channel is currently eligible and ClaimNext returns
// ErrNoTasksAvailable without querying.
func (s *Store) ClaimNext(ctx context.Context, channelIDs []string) (*Task, error) {
	if len(channelIDs) == 0 {
		return nil, ErrNoTasksAvailable
	}

	for _, channelID := range channelIDs {
		task, err := s.claimOneFromChannel(ctx, channelID)
		if err == nil {
			return task, nil
		}
		if errors.Is(err, ErrNoTasksAvailable) {
			continue
		}
		return nil, err
	}
	return nil, ErrNoTasksAvailable
}

func (s *Store) claimOneFromChannel(ctx context.Context, channelID string) (*Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE channel_id = $1
		  AND (
		        (status = $2 AND (next_retry_at IS NULL OR next_retry_at <= now()))
		        OR status = ANY($3)
		        OR status = ANY($4)
		        OR (status = $5 AND claimed_at IS NULL)
		      )
		ORDER BY CASE priority WHEN 'High' THEN 0 WHEN 'Normal' THEN 1 ELSE 2 END,
		         created_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`, channelID, string(taskstate.Queued),
		[]string{string(taskstate.AssetsApproved), string(taskstate.VideoApproved), string(taskstate.AudioApproved)},
		[]string{string(taskstate.Assembling), string(taskstate.Assembled)},
		string(taskstate.Uploading))

	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoTasksAvailable
		}
		return nil, fmt.Errorf("query claimable task: %w", err)
	}

	now := time.Now()

	// UPLOADING-without-claimed_at and the ASSEMBLING/ASSEMBLED passthrough
	// entries are already in their target status; claiming them only needs
	// to stamp claimed_at, not a new transition.
	if task.Status == taskstate.Uploading || passthroughClaim[task.Status] {
		if _, err := tx.ExecContext(ctx, `
			UPDATE tasks SET claimed_at = $1, updated_at = $1 WHERE task_id = $2
		`, now, task.ID); err != nil {
			return nil, fmt.Errorf("claim passthrough task: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit claim: %w", err)
		}
		task.ClaimedAt = &now
		return task, nil
	}

	target, ok := claimEntryTarget[task.Status]
	if !ok {
		return nil, fmt.Errorf("claim: status %s is not a claimable entry point", task.Status)
	}
	if err := taskstate.Validate(task.Status, target); err != nil {
		return nil, fmt.Errorf("claim: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE tasks SET status = $1, claimed_at = $2, updated_at = $2 WHERE task_id = $3
	`, string(target), now, task.ID); err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}

	task.Status = target
	task.ClaimedAt = &now
	return task, nil
}

// Advance validates and applies a status transition in a short transaction,
// optionally clearing the claim and recording a terminal error. Called by
// the pipeline driver's finalize phase, never while holding a long-running
// external call open.
func (s *Store) Advance(ctx context.Context, taskID string, from, to taskstate.Status, lastErr error) error {
	if err := taskstate.Validate(from, to); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin advance tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var errMsg *string
	if lastErr != nil {
		msg := lastErr.Error()
		errMsg = &msg
	}

	// Leaving a review gate (a human approval) also drops the claim, so an
	// approved FINAL_REVIEW lands on UPLOADING with claimed_at NULL and is
	// picked up by ClaimNext.
	clearClaim := !taskstate.IsActive(to) || to == taskstate.Queued || taskstate.IsReviewGate(from)
	var res sql.Result
	if clearClaim {
		res, err = tx.ExecContext(ctx, `
			UPDATE tasks SET status = $1, updated_at = now(), claimed_at = NULL, last_error = $2
			WHERE task_id = $3 AND status = $4
		`, string(to), errMsg, taskID, string(from))
	} else {
		res, err = tx.ExecContext(ctx, `
			UPDATE tasks SET status = $1, updated_at = now(), last_error = $2
			WHERE task_id = $3 AND status = $4
		`, string(to), errMsg, taskID, string(from))
	}
	if err != nil {
		return fmt.Errorf("advance task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("advance task rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("advance task %s: expected status %s, row changed concurrently", taskID, from)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit advance: %w", err)
	}
	return nil
}

// CompleteUpload is Advance's counterpart for the one transition that also
// writes an artifact reference: the upload stage's success edge carries the
// publish_url the upload target handed back, alongside the ordinary status
// commit.
func (s *Store) CompleteUpload(ctx context.Context, taskID string, from, to taskstate.Status, publishURL string) error {
	if err := taskstate.Validate(from, to); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin complete-upload tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE tasks SET status = $1, updated_at = now(), claimed_at = NULL, last_error = NULL, publish_url = $2
		WHERE task_id = $3 AND status = $4
	`, string(to), publishURL, taskID, string(from))
	if err != nil {
		return fmt.Errorf("complete upload: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("complete upload rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("complete upload %s: expected status %s, row changed concurrently", taskID, from)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit complete upload: %w", err)
	}
	return nil
}

// ScheduleRetry requeues a task that just failed a transient stage call and
// is still under its retry attempt cap. from must be the task's current
// status - the re-queue edge from an in-progress stage's *_ERROR status back
// to QUEUED - and is validated through the same transition table Advance
// uses. Callers land the task on its *_ERROR status with Advance first, so
// that status is genuinely observable for this attempt, and only then call
// ScheduleRetry to send it back to QUEUED with a backoff delay and the
// attempt count recorded.
func (s *Store) ScheduleRetry(ctx context.Context, taskID string, from taskstate.Status, retryCount int, nextRetryAt time.Time, lastErr error) error {
	if err := taskstate.Validate(from, taskstate.Queued); err != nil {
		return err
	}

	var errMsg *string
	if lastErr != nil {
		msg := lastErr.Error()
		errMsg = &msg
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET status = $1, updated_at = now(), claimed_at = NULL,
		    retry_count = $2, next_retry_at = $3, last_error = $4
		WHERE task_id = $5 AND status = $6
	`, string(taskstate.Queued), retryCount, nextRetryAt, errMsg, taskID, string(from))
	if err != nil {
		return fmt.Errorf("schedule retry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("schedule retry %s: row changed concurrently", taskID)
	}
	return nil
}

// ReadyChannels returns the distinct channel IDs that currently have at
// least one claimable row (the same status/next_retry_at condition
// claimOneFromChannel uses), for the scheduler to build its fairness
// ordering from before spending a gate Peek on a channel with nothing to do.
func (s *Store) ReadyChannels(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT channel_id FROM tasks
		WHERE (status = $1 AND (next_retry_at IS NULL OR next_retry_at <= now()))
		   OR status = ANY($2)
		   OR (status = $3 AND claimed_at IS NULL)
	`, string(taskstate.Queued),
		[]string{
			string(taskstate.AssetsApproved), string(taskstate.VideoApproved), string(taskstate.AudioApproved),
			string(taskstate.Assembling), string(taskstate.Assembled),
		},
		string(taskstate.Uploading))
	if err != nil {
		return nil, fmt.Errorf("ready channels: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("ready channels: scan: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// PeekNext returns the task claimOneFromChannel would pick up next for
// channelID, without claiming it - a read-only lookup the scheduler uses to
// learn which external service the next claim would need, so it can Peek
// the matching rate/concurrency gate before committing to this channel for
// the round. Returns ErrNoTasksAvailable if nothing is claimable right now.
func (s *Store) PeekNext(ctx context.Context, channelID string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE channel_id = $1
		  AND (
		        (status = $2 AND (next_retry_at IS NULL OR next_retry_at <= now()))
		        OR status = ANY($3)
		        OR status = ANY($4)
		        OR (status = $5 AND claimed_at IS NULL)
		      )
		ORDER BY CASE priority WHEN 'High' THEN 0 WHEN 'Normal' THEN 1 ELSE 2 END,
		         created_at ASC
		LIMIT 1
	`, channelID, string(taskstate.Queued),
		[]string{string(taskstate.AssetsApproved), string(taskstate.VideoApproved), string(taskstate.AudioApproved)},
		[]string{string(taskstate.Assembling), string(taskstate.Assembled)},
		string(taskstate.Uploading))

	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoTasksAvailable
		}
		return nil, fmt.Errorf("peek claimable task: %w", err)
	}
	return task, nil
}

// ActiveCount returns how many tasks in channelID currently hold an ACTIVE
// status, used by the scheduler to enforce a channel's max_concurrent cap.
func (s *Store) ActiveCount(ctx context.Context, channelID string) (int, error) {
	active := make([]string, 0, len(taskstate.All))
	for _, st := range taskstate.All {
		if taskstate.IsActive(st) {
			active = append(active, string(st))
		}
	}
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*) FROM tasks WHERE channel_id = $1 AND status = ANY($2)
	`, channelID, active).Scan(&count)
	return count, err
}

// QueueDepth returns the number of QUEUED tasks across all channels.
func (s *Store) QueueDepth(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM tasks WHERE status = $1`, string(taskstate.Queued)).Scan(&count)
	return count, err
}

// ReapedClaim describes one task the stale-claim reaper acted on, for
// alerting/logging by the caller.
type ReapedClaim struct {
	TaskID     string
	ChannelID  string
	From       taskstate.Status // the stale in-progress status the row was found in
	To         taskstate.Status // where the row ended up: QUEUED, or a *_ERROR terminal if attempts are exhausted
	RetryCount int
	Requeued   bool // true if the row is eligible for automatic re-claim; false if parked for operator attention
}

// ReapStaleClaims recovers every task stuck with claimed_at older than
// threshold and no heartbeat. Stale-claim recovery is a transient failure
// like any other: a claimed-but-never-started row (CLAIMED) goes straight
// back to QUEUED, since nothing was attempted yet, while a row that was
// mid-stage lands on the stage's *_ERROR status first - making that status
// genuinely observable, same as an ordinary failed attempt - and then, if
// still under retry.MaxAttempts, is requeued with the usual backoff via
// ScheduleRetry. A row that has exhausted its attempts is left parked on
// *_ERROR for operator attention instead of being requeued. All replicas
// run this independently; each step's optimistic WHERE status = ... guard
// makes a double-reap a no-op rather than a double-effect.
func (s *Store) ReapStaleClaims(ctx context.Context, threshold time.Duration) ([]ReapedClaim, error) {
	cutoff := time.Now().Add(-threshold)

	var reaped []ReapedClaim
	reaped = append(reaped, s.reapClaimedOnly(ctx, cutoff)...)

	for from, errStatus := range reapStageError() {
		candidates, err := s.findStaleCandidates(ctx, from, cutoff)
		if err != nil {
			return reaped, fmt.Errorf("reap stale claims (%s): %w", from, err)
		}

		for _, c := range candidates {
			lastErr := fmt.Errorf("stale claim reaped: no heartbeat since claim at %s", c.claimedAt.Format(time.RFC3339))

			if err := s.Advance(ctx, c.taskID, from, errStatus, lastErr); err != nil {
				continue // already moved on (reaped by another replica, canceled, ...)
			}
			rc := ReapedClaim{TaskID: c.taskID, ChannelID: c.channelID, From: from, To: errStatus, RetryCount: c.retryCount}

			attempt := c.retryCount + 1
			if attempt >= retry.MaxAttempts {
				reaped = append(reaped, rc)
				continue
			}
			backoff, err := retry.NextBackoff(attempt)
			if err != nil {
				reaped = append(reaped, rc)
				continue
			}
			if err := s.ScheduleRetry(ctx, c.taskID, errStatus, attempt, time.Now().Add(backoff), lastErr); err != nil {
				reaped = append(reaped, rc)
				continue
			}
			rc.To, rc.RetryCount, rc.Requeued = taskstate.Queued, attempt, true
			reaped = append(reaped, rc)
		}
	}
	return reaped, nil
}

// reapClaimedOnly recovers rows stuck at CLAIMED: the worker died before
// ever starting GENERATING_ASSETS, so there is no external attempt to
// classify as a failure and nothing to park on a *_ERROR status - the row
// just goes straight back to QUEUED for a fresh claim.
func (s *Store) reapClaimedOnly(ctx context.Context, cutoff time.Time) []ReapedClaim {
	candidates, err := s.findStaleCandidates(ctx, taskstate.Claimed, cutoff)
	if err != nil {
		return nil
	}

	var reaped []ReapedClaim
	for _, c := range candidates {
		lastErr := fmt.Errorf("stale claim reaped: no heartbeat since claim at %s", c.claimedAt.Format(time.RFC3339))
		if err := s.Advance(ctx, c.taskID, taskstate.Claimed, taskstate.Queued, lastErr); err != nil {
			continue
		}
		reaped = append(reaped, ReapedClaim{
			TaskID: c.taskID, ChannelID: c.channelID,
			From: taskstate.Claimed, To: taskstate.Queued,
			RetryCount: c.retryCount, Requeued: true,
		})
	}
	return reaped
}

type staleCandidate struct {
	taskID, channelID string
	retryCount        int
	claimedAt         time.Time
}

func (s *Store) findStaleCandidates(ctx context.Context, status taskstate.Status, cutoff time.Time) ([]staleCandidate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, channel_id, retry_count, claimed_at FROM tasks
		WHERE status = $1 AND claimed_at IS NOT NULL AND claimed_at < $2
	`, string(status), cutoff)
	if err != nil {
		return nil, fmt.Errorf("find stale candidates: %w", err)
	}
	defer rows.Close()

	var out []staleCandidate
	for rows.Next() {
		var c staleCandidate
		if err := rows.Scan(&c.taskID, &c.channelID, &c.retryCount, &c.claimedAt); err != nil {
			return nil, fmt.Errorf("scan stale candidate: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func reapStageError() map[taskstate.Status]taskstate.Status {
	out := make(map[taskstate.Status]taskstate.Status)
	for _, st := range taskstate.All {
		if to, ok := taskstate.ErrorFor(st); ok {
			out[st] = to
		}
	}
	return out
}
