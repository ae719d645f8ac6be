package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/kestrelmedia/reelforge/pkg/config"
	"github.com/kestrelmedia/reelforge/pkg/notify"
	"github.com/kestrelmedia/reelforge/pkg/taskstate"
)

// Scheduler decides which channels are currently eligible to have a task
// claimed from them: it has already applied round-robin fairness and
// consulted the rate/concurrency gates (pkg/scheduler, pkg/ratelimit).
// Queue only knows how to claim atomically; Scheduler knows who's allowed to.
type Scheduler interface {
	EligibleChannels(ctx context.Context) ([]string, error)
}

// StageExecutor runs exactly one pipeline stage for a claimed task and
// returns the status the task should advance to. Implemented by
// pkg/pipeline. Errors that StageExecutor classifies as transient are
// retried by the retry engine; permanent errors land the task on its
// stage's *_ERROR status.
type StageExecutor interface {
	RunStage(ctx context.Context, task *Task) (next taskstate.Status, err error)
}

// Worker is a single queue worker that polls for and processes one task at
// a time, one pipeline stage per poll cycle: short-tx claim here, the
// stage call in StageExecutor (gates acquired, no transaction held), then a
// short-tx finalize here again.
type Worker struct {
	id        string
	podID     string
	store     *Store
	scheduler Scheduler
	executor  StageExecutor
	cfg       *config.QueueConfig
	wake      <-chan struct{}
	registry  SessionRegistry
	sync       SyncEnqueuer
	gates      GateAutoApprover
	workspaces WorkspacePurger
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup

	mu             sync.RWMutex
	status         WorkerStatus
	currentTaskID  string
	tasksProcessed int
	lastActivity   time.Time
}

// SessionRegistry is the subset of WorkerPool used by Worker for
// in-flight-task registration (so an operator-triggered cancellation can
// reach the right goroutine).
type SessionRegistry interface {
	RegisterTask(taskID string, cancel context.CancelFunc)
	UnregisterTask(taskID string)
}

// SyncEnqueuer is implemented by pkg/planningsync.Store. Every committed
// finalize additionally enqueues an outbound status-sync job: fire-and-
// forget with respect to the pipeline, so a failure here is logged and
// swallowed rather than allowed to undo an already-committed transition.
type SyncEnqueuer interface {
	Enqueue(ctx context.Context, taskID, channelID, planningPageID string, payload map[string]any) error
}

// GateAutoApprover lets per-channel configuration auto-advance a task past
// a review gate it just reached, without waiting for external
// acknowledgement. Implemented by pkg/pipeline.Driver, which owns the
// channel registry this depends on.
type GateAutoApprover interface {
	AutoApprove(channelKey string, gate taskstate.Status) (next taskstate.Status, ok bool)
}

// WorkspacePurger deletes a task's per-task filesystem workspace. Implemented
// by pkg/workspace.Manager. Called once, synchronously, right after a
// PUBLISHED commit lands; the periodic retention sweep in pkg/cleanup is
// the safety net for a purge that fails or never runs (e.g. the process
// died between commit and purge).
type WorkspacePurger interface {
	Purge(channelID, taskID string) error
}

// NewWorker creates a new queue worker. wake may be nil (falls back to
// pure polling at cfg.PollInterval). sync, gates, and workspaces may be nil
// (no outbound sync / no auto-approve configured / no happy-path purge).
func NewWorker(id, podID string, store *Store, scheduler Scheduler, executor StageExecutor, cfg *config.QueueConfig, registry SessionRegistry, wake <-chan struct{}, sync SyncEnqueuer, gates GateAutoApprover, workspaces WorkspacePurger) *Worker {
	return &Worker{
		id:         id,
		podID:      podID,
		store:      store,
		scheduler:  scheduler,
		executor:   executor,
		cfg:        cfg,
		wake:       wake,
		registry:   registry,
		sync:       sync,
		gates:      gates,
		workspaces: workspaces,
		stopCh:     make(chan struct{}),
		status:     WorkerStatusIdle,
		lastActivity: time.Now(),
	}
}

// Start begins the worker polling loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for it to finish. Safe to call
// multiple times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Health returns the current worker health status.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:             w.id,
		Status:         string(w.status),
		CurrentTaskID:  w.currentTaskID,
		TasksProcessed: w.tasksProcessed,
		LastActivity:   w.lastActivity,
	}
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id, "pod_id", w.podID)
	log.Info("worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("worker shutting down")
			return
		case <-ctx.Done():
			log.Info("context cancelled, worker shutting down")
			return
		default:
			if err := w.pollAndProcess(ctx); err != nil {
				if errors.Is(err, ErrNoTasksAvailable) || errors.Is(err, ErrAtCapacity) {
					w.waitForWork()
					continue
				}
				log.Error("error processing task", "error", err)
				w.waitFixed(time.Second)
			}
		}
	}
}

// waitForWork blocks until the poll interval elapses, a NOTIFY wake-up
// arrives, or stop is signalled - whichever comes first. NOTIFY collapses
// the common-case latency from "up to PollInterval" to "immediate"; the
// timer remains a backstop for missed/coalesced notifications.
func (w *Worker) waitForWork() {
	timer := time.NewTimer(w.pollInterval())
	defer timer.Stop()
	select {
	case <-w.stopCh:
	case <-timer.C:
	case <-w.wake:
	}
}

func (w *Worker) waitFixed(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// pollAndProcess asks the scheduler which channels may claim right now,
// claims a task, and drives it through exactly one stage.
func (w *Worker) pollAndProcess(ctx context.Context) error {
	eligible, err := w.scheduler.EligibleChannels(ctx)
	if err != nil {
		return fmt.Errorf("checking eligible channels: %w", err)
	}
	if len(eligible) == 0 {
		return ErrAtCapacity
	}

	task, err := w.store.ClaimNext(ctx, eligible)
	if err != nil {
		return err
	}

	log := slog.With("task_id", task.ID, "channel_id", task.ChannelID, "worker_id", w.id)
	log.Info("task claimed", "status", task.Status)

	w.setStatus(WorkerStatusWorking, task.ID)
	defer w.setStatus(WorkerStatusIdle, "")

	stageCtx, cancel := context.WithTimeout(ctx, w.cfg.StageTimeout)
	if w.registry != nil {
		w.registry.RegisterTask(task.ID, cancel)
		defer w.registry.UnregisterTask(task.ID)
	}
	defer cancel()

	claimedAs := task.Status
	next, runErr := w.executor.RunStage(stageCtx, task)

	// RunStage may itself have advanced the task past a way-station status
	// (CLAIMED is the one case with no direct *_ERROR edge of its own: the
	// driver commits CLAIMED -> GENERATING_ASSETS as its own short
	// transaction before the external call, since only GENERATING_ASSETS has
	// an error edge to land on). task.Status reflects wherever the row
	// actually stands by the time RunStage returns; finalize must validate
	// from there, not from the status at claim time.
	from := task.Status

	// Finalize with a background context: stageCtx may already be
	// cancelled (timeout or operator cancellation), but a finalize that
	// does run (the non-cancellation branches below) must still be able to
	// land its write.
	finalizeCtx := context.Background()
	switch {
	case errors.Is(runErr, ErrHandledByExecutor):
		// The executor classified this failure as retryable and already
		// called ScheduleRetry itself (a different write shape than
		// Advance, carrying the backoff delay and attempt count); nothing
		// left to finalize here.
	case errors.Is(runErr, ErrStageCanceled):
		// stageCtx was canceled (shutdown or an operator CancelTask) before
		// the stage finished. This is not a stage failure: skip finalize
		// entirely and leave the task CLAIMED. The stale-claim reaper picks
		// it back up once the claim ages past StaleClaimThreshold.
		log.Info("stage canceled, leaving task claimed for reaper")
		return nil
	case runErr != nil:
		log.Error("stage execution failed", "error", runErr)
		if err := w.store.Advance(finalizeCtx, task.ID, from, next, runErr); err != nil {
			return fmt.Errorf("finalizing failed stage: %w", err)
		}
		w.enqueueSync(finalizeCtx, log, task, next, runErr)
	default:
		if task.PublishURL != nil {
			// The upload stage stamped PublishURL in place on success;
			// CompleteUpload is Advance plus that one extra column.
			if err := w.store.CompleteUpload(finalizeCtx, task.ID, from, next, *task.PublishURL); err != nil {
				return fmt.Errorf("finalizing stage: %w", err)
			}
		} else if err := w.store.Advance(finalizeCtx, task.ID, from, next, nil); err != nil {
			return fmt.Errorf("finalizing stage: %w", err)
		}
		w.enqueueSync(finalizeCtx, log, task, next, nil)

		if next == taskstate.Published && w.workspaces != nil {
			if err := w.workspaces.Purge(task.ChannelID, task.ID); err != nil {
				log.Warn("failed to purge workspace after publish", "error", err)
			}
		}

		if taskstate.IsReviewGate(next) && w.gates != nil {
			if approved, ok := w.gates.AutoApprove(task.ChannelKey, next); ok {
				if err := w.store.Advance(finalizeCtx, task.ID, next, approved, nil); err != nil {
					log.Warn("auto-approve gate advance failed", "gate", next, "error", err)
				} else {
					log.Info("gate auto-approved", "gate", next, "to", approved)
					w.enqueueSync(finalizeCtx, log, task, approved, nil)
					next = approved
				}
			}
		}
	}

	if err := notify.Notify(finalizeCtx, w.store.db, notify.ChannelTaskReady); err != nil {
		log.Warn("failed to NOTIFY task_ready", "error", err)
	}

	w.mu.Lock()
	w.tasksProcessed++
	w.mu.Unlock()

	log.Info("stage complete", "claimed_as", claimedAs, "from", from, "to", next)
	return nil
}

// enqueueSync records an outbound planning-store sync job for the status
// this finalize just committed to. Best-effort: sync is fire-and-forget, so
// a failure to even enqueue it is logged and otherwise ignored rather than
// unwinding the transition that already landed.
func (w *Worker) enqueueSync(ctx context.Context, log *slog.Logger, task *Task, newStatus taskstate.Status, stageErr error) {
	if w.sync == nil {
		return
	}
	payload := map[string]any{
		"status":      string(newStatus),
		"retry_count": task.RetryCount,
	}
	if stageErr != nil {
		payload["last_error"] = stageErr.Error()
	}
	if task.PublishURL != nil {
		payload["publish_url"] = *task.PublishURL
	}
	if err := w.sync.Enqueue(ctx, task.ID, task.ChannelID, task.PlanningPageID, payload); err != nil {
		log.Warn("failed to enqueue planning-store sync job", "error", err)
	}
}

// pollInterval returns the poll duration with jitter, never going below the
// configured polling floor.
func (w *Worker) pollInterval() time.Duration {
	base := w.cfg.PollInterval
	jitter := w.cfg.PollIntervalJitter
	if jitter <= 0 {
		return base
	}
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	return base - jitter + offset
}

func (w *Worker) setStatus(status WorkerStatus, taskID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentTaskID = taskID
	w.lastActivity = time.Now()
}
