package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kestrelmedia/reelforge/pkg/alerting"
	"github.com/kestrelmedia/reelforge/pkg/config"
)

// WorkerPool manages a pool of queue workers sharing one Store/Scheduler/
// StageExecutor, plus the stale-claim reaper background task.
type WorkerPool struct {
	podID     string
	store     *Store
	scheduler Scheduler
	executor  StageExecutor
	cfg       *config.QueueConfig
	wake       <-chan struct{}
	sync       SyncEnqueuer
	gates      GateAutoApprover
	workspaces WorkspacePurger
	workers    []*Worker
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup

	// Task cancel registry: task_id -> cancel function, for operator-
	// triggered cancellation of an in-flight stage.
	activeTasks map[string]context.CancelFunc
	mu          sync.RWMutex
	started     bool

	reap   reapState
	alerts *alerting.Service
}

// NewWorkerPool creates a new worker pool. wake may be nil (pure polling).
// alerts may be nil (alerting is optional; see alerting.NewService). sync,
// gates, and workspaces may be nil (no outbound planning-store sync / no
// auto-approve configured / no happy-path purge).
func NewWorkerPool(podID string, store *Store, scheduler Scheduler, executor StageExecutor, cfg *config.QueueConfig, wake <-chan struct{}, alerts *alerting.Service, sync SyncEnqueuer, gates GateAutoApprover, workspaces WorkspacePurger) *WorkerPool {
	return &WorkerPool{
		podID:       podID,
		store:       store,
		scheduler:   scheduler,
		executor:    executor,
		cfg:         cfg,
		wake:        wake,
		sync:        sync,
		gates:       gates,
		workspaces:  workspaces,
		workers:     make([]*Worker, 0, cfg.WorkerCount),
		stopCh:      make(chan struct{}),
		activeTasks: make(map[string]context.CancelFunc),
		alerts:      alerts,
	}
}

// Start spawns worker goroutines and the stale-claim reaper. Safe to call
// multiple times; subsequent calls are no-ops.
func (p *WorkerPool) Start(ctx context.Context) error {
	if p.started {
		slog.Warn("worker pool already started, ignoring duplicate Start call", "pod_id", p.podID)
		return nil
	}
	p.started = true

	slog.Info("starting worker pool", "pod_id", p.podID, "worker_count", p.cfg.WorkerCount)

	for i := 0; i < p.cfg.WorkerCount; i++ {
		workerID := fmt.Sprintf("%s-worker-%d", p.podID, i)
		worker := NewWorker(workerID, p.podID, p.store, p.scheduler, p.executor, p.cfg, p, p.wake, p.sync, p.gates, p.workspaces)
		p.workers = append(p.workers, worker)
		worker.Start(ctx)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runStaleClaimReaper(ctx)
	}()

	slog.Info("worker pool started")
	return nil
}

// Stop signals all workers to stop and waits up to timeout for them to
// finish. Workers finish their in-flight stage before exiting (graceful
// shutdown); once the caller's context is already canceled - the normal
// shutdown path, since Worker.Start was handed that same context - an
// in-flight execstep.Run returns ErrStageCanceled almost immediately rather
// than running to completion, so timeout is a backstop against a stage
// stuck somewhere that isn't ctx-aware, not the expected path.
func (p *WorkerPool) Stop(timeout time.Duration) {
	slog.Info("stopping worker pool gracefully", "timeout", timeout)

	active := p.getActiveTaskIDs()
	if len(active) > 0 {
		slog.Info("waiting for in-flight stages to complete", "count", len(active), "task_ids", active)
	}

	for _, worker := range p.workers {
		worker.Stop()
	}

	p.stopOnce.Do(func() { close(p.stopCh) })

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("worker pool stopped gracefully")
	case <-time.After(timeout):
		slog.Warn("worker pool stop timed out, exiting with in-flight stages still running", "timeout", timeout)
	}
}

// RegisterTask stores a cancel function for manual cancellation.
func (p *WorkerPool) RegisterTask(taskID string, cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.activeTasks[taskID] = cancel
}

// UnregisterTask removes the cancel function when the stage finishes.
func (p *WorkerPool) UnregisterTask(taskID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.activeTasks, taskID)
}

// CancelTask triggers context cancellation for a task on this pod. Returns
// true if the task was found and cancelled on this pod.
func (p *WorkerPool) CancelTask(taskID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if cancel, ok := p.activeTasks[taskID]; ok {
		cancel()
		return true
	}
	return false
}

// Health returns the current health status of the pool.
func (p *WorkerPool) Health(ctx context.Context) *PoolHealth {
	queueDepth, errQ := p.store.QueueDepth(ctx)
	if errQ != nil {
		slog.Error("failed to query queue depth for health check", "pod_id", p.podID, "error", errQ)
	}

	workerStats := make([]WorkerHealth, len(p.workers))
	activeWorkers := 0
	for i, worker := range p.workers {
		stats := worker.Health()
		workerStats[i] = stats
		if stats.Status == string(WorkerStatusWorking) {
			activeWorkers++
		}
	}

	dbHealthy := errQ == nil
	isHealthy := len(p.workers) > 0 && dbHealthy

	p.reap.mu.Lock()
	lastReapScan := p.reap.lastScan
	claimsReaped := p.reap.claimsReaped
	p.reap.mu.Unlock()

	var dbError string
	if !dbHealthy {
		dbError = fmt.Sprintf("queue depth query failed: %v", errQ)
	}

	return &PoolHealth{
		IsHealthy:     isHealthy,
		DBReachable:   dbHealthy,
		DBError:       dbError,
		PodID:         p.podID,
		ActiveWorkers: activeWorkers,
		TotalWorkers:  len(p.workers),
		QueueDepth:    queueDepth,
		WorkerStats:   workerStats,
		LastReapScan:  lastReapScan,
		ClaimsReaped:  claimsReaped,
	}
}

func (p *WorkerPool) getActiveTaskIDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.activeTasks))
	for id := range p.activeTasks {
		ids = append(ids, id)
	}
	return ids
}
