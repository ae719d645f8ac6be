// Package cleanup runs the background retention sweep: purging workspace
// directories orphaned by tasks that never reached PUBLISHED, and dropping
// abandoned sync_jobs rows. Task rows themselves are never touched here -
// terminal rows stay in place for audit.
package cleanup

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/kestrelmedia/reelforge/pkg/config"
	"github.com/kestrelmedia/reelforge/pkg/planningsync"
	"github.com/kestrelmedia/reelforge/pkg/queue"
	"github.com/kestrelmedia/reelforge/pkg/taskstate"
	"github.com/kestrelmedia/reelforge/pkg/workspace"
)

// TaskLookup is the subset of queue.Store the retention sweep needs: enough
// to tell whether an on-disk workspace's owning task is still active.
type TaskLookup interface {
	GetByID(ctx context.Context, taskID string) (*queue.Task, error)
}

// Service periodically enforces retention policies. All operations are
// idempotent and safe to run from multiple pods.
type Service struct {
	config    *config.RetentionConfig
	tasks     TaskLookup
	workspace *workspace.Manager
	syncJobs  *planningsync.Store

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service.
func NewService(cfg *config.RetentionConfig, tasks TaskLookup, ws *workspace.Manager, syncJobs *planningsync.Store) *Service {
	return &Service{config: cfg, tasks: tasks, workspace: ws, syncJobs: syncJobs}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("cleanup service started",
		"orphaned_workspace_ttl", s.config.OrphanedWorkspaceTTL,
		"sync_job_ttl", s.config.SyncJobTTL,
		"interval", s.config.CleanupInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runAll(ctx)

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Service) runAll(ctx context.Context) {
	s.purgeOrphanedWorkspaces(ctx)
	s.dropStaleSyncJobs(ctx)
}

// purgeOrphanedWorkspaces walks every on-disk task workspace and removes
// the ones older than the TTL whose task either no longer exists, is
// PUBLISHED (the happy path already purges these; this is a safety net for
// a purge that failed mid-transition), or is otherwise terminal.
func (s *Service) purgeOrphanedWorkspaces(ctx context.Context) {
	entries, err := s.workspace.Walk()
	if err != nil {
		slog.Error("retention: workspace walk failed", "error", err)
		return
	}

	cutoff := time.Now().Add(-s.config.OrphanedWorkspaceTTL)
	purged := 0
	for _, e := range entries {
		if e.ModTime.After(cutoff) {
			continue
		}

		task, err := s.tasks.GetByID(ctx, e.TaskID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			// Transient DB error: don't purge on an error we can't
			// attribute. A vanished row (shouldn't happen - task rows are
			// never deleted) falls through with a nil task: a workspace
			// with no owning task is unconditionally orphaned.
			continue
		}
		if task != nil && taskstate.IsActive(task.Status) {
			continue
		}

		if err := s.workspace.Handle(e.ChannelID, e.TaskID).Purge(); err != nil {
			slog.Error("retention: workspace purge failed", "task_id", e.TaskID, "error", err)
			continue
		}
		purged++
	}
	if purged > 0 {
		slog.Info("retention: purged orphaned workspaces", "count", purged)
	}
}

func (s *Service) dropStaleSyncJobs(ctx context.Context) {
	count, err := s.syncJobs.DropStale(ctx, s.config.SyncJobTTL)
	if err != nil {
		slog.Error("retention: sync job cleanup failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("retention: dropped stale sync jobs", "count", count)
	}
}
