package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// reapState tracks stale-claim reaper metrics (thread-safe).
type reapState struct {
	mu           sync.Mutex
	lastScan     time.Time
	claimsReaped int
}

// runStaleClaimReaper periodically recovers tasks whose claim is older than
// StaleClaimThreshold: CLAIMED rows go back to QUEUED, and rows stuck mid-stage
// land on their *_ERROR status and are re-queued while retry attempts remain,
// otherwise left parked there. All replicas run this independently - the
// operation is idempotent, since each UPDATE is guarded on the status the
// row was read in.
func (p *WorkerPool) runStaleClaimReaper(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.StaleClaimSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			reaped, err := p.store.ReapStaleClaims(ctx, p.cfg.StaleClaimThreshold)
			if err != nil {
				slog.Error("stale claim reap failed", "error", err)
				continue
			}
			if len(reaped) > 0 {
				slog.Warn("reaped stale claims", "count", len(reaped))
			}
			for _, rc := range reaped {
				slog.Warn("reaped stale claim",
					"task_id", rc.TaskID, "channel_id", rc.ChannelID,
					"from", rc.From, "to", rc.To, "requeued", rc.Requeued)
				if p.alerts == nil {
					continue
				}
				if rc.Requeued {
					p.alerts.StaleClaimRecovered(ctx, rc.TaskID, rc.ChannelID)
				} else {
					p.alerts.RetryExhausted(ctx, rc.TaskID, rc.ChannelID, string(rc.From), "stale claim reaped: retry attempts exhausted")
				}
			}
			p.reap.mu.Lock()
			p.reap.lastScan = time.Now()
			p.reap.claimsReaped += len(reaped)
			p.reap.mu.Unlock()
		}
	}
}

// CleanupStartupOrphans performs a one-time sweep, at boot, of any task left
// CLAIMED by a crashed prior process. The tasks schema has no claimed_by/
// pod_id column (claim ownership isn't needed beyond the reaper itself), so
// unlike a pod-scoped query this reaps every stale claim past threshold, not
// just ones this pod previously owned. It exists purely to close the race
// between "process restarts" and the periodic reaper's first tick, which
// could otherwise take up to StaleClaimSweepInterval to fire.
func CleanupStartupOrphans(ctx context.Context, store *Store, threshold time.Duration) error {
	reaped, err := store.ReapStaleClaims(ctx, threshold)
	if err != nil {
		return fmt.Errorf("startup orphan cleanup: %w", err)
	}
	if len(reaped) == 0 {
		return nil
	}
	slog.Warn("recovered startup orphans from a previous run", "count", len(reaped))
	for _, rc := range reaped {
		slog.Info("startup orphan recovered",
			"task_id", rc.TaskID, "channel_id", rc.ChannelID, "from", rc.From, "to", rc.To)
	}
	return nil
}
