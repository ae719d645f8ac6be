package planningsync

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/kestrelmedia/reelforge/pkg/config"
	"github.com/kestrelmedia/reelforge/pkg/ratelimit"
	"github.com/kestrelmedia/reelforge/pkg/retry"
)

// Pool drains the outbound sync_jobs queue with a small pool of workers,
// the same "poll, claim, act, finalize" shape pkg/queue uses for tasks, but
// gated only by the planning-store rate limit rather than the scheduler:
// sync is fire-and-forget with respect to pipeline progress.
type Pool struct {
	store  *Store
	client *Client
	gate   *ratelimit.Gate
	cap    config.ServiceCapConfig

	pollInterval time.Duration
	workers      int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPool builds a sync worker pool. workers mirrors QueueConfig.WorkerCount
// in spirit but is deliberately small (outbound sync is cheap and best-effort).
func NewPool(store *Store, client *Client, gate *ratelimit.Gate, cap config.ServiceCapConfig, workers int, pollInterval time.Duration) *Pool {
	return &Pool{
		store:        store,
		client:       client,
		gate:         gate,
		cap:          cap,
		workers:      workers,
		pollInterval: pollInterval,
	}
}

// Start launches the worker goroutines.
func (p *Pool) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
}

// Stop signals every worker to exit and waits for them to finish.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

func (p *Pool) run(ctx context.Context, id int) {
	defer p.wg.Done()
	log := slog.With("component", "planningsync", "worker", id)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := p.processOne(ctx); err != nil {
			if errors.Is(err, ErrNoJobsDue) {
				select {
				case <-ctx.Done():
					return
				case <-time.After(p.pollInterval):
				}
				continue
			}
			log.Error("sync job processing error", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}
	}
}

func (p *Pool) processOne(ctx context.Context) error {
	job, tx, err := p.store.ClaimNextDue(ctx)
	if err != nil {
		return err
	}

	allowed, err := p.gate.TryAcquire(ctx, job.ChannelID, config.ServicePlanningStore, p.cap.PerChannelRate, p.cap.PerChannelWindow)
	if err != nil {
		AbortClaim(tx)
		return err
	}
	if !allowed {
		AbortClaim(tx)
		return nil
	}

	log := slog.With("component", "planningsync", "task_id", job.TaskID, "channel_id", job.ChannelID, "planning_page_id", job.PlanningPageID)

	sendErr := p.client.UpdateStatus(ctx, job.PlanningPageID, job.Payload)
	if sendErr == nil {
		if err := Complete(ctx, tx, job.ID); err != nil {
			return err
		}
		log.Debug("sync delivered")
		return nil
	}

	if !retry.Classify(sendErr) {
		log.Error("sync permanently failed, dropping", "error", sendErr)
		_, err := RescheduleOrDrop(ctx, tx, job.ID, retry.MaxAttempts, time.Time{}, sendErr, retry.MaxAttempts)
		return err
	}

	attempts := job.Attempts + 1
	delay, berr := retry.NextBackoff(attempts)
	if berr != nil {
		delay = time.Minute
	}
	dropped, err := RescheduleOrDrop(ctx, tx, job.ID, attempts, time.Now().Add(delay), sendErr, retry.MaxAttempts)
	if err != nil {
		return err
	}
	if dropped {
		log.Warn("sync dropped after exhausting retries", "attempts", attempts, "error", sendErr)
	} else {
		log.Warn("sync attempt failed, rescheduled", "attempts", attempts, "next_attempt_in", delay, "error", sendErr)
	}
	return nil
}
