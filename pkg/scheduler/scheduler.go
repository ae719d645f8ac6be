// Package scheduler implements the fair, multi-tenant channel scheduler:
// on every worker poll, decide which channels may claim a task right now.
// Fairness is round-robin across channels with
// ready work (the channel whose most recent claim is oldest goes first);
// within that order, a channel is skipped for this round if it is already
// at its own concurrency cap or if the external service its next task
// needs has no headroom. It implements queue.Scheduler.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kestrelmedia/reelforge/pkg/channels"
	"github.com/kestrelmedia/reelforge/pkg/config"
	"github.com/kestrelmedia/reelforge/pkg/queue"
	"github.com/kestrelmedia/reelforge/pkg/ratelimit"
	"github.com/kestrelmedia/reelforge/pkg/taskstate"
)

// Store is the subset of *queue.Store the scheduler needs.
type Store interface {
	ReadyChannels(ctx context.Context) ([]string, error)
	PeekNext(ctx context.Context, channelID string) (*queue.Task, error)
	ActiveCount(ctx context.Context, channelID string) (int, error)
}

// Scheduler picks the ordered set of channels eligible to claim a task this
// poll cycle.
type Scheduler struct {
	store     Store
	dir       *channels.Directory
	registry  *config.ChannelRegistry
	rateGate  *ratelimit.Gate
	global    *ratelimit.GlobalConcurrency
	caps      map[string]config.ServiceCapConfig
	defaultMC int

	mu          sync.Mutex
	lastClaimed map[string]time.Time
}

// New builds a Scheduler. defaultMaxConcurrent is used for a channel whose
// config is missing MaxConcurrent (zero value).
func New(store Store, dir *channels.Directory, registry *config.ChannelRegistry, rateGate *ratelimit.Gate, global *ratelimit.GlobalConcurrency, caps map[string]config.ServiceCapConfig, defaultMaxConcurrent int) *Scheduler {
	return &Scheduler{
		store:       store,
		dir:         dir,
		registry:    registry,
		rateGate:    rateGate,
		global:      global,
		caps:        caps,
		defaultMC:   defaultMaxConcurrent,
		lastClaimed: make(map[string]time.Time),
	}
}

// stageService names the external service the next stage call for a row
// sitting in status will need, so the scheduler can Peek its gate before
// committing to the channel this round. Entry statuses whose next stage runs
// locally (the way-station statuses, and the zero-latency ASSEMBLED ->
// FINAL_REVIEW hop) have no service and are never gated here.
func stageService(status taskstate.Status) (string, bool) {
	switch status {
	case taskstate.Queued:
		return config.ServiceImage, true
	case taskstate.AssetsApproved:
		return config.ServiceVideo, true
	case taskstate.VideoApproved:
		return config.ServiceAudio, true
	case taskstate.AudioApproved:
		return config.ServiceSFX, true
	case taskstate.Uploading:
		return config.ServiceUpload, true
	default:
		// ASSEMBLING (SFX generation already ran) and ASSEMBLED (local
		// compositing already ran) continue with no external gate.
		return "", false
	}
}

// EligibleChannels implements queue.Scheduler.
func (s *Scheduler) EligibleChannels(ctx context.Context) ([]string, error) {
	ready, err := s.store.ReadyChannels(ctx)
	if err != nil {
		return nil, fmt.Errorf("scheduler: list ready channels: %w", err)
	}
	if len(ready) == 0 {
		return nil, nil
	}

	candidates := make([]string, 0, len(ready))
	for _, channelID := range ready {
		cfg, err := s.channelConfig(channelID)
		if err != nil || !cfg.IsActive() {
			continue
		}
		maxConcurrent := cfg.MaxConcurrent
		if maxConcurrent <= 0 {
			maxConcurrent = s.defaultMC
		}
		active, err := s.store.ActiveCount(ctx, channelID)
		if err != nil {
			return nil, fmt.Errorf("scheduler: active count for %s: %w", channelID, err)
		}
		if active >= maxConcurrent {
			continue
		}
		candidates = append(candidates, channelID)
	}

	s.mu.Lock()
	sort.SliceStable(candidates, func(i, j int) bool {
		ti, tj := s.lastClaimed[candidates[i]], s.lastClaimed[candidates[j]]
		if ti.Equal(tj) {
			return candidates[i] < candidates[j]
		}
		return ti.Before(tj)
	})
	s.mu.Unlock()

	eligible := make([]string, 0, len(candidates))
	claimedPick := false
	for _, channelID := range candidates {
		task, err := s.store.PeekNext(ctx, channelID)
		if err != nil {
			if errors.Is(err, queue.ErrNoTasksAvailable) {
				continue
			}
			return nil, fmt.Errorf("scheduler: peek next for %s: %w", channelID, err)
		}

		service, gated := stageService(task.Status)
		if gated {
			allowed, err := s.gateHasHeadroom(ctx, channelID, service)
			if err != nil {
				return nil, fmt.Errorf("scheduler: gate peek for %s/%s: %w", channelID, service, err)
			}
			if !allowed {
				continue
			}
		}

		eligible = append(eligible, channelID)
		if !claimedPick {
			s.mu.Lock()
			s.lastClaimed[channelID] = time.Now()
			s.mu.Unlock()
			claimedPick = true
		}
	}

	return eligible, nil
}

func (s *Scheduler) gateHasHeadroom(ctx context.Context, channelID, service string) (bool, error) {
	svcCap, ok := s.caps[service]
	if !ok {
		return true, nil
	}
	if svcCap.GlobalConcurrency > 0 {
		ok, err := s.global.Peek(ctx, service, svcCap.GlobalConcurrency)
		if err != nil || !ok {
			return false, err
		}
	}
	if svcCap.PerChannelRate > 0 {
		return s.rateGate.Peek(ctx, channelID, service, svcCap.PerChannelRate, svcCap.PerChannelWindow)
	}
	return true, nil
}

func (s *Scheduler) channelConfig(channelID string) (*config.ChannelConfig, error) {
	key, err := s.dir.ResolveKey(channelID)
	if err != nil {
		return nil, err
	}
	return s.registry.Get(key)
}
