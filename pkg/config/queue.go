package config

import "time"

// QueueConfig contains queue and worker pool configuration. These values
// control how tasks are polled, claimed, and driven through pipeline
// stages.
type QueueConfig struct {
	// WorkerCount is the number of worker goroutines per replica/pod. Each
	// worker independently polls and processes tasks.
	WorkerCount int `yaml:"worker_count"`

	// PollInterval is the base interval for checking claimable tasks when
	// no NOTIFY wake-up arrives first.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PollIntervalJitter is the random jitter added to PollInterval.
	// Actual interval: PollInterval ± PollIntervalJitter.
	PollIntervalJitter time.Duration `yaml:"poll_interval_jitter"`

	// StageTimeout is an upper-bound safety ceiling applied to every
	// pipeline stage call regardless of which stage it is; the per-stage
	// timeouts (60s assets, 600s video, 120s audio, 120s sfx, 300s
	// assembly, 900s upload) are enforced inside pkg/pipeline/pkg/execstep
	// and always expire first. This ceiling exists so a stage that somehow
	// ignores its own timeout can't wedge a worker forever.
	StageTimeout time.Duration `yaml:"stage_timeout"`

	// GracefulShutdownTimeout is the shutdown grace period: once it elapses
	// the process exits regardless of whether in-flight stages have
	// reported idle. It is not meant to outlast StageTimeout - cancellation
	// propagates to in-flight stages immediately on shutdown, so they exit
	// well before this fires; it bounds stragglers, not normal draining.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`

	// StaleClaimSweepInterval is how often the reaper scans for tasks with
	// stale claims.
	StaleClaimSweepInterval time.Duration `yaml:"stale_claim_sweep_interval"`

	// StaleClaimThreshold is how old a task's claim can get before the
	// reaper recovers it: CLAIMED goes back to QUEUED; a mid-stage status
	// lands on its *_ERROR and is re-queued while retry attempts remain.
	StaleClaimThreshold time.Duration `yaml:"stale_claim_threshold"`
}

// DefaultQueueConfig returns the built-in queue defaults.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		WorkerCount:             5,
		PollInterval:            5 * time.Second,
		PollIntervalJitter:      1 * time.Second,
		StageTimeout:            20 * time.Minute,
		GracefulShutdownTimeout: 30 * time.Second,
		StaleClaimSweepInterval: 60 * time.Second,
		StaleClaimThreshold:     15 * time.Minute,
	}
}
