package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultQueueConfig(t *testing.T) {
	cfg := DefaultQueueConfig()

	assert.Equal(t, 5, cfg.WorkerCount)
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.Equal(t, 1*time.Second, cfg.PollIntervalJitter)
	assert.Equal(t, 20*time.Minute, cfg.StageTimeout)
	assert.Equal(t, 30*time.Second, cfg.GracefulShutdownTimeout)
	assert.Equal(t, 60*time.Second, cfg.StaleClaimSweepInterval)
	assert.Equal(t, 15*time.Minute, cfg.StaleClaimThreshold)
}

func TestValidateQueue(t *testing.T) {
	tests := []struct {
		name    string
		queue   *QueueConfig
		wantErr bool
		errMsg  string
	}{
		{
			name:    "valid defaults",
			queue:   DefaultQueueConfig(),
			wantErr: false,
		},
		{
			name:    "nil queue",
			queue:   nil,
			wantErr: true,
			errMsg:  "queue configuration is nil",
		},
		{
			name: "worker count too low",
			queue: func() *QueueConfig {
				q := DefaultQueueConfig()
				q.WorkerCount = 0
				return q
			}(),
			wantErr: true,
			errMsg:  "worker_count must be between 1 and 50",
		},
		{
			name: "worker count too high",
			queue: func() *QueueConfig {
				q := DefaultQueueConfig()
				q.WorkerCount = 51
				return q
			}(),
			wantErr: true,
			errMsg:  "worker_count must be between 1 and 50",
		},
		{
			name: "poll interval zero",
			queue: func() *QueueConfig {
				q := DefaultQueueConfig()
				q.PollInterval = 0
				return q
			}(),
			wantErr: true,
			errMsg:  "poll_interval must be positive",
		},
		{
			name: "negative jitter",
			queue: func() *QueueConfig {
				q := DefaultQueueConfig()
				q.PollIntervalJitter = -1 * time.Second
				return q
			}(),
			wantErr: true,
			errMsg:  "poll_interval_jitter must be non-negative",
		},
		{
			name: "jitter equal to poll interval",
			queue: func() *QueueConfig {
				q := DefaultQueueConfig()
				q.PollInterval = 1 * time.Second
				q.PollIntervalJitter = 1 * time.Second
				return q
			}(),
			wantErr: true,
			errMsg:  "poll_interval_jitter must be less than poll_interval",
		},
		{
			name: "jitter slightly less than poll interval is valid",
			queue: func() *QueueConfig {
				q := DefaultQueueConfig()
				q.PollInterval = 1 * time.Second
				q.PollIntervalJitter = 999 * time.Millisecond
				return q
			}(),
			wantErr: false,
		},
		{
			name: "stage timeout zero",
			queue: func() *QueueConfig {
				q := DefaultQueueConfig()
				q.StageTimeout = 0
				return q
			}(),
			wantErr: true,
			errMsg:  "stage_timeout must be positive",
		},
		{
			name: "graceful shutdown timeout zero",
			queue: func() *QueueConfig {
				q := DefaultQueueConfig()
				q.GracefulShutdownTimeout = 0
				return q
			}(),
			wantErr: true,
			errMsg:  "graceful_shutdown_timeout must be positive",
		},
		{
			name: "stale claim sweep interval zero",
			queue: func() *QueueConfig {
				q := DefaultQueueConfig()
				q.StaleClaimSweepInterval = 0
				return q
			}(),
			wantErr: true,
			errMsg:  "stale_claim_sweep_interval must be positive",
		},
		{
			name: "stale claim threshold zero",
			queue: func() *QueueConfig {
				q := DefaultQueueConfig()
				q.StaleClaimThreshold = 0
				return q
			}(),
			wantErr: true,
			errMsg:  "stale_claim_threshold must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Queue: tt.queue}
			v := NewValidator(cfg)
			err := v.validateQueue()

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				require.NoError(t, err)
			}
		})
	}
}
