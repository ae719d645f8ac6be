package config

import (
	"fmt"
)

// Validator runs every structural check over a loaded Config before
// Initialize hands it to the rest of the process. Invalid configuration
// fails startup (exit code 1) rather than running with a partially-sane
// channel or queue setup.
type Validator struct {
	cfg *Config
}

// NewValidator wraps cfg in a Validator.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll runs every check, returning the first failure.
func (v *Validator) ValidateAll() error {
	if err := v.validateQueue(); err != nil {
		return err
	}
	if err := v.validateChannels(); err != nil {
		return err
	}
	if err := v.validateServiceCaps(); err != nil {
		return err
	}
	return nil
}

func (v *Validator) validateQueue() error {
	q := v.cfg.Queue
	if q == nil {
		return fmt.Errorf("%w: queue configuration is nil", ErrValidationFailed)
	}
	if q.WorkerCount < 1 || q.WorkerCount > 50 {
		return NewValidationError("queue", "queue", "worker_count",
			fmt.Errorf("worker_count must be between 1 and 50, got %d", q.WorkerCount))
	}
	if q.PollInterval <= 0 {
		return NewValidationError("queue", "queue", "poll_interval",
			fmt.Errorf("poll_interval must be positive"))
	}
	if q.PollIntervalJitter < 0 {
		return NewValidationError("queue", "queue", "poll_interval_jitter",
			fmt.Errorf("poll_interval_jitter must be non-negative"))
	}
	if q.PollIntervalJitter >= q.PollInterval {
		return NewValidationError("queue", "queue", "poll_interval_jitter",
			fmt.Errorf("poll_interval_jitter must be less than poll_interval"))
	}
	if q.StageTimeout <= 0 {
		return NewValidationError("queue", "queue", "stage_timeout",
			fmt.Errorf("stage_timeout must be positive"))
	}
	if q.GracefulShutdownTimeout <= 0 {
		return NewValidationError("queue", "queue", "graceful_shutdown_timeout",
			fmt.Errorf("graceful_shutdown_timeout must be positive"))
	}
	if q.StaleClaimSweepInterval <= 0 {
		return NewValidationError("queue", "queue", "stale_claim_sweep_interval",
			fmt.Errorf("stale_claim_sweep_interval must be positive"))
	}
	if q.StaleClaimThreshold <= 0 {
		return NewValidationError("queue", "queue", "stale_claim_threshold",
			fmt.Errorf("stale_claim_threshold must be positive"))
	}
	return nil
}

func (v *Validator) validateChannels() error {
	if v.cfg.Channels == nil {
		return fmt.Errorf("%w: channel registry is nil", ErrValidationFailed)
	}
	seenKeys := make(map[string]bool)
	for key, ch := range v.cfg.Channels.GetAll() {
		if key != ch.Key {
			return NewValidationError("channel", key, "key",
				fmt.Errorf("registry key %q does not match channel.key %q", key, ch.Key))
		}
		if ch.Key == "" {
			return NewValidationError("channel", key, "key", ErrMissingRequiredField)
		}
		if seenKeys[ch.Key] {
			return fmt.Errorf("%w: %s", ErrDuplicateChannelKey, ch.Key)
		}
		seenKeys[ch.Key] = true

		if ch.Name == "" {
			return NewValidationError("channel", ch.Key, "name", ErrMissingRequiredField)
		}
		if ch.MaxConcurrent < 0 {
			return NewValidationError("channel", ch.Key, "max_concurrent",
				fmt.Errorf("must be non-negative, got %d", ch.MaxConcurrent))
		}
		if ch.StorageStrategy != "" && ch.StorageStrategy != StorageInline && ch.StorageStrategy != StorageExternal {
			return NewValidationError("channel", ch.Key, "storage_strategy",
				fmt.Errorf("%w: %q (want %q or %q)", ErrInvalidValue, ch.StorageStrategy, StorageInline, StorageExternal))
		}
		if ch.PublishBinding.Target == "" {
			return NewValidationError("channel", ch.Key, "publish_binding.target", ErrMissingRequiredField)
		}
		if ch.PublishBinding.Service == "" {
			return NewValidationError("channel", ch.Key, "publish_binding.service", ErrMissingRequiredField)
		}
	}
	return nil
}

func (v *Validator) validateServiceCaps() error {
	for service, cap := range v.cfg.ServiceCaps {
		if cap.GlobalConcurrency <= 0 {
			return NewValidationError("service_caps", service, "global_concurrency",
				fmt.Errorf("must be positive, got %d", cap.GlobalConcurrency))
		}
		if cap.PerChannelRate <= 0 {
			return NewValidationError("service_caps", service, "per_channel_rate",
				fmt.Errorf("must be positive, got %d", cap.PerChannelRate))
		}
		if cap.PerChannelWindow <= 0 {
			return NewValidationError("service_caps", service, "per_channel_window",
				fmt.Errorf("must be positive"))
		}
	}
	return nil
}
