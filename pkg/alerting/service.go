package alerting

import (
	"context"
	"log/slog"
)

// Service dispatches alerts to the configured webhook. Nil-safe: every
// method is a no-op when the service itself is nil, so callers can wire an
// unconditionally-constructed *Service even when ALERT_WEBHOOK is unset.
type Service struct {
	client *Client
	logger *slog.Logger
}

// NewService builds a Service posting to webhookURL. Returns nil if
// webhookURL is empty - alerting is optional; ALERT_WEBHOOK is not a
// required config field.
func NewService(webhookURL string) *Service {
	if webhookURL == "" {
		return nil
	}
	return &Service{
		client: NewClient(webhookURL),
		logger: slog.Default().With("component", "alerting"),
	}
}

// Emit posts alert, fail-open: delivery errors are logged, never returned,
// since a broken alert channel must never block pipeline progress.
func (s *Service) Emit(ctx context.Context, alert Alert) {
	if s == nil {
		return
	}
	if err := s.client.Post(ctx, alert); err != nil {
		s.logger.Error("failed to deliver alert",
			"reason", alert.Reason, "task_id", alert.TaskID, "error", err)
	}
}

// RetryExhausted emits a ReasonRetryExhausted alert for a stage that landed
// the task on a terminal *_ERROR status.
func (s *Service) RetryExhausted(ctx context.Context, taskID, channelID, stage, finalError string) {
	s.Emit(ctx, Alert{
		Reason:    ReasonRetryExhausted,
		TaskID:    taskID,
		ChannelID: channelID,
		Stage:     stage,
		Message:   finalError,
	})
}

// CredentialRefreshFailed emits a ReasonCredentialRefreshFailed alert.
func (s *Service) CredentialRefreshFailed(ctx context.Context, channelID, service, reason string) {
	s.Emit(ctx, Alert{
		Reason:    ReasonCredentialRefreshFailed,
		ChannelID: channelID,
		Stage:     service,
		Message:   reason,
	})
}

// StaleClaimRecovered emits a warning-level ReasonStaleClaimRecovered alert
// for a task the reaper found eligible to retry automatically.
func (s *Service) StaleClaimRecovered(ctx context.Context, taskID, channelID string) {
	s.Emit(ctx, Alert{
		Reason:    ReasonStaleClaimRecovered,
		TaskID:    taskID,
		ChannelID: channelID,
		Message:   "stale claim reaped and re-queued for retry",
	})
}
