// Package alerting posts actionable failure notifications to a single
// outbound webhook, generalized from a Slack-specific notifier into a
// plain webhook payload any on-call tool can subscribe to.
package alerting

import "time"

// Reason names why an alert fired. Alerts fire for exactly these three
// triggers - everything else is structured logging only.
type Reason string

const (
	// ReasonRetryExhausted fires when a stage exhausts every retry attempt
	// and the task lands on a terminal *_ERROR status.
	ReasonRetryExhausted Reason = "retry_exhausted"

	// ReasonCredentialRefreshFailed fires when pkg/credentials cannot
	// refresh an expired token and the stage is treated as a
	// PermanentStageFailure.
	ReasonCredentialRefreshFailed Reason = "credential_refresh_failed"

	// ReasonStaleClaimRecovered fires as a warning when the stale-claim
	// reaper recovers an orphaned CLAIMED task.
	ReasonStaleClaimRecovered Reason = "stale_claim_recovered"
)

// Alert is the actionable payload posted to the webhook: task id, final
// error, and a link back to wherever an operator would look next.
type Alert struct {
	Reason    Reason            `json:"reason"`
	TaskID    string            `json:"task_id"`
	ChannelID string            `json:"channel_id"`
	Stage     string            `json:"stage,omitempty"`
	Message   string            `json:"message"`
	Links     map[string]string `json:"links,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}
