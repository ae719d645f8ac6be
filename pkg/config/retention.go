package config

import "time"

// RetentionConfig controls the background cleanup loop (pkg/cleanup). Task
// rows themselves are never deleted by this - terminal rows stay for audit
// - only the per-task workspace directory (a success safety net; the happy
// path already purges it on PUBLISHED) and abandoned sync_jobs rows are
// subject to retention.
type RetentionConfig struct {
	// OrphanedWorkspaceTTL is the max age of a workspace directory whose
	// task never reached PUBLISHED (e.g. CANCELLED, or stuck in an
	// *_ERROR with no pending retry) before the sweep removes it.
	OrphanedWorkspaceTTL time.Duration `yaml:"orphaned_workspace_ttl"`

	// SyncJobTTL is the maximum age of a sync_jobs row before the cleanup
	// loop drops it as abandoned. Normal exhaustion already deletes the
	// row at attempt 4; this is a safety net for rows that for some reason
	// stopped being picked up.
	SyncJobTTL time.Duration `yaml:"sync_job_ttl"`

	// CleanupInterval is how often the retention sweep runs.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		OrphanedWorkspaceTTL: 7 * 24 * time.Hour,
		SyncJobTTL:           48 * time.Hour,
		CleanupInterval:      12 * time.Hour,
	}
}
