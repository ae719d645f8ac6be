package config

import (
	"fmt"
	"os"
)

// SystemConfig is the process-wide config surface: `DB_URL` is loaded
// separately by pkg/database.LoadConfigFromEnv (it owns the full DB_* knob
// set); everything else lives here.
type SystemConfig struct {
	// EncryptionKey is the base64-encoded 32-byte key pkg/credentials uses
	// for NaCl secretbox authenticated encryption at rest. Required;
	// Initialize does not check it, but credentials.NewVault rejects a key
	// that is missing or does not decode to 32 bytes.
	EncryptionKey string

	// AlertWebhookURL is the single outbound webhook pkg/alerting posts
	// actionable failures to.
	AlertWebhookURL string

	// WorkspaceRoot is the filesystem root pkg/workspace lays out
	// per-task directories under.
	WorkspaceRoot string

	// PlanningStoreWebhookSecret is the shared HMAC secret the inbound
	// `/webhook/plan` handler verifies signatures against.
	PlanningStoreWebhookSecret string

	// PlanningStoreBaseURL is the outbound planning-store API this
	// process calls to sync status.
	PlanningStoreBaseURL string

	// WorkerCountOverride, when > 0, overrides QueueConfig.WorkerCount
	// read from YAML - WORKER_COUNT is a separate env var from the YAML
	// queue block.
	WorkerCountOverride int
}

func requireEnv(key string) (string, error) {
	v := os.Getenv(key)
	if v == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingRequiredField, key)
	}
	return v, nil
}

// LoadSystemConfigFromEnv reads the env-var half of the config surface.
// Called once at startup; a missing required var fails the process with
// exit code 1.
func LoadSystemConfigFromEnv() (*SystemConfig, error) {
	encKey, err := requireEnv("ENCRYPTION_KEY")
	if err != nil {
		return nil, err
	}
	workspaceRoot, err := requireEnv("WORKSPACE_ROOT")
	if err != nil {
		return nil, err
	}
	planningSecret, err := requireEnv("PLANNING_STORE_WEBHOOK_SECRET")
	if err != nil {
		return nil, err
	}
	planningBaseURL, err := requireEnv("PLANNING_STORE_BASE_URL")
	if err != nil {
		return nil, err
	}

	cfg := &SystemConfig{
		EncryptionKey:              encKey,
		AlertWebhookURL:            os.Getenv("ALERT_WEBHOOK"),
		WorkspaceRoot:              workspaceRoot,
		PlanningStoreWebhookSecret: planningSecret,
		PlanningStoreBaseURL:       planningBaseURL,
	}

	if v := os.Getenv("WORKER_COUNT"); v != "" {
		n, err := parseWorkerCount(v)
		if err != nil {
			return nil, fmt.Errorf("invalid WORKER_COUNT: %w", err)
		}
		cfg.WorkerCountOverride = n
	}

	return cfg, nil
}

func parseWorkerCount(v string) (int, error) {
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("must be positive, got %d", n)
	}
	return n, nil
}
