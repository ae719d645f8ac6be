package api

import "github.com/kestrelmedia/reelforge/pkg/queue"

// HealthResponse is the payload GET /health returns: liveness plus whatever
// operational detail is cheap to gather.
type HealthResponse struct {
	Status     string             `json:"status"`
	Version    string             `json:"version"`
	Database   *DatabaseStatus    `json:"database,omitempty"`
	WorkerPool *queue.PoolHealth  `json:"worker_pool,omitempty"`
	Config     ConfigurationStats `json:"configuration"`
}

// DatabaseStatus mirrors database.HealthStatus's exported fields the API
// surfaces - kept as its own type here so pkg/api doesn't force every
// caller to import pkg/database just to read a health response.
type DatabaseStatus struct {
	Status          string `json:"status"`
	OpenConnections int    `json:"open_connections"`
	InUse           int    `json:"in_use"`
	Idle            int    `json:"idle"`
}

// ConfigurationStats summarizes loaded channel/service config, matching
// config.ConfigStats.
type ConfigurationStats struct {
	Channels       int `json:"channels"`
	ActiveChannels int `json:"active_channels"`
	Services       int `json:"services"`
}

// ReadyResponse is GET /ready's payload: the two preconditions checked
// explicitly - DB reachable, credentials key loaded.
type ReadyResponse struct {
	Ready             bool `json:"ready"`
	DBReachable       bool `json:"db_reachable"`
	EncryptionKeySet  bool `json:"encryption_key_set"`
}

// errorResponse is the uniform JSON shape every non-2xx response uses.
type errorResponse struct {
	Error string `json:"error"`
}
