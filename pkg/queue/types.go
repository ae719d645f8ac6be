package queue

import "time"

// WorkerStatus represents the current state of a worker.
type WorkerStatus string

// Worker status constants.
const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// PoolHealth contains health information for the entire worker pool.
type PoolHealth struct {
	IsHealthy      bool           `json:"is_healthy"`
	DBReachable    bool           `json:"db_reachable"`
	DBError        string         `json:"db_error,omitempty"`
	PodID          string         `json:"pod_id"`
	ActiveWorkers  int            `json:"active_workers"`
	TotalWorkers   int            `json:"total_workers"`
	QueueDepth     int            `json:"queue_depth"`
	WorkerStats    []WorkerHealth `json:"worker_stats"`
	LastReapScan   time.Time      `json:"last_reap_scan"`
	ClaimsReaped   int            `json:"claims_reaped"`
}

// WorkerHealth contains health information for a single worker.
type WorkerHealth struct {
	ID             string    `json:"id"`
	Status         string    `json:"status"` // "idle" or "working"
	CurrentTaskID  string    `json:"current_task_id,omitempty"`
	TasksProcessed int       `json:"tasks_processed"`
	LastActivity   time.Time `json:"last_activity"`
}
