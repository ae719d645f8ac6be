package queue

import (
	"testing"
	"time"

	"github.com/kestrelmedia/reelforge/pkg/config"
	"github.com/stretchr/testify/assert"
)

func testQueueConfig() *config.QueueConfig {
	return &config.QueueConfig{
		WorkerCount:             5,
		PollInterval:            1 * time.Second,
		PollIntervalJitter:      500 * time.Millisecond,
		StageTimeout:            15 * time.Minute,
		GracefulShutdownTimeout: 15 * time.Minute,
		StaleClaimSweepInterval: 60 * time.Second,
		StaleClaimThreshold:     15 * time.Minute,
	}
}

func TestWorkerPollInterval(t *testing.T) {
	cfg := testQueueConfig()
	w := NewWorker("test-worker", "test-pod", nil, nil, nil, cfg, nil, nil, nil, nil, nil)

	for i := 0; i < 100; i++ {
		d := w.pollInterval()
		assert.GreaterOrEqual(t, d, 500*time.Millisecond, "poll interval below minimum")
		assert.LessOrEqual(t, d, 1500*time.Millisecond, "poll interval above maximum")
	}
}

func TestWorkerPollIntervalNoJitter(t *testing.T) {
	cfg := testQueueConfig()
	cfg.PollIntervalJitter = 0
	w := NewWorker("test-worker", "test-pod", nil, nil, nil, cfg, nil, nil, nil, nil, nil)

	for i := 0; i < 10; i++ {
		d := w.pollInterval()
		assert.Equal(t, 1*time.Second, d, "poll interval should equal base when jitter is 0")
	}
}

func TestWorkerHealth(t *testing.T) {
	cfg := testQueueConfig()
	w := NewWorker("worker-1", "pod-1", nil, nil, nil, cfg, nil, nil, nil, nil, nil)

	h := w.Health()
	assert.Equal(t, "worker-1", h.ID)
	assert.Equal(t, string(WorkerStatusIdle), h.Status)
	assert.Equal(t, "", h.CurrentTaskID)
	assert.Equal(t, 0, h.TasksProcessed)

	w.setStatus(WorkerStatusWorking, "task-abc")
	h = w.Health()
	assert.Equal(t, string(WorkerStatusWorking), h.Status)
	assert.Equal(t, "task-abc", h.CurrentTaskID)

	w.setStatus(WorkerStatusIdle, "")
	h = w.Health()
	assert.Equal(t, string(WorkerStatusIdle), h.Status)
	assert.Equal(t, "", h.CurrentTaskID)
}

func TestWorkerWaitForWorkReturnsOnWake(t *testing.T) {
	cfg := testQueueConfig()
	cfg.PollInterval = time.Hour // would never fire on its own within the test

	wake := make(chan struct{}, 1)
	w := NewWorker("worker-1", "pod-1", nil, nil, nil, cfg, nil, wake, nil, nil, nil)

	wake <- struct{}{}

	done := make(chan struct{})
	go func() {
		w.waitForWork()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("waitForWork did not return promptly on NOTIFY wake-up")
	}
}

func TestWorkerWaitForWorkReturnsOnStop(t *testing.T) {
	cfg := testQueueConfig()
	cfg.PollInterval = time.Hour

	w := NewWorker("worker-1", "pod-1", nil, nil, nil, cfg, nil, nil, nil, nil, nil)
	close(w.stopCh)

	done := make(chan struct{})
	go func() {
		w.waitForWork()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("waitForWork did not return promptly on stop")
	}
}
