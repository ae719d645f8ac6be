package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kestrelmedia/reelforge/pkg/config"
	"github.com/kestrelmedia/reelforge/pkg/planningsync"
	"github.com/kestrelmedia/reelforge/pkg/queue"
	"github.com/kestrelmedia/reelforge/pkg/taskstate"
	"github.com/kestrelmedia/reelforge/pkg/workspace"
	testdb "github.com/kestrelmedia/reelforge/test/database"
	"github.com/stretchr/testify/require"
)

type fakeTaskLookup struct {
	tasks map[string]*queue.Task
}

func (f *fakeTaskLookup) GetByID(_ context.Context, taskID string) (*queue.Task, error) {
	t, ok := f.tasks[taskID]
	if !ok {
		return nil, nil
	}
	return t, nil
}

func retentionCfg() *config.RetentionConfig {
	return &config.RetentionConfig{
		OrphanedWorkspaceTTL: time.Hour,
		SyncJobTTL:           time.Hour,
		CleanupInterval:      time.Hour,
	}
}

func touchWorkspace(t *testing.T, root, channelID, taskID string, age time.Duration) {
	t.Helper()
	dir := filepath.Join(root, "channels", channelID, "projects", taskID, "videos")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	mtime := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(filepath.Join(root, "channels", channelID, "projects", taskID), mtime, mtime))
}

func TestService_PurgesWorkspaceOfTerminalTaskPastTTL(t *testing.T) {
	root := t.TempDir()
	touchWorkspace(t, root, "chan-1", "task-1", 2*time.Hour)

	lookup := &fakeTaskLookup{tasks: map[string]*queue.Task{
		"task-1": {ID: "task-1", Status: taskstate.Cancelled},
	}}

	client := testdb.NewTestClient(t)
	svc := NewService(retentionCfg(), lookup, workspace.NewManager(root), planningsync.NewStore(client.DB()))
	svc.purgeOrphanedWorkspaces(context.Background())

	_, err := os.Stat(filepath.Join(root, "channels", "chan-1", "projects", "task-1"))
	require.True(t, os.IsNotExist(err), "terminal task's workspace past TTL should be purged")
}

func TestService_KeepsWorkspaceOfActiveTask(t *testing.T) {
	root := t.TempDir()
	touchWorkspace(t, root, "chan-1", "task-2", 2*time.Hour)

	lookup := &fakeTaskLookup{tasks: map[string]*queue.Task{
		"task-2": {ID: "task-2", Status: taskstate.GeneratingVideo},
	}}

	client := testdb.NewTestClient(t)
	svc := NewService(retentionCfg(), lookup, workspace.NewManager(root), planningsync.NewStore(client.DB()))
	svc.purgeOrphanedWorkspaces(context.Background())

	_, err := os.Stat(filepath.Join(root, "channels", "chan-1", "projects", "task-2"))
	require.NoError(t, err, "active task's workspace must never be purged")
}

func TestService_KeepsWorkspaceUnderTTL(t *testing.T) {
	root := t.TempDir()
	touchWorkspace(t, root, "chan-1", "task-3", time.Minute)

	lookup := &fakeTaskLookup{tasks: map[string]*queue.Task{
		"task-3": {ID: "task-3", Status: taskstate.Published},
	}}

	client := testdb.NewTestClient(t)
	svc := NewService(retentionCfg(), lookup, workspace.NewManager(root), planningsync.NewStore(client.DB()))
	svc.purgeOrphanedWorkspaces(context.Background())

	_, err := os.Stat(filepath.Join(root, "channels", "chan-1", "projects", "task-3"))
	require.NoError(t, err, "workspace younger than TTL should survive even if terminal")
}

func TestService_DropsStaleSyncJobs(t *testing.T) {
	client := testdb.NewTestClient(t)
	db := client.DB()

	_, err := db.Exec(`INSERT INTO channels (channel_id, key, name) VALUES ('c1', 'c1', 'c1')`)
	require.NoError(t, err)
	_, err = db.Exec(`
		INSERT INTO tasks (task_id, channel_id, channel_key, planning_page_id, title, topic, story_direction, status)
		VALUES ('t1', 'c1', 'c1', 'p1', 'title', 'topic', 'direction', 'QUEUED')
	`)
	require.NoError(t, err)
	_, err = db.Exec(`
		INSERT INTO sync_jobs (sync_job_id, task_id, channel_id, planning_page_id, payload_json, created_at)
		VALUES ('s1', 't1', 'c1', 'p1', '{}', now() - interval '3 hours')
	`)
	require.NoError(t, err)

	lookup := &fakeTaskLookup{tasks: map[string]*queue.Task{}}
	svc := NewService(retentionCfg(), lookup, workspace.NewManager(t.TempDir()), planningsync.NewStore(db))
	svc.dropStaleSyncJobs(context.Background())

	var count int
	require.NoError(t, db.QueryRow(`SELECT count(*) FROM sync_jobs WHERE sync_job_id = 's1'`).Scan(&count))
	require.Equal(t, 0, count)
}
