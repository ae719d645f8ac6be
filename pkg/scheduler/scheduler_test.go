package scheduler

import (
	"testing"

	"github.com/kestrelmedia/reelforge/pkg/channels"
	"github.com/kestrelmedia/reelforge/pkg/config"
	"github.com/kestrelmedia/reelforge/pkg/queue"
	"github.com/kestrelmedia/reelforge/pkg/ratelimit"
	"github.com/kestrelmedia/reelforge/pkg/taskstate"
	testdb "github.com/kestrelmedia/reelforge/test/database"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*Scheduler, *queue.Store, *channels.Directory) {
	t.Helper()
	ctx := t.Context()
	client := testdb.NewTestClient(t)
	db := client.DB()

	registry := config.NewChannelRegistry(map[string]*config.ChannelConfig{
		"chan-a": {Key: "chan-a", Name: "A", MaxConcurrent: 5, PublishBinding: config.PublishBindingConfig{Target: "t", Service: "upload"}},
		"chan-b": {Key: "chan-b", Name: "B", MaxConcurrent: 5, PublishBinding: config.PublishBindingConfig{Target: "t", Service: "upload"}},
	})
	dir, err := channels.Sync(ctx, db, registry)
	require.NoError(t, err)

	store := queue.NewStore(db)
	gate := ratelimit.NewGate(db)
	global := ratelimit.NewGlobalConcurrency(db)
	sched := New(store, dir, registry, gate, global, config.DefaultServiceCaps(), 2)
	return sched, store, dir
}

func TestEligibleChannels_PicksChannelsWithReadyWork(t *testing.T) {
	ctx := t.Context()
	sched, store, dir := setup(t)

	id, err := dir.ResolveID("chan-a")
	require.NoError(t, err)

	_, err = store.Enqueue(ctx, queue.EnqueueInput{
		ID: "t-1", ChannelID: id, ChannelKey: "chan-a", PlanningPageID: "p-1",
		Title: "x", Topic: "y", StoryDirection: "z",
	})
	require.NoError(t, err)

	eligible, err := sched.EligibleChannels(ctx)
	require.NoError(t, err)
	require.Contains(t, eligible, id)
}

func TestEligibleChannels_SkipsChannelAtConcurrencyCap(t *testing.T) {
	ctx := t.Context()
	sched, store, dir := setup(t)

	id, err := dir.ResolveID("chan-a")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		task, err := store.Enqueue(ctx, queue.EnqueueInput{
			ID: "t-active-" + string(rune('a'+i)), ChannelID: id, ChannelKey: "chan-a",
			PlanningPageID: "p-active-" + string(rune('a'+i)), Title: "x", Topic: "y", StoryDirection: "z",
		})
		require.NoError(t, err)
		require.NoError(t, store.Advance(ctx, task.ID, taskstate.Queued, taskstate.Claimed, nil))
	}

	_, err = store.Enqueue(ctx, queue.EnqueueInput{
		ID: "t-extra", ChannelID: id, ChannelKey: "chan-a", PlanningPageID: "p-extra",
		Title: "x", Topic: "y", StoryDirection: "z",
	})
	require.NoError(t, err)

	eligible, err := sched.EligibleChannels(ctx)
	require.NoError(t, err)
	require.NotContains(t, eligible, id)
}

func TestEligibleChannels_NoReadyWorkReturnsEmpty(t *testing.T) {
	ctx := t.Context()
	sched, _, _ := setup(t)

	eligible, err := sched.EligibleChannels(ctx)
	require.NoError(t, err)
	require.Empty(t, eligible)
}
