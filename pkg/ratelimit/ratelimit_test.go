package ratelimit

import (
	"testing"
	"time"

	testdb "github.com/kestrelmedia/reelforge/test/database"
	"github.com/stretchr/testify/require"
)

func seedChannel(t *testing.T, gate *Gate, channelID string) {
	t.Helper()
	_, err := gate.db.Exec(`INSERT INTO channels (channel_id, key, name) VALUES ($1, $1, $1)`, channelID)
	require.NoError(t, err)
}

func TestGate_TryAcquireEnforcesCapWithinWindow(t *testing.T) {
	ctx := t.Context()
	client := testdb.NewTestClient(t)
	gate := NewGate(client.DB())
	seedChannel(t, gate, "chan-1")

	cap := 3
	window := time.Minute

	for i := 0; i < cap; i++ {
		ok, err := gate.TryAcquire(ctx, "chan-1", "voice-api", cap, window)
		require.NoError(t, err)
		require.True(t, ok, "call %d should be allowed within cap", i)
	}

	ok, err := gate.TryAcquire(ctx, "chan-1", "voice-api", cap, window)
	require.NoError(t, err)
	require.False(t, ok, "call beyond cap should be rejected")
}

func TestGate_TryAcquireResetsAfterWindowElapses(t *testing.T) {
	ctx := t.Context()
	client := testdb.NewTestClient(t)
	gate := NewGate(client.DB())
	seedChannel(t, gate, "chan-1")

	cap := 1
	window := 50 * time.Millisecond

	ok, err := gate.TryAcquire(ctx, "chan-1", "voice-api", cap, window)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = gate.TryAcquire(ctx, "chan-1", "voice-api", cap, window)
	require.NoError(t, err)
	require.False(t, ok)

	time.Sleep(window * 3)

	ok, err = gate.TryAcquire(ctx, "chan-1", "voice-api", cap, window)
	require.NoError(t, err)
	require.True(t, ok, "a new window should reset the counter")
}

func TestGate_TryAcquireIsolatesChannels(t *testing.T) {
	ctx := t.Context()
	client := testdb.NewTestClient(t)
	gate := NewGate(client.DB())
	seedChannel(t, gate, "chan-a")
	seedChannel(t, gate, "chan-b")

	ok, err := gate.TryAcquire(ctx, "chan-a", "voice-api", 1, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// chan-a is now at cap, but chan-b has its own independent counter.
	ok, err = gate.TryAcquire(ctx, "chan-a", "voice-api", 1, time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = gate.TryAcquire(ctx, "chan-b", "voice-api", 1, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestGlobalConcurrency_TryAcquireAndRelease(t *testing.T) {
	ctx := t.Context()
	client := testdb.NewTestClient(t)
	gc := NewGlobalConcurrency(client.DB())

	ok, err := gc.TryAcquire(ctx, "render", 2)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = gc.TryAcquire(ctx, "render", 2)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = gc.TryAcquire(ctx, "render", 2)
	require.NoError(t, err)
	require.False(t, ok, "third concurrent slot should be rejected at cap 2")

	require.NoError(t, gc.Release(ctx, "render"))

	ok, err = gc.TryAcquire(ctx, "render", 2)
	require.NoError(t, err)
	require.True(t, ok, "a released slot should be reusable")
}

func TestGlobalConcurrency_ReleaseNeverGoesNegative(t *testing.T) {
	ctx := t.Context()
	client := testdb.NewTestClient(t)
	gc := NewGlobalConcurrency(client.DB())

	require.NoError(t, gc.Release(ctx, "render"))
	require.NoError(t, gc.Release(ctx, "render"))

	ok, err := gc.TryAcquire(ctx, "render", 1)
	require.NoError(t, err)
	require.True(t, ok)
}
