package channels

import (
	"testing"

	"github.com/kestrelmedia/reelforge/pkg/config"
	testdb "github.com/kestrelmedia/reelforge/test/database"
	"github.com/stretchr/testify/require"
)

func testRegistry(entries map[string]*config.ChannelConfig) *config.ChannelRegistry {
	return config.NewChannelRegistry(entries)
}

func TestSync_AssignsAndPersistsIDs(t *testing.T) {
	ctx := t.Context()
	client := testdb.NewTestClient(t)
	db := client.DB()

	registry := testRegistry(map[string]*config.ChannelConfig{
		"acme-news": {
			Key:            "acme-news",
			Name:           "Acme News",
			MaxConcurrent:  3,
			PublishBinding: config.PublishBindingConfig{Target: "youtube", Service: "upload"},
		},
	})

	dir, err := Sync(ctx, db, registry)
	require.NoError(t, err)

	id, err := dir.ResolveID("acme-news")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	key, err := dir.ResolveKey(id)
	require.NoError(t, err)
	require.Equal(t, "acme-news", key)

	var gotName string
	var gotMax int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT name, max_concurrent FROM channels WHERE channel_id = $1`, id).
		Scan(&gotName, &gotMax))
	require.Equal(t, "Acme News", gotName)
	require.Equal(t, 3, gotMax)
}

func TestSync_IsIdempotentAndPreservesID(t *testing.T) {
	ctx := t.Context()
	client := testdb.NewTestClient(t)
	db := client.DB()

	registry := testRegistry(map[string]*config.ChannelConfig{
		"acme-news": {
			Key:            "acme-news",
			Name:           "Acme News",
			PublishBinding: config.PublishBindingConfig{Target: "youtube", Service: "upload"},
		},
	})

	dir1, err := Sync(ctx, db, registry)
	require.NoError(t, err)
	id1, err := dir1.ResolveID("acme-news")
	require.NoError(t, err)

	updated := testRegistry(map[string]*config.ChannelConfig{
		"acme-news": {
			Key:            "acme-news",
			Name:           "Acme News Updated",
			PublishBinding: config.PublishBindingConfig{Target: "youtube", Service: "upload"},
		},
	})
	dir2, err := Sync(ctx, db, updated)
	require.NoError(t, err)
	id2, err := dir2.ResolveID("acme-news")
	require.NoError(t, err)

	require.Equal(t, id1, id2)

	var gotName string
	require.NoError(t, db.QueryRowContext(ctx, `SELECT name FROM channels WHERE channel_id = $1`, id1).Scan(&gotName))
	require.Equal(t, "Acme News Updated", gotName)
}

func TestDirectory_ResolveUnknownKeyErrors(t *testing.T) {
	ctx := t.Context()
	client := testdb.NewTestClient(t)
	db := client.DB()

	dir, err := Sync(ctx, db, testRegistry(nil))
	require.NoError(t, err)

	_, err = dir.ResolveID("nope")
	require.ErrorIs(t, err, ErrUnknownKey)
	_, err = dir.ResolveKey("nope")
	require.ErrorIs(t, err, ErrUnknownKey)
}
