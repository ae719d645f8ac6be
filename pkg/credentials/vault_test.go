package credentials

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	testdb "github.com/kestrelmedia/reelforge/test/database"
	"github.com/stretchr/testify/require"
)

func testKey() string {
	return base64.StdEncoding.EncodeToString(make([]byte, 32))
}

type fakeRefresher struct {
	calls    int
	response *TokenBundle
	err      error
}

func (f *fakeRefresher) Refresh(ctx context.Context, channelID, service string, current *TokenBundle) (*TokenBundle, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.response, nil
}

func TestVault_PutAndGetRoundTrips(t *testing.T) {
	ctx := t.Context()
	client := testdb.NewTestClient(t)

	v, err := NewVault(client.DB(), testKey(), nil)
	require.NoError(t, err)

	bundle := &TokenBundle{AccessToken: "at", RefreshToken: "rt", Expiry: time.Now().Add(time.Hour)}
	require.NoError(t, v.Put(ctx, "chan-1", "upload", bundle))

	got, err := v.Get(ctx, "chan-1", "upload")
	require.NoError(t, err)
	require.Equal(t, "at", got.AccessToken)
	require.Equal(t, "rt", got.RefreshToken)
}

func TestVault_GetRefreshesWhenNearExpiry(t *testing.T) {
	ctx := t.Context()
	client := testdb.NewTestClient(t)

	refresher := &fakeRefresher{response: &TokenBundle{AccessToken: "new-at", Expiry: time.Now().Add(time.Hour)}}
	v, err := NewVault(client.DB(), testKey(), refresher)
	require.NoError(t, err)

	require.NoError(t, v.Put(ctx, "chan-1", "upload", &TokenBundle{
		AccessToken: "old-at", Expiry: time.Now().Add(2 * time.Minute),
	}))

	got, err := v.Get(ctx, "chan-1", "upload")
	require.NoError(t, err)
	require.Equal(t, "new-at", got.AccessToken)
	require.Equal(t, 1, refresher.calls)
}

func TestVault_GetMissingCredentialReturnsNotFound(t *testing.T) {
	ctx := t.Context()
	client := testdb.NewTestClient(t)

	v, err := NewVault(client.DB(), testKey(), nil)
	require.NoError(t, err)

	_, err = v.Get(ctx, "chan-1", "upload")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestNewVault_RejectsWrongKeyLength(t *testing.T) {
	client := testdb.NewTestClient(t)
	_, err := NewVault(client.DB(), base64.StdEncoding.EncodeToString([]byte("too-short")), nil)
	require.Error(t, err)
}
