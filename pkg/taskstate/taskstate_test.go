package taskstate

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_LegalEdges(t *testing.T) {
	cases := []struct {
		from, to Status
	}{
		{Draft, Queued},
		{Draft, Cancelled},
		{Queued, Claimed},
		{Claimed, GeneratingAssets},
		{Claimed, Queued},
		{GeneratingAssets, AssetsReady},
		{GeneratingAssets, AssetError},
		{AssetsReady, AssetsApproved},
		{AssetsApproved, GeneratingVideo},
		{FinalReview, Uploading},
		{Uploading, Published},
		{UploadError, Queued},
		{UploadError, FinalReview},
		{AssetError, Queued},
		{Cancelled, Queued},
		{Published, Queued},
	}
	for _, c := range cases {
		assert.NoError(t, Validate(c.from, c.to), "%s -> %s should be legal", c.from, c.to)
	}
}

func TestValidate_IllegalEdges(t *testing.T) {
	cases := []struct {
		from, to Status
	}{
		{Draft, Claimed},
		{Queued, GeneratingAssets},
		{GeneratingAssets, Published},
		{AssetsReady, GeneratingVideo},
		{Published, GeneratingAssets},
		{Cancelled, Claimed},
		{AssetError, FinalReview},
	}
	for _, c := range cases {
		err := Validate(c.from, c.to)
		require.Error(t, err, "%s -> %s should be illegal", c.from, c.to)
		var invalid *InvalidStateTransition
		require.True(t, errors.As(err, &invalid))
		assert.Equal(t, c.from, invalid.From)
		assert.Equal(t, c.to, invalid.To)
	}
}

func TestEveryStatusIsExactlyOneOfActiveOrTerminal(t *testing.T) {
	for _, s := range All {
		if IsActive(s) {
			assert.False(t, IsTerminal(s), "%s cannot be both active and terminal", s)
		} else {
			assert.True(t, IsTerminal(s), "%s must be terminal if not active", s)
		}
	}
}

func TestTerminalStatusesHaveExactlyOneRequeueEdgeToQueued(t *testing.T) {
	for _, s := range All {
		if !IsTerminal(s) {
			continue
		}
		edges := transitions[s]
		found := false
		for _, to := range edges {
			if to == Queued {
				found = true
			}
		}
		assert.True(t, found, "%s is terminal but has no re-queue edge to QUEUED", s)
	}
}

func TestPublishedAndCancelledAndAllErrorsAreTerminal(t *testing.T) {
	for _, s := range []Status{Published, Cancelled, Draft, AssetError, VideoError, AudioError, SFXError, AssemblyError, UploadError} {
		assert.True(t, IsTerminal(s), "%s should be terminal", s)
	}
}

func TestReviewGatesAreNotClaimable(t *testing.T) {
	for _, s := range []Status{AssetsReady, VideoReady, AudioReady, FinalReview} {
		assert.True(t, IsReviewGate(s))
		assert.True(t, IsActive(s), "review gates are active (consume a slot) but not claimable by a worker")
	}
	assert.False(t, IsReviewGate(GeneratingAssets))
}

func TestAllListsExactly25Statuses(t *testing.T) {
	assert.Len(t, All, 25)
}

func TestValid(t *testing.T) {
	assert.True(t, Valid(Draft))
	assert.False(t, Valid(Status("NOT_A_REAL_STATUS")))
}
