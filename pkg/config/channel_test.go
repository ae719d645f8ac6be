package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boolPtr(b bool) *bool { return &b }

func TestChannelConfigIsActive(t *testing.T) {
	t.Run("defaults to active when unset", func(t *testing.T) {
		ch := &ChannelConfig{Key: "acme"}
		assert.True(t, ch.IsActive())
	})

	t.Run("respects explicit false", func(t *testing.T) {
		ch := &ChannelConfig{Key: "acme", Active: boolPtr(false)}
		assert.False(t, ch.IsActive())
	})

	t.Run("respects explicit true", func(t *testing.T) {
		ch := &ChannelConfig{Key: "acme", Active: boolPtr(true)}
		assert.True(t, ch.IsActive())
	})
}

func TestChannelConfigAutoApproves(t *testing.T) {
	ch := &ChannelConfig{
		Key:              "acme",
		AutoApproveGates: []string{"ASSETS_READY", "AUDIO_READY"},
	}

	assert.True(t, ch.AutoApproves("ASSETS_READY"))
	assert.True(t, ch.AutoApproves("AUDIO_READY"))
	assert.False(t, ch.AutoApproves("VIDEO_READY"))
	assert.False(t, ch.AutoApproves("FINAL_REVIEW"))
}

func TestChannelRegistry(t *testing.T) {
	channels := map[string]*ChannelConfig{
		"acme-shorts":   {Key: "acme-shorts", Name: "Acme Shorts"},
		"acme-longform": {Key: "acme-longform", Name: "Acme Longform"},
	}
	registry := NewChannelRegistry(channels)

	t.Run("Get existing channel", func(t *testing.T) {
		ch, err := registry.Get("acme-shorts")
		require.NoError(t, err)
		assert.Equal(t, "Acme Shorts", ch.Name)
	})

	t.Run("Get nonexistent channel", func(t *testing.T) {
		_, err := registry.Get("nonexistent")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrChannelNotFound)
	})

	t.Run("Has", func(t *testing.T) {
		assert.True(t, registry.Has("acme-shorts"))
		assert.False(t, registry.Has("nonexistent"))
	})

	t.Run("GetAll returns a defensive copy", func(t *testing.T) {
		all := registry.GetAll()
		assert.Len(t, all, 2)
		all["acme-shorts"] = &ChannelConfig{Key: "mutated"}
		again, err := registry.Get("acme-shorts")
		require.NoError(t, err)
		assert.Equal(t, "Acme Shorts", again.Name, "registry must not be affected by mutating GetAll's result")
	})
}

func TestNewChannelRegistryCopiesInputMap(t *testing.T) {
	channels := map[string]*ChannelConfig{
		"acme": {Key: "acme", Name: "Acme"},
	}
	registry := NewChannelRegistry(channels)

	channels["injected"] = &ChannelConfig{Key: "injected"}

	assert.False(t, registry.Has("injected"), "registry must not observe mutation of the caller's map after construction")
}
