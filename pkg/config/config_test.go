package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigStats(t *testing.T) {
	active := true
	inactive := false
	channels := map[string]*ChannelConfig{
		"acme-shorts":   {Key: "acme-shorts", Name: "Acme Shorts", Active: &active},
		"acme-longform": {Key: "acme-longform", Name: "Acme Longform", Active: &inactive},
		"beta":          {Key: "beta", Name: "Beta"},
	}
	cfg := &Config{
		Channels:    NewChannelRegistry(channels),
		ServiceCaps: DefaultServiceCaps(),
	}

	stats := cfg.Stats()
	assert.Equal(t, 3, stats.Channels)
	assert.Equal(t, 2, stats.ActiveChannels)
	assert.Equal(t, len(DefaultServiceCaps()), stats.Services)
}

func TestConfigGetChannel(t *testing.T) {
	cfg := &Config{
		Channels: NewChannelRegistry(map[string]*ChannelConfig{
			"acme": {Key: "acme", Name: "Acme"},
		}),
	}

	ch, err := cfg.GetChannel("acme")
	require.NoError(t, err)
	assert.Equal(t, "Acme", ch.Name)

	_, err = cfg.GetChannel("nonexistent")
	assert.ErrorIs(t, err, ErrChannelNotFound)
}

func TestConfigServiceCap(t *testing.T) {
	cfg := &Config{ServiceCaps: DefaultServiceCaps()}

	cap, ok := cfg.ServiceCap(ServiceVideo)
	assert.True(t, ok)
	assert.Greater(t, cap.GlobalConcurrency, 0)

	_, ok = cfg.ServiceCap("nonexistent_service")
	assert.False(t, ok)
}

func TestConfigDir(t *testing.T) {
	cfg := &Config{configDir: "/etc/reelforge"}
	assert.Equal(t, "/etc/reelforge", cfg.ConfigDir())
}
