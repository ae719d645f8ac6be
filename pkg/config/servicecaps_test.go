package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultServiceCaps(t *testing.T) {
	caps := DefaultServiceCaps()

	for _, service := range []string{
		ServicePlanningStore, ServiceImage, ServiceVideo, ServiceAudio, ServiceSFX, ServiceUpload,
	} {
		cap, ok := caps[service]
		if assert.True(t, ok, "missing default cap for %s", service) {
			assert.Greater(t, cap.GlobalConcurrency, 0)
			assert.Greater(t, cap.PerChannelRate, 0)
			assert.Greater(t, cap.PerChannelWindow, time.Duration(0))
		}
	}

	planning := caps[ServicePlanningStore]
	assert.Equal(t, 3, planning.PerChannelRate)
	assert.Equal(t, time.Second, planning.PerChannelWindow)
}

func TestMergeServiceCaps(t *testing.T) {
	t.Run("no overrides returns defaults", func(t *testing.T) {
		merged, err := mergeServiceCaps(nil)
		assert.NoError(t, err)
		assert.Equal(t, DefaultServiceCaps(), merged)
	})

	t.Run("override replaces only the overridden service", func(t *testing.T) {
		merged, err := mergeServiceCaps(map[string]ServiceCapConfig{
			ServiceVideo: {GlobalConcurrency: 12, PerChannelRate: 4, PerChannelWindow: time.Minute},
		})
		assert.NoError(t, err)
		assert.Equal(t, 12, merged[ServiceVideo].GlobalConcurrency)
		assert.Equal(t, DefaultServiceCaps()[ServiceImage], merged[ServiceImage])
	})

	t.Run("partial override keeps un-set fields at default", func(t *testing.T) {
		merged, err := mergeServiceCaps(map[string]ServiceCapConfig{
			ServiceUpload: {GlobalConcurrency: 7},
		})
		assert.NoError(t, err)
		assert.Equal(t, 7, merged[ServiceUpload].GlobalConcurrency)
		assert.Equal(t, DefaultServiceCaps()[ServiceUpload].PerChannelRate, merged[ServiceUpload].PerChannelRate)
	})

	t.Run("unknown service key is added on top of defaults", func(t *testing.T) {
		merged, err := mergeServiceCaps(map[string]ServiceCapConfig{
			"custom_tts": {GlobalConcurrency: 2, PerChannelRate: 1, PerChannelWindow: time.Minute},
		})
		assert.NoError(t, err)
		assert.Equal(t, 2, merged["custom_tts"].GlobalConcurrency)
	})
}
