package config

import "time"

// ServiceCapConfig is the rate/concurrency envelope for one external
// service: a global concurrency cap shared by every channel, and the
// per-channel windowed rate the default applies unless a channel
// overrides it.
type ServiceCapConfig struct {
	// GlobalConcurrency is the system-wide in-flight call cap
	// (pkg/ratelimit.GlobalConcurrency).
	GlobalConcurrency int `yaml:"global_concurrency"`

	// PerChannelRate and PerChannelWindow together form the token-bucket
	// cap (pkg/ratelimit.Gate): at most PerChannelRate calls per
	// PerChannelWindow, per (channel, service).
	PerChannelRate   int           `yaml:"per_channel_rate"`
	PerChannelWindow time.Duration `yaml:"per_channel_window"`
}

// Service name constants for the outbound service contracts.
const (
	ServicePlanningStore = "planning_store"
	ServiceImage         = "image"
	ServiceVideo         = "video"
	ServiceAudio         = "audio"
	ServiceSFX           = "sfx"
	ServiceUpload        = "upload"
)

// DefaultServiceCaps returns the built-in per-service caps, applied when a
// system YAML doesn't override them. The planning-store cap of 3 req/s is
// the documented contract limit; the AI service caps are conservative
// starting points an operator is expected to tune per their contract terms.
func DefaultServiceCaps() map[string]ServiceCapConfig {
	return map[string]ServiceCapConfig{
		ServicePlanningStore: {GlobalConcurrency: 10, PerChannelRate: 3, PerChannelWindow: time.Second},
		ServiceImage:         {GlobalConcurrency: 10, PerChannelRate: 5, PerChannelWindow: time.Minute},
		ServiceVideo:         {GlobalConcurrency: 5, PerChannelRate: 2, PerChannelWindow: time.Minute},
		ServiceAudio:         {GlobalConcurrency: 8, PerChannelRate: 5, PerChannelWindow: time.Minute},
		ServiceSFX:           {GlobalConcurrency: 8, PerChannelRate: 5, PerChannelWindow: time.Minute},
		ServiceUpload:        {GlobalConcurrency: 3, PerChannelRate: 1, PerChannelWindow: time.Minute},
	}
}
