package config

// Config is the umbrella configuration object returned by Initialize and
// threaded through the rest of the application: the channel registry, the
// queue/retention/service-cap knobs, and the env-var system surface.
type Config struct {
	configDir string

	Defaults      *Defaults
	Queue         *QueueConfig
	Retention     *RetentionConfig
	ServiceCaps   map[string]ServiceCapConfig
	StageBinaries *StageBinariesConfig
	System        *SystemConfig
	Channels      *ChannelRegistry
}

// ConfigDir returns the configuration directory path.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// ConfigStats summarizes loaded configuration, surfaced on /health.
type ConfigStats struct {
	Channels      int
	ActiveChannels int
	Services      int
}

// Stats returns configuration statistics for logging/health reporting.
func (c *Config) Stats() ConfigStats {
	all := c.Channels.GetAll()
	active := 0
	for _, ch := range all {
		if ch.IsActive() {
			active++
		}
	}
	return ConfigStats{
		Channels:       len(all),
		ActiveChannels: active,
		Services:       len(c.ServiceCaps),
	}
}

// GetChannel retrieves a channel configuration by channel_key. Convenience
// wrapper around Channels.Get.
func (c *Config) GetChannel(key string) (*ChannelConfig, error) {
	return c.Channels.Get(key)
}

// ServiceCap returns the configured cap for service, or the zero value and
// false if the service is unknown.
func (c *Config) ServiceCap(service string) (ServiceCapConfig, bool) {
	cap, ok := c.ServiceCaps[service]
	return cap, ok
}
