package config

// Defaults holds system-wide fallback values applied to a channel whenever
// its own YAML leaves the field unset.
type Defaults struct {
	// MaxConcurrent is the default per-channel concurrency cap: one active
	// render plus headroom for a review-gated stage to sit idle without
	// blocking the channel's other slot.
	MaxConcurrent int `yaml:"max_concurrent,omitempty"`

	// StorageStrategy is the default artifact retention strategy for a
	// channel that doesn't specify one.
	StorageStrategy StorageStrategy `yaml:"storage_strategy,omitempty"`
}

// DefaultDefaults returns the built-in system-wide defaults.
func DefaultDefaults() *Defaults {
	return &Defaults{
		MaxConcurrent:   2,
		StorageStrategy: StorageInline,
	}
}
