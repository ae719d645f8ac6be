package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// SystemYAMLConfig is the optional configDir/system.yaml file: the knobs
// that aren't secrets (those come from env vars via LoadSystemConfigFromEnv)
// but also aren't per-channel.
type SystemYAMLConfig struct {
	Queue         *QueueConfig                `yaml:"queue"`
	Retention     *RetentionConfig            `yaml:"retention"`
	Defaults      *Defaults                   `yaml:"defaults"`
	ServiceCaps   map[string]ServiceCapConfig `yaml:"service_caps"`
	StageBinaries *StageBinariesConfig        `yaml:"stage_binaries"`
}

// Initialize loads, validates, and returns ready-to-use configuration. This
// is the primary entry point for configuration loading, called once at
// process startup.
//
// Steps performed:
//  1. Load env-var system config (secrets, workspace root, worker count override)
//  2. Load configDir/system.yaml (queue/retention/defaults/service cap overrides)
//  3. Load configDir/channels/*.yaml, one file per channel
//  4. Apply defaults, merge service caps
//  5. Build the channel registry
//  6. Validate everything
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("initializing configuration")

	sysEnv, err := LoadSystemConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load system environment: %w", err)
	}

	cfg, err := load(ctx, configDir, sysEnv)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := NewValidator(cfg).ValidateAll(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("configuration initialized",
		"channels", stats.Channels,
		"active_channels", stats.ActiveChannels,
		"services", stats.Services)

	return cfg, nil
}

func load(_ context.Context, configDir string, sysEnv *SystemConfig) (*Config, error) {
	loader := &configLoader{configDir: configDir}

	sysYAML, err := loader.loadSystemYAML()
	if err != nil {
		return nil, err
	}

	queueCfg := DefaultQueueConfig()
	if sysYAML.Queue != nil {
		if err := mergeInto(queueCfg, sysYAML.Queue); err != nil {
			return nil, fmt.Errorf("failed to merge queue config: %w", err)
		}
	}
	if sysEnv.WorkerCountOverride > 0 {
		queueCfg.WorkerCount = sysEnv.WorkerCountOverride
	}

	retentionCfg := DefaultRetentionConfig()
	if sysYAML.Retention != nil {
		if err := mergeInto(retentionCfg, sysYAML.Retention); err != nil {
			return nil, fmt.Errorf("failed to merge retention config: %w", err)
		}
	}

	defaults := sysYAML.Defaults
	if defaults == nil {
		defaults = DefaultDefaults()
	}

	serviceCaps, err := mergeServiceCaps(sysYAML.ServiceCaps)
	if err != nil {
		return nil, fmt.Errorf("failed to merge service caps: %w", err)
	}

	stageBinaries := DefaultStageBinaries()
	if sysYAML.StageBinaries != nil {
		if err := mergeInto(stageBinaries, sysYAML.StageBinaries); err != nil {
			return nil, fmt.Errorf("failed to merge stage binaries config: %w", err)
		}
	}

	channels, err := loader.loadChannels(defaults)
	if err != nil {
		return nil, err
	}

	return &Config{
		configDir:     configDir,
		Defaults:      defaults,
		Queue:         queueCfg,
		Retention:     retentionCfg,
		ServiceCaps:   serviceCaps,
		StageBinaries: stageBinaries,
		System:        sysEnv,
		Channels:      NewChannelRegistry(channels),
	}, nil
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(path string, target any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return nil
}

// loadSystemYAML loads the optional configDir/system.yaml. A missing file
// is not an error - every field falls back to its built-in default.
func (l *configLoader) loadSystemYAML() (*SystemYAMLConfig, error) {
	cfg := &SystemYAMLConfig{ServiceCaps: make(map[string]ServiceCapConfig)}
	path := filepath.Join(l.configDir, "system.yaml")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if err := l.loadYAML(path, cfg); err != nil {
		return nil, NewLoadError("system.yaml", err)
	}
	if cfg.ServiceCaps == nil {
		cfg.ServiceCaps = make(map[string]ServiceCapConfig)
	}
	return cfg, nil
}

// loadChannels loads every configDir/channels/*.yaml file, one channel per
// file, applying system-wide Defaults to unset fields.
func (l *configLoader) loadChannels(defaults *Defaults) (map[string]*ChannelConfig, error) {
	dir := filepath.Join(l.configDir, "channels")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, dir)
		}
		return nil, fmt.Errorf("reading channels directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if !strings.HasSuffix(e.Name(), ".yaml") && !strings.HasSuffix(e.Name(), ".yml") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	channels := make(map[string]*ChannelConfig, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		var ch ChannelConfig
		if err := l.loadYAML(path, &ch); err != nil {
			return nil, NewLoadError(filepath.Join("channels", name), err)
		}

		if ch.MaxConcurrent == 0 {
			ch.MaxConcurrent = defaults.MaxConcurrent
		}
		if ch.StorageStrategy == "" {
			ch.StorageStrategy = defaults.StorageStrategy
		}

		if existing, ok := channels[ch.Key]; ok {
			return nil, fmt.Errorf("%w: %s (files %s conflict)", ErrDuplicateChannelKey, ch.Key, existing.Name)
		}
		chCopy := ch
		channels[ch.Key] = &chCopy
	}

	return channels, nil
}
