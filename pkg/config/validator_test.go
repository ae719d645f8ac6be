package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validChannel(key string) *ChannelConfig {
	return &ChannelConfig{
		Key:             key,
		Name:            "Test Channel",
		MaxConcurrent:   2,
		StorageStrategy: StorageInline,
		PublishBinding:  PublishBindingConfig{Target: "youtube", Service: "upload"},
	}
}

func TestValidateChannels(t *testing.T) {
	tests := []struct {
		name     string
		channels map[string]*ChannelConfig
		wantErr  bool
		errIs    error
	}{
		{
			name:     "valid single channel",
			channels: map[string]*ChannelConfig{"acme": validChannel("acme")},
		},
		{
			name: "missing name",
			channels: map[string]*ChannelConfig{"acme": func() *ChannelConfig {
				c := validChannel("acme")
				c.Name = ""
				return c
			}()},
			wantErr: true,
			errIs:   ErrMissingRequiredField,
		},
		{
			name: "negative max_concurrent",
			channels: map[string]*ChannelConfig{"acme": func() *ChannelConfig {
				c := validChannel("acme")
				c.MaxConcurrent = -1
				return c
			}()},
			wantErr: true,
		},
		{
			name: "invalid storage strategy",
			channels: map[string]*ChannelConfig{"acme": func() *ChannelConfig {
				c := validChannel("acme")
				c.StorageStrategy = "bogus"
				return c
			}()},
			wantErr: true,
			errIs:   ErrInvalidValue,
		},
		{
			name: "missing publish binding target",
			channels: map[string]*ChannelConfig{"acme": func() *ChannelConfig {
				c := validChannel("acme")
				c.PublishBinding.Target = ""
				return c
			}()},
			wantErr: true,
			errIs:   ErrMissingRequiredField,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Queue:    DefaultQueueConfig(),
				Channels: NewChannelRegistry(tt.channels),
			}
			err := NewValidator(cfg).validateChannels()
			if tt.wantErr {
				require.Error(t, err)
				if tt.errIs != nil {
					assert.ErrorIs(t, err, tt.errIs)
				}
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestValidateServiceCaps(t *testing.T) {
	tests := []struct {
		name    string
		caps    map[string]ServiceCapConfig
		wantErr bool
	}{
		{
			name: "valid",
			caps: map[string]ServiceCapConfig{
				ServiceVideo: {GlobalConcurrency: 5, PerChannelRate: 2, PerChannelWindow: time.Minute},
			},
		},
		{
			name: "zero global concurrency",
			caps: map[string]ServiceCapConfig{
				ServiceVideo: {GlobalConcurrency: 0, PerChannelRate: 2, PerChannelWindow: time.Minute},
			},
			wantErr: true,
		},
		{
			name: "zero per-channel rate",
			caps: map[string]ServiceCapConfig{
				ServiceVideo: {GlobalConcurrency: 5, PerChannelRate: 0, PerChannelWindow: time.Minute},
			},
			wantErr: true,
		},
		{
			name: "zero window",
			caps: map[string]ServiceCapConfig{
				ServiceVideo: {GlobalConcurrency: 5, PerChannelRate: 2, PerChannelWindow: 0},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{ServiceCaps: tt.caps}
			err := NewValidator(cfg).validateServiceCaps()
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestValidateAll(t *testing.T) {
	cfg := &Config{
		Queue:       DefaultQueueConfig(),
		ServiceCaps: DefaultServiceCaps(),
		Channels:    NewChannelRegistry(map[string]*ChannelConfig{"acme": validChannel("acme")}),
	}
	require.NoError(t, NewValidator(cfg).ValidateAll())
}

func TestValidateChannelsDuplicateRegistryKeyMismatch(t *testing.T) {
	ch := validChannel("acme")
	cfg := &Config{
		Queue:    DefaultQueueConfig(),
		Channels: NewChannelRegistry(map[string]*ChannelConfig{"different-key": ch}),
	}
	err := NewValidator(cfg).validateChannels()
	require.Error(t, err)
}
