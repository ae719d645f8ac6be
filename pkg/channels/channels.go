// Package channels bridges the operator-facing channel config (keyed by the
// human channel_key) and the DB-side channels table (keyed by a generated
// channel_id), which is what tasks, credentials, and the rate/concurrency
// gates all key their rows on. Sync runs once at startup: every channel
// named in config gets a row, created on first sight and left alone after
// (the UUID, once assigned, never changes).
package channels

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/kestrelmedia/reelforge/pkg/config"
)

// ErrUnknownKey is returned by ResolveID for a channel_key that was never
// synced - either a config file was removed after its channel already had
// tasks, or a webhook named a channel that was never onboarded.
var ErrUnknownKey = errors.New("unknown channel key")

// Directory is the read-mostly key<->id lookup table built by Sync.
type Directory struct {
	keyToID map[string]string
	idToKey map[string]string
}

// ResolveID returns the channel_id for a channel_key.
func (d *Directory) ResolveID(key string) (string, error) {
	id, ok := d.keyToID[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	return id, nil
}

// ResolveKey returns the channel_key for a channel_id.
func (d *Directory) ResolveKey(id string) (string, error) {
	key, ok := d.idToKey[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownKey, id)
	}
	return key, nil
}

// Sync upserts every channel in registry into the channels table: inserting
// a fresh UUID for a key seen for the first time, updating the mutable
// columns (name, active, voice_id, branding, storage_strategy,
// max_concurrent, publish_binding) for ones already known, and never
// touching channel_id once assigned. Returns a Directory for immediate use.
func Sync(ctx context.Context, db *sql.DB, registry *config.ChannelRegistry) (*Directory, error) {
	dir := &Directory{keyToID: make(map[string]string), idToKey: make(map[string]string)}

	for key, cfg := range registry.GetAll() {
		branding, err := json.Marshal(cfg.Branding)
		if err != nil {
			return nil, fmt.Errorf("marshal branding for channel %s: %w", key, err)
		}
		publishBinding, err := json.Marshal(cfg.PublishBinding)
		if err != nil {
			return nil, fmt.Errorf("marshal publish binding for channel %s: %w", key, err)
		}

		var id string
		err = db.QueryRowContext(ctx, `SELECT channel_id FROM channels WHERE key = $1`, key).Scan(&id)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			id = uuid.NewString()
			if _, err := db.ExecContext(ctx, `
				INSERT INTO channels (channel_id, key, name, active, voice_id, branding_json,
					storage_strategy, max_concurrent, publish_binding)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			`, id, key, cfg.Name, cfg.IsActive(), cfg.VoiceID, branding,
				string(cfg.StorageStrategy), cfg.MaxConcurrent, publishBinding); err != nil {
				return nil, fmt.Errorf("insert channel %s: %w", key, err)
			}
		case err != nil:
			return nil, fmt.Errorf("lookup channel %s: %w", key, err)
		default:
			if _, err := db.ExecContext(ctx, `
				UPDATE channels
				SET name = $1, active = $2, voice_id = $3, branding_json = $4,
				    storage_strategy = $5, max_concurrent = $6, publish_binding = $7
				WHERE channel_id = $8
			`, cfg.Name, cfg.IsActive(), cfg.VoiceID, branding,
				string(cfg.StorageStrategy), cfg.MaxConcurrent, publishBinding, id); err != nil {
				return nil, fmt.Errorf("update channel %s: %w", key, err)
			}
		}

		dir.keyToID[key] = id
		dir.idToKey[id] = key
	}

	return dir, nil
}
