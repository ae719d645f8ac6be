// Package credentials custodies per-channel, per-service OAuth token
// bundles at rest: sealed with golang.org/x/crypto/nacl/secretbox under a
// single operator-supplied key (never itself stored), refreshed proactively
// before they expire, with refresh serialized per (channel, service) so two
// concurrent stage calls for the same credential never race to refresh it
// twice.
package credentials

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/nacl/secretbox"
)

// refreshWindow is how far ahead of expiry a credential is refreshed
// proactively, rather than left to fail on first use.
const refreshWindow = 10 * time.Minute

const nonceSize = 24

// ErrNotFound indicates no credential row exists for (channelID, service).
var ErrNotFound = errors.New("credential not found")

// TokenBundle is the plaintext sealed inside a credential row's ciphertext.
type TokenBundle struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	Expiry       time.Time `json:"expiry"`
}

// Refresher exchanges a credential's refresh token for a new bundle. The
// concrete exchange (talking to each service's OAuth endpoint) is out of
// scope here; callers supply an implementation per service.
type Refresher interface {
	Refresh(ctx context.Context, channelID, service string, current *TokenBundle) (*TokenBundle, error)
}

// Vault stores and retrieves encrypted token bundles.
type Vault struct {
	db        *sql.DB
	key       [32]byte
	refresher Refresher

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewVault builds a Vault. encryptionKeyB64 must decode to exactly 32 bytes
// (a secretbox key), matching SystemConfig.EncryptionKey.
func NewVault(db *sql.DB, encryptionKeyB64 string, refresher Refresher) (*Vault, error) {
	raw, err := base64.StdEncoding.DecodeString(encryptionKeyB64)
	if err != nil {
		return nil, fmt.Errorf("decode encryption key: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("encryption key must decode to 32 bytes, got %d", len(raw))
	}
	v := &Vault{db: db, refresher: refresher, locks: make(map[string]*sync.Mutex)}
	copy(v.key[:], raw)
	return v, nil
}

func lockKey(channelID, service string) string { return channelID + ":" + service }

func (v *Vault) keyLock(channelID, service string) *sync.Mutex {
	v.mu.Lock()
	defer v.mu.Unlock()
	k := lockKey(channelID, service)
	l, ok := v.locks[k]
	if !ok {
		l = &sync.Mutex{}
		v.locks[k] = l
	}
	return l
}

// Get returns the current token bundle for (channelID, service), refreshing
// it first if it is within refreshWindow of expiry. Refresh is serialized
// per (channelID, service): concurrent callers for the same credential
// block on each other rather than each issuing their own refresh.
func (v *Vault) Get(ctx context.Context, channelID, service string) (*TokenBundle, error) {
	lock := v.keyLock(channelID, service)
	lock.Lock()
	defer lock.Unlock()

	bundle, err := v.load(ctx, channelID, service)
	if err != nil {
		return nil, err
	}

	if time.Until(bundle.Expiry) > refreshWindow {
		return bundle, nil
	}
	if v.refresher == nil {
		return bundle, nil
	}

	refreshed, err := v.refresher.Refresh(ctx, channelID, service, bundle)
	if err != nil {
		return nil, fmt.Errorf("refresh credential %s/%s: %w", channelID, service, err)
	}
	if err := v.store(ctx, channelID, service, refreshed); err != nil {
		return nil, fmt.Errorf("persist refreshed credential %s/%s: %w", channelID, service, err)
	}
	return refreshed, nil
}

// Put encrypts and upserts bundle for (channelID, service).
func (v *Vault) Put(ctx context.Context, channelID, service string, bundle *TokenBundle) error {
	lock := v.keyLock(channelID, service)
	lock.Lock()
	defer lock.Unlock()
	return v.store(ctx, channelID, service, bundle)
}

func (v *Vault) load(ctx context.Context, channelID, service string) (*TokenBundle, error) {
	var ciphertext []byte
	err := v.db.QueryRowContext(ctx, `
		SELECT ciphertext FROM credentials WHERE channel_id = $1 AND service = $2
	`, channelID, service).Scan(&ciphertext)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, channelID, service)
	case err != nil:
		return nil, fmt.Errorf("load credential %s/%s: %w", channelID, service, err)
	}
	return v.open(ciphertext)
}

func (v *Vault) store(ctx context.Context, channelID, service string, bundle *TokenBundle) error {
	ciphertext, err := v.seal(bundle)
	if err != nil {
		return fmt.Errorf("seal credential %s/%s: %w", channelID, service, err)
	}
	_, err = v.db.ExecContext(ctx, `
		INSERT INTO credentials (channel_id, service, ciphertext, refreshed_at, expires_at)
		VALUES ($1, $2, $3, now(), $4)
		ON CONFLICT (channel_id, service) DO UPDATE
		SET ciphertext = EXCLUDED.ciphertext, refreshed_at = now(), expires_at = EXCLUDED.expires_at
	`, channelID, service, ciphertext, bundle.Expiry)
	return err
}

func (v *Vault) seal(bundle *TokenBundle) ([]byte, error) {
	plaintext, err := json.Marshal(bundle)
	if err != nil {
		return nil, fmt.Errorf("marshal token bundle: %w", err)
	}

	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	sealed := secretbox.Seal(nonce[:], plaintext, &nonce, &v.key)
	return sealed, nil
}

func (v *Vault) open(ciphertext []byte) (*TokenBundle, error) {
	if len(ciphertext) < nonceSize {
		return nil, errors.New("ciphertext too short to contain nonce")
	}
	var nonce [nonceSize]byte
	copy(nonce[:], ciphertext[:nonceSize])

	plaintext, ok := secretbox.Open(nil, ciphertext[nonceSize:], &nonce, &v.key)
	if !ok {
		return nil, errors.New("credential decryption failed: wrong key or corrupted ciphertext")
	}

	var bundle TokenBundle
	if err := json.Unmarshal(plaintext, &bundle); err != nil {
		return nil, fmt.Errorf("unmarshal token bundle: %w", err)
	}
	return &bundle, nil
}
