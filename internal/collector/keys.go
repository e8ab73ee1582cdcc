// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package collector

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/tombee/beacon/internal/log"
)

// Key is one row of the signing-key table. The tenant/app pair
// recorded here is authoritative over whatever the client claims.
//
// Issued keys carry the minted JWT in Token: the client holds that
// token as its API key and HMAC-signs payloads with it, so ingest
// signatures are verified against the token. Hand-written table
// entries have no token and sign with the raw secret.
type Key struct {
	KeyID    string `yaml:"key_id"`
	Secret   string `yaml:"secret"`
	Token    string `yaml:"token,omitempty"`
	TenantID string `yaml:"tenant_id"`
	AppID    string `yaml:"app_id"`
	Disabled bool   `yaml:"disabled,omitempty"`
}

// signingSecret is the string clients key their payload HMACs with.
func (k Key) signingSecret() string {
	if k.Token != "" {
		return k.Token
	}
	return k.Secret
}

type keysFile struct {
	Keys []Key `yaml:"keys"`
}

// KeyStore holds the signing-key table, reloading it when the backing
// file changes.
type KeyStore struct {
	path   string
	logger *slog.Logger

	mu   sync.RWMutex
	keys map[string]Key
}

// NewKeyStore loads the key table from path. A missing file yields an
// empty table rather than an error so a fresh dev collector can start
// before any key is issued.
func NewKeyStore(path string, logger *slog.Logger) (*KeyStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ks := &KeyStore{
		path:   path,
		logger: log.WithComponent(logger, "keystore"),
		keys:   map[string]Key{},
	}
	if err := ks.Reload(); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	}
	return ks, nil
}

// Reload reads the key table from disk and swaps it in atomically.
func (ks *KeyStore) Reload() error {
	data, err := os.ReadFile(ks.path)
	if err != nil {
		return err
	}

	var file keysFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse keys file %s: %w", ks.path, err)
	}

	keys := make(map[string]Key, len(file.Keys))
	for _, k := range file.Keys {
		if k.KeyID == "" || k.Secret == "" {
			continue
		}
		keys[k.KeyID] = k
	}

	ks.mu.Lock()
	ks.keys = keys
	ks.mu.Unlock()

	ks.logger.Debug("key table loaded", log.Int("keys", len(keys)))
	return nil
}

// Lookup returns the key for a key id. Disabled keys are invisible.
func (ks *KeyStore) Lookup(keyID string) (Key, bool) {
	ks.mu.RLock()
	k, ok := ks.keys[keyID]
	ks.mu.RUnlock()
	if !ok || k.Disabled {
		return Key{}, false
	}
	return k, true
}

// Len returns the number of loaded keys, disabled included.
func (ks *KeyStore) Len() int {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return len(ks.keys)
}

// Add appends a key to the table and persists it.
func (ks *KeyStore) Add(k Key) error {
	ks.mu.Lock()
	ks.keys[k.KeyID] = k
	file := keysFile{Keys: make([]Key, 0, len(ks.keys))}
	for _, existing := range ks.keys {
		file.Keys = append(file.Keys, existing)
	}
	ks.mu.Unlock()

	data, err := yaml.Marshal(&file)
	if err != nil {
		return fmt.Errorf("failed to marshal keys file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(ks.path), 0o700); err != nil {
		return fmt.Errorf("failed to create keys directory: %w", err)
	}
	if err := os.WriteFile(ks.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write keys file: %w", err)
	}
	return nil
}

// Watch reloads the key table whenever the backing file changes. It
// watches the parent directory because editors and atomic writers
// replace the file rather than write through it. Blocks until ctx is
// done.
func (ks *KeyStore) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(ks.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create keys directory: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(ks.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if err := ks.Reload(); err != nil {
				ks.logger.Warn("key table reload failed", log.Error(err))
				continue
			}
			ks.logger.Info("key table reloaded",
				log.String("path", ks.path),
				log.Int("keys", ks.Len()))
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			ks.logger.Warn("key watcher error", log.Error(err))
		}
	}
}

// IssueKey creates a new signing key for a tenant/app pair, mints a
// JWT for the client to use as its API key, and persists both. The
// token is stored so ingest signatures keyed by it verify.
func (ks *KeyStore) IssueKey(tenantID, appID string, ttl time.Duration) (Key, string, error) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return Key{}, "", fmt.Errorf("failed to generate secret: %w", err)
	}

	k := Key{
		KeyID:    uuid.NewString(),
		Secret:   hex.EncodeToString(secretBytes),
		TenantID: tenantID,
		AppID:    appID,
	}
	token, err := MintDevToken(k, ttl)
	if err != nil {
		return Key{}, "", err
	}
	k.Token = token

	if err := ks.Add(k); err != nil {
		return Key{}, "", err
	}
	return k, token, nil
}

// MintDevToken signs a JWT embedding the key's tenant, app, and key
// id, HMAC-signed with the key's secret.
func MintDevToken(k Key, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"tenant_id": k.TenantID,
		"app_id":    k.AppID,
		"key_id":    k.KeyID,
		"iat":       now.Unix(),
		"exp":       now.Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(k.Secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
