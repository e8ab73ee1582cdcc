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

package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zalando/go-keyring"

	"github.com/tombee/beacon/internal/config"
)

const (
	keyringService = "beacon"
	keyringAccount = "api_key"
)

// Credentials are the stored login state.
type Credentials struct {
	APIKey  string    `json:"api_key"`
	BaseURL string    `json:"base_url,omitempty"`
	SavedAt time.Time `json:"saved_at"`
}

// saveCredentials writes to the OS keychain, falling back to a file
// under ~/.beacon when no keychain is available (headless machines,
// CI).
func saveCredentials(creds Credentials) error {
	creds.SavedAt = time.Now().UTC()
	data, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}

	if err := keyring.Set(keyringService, keyringAccount, string(data)); err == nil {
		return nil
	}

	path, err := config.CredentialsPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create credentials directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write credentials file: %w", err)
	}
	return nil
}

// loadCredentials reads from the keychain first, then the file
// fallback.
func loadCredentials() (Credentials, error) {
	if raw, err := keyring.Get(keyringService, keyringAccount); err == nil {
		var creds Credentials
		if err := json.Unmarshal([]byte(raw), &creds); err != nil {
			return Credentials{}, fmt.Errorf("corrupt keychain entry: %w", err)
		}
		return creds, nil
	}

	path, err := config.CredentialsPath()
	if err != nil {
		return Credentials{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Credentials{}, errNotLoggedIn
		}
		return Credentials{}, err
	}
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return Credentials{}, fmt.Errorf("corrupt credentials file: %w", err)
	}
	return creds, nil
}

// deleteCredentials clears both storage locations.
func deleteCredentials() error {
	keyringErr := keyring.Delete(keyringService, keyringAccount)
	if errors.Is(keyringErr, keyring.ErrNotFound) {
		keyringErr = nil
	}

	path, err := config.CredentialsPath()
	if err != nil {
		return err
	}
	fileErr := os.Remove(path)
	if os.IsNotExist(fileErr) {
		fileErr = nil
	}

	if keyringErr != nil && fileErr != nil {
		return fmt.Errorf("failed to clear credentials: %v; %v", keyringErr, fileErr)
	}
	return nil
}

var errNotLoggedIn = errors.New("not logged in")
