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

// Package traces implements trace inspection commands over the local
// store.
package traces

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tombee/beacon/internal/commands/shared"
	"github.com/tombee/beacon/internal/config"
	"github.com/tombee/beacon/internal/storage"
)

// NewTracesCommand creates the traces command group.
func NewTracesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "traces",
		Short: "Inspect traces in the local store",
	}
	cmd.AddCommand(newListCommand())
	cmd.AddCommand(newShowCommand())
	cmd.AddCommand(newPurgeCommand())
	return cmd
}

// openStore opens the configured SQLite store. The caller closes it.
func openStore() (*storage.SQLiteStore, error) {
	cfg, err := config.Load(shared.GetConfigPath())
	if err != nil {
		return nil, shared.NewConfigError("failed to load config", err)
	}
	store, err := storage.New(storage.Config{Path: cfg.Storage.Path})
	if err != nil {
		return nil, shared.NewConfigError(fmt.Sprintf("failed to open store at %s", cfg.Storage.Path), err)
	}
	return store, nil
}
