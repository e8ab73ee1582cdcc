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

package traces

import (
	"fmt"
	"time"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"

	"github.com/tombee/beacon/internal/commands/shared"
)

func newPurgeCommand() *cobra.Command {
	var yes bool
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete traces from the local store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPurge(cmd, yes, olderThan)
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "Skip the confirmation prompt")
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Only delete traces older than this duration (e.g. 72h)")

	return cmd
}

func runPurge(cmd *cobra.Command, yes bool, olderThan time.Duration) error {
	if !yes {
		if shared.IsNonInteractive() {
			return fmt.Errorf("refusing to purge without --yes in non-interactive mode")
		}
		prompt := &survey.Confirm{
			Message: "Delete traces from the local store?",
			Default: false,
		}
		var confirmed bool
		if err := survey.AskOne(prompt, &confirmed); err != nil {
			return err
		}
		if !confirmed {
			cmd.Println(shared.Muted.Render("Aborted."))
			return nil
		}
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	var deleted int64
	if olderThan > 0 {
		deleted, err = store.DeleteTracesOlderThan(cmd.Context(), time.Now().Add(-olderThan))
	} else {
		deleted, err = store.DeleteAllTraces(cmd.Context())
	}
	if err != nil {
		return fmt.Errorf("purge failed: %w", err)
	}

	if shared.GetJSON() {
		type purgeResult struct {
			shared.JSONResponse
			Deleted int64 `json:"deleted"`
		}
		return shared.EmitJSON(purgeResult{
			JSONResponse: shared.NewJSONResponse("traces purge", true),
			Deleted:      deleted,
		})
	}

	cmd.Println(shared.RenderOK(fmt.Sprintf("Deleted %d traces", deleted)))
	return nil
}
