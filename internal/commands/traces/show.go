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
	"encoding/json"
	"fmt"

	"github.com/itchyny/gojq"
	"github.com/spf13/cobra"

	"github.com/tombee/beacon/internal/commands/shared"
	beaconerrors "github.com/tombee/beacon/pkg/errors"
)

func newShowCommand() *cobra.Command {
	var jqProgram string

	cmd := &cobra.Command{
		Use:   "show <trace-id>",
		Short: "Show every span of one trace",
		Long: `Print the spans of a trace as JSON. The --jq flag applies a jq
program to the span array:

	beacon traces show 4bf92f3577b34da6a3ce929d0e0e4736 --jq '.[].name'
	beacon traces show 4bf92f3577b34da6a3ce929d0e0e4736 --jq '[.[] | select(.status.code == 2)]'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(cmd, args[0], jqProgram)
		},
	}

	cmd.Flags().StringVar(&jqProgram, "jq", "", "jq program applied to the span array")

	return cmd
}

func runShow(cmd *cobra.Command, traceID, jqProgram string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	spans, err := store.GetTraceSpans(cmd.Context(), traceID)
	if err != nil {
		return fmt.Errorf("failed to load trace: %w", err)
	}
	if len(spans) == 0 {
		return &beaconerrors.NotFoundError{Resource: "trace", ID: traceID}
	}

	encoded, err := json.Marshal(spans)
	if err != nil {
		return fmt.Errorf("failed to encode spans: %w", err)
	}

	if jqProgram == "" {
		var pretty json.RawMessage = encoded
		out, err := json.MarshalIndent(pretty, "", "  ")
		if err != nil {
			return err
		}
		cmd.Println(string(out))
		return nil
	}

	query, err := gojq.Parse(jqProgram)
	if err != nil {
		return shared.NewConfigError(fmt.Sprintf("invalid jq program %q", jqProgram), err)
	}

	// gojq operates on decoded any values
	var input any
	if err := json.Unmarshal(encoded, &input); err != nil {
		return err
	}

	iter := query.RunWithContext(cmd.Context(), input)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			return shared.NewConfigError("jq evaluation failed", err)
		}
		out, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		cmd.Println(string(out))
	}
	return nil
}
