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
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/tombee/beacon/internal/commands/shared"
	beaconerrors "github.com/tombee/beacon/pkg/errors"
)

func TestShow_TraceNotFound(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	cfg := fmt.Sprintf("storage:\n  path: %s\n", filepath.Join(dir, "beacon.db"))
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	shared.SetConfigPathForTest(cfgPath)
	t.Cleanup(func() { shared.SetConfigPathForTest("") })

	const traceID = "0af7651916cd43dd8448eb211c80319c"
	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	err := runShow(cmd, traceID, "")

	var nfErr *beaconerrors.NotFoundError
	if !errors.As(err, &nfErr) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	if nfErr.Resource != "trace" {
		t.Errorf("expected resource trace, got %q", nfErr.Resource)
	}
	if nfErr.ID != traceID {
		t.Errorf("expected id %s, got %q", traceID, nfErr.ID)
	}
	if !strings.Contains(err.Error(), traceID) {
		t.Errorf("expected trace id in message, got %q", err.Error())
	}
}
