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

package forwarder

import (
	"sync"
	"testing"
)

func TestReporter_FlushLifecycle(t *testing.T) {
	r := &reporter{}

	for i := 0; i < 10; i++ {
		r.OnEnqueue()
	}
	if s := r.Snapshot(); s.Queued != 10 {
		t.Fatalf("expected 10 queued, got %d", s.Queued)
	}

	r.OnFlushStart(10)
	if s := r.Snapshot(); s.Queued != 0 || s.InFlight != 10 {
		t.Fatalf("expected queued=0 inFlight=10, got %+v", s)
	}

	r.OnFlushSuccess(10)
	s := r.Snapshot()
	if s.InFlight != 0 {
		t.Errorf("expected inFlight 0 after success, got %d", s.InFlight)
	}
	if s.Sent != 10 {
		t.Errorf("expected sent 10, got %d", s.Sent)
	}
}

func TestReporter_FailureRequeuesCounts(t *testing.T) {
	r := &reporter{}

	for i := 0; i < 4; i++ {
		r.OnEnqueue()
	}
	r.OnFlushStart(4)
	r.OnFlushFailure(4)

	s := r.Snapshot()
	if s.Queued != 4 {
		t.Errorf("expected failed batch back in queued, got %d", s.Queued)
	}
	if s.Failed != 4 {
		t.Errorf("expected failed 4, got %d", s.Failed)
	}
	if s.RetryCount != 1 {
		t.Errorf("expected one retry attempt, got %d", s.RetryCount)
	}

	// Second attempt succeeds.
	r.OnFlushStart(4)
	r.OnFlushSuccess(4)

	s = r.Snapshot()
	if s.Sent != 4 || s.Queued != 0 || s.InFlight != 0 {
		t.Errorf("unexpected snapshot after recovery: %+v", s)
	}
	if s.RetryCount != 1 {
		t.Errorf("retry count should not move on success, got %d", s.RetryCount)
	}
}

func TestReporter_Drop(t *testing.T) {
	r := &reporter{}

	for i := 0; i < 5; i++ {
		r.OnEnqueue()
	}
	r.OnDrop(3)

	s := r.Snapshot()
	if s.Queued != 2 {
		t.Errorf("expected queued 2, got %d", s.Queued)
	}
	if s.Dropped != 3 {
		t.Errorf("expected dropped 3, got %d", s.Dropped)
	}
}

func TestReporter_ConcurrentReads(t *testing.T) {
	r := &reporter{}

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				r.OnEnqueue()
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			_ = r.Snapshot()
		}
	}()
	wg.Wait()

	if s := r.Snapshot(); s.Queued != 4000 {
		t.Errorf("expected 4000 queued, got %d", s.Queued)
	}
}
