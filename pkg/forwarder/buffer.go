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
	"encoding/json"
	"sync"
)

// Record is a pre-marshaled telemetry record. The forwarder treats
// records as opaque; callers serialize spans before enqueueing.
type Record = json.RawMessage

// Buffer is a mutex-guarded FIFO of pending records. Drain swaps the
// backing slice so concurrent enqueues during a flush land in a fresh
// slice and are never lost.
type Buffer struct {
	mu      sync.Mutex
	records []Record
}

// NewBuffer creates an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Enqueue appends a record at the tail. Never blocks.
func (b *Buffer) Enqueue(rec Record) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records = append(b.records, rec)
}

// Drain atomically removes and returns all queued records, leaving the
// buffer empty. Returns nil when the buffer is empty.
func (b *Buffer) Drain() []Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.records) == 0 {
		return nil
	}
	batch := b.records
	b.records = nil
	return batch
}

// Requeue re-inserts a previously drained batch at the head so retried
// records are sent before newer ones.
func (b *Buffer) Requeue(batch []Record) {
	if len(batch) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records = append(batch, b.records...)
}

// Len returns the number of queued records.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}

// EvictOldest removes up to n records from the head and returns how
// many were removed.
func (b *Buffer) EvictOldest(n int) int {
	if n <= 0 {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if n > len(b.records) {
		n = len(b.records)
	}
	b.records = b.records[n:]
	return n
}
