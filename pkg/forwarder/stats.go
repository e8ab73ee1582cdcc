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

import "sync/atomic"

// Stats is a point-in-time snapshot of forwarder counters. Queued and
// InFlight are gauges; the rest are monotonic lifetime totals.
type Stats struct {
	Queued          int64 `json:"queued"`
	InFlight        int64 `json:"inFlight"`
	Sent            int64 `json:"sent"`
	Failed          int64 `json:"failed"`
	RetryCount      int64 `json:"retryCount"`
	Dropped         int64 `json:"dropped"`
	CredentialSkips int64 `json:"credentialSkips"`
}

// reporter tracks delivery counters with atomics so Snapshot is safe
// from any goroutine, including concurrently with an in-flight flush.
type reporter struct {
	queued          atomic.Int64
	inFlight        atomic.Int64
	sent            atomic.Int64
	failed          atomic.Int64
	retryCount      atomic.Int64
	dropped         atomic.Int64
	credentialSkips atomic.Int64
}

func (r *reporter) OnEnqueue() {
	r.queued.Add(1)
}

// OnFlushStart moves count records from queued to in flight.
func (r *reporter) OnFlushStart(count int) {
	r.queued.Add(int64(-count))
	r.inFlight.Store(int64(count))
}

func (r *reporter) OnFlushSuccess(count int) {
	r.inFlight.Store(0)
	r.sent.Add(int64(count))
}

// OnFlushFailure returns the batch to queued and counts one retry
// attempt. RetryCount is per attempt, not per record.
func (r *reporter) OnFlushFailure(count int) {
	r.inFlight.Store(0)
	r.failed.Add(int64(count))
	r.retryCount.Add(1)
	r.queued.Add(int64(count))
}

func (r *reporter) OnDrop(count int) {
	r.dropped.Add(int64(count))
	r.queued.Add(int64(-count))
}

// OnCredentialSkip counts a flush skipped because the API key
// expired. The buffer is untouched, so Queued does not move.
func (r *reporter) OnCredentialSkip() {
	r.credentialSkips.Add(1)
}

func (r *reporter) Snapshot() Stats {
	return Stats{
		Queued:          r.queued.Load(),
		InFlight:        r.inFlight.Load(),
		Sent:            r.sent.Load(),
		Failed:          r.failed.Load(),
		RetryCount:      r.retryCount.Load(),
		Dropped:         r.dropped.Load(),
		CredentialSkips: r.credentialSkips.Load(),
	}
}
