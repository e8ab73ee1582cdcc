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

package errors_test

import (
	"errors"
	"testing"
	"time"

	beaconerrors "github.com/tombee/beacon/pkg/errors"
)

func TestWrap(t *testing.T) {
	base := errors.New("connection refused")

	wrapped := beaconerrors.Wrap(base, "flushing batch")
	if wrapped == nil {
		t.Fatal("Wrap returned nil for non-nil error")
	}
	if wrapped.Error() != "flushing batch: connection refused" {
		t.Errorf("Wrap() = %q", wrapped.Error())
	}
	if !errors.Is(wrapped, base) {
		t.Error("wrapped error should match base via errors.Is")
	}

	if got := beaconerrors.Wrap(nil, "context"); got != nil {
		t.Errorf("Wrap(nil) = %v, want nil", got)
	}
}

func TestWrapf(t *testing.T) {
	base := errors.New("no such table")

	wrapped := beaconerrors.Wrapf(base, "storing span %s", "00f067aa0ba902b7")
	want := "storing span 00f067aa0ba902b7: no such table"
	if wrapped.Error() != want {
		t.Errorf("Wrapf() = %q, want %q", wrapped.Error(), want)
	}

	if got := beaconerrors.Wrapf(nil, "storing span %s", "x"); got != nil {
		t.Errorf("Wrapf(nil) = %v, want nil", got)
	}
}

func TestIsConfiguration(t *testing.T) {
	cfgErr := &beaconerrors.ConfigurationError{Field: "api_key", Reason: "missing"}
	wrapped := beaconerrors.Wrap(cfgErr, "building forwarder")

	if !beaconerrors.IsConfiguration(wrapped) {
		t.Error("IsConfiguration should see through wrapping")
	}
	if beaconerrors.IsConfiguration(errors.New("other")) {
		t.Error("IsConfiguration matched an unrelated error")
	}
}

func TestIsTransientDelivery(t *testing.T) {
	delivery := &beaconerrors.TransientDeliveryError{StatusCode: 502, Records: 1}
	wrapped := beaconerrors.Wrap(delivery, "flush")

	if !beaconerrors.IsTransientDelivery(wrapped) {
		t.Error("IsTransientDelivery should see through wrapping")
	}
	if beaconerrors.IsTransientDelivery(nil) {
		t.Error("IsTransientDelivery(nil) should be false")
	}
}

func TestIsCredentialExpired(t *testing.T) {
	expired := &beaconerrors.CredentialExpiredError{
		KeyID:     "key_1",
		ExpiredAt: time.Now().Add(-time.Hour),
	}

	if !beaconerrors.IsCredentialExpired(expired) {
		t.Error("IsCredentialExpired should match directly")
	}
	if beaconerrors.IsCredentialExpired(errors.New("expired")) {
		t.Error("IsCredentialExpired matched a plain error")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "transient delivery",
			err:  &beaconerrors.TransientDeliveryError{StatusCode: 500},
			want: true,
		},
		{
			name: "wrapped transient delivery",
			err:  beaconerrors.Wrap(&beaconerrors.TransientDeliveryError{}, "flush"),
			want: true,
		},
		{
			name: "configuration",
			err:  &beaconerrors.ConfigurationError{Reason: "bad"},
			want: false,
		},
		{
			name: "plain error",
			err:  errors.New("unknown"),
			want: false,
		},
		{
			name: "nil",
			err:  nil,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := beaconerrors.IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}
