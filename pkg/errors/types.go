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

package errors

import (
	"fmt"
	"time"
)

// ConfigurationError represents invalid forwarder or collector configuration.
// Use this for missing or malformed settings detected at construction time.
// Configuration errors are fatal: no component instance is created.
type ConfigurationError struct {
	// Field identifies which configuration field is invalid
	Field string

	// Reason explains what's wrong with the configuration
	Reason string

	// Cause is the underlying error (e.g., URL parse error)
	Cause error
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("configuration error at %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("configuration error: %s", e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigurationError) Unwrap() error {
	return e.Cause
}

// ErrorType returns the error category for classification.
func (e *ConfigurationError) ErrorType() string { return "configuration" }

// IsRetryable reports whether the operation should be retried.
// Configuration errors are never retryable.
func (e *ConfigurationError) IsRetryable() bool { return false }

// TransientDeliveryError represents a recoverable delivery failure:
// a network error, a non-2xx collector response, or a timeout.
// The forwarder requeues the batch and retries with backoff; this error
// is never surfaced to Enqueue callers.
type TransientDeliveryError struct {
	// Endpoint is the collector URL the batch was sent to
	Endpoint string

	// StatusCode is the HTTP status code (0 for network errors)
	StatusCode int

	// Records is the number of records in the failed batch
	Records int

	// Cause is the underlying error (network, timeout)
	Cause error
}

// Error implements the error interface.
func (e *TransientDeliveryError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("delivery to %s failed [HTTP %d] (%d records)", e.Endpoint, e.StatusCode, e.Records)
	}
	if e.Cause != nil {
		return fmt.Sprintf("delivery to %s failed (%d records): %v", e.Endpoint, e.Records, e.Cause)
	}
	return fmt.Sprintf("delivery to %s failed (%d records)", e.Endpoint, e.Records)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *TransientDeliveryError) Unwrap() error {
	return e.Cause
}

// ErrorType returns the error category for classification.
func (e *TransientDeliveryError) ErrorType() string { return "transient_delivery" }

// IsRetryable reports whether the operation should be retried.
// Transient delivery failures are always retryable.
func (e *TransientDeliveryError) IsRetryable() bool { return true }

// CredentialExpiredError indicates the configured API key expired.
// The forwarder skips the flush without a network call and preserves the
// buffer; a new forwarder with fresh credentials picks the records up.
type CredentialExpiredError struct {
	// KeyID identifies the expired API key
	KeyID string

	// ExpiredAt is the key's expiry timestamp
	ExpiredAt time.Time
}

// Error implements the error interface.
func (e *CredentialExpiredError) Error() string {
	if e.KeyID != "" {
		return fmt.Sprintf("api key %s expired at %s", e.KeyID, e.ExpiredAt.Format(time.RFC3339))
	}
	return fmt.Sprintf("api key expired at %s", e.ExpiredAt.Format(time.RFC3339))
}

// ErrorType returns the error category for classification.
func (e *CredentialExpiredError) ErrorType() string { return "credential_expired" }

// IsRetryable reports whether the operation should be retried.
// Expired credentials are not retried; the flush is skipped until the
// configuration is replaced.
func (e *CredentialExpiredError) IsRetryable() bool { return false }

// CapacityDropError records that buffered telemetry was evicted to bound
// memory. It is informational: the forwarder counts drops in stats and
// never returns this error to callers.
type CapacityDropError struct {
	// Dropped is the number of records evicted
	Dropped int

	// MaxBufferSize is the configured buffer cap that was exceeded
	MaxBufferSize int
}

// Error implements the error interface.
func (e *CapacityDropError) Error() string {
	return fmt.Sprintf("dropped %d oldest records: buffer exceeded max size %d", e.Dropped, e.MaxBufferSize)
}

// ErrorType returns the error category for classification.
func (e *CapacityDropError) ErrorType() string { return "capacity_drop" }

// IsRetryable reports whether the operation should be retried.
// Dropped records are gone; the loss is deliberate and countable.
func (e *CapacityDropError) IsRetryable() bool { return false }

// CollectorError represents an error response from the collector API.
// Use this on the server side and in clients that talk to collector
// admin/status endpoints.
type CollectorError struct {
	// StatusCode is the HTTP status code returned
	StatusCode int

	// Message is the human-readable error message
	Message string

	// RequestID correlates this error with collector logs
	RequestID string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *CollectorError) Error() string {
	msg := "collector error"
	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s [HTTP %d]", msg, e.StatusCode)
	}
	msg = fmt.Sprintf("%s: %s", msg, e.Message)
	if e.RequestID != "" {
		msg = fmt.Sprintf("%s (request-id: %s)", msg, e.RequestID)
	}
	return msg
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CollectorError) Unwrap() error {
	return e.Cause
}

// ErrorType returns the error category for classification.
func (e *CollectorError) ErrorType() string { return "collector" }

// IsRetryable reports whether the operation should be retried.
// 5xx and 429 responses are retryable; the rest are not.
func (e *CollectorError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// ValidationError represents user input validation failures.
// Use this for invalid user input, malformed data, or constraint violations.
type ValidationError struct {
	// Field identifies which input field failed validation
	Field string

	// Message is the human-readable error description
	Message string

	// SuggestText provides actionable guidance for fixing the error
	SuggestText string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// IsUserVisible marks validation failures as safe to show to users.
func (e *ValidationError) IsUserVisible() bool { return true }

// UserMessage returns the message without the field prefix.
func (e *ValidationError) UserMessage() string { return e.Message }

// Suggestion returns guidance for fixing the input, if any.
func (e *ValidationError) Suggestion() string { return e.SuggestText }

// NotFoundError represents a resource not found error.
// Use this when a requested resource does not exist.
type NotFoundError struct {
	// Resource is the type of resource (e.g., "trace", "span", "key")
	Resource string

	// ID is the identifier that was not found
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}
