// Package httpclient provides a unified HTTP client factory with consistent
// timeout and observability behavior for the beacon toolkit.
//
// The package creates HTTP clients with sensible, secure defaults including:
//   - Request logging with sanitized URLs (sensitive parameters redacted)
//   - User-Agent header injection
//   - TLS 1.2 minimum (TLS 1.3 preferred)
//   - Connection pooling for performance
//
// # Usage
//
// Create a client with default settings:
//
//	client, err := httpclient.New(httpclient.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	resp, err := client.Get("https://collector.example.com/v1/status")
//
// Customize configuration:
//
//	cfg := httpclient.DefaultConfig()
//	cfg.UserAgent = "my-service/2.0"
//	cfg.Timeout = 60 * time.Second
//	client, err := httpclient.New(cfg)
//
// # Retry Behavior
//
// This package deliberately performs no automatic retries. The trace
// forwarder requeues a failed batch as a single unit and schedules its
// own backoff; a retry layer underneath it would re-send batches the
// forwarder believes failed and break its single-flight accounting.
// Callers that need retries own them.
//
// # Logging
//
// Requests are logged at debug level (warn for failures and 4xx/5xx
// responses) with method, sanitized URL, status, and duration. Query
// parameters whose names suggest credentials are replaced with
// "[REDACTED]" before logging.
package httpclient
