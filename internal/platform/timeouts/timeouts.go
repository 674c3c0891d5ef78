// Package timeouts defines shared timeout constants used across the relay.
// Centralizing these values prevents drift between boundaries and makes the
// durations discoverable.
package timeouts

import "time"

// ReadHeader limits how long the HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long the HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second

// TranslateRequest caps the wait for a single translation call. The gateway
// falls back to the original text when this elapses.
const TranslateRequest = 3 * time.Second
