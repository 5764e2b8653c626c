package database

import "errors"

// ErrUnavailable marks storage-layer failures (connection loss, timeouts).
// Callers may retry idempotent operations with backoff; they must never
// treat it as success.
var ErrUnavailable = errors.New("storage unavailable")
