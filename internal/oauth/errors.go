package oauth

import "errors"

var (
	// ErrUnknownProvider means the provider name is not configured
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrInvalidState means the CSRF state value is missing, expired, or was
	// already consumed. Never retried: replaying a state is a security bug.
	ErrInvalidState = errors.New("invalid or expired authorization state")

	// ErrProviderExchange means the upstream token endpoint failed. Transient;
	// the caller may retry with backoff.
	ErrProviderExchange = errors.New("provider token exchange failed")

	// ErrReauthorizationRequired means no usable credential exists and a
	// refresh is impossible. Surfaced to the user as "reconnect your
	// account", never retried automatically.
	ErrReauthorizationRequired = errors.New("reauthorization required")

	// ErrConnectionNotFound means no ACTIVE connection exists for the pair
	ErrConnectionNotFound = errors.New("no active connection")

	// ErrRefreshConflict means a concurrent write moved the connection
	// between the refresh read and its commit
	ErrRefreshConflict = errors.New("connection changed during refresh")
)
