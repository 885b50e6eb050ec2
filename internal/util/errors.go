package util

import "errors"

// Sentinel errors for common failure modes
var (
	// ErrNotFound indicates a required resource was not found
	ErrNotFound = errors.New("not found")

	// ErrInvalidConfig indicates invalid configuration
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrAuthRevoked indicates the stored refresh token was rejected by
	// the provider; no retry can recover it and the operator must
	// re-authorize the source
	ErrAuthRevoked = errors.New("authorization revoked")

	// ErrSyncInFlight indicates a sync run for the same source is
	// already in progress
	ErrSyncInFlight = errors.New("sync already in flight")

	// ErrSourceDisabled indicates an operation was requested on a
	// disabled source
	ErrSourceDisabled = errors.New("source disabled")

	// ErrUnsupported indicates a file format or operation is not supported
	ErrUnsupported = errors.New("unsupported")
)
