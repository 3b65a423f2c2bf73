package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrStoreUnavailable   = errors.New("key-value store unavailable")
	ErrRateLimited        = errors.New("rate limit exceeded")
	ErrBackendUnavailable = errors.New("inference backend unavailable")
	ErrBackendTimeout     = errors.New("inference backend timed out")
	ErrLastSession        = errors.New("cannot delete the last session")
	ErrTooManyStreams     = errors.New("too many active streams")
)
