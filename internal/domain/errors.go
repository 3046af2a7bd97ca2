package domain

import "errors"

var (
	// ErrValidation signals a malformed or out-of-bounds request.
	ErrValidation = errors.New("validation failed")
	// ErrInputTooLarge signals embedding input exceeding the configured budget.
	ErrInputTooLarge = errors.New("input too large")
	// ErrRateLimited signals the embedding provider rate limit was hit.
	ErrRateLimited = errors.New("rate limited")
	// ErrProvider signals an embedding provider failure.
	ErrProvider = errors.New("embedding provider error")
	// ErrInvalidEmbedding signals a provider vector that fails dimension validation.
	ErrInvalidEmbedding = errors.New("invalid embedding result")
	// ErrBackendUnavailable signals a storage backend RPC failure.
	ErrBackendUnavailable = errors.New("search backend unavailable")
	// ErrTimeout signals the per-search deadline was exceeded.
	ErrTimeout = errors.New("search timed out")
)
