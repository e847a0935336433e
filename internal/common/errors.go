// Package common defines shared constants and sentinel errors used across
// pixelriver components. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Input errors: malformed CSV rows, bad upload ids, rejected files.
	ErrorValidation = errors.New("validation error")

	// Request was refused by the poll rate limiter.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// A backing system (store, cache, queue, blob storage) failed or timed out.
	// Safe to retry.
	ErrTransient = errors.New("temporary infrastructure failure")

	// Missing or invalid start-up configuration.
	ErrConfiguration = errors.New("configuration error")

	// Service-level errors (generic/internal flow control).
	ErrorInternal = errors.New("internal error")
)
