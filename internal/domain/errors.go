package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput         = errors.New("invalid input")
	ErrRateLimited          = errors.New("rate limited")
	ErrProviderRejected     = errors.New("provider rejected request")
	ErrProviderUnreachable  = errors.New("provider unreachable")
	ErrTimeout              = errors.New("generation timed out")
	ErrGenerationFailed     = errors.New("generation failed")
	ErrNoAssetURL           = errors.New("no asset url in result")
	ErrMissingSource        = errors.New("missing source task")
	ErrConfigurationMissing = errors.New("configuration missing")
	ErrServiceDisabled      = errors.New("service disabled")
	ErrNotFound             = errors.New("not found")
)

// RateLimitError carries the quota counts so callers can tell the user how
// close they are to the ceiling.
type RateLimitError struct {
	Current int
	Limit   int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited: %d of %d concurrent generations in use", e.Current, e.Limit)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// GenerationError is a provider-reported terminal failure with the provider's
// message passed through when available.
type GenerationError struct {
	Message string
}

func (e *GenerationError) Error() string {
	if e.Message == "" {
		return DefaultFailureMessage
	}
	return e.Message
}

func (e *GenerationError) Unwrap() error { return ErrGenerationFailed }
