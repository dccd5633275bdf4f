// Package core provides the ambient stack shared by every LLMonPy
// subsystem: structured logging, configuration, and the error taxonomy
// used across providers, rate limiting, and trace recording.
package core

import (
	"errors"
	"fmt"
)

// Sentinel errors for comparison with errors.Is(). Each corresponds to one
// recognized failure kind a caller may want to handle distinctly.
var (
	// ErrRateLimited marks a provider 429 / empty-body condition. It never
	// escapes llmclient — the rate limiter fully absorbs it — but the
	// sentinel exists so classifiers and tests can recognize it.
	ErrRateLimited = errors.New("rate limited")

	// ErrJSONFormat marks a JSON-mode response that failed to parse after
	// normalization and retry.
	ErrJSONFormat = errors.New("json format error")

	// ErrProvider marks any other transport-level provider failure.
	ErrProvider = errors.New("provider error")

	// ErrNoAPIKey marks a provider that has no credentials configured.
	ErrNoAPIKey = errors.New("no api key configured")

	// ErrStepFailure marks a step body that failed and was recorded with
	// status 500.
	ErrStepFailure = errors.New("step failed")

	// ErrTimeout marks a provider-level timeout.
	ErrTimeout = errors.New("provider timeout")

	// ErrRecorderFinalized is returned when a finalized recorder is mutated.
	ErrRecorderFinalized = errors.New("recorder already finalized")
)

// FrameworkError carries structured context around a wrapped error, in the
// style of gomind's core.FrameworkError: an operation name, a kind, an
// optional entity id, and the underlying error.
type FrameworkError struct {
	Op      string // e.g. "step.run", "ratellmiter.getTicket"
	Kind    string // e.g. "RateLimited", "JSONFormat", "StepFailure"
	ID      string // stepId, traceId, provider name, ...
	Message string
	Err     error
}

func (e *FrameworkError) Error() string {
	if e.Op != "" && e.Err != nil {
		if e.ID != "" {
			return fmt.Sprintf("%s [%s]: %v", e.Op, e.ID, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Kind)
}

func (e *FrameworkError) Unwrap() error { return e.Err }

// NewFrameworkError builds a FrameworkError wrapping err under op/kind.
func NewFrameworkError(op, kind string, err error) *FrameworkError {
	return &FrameworkError{Op: op, Kind: kind, Err: err}
}

// WithID attaches an entity id and returns the same error for chaining.
func (e *FrameworkError) WithID(id string) *FrameworkError {
	e.ID = id
	return e
}

// IsRateLimited reports whether err represents a rate-limit condition.
func IsRateLimited(err error) bool { return errors.Is(err, ErrRateLimited) }

// IsJSONFormat reports whether err represents a JSON parse failure.
func IsJSONFormat(err error) bool { return errors.Is(err, ErrJSONFormat) }

// IsNoAPIKey reports whether err represents a missing-credential condition.
func IsNoAPIKey(err error) bool { return errors.Is(err, ErrNoAPIKey) }

// IsStepFailure reports whether err represents a failed step.
func IsStepFailure(err error) bool { return errors.Is(err, ErrStepFailure) }

// IsProviderError classifies err for circuit-breaker-style accounting:
// transport/provider failures count, configuration and cancellation do not.
func IsProviderError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNoAPIKey) {
		return false
	}
	return errors.Is(err, ErrProvider) || errors.Is(err, ErrTimeout)
}
