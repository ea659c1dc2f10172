// Package llm provides the model client used for driver generation and
// failure diagnosis, plus the typed failure kinds callers branch on.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// Client is the minimal completion interface the rest of the system depends
// on. Implementations must be safe for concurrent use.
type Client interface {
	// Complete sends a prompt and returns the model's text response.
	Complete(ctx context.Context, prompt string) (string, error)

	// CompleteWithSystem sends a prompt with a system instruction.
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// ErrorKind distinguishes generation-service failures. All of them mean the
// service could not produce a usable response; callers map them to an
// environment failure rather than propagating.
type ErrorKind int

const (
	ErrKindNetwork ErrorKind = iota
	ErrKindRateLimited
	ErrKindAuthFailed
	ErrKindBadResponse
)

func (k ErrorKind) String() string {
	switch k {
	case ErrKindRateLimited:
		return "rate_limited"
	case ErrKindAuthFailed:
		return "auth_failed"
	case ErrKindBadResponse:
		return "bad_response"
	default:
		return "network"
	}
}

// APIError is a typed generation-service failure. Check with errors.As.
type APIError struct {
	Kind    ErrorKind
	Status  int // HTTP status when applicable, 0 otherwise
	Message string
	Err     error
}

func (e *APIError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("llm %s (status %d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("llm %s: %s", e.Kind, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

// IsRateLimited reports whether err is a rate-limit failure.
func IsRateLimited(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Kind == ErrKindRateLimited
}

// IsAuthFailed reports whether err is an authentication failure.
func IsAuthFailed(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Kind == ErrKindAuthFailed
}
