package pubchem

import (
	"errors"
	"fmt"

	"toxfetch/internal/model"
)

// Common errors returned by the client.
var (
	// ErrNotFound is returned when PubChem has no entry for the requested name or view.
	ErrNotFound = errors.New("not found")

	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during a request or backoff.
	ErrContextCancelled = errors.New("context cancelled")
)

// ErrorClass represents a classification of request failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors other than 429.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 responses and PUGREST.ServerBusy faults.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassProcessing represents 202 Accepted: PubChem is still computing the result.
	ErrorClassProcessing ErrorClass = "processing"

	// ErrorClassNetwork represents transport errors and timeouts.
	ErrorClassNetwork ErrorClass = "network"
)

// Retryable reports whether failures of this class are worth another attempt.
func (c ErrorClass) Retryable() bool {
	switch c {
	case ErrorClassServer, ErrorClassRateLimit, ErrorClassProcessing, ErrorClassNetwork:
		return true
	default:
		return false
	}
}

// FetchError describes a failed request for one view.
type FetchError struct {
	View       model.ViewType
	URL        string
	StatusCode int
	Class      ErrorClass
	Message    string
	Attempts   int
	Err        error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	msg := fmt.Sprintf("pubchem %s request", e.View)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" failed with HTTP %d", e.StatusCode)
	} else {
		msg += " failed"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Attempts > 1 {
		msg += fmt.Sprintf(" (after %d attempts)", e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the request may succeed if sent again.
func (e *FetchError) Retryable() bool {
	return e.Class.Retryable()
}

// ResolutionError is returned when a registry number cannot be mapped to a CID.
type ResolutionError struct {
	CAS string
	Err error
}

// Error implements the error interface.
func (e *ResolutionError) Error() string {
	if errors.Is(e.Err, ErrNotFound) {
		return fmt.Sprintf("could not find PubChem CID for CAS %s", e.CAS)
	}
	return fmt.Sprintf("could not resolve CAS %s: %v", e.CAS, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err (or an error it wraps) is a retryable FetchError.
func IsRetryable(err error) bool {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Retryable() && !errors.Is(err, ErrRetryExhausted)
	}
	return false
}
