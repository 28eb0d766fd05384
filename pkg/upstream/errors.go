package upstream

import (
	"errors"
	"fmt"
)

var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")

	// ErrCircuitOpen is returned while the breaker rejects calls to the node.
	ErrCircuitOpen = errors.New("upstream circuit open")

	// ErrMalformedResponse is returned when the node answers with something
	// that is not a JSON-RPC response object.
	ErrMalformedResponse = errors.New("malformed upstream response")
)

// ErrorClass represents a classification of forwarding failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx responses.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx responses.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassOverloaded represents 503 responses from a busy node.
	ErrorClassOverloaded ErrorClass = "overloaded"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"
)

// UpstreamError is a failed exchange with the upstream node.
type UpstreamError struct {
	StatusCode int
	ErrorClass ErrorClass
	Message    string
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream %s error (status %d): %s: %v",
			e.ErrorClass, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("upstream %s error (status %d): %s",
		e.ErrorClass, e.StatusCode, e.Message)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// shouldRetry determines if an error class is worth another attempt.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassServer, ErrorClassOverloaded, ErrorClassNetwork:
		return true
	default:
		return false
	}
}

// classify maps a failed attempt to its error class.
func classify(err error) ErrorClass {
	var upstreamErr *UpstreamError
	if errors.As(err, &upstreamErr) {
		return upstreamErr.ErrorClass
	}
	return ErrorClassNetwork
}

func classifyStatus(statusCode int) ErrorClass {
	switch {
	case statusCode == 503:
		return ErrorClassOverloaded
	case statusCode >= 500:
		return ErrorClassServer
	case statusCode >= 400:
		return ErrorClassClient
	default:
		return ""
	}
}
