package scraper

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced at the manager boundary.
var (
	ErrInvalidTarget   = errors.New("invalid target url")
	ErrInvalidSelector = errors.New("invalid selector")
	ErrQueueFull       = errors.New("submission queue full")
	ErrThrottled       = errors.New("domain throttle acquire timed out")
	ErrNotFound        = errors.New("job not found")
	ErrNotReady        = errors.New("result not ready")
	ErrAlreadyTerminal = errors.New("job already terminal")
	ErrCancelled       = errors.New("job cancelled")
)

// FetchErrorKind classifies fetch failures for retry decisions.
type FetchErrorKind string

// Fetch error kinds. Timeout, Network and retryable HTTP statuses are
// retried with backoff; the rest fail the attempt outright.
const (
	FetchTimeout     FetchErrorKind = "timeout"
	FetchNetwork     FetchErrorKind = "network"
	FetchHTTPStatus  FetchErrorKind = "http_status"
	FetchCircuitOpen FetchErrorKind = "circuit_open"
	FetchRender      FetchErrorKind = "render"
)

// FetchError wraps a backend failure with its classification.
type FetchError struct {
	Kind       FetchErrorKind
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Kind == FetchHTTPStatus {
		return fmt.Sprintf("fetch %s: http status %d", e.URL, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Retryable reports whether another attempt can reasonably succeed.
// 5xx and 429 responses are retryable; other 4xx are not. A circuit
// that is open terminates the retry loop immediately.
func (e *FetchError) Retryable() bool {
	switch e.Kind {
	case FetchTimeout, FetchNetwork, FetchRender:
		return true
	case FetchHTTPStatus:
		return e.StatusCode >= 500 || e.StatusCode == 429
	default:
		return false
	}
}

// NewFetchError builds a classified FetchError.
func NewFetchError(kind FetchErrorKind, url string, err error) *FetchError {
	return &FetchError{Kind: kind, URL: url, Err: err}
}

// NewHTTPStatusError builds a FetchError for a non-2xx response.
func NewHTTPStatusError(url string, status int) *FetchError {
	return &FetchError{Kind: FetchHTTPStatus, URL: url, StatusCode: status}
}

// Error codes exposed to callers. Stable; external tooling matches on
// these strings.
const (
	CodeInvalidTarget = "invalid_target"
	CodeInvalidInput  = "invalid_input"
	CodeQueueFull     = "queue_full"
	CodeThrottled     = "throttled"
	CodeTimeout       = "fetch_timeout"
	CodeNetwork       = "network_error"
	CodeHTTPStatus    = "http_error"
	CodeCircuitOpen   = "circuit_open"
	CodeRender        = "render_error"
	CodeCancelled     = "cancelled"
	CodeInternal      = "internal_error"
)

// ErrorCode maps an error from the fetch pipeline to its stable code.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCancelled):
		return CodeCancelled
	case errors.Is(err, ErrThrottled):
		return CodeThrottled
	case errors.Is(err, ErrInvalidTarget):
		return CodeInvalidTarget
	case errors.Is(err, ErrInvalidSelector):
		return CodeInvalidInput
	case errors.Is(err, ErrQueueFull):
		return CodeQueueFull
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		switch fe.Kind {
		case FetchTimeout:
			return CodeTimeout
		case FetchNetwork:
			return CodeNetwork
		case FetchHTTPStatus:
			return CodeHTTPStatus
		case FetchCircuitOpen:
			return CodeCircuitOpen
		case FetchRender:
			return CodeRender
		}
	}
	return CodeInternal
}
