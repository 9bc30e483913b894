// Package fault defines the error taxonomy shared by the model client, the
// retry engine, and the pipeline: transient errors retry, terminal errors
// fail fast (optionally after a model fallback), recoverable errors are
// policy decisions, and page errors isolate one page's failure from the rest
// of a multi-page step.
package fault

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// TransientKind names the flavor of a transient failure.
type TransientKind string

const (
	KindRateLimit   TransientKind = "rate_limit"
	KindServerError TransientKind = "server_error"
	KindTimeout     TransientKind = "timeout"
	KindConnection  TransientKind = "connection"
)

// TransientError is safe to retry with backoff.
// Examples: 429 rate limit, 5xx server error, timeout, connection failure.
type TransientError struct {
	Kind       TransientKind
	HTTPStatus int
	RetryAfter time.Duration // server-supplied hint; zero when absent
	Err        error
}

func (e *TransientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transient %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("transient %s", e.Kind)
}

func (e *TransientError) Unwrap() error { return e.Err }

// RecoverableError marks a failure that policy may handle (re-prompt, accept
// with low confidence).
// Examples: validation failure, low confidence. Never retried by this core.
type RecoverableError struct {
	Reason     string
	Suggestion string
	Err        error
}

func (e *RecoverableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("recoverable %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("recoverable %s", e.Reason)
}

func (e *RecoverableError) Unwrap() error { return e.Err }

// TerminalError fails fast. When RecoverableWithFallback is set, the retry
// engine may try the next model in a fallback chain before giving up.
// Examples: 401 auth failure, 404 model not found, malformed request.
type TerminalError struct {
	Reason                  string
	HTTPStatus              int
	RecoverableWithFallback bool
	Err                     error
}

func (e *TerminalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("terminal %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("terminal %s", e.Reason)
}

func (e *TerminalError) Unwrap() error { return e.Err }

// PageError isolates a failure to one page within a multi-page step so batch
// callers can continue with the remaining pages.
type PageError struct {
	Page int
	Err  error
}

func (e *PageError) Error() string {
	return fmt.Sprintf("page %d: %v", e.Page, e.Err)
}

func (e *PageError) Unwrap() error { return e.Err }

// IsTransient reports whether any error in the chain is transient.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsTerminal reports whether any error in the chain is terminal.
func IsTerminal(err error) bool {
	var te *TerminalError
	return errors.As(err, &te)
}

// AsTransient extracts a TransientError from the chain, if present.
func AsTransient(err error) (*TransientError, bool) {
	var te *TransientError
	ok := errors.As(err, &te)
	return te, ok
}

// AsTerminal extracts a TerminalError from the chain, if present.
func AsTerminal(err error) (*TerminalError, bool) {
	var te *TerminalError
	ok := errors.As(err, &te)
	return te, ok
}

// AsPageError extracts a PageError from the chain, if present.
func AsPageError(err error) (*PageError, bool) {
	var pe *PageError
	ok := errors.As(err, &pe)
	return pe, ok
}

// FromStatus classifies an HTTP response status into the taxonomy.
// retryAfter is the parsed Retry-After hint, zero when absent.
func FromStatus(status int, msg string, retryAfter time.Duration) error {
	base := fmt.Errorf("%s (HTTP %d)", msg, status)
	switch {
	case status == http.StatusTooManyRequests:
		return &TransientError{Kind: KindRateLimit, HTTPStatus: status, RetryAfter: retryAfter, Err: base}
	case status >= 500:
		return &TransientError{Kind: KindServerError, HTTPStatus: status, Err: base}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &TerminalError{Reason: "auth_failure", HTTPStatus: status, Err: base}
	case status == http.StatusNotFound:
		return &TerminalError{Reason: "model_not_found", HTTPStatus: status, RecoverableWithFallback: true, Err: base}
	case status == http.StatusBadRequest:
		return &TerminalError{Reason: "bad_input", HTTPStatus: status, Err: base}
	default:
		return &TerminalError{Reason: "unknown", HTTPStatus: status, Err: base}
	}
}
