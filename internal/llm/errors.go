package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
)

// ErrNoStreamBody is returned when a streaming response arrives without a
// body. It is not retried.
var ErrNoStreamBody = errors.New("stream response has no body")

type ErrorKind string

const (
	KindAuth       ErrorKind = "auth"
	KindRateLimit  ErrorKind = "rate_limit"
	KindTimeout    ErrorKind = "timeout"
	KindNetwork    ErrorKind = "network"
	KindServer     ErrorKind = "server"
	KindBadRequest ErrorKind = "bad_request"
	KindUnknown    ErrorKind = "unknown"
)

// Retryable reports whether errors of this kind are worth another attempt.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindRateLimit, KindTimeout, KindNetwork, KindServer:
		return true
	default:
		return false
	}
}

// ProviderError is a classified provider failure. Retry decisions are made
// from Kind alone.
type ProviderError struct {
	Provider  string
	Kind      ErrorKind
	Status    int
	Retryable bool
	Message   string
	Cause     error
}

func newProviderError(provider string, kind ErrorKind, status int, msg string, cause error) *ProviderError {
	return &ProviderError{
		Provider:  provider,
		Kind:      kind,
		Status:    status,
		Retryable: kind.Retryable(),
		Message:   msg,
		Cause:     cause,
	}
}

func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s %s error (%d): %s", e.Provider, e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s %s error: %s", e.Provider, e.Kind, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// KindForStatus maps an HTTP status code to an error kind.
func KindForStatus(status int) ErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusTooManyRequests:
		return KindRateLimit
	case status >= 500:
		return KindServer
	case status >= 400 && status < 500:
		return KindBadRequest
	default:
		return KindUnknown
	}
}

// NewStatusError builds the error for a non-2xx response. body is the
// already truncated response body and may be empty.
func NewStatusError(provider string, status int, body string) *ProviderError {
	msg := http.StatusText(status)
	if msg == "" {
		msg = "unexpected status"
	}
	if body != "" {
		msg += ": " + body
	}
	return newProviderError(provider, KindForStatus(status), status, msg, nil)
}

// Classify turns an arbitrary failure into a ProviderError. Errors that are
// already classified pass through unchanged.
func Classify(provider string, err error) *ProviderError {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	switch {
	case isTimeout(err):
		return newProviderError(provider, KindTimeout, 0, "request timed out or was aborted", err)
	case isNetwork(err):
		return newProviderError(provider, KindNetwork, 0, err.Error(), err)
	default:
		return newProviderError(provider, KindUnknown, 0, err.Error(), err)
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isNetwork(err error) bool {
	var opErr *net.OpError
	var dnsErr *net.DNSError
	switch {
	case errors.As(err, &opErr), errors.As(err, &dnsErr):
		return true
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE):
		return true
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		return true
	}
	return false
}
