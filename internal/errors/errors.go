package errors

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

var (
	// ErrConfiguration is returned at pipeline construction when a policy is missing or invalid
	ErrConfiguration = errors.New("ehttpchain: invalid configuration")
	// ErrCircuitOpen is matched by every error produced by an open or busy circuit breaker
	ErrCircuitOpen = errors.New("ehttpchain: circuit breaker is open")
	// ErrNonTransient marks failures that must not be retried nor counted by the circuit breaker
	ErrNonTransient = errors.New("ehttpchain: non-transient failure")
	// ErrCancelled is returned when the caller's context stops a call between attempts
	ErrCancelled = errors.New("ehttpchain: call cancelled")
)

// CircuitOpenError is returned instead of calling the transport while the breaker rejects calls.
type CircuitOpenError struct {
	Client string
	Err    error
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker of http client %q rejected the call: %v", e.Client, e.Err)
}

func (e *CircuitOpenError) Unwrap() []error {
	return []error{ErrCircuitOpen, e.Err}
}

func NewCircuitOpenError(client string, err error) error {
	return &CircuitOpenError{Client: client, Err: err}
}

func Configuration(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

func NonTransient(err error) error {
	if err == nil || errors.Is(err, ErrNonTransient) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrNonTransient, err)
}

func Cancelled(ctx context.Context, attempts int) error {
	return fmt.Errorf("%w after %d attempt(s): %w", ErrCancelled, attempts, context.Cause(ctx))
}

// IsTransientStatus reports whether a response status is worth another attempt: 5xx and 408.
func IsTransientStatus(statusCode int) bool {
	return statusCode >= http.StatusInternalServerError || statusCode == http.StatusRequestTimeout
}

// IsCancellation reports whether err comes from the caller giving up on the call.
func IsCancellation(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if ctx != nil && ctx.Err() != nil {
		return true
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, ErrCancelled)
}

// IsTransientError reports whether a transport failure is likely to succeed on another attempt.
// Network failures and timeouts are transient; malformed requests, TLS trust and hostname failures,
// circuit breaker rejections and cancellations are not.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNonTransient) ||
		errors.Is(err, ErrCircuitOpen) ||
		errors.Is(err, ErrConfiguration) ||
		errors.Is(err, ErrCancelled) ||
		errors.Is(err, context.Canceled) {
		return false
	}
	var unknownAuthority x509.UnknownAuthorityError
	if errors.As(err, &unknownAuthority) {
		return false
	}
	var certInvalid x509.CertificateInvalidError
	if errors.As(err, &certInvalid) {
		return false
	}
	var hostname x509.HostnameError
	if errors.As(err, &hostname) {
		return false
	}
	msg := err.Error()
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		msg = urlErr.Err.Error()
	}
	for _, malformed := range malformedRequestMessages {
		if strings.Contains(msg, malformed) {
			return false
		}
	}
	return true
}

// http.Transport reports request construction problems as plain errors
var malformedRequestMessages = []string{
	"unsupported protocol scheme",
	"no Host in request URL",
	"invalid header field",
	"invalid method",
	"stopped after",
	"with Body length",
}
