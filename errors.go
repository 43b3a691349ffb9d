package ehttpchain

import (
	"errors"

	local_errors "github.com/RassulYunussov/ehttpchain/internal/errors"
)

var (
	// Raised by Create when a policy is missing or invalid, never at call time
	ErrConfiguration = local_errors.ErrConfiguration
	// Matched by every rejection of an open or busy circuit breaker
	ErrCircuitOpen = local_errors.ErrCircuitOpen
	// Marks failures that are neither retried nor counted by the circuit breaker
	ErrNonTransient = local_errors.ErrNonTransient
	// Returned when the caller's context ends the call between attempts
	ErrCancelled = local_errors.ErrCancelled
)

// CircuitOpenError carries the client name and the breaker's own error
type CircuitOpenError = local_errors.CircuitOpenError

func IsCircuitOpenError(err error) bool {
	return errors.Is(err, ErrCircuitOpen)
}

func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

func IsCancelledError(err error) bool {
	return errors.Is(err, ErrCancelled)
}

// NonTransient marks err so that neither the retry policy nor the circuit breaker acts on it.
// Custom transports use it for failures another attempt cannot fix.
func NonTransient(err error) error {
	return local_errors.NonTransient(err)
}

// IsTransientStatus reports whether the retry policy and the circuit breaker treat the status as a failure
func IsTransientStatus(statusCode int) bool {
	return local_errors.IsTransientStatus(statusCode)
}

// IsTransientError reports whether the retry policy and the circuit breaker treat err as a failure
func IsTransientError(err error) bool {
	return local_errors.IsTransientError(err)
}
