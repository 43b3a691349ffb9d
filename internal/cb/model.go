package cb

import (
	"time"

	"github.com/sony/gobreaker/v2"
)

const (
	DefaultFailuresBeforeOpen uint32 = 12
	DefaultCoolDownDuration          = 30 * time.Second
)

type CircuitBreakerParameters struct {
	FailuresBeforeOpen uint32
	CoolDownDuration   time.Duration
	// OnStateChange is called on every transition while the breaker holds its lock
	OnStateChange func(from, to gobreaker.State)
	// OnRejected is called for every call failed fast by the breaker
	OnRejected func()
}
