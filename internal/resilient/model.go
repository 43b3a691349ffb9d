package resilient

import (
	"time"
)

const (
	DefaultCount        = 3
	DefaultBackoffPower = 2.0
	DefaultBackoffUnit  = time.Second
)

type RetryParameters struct {
	// Count is the number of retries after the first attempt
	Count int
	// BackoffPower is raised to the attempt index to get the wait in BackoffUnit
	BackoffPower float64
	BackoffUnit  time.Duration
	// OnRetry is called before every wait, attempt is the index of the failed attempt
	OnRetry func(attempt int)
}
