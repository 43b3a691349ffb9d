package cb

import (
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/RassulYunussov/ehttpchain/internal/common"
	local_errors "github.com/RassulYunussov/ehttpchain/internal/errors"
)

// CircuitBreakerHttpClient fails fast while the downstream keeps failing transiently.
// One instance is shared by every call of a named client.
type CircuitBreakerHttpClient struct {
	client     common.Sender
	name       string
	breaker    *gobreaker.TwoStepCircuitBreaker[*http.Response]
	logger     zerolog.Logger
	parameters CircuitBreakerParameters
}

func (p *CircuitBreakerParameters) Validate() error {
	if p.FailuresBeforeOpen == 0 {
		return local_errors.Configuration("circuit breaker needs at least one failure before opening")
	}
	if p.CoolDownDuration <= 0 {
		return local_errors.Configuration("circuit breaker cool-down must be positive, got %s", p.CoolDownDuration)
	}
	return nil
}

func CreateCircuitBreakerHttpClient(name string, client common.Sender, parameters *CircuitBreakerParameters, logger zerolog.Logger) (*CircuitBreakerHttpClient, error) {
	if err := parameters.Validate(); err != nil {
		return nil, err
	}
	c := &CircuitBreakerHttpClient{
		client:     client,
		name:       name,
		logger:     logger.With().Str("component", "circuit_breaker").Str("client", name).Logger(),
		parameters: *parameters,
	}
	failuresBeforeOpen := parameters.FailuresBeforeOpen
	c.breaker = gobreaker.NewTwoStepCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        fmt.Sprintf("http client circuit breaker for %s", name),
		MaxRequests: 1,
		Interval:    0,
		Timeout:     parameters.CoolDownDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failuresBeforeOpen
		},
		OnStateChange: func(_ string, from gobreaker.State, to gobreaker.State) {
			c.onStateChange(from, to)
		},
	})
	return c, nil
}

func (c *CircuitBreakerHttpClient) Do(r *http.Request) (*http.Response, error) {
	// a cancelled call must not take the half-open trial slot
	if ctx := r.Context(); ctx.Err() != nil {
		return nil, local_errors.Cancelled(ctx, 0)
	}
	done, err := c.breaker.Allow()
	if err != nil {
		if c.parameters.OnRejected != nil {
			c.parameters.OnRejected()
		}
		return nil, local_errors.NewCircuitOpenError(c.name, err)
	}
	resp, err := c.client.Do(r)
	c.settle(done, r, resp, err)
	return resp, err
}

// State reports the current state, moving an expired open breaker to half-open.
func (c *CircuitBreakerHttpClient) State() gobreaker.State {
	return c.breaker.State()
}

func (c *CircuitBreakerHttpClient) Counts() gobreaker.Counts {
	return c.breaker.Counts()
}

// settle reports the outcome of an admitted call.
// Only transient outcomes count as failures and only successful responses reset the count.
// Non-transient failures (4xx, malformed requests) and cancellations leave a closed breaker
// untouched, but a half-open trial must always be resolved or the breaker would never
// admit another call.
func (c *CircuitBreakerHttpClient) settle(done func(success bool), r *http.Request, resp *http.Response, err error) {
	switch {
	case err == nil && local_errors.IsTransientStatus(resp.StatusCode):
		done(false)
	case err == nil && resp.StatusCode >= http.StatusBadRequest:
		if c.breaker.State() == gobreaker.StateHalfOpen {
			done(true)
		}
	case err == nil:
		done(true)
	case local_errors.IsCancellation(r.Context(), err):
		if c.breaker.State() == gobreaker.StateHalfOpen {
			done(false)
		}
	case local_errors.IsTransientError(err):
		done(false)
	default:
		if c.breaker.State() == gobreaker.StateHalfOpen {
			done(true)
		}
	}
}

func (c *CircuitBreakerHttpClient) onStateChange(from, to gobreaker.State) {
	event := c.logger.Info()
	if to == gobreaker.StateOpen {
		event = c.logger.Warn().Dur("coolDown", c.parameters.CoolDownDuration)
	}
	event.Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker changed state")
	if c.parameters.OnStateChange != nil {
		c.parameters.OnStateChange(from, to)
	}
}
