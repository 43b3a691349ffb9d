package ehttpchain

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/RassulYunussov/ehttpchain/config"
	"github.com/RassulYunussov/ehttpchain/internal/cb"
	"github.com/RassulYunussov/ehttpchain/internal/common"
	"github.com/RassulYunussov/ehttpchain/internal/correlation"
	local_errors "github.com/RassulYunussov/ehttpchain/internal/errors"
	"github.com/RassulYunussov/ehttpchain/internal/logging"
	"github.com/RassulYunussov/ehttpchain/internal/metrics"
	"github.com/RassulYunussov/ehttpchain/internal/noop"
	"github.com/RassulYunussov/ehttpchain/internal/resilient"
)

// Outbound HTTP pipeline of a named client.
// Layers, outermost first: correlation, logging, retry, circuit breaker, transport.
// Retriable failures: http-5xx, http-408, network errors and timeouts
// Non-retriable failures: context cancellation, circuit breaker rejections, malformed requests, NonTransient errors
type Pipeline struct {
	name    string
	sender  common.Sender
	breaker *cb.CircuitBreakerHttpClient
}

// Option configures a pipeline at creation
type Option func(*pipelineCreationParameters) *pipelineCreationParameters

// LogPolicy decides the level of every call record and whether bodies are captured
type LogPolicy = logging.Policy

// Metrics are the prometheus collectors of one registerer, share it between pipelines
type Metrics = metrics.Metrics

// CorrelationIDAccessor reads the correlation id of the current call from its context
type CorrelationIDAccessor = correlation.IDAccessor

const (
	DefaultRetryCount            = resilient.DefaultCount
	DefaultRetryBackoffPower     = resilient.DefaultBackoffPower
	DefaultFailuresBeforeOpen    = cb.DefaultFailuresBeforeOpen
	DefaultCoolDownDuration      = cb.DefaultCoolDownDuration
	DefaultCorrelationHeaderName = correlation.DefaultHeaderName
)

// Create builds the pipeline of the named client on top of transport, nil means http.DefaultTransport.
// Every policy is validated here, a missing or invalid one fails with ErrConfiguration.
func Create(name string, transport http.RoundTripper, opts ...Option) (*Pipeline, error) {
	if name == "" {
		return nil, local_errors.Configuration("http client name is empty")
	}
	p := newPipelineCreationParameters()
	for _, o := range opts {
		p = o(p)
	}
	if len(p.errs) > 0 {
		return nil, errors.Join(p.errs...)
	}

	var clientMetrics *metrics.ClientMetrics
	if p.metrics != nil {
		clientMetrics = p.metrics.ForClient(name)
		if transport == nil {
			transport = http.DefaultTransport
		}
		transport = clientMetrics.InstrumentTransport(transport)
	}

	pipeline := &Pipeline{name: name}
	sender := noop.CreateNoOpHttpClient(transport)

	if p.circuitBreakerParameters != nil {
		parameters := *p.circuitBreakerParameters
		if clientMetrics != nil {
			parameters.OnStateChange = chain(parameters.OnStateChange, func(_, to gobreaker.State) {
				clientMetrics.SetCircuitState(float64(to))
			})
			parameters.OnRejected = clientMetrics.ObserveRejected
		}
		breaker, err := cb.CreateCircuitBreakerHttpClient(name, sender, &parameters, p.logger)
		if err != nil {
			return nil, err
		}
		if clientMetrics != nil {
			clientMetrics.SetCircuitState(float64(gobreaker.StateClosed))
		}
		pipeline.breaker = breaker
		sender = breaker
	}

	if p.retryParameters != nil {
		parameters := *p.retryParameters
		if clientMetrics != nil {
			parameters.OnRetry = func(int) { clientMetrics.ObserveRetry() }
		}
		retrying, err := resilient.CreateResilientHttpClient(name, sender, &parameters, p.logger)
		if err != nil {
			return nil, err
		}
		sender = retrying
	}

	if p.loggingParameters != nil {
		logged, err := logging.CreateLoggingHttpClient(name, sender, p.loggingParameters, p.logger)
		if err != nil {
			return nil, err
		}
		sender = logged
	}

	if p.correlationParameters != nil {
		correlated, err := correlation.CreateCorrelationHttpClient(name, sender, p.correlationParameters, p.logger)
		if err != nil {
			return nil, err
		}
		sender = correlated
	}

	pipeline.sender = sender
	return pipeline, nil
}

func chain(first, second func(from, to gobreaker.State)) func(from, to gobreaker.State) {
	if first == nil {
		return second
	}
	return func(from, to gobreaker.State) {
		first(from, to)
		second(from, to)
	}
}

func (p *Pipeline) Name() string {
	return p.name
}

// Send runs the request through every layer. Interceptors may set headers
// and replace the body of r with a replayable copy.
func (p *Pipeline) Send(r *http.Request) (*http.Response, error) {
	if r == nil {
		return nil, local_errors.NonTransient(errors.New("ehttpchain: nil request"))
	}
	return p.sender.Do(r)
}

// Do is Send, for call sites written against *http.Client
func (p *Pipeline) Do(r *http.Request) (*http.Response, error) {
	return p.Send(r)
}

// RoundTrip lets the pipeline back an *http.Client. The caller's request is cloned
// first since a RoundTripper must not modify it, and its body is closed on every
// failure, including calls that never reached the transport.
func (p *Pipeline) RoundTrip(r *http.Request) (*http.Response, error) {
	if r == nil {
		return p.Send(nil)
	}
	resp, err := p.Send(r.Clone(r.Context()))
	if err != nil && r.Body != nil {
		_ = r.Body.Close()
	}
	return resp, err
}

// Client returns an *http.Client sending through the pipeline
func (p *Pipeline) Client(timeout time.Duration) *http.Client {
	return &http.Client{Transport: p, Timeout: timeout}
}

// CircuitState reports the breaker state, always closed when no breaker is configured
func (p *Pipeline) CircuitState() gobreaker.State {
	if p.breaker == nil {
		return gobreaker.StateClosed
	}
	return p.breaker.State()
}

// Apply retry policy: up to count retries after the first attempt,
// waiting backoffPower^attempt seconds before each of them.
func WithRetry(count int, backoffPower float64) Option {
	return WithRetryBackoffUnit(count, backoffPower, resilient.DefaultBackoffUnit)
}

// WithRetryBackoffUnit is WithRetry with the wait measured in unit instead of seconds
func WithRetryBackoffUnit(count int, backoffPower float64, unit time.Duration) Option {
	return func(p *pipelineCreationParameters) *pipelineCreationParameters {
		retryParameters := new(resilient.RetryParameters)
		retryParameters.Count = count
		retryParameters.BackoffPower = backoffPower
		retryParameters.BackoffUnit = unit
		if unit <= 0 {
			p.errs = append(p.errs, local_errors.Configuration("retry backoff unit must be positive, got %s", unit))
		}
		p.retryParameters = retryParameters
		return p
	}
}

// Apply circuit breaker policy: open after failuresBeforeOpen consecutive transient failures,
// fail fast for coolDown, then let a single trial call decide.
// https://github.com/sony/gobreaker
func WithCircuitBreaker(failuresBeforeOpen uint32, coolDown time.Duration) Option {
	return func(p *pipelineCreationParameters) *pipelineCreationParameters {
		circuitBreakerParameters := new(cb.CircuitBreakerParameters)
		circuitBreakerParameters.FailuresBeforeOpen = failuresBeforeOpen
		circuitBreakerParameters.CoolDownDuration = coolDown
		p.circuitBreakerParameters = circuitBreakerParameters
		return p
	}
}

// WithCircuitStateListener is called on every breaker transition.
// It must be given after WithCircuitBreaker.
func WithCircuitStateListener(listener func(from, to gobreaker.State)) Option {
	return func(p *pipelineCreationParameters) *pipelineCreationParameters {
		if p.circuitBreakerParameters == nil {
			p.errs = append(p.errs, local_errors.Configuration("circuit state listener given without a circuit breaker"))
			return p
		}
		p.circuitBreakerParameters.OnStateChange = chain(p.circuitBreakerParameters.OnStateChange, listener)
		return p
	}
}

// Apply logging: one record per call through the logger given by WithLogger
func WithLogging(policy LogPolicy) Option {
	return func(p *pipelineCreationParameters) *pipelineCreationParameters {
		p.loggingOptions().Policy = policy
		return p
	}
}

// WithLogRedaction replaces the default list of headers masked in captured headers
func WithLogRedaction(headers ...string) Option {
	return func(p *pipelineCreationParameters) *pipelineCreationParameters {
		p.loggingOptions().RedactHeaders = append([]string{}, headers...)
		return p
	}
}

// WithLogBodyLimit truncates captured bodies in records to maxBytes
func WithLogBodyLimit(maxBytes int) Option {
	return func(p *pipelineCreationParameters) *pipelineCreationParameters {
		p.loggingOptions().MaxBodyBytes = maxBytes
		return p
	}
}

// DefaultLogPolicy logs responses at info, failures at warn and captures bodies when debug is enabled
func DefaultLogPolicy(logger zerolog.Logger) LogPolicy {
	return logging.DefaultPolicy(logger)
}

// WithLogger sets the logger of every layer, the default discards everything
func WithLogger(logger zerolog.Logger) Option {
	return func(p *pipelineCreationParameters) *pipelineCreationParameters {
		p.logger = logger
		return p
	}
}

// Apply correlation: stamp headerName with the id read by accessor (nil reads WithCorrelationID values).
// An id already present on the request is preserved unless overwrite is set.
func WithCorrelation(headerName string, accessor CorrelationIDAccessor, overwrite bool) Option {
	return func(p *pipelineCreationParameters) *pipelineCreationParameters {
		parameters := p.correlationOptions()
		parameters.HeaderName = headerName
		parameters.Accessor = accessor
		parameters.Overwrite = overwrite
		return p
	}
}

// WithMetrics instruments the transport, retries and the circuit breaker
func WithMetrics(m *Metrics) Option {
	return func(p *pipelineCreationParameters) *pipelineCreationParameters {
		p.metrics = m
		return p
	}
}

// NewMetrics registers the pipeline collectors on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return metrics.New(reg)
}

// WithPolicies applies retry, circuit breaker and correlation settings loaded by the config package
func WithPolicies(policies config.Policies) Option {
	return func(p *pipelineCreationParameters) *pipelineCreationParameters {
		if err := policies.Validate(); err != nil {
			p.errs = append(p.errs, err)
			return p
		}
		p = WithRetry(policies.Retry.Count, policies.Retry.BackoffPower)(p)
		p = WithCircuitBreaker(policies.CircuitBreaker.FailuresBeforeOpen, policies.CircuitBreaker.CoolDownDuration)(p)
		parameters := p.correlationOptions()
		parameters.HeaderName = policies.Correlation.HeaderName
		parameters.Overwrite = policies.Correlation.Overwrite
		return p
	}
}

// CaptureBodyWhenEnabled is a CaptureBody policy capturing whenever level is enabled on logger
func CaptureBodyWhenEnabled(logger zerolog.Logger, level zerolog.Level) func(*http.Request) bool {
	return logging.CaptureWhenEnabled(logger, level)
}
