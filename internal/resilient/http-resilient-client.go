package resilient

import (
	"bytes"
	"context"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/RassulYunussov/ehttpchain/internal/common"
	local_errors "github.com/RassulYunussov/ehttpchain/internal/errors"
)

type resilientHttpClient struct {
	client     common.Sender
	parameters RetryParameters
	logger     zerolog.Logger
}

func (p *RetryParameters) Validate() error {
	if p.Count < 0 {
		return local_errors.Configuration("retry count must not be negative, got %d", p.Count)
	}
	if p.BackoffPower <= 0 || math.IsNaN(p.BackoffPower) || math.IsInf(p.BackoffPower, 0) {
		return local_errors.Configuration("retry backoff power must be a positive number, got %v", p.BackoffPower)
	}
	if p.BackoffUnit < 0 {
		return local_errors.Configuration("retry backoff unit must not be negative, got %s", p.BackoffUnit)
	}
	return nil
}

func CreateResilientHttpClient(name string, client common.Sender, retryParameters *RetryParameters, logger zerolog.Logger) (common.Sender, error) {
	if err := retryParameters.Validate(); err != nil {
		return nil, err
	}
	parameters := *retryParameters
	if parameters.BackoffUnit == 0 {
		parameters.BackoffUnit = DefaultBackoffUnit
	}
	return &resilientHttpClient{
		client:     client,
		parameters: parameters,
		logger:     logger.With().Str("component", "retry").Str("client", name).Logger(),
	}, nil
}

func (c *resilientHttpClient) Do(r *http.Request) (*http.Response, error) {
	if err := makeReplayable(r); err != nil {
		return nil, err
	}
	return c.doWithRetry(r)
}

func (c *resilientHttpClient) doWithRetry(r *http.Request) (*http.Response, error) {
	ctx := r.Context()
	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return nil, local_errors.Cancelled(ctx, attempt)
		}
		request, err := forAttempt(r, attempt)
		if err != nil {
			return nil, err
		}
		resp, err := c.client.Do(request)
		if attempt >= c.parameters.Count || !shouldRetry(ctx, resp, err) {
			return resp, err
		}
		delay := c.backoff(attempt)
		c.logRetry(r, attempt, delay, resp, err)
		discard(resp)
		if c.parameters.OnRetry != nil {
			c.parameters.OnRetry(attempt)
		}
		if err := wait(ctx, delay); err != nil {
			return nil, local_errors.Cancelled(ctx, attempt+1)
		}
	}
}

func shouldRetry(ctx context.Context, resp *http.Response, err error) bool {
	if err != nil {
		return !local_errors.IsCancellation(ctx, err) && local_errors.IsTransientError(err)
	}
	return local_errors.IsTransientStatus(resp.StatusCode)
}

// backoff returns BackoffPower^attempt units
func (c *resilientHttpClient) backoff(attempt int) time.Duration {
	delay := float64(c.parameters.BackoffUnit) * math.Pow(c.parameters.BackoffPower, float64(attempt))
	if delay >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

func wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// makeReplayable buffers a body that cannot be obtained again, so that every attempt sends it whole
func makeReplayable(r *http.Request) error {
	if r.Body == nil || r.Body == http.NoBody || r.GetBody != nil {
		return nil
	}
	buf, err := io.ReadAll(r.Body)
	_ = r.Body.Close()
	if err != nil {
		return local_errors.NonTransient(err)
	}
	r.Body = io.NopCloser(bytes.NewReader(buf))
	r.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(buf)), nil
	}
	return nil
}

// forAttempt sends the original request first and fresh clones with a rewound body afterwards
func forAttempt(r *http.Request, attempt int) (*http.Request, error) {
	if attempt == 0 {
		return r, nil
	}
	request := r.Clone(r.Context())
	if r.GetBody != nil {
		body, err := r.GetBody()
		if err != nil {
			return nil, local_errors.NonTransient(err)
		}
		request.Body = body
	}
	return request, nil
}

func discard(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

func (c *resilientHttpClient) logRetry(r *http.Request, attempt int, delay time.Duration, resp *http.Response, err error) {
	event := c.logger.Debug().
		Str("method", r.Method).
		Str("requestUri", r.URL.Redacted()).
		Int("attempt", attempt+1).
		Dur("backoff", delay)
	if err != nil {
		event = event.Err(err)
	} else {
		event = event.Int("statusCode", resp.StatusCode)
	}
	event.Msg("retrying http request after transient failure")
}
