package resilient

import (
	"context"
	"errors"
	"io"
	"math"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gotest.tools/v3/assert"

	"github.com/RassulYunussov/ehttpchain/internal/common"
	local_errors "github.com/RassulYunussov/ehttpchain/internal/errors"
)

var errNetwork = errors.New("connection refused")

func getStatusSender(status int) (common.Sender, *int32) {
	calls := int32(0)
	return common.SenderFunc(func(r *http.Request) (*http.Response, error) {
		atomic.AddInt32(&calls, 1)
		return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader("body")), Request: r}, nil
	}), &calls
}

func getErrorSender(err error) (common.Sender, *int32) {
	calls := int32(0)
	return common.SenderFunc(func(r *http.Request) (*http.Response, error) {
		atomic.AddInt32(&calls, 1)
		return nil, err
	}), &calls
}

func getClient(t *testing.T, client common.Sender, count int) common.Sender {
	t.Helper()
	c, err := CreateResilientHttpClient("test", client, &RetryParameters{
		Count:        count,
		BackoffPower: 2,
		BackoffUnit:  time.Millisecond,
	}, zerolog.Nop())
	assert.NilError(t, err)
	return c
}

func newRequest(t *testing.T, ctx context.Context, body io.Reader) *http.Request {
	t.Helper()
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://localhost/resource", body)
	assert.NilError(t, err)
	return request
}

func TestRetriesTransientStatus(t *testing.T) {
	for _, status := range []int{http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusRequestTimeout} {
		client, calls := getStatusSender(status)
		c := getClient(t, client, 3)
		resp, err := c.Do(newRequest(t, context.Background(), nil))
		assert.NilError(t, err)
		assert.Equal(t, status, resp.StatusCode)
		assert.Equal(t, int32(4), atomic.LoadInt32(calls), "status %d", status)
	}
}

func TestLastResponseIsReadable(t *testing.T) {
	client, _ := getStatusSender(http.StatusInternalServerError)
	c := getClient(t, client, 1)
	resp, err := c.Do(newRequest(t, context.Background(), nil))
	assert.NilError(t, err)
	body, err := io.ReadAll(resp.Body)
	assert.NilError(t, err)
	assert.Equal(t, "body", string(body))
}

func TestRetriesTransientErrors(t *testing.T) {
	client, calls := getErrorSender(errNetwork)
	c := getClient(t, client, 2)
	_, err := c.Do(newRequest(t, context.Background(), nil))
	assert.ErrorIs(t, err, errNetwork)
	assert.Equal(t, int32(3), atomic.LoadInt32(calls))
}

func TestRecoversAfterTransientFailure(t *testing.T) {
	calls := int32(0)
	client := common.SenderFunc(func(r *http.Request) (*http.Response, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return &http.Response{StatusCode: http.StatusServiceUnavailable, Body: http.NoBody}, nil
		}
		return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody}, nil
	})
	c := getClient(t, client, 3)
	resp, err := c.Do(newRequest(t, context.Background(), nil))
	assert.NilError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestNoRetryOnClientErrors(t *testing.T) {
	for _, status := range []int{http.StatusOK, http.StatusBadRequest, http.StatusNotFound, http.StatusConflict} {
		client, calls := getStatusSender(status)
		c := getClient(t, client, 3)
		resp, err := c.Do(newRequest(t, context.Background(), nil))
		assert.NilError(t, err)
		assert.Equal(t, status, resp.StatusCode)
		assert.Equal(t, int32(1), atomic.LoadInt32(calls), "status %d", status)
	}
}

func TestNoRetryOnNonTransientErrors(t *testing.T) {
	for _, cause := range []error{
		local_errors.NonTransient(errors.New("bad payload")),
		local_errors.NewCircuitOpenError("test", errors.New("circuit breaker is open")),
		errors.New(`unsupported protocol scheme "ftp"`),
	} {
		client, calls := getErrorSender(cause)
		c := getClient(t, client, 3)
		_, err := c.Do(newRequest(t, context.Background(), nil))
		assert.ErrorIs(t, err, cause)
		assert.Equal(t, int32(1), atomic.LoadInt32(calls), "error %v", cause)
	}
}

func TestZeroCountSendsOnce(t *testing.T) {
	client, calls := getStatusSender(http.StatusInternalServerError)
	c := getClient(t, client, 0)
	resp, err := c.Do(newRequest(t, context.Background(), nil))
	assert.NilError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))
}

func TestCancelledBeforeFirstAttempt(t *testing.T) {
	client, calls := getStatusSender(http.StatusOK)
	c := getClient(t, client, 3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Do(newRequest(t, ctx, nil))
	assert.ErrorIs(t, err, local_errors.ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(0), atomic.LoadInt32(calls))
}

func TestCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	calls := int32(0)
	client := common.SenderFunc(func(r *http.Request) (*http.Response, error) {
		atomic.AddInt32(&calls, 1)
		go func() {
			time.Sleep(20 * time.Millisecond)
			cancel()
		}()
		return &http.Response{StatusCode: http.StatusServiceUnavailable, Body: http.NoBody}, nil
	})
	c, err := CreateResilientHttpClient("test", client, &RetryParameters{
		Count:        3,
		BackoffPower: 2,
		BackoffUnit:  time.Hour,
	}, zerolog.Nop())
	assert.NilError(t, err)

	start := time.Now()
	_, err = c.Do(newRequest(t, ctx, nil))
	assert.ErrorIs(t, err, local_errors.ErrCancelled)
	assert.Assert(t, time.Since(start) < time.Minute)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestBodyIsReplayed(t *testing.T) {
	var bodies []string
	client := common.SenderFunc(func(r *http.Request) (*http.Response, error) {
		buf, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, err
		}
		bodies = append(bodies, string(buf))
		return &http.Response{StatusCode: http.StatusBadGateway, Body: http.NoBody}, nil
	})
	c := getClient(t, client, 2)
	// a bare reader has no GetBody
	request := newRequest(t, context.Background(), io.MultiReader(strings.NewReader(`{"id":1}`)))
	assert.Assert(t, request.GetBody == nil)
	_, err := c.Do(request)
	assert.NilError(t, err)
	assert.DeepEqual(t, []string{`{"id":1}`, `{"id":1}`, `{"id":1}`}, bodies)
}

func TestOnRetry(t *testing.T) {
	client, _ := getErrorSender(errNetwork)
	var attempts []int
	c, err := CreateResilientHttpClient("test", client, &RetryParameters{
		Count:        2,
		BackoffPower: 1,
		BackoffUnit:  time.Millisecond,
		OnRetry: func(attempt int) {
			attempts = append(attempts, attempt)
		},
	}, zerolog.Nop())
	assert.NilError(t, err)
	_, _ = c.Do(newRequest(t, context.Background(), nil))
	assert.DeepEqual(t, []int{0, 1}, attempts)
}

func TestBackoff(t *testing.T) {
	c := &resilientHttpClient{parameters: RetryParameters{BackoffPower: 2, BackoffUnit: time.Second}}
	assert.Equal(t, time.Second, c.backoff(0))
	assert.Equal(t, 2*time.Second, c.backoff(1))
	assert.Equal(t, 4*time.Second, c.backoff(2))

	c.parameters.BackoffPower = 1.5
	assert.Equal(t, 2250*time.Millisecond, c.backoff(2))

	c.parameters.BackoffPower = 10
	assert.Equal(t, time.Duration(math.MaxInt64), c.backoff(100))
}

func TestInvalidParameters(t *testing.T) {
	client, _ := getStatusSender(http.StatusOK)
	for _, parameters := range []RetryParameters{
		{Count: -1, BackoffPower: 2},
		{Count: 1, BackoffPower: 0},
		{Count: 1, BackoffPower: -2},
		{Count: 1, BackoffPower: math.NaN()},
		{Count: 1, BackoffPower: 2, BackoffUnit: -time.Second},
	} {
		_, err := CreateResilientHttpClient("test", client, &parameters, zerolog.Nop())
		assert.ErrorIs(t, err, local_errors.ErrConfiguration)
	}
}
