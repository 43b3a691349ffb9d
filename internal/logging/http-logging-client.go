package logging

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/RassulYunussov/ehttpchain/internal/common"
	local_errors "github.com/RassulYunussov/ehttpchain/internal/errors"
)

const (
	fieldMethod          = "method"
	fieldRequestURI      = "requestUri"
	fieldStatusCode      = "statusCode"
	fieldElapsedMs       = "elapsedMs"
	fieldRequestHeaders  = "requestHeaders"
	fieldRequestBody     = "requestBody"
	fieldResponseHeaders = "responseHeaders"
	fieldResponseBody    = "responseBody"
)

type loggingHttpClient struct {
	client       common.Sender
	logger       zerolog.Logger
	policy       Policy
	redacted     map[string]struct{}
	maxBodyBytes int
}

// requestCapture is what was buffered from the request before it went inward
type requestCapture struct {
	headers http.Header
	body    string
}

func CreateLoggingHttpClient(name string, client common.Sender, loggingParameters *LoggingParameters, logger zerolog.Logger) (common.Sender, error) {
	if loggingParameters == nil {
		return nil, local_errors.Configuration("logging parameters are missing")
	}
	if err := loggingParameters.Policy.Validate(); err != nil {
		return nil, err
	}
	if loggingParameters.MaxBodyBytes < 0 {
		return nil, local_errors.Configuration("max logged body bytes must not be negative, got %d", loggingParameters.MaxBodyBytes)
	}
	redactHeaders := loggingParameters.RedactHeaders
	if redactHeaders == nil {
		redactHeaders = DefaultRedactedHeaders
	}
	redacted := make(map[string]struct{}, len(redactHeaders))
	for _, h := range redactHeaders {
		redacted[http.CanonicalHeaderKey(h)] = struct{}{}
	}
	return &loggingHttpClient{
		client:       client,
		logger:       logger.With().Str("logger", "ehttpchain.logging."+name).Logger(),
		policy:       loggingParameters.Policy,
		redacted:     redacted,
		maxBodyBytes: loggingParameters.MaxBodyBytes,
	}, nil
}

func (c *loggingHttpClient) Do(r *http.Request) (*http.Response, error) {
	var capture *requestCapture
	if c.policy.CaptureBody(r) {
		body, err := bufferRequestBody(r)
		if err != nil {
			return nil, local_errors.NonTransient(fmt.Errorf("buffering request body: %w", err))
		}
		capture = &requestCapture{headers: r.Header.Clone(), body: body}
	}

	start := time.Now()
	resp, err := c.client.Do(r)
	elapsed := time.Since(start)

	if err != nil {
		c.logFailure(r, err, elapsed, capture)
		return resp, err
	}
	c.logResponse(r, resp, elapsed, capture)
	return resp, nil
}

func (c *loggingHttpClient) logResponse(r *http.Request, resp *http.Response, elapsed time.Duration, capture *requestCapture) {
	level := c.policy.LevelForResponse(r, resp, elapsed)
	if !Enabled(c.logger, level) {
		return
	}
	event := c.logger.WithLevel(level)
	if event == nil {
		return
	}
	ms := milliseconds(elapsed)
	event = event.
		Str(fieldMethod, r.Method).
		Str(fieldRequestURI, r.URL.Redacted()).
		Int(fieldStatusCode, resp.StatusCode).
		Float64(fieldElapsedMs, ms)
	if capture != nil {
		responseBody := bufferResponseBody(resp)
		event = event.
			Interface(fieldRequestHeaders, c.redact(capture.headers)).
			Str(fieldRequestBody, c.truncate(capture.body)).
			Interface(fieldResponseHeaders, c.redact(resp.Header)).
			Str(fieldResponseBody, c.truncate(responseBody))
	}
	event.Msgf("HTTP %s %s responded %d in %.4f ms", r.Method, r.URL.Redacted(), resp.StatusCode, ms)
}

func (c *loggingHttpClient) logFailure(r *http.Request, err error, elapsed time.Duration, capture *requestCapture) {
	level := c.policy.LevelForError(r, err)
	if !Enabled(c.logger, level) {
		return
	}
	event := c.logger.WithLevel(level)
	if event == nil {
		return
	}
	ms := milliseconds(elapsed)
	event = event.
		Err(err).
		Str(fieldMethod, r.Method).
		Str(fieldRequestURI, r.URL.Redacted()).
		Float64(fieldElapsedMs, ms)
	if capture != nil {
		event = event.
			Interface(fieldRequestHeaders, c.redact(capture.headers)).
			Str(fieldRequestBody, c.truncate(capture.body))
	}
	event.Msgf("HTTP %s %s failed in %.4f ms", r.Method, r.URL.Redacted(), ms)
}

func milliseconds(d time.Duration) float64 {
	if d < 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}

func (c *loggingHttpClient) redact(h http.Header) http.Header {
	if len(h) == 0 {
		return h
	}
	out := make(http.Header, len(h))
	for k, v := range h {
		if _, ok := c.redacted[http.CanonicalHeaderKey(k)]; ok {
			out[k] = []string{redactedValue}
			continue
		}
		out[k] = v
	}
	return out
}

func (c *loggingHttpClient) truncate(body string) string {
	if c.maxBodyBytes == 0 || len(body) <= c.maxBodyBytes {
		return body
	}
	cut := c.maxBodyBytes
	for cut > 0 && !utf8.RuneStart(body[cut]) {
		cut--
	}
	return body[:cut] + "...(truncated)"
}

// bufferRequestBody reads the request body into memory and leaves the request
// with a body that can be read again by the inner layers.
func bufferRequestBody(r *http.Request) (string, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return "", nil
	}
	if r.GetBody != nil {
		body, err := r.GetBody()
		if err == nil {
			defer body.Close()
			buf, err := io.ReadAll(body)
			if err == nil {
				return string(buf), nil
			}
		}
	}
	buf, err := io.ReadAll(r.Body)
	_ = r.Body.Close()
	if err != nil {
		return "", err
	}
	r.Body = io.NopCloser(bytes.NewReader(buf))
	r.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(buf)), nil
	}
	return string(buf), nil
}

// bufferResponseBody reads the response body into memory and replaces it with a replayable copy.
// A read failure is replayed to the caller after the bytes that were read.
func bufferResponseBody(resp *http.Response) string {
	if resp.Body == nil || resp.Body == http.NoBody {
		return ""
	}
	buf, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	var replay io.Reader = bytes.NewReader(buf)
	if err != nil {
		replay = io.MultiReader(replay, errReader{err: err})
	}
	resp.Body = io.NopCloser(replay)
	return string(buf)
}

type errReader struct {
	err error
}

func (e errReader) Read([]byte) (int, error) {
	return 0, e.err
}
