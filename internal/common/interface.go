package common

import "net/http"

// Common interface for all decorators of the pipeline.
// Every decorator forwards to the next one and returns its outcome,
// the innermost one talks to the transport.
type Sender interface {
	Do(r *http.Request) (*http.Response, error)
}

// SenderFunc lets a plain function act as a decorator
type SenderFunc func(r *http.Request) (*http.Response, error)

func (f SenderFunc) Do(r *http.Request) (*http.Response, error) {
	return f(r)
}
