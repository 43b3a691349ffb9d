package noop

import (
	"net/http"

	"github.com/RassulYunussov/ehttpchain/internal/common"
)

// noOpHttpClient adds nothing on top of the transport, it terminates the chain
type noOpHttpClient struct {
	transport http.RoundTripper
}

func CreateNoOpHttpClient(transport http.RoundTripper) common.Sender {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &noOpHttpClient{transport: transport}
}

func (c *noOpHttpClient) Do(r *http.Request) (*http.Response, error) {
	return c.transport.RoundTrip(r)
}
