package correlation

import (
	"net/http"

	"github.com/rs/zerolog"
	"golang.org/x/net/http/httpguts"

	"github.com/RassulYunussov/ehttpchain/internal/common"
	local_errors "github.com/RassulYunussov/ehttpchain/internal/errors"
)

type CorrelationParameters struct {
	HeaderName string
	// Accessor reads the current id, nil means IDFromContext
	Accessor IDAccessor
	// Overwrite replaces a header already present on the request instead of preserving it
	Overwrite bool
}

type correlationHttpClient struct {
	client     common.Sender
	headerName string
	accessor   IDAccessor
	overwrite  bool
	logger     zerolog.Logger
}

func CreateCorrelationHttpClient(name string, client common.Sender, parameters *CorrelationParameters, logger zerolog.Logger) (common.Sender, error) {
	if parameters == nil {
		return nil, local_errors.Configuration("correlation parameters are missing")
	}
	headerName := parameters.HeaderName
	if headerName == "" {
		headerName = DefaultHeaderName
	}
	if !httpguts.ValidHeaderFieldName(headerName) {
		return nil, local_errors.Configuration("invalid correlation header name %q", headerName)
	}
	accessor := parameters.Accessor
	if accessor == nil {
		accessor = IDFromContext
	}
	return &correlationHttpClient{
		client:     client,
		headerName: http.CanonicalHeaderKey(headerName),
		accessor:   accessor,
		overwrite:  parameters.Overwrite,
		logger:     logger.With().Str("component", "correlation").Str("client", name).Logger(),
	}, nil
}

func (c *correlationHttpClient) Do(r *http.Request) (*http.Response, error) {
	id, ok := c.accessor(r.Context())
	if !ok || id == "" {
		c.logger.Debug().Str("method", r.Method).Str("requestUri", r.URL.Redacted()).Msg("no correlation id for outbound request")
		return c.client.Do(r)
	}
	if len(r.Header.Values(c.headerName)) > 0 && !c.overwrite {
		return c.client.Do(r)
	}
	if r.Header == nil {
		r.Header = make(http.Header)
	}
	r.Header.Set(c.headerName, id)
	return c.client.Do(r)
}
