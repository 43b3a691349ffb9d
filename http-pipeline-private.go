package ehttpchain

import (
	"github.com/rs/zerolog"

	"github.com/RassulYunussov/ehttpchain/internal/cb"
	"github.com/RassulYunussov/ehttpchain/internal/correlation"
	"github.com/RassulYunussov/ehttpchain/internal/logging"
	"github.com/RassulYunussov/ehttpchain/internal/metrics"
	"github.com/RassulYunussov/ehttpchain/internal/resilient"
)

type pipelineCreationParameters struct {
	logger                   zerolog.Logger
	metrics                  *metrics.Metrics
	retryParameters          *resilient.RetryParameters
	circuitBreakerParameters *cb.CircuitBreakerParameters
	loggingParameters        *logging.LoggingParameters
	correlationParameters    *correlation.CorrelationParameters
	errs                     []error
}

func newPipelineCreationParameters() *pipelineCreationParameters {
	return &pipelineCreationParameters{logger: zerolog.Nop()}
}

func (p *pipelineCreationParameters) loggingOptions() *logging.LoggingParameters {
	if p.loggingParameters == nil {
		p.loggingParameters = new(logging.LoggingParameters)
	}
	return p.loggingParameters
}

func (p *pipelineCreationParameters) correlationOptions() *correlation.CorrelationParameters {
	if p.correlationParameters == nil {
		p.correlationParameters = new(correlation.CorrelationParameters)
	}
	return p.correlationParameters
}
