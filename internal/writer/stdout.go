package writer

import (
	"context"

	"go.uber.org/zap"

	"github.com/jmxtrans/jmxtrans-sub000/internal/config"
	"github.com/jmxtrans/jmxtrans-sub000/internal/query"
	"github.com/jmxtrans/jmxtrans-sub000/internal/result"
)

// Stdout logs every value as a structured line.
type Stdout struct {
	keyer
	logger *zap.SugaredLogger
}

func NewStdout(cfg config.WriterConfig, logger *zap.SugaredLogger) *Stdout {
	return &Stdout{keyer: newKeyer(cfg), logger: logger}
}

func (s *Stdout) Start() error { return nil }

// ValidateSetup accepts every pair; log lines carry the server next to the key.
func (s *Stdout) ValidateSetup(query.Endpoint, *query.Query) error { return nil }

func (s *Stdout) DoWrite(ctx context.Context, endpoint query.Endpoint, q *query.Query, results []result.Result) error {
	for _, smp := range s.samples(endpoint, q, results) {
		s.logger.Infow("metric",
			"key", smp.Key,
			"value", smp.Value,
			"ts", smp.Epoch,
			"server", endpoint.Label(),
		)
	}
	return nil
}

func (s *Stdout) Close() error { return nil }
