package writer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/jmxtrans/jmxtrans-sub000/internal/config"
	internalerrors "github.com/jmxtrans/jmxtrans-sub000/internal/errors"
	"github.com/jmxtrans/jmxtrans-sub000/internal/query"
	"github.com/jmxtrans/jmxtrans-sub000/internal/result"
)

const defaultGraphitePort = "2003"

// Graphite writes the plaintext protocol: "key value epochSeconds".
type Graphite struct {
	keyer
	boolAsNumber bool
	conn         *lineConn
	logger       *zap.SugaredLogger
}

func NewGraphite(cfg config.WriterConfig, logger *zap.SugaredLogger) (*Graphite, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("%w: graphite needs a host", internalerrors.ErrInvalidWriterConfig)
	}
	port := cfg.Port
	if port == "" {
		port = defaultGraphitePort
	}
	return &Graphite{
		keyer:        newKeyer(cfg),
		boolAsNumber: cfg.BooleanAsNumber,
		conn:         newLineConn("tcp", cfg.Host, port, defaultTimeout(cfg)),
		logger:       logger,
	}, nil
}

func (g *Graphite) Start() error { return nil }

func (g *Graphite) ValidateSetup(_ query.Endpoint, q *query.Query) error { return g.validate(q) }

func (g *Graphite) DoWrite(ctx context.Context, endpoint query.Endpoint, q *query.Query, results []result.Result) error {
	var lines []string
	for _, s := range g.samples(endpoint, q, results) {
		value, ok := FormatNumber(s.Value, g.boolAsNumber)
		if !ok {
			g.logger.Debugw("skipping non-numeric value", "key", s.Key, "value", s.Value)
			continue
		}
		lines = append(lines, fmt.Sprintf("%s %s %d", s.Key, value, s.Epoch/1000))
	}
	return g.conn.send(lines)
}

func (g *Graphite) Close() error { return g.conn.close() }
