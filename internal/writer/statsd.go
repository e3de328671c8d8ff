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

const defaultStatsDPort = "8125"

// StatsD sends every numeric value as a gauge datagram "key:value|g".
type StatsD struct {
	keyer
	boolAsNumber bool
	conn         *lineConn
	logger       *zap.SugaredLogger
}

func NewStatsD(cfg config.WriterConfig, logger *zap.SugaredLogger) (*StatsD, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("%w: statsd needs a host", internalerrors.ErrInvalidWriterConfig)
	}
	port := cfg.Port
	if port == "" {
		port = defaultStatsDPort
	}
	return &StatsD{
		keyer:        newKeyer(cfg),
		boolAsNumber: cfg.BooleanAsNumber,
		conn:         newLineConn("udp", cfg.Host, port, defaultTimeout(cfg)),
		logger:       logger,
	}, nil
}

func (s *StatsD) Start() error { return nil }

func (s *StatsD) ValidateSetup(_ query.Endpoint, q *query.Query) error { return s.validate(q) }

func (s *StatsD) DoWrite(ctx context.Context, endpoint query.Endpoint, q *query.Query, results []result.Result) error {
	var lines []string
	for _, smp := range s.samples(endpoint, q, results) {
		value, ok := FormatNumber(smp.Value, s.boolAsNumber)
		if !ok {
			s.logger.Debugw("skipping non-numeric value", "key", smp.Key, "value", smp.Value)
			continue
		}
		lines = append(lines, smp.Key+":"+value+"|g")
	}
	return s.conn.send(lines)
}

func (s *StatsD) Close() error { return s.conn.close() }
