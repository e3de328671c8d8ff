package writer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jmxtrans/jmxtrans-sub000/internal/config"
	internalerrors "github.com/jmxtrans/jmxtrans-sub000/internal/errors"
	"github.com/jmxtrans/jmxtrans-sub000/internal/migration"
	models "github.com/jmxtrans/jmxtrans-sub000/internal/model"
	"github.com/jmxtrans/jmxtrans-sub000/internal/query"
	"github.com/jmxtrans/jmxtrans-sub000/internal/repository"
	"github.com/jmxtrans/jmxtrans-sub000/internal/result"
	"github.com/jmxtrans/jmxtrans-sub000/internal/retry"
	"github.com/jmxtrans/jmxtrans-sub000/internal/service"
)

// toMetrics converts samples to stored records: numeric values become gauges and the
// rest text.
func toMetrics(samples []sample, server string, boolAsNumber bool) []models.Metric {
	metrics := make([]models.Metric, 0, len(samples))
	for _, s := range samples {
		m := models.Metric{Name: s.Key, Timestamp: s.Epoch, Server: server}
		if v, ok := ToNumber(s.Value, boolAsNumber); ok {
			if _, isString := s.Value.(string); !isString {
				m.Type = models.Gauge
				m.Value = v
				metrics = append(metrics, m)
				continue
			}
		}
		m.Type = models.Text
		m.Value = fmt.Sprint(s.Value)
		metrics = append(metrics, m)
	}
	return metrics
}

// RepositoryWriter stores the last value of every key through a MetricsService.
type RepositoryWriter struct {
	keyer
	service      *service.MetricsService
	owned        bool
	boolAsNumber bool
	delays       []time.Duration
	start        func(ctx context.Context) error
	logger       *zap.SugaredLogger
}

// NewRepositoryWriter writes into svc. An owned service is closed with the writer.
func NewRepositoryWriter(cfg config.WriterConfig, svc *service.MetricsService, owned bool, logger *zap.SugaredLogger) *RepositoryWriter {
	return &RepositoryWriter{
		keyer:        newKeyer(cfg),
		service:      svc,
		owned:        owned,
		boolAsNumber: cfg.BooleanAsNumber,
		logger:       logger,
	}
}

// NewPostgres stores values in the jmx_metrics table, migrating the schema on start.
// Transient database errors are retried.
func NewPostgres(cfg config.WriterConfig, logger *zap.SugaredLogger) (*RepositoryWriter, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("%w: postgres needs a dsn", internalerrors.ErrInvalidWriterConfig)
	}
	storage, err := repository.NewDBStorage(cfg.DSN)
	if err != nil {
		return nil, err
	}
	w := NewRepositoryWriter(cfg, service.NewMetricsService(storage), true, logger)
	w.delays = retry.DefaultDelays
	w.start = func(ctx context.Context) error {
		return migration.RunMigrations(ctx, cfg.DSN, logger)
	}
	return w, nil
}

func (w *RepositoryWriter) Start() error {
	if w.start == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	return w.start(ctx)
}

func (w *RepositoryWriter) ValidateSetup(_ query.Endpoint, q *query.Query) error { return w.validate(q) }

func (w *RepositoryWriter) DoWrite(ctx context.Context, endpoint query.Endpoint, q *query.Query, results []result.Result) error {
	metrics := toMetrics(w.samples(endpoint, q, results), endpoint.Label(), w.boolAsNumber)
	if len(metrics) == 0 {
		return nil
	}
	return retry.Do(ctx, w.delays, w.logger, func(ctx context.Context) error {
		return w.service.SetMetrics(ctx, metrics)
	})
}

func (w *RepositoryWriter) Close() error {
	if !w.owned {
		return nil
	}
	return w.service.Close()
}
