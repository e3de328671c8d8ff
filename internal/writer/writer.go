// Package writer implements the output writers a query hands its results to.
package writer

import (
	"fmt"
	"net/http"

	"github.com/Shopify/sarama"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/jmxtrans/jmxtrans-sub000/internal/config"
	internalerrors "github.com/jmxtrans/jmxtrans-sub000/internal/errors"
	"github.com/jmxtrans/jmxtrans-sub000/internal/query"
	"github.com/jmxtrans/jmxtrans-sub000/internal/service"
)

// Writer types accepted in WriterConfig.Type.
const (
	TypeGraphite   = "graphite"
	TypeStatsD     = "statsd"
	TypeOpenTSDB   = "opentsdb"
	TypeStdout     = "stdout"
	TypeKeyOut     = "keyout"
	TypeKafka      = "kafka"
	TypePrometheus = "prometheus"
	TypeHTTP       = "http"
	TypePostgres   = "postgres"
	TypeSnapshot   = "snapshot"
)

// ProducerFunc opens a kafka producer; sarama.NewSyncProducer in production.
type ProducerFunc func(brokers []string, cfg *sarama.Config) (sarama.SyncProducer, error)

// Deps are the process wide collaborators writers may need.
type Deps struct {
	Logger *zap.SugaredLogger

	// Files hands out the shared output files of keyout writers
	Files *FileRegistry

	// Registerer receives the collectors of prometheus writers
	Registerer prometheus.Registerer

	// Snapshot is the store served by the agent HTTP API
	Snapshot *service.MetricsService

	HTTPClient  *http.Client
	NewProducer ProducerFunc
}

// Factory binds deps into a config.WriterFactory.
func Factory(deps Deps) config.WriterFactory {
	return func(cfg config.WriterConfig) (query.OutputWriter, error) {
		return New(cfg, deps)
	}
}

// New creates the writer selected by cfg.Type.
func New(cfg config.WriterConfig, deps Deps) (query.OutputWriter, error) {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop().Sugar()
	}
	logger := deps.Logger.With("writer", cfg.Type)

	switch cfg.Type {
	case TypeGraphite:
		return NewGraphite(cfg, logger)
	case TypeStatsD:
		return NewStatsD(cfg, logger)
	case TypeOpenTSDB:
		return NewOpenTSDB(cfg, logger)
	case TypeStdout:
		return NewStdout(cfg, logger), nil
	case TypeKeyOut:
		files := deps.Files
		if files == nil {
			return nil, fmt.Errorf("%w: keyout needs a file registry", internalerrors.ErrInvalidWriterConfig)
		}
		return NewKeyOut(cfg, files, logger)
	case TypeKafka:
		newProducer := deps.NewProducer
		if newProducer == nil {
			newProducer = sarama.NewSyncProducer
		}
		return NewKafka(cfg, newProducer, logger)
	case TypePrometheus:
		registerer := deps.Registerer
		if registerer == nil {
			registerer = prometheus.DefaultRegisterer
		}
		return NewPrometheus(cfg, registerer, logger)
	case TypeHTTP:
		client := deps.HTTPClient
		if client == nil {
			client = &http.Client{Timeout: defaultTimeout(cfg)}
		}
		return NewHTTP(cfg, client, logger)
	case TypePostgres:
		return NewPostgres(cfg, logger)
	case TypeSnapshot:
		if deps.Snapshot == nil {
			return nil, fmt.Errorf("%w: snapshot needs a store", internalerrors.ErrInvalidWriterConfig)
		}
		return NewRepositoryWriter(cfg, deps.Snapshot, false, logger), nil
	default:
		return nil, fmt.Errorf("%w: %q", internalerrors.ErrUnknownWriter, cfg.Type)
	}
}
