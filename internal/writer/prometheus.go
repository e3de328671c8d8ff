package writer

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/jmxtrans/jmxtrans-sub000/internal/config"
	"github.com/jmxtrans/jmxtrans-sub000/internal/naming"
	"github.com/jmxtrans/jmxtrans-sub000/internal/query"
	"github.com/jmxtrans/jmxtrans-sub000/internal/result"
)

var invalidMetricChars = regexp.MustCompile(`[^a-zA-Z0-9_:]`)

// MetricName turns a metric key into a valid Prometheus metric name.
func MetricName(namespace, key string) string {
	name := invalidMetricChars.ReplaceAllString(key, "_")
	if namespace != "" {
		name = namespace + "_" + name
	}
	if name != "" && name[0] >= '0' && name[0] <= '9' {
		name = "_" + name
	}
	return name
}

type promSeries struct {
	name   string
	server string
	value  float64
}

// Prometheus keeps the last numeric value of every key and exposes them as gauges
// labelled by server. The server label is left out of the metric name.
type Prometheus struct {
	keyer
	namespace    string
	boolAsNumber bool
	registerer   prometheus.Registerer
	logger       *zap.SugaredLogger

	mu     sync.RWMutex
	series map[string]promSeries
}

func NewPrometheus(cfg config.WriterConfig, registerer prometheus.Registerer, logger *zap.SugaredLogger) (*Prometheus, error) {
	return &Prometheus{
		keyer:        newKeyer(cfg),
		namespace:    cfg.Namespace,
		boolAsNumber: cfg.BooleanAsNumber,
		registerer:   registerer,
		logger:       logger,
		series:       make(map[string]promSeries),
	}, nil
}

func (p *Prometheus) Start() error {
	if err := p.registerer.Register(p); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			return nil
		}
		return fmt.Errorf("registering prometheus collector: %w", err)
	}
	return nil
}

func (p *Prometheus) ValidateSetup(_ query.Endpoint, q *query.Query) error { return p.validate(q) }

func (p *Prometheus) DoWrite(ctx context.Context, endpoint query.Endpoint, q *query.Query, results []result.Result) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range results {
		for _, e := range r.Values() {
			v, ok := ToNumber(e.Value, p.boolAsNumber)
			if !ok {
				continue
			}
			name := MetricName(p.namespace, naming.KeyString(emptyLabel{}, q, r, e.Key, p.names(q), p.rootPrefix))
			p.series[name+"\xff"+endpoint.Label()] = promSeries{name: name, server: endpoint.Label(), value: v}
		}
	}
	return nil
}

// Describe sends nothing, which makes the collector unchecked; metric names are only
// known after the first poll.
func (p *Prometheus) Describe(chan<- *prometheus.Desc) {}

func (p *Prometheus) Collect(ch chan<- prometheus.Metric) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, s := range p.series {
		desc := prometheus.NewDesc(s.name, "JMX attribute "+s.name, []string{"server"}, nil)
		m, err := prometheus.NewConstMetric(desc, prometheus.GaugeValue, s.value, s.server)
		if err != nil {
			p.logger.Warnw("invalid metric", "name", s.name, "error", err)
			continue
		}
		ch <- m
	}
}

func (p *Prometheus) Close() error {
	p.registerer.Unregister(p)
	p.mu.Lock()
	p.series = make(map[string]promSeries)
	p.mu.Unlock()
	return nil
}
