package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	internalerrors "github.com/jmxtrans/jmxtrans-sub000/internal/errors"
	models "github.com/jmxtrans/jmxtrans-sub000/internal/model"
)

// MemStorage implements the Repository interface using in-memory storage.
type MemStorage struct {
	// mu provides thread-safe access to the storage maps
	mu sync.RWMutex

	// gauges stores gauge samples by name
	gauges map[string]float64

	// texts stores text samples by name
	texts map[string]string

	// meta stores the type, timestamp and server of each sample
	meta map[string]models.Metric
}

// NewMemStorage creates a new in-memory storage instance.
func NewMemStorage() *MemStorage {

	return &MemStorage{
		gauges: make(map[string]float64),
		texts:  make(map[string]string),
		meta:   make(map[string]models.Metric),
	}
}

// SetMetrics stores the samples. A sample may change type between writes.
func (ms *MemStorage) SetMetrics(ctx context.Context, metrics []models.Metric) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	for _, metric := range metrics {
		if err := ms.set(metric); err != nil {
			return err
		}
	}
	return nil
}

func (ms *MemStorage) set(metric models.Metric) error {
	switch metric.Type {
	case models.Gauge:
		val, ok := metric.Value.(float64)
		if !ok {
			return fmt.Errorf("gauge %s: value %v is %T, not float64", metric.Name, metric.Value, metric.Value)
		}
		delete(ms.texts, metric.Name)
		ms.gauges[metric.Name] = val
	case models.Text:
		val, ok := metric.Value.(string)
		if !ok {
			return fmt.Errorf("text %s: value %v is %T, not string", metric.Name, metric.Value, metric.Value)
		}
		delete(ms.gauges, metric.Name)
		ms.texts[metric.Name] = val
	default:
		return fmt.Errorf("%w: %s", internalerrors.ErrUnknownMetricType, metric.Type)
	}
	ms.meta[metric.Name] = models.Metric{
		Name:      metric.Name,
		Type:      metric.Type,
		Timestamp: metric.Timestamp,
		Server:    metric.Server,
	}
	return nil
}

// DeleteMetric removes a metric from memory storage.
func (ms *MemStorage) DeleteMetric(ctx context.Context, name string) error {

	ms.mu.Lock()
	defer ms.mu.Unlock()
	delete(ms.gauges, name)
	delete(ms.texts, name)
	delete(ms.meta, name)
	return nil
}

// ListMetrics returns all metrics stored in memory, ordered by name.
func (ms *MemStorage) ListMetrics(ctx context.Context) ([]models.Metric, error) {

	ms.mu.RLock()
	defer ms.mu.RUnlock()
	result := make([]models.Metric, 0, len(ms.meta))
	for name := range ms.meta {
		result = append(result, ms.get(name))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// GetMetric returns the last sample stored under name.
func (ms *MemStorage) GetMetric(ctx context.Context, name string) (models.Metric, error) {

	ms.mu.RLock()
	defer ms.mu.RUnlock()
	if _, exists := ms.meta[name]; !exists {
		return models.Metric{}, internalerrors.ErrMetricNotFound
	}
	return ms.get(name), nil
}

func (ms *MemStorage) get(name string) models.Metric {
	m := ms.meta[name]
	switch m.Type {
	case models.Gauge:
		m.Value = ms.gauges[name]
	case models.Text:
		m.Value = ms.texts[name]
	}
	return m
}

// Close releases any resources held by the memory storage.
func (ms *MemStorage) Close() error {

	return nil
}

// Ping checks the health of the memory storage.
//
// For MemStorage, this always returns nil since there are no external dependencies.
func (ms *MemStorage) Ping(ctx context.Context) error {
	return nil
}
