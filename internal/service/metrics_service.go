// Package service provides the access layer over the sample store used by the agent
// HTTP API and the repository output writers.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"go.uber.org/zap"

	models "github.com/jmxtrans/jmxtrans-sub000/internal/model"
	"github.com/jmxtrans/jmxtrans-sub000/internal/repository"
)

// MetricsService provides methods for managing stored samples.
//
// It delegates operations to an underlying repository implementation.
type MetricsService struct {
	// repository is the underlying data storage implementation
	repository repository.Repository
}

// NewMetricsService creates a new MetricsService with the specified repository.
func NewMetricsService(repo repository.Repository) *MetricsService {

	return &MetricsService{repository: repo}
}

// SetMetrics stores samples in a batch operation, delegating to the repository implementation.
func (ms *MetricsService) SetMetrics(ctx context.Context, metrics []models.Metric) error {

	return ms.repository.SetMetrics(ctx, metrics)
}

// GetMetric retrieves a single sample by name.
func (ms *MetricsService) GetMetric(ctx context.Context, name string) (models.Metric, error) {

	return ms.repository.GetMetric(ctx, name)
}

// GetMetricDTO retrieves a single sample in its wire form.
func (ms *MetricsService) GetMetricDTO(ctx context.Context, name string) (models.MetricsDTO, error) {
	m, err := ms.repository.GetMetric(ctx, name)
	if err != nil {
		return models.MetricsDTO{}, err
	}
	return m.DTO(), nil
}

// DeleteMetric removes a sample by its name, delegating to the repository implementation.
func (ms *MetricsService) DeleteMetric(ctx context.Context, name string) error {

	return ms.repository.DeleteMetric(ctx, name)
}

// ListMetrics retrieves all samples ordered by name.
func (ms *MetricsService) ListMetrics(ctx context.Context) ([]models.Metric, error) {

	return ms.repository.ListMetrics(ctx)
}

// Ping checks the repository connection, delegating to the repository implementation.
func (ms *MetricsService) Ping(ctx context.Context) error {

	return ms.repository.Ping(ctx)
}

func (ms *MetricsService) Close() error {
	return ms.repository.Close()
}

// IsMemStorage checks if the underlying repository is a MemStorage implementation.
func (ms *MetricsService) IsMemStorage() bool {

	_, isMemStorage := ms.repository.(*repository.MemStorage)
	return isMemStorage
}

// SaveMetrics saves all samples to a file as a JSON array of DTOs.
func (ms *MetricsService) SaveMetrics(ctx context.Context, fname string) error {

	metrics, err := ms.repository.ListMetrics(ctx)
	if err != nil {
		return fmt.Errorf("error listing metrics: %w", err)
	}
	dtos := make([]models.MetricsDTO, 0, len(metrics))
	for _, m := range metrics {
		dtos = append(dtos, m.DTO())
	}

	file, err := os.Create(fname)
	if err != nil {
		return fmt.Errorf("error creating file: %w", err)
	}
	defer file.Close()

	return json.NewEncoder(file).Encode(dtos)
}

// RestoreMetrics restores samples from a file written by SaveMetrics.
//
// A missing file is not an error.
func (ms *MetricsService) RestoreMetrics(ctx context.Context, fname string, logger *zap.SugaredLogger) error {

	if _, err := os.Stat(fname); os.IsNotExist(err) {
		logger.Infof("storage file not exists %s", fname)
		return nil
	}

	file, err := os.Open(fname)
	if err != nil {
		return fmt.Errorf("error while opening file to restore: %w", err)
	}
	defer file.Close()

	var dtos []models.MetricsDTO
	if err = json.NewDecoder(file).Decode(&dtos); err != nil {
		return fmt.Errorf("error while unmarshalling file store: %w", err)
	}

	metrics := make([]models.Metric, 0, len(dtos))
	for _, dto := range dtos {
		metrics = append(metrics, models.FromDTO(dto))
	}
	if err = ms.repository.SetMetrics(ctx, metrics); err != nil {
		return fmt.Errorf("error restoring metrics: %w", err)
	}
	logger.Infof("restored %d metrics from %s", len(metrics), fname)
	return nil
}
