// Package repository stores the last sample of every metric key.
package repository

import (
	"context"

	models "github.com/jmxtrans/jmxtrans-sub000/internal/model"
)

// Repository is implemented by MemStorage and DBStorage.
type Repository interface {
	// SetMetrics stores the samples, replacing earlier samples with the same name.
	SetMetrics(ctx context.Context, metrics []models.Metric) error
	GetMetric(ctx context.Context, name string) (models.Metric, error)
	DeleteMetric(ctx context.Context, name string) error
	// ListMetrics returns every stored sample ordered by name.
	ListMetrics(ctx context.Context) ([]models.Metric, error)
	Ping(ctx context.Context) error
	Close() error
}
