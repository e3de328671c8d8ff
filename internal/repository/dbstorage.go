package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"

	internalerrors "github.com/jmxtrans/jmxtrans-sub000/internal/errors"
	models "github.com/jmxtrans/jmxtrans-sub000/internal/model"
)

const (
	upsertMetric = `INSERT INTO jmx_metrics (name, type, value, text_value, ts, server, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, NOW())
ON CONFLICT (name) DO UPDATE SET type = EXCLUDED.type, value = EXCLUDED.value,
text_value = EXCLUDED.text_value, ts = EXCLUDED.ts, server = EXCLUDED.server, updated_at = NOW()`
	selectMetric  = "SELECT name, type, value, text_value, ts, server FROM jmx_metrics WHERE name = $1"
	selectMetrics = "SELECT name, type, value, text_value, ts, server FROM jmx_metrics ORDER BY name"
	deleteMetric  = "DELETE FROM jmx_metrics WHERE name = $1"
)

// DBStorage keeps the samples in the jmx_metrics postgres table.
type DBStorage struct {
	db *sql.DB
}

func NewDBStorage(dsn string) (*DBStorage, error) {
	dbConnect, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", internalerrors.ErrDatabaseConnection, err)
	}
	return &DBStorage{db: dbConnect}, nil
}

// NewDBStorageFromDB wraps an open database handle.
func NewDBStorageFromDB(db *sql.DB) *DBStorage {
	return &DBStorage{db: db}
}

func (storage *DBStorage) Close() error {
	return storage.db.Close()
}

// SetMetrics upserts every sample in one transaction.
func (storage *DBStorage) SetMetrics(ctx context.Context, metrics []models.Metric) (err error) {
	tx, err := storage.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("can't start transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, upsertMetric)
	if err != nil {
		return fmt.Errorf("error preparing upsert: %w", err)
	}
	defer stmt.Close()

	for _, metric := range metrics {
		var (
			value sql.NullFloat64
			text  sql.NullString
		)
		switch metric.Type {
		case models.Gauge:
			v, ok := metric.Value.(float64)
			if !ok {
				return fmt.Errorf("gauge %s: value %v is %T, not float64", metric.Name, metric.Value, metric.Value)
			}
			value = sql.NullFloat64{Float64: v, Valid: true}
		case models.Text:
			v, ok := metric.Value.(string)
			if !ok {
				return fmt.Errorf("text %s: value %v is %T, not string", metric.Name, metric.Value, metric.Value)
			}
			text = sql.NullString{String: v, Valid: true}
		default:
			return fmt.Errorf("%w: %s", internalerrors.ErrUnknownMetricType, metric.Type)
		}
		if _, err = stmt.ExecContext(ctx, metric.Name, metric.Type, value, text, metric.Timestamp, metric.Server); err != nil {
			return fmt.Errorf("error saving metric %s: %w", metric.Name, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("error committing metrics: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMetric(row scanner) (models.Metric, error) {
	var (
		m     models.Metric
		value sql.NullFloat64
		text  sql.NullString
	)
	if err := row.Scan(&m.Name, &m.Type, &value, &text, &m.Timestamp, &m.Server); err != nil {
		return models.Metric{}, err
	}
	switch m.Type {
	case models.Gauge:
		m.Value = value.Float64
	case models.Text:
		m.Value = text.String
	default:
		return models.Metric{}, fmt.Errorf("%w: %s", internalerrors.ErrUnknownMetricType, m.Type)
	}
	return m, nil
}

func (storage *DBStorage) GetMetric(ctx context.Context, name string) (models.Metric, error) {
	m, err := scanMetric(storage.db.QueryRowContext(ctx, selectMetric, name))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Metric{}, internalerrors.ErrMetricNotFound
		}
		return models.Metric{}, fmt.Errorf("error retrieving metric: %w", err)
	}
	return m, nil
}

func (storage *DBStorage) DeleteMetric(ctx context.Context, name string) error {
	if _, err := storage.db.ExecContext(ctx, deleteMetric, name); err != nil {
		return fmt.Errorf("error deleting metric: %w", err)
	}
	return nil
}

func (storage *DBStorage) ListMetrics(ctx context.Context) ([]models.Metric, error) {
	rows, err := storage.db.QueryContext(ctx, selectMetrics)
	if err != nil {
		return nil, fmt.Errorf("error retrieving metrics: %w", err)
	}
	defer rows.Close()

	var metrics []models.Metric
	for rows.Next() {
		m, err := scanMetric(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning metric: %w", err)
		}
		metrics = append(metrics, m)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over metrics: %w", err)
	}
	return metrics, nil
}

func (storage *DBStorage) Ping(ctx context.Context) error {
	if err := storage.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %w", internalerrors.ErrDatabaseConnection, err)
	}
	return nil
}
