// Package handler serves the agent's HTTP API: the last collected samples, a batch
// receiver for the http output writer and the prometheus scrape endpoint.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	internalerrors "github.com/jmxtrans/jmxtrans-sub000/internal/errors"
	middlewareinternal "github.com/jmxtrans/jmxtrans-sub000/internal/middleware"
	models "github.com/jmxtrans/jmxtrans-sub000/internal/model"
	"github.com/jmxtrans/jmxtrans-sub000/internal/service"
)

// Options tunes the router.
type Options struct {
	// Key verifies the HashSHA256 header of /updates bodies when set.
	Key string

	// Gatherer backs /metrics. The route is not mounted when nil.
	Gatherer prometheus.Gatherer
}

func Router(metricService *service.MetricsService, logger *zap.SugaredLogger, opts Options) chi.Router {
	router := chi.NewRouter()
	router.Use(middlewareinternal.LoggingMiddleware(logger))
	router.Use(middleware.StripSlashes)
	router.Use(middleware.Timeout(15 * time.Second))

	if opts.Gatherer != nil {
		router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	router.Group(func(r chi.Router) {
		r.Use(middlewareinternal.GzipMiddleware)
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			ListHandler(w, r, metricService, logger)
		})
		r.Get("/value/{name}", func(w http.ResponseWriter, r *http.Request) {
			GetHandler(w, r, metricService)
		})
		r.Post("/value", func(w http.ResponseWriter, r *http.Request) {
			GetValue(w, r, metricService, logger)
		})
		r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
			PingHandler(w, r, metricService, logger)
		})
		r.With(
			middlewareinternal.HashMiddleware(opts.Key, logger),
			middlewareinternal.GunzipMiddleware,
		).Post("/updates", func(w http.ResponseWriter, r *http.Request) {
			BatchUpdateHandler(w, r, metricService, logger)
		})
	})
	return router
}

// BatchUpdateHandler stores a JSON array of samples.
func BatchUpdateHandler(w http.ResponseWriter, r *http.Request, metricService *service.MetricsService, logger *zap.SugaredLogger) {
	var dtos []models.MetricsDTO
	if err := json.NewDecoder(r.Body).Decode(&dtos); err != nil {
		http.Error(w, "Invalid JSON format: "+err.Error(), http.StatusBadRequest)
		return
	}
	metrics := make([]models.Metric, 0, len(dtos))
	for _, dto := range dtos {
		if dto.ID == "" {
			http.Error(w, "Metric id is required", http.StatusBadRequest)
			return
		}
		metrics = append(metrics, models.FromDTO(dto))
	}
	if err := metricService.SetMetrics(r.Context(), metrics); err != nil {
		logger.Warnw("rejecting batch", "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func PingHandler(w http.ResponseWriter, r *http.Request, metricService *service.MetricsService, logger *zap.SugaredLogger) {
	if err := metricService.Ping(r.Context()); err != nil {
		logger.Errorw("store ping failed", "error", err)
		http.Error(w, "Failed to reach store: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// GetValue answers a JSON lookup by id with the stored sample.
func GetValue(w http.ResponseWriter, r *http.Request, metricService *service.MetricsService, logger *zap.SugaredLogger) {
	var request models.MetricsDTO
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid JSON format: "+err.Error(), http.StatusBadRequest)
		return
	}
	response, err := metricService.GetMetricDTO(r.Context(), request.ID)
	if err != nil {
		writeLookupError(w, err, logger)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}

func GetHandler(w http.ResponseWriter, r *http.Request, metricService *service.MetricsService) {
	metric, err := metricService.GetMetric(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeLookupError(w, err, nil)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, formatValue(metric.Value))
}

func ListHandler(w http.ResponseWriter, r *http.Request, metricService *service.MetricsService, logger *zap.SugaredLogger) {
	metrics, err := metricService.ListMetrics(r.Context())
	if err != nil {
		logger.Errorw("listing metrics failed", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	var b strings.Builder
	for _, m := range metrics {
		fmt.Fprintf(&b, "%s: %s\n", m.Name, formatValue(m.Value))
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, b.String())
}

func writeLookupError(w http.ResponseWriter, err error, logger *zap.SugaredLogger) {
	if errors.Is(err, internalerrors.ErrMetricNotFound) {
		http.Error(w, "Metric name not found", http.StatusNotFound)
		return
	}
	if logger != nil {
		logger.Errorw("metric lookup failed", "error", err)
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func formatValue(v any) string {
	if f, ok := v.(float64); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}
