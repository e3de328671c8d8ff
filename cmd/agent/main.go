package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jmxtrans/jmxtrans-sub000/internal/attach"
	"github.com/jmxtrans/jmxtrans-sub000/internal/config"
	"github.com/jmxtrans/jmxtrans-sub000/internal/handler"
	_ "github.com/jmxtrans/jmxtrans-sub000/internal/jmx/jolokia"
	_ "github.com/jmxtrans/jmxtrans-sub000/internal/jmx/rmi"
	"github.com/jmxtrans/jmxtrans-sub000/internal/pool"
	"github.com/jmxtrans/jmxtrans-sub000/internal/repository"
	"github.com/jmxtrans/jmxtrans-sub000/internal/scheduler"
	"github.com/jmxtrans/jmxtrans-sub000/internal/service"
	"github.com/jmxtrans/jmxtrans-sub000/internal/writer"
)

const shutdownTimeout = 10 * time.Second

func newLogger(level string) (*zap.SugaredLogger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}

func main() {
	agentConfig, err := config.NewAgentConfig(os.Args[1:])
	if err != nil {
		log.Fatal("Failed to parse configuration: ", err)
	}
	logger, err := newLogger(agentConfig.LogLevel)
	if err != nil {
		log.Fatal("Failed to create logger: ", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, agentConfig, logger); err != nil {
		logger.Fatalw("agent stopped", "error", err)
	}
}

// run collects until ctx is done, then stops the scheduler and the HTTP API and saves
// the snapshot store.
func run(ctx context.Context, agentConfig *config.AgentConfig, logger *zap.SugaredLogger) (err error) {
	if agentConfig.ConfigFile == "" {
		return errors.New("no config file given, use -c or CONFIG")
	}
	file, err := config.Load(agentConfig.ConfigFile)
	if err != nil {
		return err
	}

	snapshot := service.NewMetricsService(repository.NewMemStorage())
	if agentConfig.FileStoragePath != "" {
		if err := snapshot.RestoreMetrics(ctx, agentConfig.FileStoragePath, logger); err != nil {
			logger.Warnw("snapshot restore failed", "path", agentConfig.FileStoragePath, "error", err)
		}
	}

	registry := prometheus.NewRegistry()
	files := writer.NewFileRegistry()
	defer func() { err = multierr.Append(err, files.Close()) }()

	connections := pool.NewKeyed(agentConfig.PoolSize, agentConfig.BorrowTimeoutDuration(), logger)
	defer connections.Close()

	servers, err := config.Build(file, config.BuildDeps{
		Pool:     connections,
		Resolver: attach.NewResolver(agentConfig.AgentJar, logger),
		NewWriter: writer.Factory(writer.Deps{
			Logger:     logger,
			Files:      files,
			Registerer: registry,
			Snapshot:   snapshot,
		}),
		DefaultRunPeriod: agentConfig.RunPeriodDuration(),
		Logger:           logger,
	})
	if err != nil {
		return fmt.Errorf("building servers from %s: %w", agentConfig.ConfigFile, err)
	}

	sched := scheduler.New(servers, logger)
	if err := sched.Start(ctx); err != nil {
		return err
	}
	logger.Infow("agent started", "servers", len(servers), "config", agentConfig.ConfigFile)

	var httpServer *http.Server
	serveErr := make(chan error, 1)
	if agentConfig.Address != "" {
		httpServer = &http.Server{
			Addr:    agentConfig.Address,
			Handler: handler.Router(snapshot, logger, handler.Options{Key: agentConfig.Key, Gatherer: registry}),
		}
		go func() {
			logger.Infow("serving HTTP API", "address", agentConfig.Address)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
	case err = <-serveErr:
		logger.Errorw("HTTP API failed", "error", err)
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if httpServer != nil {
		err = multierr.Append(err, httpServer.Shutdown(shutdownCtx))
	}
	err = multierr.Append(err, sched.Stop(shutdownCtx))
	if agentConfig.FileStoragePath != "" {
		err = multierr.Append(err, snapshot.SaveMetrics(shutdownCtx, agentConfig.FileStoragePath))
	}
	return err
}
