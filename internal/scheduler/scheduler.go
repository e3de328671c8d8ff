// Package scheduler polls every server at its run period and hands the results to the
// output writers of each query.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	internalerrors "github.com/jmxtrans/jmxtrans-sub000/internal/errors"
	"github.com/jmxtrans/jmxtrans-sub000/internal/jmx"
	"github.com/jmxtrans/jmxtrans-sub000/internal/jmx/local"
	"github.com/jmxtrans/jmxtrans-sub000/internal/notification"
	"github.com/jmxtrans/jmxtrans-sub000/internal/query"
	"github.com/jmxtrans/jmxtrans-sub000/internal/result"
	"github.com/jmxtrans/jmxtrans-sub000/internal/server"
)

// subscription is a dedicated connection holding notification listeners.
type subscription struct {
	server     *server.Server
	conn       jmx.Connection
	processors []*notification.Processor
}

// Scheduler runs one polling loop per server.
type Scheduler struct {
	servers []*server.Server
	logger  *zap.SugaredLogger

	mu            sync.Mutex
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	writers       []query.OutputWriter
	subscriptions []subscription
	running       bool
}

func New(servers []*server.Server, logger *zap.SugaredLogger) *Scheduler {
	return &Scheduler{servers: servers, logger: logger}
}

// writerSet returns every distinct writer in first-seen order.
func (s *Scheduler) writerSet() []query.OutputWriter {
	seen := make(map[query.OutputWriter]struct{})
	var writers []query.OutputWriter
	for _, srv := range s.servers {
		for _, q := range srv.Queries() {
			for _, w := range q.OutputWriters() {
				if _, ok := seen[w]; ok {
					continue
				}
				seen[w] = struct{}{}
				writers = append(writers, w)
			}
		}
	}
	return writers
}

// Start validates every writer against every (server, query) pair, starts the writers,
// subscribes notification queries and launches the polling loops. Nothing is polled
// when validation or a writer start fails.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("scheduler already started")
	}

	for _, srv := range s.servers {
		for _, q := range srv.Queries() {
			for _, w := range q.OutputWriters() {
				if err := w.ValidateSetup(srv, q); err != nil {
					return fmt.Errorf("%w: server %s, query %s, %T: %w",
						internalerrors.ErrInvalidWriterConfig, srv.Label(), q.ObjectName(), w, err)
				}
			}
		}
	}

	writers := s.writerSet()
	for i, w := range writers {
		if err := w.Start(); err != nil {
			closeErr := closeWriters(writers[:i])
			return multierr.Append(fmt.Errorf("starting %T: %w", w, err), closeErr)
		}
	}
	s.writers = writers

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.subscriptions = s.subscribe(ctx)

	for _, srv := range s.servers {
		s.wg.Add(1)
		go s.loop(runCtx, srv)
	}
	s.running = true
	s.logger.Infow("scheduler started", "servers", len(s.servers), "writers", len(writers))
	return nil
}

// subscribe registers listeners for queries flagged for notifications. A server that
// cannot deliver notifications is logged and polled as usual.
func (s *Scheduler) subscribe(ctx context.Context) []subscription {
	var subs []subscription
	for _, srv := range s.servers {
		var queries []*query.Query
		for _, q := range srv.Queries() {
			if q.Notifications() {
				queries = append(queries, q)
			}
		}
		if len(queries) == 0 {
			continue
		}
		conn, err := srv.Open(ctx)
		if err != nil {
			s.logger.Errorw("opening notification connection", "server", srv.Label(), "error", err)
			continue
		}
		sub := subscription{server: srv, conn: conn}
		for _, q := range queries {
			processors, err := notification.Register(ctx, srv, conn, q, s.logger)
			sub.processors = append(sub.processors, processors...)
			if err != nil {
				s.logger.Warnw("registering notification listeners",
					"server", srv.Label(), "query", q.ObjectName().String(), "error", err)
			}
		}
		if len(sub.processors) == 0 {
			if !srv.Local() {
				_ = conn.Close()
			}
			continue
		}
		subs = append(subs, sub)
	}
	return subs
}

func (s *Scheduler) loop(ctx context.Context, srv *server.Server) {
	defer s.wg.Done()
	ticker := time.NewTicker(srv.RunPeriod())
	defer ticker.Stop()

	for {
		s.RunOnce(ctx, srv)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce polls srv once. Errors are logged; other servers are not affected.
func (s *Scheduler) RunOnce(ctx context.Context, srv *server.Server) {
	if srv.Local() {
		local.Platform().Refresh()
	}
	start := time.Now()
	err := srv.ExecuteAll(ctx, func(ctx context.Context, q *query.Query, results []result.Result) error {
		return q.RunOutputWriters(ctx, srv, results)
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		for _, e := range multierr.Errors(err) {
			s.logger.Errorw("poll failed", "server", srv.Label(), "error", e)
		}
		return
	}
	s.logger.Debugw("poll finished", "server", srv.Label(), "duration", time.Since(start))
}

// Stop cancels the loops, waits for them, removes notification listeners and closes
// every writer once. All writers are closed even when some fail.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.cancel()
	s.wg.Wait()

	var errs error
	for _, sub := range s.subscriptions {
		errs = multierr.Append(errs, notification.Deregister(ctx, sub.conn, sub.processors))
		if !sub.server.Local() {
			errs = multierr.Append(errs, sub.conn.Close())
		}
	}
	s.subscriptions = nil

	errs = multierr.Append(errs, closeWriters(s.writers))
	s.writers = nil
	s.running = false
	s.logger.Info("scheduler stopped")
	return errs
}

func closeWriters(writers []query.OutputWriter) error {
	var errs error
	for _, w := range writers {
		if err := w.Close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("closing %T: %w", w, err))
		}
	}
	return errs
}
