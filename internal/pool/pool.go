// Package pool lends JMX connections keyed by server identity.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/puddle/v2"
	"go.uber.org/zap"

	internalerrors "github.com/jmxtrans/jmxtrans-sub000/internal/errors"
	"github.com/jmxtrans/jmxtrans-sub000/internal/jmx"
)

// Factory opens connections for one pool key.
type Factory interface {
	PoolKey() string
	Open(ctx context.Context) (jmx.Connection, error)
}

// Lease is a borrowed connection. Exactly one of Return or Invalidate must be called.
type Lease interface {
	Conn() jmx.Connection
	// Return gives a healthy connection back to the pool.
	Return()
	// Invalidate discards the connection; the next borrow opens a new one.
	Invalidate()
}

// Pool lends connections.
type Pool interface {
	Borrow(ctx context.Context, f Factory) (Lease, error)
	Close()
}

const (
	DefaultMaxSize       = 4
	DefaultBorrowTimeout = 30 * time.Second
)

// Keyed keeps one bounded pool per factory key, created on first borrow.
type Keyed struct {
	mu            sync.Mutex
	pools         map[string]*puddle.Pool[jmx.Connection]
	maxSize       int32
	borrowTimeout time.Duration
	logger        *zap.SugaredLogger
}

// NewKeyed creates a Keyed pool. Non-positive arguments fall back to the defaults.
func NewKeyed(maxSize int, borrowTimeout time.Duration, logger *zap.SugaredLogger) *Keyed {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if borrowTimeout <= 0 {
		borrowTimeout = DefaultBorrowTimeout
	}
	return &Keyed{
		pools:         make(map[string]*puddle.Pool[jmx.Connection]),
		maxSize:       int32(maxSize),
		borrowTimeout: borrowTimeout,
		logger:        logger,
	}
}

func (k *Keyed) poolFor(f Factory) (*puddle.Pool[jmx.Connection], error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	key := f.PoolKey()
	if p, ok := k.pools[key]; ok {
		return p, nil
	}
	p, err := puddle.NewPool(&puddle.Config[jmx.Connection]{
		Constructor: func(ctx context.Context) (jmx.Connection, error) {
			k.logger.Debugw("opening JMX connection", "server", key)
			return f.Open(ctx)
		},
		Destructor: func(conn jmx.Connection) {
			if err := conn.Close(); err != nil {
				k.logger.Warnw("closing JMX connection", "server", key, "error", err)
			}
		},
		MaxSize: k.maxSize,
	})
	if err != nil {
		return nil, fmt.Errorf("creating pool for %s: %w", key, err)
	}
	k.pools[key] = p
	return p, nil
}

// Borrow waits at most the borrow timeout for a connection of f's key.
func (k *Keyed) Borrow(ctx context.Context, f Factory) (Lease, error) {
	p, err := k.poolFor(f)
	if err != nil {
		return nil, err
	}
	acquireCtx, cancel := context.WithTimeout(ctx, k.borrowTimeout)
	defer cancel()

	res, err := p.Acquire(acquireCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w: %s after %s", internalerrors.ErrPoolExhausted, f.PoolKey(), k.borrowTimeout)
		}
		return nil, fmt.Errorf("%w: %s: %w", internalerrors.ErrConnection, f.PoolKey(), err)
	}
	return &lease{res: res}, nil
}

// Close closes every pool and the idle connections they hold.
func (k *Keyed) Close() {
	k.mu.Lock()
	defer k.mu.Unlock()
	for key, p := range k.pools {
		p.Close()
		delete(k.pools, key)
	}
}

type lease struct {
	res  *puddle.Resource[jmx.Connection]
	once sync.Once
}

func (l *lease) Conn() jmx.Connection { return l.res.Value() }

func (l *lease) Return() {
	l.once.Do(l.res.Release)
}

func (l *lease) Invalidate() {
	l.once.Do(l.res.Destroy)
}
