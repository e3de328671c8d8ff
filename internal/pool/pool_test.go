package pool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	internalerrors "github.com/jmxtrans/jmxtrans-sub000/internal/errors"
	"github.com/jmxtrans/jmxtrans-sub000/internal/jmx"
	"github.com/jmxtrans/jmxtrans-sub000/internal/jmx/jmxtest"
)

type countingFactory struct {
	key    string
	opened atomic.Int32
	err    error
	conns  []*jmxtest.Connection
}

func (f *countingFactory) PoolKey() string { return f.key }

func (f *countingFactory) Open(ctx context.Context) (jmx.Connection, error) {
	f.opened.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	conn := jmxtest.NewConnection()
	f.conns = append(f.conns, conn)
	return conn, nil
}

func TestKeyed_ReturnReusesConnection(t *testing.T) {
	p := NewKeyed(2, time.Second, zap.NewNop().Sugar())
	defer p.Close()
	f := &countingFactory{key: "host:1"}

	lease, err := p.Borrow(context.Background(), f)
	require.NoError(t, err)
	first := lease.Conn()
	lease.Return()

	lease, err = p.Borrow(context.Background(), f)
	require.NoError(t, err)
	assert.Same(t, first, lease.Conn())
	lease.Return()

	assert.Equal(t, int32(1), f.opened.Load())
}

func TestKeyed_InvalidateReopens(t *testing.T) {
	p := NewKeyed(2, time.Second, zap.NewNop().Sugar())
	defer p.Close()
	f := &countingFactory{key: "host:1"}

	lease, err := p.Borrow(context.Background(), f)
	require.NoError(t, err)
	lease.Invalidate()
	// A second call after invalidation is ignored.
	lease.Return()

	assert.Eventually(t, func() bool {
		c := f.conns[0]
		return c.IsClosed()
	}, time.Second, 10*time.Millisecond)

	lease, err = p.Borrow(context.Background(), f)
	require.NoError(t, err)
	lease.Return()
	assert.Equal(t, int32(2), f.opened.Load())
}

func TestKeyed_SeparatePoolsPerKey(t *testing.T) {
	p := NewKeyed(1, time.Second, zap.NewNop().Sugar())
	defer p.Close()
	a := &countingFactory{key: "a"}
	b := &countingFactory{key: "b"}

	la, err := p.Borrow(context.Background(), a)
	require.NoError(t, err)
	lb, err := p.Borrow(context.Background(), b)
	require.NoError(t, err)
	assert.NotSame(t, la.Conn(), lb.Conn())
	la.Return()
	lb.Return()
}

func TestKeyed_Exhausted(t *testing.T) {
	p := NewKeyed(1, 50*time.Millisecond, zap.NewNop().Sugar())
	defer p.Close()
	f := &countingFactory{key: "host:1"}

	held, err := p.Borrow(context.Background(), f)
	require.NoError(t, err)
	defer held.Return()

	_, err = p.Borrow(context.Background(), f)
	require.Error(t, err)
	assert.ErrorIs(t, err, internalerrors.ErrPoolExhausted)
}

func TestKeyed_OpenFailure(t *testing.T) {
	p := NewKeyed(1, time.Second, zap.NewNop().Sugar())
	defer p.Close()
	f := &countingFactory{key: "host:1", err: errors.New("connection refused")}

	_, err := p.Borrow(context.Background(), f)
	require.Error(t, err)
	assert.ErrorIs(t, err, internalerrors.ErrConnection)
	assert.Contains(t, err.Error(), "connection refused")
}
