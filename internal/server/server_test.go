package server

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internalerrors "github.com/jmxtrans/jmxtrans-sub000/internal/errors"
	"github.com/jmxtrans/jmxtrans-sub000/internal/jmx"
	"github.com/jmxtrans/jmxtrans-sub000/internal/jmx/jmxtest"
	"github.com/jmxtrans/jmxtrans-sub000/internal/pool"
	"github.com/jmxtrans/jmxtrans-sub000/internal/query"
	"github.com/jmxtrans/jmxtrans-sub000/internal/result"
)

type fakePool struct {
	conn        jmx.Connection
	borrowErr   error
	returned    atomic.Int32
	invalidated atomic.Int32
	keys        []string
	mu          sync.Mutex
}

func (p *fakePool) Borrow(ctx context.Context, f pool.Factory) (pool.Lease, error) {
	p.mu.Lock()
	p.keys = append(p.keys, f.PoolKey())
	p.mu.Unlock()
	if p.borrowErr != nil {
		return nil, p.borrowErr
	}
	return &fakeLease{p: p}, nil
}

func (p *fakePool) Close() {}

type fakeLease struct{ p *fakePool }

func (l *fakeLease) Conn() jmx.Connection { return l.p.conn }
func (l *fakeLease) Return()              { l.p.returned.Add(1) }
func (l *fakeLease) Invalidate()          { l.p.invalidated.Add(1) }

type fakeResolver struct{ url string }

func (r fakeResolver) ConnectorAddress(ctx context.Context, pid string) (string, error) {
	return r.url, nil
}

func memoryConnection() *jmxtest.Connection {
	return jmxtest.NewConnection(jmxtest.Bean{
		Name:       jmx.MustParseObjectName("java.lang:type=Memory"),
		ClassName:  "sun.management.MemoryImpl",
		Attributes: []jmx.Attribute{{Name: "Verbose", Value: jmx.Scalar{V: true}}},
	})
}

func mustQuery(t *testing.T, obj string, attr ...string) *query.Query {
	t.Helper()
	q, err := query.NewBuilder().SetObj(obj).AddAttr(attr...).Build()
	require.NoError(t, err)
	return q
}

func TestBuilder_Identity(t *testing.T) {
	tests := []struct {
		name    string
		builder *Builder
		wantErr error
	}{
		{name: "host and port", builder: NewBuilder().SetHost("jvm1").SetPort("9999")},
		{name: "url", builder: NewBuilder().SetURL("service:jmx:rmi:///jndi/rmi://jvm1:9999/jmxrmi")},
		{name: "pid", builder: NewBuilder().SetPid("1234")},
		{name: "none", builder: NewBuilder(), wantErr: internalerrors.ErrMissingIdentity},
		{name: "pid and host", builder: NewBuilder().SetPid("1").SetHost("jvm1").SetPort("1"), wantErr: internalerrors.ErrConflictingIdentity},
		{name: "url and host", builder: NewBuilder().SetURL("http://h:1/jolokia").SetHost("h").SetPort("1"), wantErr: internalerrors.ErrConflictingIdentity},
		{name: "host without port", builder: NewBuilder().SetHost("jvm1"), wantErr: internalerrors.ErrMissingPort},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := tt.builder.Build()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, s)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, s)
		})
	}
}

func TestBuilder_DeduplicatesQueriesAndAddsServerWriters(t *testing.T) {
	q1 := mustQuery(t, "java.lang:type=Memory", "Verbose")
	q2 := mustQuery(t, "java.lang:type=Memory", "Verbose")
	q3 := mustQuery(t, "java.lang:type=Threading", "ThreadCount")

	s, err := NewBuilder().SetHost("h").SetPort("1").
		AddQueries(q1, q2, q3).
		AddOutputWriters(nopWriter{}).
		Build()
	require.NoError(t, err)

	queries := s.Queries()
	require.Len(t, queries, 2)
	for _, q := range queries {
		assert.Len(t, q.OutputWriters(), 1)
	}
	assert.Equal(t, defaultRunPeriod, s.RunPeriod())
}

func TestServer_Naming(t *testing.T) {
	s, err := NewBuilder().SetHost("jvm1.example.com").SetPort("9999").Build()
	require.NoError(t, err)
	assert.Equal(t, "jvm1_example_com_9999", s.Label())
	assert.Equal(t, "jvm1.example.com:9999", s.PoolKey())

	s, err = NewBuilder().SetURL("service:jmx:rmi:///jndi/rmi://jvm2:1099/jmxrmi").Build()
	require.NoError(t, err)
	assert.Equal(t, "jvm2", s.Host())
	assert.Equal(t, "1099", s.Port())
	assert.Equal(t, "jvm2_1099", s.Label())

	s, err = NewBuilder().SetURL("http://jvm3:8778/jolokia/").SetAlias("prod").SetUsername("u").Build()
	require.NoError(t, err)
	assert.Equal(t, "prod", s.Label())
	assert.Equal(t, "u@http://jvm3:8778/jolokia/", s.PoolKey())

	s, err = NewBuilder().SetPid("42").Build()
	require.NoError(t, err)
	assert.Equal(t, "localhost_42", s.Label())
	assert.Equal(t, "pid:42", s.PoolKey())
}

func TestServer_URL(t *testing.T) {
	ctx := context.Background()

	s, err := NewBuilder().SetHost("jvm1").SetPort("9999").Build()
	require.NoError(t, err)
	u, err := s.URL(ctx)
	require.NoError(t, err)
	assert.Equal(t, "service:jmx:rmi:///jndi/rmi://jvm1:9999/jmxrmi", u)

	s, err = NewBuilder().SetPid("42").SetConnectorResolver(fakeResolver{url: "http://127.0.0.1:8778/jolokia/"}).Build()
	require.NoError(t, err)
	u, err = s.URL(ctx)
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:8778/jolokia/", u)

	s, err = NewBuilder().SetPid("42").Build()
	require.NoError(t, err)
	_, err = s.URL(ctx)
	assert.ErrorIs(t, err, internalerrors.ErrAttach)
}

func TestServer_Environment(t *testing.T) {
	s, err := NewBuilder().SetHost("h").SetPort("1").SetUsername("admin").SetPassword("secret").SetSSL(true).Build()
	require.NoError(t, err)
	env := s.Environment()
	assert.Equal(t, []string{"admin", "secret"}, env[jmx.EnvCredentials])
	assert.Equal(t, DefaultSocketTimeout, env.SocketTimeout(0))
	assert.True(t, env.SSL())

	s, err = NewBuilder().SetHost("h").SetPort("1").SetUsername("weblogic").SetPassword("pw").
		SetProtocolProviderPackages("weblogic.management.remote").Build()
	require.NoError(t, err)
	env = s.Environment()
	assert.NotContains(t, env, jmx.EnvCredentials)
	assert.Equal(t, "weblogic", env[jmx.EnvSecurityPrincipal])
	assert.Equal(t, "pw", env[jmx.EnvSecurityCreds])
	assert.Equal(t, "weblogic.management.remote", env.ProviderPackages())

	s, err = NewBuilder().SetHost("h").SetPort("1").Build()
	require.NoError(t, err)
	_, _, ok := s.Environment().Credentials()
	assert.False(t, ok)
}

func TestServer_Open(t *testing.T) {
	var gotURL string
	var gotEnv jmx.Environment
	conn := memoryConnection()
	s, err := NewBuilder().SetHost("h").SetPort("1").
		SetDialFunc(func(ctx context.Context, u string, env jmx.Environment) (jmx.Connection, error) {
			gotURL, gotEnv = u, env
			return conn, nil
		}).Build()
	require.NoError(t, err)

	opened, err := s.Open(context.Background())
	require.NoError(t, err)
	assert.Same(t, conn, opened)
	assert.Equal(t, "service:jmx:rmi:///jndi/rmi://h:1/jmxrmi", gotURL)
	assert.Equal(t, DefaultSocketTimeout, gotEnv.SocketTimeout(0))

	failing, err := NewBuilder().SetHost("h").SetPort("1").
		SetDialFunc(func(ctx context.Context, u string, env jmx.Environment) (jmx.Connection, error) {
			return nil, errors.New("connection refused")
		}).Build()
	require.NoError(t, err)
	_, err = failing.Open(context.Background())
	assert.ErrorIs(t, err, internalerrors.ErrConnection)
}

func TestServer_OpenLocal(t *testing.T) {
	s, err := NewBuilder().SetHost("localhost").SetPort("0").SetLocal(true).Build()
	require.NoError(t, err)
	conn, err := s.Open(context.Background())
	require.NoError(t, err)

	names, err := conn.QueryNames(context.Background(), jmx.MustParseObjectName("go.runtime:type=Memory"))
	require.NoError(t, err)
	assert.Len(t, names, 1)
	assert.NoError(t, conn.Close())
}

func TestServer_Execute_ReturnsOnSuccess(t *testing.T) {
	p := &fakePool{conn: memoryConnection()}
	s, err := NewBuilder().SetHost("h").SetPort("1").SetPool(p).Build()
	require.NoError(t, err)

	results, err := s.Execute(context.Background(), mustQuery(t, "java.lang:type=Memory", "Verbose"))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int32(1), p.returned.Load())
	assert.Equal(t, int32(0), p.invalidated.Load())
	assert.Equal(t, []string{"h:1"}, p.keys)
}

func TestServer_Execute_InvalidatesOnFailure(t *testing.T) {
	conn := memoryConnection()
	conn.GetErr = errors.New("connection reset by peer")
	p := &fakePool{conn: conn}
	s, err := NewBuilder().SetHost("h").SetPort("1").SetPool(p).Build()
	require.NoError(t, err)

	_, err = s.Execute(context.Background(), mustQuery(t, "java.lang:type=Memory", "Verbose"))
	require.Error(t, err)
	assert.Equal(t, int32(0), p.returned.Load())
	assert.Equal(t, int32(1), p.invalidated.Load())
}

func TestServer_Execute_ClassNotFoundKeepsConnection(t *testing.T) {
	conn := memoryConnection()
	conn.GetErr = &jmx.UnmarshalError{Cause: jmx.ErrClassNotFound}
	p := &fakePool{conn: conn}
	s, err := NewBuilder().SetHost("h").SetPort("1").SetPool(p).Build()
	require.NoError(t, err)

	results, err := s.Execute(context.Background(), mustQuery(t, "java.lang:type=Memory", "Verbose"))
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, int32(1), p.returned.Load())
	assert.Equal(t, int32(0), p.invalidated.Load())
}

func TestServer_Execute_BorrowFailure(t *testing.T) {
	p := &fakePool{borrowErr: internalerrors.ErrPoolExhausted}
	s, err := NewBuilder().SetHost("h").SetPort("1").SetPool(p).Build()
	require.NoError(t, err)

	_, err = s.Execute(context.Background(), mustQuery(t, "java.lang:type=Memory"))
	assert.ErrorIs(t, err, internalerrors.ErrPoolExhausted)
	assert.Equal(t, int32(0), p.returned.Load())
	assert.Equal(t, int32(0), p.invalidated.Load())
}

func TestServer_ExecuteAll(t *testing.T) {
	for _, threads := range []int{0, 2} {
		p := &fakePool{conn: memoryConnection()}
		s, err := NewBuilder().SetHost("h").SetPort("1").SetPool(p).SetNumQueryThreads(threads).
			AddQueries(
				mustQuery(t, "java.lang:type=Memory", "Verbose"),
				mustQuery(t, "java.lang:type=Memory", "Missing"),
				mustQuery(t, "java.lang:type=Threading", "ThreadCount"),
			).Build()
		require.NoError(t, err)

		var (
			mu      sync.Mutex
			handled int
		)
		err = s.ExecuteAll(context.Background(), func(ctx context.Context, q *query.Query, results []result.Result) error {
			mu.Lock()
			defer mu.Unlock()
			handled++
			if len(q.Attr()) > 0 && q.Attr()[0] == "Missing" {
				return errors.New("writer failed")
			}
			return nil
		})
		require.Error(t, err, "threads=%d", threads)
		assert.Contains(t, err.Error(), "writer failed")
		assert.Equal(t, 3, handled)
		assert.Equal(t, int32(3), p.returned.Load())
	}
}

func TestServer_ExecuteAll_BoundsConcurrency(t *testing.T) {
	var running, peak atomic.Int32
	p := &fakePool{conn: memoryConnection()}
	b := NewBuilder().SetHost("h").SetPort("1").SetPool(p).SetNumQueryThreads(2)
	for _, attr := range []string{"A", "B", "C", "D", "E"} {
		b.AddQueries(mustQuery(t, "java.lang:type=Memory", attr))
	}
	s, err := b.Build()
	require.NoError(t, err)

	err = s.ExecuteAll(context.Background(), func(ctx context.Context, q *query.Query, results []result.Result) error {
		n := running.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		return nil
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

type nopWriter struct{}

func (nopWriter) Start() error { return nil }

func (nopWriter) ValidateSetup(endpoint query.Endpoint, q *query.Query) error { return nil }

func (nopWriter) DoWrite(ctx context.Context, endpoint query.Endpoint, q *query.Query, results []result.Result) error {
	return nil
}

func (nopWriter) Close() error { return nil }
