// Package server owns one JVM endpoint: its identity, how to connect to it and how to
// run its queries against a pooled connection.
package server

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	internalerrors "github.com/jmxtrans/jmxtrans-sub000/internal/errors"
	"github.com/jmxtrans/jmxtrans-sub000/internal/jmx"
	"github.com/jmxtrans/jmxtrans-sub000/internal/jmx/local"
	"github.com/jmxtrans/jmxtrans-sub000/internal/naming"
	"github.com/jmxtrans/jmxtrans-sub000/internal/pool"
	"github.com/jmxtrans/jmxtrans-sub000/internal/query"
	"github.com/jmxtrans/jmxtrans-sub000/internal/result"
)

// DefaultSocketTimeout bounds connect and read on remote connectors.
const DefaultSocketTimeout = 10 * time.Second

const defaultRunPeriod = 60 * time.Second

// ConnectorResolver finds the connector address of a local JVM by process id.
type ConnectorResolver interface {
	ConnectorAddress(ctx context.Context, pid string) (string, error)
}

// DialFunc opens a remote connection; jmx.Dial in production.
type DialFunc func(ctx context.Context, serviceURL string, env jmx.Environment) (jmx.Connection, error)

// Server is an immutable JVM endpoint with its queries.
type Server struct {
	alias                    string
	pid                      string
	url                      string
	host                     string
	port                     string
	username                 string
	password                 string
	ssl                      bool
	local                    bool
	protocolProviderPackages string
	numQueryThreads          int
	runPeriod                time.Duration
	queries                  []*query.Query

	pool     pool.Pool
	resolver ConnectorResolver
	dial     DialFunc
	logger   *zap.SugaredLogger
}

func (s *Server) Alias() string                    { return s.alias }
func (s *Server) Pid() string                      { return s.pid }
func (s *Server) Username() string                 { return s.username }
func (s *Server) SSL() bool                        { return s.ssl }
func (s *Server) Local() bool                      { return s.local }
func (s *Server) ProtocolProviderPackages() string { return s.protocolProviderPackages }
func (s *Server) NumQueryThreads() int             { return s.numQueryThreads }
func (s *Server) RunPeriod() time.Duration         { return s.runPeriod }

// Queries returns the queries with the server level writers already appended.
func (s *Server) Queries() []*query.Query {
	return append([]*query.Query(nil), s.queries...)
}

// Host is the configured host, the host of the configured URL, or localhost for a
// process id.
func (s *Server) Host() string {
	switch {
	case s.host != "":
		return s.host
	case s.url != "":
		host, _ := hostPortFromURL(s.url)
		return host
	default:
		return "localhost"
	}
}

// Port is the configured port, the port of the configured URL, or the process id.
func (s *Server) Port() string {
	switch {
	case s.port != "":
		return s.port
	case s.url != "":
		_, port := hostPortFromURL(s.url)
		return port
	default:
		return s.pid
	}
}

// Label is the alias, or host_port with the host sanitized.
func (s *Server) Label() string {
	if s.alias != "" {
		return s.alias
	}
	label := naming.CleanupStr(s.Host(), false)
	if port := s.Port(); port != "" {
		label += "_" + port
	}
	return label
}

// PoolKey identifies the connection pool of this server.
func (s *Server) PoolKey() string {
	var id string
	switch {
	case s.pid != "":
		id = "pid:" + s.pid
	case s.url != "":
		id = s.url
	default:
		id = net.JoinHostPort(s.host, s.port)
	}
	if s.local {
		id = "local:" + id
	}
	if s.username != "" {
		id = s.username + "@" + id
	}
	return id
}

func (s *Server) String() string {
	return fmt.Sprintf("Server(label=%s, key=%s, queries=%d)", s.Label(), s.PoolKey(), len(s.queries))
}

// URL resolves the JMX service URL. A process id is resolved by attaching to the local
// process.
func (s *Server) URL(ctx context.Context) (string, error) {
	switch {
	case s.url != "":
		return s.url, nil
	case s.pid != "":
		if s.resolver == nil {
			return "", fmt.Errorf("%w: no attach support configured for pid %s", internalerrors.ErrAttach, s.pid)
		}
		return s.resolver.ConnectorAddress(ctx, s.pid)
	default:
		return fmt.Sprintf("service:jmx:rmi:///jndi/rmi://%s/jmxrmi", net.JoinHostPort(s.host, s.port)), nil
	}
}

// Environment builds the connector environment. Vendor protocol providers (weblogic)
// take the credentials under their naming keys instead of the standard one.
func (s *Server) Environment() jmx.Environment {
	env := jmx.Environment{jmx.EnvSocketTimeout: DefaultSocketTimeout}
	if s.ssl {
		env[jmx.EnvSSL] = true
	}
	if s.protocolProviderPackages != "" {
		env[jmx.EnvProviderPackages] = s.protocolProviderPackages
	}
	if s.username == "" || s.password == "" {
		return env
	}
	if strings.Contains(s.protocolProviderPackages, "weblogic") {
		env[jmx.EnvSecurityPrincipal] = s.username
		env[jmx.EnvSecurityCreds] = s.password
		return env
	}
	env[jmx.EnvCredentials] = []string{s.username, s.password}
	return env
}

// Open allocates a connection: the in-process MBean server when local, a remote
// connector otherwise.
func (s *Server) Open(ctx context.Context) (jmx.Connection, error) {
	if s.local {
		return local.Platform(), nil
	}
	serviceURL, err := s.URL(ctx)
	if err != nil {
		return nil, err
	}
	conn, err := s.dial(ctx, serviceURL, s.Environment())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", internalerrors.ErrConnection, serviceURL, err)
	}
	return conn, nil
}

// Execute runs q on a borrowed connection. The connection is invalidated on any error
// and returned to the pool otherwise.
func (s *Server) Execute(ctx context.Context, q *query.Query) ([]result.Result, error) {
	lease, err := s.pool.Borrow(ctx, s)
	if err != nil {
		return nil, err
	}
	results, err := s.run(ctx, lease.Conn(), q)
	if err != nil {
		lease.Invalidate()
		return nil, err
	}
	lease.Return()
	return results, nil
}

func (s *Server) run(ctx context.Context, conn jmx.Connection, q *query.Query) ([]result.Result, error) {
	names, err := q.QueryNames(ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("querying names %s: %w", q.ObjectName(), err)
	}
	var results []result.Result
	for _, name := range names {
		r, err := q.FetchResults(ctx, conn, name)
		if err != nil {
			return nil, err
		}
		results = append(results, r...)
	}
	s.logger.Debugw("query executed",
		"server", s.Label(), "query", q.ObjectName().String(), "instances", len(names), "results", len(results))
	return results, nil
}

// ResultHandler consumes the results of one query.
type ResultHandler func(ctx context.Context, q *query.Query, results []result.Result) error

// ExecuteAll runs every query and passes its results to handle. With no query threads
// the queries run one after another on the caller's goroutine; otherwise at most
// NumQueryThreads run at once. Failures of individual queries are combined.
func (s *Server) ExecuteAll(ctx context.Context, handle ResultHandler) error {
	runOne := func(q *query.Query) error {
		results, err := s.Execute(ctx, q)
		if err == nil {
			err = handle(ctx, q, results)
		}
		if err != nil {
			return fmt.Errorf("server %s, query %s: %w", s.Label(), q.ObjectName(), err)
		}
		return nil
	}

	if s.numQueryThreads <= 0 {
		var errs error
		for _, q := range s.queries {
			errs = multierr.Append(errs, runOne(q))
		}
		return errs
	}

	var (
		mu   sync.Mutex
		errs error
		wg   sync.WaitGroup
	)
	sem := semaphore.NewWeighted(int64(s.numQueryThreads))
	for _, q := range s.queries {
		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			errs = multierr.Append(errs, err)
			mu.Unlock()
			break
		}
		wg.Add(1)
		go func(q *query.Query) {
			defer wg.Done()
			defer sem.Release(1)
			if err := runOne(q); err != nil {
				mu.Lock()
				errs = multierr.Append(errs, err)
				mu.Unlock()
			}
		}(q)
	}
	wg.Wait()
	return errs
}

// hostPortFromURL extracts host and port from service:jmx:rmi:///jndi/rmi://h:p/jmxrmi
// or http://h:p/jolokia style URLs.
func hostPortFromURL(u string) (string, string) {
	authority := u
	if i := strings.LastIndex(authority, "://"); i >= 0 {
		authority = authority[i+3:]
	}
	if i := strings.IndexByte(authority, '/'); i >= 0 {
		authority = authority[:i]
	}
	host, port, err := net.SplitHostPort(authority)
	if err != nil {
		return authority, ""
	}
	return host, port
}
