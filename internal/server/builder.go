package server

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	internalerrors "github.com/jmxtrans/jmxtrans-sub000/internal/errors"
	"github.com/jmxtrans/jmxtrans-sub000/internal/jmx"
	"github.com/jmxtrans/jmxtrans-sub000/internal/pool"
	"github.com/jmxtrans/jmxtrans-sub000/internal/query"
)

// Builder collects server settings; Build validates the identity and freezes them.
type Builder struct {
	s             Server
	queries       []*query.Query
	outputWriters []query.OutputWriter
}

func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) SetAlias(alias string) *Builder {
	b.s.alias = alias
	return b
}

func (b *Builder) SetPid(pid string) *Builder {
	b.s.pid = pid
	return b
}

func (b *Builder) SetURL(url string) *Builder {
	b.s.url = url
	return b
}

func (b *Builder) SetHost(host string) *Builder {
	b.s.host = host
	return b
}

func (b *Builder) SetPort(port string) *Builder {
	b.s.port = port
	return b
}

func (b *Builder) SetUsername(username string) *Builder {
	b.s.username = username
	return b
}

func (b *Builder) SetPassword(password string) *Builder {
	b.s.password = password
	return b
}

func (b *Builder) SetSSL(ssl bool) *Builder {
	b.s.ssl = ssl
	return b
}

func (b *Builder) SetLocal(local bool) *Builder {
	b.s.local = local
	return b
}

func (b *Builder) SetProtocolProviderPackages(pkgs string) *Builder {
	b.s.protocolProviderPackages = pkgs
	return b
}

func (b *Builder) SetNumQueryThreads(n int) *Builder {
	b.s.numQueryThreads = n
	return b
}

func (b *Builder) SetRunPeriod(d time.Duration) *Builder {
	b.s.runPeriod = d
	return b
}

func (b *Builder) AddQueries(queries ...*query.Query) *Builder {
	b.queries = append(b.queries, queries...)
	return b
}

// AddOutputWriters adds writers that every query of the server reports to.
func (b *Builder) AddOutputWriters(writers ...query.OutputWriter) *Builder {
	b.outputWriters = append(b.outputWriters, writers...)
	return b
}

func (b *Builder) SetPool(p pool.Pool) *Builder {
	b.s.pool = p
	return b
}

func (b *Builder) SetConnectorResolver(r ConnectorResolver) *Builder {
	b.s.resolver = r
	return b
}

func (b *Builder) SetDialFunc(dial DialFunc) *Builder {
	b.s.dial = dial
	return b
}

func (b *Builder) SetLogger(logger *zap.SugaredLogger) *Builder {
	b.s.logger = logger
	return b
}

// Build checks that exactly one of pid, url and host is set, and that a host comes with
// a port. Queries with the same key are kept once.
func (b *Builder) Build() (*Server, error) {
	set := 0
	for _, v := range []string{b.s.pid, b.s.url, b.s.host} {
		if v != "" {
			set++
		}
	}
	switch {
	case set == 0:
		return nil, internalerrors.ErrMissingIdentity
	case set > 1:
		return nil, fmt.Errorf("%w: pid=%q url=%q host=%q",
			internalerrors.ErrConflictingIdentity, b.s.pid, b.s.url, b.s.host)
	case b.s.host != "" && b.s.port == "":
		return nil, fmt.Errorf("%w: host %s", internalerrors.ErrMissingPort, b.s.host)
	}
	if b.s.numQueryThreads < 0 {
		return nil, fmt.Errorf("numQueryThreads must not be negative, got %d", b.s.numQueryThreads)
	}

	s := b.s
	if s.runPeriod <= 0 {
		s.runPeriod = defaultRunPeriod
	}
	if s.logger == nil {
		s.logger = zap.NewNop().Sugar()
	}
	if s.pool == nil {
		s.pool = pool.NewKeyed(pool.DefaultMaxSize, pool.DefaultBorrowTimeout, s.logger)
	}
	if s.dial == nil {
		s.dial = jmx.Dial
	}

	seen := make(map[string]struct{}, len(b.queries))
	s.queries = make([]*query.Query, 0, len(b.queries))
	for _, q := range b.queries {
		if _, dup := seen[q.Key()]; dup {
			continue
		}
		seen[q.Key()] = struct{}{}
		if len(b.outputWriters) > 0 {
			q = q.WithOutputWriters(b.outputWriters...)
		}
		s.queries = append(s.queries, q)
	}
	return &s, nil
}
