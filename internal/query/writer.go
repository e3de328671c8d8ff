package query

import (
	"context"

	"github.com/jmxtrans/jmxtrans-sub000/internal/result"
)

// Endpoint is the view of a server an output writer gets.
type Endpoint interface {
	Alias() string
	Host() string
	Port() string
	// Label is the alias, or the sanitized host_port when no alias is set.
	Label() string
}

// OutputWriter sends flattened results to a backend.
//
// Start is called once before the first write and Close once on shutdown, even after
// earlier failures. ValidateSetup is called once per (endpoint, query) pair before
// polling starts and rejects unusable configurations.
type OutputWriter interface {
	Start() error
	ValidateSetup(endpoint Endpoint, q *Query) error
	DoWrite(ctx context.Context, endpoint Endpoint, q *Query, results []result.Result) error
	Close() error
}
