// Package errors holds the sentinel errors shared by the collection pipeline.
//
// Callers wrap them with fmt.Errorf("...: %w", err) and test with errors.Is.
package errors

import "errors"

var (
	// Configuration errors, fatal at construction time.
	ErrMalformedObjectName = errors.New("malformed object name")
	ErrMissingIdentity     = errors.New("server must have exactly one of pid, url or host")
	ErrConflictingIdentity = errors.New("server identity fields are mutually exclusive")
	ErrMissingPort         = errors.New("server host requires a port")
	ErrUnknownWriter       = errors.New("unknown output writer type")
	ErrInvalidWriterConfig = errors.New("invalid output writer configuration")

	// Shape errors raised while flattening attribute values.
	ErrUnsupportedShape = errors.New("unsupported JMX value shape, please file a bug")

	// Connectivity errors.
	ErrConnection     = errors.New("JMX connection failed")
	ErrPoolExhausted  = errors.New("connection pool exhausted")
	ErrUnknownScheme  = errors.New("no connector registered for service URL")
	ErrAttach         = errors.New("unable to attach to local process")
	ErrNotEmitter     = errors.New("connection does not support notifications")
	ErrInstanceAbsent = errors.New("MBean instance not found")

	// Writer errors.
	ErrWriter = errors.New("output writer failed")

	// Snapshot store errors.
	ErrMetricNotFound     = errors.New("metric not found")
	ErrUnknownMetricType  = errors.New("unknown metric type")
	ErrDatabaseConnection = errors.New("database connection failed")
)
