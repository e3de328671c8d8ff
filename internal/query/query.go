// Package query declares what to fetch from an MBean server and how to name it.
//
// A Query is built once, usually from the configuration file, and is shared read-only
// between every poll of every server it is attached to.
package query

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	internalerrors "github.com/jmxtrans/jmxtrans-sub000/internal/errors"
	"github.com/jmxtrans/jmxtrans-sub000/internal/jmx"
	"github.com/jmxtrans/jmxtrans-sub000/internal/naming"
	"github.com/jmxtrans/jmxtrans-sub000/internal/result"
)

// Query is an immutable attribute query against an object name pattern.
type Query struct {
	obj                  jmx.ObjectName
	attr                 []string
	typeNames            []string
	resultAlias          string
	useObjectDomainAsKey bool
	allowDottedKeys      bool
	useAllTypeNames      bool
	notifications        bool
	outputWriters        []OutputWriter

	typeNameBuilder *naming.TypeNameBuilder
	logger          *zap.SugaredLogger
}

func (q *Query) ObjectName() jmx.ObjectName { return q.obj }

// Attr returns the configured attributes; empty means every attribute of the MBean.
func (q *Query) Attr() []string { return append([]string(nil), q.attr...) }

func (q *Query) TypeNames() []string        { return append([]string(nil), q.typeNames...) }
func (q *Query) ResultAlias() string        { return q.resultAlias }
func (q *Query) UseObjectDomainAsKey() bool { return q.useObjectDomainAsKey }
func (q *Query) AllowDottedKeys() bool      { return q.allowDottedKeys }
func (q *Query) UseAllTypeNames() bool      { return q.useAllTypeNames }

// Notifications reports whether attribute change notifications should also be routed
// to the query's writers.
func (q *Query) Notifications() bool { return q.notifications }

func (q *Query) OutputWriters() []OutputWriter {
	return append([]OutputWriter(nil), q.outputWriters...)
}

// WithOutputWriters returns a copy of q with writers appended to its own.
func (q *Query) WithOutputWriters(writers ...OutputWriter) *Query {
	c := *q
	c.outputWriters = append(q.OutputWriters(), writers...)
	return &c
}

// Key identifies the query by object name, attributes and naming options. Writers are
// not part of it.
func (q *Query) Key() string {
	var b strings.Builder
	b.WriteString(q.obj.CanonicalName())
	b.WriteString("|attr=")
	b.WriteString(strings.Join(q.attr, ","))
	b.WriteString("|typeNames=")
	b.WriteString(strings.Join(q.typeNames, ","))
	b.WriteString("|alias=")
	b.WriteString(q.resultAlias)
	for _, flag := range []bool{q.useObjectDomainAsKey, q.allowDottedKeys, q.useAllTypeNames, q.notifications} {
		b.WriteByte('|')
		b.WriteString(strconv.FormatBool(flag))
	}
	return b.String()
}

func (q *Query) String() string {
	return fmt.Sprintf("Query(obj=%s, attr=%v, resultAlias=%s)", q.obj, q.attr, q.resultAlias)
}

// QueryNames returns the instances registered under the query pattern.
func (q *Query) QueryNames(ctx context.Context, conn jmx.Connection) ([]jmx.ObjectName, error) {
	return conn.QueryNames(ctx, q.obj)
}

// FetchResults reads the query attributes of one instance and flattens them. A value
// that cannot be unmarshalled because the agent lacks its class yields no results.
func (q *Query) FetchResults(ctx context.Context, conn jmx.Connection, name jmx.ObjectName) ([]result.Result, error) {
	className, attrs, err := q.describe(ctx, conn, name)
	if err == nil && len(attrs) > 0 {
		var values []jmx.Attribute
		values, err = conn.GetAttributes(ctx, name, attrs)
		if err == nil {
			flattener := result.NewFlattener(q.logger, className, name.Domain(), q.resultAlias, name.KeyPropertyListString())
			return flattener.Flatten(values)
		}
		err = fmt.Errorf("reading attributes of %s: %w", name, err)
	}
	if jmx.IsClassNotFound(err) {
		q.logger.Debugw("bad unmarshall, continuing",
			"objectName", name.String(), "error", err)
		return nil, nil
	}
	return nil, err
}

// describe resolves the class name and the attributes to read. Configured attributes
// skip MBeanInfo when the connection reports class names on its own.
func (q *Query) describe(ctx context.Context, conn jmx.Connection, name jmx.ObjectName) (string, []string, error) {
	if namer, ok := conn.(jmx.ClassNamer); ok && len(q.attr) > 0 {
		className, err := namer.ClassName(ctx, name)
		if err != nil {
			return "", nil, fmt.Errorf("reading class of %s: %w", name, err)
		}
		return className, q.attr, nil
	}
	info, err := conn.MBeanInfo(ctx, name)
	if err != nil {
		return "", nil, fmt.Errorf("reading MBean info of %s: %w", name, err)
	}
	if len(q.attr) > 0 {
		return info.ClassName, q.attr, nil
	}
	return info.ClassName, info.AttributeNames(), nil
}

// MakeTypeNameValueString derives the type-name value of a key-property list.
func (q *Query) MakeTypeNameValueString(typeNames []string, keyPropertyList string) string {
	return q.typeNameBuilder.Build(typeNames, keyPropertyList)
}

// KeepsTypeName reports whether the type-name value built from typeNames carries the
// value of key.
func (q *Query) KeepsTypeName(typeNames []string, key string) bool {
	return q.typeNameBuilder.Keeps(typeNames, key)
}

// RunOutputWriters hands results to every writer in order. The first failing writer
// stops the pass.
func (q *Query) RunOutputWriters(ctx context.Context, endpoint Endpoint, results []result.Result) error {
	for _, w := range q.outputWriters {
		if err := w.DoWrite(ctx, endpoint, q, results); err != nil {
			return fmt.Errorf("%w: %T: %w", internalerrors.ErrWriter, w, err)
		}
	}
	return nil
}
