// Package notification routes attribute change notifications into the writers of the
// query that subscribed to them.
package notification

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	internalerrors "github.com/jmxtrans/jmxtrans-sub000/internal/errors"
	"github.com/jmxtrans/jmxtrans-sub000/internal/jmx"
	"github.com/jmxtrans/jmxtrans-sub000/internal/query"
	"github.com/jmxtrans/jmxtrans-sub000/internal/result"
)

// Processor listens on one MBean instance on behalf of one query.
type Processor struct {
	endpoint  query.Endpoint
	query     *query.Query
	instance  jmx.ObjectName
	className string
	logger    *zap.SugaredLogger
}

func NewProcessor(endpoint query.Endpoint, q *query.Query, instance jmx.ObjectName, className string, logger *zap.SugaredLogger) *Processor {
	return &Processor{
		endpoint:  endpoint,
		query:     q,
		instance:  instance,
		className: className,
		logger:    logger,
	}
}

func (p *Processor) Instance() jmx.ObjectName { return p.instance }

// HandleNotification implements jmx.Listener.
func (p *Processor) HandleNotification(n jmx.Notification) {
	p.Process(context.Background(), n)
}

// Process flattens an attribute change into results and hands them to every writer of
// the query. A failing writer is logged and does not keep the others from running.
// Notifications of other types produce nothing.
func (p *Processor) Process(ctx context.Context, n jmx.Notification) []result.Result {
	if n.Type != jmx.AttributeChangeNotification {
		return nil
	}
	newValue := n.NewValue
	if newValue == nil {
		newValue = jmx.Null{}
	}

	flattener := result.NewFlattener(p.logger, p.className, p.instance.Domain(),
		p.query.ResultAlias(), p.instance.KeyPropertyListString())
	results, err := flattener.Flatten([]jmx.Attribute{{Name: n.AttributeName, Value: newValue}})
	if err != nil {
		p.logger.Warnw("cannot flatten notification",
			"objectName", p.instance.String(), "attribute", n.AttributeName, "error", err)
		return nil
	}
	if len(results) == 0 {
		return nil
	}

	for _, w := range p.query.OutputWriters() {
		if err := w.DoWrite(ctx, p.endpoint, p.query, results); err != nil {
			p.logger.Errorw("writer failed on notification",
				"server", p.endpoint.Label(), "objectName", p.instance.String(),
				"writer", fmt.Sprintf("%T", w), "error", err)
		}
	}
	return results
}

// Register subscribes a processor to every instance matching the query on conn. The
// connection must deliver notifications.
func Register(ctx context.Context, endpoint query.Endpoint, conn jmx.Connection, q *query.Query, logger *zap.SugaredLogger) ([]*Processor, error) {
	emitter, ok := conn.(jmx.NotificationEmitter)
	if !ok {
		return nil, fmt.Errorf("%w: %T", internalerrors.ErrNotEmitter, conn)
	}
	names, err := q.QueryNames(ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("querying names %s: %w", q.ObjectName(), err)
	}

	var processors []*Processor
	for _, name := range names {
		info, err := conn.MBeanInfo(ctx, name)
		if err != nil {
			return processors, fmt.Errorf("reading MBean info of %s: %w", name, err)
		}
		p := NewProcessor(endpoint, q, name, info.ClassName, logger)
		if err := emitter.AddNotificationListener(ctx, name, p); err != nil {
			return processors, fmt.Errorf("adding listener on %s: %w", name, err)
		}
		processors = append(processors, p)
	}
	logger.Infow("notification listeners registered",
		"server", endpoint.Label(), "query", q.ObjectName().String(), "instances", len(processors))
	return processors, nil
}

// Deregister removes the listeners added by Register, attempting every one.
func Deregister(ctx context.Context, conn jmx.Connection, processors []*Processor) error {
	emitter, ok := conn.(jmx.NotificationEmitter)
	if !ok {
		return fmt.Errorf("%w: %T", internalerrors.ErrNotEmitter, conn)
	}
	var errs error
	for _, p := range processors {
		errs = multierr.Append(errs, emitter.RemoveNotificationListener(ctx, p.instance, p))
	}
	return errs
}
