// Package jmxtest provides an in-memory jmx.Connection for tests.
package jmxtest

import (
	"context"
	"fmt"
	"sync"

	internalerrors "github.com/jmxtrans/jmxtrans-sub000/internal/errors"
	"github.com/jmxtrans/jmxtrans-sub000/internal/jmx"
)

// Bean is one registered MBean of a Connection.
type Bean struct {
	Name      jmx.ObjectName
	ClassName string
	// Attributes in declaration order.
	Attributes []jmx.Attribute
}

// Connection is a scripted jmx.Connection. Errors set on it are returned by the
// matching call; listeners are recorded so tests can fire notifications.
type Connection struct {
	mu        sync.Mutex
	beans     []Bean
	listeners map[string][]jmx.Listener

	QueryErr error
	InfoErr  error
	GetErr   error

	closed    bool
	infoCalls int
}

// NewConnection registers beans in order.
func NewConnection(beans ...Bean) *Connection {
	return &Connection{beans: beans, listeners: map[string][]jmx.Listener{}}
}

func (c *Connection) QueryNames(ctx context.Context, pattern jmx.ObjectName) ([]jmx.ObjectName, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.QueryErr != nil {
		return nil, c.QueryErr
	}
	var names []jmx.ObjectName
	for _, b := range c.beans {
		if pattern.Matches(b.Name) {
			names = append(names, b.Name)
		}
	}
	return names, nil
}

func (c *Connection) MBeanInfo(ctx context.Context, name jmx.ObjectName) (jmx.MBeanInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.infoCalls++
	if c.InfoErr != nil {
		return jmx.MBeanInfo{}, c.InfoErr
	}
	b, err := c.bean(name)
	if err != nil {
		return jmx.MBeanInfo{}, err
	}
	info := jmx.MBeanInfo{ClassName: b.ClassName}
	for _, a := range b.Attributes {
		info.Attributes = append(info.Attributes, jmx.AttributeInfo{Name: a.Name, Type: fmt.Sprintf("%T", a.Value)})
	}
	return info, nil
}

// InfoCalls counts MBeanInfo calls.
func (c *Connection) InfoCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.infoCalls
}

// ClassOnly returns c as a connection that also reports class names.
func (c *Connection) ClassOnly() interface {
	jmx.Connection
	jmx.ClassNamer
} {
	return classNamer{c}
}

type classNamer struct{ *Connection }

func (c classNamer) ClassName(ctx context.Context, name jmx.ObjectName) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, err := c.bean(name)
	if err != nil {
		return "", err
	}
	return b.ClassName, nil
}

func (c *Connection) GetAttributes(ctx context.Context, name jmx.ObjectName, attrs []string) ([]jmx.Attribute, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.GetErr != nil {
		return nil, c.GetErr
	}
	b, err := c.bean(name)
	if err != nil {
		return nil, err
	}
	var out []jmx.Attribute
	for _, want := range attrs {
		for _, a := range b.Attributes {
			if a.Name == want {
				out = append(out, a)
			}
		}
	}
	return out, nil
}

func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// IsClosed reports whether Close was called.
func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Connection) AddNotificationListener(ctx context.Context, name jmx.ObjectName, l jmx.Listener) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.bean(name); err != nil {
		return err
	}
	c.listeners[name.CanonicalName()] = append(c.listeners[name.CanonicalName()], l)
	return nil
}

func (c *Connection) RemoveNotificationListener(ctx context.Context, name jmx.ObjectName, l jmx.Listener) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := name.CanonicalName()
	ls := c.listeners[key]
	for i := range ls {
		if ls[i] == l {
			c.listeners[key] = append(ls[:i], ls[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("listener not registered on %s", name)
}

// Listeners returns the listeners registered on name.
func (c *Connection) Listeners(name jmx.ObjectName) []jmx.Listener {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]jmx.Listener(nil), c.listeners[name.CanonicalName()]...)
}

// Notify delivers n to every listener registered on its source.
func (c *Connection) Notify(n jmx.Notification) {
	for _, l := range c.Listeners(n.Source) {
		l.HandleNotification(n)
	}
}

func (c *Connection) bean(name jmx.ObjectName) (Bean, error) {
	for _, b := range c.beans {
		if b.Name.CanonicalName() == name.CanonicalName() {
			return b, nil
		}
	}
	return Bean{}, fmt.Errorf("%w: %s", internalerrors.ErrInstanceAbsent, name)
}
