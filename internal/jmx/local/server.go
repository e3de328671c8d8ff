// Package local is an in-process MBean server. The process-wide instance returned by
// Platform exposes the Go runtime and host MBeans, the way a JVM platform server exposes
// java.lang MBeans.
package local

import (
	"context"
	"fmt"
	"sync"
	"time"

	internalerrors "github.com/jmxtrans/jmxtrans-sub000/internal/errors"
	"github.com/jmxtrans/jmxtrans-sub000/internal/jmx"
)

// MBean is a managed object registered on a Server.
type MBean interface {
	Info() jmx.MBeanInfo
	// Attributes reads the named attributes. Unknown or unreadable ones are left out.
	Attributes(names []string) []jmx.Attribute
}

// Getter reads one attribute of a FuncBean.
type Getter struct {
	Name string
	Type string
	Get  func() (any, error)
}

// FuncBean is an MBean with one getter per attribute.
type FuncBean struct {
	Class   string
	Getters []Getter
}

func (b *FuncBean) Info() jmx.MBeanInfo {
	info := jmx.MBeanInfo{ClassName: b.Class}
	for _, g := range b.Getters {
		info.Attributes = append(info.Attributes, jmx.AttributeInfo{Name: g.Name, Type: g.Type})
	}
	return info
}

func (b *FuncBean) Attributes(names []string) []jmx.Attribute {
	var out []jmx.Attribute
	for _, name := range names {
		for _, g := range b.Getters {
			if g.Name != name {
				continue
			}
			v, err := g.Get()
			if err != nil {
				continue
			}
			out = append(out, jmx.Attribute{Name: name, Value: jmx.FromGo(v)})
		}
	}
	return out
}

type registration struct {
	name jmx.ObjectName
	bean MBean
	// last is the previous sample, compared by Refresh.
	last map[string]jmx.Value
}

// Server is a registry of MBeans. It implements jmx.Connection and
// jmx.NotificationEmitter; Close is a no-op.
type Server struct {
	mu        sync.RWMutex
	beans     []*registration
	listeners map[string][]jmx.Listener
	now       func() time.Time
}

func NewServer() *Server {
	return &Server{listeners: map[string][]jmx.Listener{}, now: time.Now}
}

// Register adds bean under name. Names must be unique and not patterns.
func (s *Server) Register(name jmx.ObjectName, bean MBean) error {
	if name.IsPattern() {
		return fmt.Errorf("%w: cannot register under pattern %s", internalerrors.ErrMalformedObjectName, name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.find(name) != nil {
		return fmt.Errorf("MBean already registered: %s", name)
	}
	s.beans = append(s.beans, &registration{name: name, bean: bean})
	return nil
}

// Unregister removes the MBean and its listeners.
func (s *Server) Unregister(name jmx.ObjectName) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.beans {
		if r.name.CanonicalName() == name.CanonicalName() {
			s.beans = append(s.beans[:i], s.beans[i+1:]...)
			break
		}
	}
	delete(s.listeners, name.CanonicalName())
}

func (s *Server) find(name jmx.ObjectName) *registration {
	canonical := name.CanonicalName()
	for _, r := range s.beans {
		if r.name.CanonicalName() == canonical {
			return r
		}
	}
	return nil
}

func (s *Server) lookup(name jmx.ObjectName) (*registration, error) {
	r := s.find(name)
	if r == nil {
		return nil, fmt.Errorf("%w: %s", internalerrors.ErrInstanceAbsent, name)
	}
	return r, nil
}

// QueryNames returns the matching names in registration order.
func (s *Server) QueryNames(ctx context.Context, pattern jmx.ObjectName) ([]jmx.ObjectName, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var names []jmx.ObjectName
	for _, r := range s.beans {
		if pattern.Matches(r.name) {
			names = append(names, r.name)
		}
	}
	return names, nil
}

func (s *Server) MBeanInfo(ctx context.Context, name jmx.ObjectName) (jmx.MBeanInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, err := s.lookup(name)
	if err != nil {
		return jmx.MBeanInfo{}, err
	}
	return r.bean.Info(), nil
}

func (s *Server) GetAttributes(ctx context.Context, name jmx.ObjectName, attrs []string) ([]jmx.Attribute, error) {
	s.mu.RLock()
	r, err := s.lookup(name)
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return r.bean.Attributes(attrs), nil
}

func (s *Server) Close() error { return nil }

func (s *Server) AddNotificationListener(ctx context.Context, name jmx.ObjectName, l jmx.Listener) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.lookup(name); err != nil {
		return err
	}
	key := name.CanonicalName()
	s.listeners[key] = append(s.listeners[key], l)
	return nil
}

func (s *Server) RemoveNotificationListener(ctx context.Context, name jmx.ObjectName, l jmx.Listener) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := name.CanonicalName()
	ls := s.listeners[key]
	for i := range ls {
		if ls[i] == l {
			s.listeners[key] = append(ls[:i], ls[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("listener not registered on %s", name)
}

// Refresh samples every MBean that has listeners and emits an attribute change
// notification for each attribute whose value differs from the previous sample. The
// first sample of an MBean only sets the baseline.
func (s *Server) Refresh() {
	type delivery struct {
		listeners []jmx.Listener
		n         jmx.Notification
	}
	var deliveries []delivery

	s.mu.Lock()
	for _, r := range s.beans {
		listeners := s.listeners[r.name.CanonicalName()]
		if len(listeners) == 0 {
			continue
		}
		current := make(map[string]jmx.Value)
		for _, a := range r.bean.Attributes(r.bean.Info().AttributeNames()) {
			current[a.Name] = a.Value
		}
		if r.last != nil {
			for _, a := range r.bean.Info().Attributes {
				newValue, ok := current[a.Name]
				if !ok {
					continue
				}
				oldValue, seen := r.last[a.Name]
				if seen && oldValue.String() == newValue.String() {
					continue
				}
				if !seen {
					oldValue = jmx.Null{}
				}
				deliveries = append(deliveries, delivery{
					listeners: append([]jmx.Listener(nil), listeners...),
					n: jmx.Notification{
						Type:          jmx.AttributeChangeNotification,
						Source:        r.name,
						TimeStamp:     s.now(),
						AttributeName: a.Name,
						OldValue:      oldValue,
						NewValue:      newValue,
					},
				})
			}
		}
		r.last = current
	}
	s.mu.Unlock()

	for _, d := range deliveries {
		for _, l := range d.listeners {
			l.HandleNotification(d.n)
		}
	}
}

// Emit delivers n to the listeners of its source.
func (s *Server) Emit(n jmx.Notification) {
	s.mu.RLock()
	listeners := append([]jmx.Listener(nil), s.listeners[n.Source.CanonicalName()]...)
	s.mu.RUnlock()
	for _, l := range listeners {
		l.HandleNotification(n)
	}
}
