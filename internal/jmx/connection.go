// Package jmx models the boundary to a JVM management server: object names, the raw
// attribute value tree, and the connection contract implemented by the connectors in
// the local, jolokia and rmi subpackages.
package jmx

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	internalerrors "github.com/jmxtrans/jmxtrans-sub000/internal/errors"
)

// AttributeInfo describes one attribute exposed by an MBean.
type AttributeInfo struct {
	Name string
	Type string
}

// MBeanInfo is the management interface of one MBean instance.
type MBeanInfo struct {
	ClassName  string
	Attributes []AttributeInfo
}

// AttributeNames returns the attribute names in declaration order.
func (i MBeanInfo) AttributeNames() []string {
	names := make([]string, 0, len(i.Attributes))
	for _, a := range i.Attributes {
		names = append(names, a.Name)
	}
	return names
}

// Connection is an open connection to an MBean server.
type Connection interface {
	// QueryNames returns the registered names matching pattern.
	QueryNames(ctx context.Context, pattern ObjectName) ([]ObjectName, error)
	// MBeanInfo introspects the MBean registered under name.
	MBeanInfo(ctx context.Context, name ObjectName) (MBeanInfo, error)
	// GetAttributes bulk fetches attrs. Attributes that could not be read are omitted.
	GetAttributes(ctx context.Context, name ObjectName, attrs []string) ([]Attribute, error)
	Close() error
}

// ClassNamer is implemented by connections that can report the class of an MBean
// without introspecting its attributes.
type ClassNamer interface {
	ClassName(ctx context.Context, name ObjectName) (string, error)
}

// AttributeChangeNotification is the notification type emitted on attribute changes.
const AttributeChangeNotification = "jmx.attribute.change"

// Notification is an asynchronous event emitted by an MBean.
type Notification struct {
	Type          string
	Source        ObjectName
	TimeStamp     time.Time
	AttributeName string
	OldValue      Value
	NewValue      Value
}

// Listener receives notifications.
type Listener interface {
	HandleNotification(n Notification)
}

// NotificationEmitter is implemented by connections that deliver notifications.
type NotificationEmitter interface {
	AddNotificationListener(ctx context.Context, name ObjectName, l Listener) error
	RemoveNotificationListener(ctx context.Context, name ObjectName, l Listener) error
}

// ErrClassNotFound is the cause of an UnmarshalError when the agent lacks a class
// referenced by a remote value.
var ErrClassNotFound = errors.New("class not found")

// UnmarshalError reports a failure to deserialize a remote attribute value.
type UnmarshalError struct {
	Cause error
}

func (e *UnmarshalError) Error() string {
	return fmt.Sprintf("unmarshalling attribute value: %v", e.Cause)
}

func (e *UnmarshalError) Unwrap() error { return e.Cause }

// IsClassNotFound reports whether err is an UnmarshalError caused by a missing class.
func IsClassNotFound(err error) bool {
	var ue *UnmarshalError
	return errors.As(err, &ue) && errors.Is(ue.Cause, ErrClassNotFound)
}

// Environment keys understood by the connectors.
const (
	EnvCredentials       = "jmx.remote.credentials"
	EnvProviderPackages  = "jmx.remote.protocol.provider.pkgs"
	EnvSecurityPrincipal = "java.naming.security.principal"
	EnvSecurityCreds     = "java.naming.security.credentials"
	EnvSocketTimeout     = "jmx.remote.x.socket.timeout"
	EnvSSL               = "jmx.remote.x.ssl"
)

// Environment carries credentials, SSL and timeout settings to a Dialer.
type Environment map[string]any

// Credentials returns the username and password, whichever key set carries them.
func (e Environment) Credentials() (string, string, bool) {
	if c, ok := e[EnvCredentials].([]string); ok && len(c) == 2 {
		return c[0], c[1], true
	}
	user, uok := e[EnvSecurityPrincipal].(string)
	pass, pok := e[EnvSecurityCreds].(string)
	if uok && pok {
		return user, pass, true
	}
	return "", "", false
}

// SocketTimeout returns the configured socket timeout or def.
func (e Environment) SocketTimeout(def time.Duration) time.Duration {
	if d, ok := e[EnvSocketTimeout].(time.Duration); ok && d > 0 {
		return d
	}
	return def
}

// SSL reports whether SSL was requested.
func (e Environment) SSL() bool {
	ssl, _ := e[EnvSSL].(bool)
	return ssl
}

// ProviderPackages returns the vendor protocol provider packages, if any.
func (e Environment) ProviderPackages() string {
	p, _ := e[EnvProviderPackages].(string)
	return p
}

// Dialer opens a connection to a service URL.
type Dialer interface {
	Dial(ctx context.Context, serviceURL string, env Environment) (Connection, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, serviceURL string, env Environment) (Connection, error)

func (f DialerFunc) Dial(ctx context.Context, serviceURL string, env Environment) (Connection, error) {
	return f(ctx, serviceURL, env)
}

var (
	dialersMu sync.RWMutex
	dialers   = map[string]Dialer{}
)

// RegisterDialer binds a service URL prefix (e.g. "service:jmx:rmi:") to a Dialer.
func RegisterDialer(prefix string, d Dialer) {
	dialersMu.Lock()
	defer dialersMu.Unlock()
	dialers[prefix] = d
}

// Dial opens serviceURL with the dialer registered for the longest matching prefix.
func Dial(ctx context.Context, serviceURL string, env Environment) (Connection, error) {
	dialersMu.RLock()
	var (
		best    Dialer
		bestLen int
	)
	for prefix, d := range dialers {
		if strings.HasPrefix(serviceURL, prefix) && len(prefix) > bestLen {
			best, bestLen = d, len(prefix)
		}
	}
	dialersMu.RUnlock()
	if best == nil {
		return nil, fmt.Errorf("%w: %s", internalerrors.ErrUnknownScheme, serviceURL)
	}
	return best.Dial(ctx, serviceURL, env)
}
