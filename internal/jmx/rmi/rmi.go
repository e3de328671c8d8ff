// Package rmi connects to service:jmx:rmi: URLs through the nrjmx bridge, a Java
// subprocess speaking to the JVM over RMI.
package rmi

import (
	"context"
	"fmt"
	"strings"

	"github.com/newrelic/nrjmx/gojmx"

	internalerrors "github.com/jmxtrans/jmxtrans-sub000/internal/errors"
	"github.com/jmxtrans/jmxtrans-sub000/internal/jmx"
)

// Prefix is the service URL prefix this connector is registered for.
const Prefix = "service:jmx:rmi:"

func init() {
	jmx.RegisterDialer(Prefix, jmx.DialerFunc(Dial))
}

// Client is the subset of gojmx.Client used by Connection.
type Client interface {
	QueryMBeanNames(mBeanPattern string) ([]string, error)
	GetMBeanAttributeNames(mBeanName string) ([]string, error)
	GetMBeanAttributes(mBeanName string, mBeanAttrName ...string) ([]*gojmx.AttributeResponse, error)
	Close() error
}

// openClient starts the bridge; replaced in tests.
var openClient = func(ctx context.Context, config *gojmx.JMXConfig) (Client, error) {
	return gojmx.NewClient(ctx).Open(config)
}

// Connection is a jmx.Connection over one nrjmx subprocess.
type Connection struct {
	client Client
	cancel context.CancelFunc
}

// Config translates a service URL and environment into the bridge configuration.
func Config(serviceURL string, env jmx.Environment) *gojmx.JMXConfig {
	config := &gojmx.JMXConfig{
		ConnectionURL:    serviceURL,
		UseSSL:           env.SSL(),
		RequestTimeoutMs: env.SocketTimeout(0).Milliseconds(),
	}
	if user, pass, ok := env.Credentials(); ok {
		config.Username = user
		config.Password = pass
	}
	return config
}

// Dial starts a bridge subprocess connected to serviceURL. The subprocess lives until
// Close, independently of ctx.
func Dial(ctx context.Context, serviceURL string, env jmx.Environment) (jmx.Connection, error) {
	clientCtx, cancel := context.WithCancel(context.Background())
	client, err := openClient(clientCtx, Config(serviceURL, env))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %s: %w", internalerrors.ErrConnection, serviceURL, err)
	}
	return &Connection{client: client, cancel: cancel}, nil
}

// NewConnection wraps an open client.
func NewConnection(client Client) *Connection {
	return &Connection{client: client, cancel: func() {}}
}

func (c *Connection) QueryNames(ctx context.Context, pattern jmx.ObjectName) ([]jmx.ObjectName, error) {
	found, err := c.client.QueryMBeanNames(pattern.String())
	if err != nil {
		return nil, err
	}
	names := make([]jmx.ObjectName, 0, len(found))
	for _, s := range found {
		name, err := jmx.ParseObjectName(s)
		if err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, nil
}

// MBeanInfo lists the attribute names. The bridge does not report class names or
// attribute types.
func (c *Connection) MBeanInfo(ctx context.Context, name jmx.ObjectName) (jmx.MBeanInfo, error) {
	attrs, err := c.client.GetMBeanAttributeNames(name.String())
	if err != nil {
		return jmx.MBeanInfo{}, fmt.Errorf("%w: %s: %w", internalerrors.ErrInstanceAbsent, name, err)
	}
	info := jmx.MBeanInfo{}
	for _, a := range attrs {
		info.Attributes = append(info.Attributes, jmx.AttributeInfo{Name: a})
	}
	return info, nil
}

// ClassName returns "" without a round trip; the bridge does not report classes.
func (c *Connection) ClassName(ctx context.Context, name jmx.ObjectName) (string, error) {
	return "", nil
}

// GetAttributes reads attrs. The bridge flattens composite attributes into one response
// per field, named attr.field; those are put back together into a Composite.
func (c *Connection) GetAttributes(ctx context.Context, name jmx.ObjectName, attrs []string) ([]jmx.Attribute, error) {
	responses, err := c.client.GetMBeanAttributes(name.String(), attrs...)
	if err != nil {
		return nil, err
	}

	scalars := map[string]jmx.Value{}
	composites := map[string]*jmx.Composite{}
	for _, r := range responses {
		if r.ResponseType == gojmx.ResponseTypeErr {
			if strings.Contains(r.StatusMsg, "ClassNotFoundException") {
				return nil, &jmx.UnmarshalError{Cause: fmt.Errorf("%w: %s", jmx.ErrClassNotFound, r.StatusMsg)}
			}
			continue
		}
		attrName := responseAttribute(r.Name)
		v := responseValue(r)
		for _, a := range attrs {
			switch {
			case attrName == a:
				scalars[a] = v
			case strings.HasPrefix(attrName, a+"."):
				comp, ok := composites[a]
				if !ok {
					comp = &jmx.Composite{}
					composites[a] = comp
				}
				comp.Fields = append(comp.Fields, jmx.Field{Name: strings.TrimPrefix(attrName, a+"."), Value: v})
			}
		}
	}

	out := make([]jmx.Attribute, 0, len(attrs))
	for _, a := range attrs {
		if v, ok := scalars[a]; ok {
			out = append(out, jmx.Attribute{Name: a, Value: v})
		} else if comp, ok := composites[a]; ok {
			out = append(out, jmx.Attribute{Name: a, Value: *comp})
		}
	}
	return out, nil
}

func (c *Connection) Close() error {
	defer c.cancel()
	return c.client.Close()
}

// responseAttribute extracts the attribute from a response name of the form
// domain:props,attr=Name.
func responseAttribute(name string) string {
	if i := strings.LastIndex(name, "attr="); i >= 0 {
		return name[i+len("attr="):]
	}
	return name
}

func responseValue(r *gojmx.AttributeResponse) jmx.Value {
	switch r.ResponseType {
	case gojmx.ResponseTypeInt:
		return jmx.Scalar{V: r.IntValue}
	case gojmx.ResponseTypeDouble:
		return jmx.Scalar{V: r.DoubleValue}
	case gojmx.ResponseTypeBool:
		return jmx.Scalar{V: r.BoolValue}
	default:
		return jmx.Scalar{V: r.StringValue}
	}
}
