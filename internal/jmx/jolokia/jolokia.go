// Package jolokia is a JMX connector speaking the Jolokia JSON protocol over HTTP. It is
// registered for http:// and https:// service URLs.
package jolokia

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	internalerrors "github.com/jmxtrans/jmxtrans-sub000/internal/errors"
	"github.com/jmxtrans/jmxtrans-sub000/internal/jmx"
)

// DefaultTimeout applies when the environment carries no socket timeout.
const DefaultTimeout = 10 * time.Second

const (
	tabularType = "javax.management.openmbean.TabularData"
	mapType     = "java.util.Map"
)

func init() {
	jmx.RegisterDialer("http://", jmx.DialerFunc(Dial))
	jmx.RegisterDialer("https://", jmx.DialerFunc(Dial))
}

type request struct {
	Type      string   `json:"type"`
	MBean     string   `json:"mbean,omitempty"`
	Attribute []string `json:"attribute,omitempty"`
	Path      string   `json:"path,omitempty"`
}

type response struct {
	Status    int             `json:"status"`
	Value     json.RawMessage `json:"value"`
	Error     string          `json:"error"`
	ErrorType string          `json:"error_type"`
}

type mbeanListing struct {
	Class string `json:"class"`
	Attr  map[string]struct {
		Type string `json:"type"`
	} `json:"attr"`
}

// Connection is an open Jolokia agent endpoint.
type Connection struct {
	url      string
	client   *http.Client
	username string
	password string

	mu    sync.Mutex
	infos map[string]jmx.MBeanInfo
}

// Dial checks that the agent answers a version request and returns a connection to it.
func Dial(ctx context.Context, serviceURL string, env jmx.Environment) (jmx.Connection, error) {
	c := &Connection{
		url:    serviceURL,
		client: &http.Client{Timeout: env.SocketTimeout(DefaultTimeout)},
		infos:  map[string]jmx.MBeanInfo{},
	}
	if user, pass, ok := env.Credentials(); ok {
		c.username, c.password = user, pass
	}
	if _, err := c.do(ctx, request{Type: "version"}); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", internalerrors.ErrConnection, serviceURL, err)
	}
	return c, nil
}

func (c *Connection) do(ctx context.Context, req request) (json.RawMessage, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("error creating json: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("error creating request for %s: %w", c.url, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.username != "" {
		httpReq.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("error sending request for %s: %w", c.url, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("agent returned status %d: %s", resp.StatusCode, data)
	}

	var r response
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("invalid agent response: %w", err)
	}
	if r.Status != http.StatusOK {
		if strings.Contains(r.ErrorType, "ClassNotFoundException") {
			return nil, &jmx.UnmarshalError{Cause: fmt.Errorf("%w: %s", jmx.ErrClassNotFound, r.Error)}
		}
		if strings.Contains(r.ErrorType, "InstanceNotFoundException") {
			return nil, fmt.Errorf("%w: %s", internalerrors.ErrInstanceAbsent, r.Error)
		}
		return nil, fmt.Errorf("%s %s failed with %d: %s", req.Type, req.MBean, r.Status, r.Error)
	}
	return r.Value, nil
}

func (c *Connection) QueryNames(ctx context.Context, pattern jmx.ObjectName) ([]jmx.ObjectName, error) {
	raw, err := c.do(ctx, request{Type: "search", MBean: pattern.String()})
	if err != nil {
		return nil, err
	}
	var found []string
	if err := json.Unmarshal(raw, &found); err != nil {
		return nil, fmt.Errorf("invalid search result: %w", err)
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

func (c *Connection) MBeanInfo(ctx context.Context, name jmx.ObjectName) (jmx.MBeanInfo, error) {
	raw, err := c.do(ctx, request{Type: "list", Path: listPath(name)})
	if err != nil {
		return jmx.MBeanInfo{}, err
	}
	var listing mbeanListing
	if err := json.Unmarshal(raw, &listing); err != nil {
		return jmx.MBeanInfo{}, fmt.Errorf("invalid list result: %w", err)
	}

	info := jmx.MBeanInfo{ClassName: listing.Class}
	attrs := make([]string, 0, len(listing.Attr))
	for a := range listing.Attr {
		attrs = append(attrs, a)
	}
	sort.Strings(attrs)
	for _, a := range attrs {
		info.Attributes = append(info.Attributes, jmx.AttributeInfo{Name: a, Type: listing.Attr[a].Type})
	}

	c.mu.Lock()
	c.infos[name.CanonicalName()] = info
	c.mu.Unlock()
	return info, nil
}

func (c *Connection) GetAttributes(ctx context.Context, name jmx.ObjectName, attrs []string) ([]jmx.Attribute, error) {
	raw, err := c.do(ctx, request{Type: "read", MBean: name.String(), Attribute: attrs})
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var values map[string]any
	if err := dec.Decode(&values); err != nil {
		return nil, &jmx.UnmarshalError{Cause: err}
	}

	c.mu.Lock()
	info := c.infos[name.CanonicalName()]
	c.mu.Unlock()
	types := make(map[string]string, len(info.Attributes))
	for _, a := range info.Attributes {
		types[a.Name] = a.Type
	}

	out := make([]jmx.Attribute, 0, len(attrs))
	for _, a := range attrs {
		v, ok := values[a]
		if !ok {
			continue
		}
		out = append(out, jmx.Attribute{Name: a, Value: decodeValue(v, types[a])})
	}
	return out, nil
}

func (c *Connection) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

// listPath renders name as a list path: domain/key=value with "/" escaped as "!/".
func listPath(name jmx.ObjectName) string {
	escape := func(s string) string {
		s = strings.ReplaceAll(s, "!", "!!")
		return strings.ReplaceAll(s, "/", "!/")
	}
	return escape(name.Domain()) + "/" + escape(name.KeyPropertyListString())
}

// decodeValue turns a decoded JSON value into a jmx.Value. typ is the attribute's open
// type as reported by list, and tells tables and maps apart from composites.
func decodeValue(v any, typ string) jmx.Value {
	switch t := v.(type) {
	case nil:
		return jmx.Null{}
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return jmx.Scalar{V: i}
		}
		f, _ := t.Float64()
		return jmx.Scalar{V: f}
	case string, bool:
		return jmx.Scalar{V: t}
	case []any:
		if names, ok := objectNames(t); ok {
			return jmx.ObjectRefArray{Names: names}
		}
		a := jmx.Array{Elems: make([]jmx.Value, 0, len(t))}
		for _, e := range t {
			a.Elems = append(a.Elems, decodeValue(e, ""))
		}
		return a
	case map[string]any:
		if on, ok := t["objectName"].(string); ok && len(t) == 1 {
			return jmx.Scalar{V: on}
		}
		switch {
		case strings.Contains(typ, tabularType):
			return decodeTable(t)
		case strings.Contains(typ, mapType):
			m := jmx.Mapping{}
			for _, k := range sortedKeys(t) {
				m.Entries = append(m.Entries, jmx.Entry{Key: jmx.Scalar{V: k}, Value: decodeValue(t[k], "")})
			}
			return m
		}
		c := jmx.Composite{}
		for _, k := range sortedKeys(t) {
			c.Fields = append(c.Fields, jmx.Field{Name: k, Value: decodeItem(t[k])})
		}
		return c
	}
	return jmx.Scalar{V: fmt.Sprint(v)}
}

// decodeItem decodes a composite item. list reports no open types below the attribute,
// so an item whose values are all objects is taken for a table.
func decodeItem(v any) jmx.Value {
	if m, ok := v.(map[string]any); ok && isIndexLevel(m) {
		return decodeTable(m)
	}
	return decodeValue(v, "")
}

// decodeTable restores a table serialized as nested objects keyed by index values. A
// level whose values are all objects is an index level; the first level holding other
// values is the row.
func decodeTable(m map[string]any) jmx.Value {
	t := jmx.Tabular{}
	var walk func(level map[string]any, keys []jmx.Value)
	walk = func(level map[string]any, keys []jmx.Value) {
		for _, k := range sortedKeys(level) {
			rowKeys := append(append([]jmx.Value(nil), keys...), jmx.Scalar{V: k})
			child, ok := level[k].(map[string]any)
			if !ok {
				t.Rows = append(t.Rows, jmx.Row{Key: jmx.Array{Elems: rowKeys}, Value: decodeValue(level[k], "")})
				continue
			}
			if isIndexLevel(child) {
				walk(child, rowKeys)
				continue
			}
			t.Rows = append(t.Rows, jmx.Row{Key: jmx.Array{Elems: rowKeys}, Value: decodeValue(child, "")})
		}
	}
	walk(m, nil)
	return t
}

func isIndexLevel(m map[string]any) bool {
	if len(m) == 0 {
		return false
	}
	for _, v := range m {
		if _, ok := v.(map[string]any); !ok {
			return false
		}
	}
	return true
}

func objectNames(elems []any) ([]jmx.ObjectName, bool) {
	if len(elems) == 0 {
		return nil, false
	}
	names := make([]jmx.ObjectName, 0, len(elems))
	for _, e := range elems {
		m, ok := e.(map[string]any)
		if !ok || len(m) != 1 {
			return nil, false
		}
		s, ok := m["objectName"].(string)
		if !ok {
			return nil, false
		}
		name, err := jmx.ParseObjectName(s)
		if err != nil {
			return nil, false
		}
		names = append(names, name)
	}
	return names, true
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
