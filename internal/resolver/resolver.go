// Package resolver expands ${key} and ${key:default} placeholders in configuration
// values using process-wide properties.
package resolver

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Resolver looks placeholders up in explicit properties first, then in the environment.
type Resolver struct {
	properties map[string]string
	lookupEnv  func(string) (string, bool)
}

// New creates a Resolver over the given properties and the process environment.
func New(properties map[string]string) *Resolver {
	props := make(map[string]string, len(properties))
	for k, v := range properties {
		props[k] = v
	}
	return &Resolver{properties: props, lookupEnv: os.LookupEnv}
}

func (r *Resolver) lookup(key string) (string, bool) {
	if v, ok := r.properties[key]; ok {
		return v, true
	}
	if r.lookupEnv != nil {
		return r.lookupEnv(key)
	}
	return "", false
}

// Resolve expands placeholders in strings, and recursively in map values and slice
// elements. Other values are returned unchanged. Containers are copied, not mutated.
func (r *Resolver) Resolve(v any) any {
	switch t := v.(type) {
	case string:
		return r.ResolveString(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = r.Resolve(val)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(t))
		for k, val := range t {
			out[k] = r.ResolveString(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = r.Resolve(val)
		}
		return out
	case []string:
		out := make([]string, len(t))
		for i, val := range t {
			out[i] = r.ResolveString(val)
		}
		return out
	default:
		return v
	}
}

// ResolveString replaces every ${key} or ${key:default} token of s. Tokens whose key is
// unknown and carry no default are kept as written.
func (r *Resolver) ResolveString(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	var b strings.Builder
	for {
		start := strings.Index(s, "${")
		if start < 0 {
			b.WriteString(s)
			break
		}
		end := strings.IndexByte(s[start:], '}')
		if end < 0 {
			b.WriteString(s)
			break
		}
		end += start
		b.WriteString(s[:start])
		token := s[start+2 : end]
		key, def, hasDefault := strings.Cut(token, ":")
		if v, ok := r.lookup(key); ok {
			b.WriteString(v)
		} else if hasDefault {
			b.WriteString(def)
		} else {
			b.WriteString(s[start : end+1])
		}
		s = s[end+1:]
	}
	return b.String()
}

// ResolveNode resolves every string scalar of a YAML document in place.
func (r *Resolver) ResolveNode(n *yaml.Node) {
	if n == nil {
		return
	}
	if n.Kind == yaml.ScalarNode && (n.Tag == "!!str" || n.Tag == "") {
		n.Value = r.ResolveString(n.Value)
	}
	if n.Kind == yaml.MappingNode {
		// Keys stay literal; only values are resolved.
		for i := 1; i < len(n.Content); i += 2 {
			r.ResolveNode(n.Content[i])
		}
		return
	}
	for _, c := range n.Content {
		r.ResolveNode(c)
	}
}
