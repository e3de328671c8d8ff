package jmx

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gobwas/glob"
	lru "github.com/hashicorp/golang-lru"

	internalerrors "github.com/jmxtrans/jmxtrans-sub000/internal/errors"
)

const nameCacheSize = 4096

var nameCache, _ = lru.New(nameCacheSize)

// Property is one key=value pair of an object name, value kept as written.
type Property struct {
	Key   string
	Value string
}

// ObjectName identifies an MBean: a domain plus an ordered key-property list.
//
// ObjectName is immutable; values returned by ParseObjectName are shared from a cache.
type ObjectName struct {
	domain          string
	props           []Property
	propertyPattern bool
}

// ParseObjectName parses s using the JMX object name syntax.
func ParseObjectName(s string) (ObjectName, error) {
	if cached, ok := nameCache.Get(s); ok {
		return cached.(ObjectName), nil
	}
	on, err := parseObjectName(s)
	if err != nil {
		return ObjectName{}, fmt.Errorf("%w: %q: %v", internalerrors.ErrMalformedObjectName, s, err)
	}
	nameCache.Add(s, on)
	return on, nil
}

// MustParseObjectName is ParseObjectName for literals; it panics on error.
func MustParseObjectName(s string) ObjectName {
	on, err := ParseObjectName(s)
	if err != nil {
		panic(err)
	}
	return on
}

func parseObjectName(s string) (ObjectName, error) {
	colon := strings.IndexByte(s, ':')
	if colon < 0 {
		return ObjectName{}, fmt.Errorf("missing domain separator")
	}
	on := ObjectName{domain: s[:colon]}
	if strings.ContainsAny(on.domain, "\n") {
		return ObjectName{}, fmt.Errorf("invalid character in domain")
	}
	rest := s[colon+1:]
	if rest == "" {
		return ObjectName{}, fmt.Errorf("empty key property list")
	}

	parts, err := splitProperties(rest)
	if err != nil {
		return ObjectName{}, err
	}
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		if part == "*" {
			if on.propertyPattern {
				return ObjectName{}, fmt.Errorf("repeated property list wildcard")
			}
			on.propertyPattern = true
			continue
		}
		eq := strings.IndexByte(part, '=')
		if eq <= 0 {
			return ObjectName{}, fmt.Errorf("invalid key property %q", part)
		}
		key, value := part[:eq], part[eq+1:]
		if strings.ContainsAny(key, ":,=*?\"\n") {
			return ObjectName{}, fmt.Errorf("invalid character in key %q", key)
		}
		if value == "" {
			return ObjectName{}, fmt.Errorf("empty value for key %q", key)
		}
		if err := checkValue(value); err != nil {
			return ObjectName{}, fmt.Errorf("key %q: %w", key, err)
		}
		if _, dup := seen[key]; dup {
			return ObjectName{}, fmt.Errorf("duplicate key %q", key)
		}
		seen[key] = struct{}{}
		on.props = append(on.props, Property{Key: key, Value: value})
	}
	if len(on.props) == 0 && !on.propertyPattern {
		return ObjectName{}, fmt.Errorf("empty key property list")
	}
	return on, nil
}

// splitProperties splits on commas outside quoted values.
func splitProperties(s string) ([]string, error) {
	var (
		parts  []string
		start  int
		quoted bool
	)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			if quoted {
				i++
			}
		case '"':
			quoted = !quoted
		case ',':
			if !quoted {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	if quoted {
		return nil, fmt.Errorf("unterminated quoted value")
	}
	return append(parts, s[start:]), nil
}

func checkValue(v string) error {
	if strings.HasPrefix(v, `"`) {
		if len(v) < 2 || !strings.HasSuffix(v, `"`) {
			return fmt.Errorf("invalid quoted value %s", v)
		}
		return nil
	}
	if strings.ContainsAny(v, ",=:\"\n") {
		return fmt.Errorf("invalid character in value %q", v)
	}
	return nil
}

// Domain returns the object name domain.
func (o ObjectName) Domain() string { return o.domain }

// Properties returns a copy of the key properties in the order they were written.
func (o ObjectName) Properties() []Property {
	return append([]Property(nil), o.props...)
}

// KeyProperty returns the raw value of key.
func (o ObjectName) KeyProperty(key string) (string, bool) {
	for _, p := range o.props {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

// KeyPropertyListString returns the key properties joined in their original order.
func (o ObjectName) KeyPropertyListString() string {
	parts := make([]string, 0, len(o.props))
	for _, p := range o.props {
		parts = append(parts, p.Key+"="+p.Value)
	}
	return strings.Join(parts, ",")
}

// CanonicalName returns domain:props with keys in lexicographic order.
func (o ObjectName) CanonicalName() string {
	props := o.Properties()
	sort.Slice(props, func(i, j int) bool { return props[i].Key < props[j].Key })
	parts := make([]string, 0, len(props)+1)
	for _, p := range props {
		parts = append(parts, p.Key+"="+p.Value)
	}
	if o.propertyPattern {
		parts = append(parts, "*")
	}
	return o.domain + ":" + strings.Join(parts, ",")
}

// IsPattern reports whether the name contains wildcards.
func (o ObjectName) IsPattern() bool {
	if o.propertyPattern || strings.ContainsAny(o.domain, "*?") || o.domain == "" {
		return true
	}
	for _, p := range o.props {
		if isValuePattern(p.Value) {
			return true
		}
	}
	return false
}

// PatternKeys returns the keys whose values are wildcards, in declaration order.
func (o ObjectName) PatternKeys() []string {
	var keys []string
	for _, p := range o.props {
		if isValuePattern(p.Value) {
			keys = append(keys, p.Key)
		}
	}
	return keys
}

// Matches reports whether the concrete name matches the pattern o.
func (o ObjectName) Matches(name ObjectName) bool {
	if o.domain != "" && !globMatch(o.domain, name.domain) {
		return false
	}
	if !o.propertyPattern && len(o.props) != len(name.props) {
		return false
	}
	for _, p := range o.props {
		v, ok := name.KeyProperty(p.Key)
		if !ok {
			return false
		}
		if isValuePattern(p.Value) {
			if !globMatch(p.Value, v) {
				return false
			}
		} else if p.Value != v {
			return false
		}
	}
	return true
}

func (o ObjectName) String() string {
	s := o.domain + ":" + o.KeyPropertyListString()
	if o.propertyPattern {
		if len(o.props) > 0 {
			s += ","
		}
		s += "*"
	}
	return s
}

func isValuePattern(v string) bool {
	return !strings.HasPrefix(v, `"`) && strings.ContainsAny(v, "*?")
}

func globMatch(pattern, s string) bool {
	g, err := glob.Compile(escapeGlob(pattern))
	if err != nil {
		return pattern == s
	}
	return g.Match(s)
}

// escapeGlob keeps * and ? as wildcards and quotes the rest of the glob syntax.
func escapeGlob(p string) string {
	var b strings.Builder
	for _, r := range p {
		switch r {
		case '\\', '[', ']', '{', '}':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Unquote strips the quotes of a quoted object name value and resolves escapes.
func Unquote(v string) string {
	if len(v) < 2 || !strings.HasPrefix(v, `"`) || !strings.HasSuffix(v, `"`) {
		return v
	}
	inner := v[1 : len(v)-1]
	var b strings.Builder
	for i := 0; i < len(inner); i++ {
		if inner[i] == '\\' && i+1 < len(inner) {
			i++
			if inner[i] == 'n' {
				b.WriteByte('\n')
				continue
			}
		}
		b.WriteByte(inner[i])
	}
	return b.String()
}
