// Package naming derives metric key material from object names: type-name values built
// from key properties, and the canonical dotted metric key used by writers.
package naming

import (
	"slices"
	"strings"

	"github.com/jmxtrans/jmxtrans-sub000/internal/jmx"
)

// DefaultSeparator joins type-name values when dotted keys are not allowed.
const DefaultSeparator = "_"

// Strategy selects which key properties contribute to a type-name value.
type Strategy int

const (
	// Plain uses the key-property list in object-name order. Caller supplied type
	// names narrow it to those keys.
	Plain Strategy = iota
	// Configured uses only the query's own type names, in configured order.
	Configured
	// UseAll uses every key property in object-name order.
	UseAll
)

func (s Strategy) String() string {
	switch s {
	case Configured:
		return "configured"
	case UseAll:
		return "use-all"
	default:
		return "plain"
	}
}

// TypeNameBuilder builds type-name values for one query.
type TypeNameBuilder struct {
	strategy  Strategy
	separator string
	keys      []string
}

// NewTypeNameBuilder picks the strategy from the query flags: useAllTypeNames wins,
// then non-empty typeNameKeys, then the plain strategy.
func NewTypeNameBuilder(typeNameKeys []string, useAllTypeNames, allowDottedKeys bool) *TypeNameBuilder {
	b := &TypeNameBuilder{separator: DefaultSeparator}
	if allowDottedKeys {
		b.separator = "."
	}
	switch {
	case useAllTypeNames:
		b.strategy = UseAll
	case len(typeNameKeys) > 0:
		b.strategy = Configured
		b.keys = append([]string(nil), typeNameKeys...)
	default:
		b.strategy = Plain
	}
	return b
}

// Strategy returns the strategy chosen at construction.
func (b *TypeNameBuilder) Strategy() Strategy { return b.strategy }

// Separator returns the join separator.
func (b *TypeNameBuilder) Separator() string { return b.separator }

// Build derives the type-name value of keyPropertyList, a "k=v,k2=v2" string. typeNames
// only matter to the plain strategy, where an empty list keeps every key property.
// Keys missing from the list are skipped.
func (b *TypeNameBuilder) Build(typeNames []string, keyPropertyList string) string {
	props := ParseKeyPropertyList(keyPropertyList)

	var values []string
	switch b.strategy {
	case UseAll:
		for _, p := range props {
			values = append(values, jmx.Unquote(p.Value))
		}
	case Configured:
		for _, key := range b.keys {
			if v, ok := lookup(props, key); ok {
				values = append(values, jmx.Unquote(v))
			}
		}
	default:
		wanted := make(map[string]struct{}, len(typeNames))
		for _, key := range typeNames {
			wanted[key] = struct{}{}
		}
		for _, p := range props {
			if _, ok := wanted[p.Key]; ok || len(wanted) == 0 {
				values = append(values, jmx.Unquote(p.Value))
			}
		}
	}
	return strings.Join(values, b.separator)
}

// Keeps reports whether Build with typeNames keeps the value of key.
func (b *TypeNameBuilder) Keeps(typeNames []string, key string) bool {
	switch b.strategy {
	case UseAll:
		return true
	case Configured:
		return slices.Contains(b.keys, key)
	default:
		return len(typeNames) == 0 || slices.Contains(typeNames, key)
	}
}

// ParseKeyPropertyList splits "k=v,k2=v2" keeping order; quoted values may hold commas.
func ParseKeyPropertyList(s string) []jmx.Property {
	if s == "" {
		return nil
	}
	var (
		props  []jmx.Property
		start  int
		quoted bool
	)
	add := func(part string) {
		if k, v, ok := strings.Cut(part, "="); ok && k != "" {
			props = append(props, jmx.Property{Key: k, Value: v})
		}
	}
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
				add(s[start:i])
				start = i + 1
			}
		}
	}
	add(s[start:])
	return props
}

func lookup(props []jmx.Property, key string) (string, bool) {
	for _, p := range props {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}


