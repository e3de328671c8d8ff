package jmx

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Value is a raw JMX attribute value. The set of implementations is closed:
// Null, Scalar, Array, ObjectRefArray, Composite, Tabular and Mapping.
type Value interface {
	fmt.Stringer
	jmxValue()
}

// Null is an absent attribute value.
type Null struct{}

// Scalar holds a string, a bool or a Go numeric value.
type Scalar struct {
	V any
}

// Array is an ordered list of values, possibly heterogeneous.
type Array struct {
	Elems []Value
}

// ObjectRefArray is an array of references to other MBeans.
type ObjectRefArray struct {
	Names []ObjectName
}

// Field is one named item of a Composite.
type Field struct {
	Name  string
	Value Value
}

// Composite is a record of named fields (CompositeData).
type Composite struct {
	Fields []Field
}

// Row is one entry of a Tabular value. A well formed Key is an Array of scalars and a
// well formed Value is a Composite.
type Row struct {
	Key   Value
	Value Value
}

// Tabular is a table of rows indexed by one or more key fields (TabularData).
type Tabular struct {
	Rows []Row
}

// Entry is one item of a Mapping.
type Entry struct {
	Key   Value
	Value Value
}

// Mapping is a generic key/value map.
type Mapping struct {
	Entries []Entry
}

func (Null) jmxValue()           {}
func (Scalar) jmxValue()         {}
func (Array) jmxValue()          {}
func (ObjectRefArray) jmxValue() {}
func (Composite) jmxValue()      {}
func (Tabular) jmxValue()        {}
func (Mapping) jmxValue()        {}

func (Null) String() string { return "null" }

func (s Scalar) String() string { return fmt.Sprint(s.V) }

func (a Array) String() string {
	parts := make([]string, 0, len(a.Elems))
	for _, e := range a.Elems {
		parts = append(parts, e.String())
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func (a ObjectRefArray) String() string {
	parts := make([]string, 0, len(a.Names))
	for _, n := range a.Names {
		parts = append(parts, n.String())
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func (c Composite) String() string {
	parts := make([]string, 0, len(c.Fields))
	for _, f := range c.Fields {
		parts = append(parts, f.Name+"="+f.Value.String())
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func (t Tabular) String() string {
	parts := make([]string, 0, len(t.Rows))
	for _, r := range t.Rows {
		parts = append(parts, r.Key.String()+"="+r.Value.String())
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func (m Mapping) String() string {
	parts := make([]string, 0, len(m.Entries))
	for _, e := range m.Entries {
		parts = append(parts, e.Key.String()+"="+e.Value.String())
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// Field returns the value of the named field.
func (c Composite) Field(name string) (Value, bool) {
	for _, f := range c.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// Attribute is a named attribute value as returned by a bulk fetch.
type Attribute struct {
	Name  string
	Value Value
}

// FromGo converts a plain Go value into a Value. Maps with string keys become
// composites with fields in key order, other maps become mappings, slices become arrays.
func FromGo(v any) Value {
	switch t := v.(type) {
	case nil:
		return Null{}
	case Value:
		return t
	case ObjectName:
		return Scalar{V: t.String()}
	case []ObjectName:
		return ObjectRefArray{Names: t}
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		c := Composite{Fields: make([]Field, 0, len(t))}
		for _, k := range keys {
			c.Fields = append(c.Fields, Field{Name: k, Value: FromGo(t[k])})
		}
		return c
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		a := Array{Elems: make([]Value, 0, rv.Len())}
		for i := 0; i < rv.Len(); i++ {
			a.Elems = append(a.Elems, FromGo(rv.Index(i).Interface()))
		}
		return a
	case reflect.Map:
		keys := rv.MapKeys()
		sort.Slice(keys, func(i, j int) bool {
			return fmt.Sprint(keys[i].Interface()) < fmt.Sprint(keys[j].Interface())
		})
		m := Mapping{Entries: make([]Entry, 0, len(keys))}
		for _, k := range keys {
			m.Entries = append(m.Entries, Entry{Key: FromGo(k.Interface()), Value: FromGo(rv.MapIndex(k).Interface())})
		}
		return m
	case reflect.Ptr:
		if rv.IsNil() {
			return Null{}
		}
		return FromGo(rv.Elem().Interface())
	}
	return Scalar{V: v}
}
