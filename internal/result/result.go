// Package result holds the flattened metric record produced from raw attribute values
// and the flattener that produces it.
package result

import (
	"fmt"
	"strings"
)

// Entry is one leaf value of a Result.
type Entry struct {
	Key   string
	Value any
}

// Result is one flattened observation of an attribute, or of a sub-path of a structured
// attribute. It is immutable once built.
type Result struct {
	epoch         int64
	attributeName string
	className     string
	objDomain     string
	keyAlias      string
	typeName      string
	values        []Entry
}

// New builds a Result. Later entries with an already seen key replace the earlier value
// in place, so keys stay unique and keep first-seen order.
func New(epoch int64, attributeName, className, objDomain, keyAlias, typeName string, values []Entry) Result {
	r := Result{
		epoch:         epoch,
		attributeName: attributeName,
		className:     className,
		objDomain:     objDomain,
		keyAlias:      keyAlias,
		typeName:      typeName,
		values:        make([]Entry, 0, len(values)),
	}
	index := make(map[string]int, len(values))
	for _, e := range values {
		if i, ok := index[e.Key]; ok {
			r.values[i].Value = e.Value
			continue
		}
		index[e.Key] = len(r.values)
		r.values = append(r.values, e)
	}
	return r
}

// Epoch is the capture time in milliseconds since the Unix epoch.
func (r Result) Epoch() int64 { return r.epoch }

func (r Result) AttributeName() string { return r.attributeName }
func (r Result) ClassName() string     { return r.className }
func (r Result) ObjDomain() string     { return r.objDomain }

// KeyAlias is the result alias configured on the originating query.
func (r Result) KeyAlias() string { return r.keyAlias }

// TypeName is the key-property list of the source object name, in its natural order.
func (r Result) TypeName() string { return r.typeName }

// Values returns a copy of the ordered leaf values.
func (r Result) Values() []Entry {
	return append([]Entry(nil), r.values...)
}

// Value looks a leaf up by key.
func (r Result) Value(key string) (any, bool) {
	for _, e := range r.values {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}

// Len is the number of leaf values.
func (r Result) Len() int { return len(r.values) }

func (r Result) String() string {
	var b strings.Builder
	for i, e := range r.values {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s=%v", e.Key, e.Value)
	}
	return fmt.Sprintf("Result(attributeName=%s, className=%s, objDomain=%s, typeName=%s, values={%s}, epoch=%d)",
		r.attributeName, r.className, r.objDomain, r.typeName, b.String(), r.epoch)
}
