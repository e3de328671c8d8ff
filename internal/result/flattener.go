package result

import (
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	internalerrors "github.com/jmxtrans/jmxtrans-sub000/internal/errors"
	"github.com/jmxtrans/jmxtrans-sub000/internal/jmx"
)

// Flattener turns the raw attribute values of one MBean instance into Results. The
// class name, domain, alias and type name are fixed for its lifetime.
type Flattener struct {
	logger    *zap.SugaredLogger
	className string
	objDomain string
	keyAlias  string
	typeName  string
	now       func() time.Time
}

// NewFlattener creates a Flattener for the instance described by the arguments.
func NewFlattener(logger *zap.SugaredLogger, className, objDomain, keyAlias, typeName string) *Flattener {
	return &Flattener{
		logger:    logger,
		className: className,
		objDomain: objDomain,
		keyAlias:  keyAlias,
		typeName:  typeName,
		now:       time.Now,
	}
}

type accumulator struct {
	f       *Flattener
	epoch   int64
	results []Result
}

// Flatten flattens attrs in order. A tabular row that is not a composite record, or whose
// key is not a list of scalars, fails the whole call with ErrUnsupportedShape.
func (f *Flattener) Flatten(attrs []jmx.Attribute) ([]Result, error) {
	acc := &accumulator{f: f, epoch: f.now().UnixMilli()}
	for _, a := range attrs {
		if err := acc.value(a.Name, a.Value); err != nil {
			return nil, err
		}
	}
	return acc.results, nil
}

func (acc *accumulator) emit(attributeName string, values []Entry) {
	if len(values) == 0 {
		return
	}
	f := acc.f
	acc.results = append(acc.results, New(acc.epoch, attributeName, f.className, f.objDomain, f.keyAlias, f.typeName, values))
}

func (acc *accumulator) value(name string, v jmx.Value) error {
	switch t := v.(type) {
	case nil, jmx.Null:
		return nil
	case jmx.Composite:
		return acc.composite(name, t)
	case jmx.Tabular:
		return acc.tabular(name, t)
	case jmx.ObjectRefArray:
		values := make([]Entry, 0, len(t.Names))
		for _, on := range t.Names {
			values = append(values, Entry{Key: on.CanonicalName(), Value: on.KeyPropertyListString()})
		}
		acc.emit(name, values)
	case jmx.Array:
		if composites, ok := allComposites(t); ok {
			for _, c := range composites {
				if err := acc.composite(name, c); err != nil {
					return err
				}
			}
			return nil
		}
		values := make([]Entry, 0, len(t.Elems))
		for i, e := range t.Elems {
			if leaf, ok := leafValue(e); ok {
				values = append(values, Entry{Key: name + "." + strconv.Itoa(i), Value: leaf})
			}
		}
		acc.emit(name, values)
	case jmx.Mapping:
		acc.mapping(name, t)
	case jmx.Scalar:
		if t.V != nil {
			acc.emit(name, []Entry{{Key: name, Value: scalarValue(t.V)}})
		}
	default:
		return fmt.Errorf("%w: attribute %s has value of type %T", internalerrors.ErrUnsupportedShape, name, v)
	}
	return nil
}

// composite emits the scalar fields of c as one Result. A nested composite field hands
// the attribute name down and ends this level without emitting.
func (acc *accumulator) composite(name string, c jmx.Composite) error {
	var values []Entry
	for _, field := range c.Fields {
		switch fv := field.Value.(type) {
		case jmx.Tabular:
			if err := acc.tabular(name+"."+field.Name, fv); err != nil {
				return err
			}
		case jmx.Composite:
			return acc.composite(name, fv)
		case jmx.Array:
			for i, e := range fv.Elems {
				if leaf, ok := leafValue(e); ok {
					values = append(values, Entry{Key: field.Name + "." + strconv.Itoa(i), Value: leaf})
				}
			}
		default:
			if leaf, ok := leafValue(fv); ok {
				values = append(values, Entry{Key: field.Name, Value: leaf})
			}
		}
	}
	acc.emit(name, values)
	return nil
}

func (acc *accumulator) tabular(name string, t jmx.Tabular) error {
	for _, row := range t.Rows {
		keys, ok := row.Key.(jmx.Array)
		if !ok {
			return fmt.Errorf("%w: row key of %s is %T, not a list", internalerrors.ErrUnsupportedShape, name, row.Key)
		}
		rowName := name
		for _, k := range keys.Elems {
			s, ok := k.(jmx.Scalar)
			if !ok {
				return fmt.Errorf("%w: row key part of %s is %T, not a scalar", internalerrors.ErrUnsupportedShape, name, k)
			}
			rowName += "." + fmt.Sprint(s.V)
		}
		rowValue, ok := row.Value.(jmx.Composite)
		if !ok {
			return fmt.Errorf("%w: row value of %s is %T, not a composite", internalerrors.ErrUnsupportedShape, rowName, row.Value)
		}
		if err := acc.composite(rowName, rowValue); err != nil {
			return err
		}
	}
	return nil
}

func (acc *accumulator) mapping(name string, m jmx.Mapping) {
	values := make([]Entry, 0, len(m.Entries))
	seen := make(map[string]struct{}, len(m.Entries))
	for _, e := range m.Entries {
		key := mappingKey(e.Key)
		if _, dup := seen[key]; dup {
			acc.f.logger.Warnw("duplicate mapping key after string coercion, keeping the last value",
				"attribute", name, "key", key)
		}
		seen[key] = struct{}{}
		if leaf, ok := leafValue(e.Value); ok {
			values = append(values, Entry{Key: key, Value: leaf})
		}
	}
	acc.emit(name, values)
}

func allComposites(a jmx.Array) ([]jmx.Composite, bool) {
	var out []jmx.Composite
	for _, e := range a.Elems {
		switch c := e.(type) {
		case jmx.Composite:
			out = append(out, c)
		case jmx.Null:
		default:
			return nil, false
		}
	}
	return out, len(out) > 0
}

func mappingKey(k jmx.Value) string {
	if s, ok := k.(jmx.Scalar); ok {
		return fmt.Sprint(s.V)
	}
	if k == nil {
		return "null"
	}
	return k.String()
}

// leafValue renders v as a leaf. Nulls have no leaf; structured values are kept as
// their text form.
func leafValue(v jmx.Value) (any, bool) {
	switch t := v.(type) {
	case nil, jmx.Null:
		return nil, false
	case jmx.Scalar:
		if t.V == nil {
			return nil, false
		}
		return scalarValue(t.V), true
	default:
		return t.String(), true
	}
}

func scalarValue(v any) any {
	switch t := v.(type) {
	case string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(v)
	}
}
