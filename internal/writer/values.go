package writer

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jmxtrans/jmxtrans-sub000/internal/config"
	internalerrors "github.com/jmxtrans/jmxtrans-sub000/internal/errors"
	"github.com/jmxtrans/jmxtrans-sub000/internal/naming"
	"github.com/jmxtrans/jmxtrans-sub000/internal/query"
	"github.com/jmxtrans/jmxtrans-sub000/internal/result"
)

const defaultWriteTimeout = 10 * time.Second

func defaultTimeout(cfg config.WriterConfig) time.Duration {
	if t := cfg.Timeout(); t > 0 {
		return t
	}
	return defaultWriteTimeout
}

// ToNumber converts ints, uints, floats and numeric strings to float64. Booleans
// convert to 1 or 0 only when boolAsNumber is set.
func ToNumber(v any, boolAsNumber bool) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int8:
		return float64(t), true
	case int16:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint:
		return float64(t), true
	case uint8:
		return float64(t), true
	case uint16:
		return float64(t), true
	case uint32:
		return float64(t), true
	case uint64:
		return float64(t), true
	case float32:
		return float64(t), true
	case float64:
		return t, true
	case bool:
		if !boolAsNumber {
			return 0, false
		}
		if t {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// FormatNumber renders a numeric value the way line protocols expect: integers
// without a fraction, floats in their shortest form.
func FormatNumber(v any, boolAsNumber bool) (string, bool) {
	switch t := v.(type) {
	case int, int8, int16, int32, int64:
		f, _ := ToNumber(t, false)
		return strconv.FormatInt(int64(f), 10), true
	case uint, uint8, uint16, uint32:
		f, _ := ToNumber(t, false)
		return strconv.FormatUint(uint64(f), 10), true
	case uint64:
		return strconv.FormatUint(t, 10), true
	}
	f, ok := ToNumber(v, boolAsNumber)
	if !ok {
		return "", false
	}
	return strconv.FormatFloat(f, 'f', -1, 64), true
}

// sample is one leaf value with its key.
type sample struct {
	Key       string
	Attribute string
	ValueKey  string
	Value     any
	Epoch     int64
	Result    result.Result
}

// keyer builds metric keys with a writer's root prefix and type names.
type keyer struct {
	rootPrefix string
	typeNames  []string
}

func newKeyer(cfg config.WriterConfig) keyer {
	return keyer{rootPrefix: cfg.RootPrefix, typeNames: cfg.TypeNames}
}

func (k keyer) names(q *query.Query) []string {
	if len(k.typeNames) > 0 {
		return k.typeNames
	}
	return q.TypeNames()
}

// validate rejects queries whose wildcard keys are left out of the metric key, since
// every matching instance would then write to the same key.
func (k keyer) validate(q *query.Query) error {
	names := k.names(q)
	for _, key := range q.ObjectName().PatternKeys() {
		if !q.KeepsTypeName(names, key) {
			return fmt.Errorf("%w: wildcard key %q of %s is missing from the type names, its instances would share metric keys",
				internalerrors.ErrInvalidWriterConfig, key, q.ObjectName())
		}
	}
	return nil
}

func (k keyer) key(endpoint naming.Labeler, q *query.Query, r result.Result, valueKey string) string {
	return naming.KeyString(endpoint, q, r, valueKey, k.names(q), k.rootPrefix)
}

func (k keyer) samples(endpoint naming.Labeler, q *query.Query, results []result.Result) []sample {
	var out []sample
	for _, r := range results {
		for _, e := range r.Values() {
			out = append(out, sample{
				Key:       k.key(endpoint, q, r, e.Key),
				Attribute: r.AttributeName(),
				ValueKey:  e.Key,
				Value:     e.Value,
				Epoch:     r.Epoch(),
				Result:    r,
			})
		}
	}
	return out
}
