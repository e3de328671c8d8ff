package writer

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/jmxtrans/jmxtrans-sub000/internal/config"
	internalerrors "github.com/jmxtrans/jmxtrans-sub000/internal/errors"
	"github.com/jmxtrans/jmxtrans-sub000/internal/jmx"
	"github.com/jmxtrans/jmxtrans-sub000/internal/naming"
	"github.com/jmxtrans/jmxtrans-sub000/internal/query"
	"github.com/jmxtrans/jmxtrans-sub000/internal/result"
)

const defaultOpenTSDBPort = "4242"

// OpenTSDB writes telnet style "put" lines. The metric name leaves out the server and
// the type names, which become tags instead.
type OpenTSDB struct {
	keyer
	boolAsNumber bool
	tags         map[string]string
	conn         *lineConn
	logger       *zap.SugaredLogger
}

func NewOpenTSDB(cfg config.WriterConfig, logger *zap.SugaredLogger) (*OpenTSDB, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("%w: opentsdb needs a host", internalerrors.ErrInvalidWriterConfig)
	}
	port := cfg.Port
	if port == "" {
		port = defaultOpenTSDBPort
	}
	return &OpenTSDB{
		keyer:        newKeyer(cfg),
		boolAsNumber: cfg.BooleanAsNumber,
		tags:         cfg.Tags,
		conn:         newLineConn("tcp", cfg.Host, port, defaultTimeout(cfg)),
		logger:       logger,
	}, nil
}

func (o *OpenTSDB) Start() error { return nil }

// ValidateSetup checks the wildcard keys against the tag names, which stand in for the
// type-name segment of the metric.
func (o *OpenTSDB) ValidateSetup(_ query.Endpoint, q *query.Query) error {
	names := o.names(q)
	for _, key := range q.ObjectName().PatternKeys() {
		if len(names) > 0 && !slices.Contains(names, key) {
			return fmt.Errorf("%w: wildcard key %q of %s is not a tag, its instances would share series",
				internalerrors.ErrInvalidWriterConfig, key, q.ObjectName())
		}
	}
	return nil
}

func (o *OpenTSDB) DoWrite(ctx context.Context, endpoint query.Endpoint, q *query.Query, results []result.Result) error {
	var lines []string
	for _, r := range results {
		typeTags := o.typeTags(q, r)
		for _, e := range r.Values() {
			value, ok := FormatNumber(e.Value, o.boolAsNumber)
			if !ok {
				o.logger.Debugw("skipping non-numeric value", "attribute", r.AttributeName(), "value", e.Value)
				continue
			}
			metric := naming.KeyString(emptyLabel{}, noTypeNames{q}, r, "", nil, o.rootPrefix)
			tags := map[string]string{"host": endpoint.Label()}
			for k, v := range typeTags {
				tags[k] = v
			}
			for k, v := range o.tags {
				tags[k] = v
			}
			if e.Key != r.AttributeName() {
				tags["type"] = naming.CleanupStr(e.Key, true)
			}
			lines = append(lines, fmt.Sprintf("put %s %d %s %s", metric, r.Epoch()/1000, value, formatTags(tags)))
		}
	}
	return o.conn.send(lines)
}

func (o *OpenTSDB) typeTags(q *query.Query, r result.Result) map[string]string {
	tags := make(map[string]string)
	names := o.names(q)
	for _, p := range naming.ParseKeyPropertyList(r.TypeName()) {
		if len(names) > 0 && !slices.Contains(names, p.Key) {
			continue
		}
		tags[p.Key] = naming.CleanupStr(jmx.Unquote(p.Value), true)
	}
	return tags
}

func formatTags(tags map[string]string) string {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		if tags[k] == "" {
			continue
		}
		parts = append(parts, k+"="+tags[k])
	}
	return strings.Join(parts, " ")
}

func (o *OpenTSDB) Close() error { return o.conn.close() }

type emptyLabel struct{}

func (emptyLabel) Label() string { return "" }

// noTypeNames drops the type-name segment from a key.
type noTypeNames struct {
	naming.TypeNamer
}

func (noTypeNames) MakeTypeNameValueString([]string, string) string { return "" }
