package writer

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jmxtrans/jmxtrans-sub000/internal/config"
	internalerrors "github.com/jmxtrans/jmxtrans-sub000/internal/errors"
	"github.com/jmxtrans/jmxtrans-sub000/internal/query"
	"github.com/jmxtrans/jmxtrans-sub000/internal/result"
)

const defaultDelimiter = "\t"

// KeyOut appends "key<delim>value<delim>epochMillis" lines to a file shared through the
// registry.
type KeyOut struct {
	keyer
	path      string
	delimiter string
	files     *FileRegistry
	sink      zapcore.WriteSyncer
	logger    *zap.SugaredLogger
}

func NewKeyOut(cfg config.WriterConfig, files *FileRegistry, logger *zap.SugaredLogger) (*KeyOut, error) {
	if cfg.OutputFile == "" {
		return nil, fmt.Errorf("%w: keyout needs an outputFile", internalerrors.ErrInvalidWriterConfig)
	}
	delimiter := cfg.Delimiter
	if delimiter == "" {
		delimiter = defaultDelimiter
	}
	return &KeyOut{
		keyer:     newKeyer(cfg),
		path:      cfg.OutputFile,
		delimiter: delimiter,
		files:     files,
		logger:    logger,
	}, nil
}

func (k *KeyOut) Start() error {
	sink, err := k.files.Acquire(k.path)
	if err != nil {
		return err
	}
	k.sink = sink
	return nil
}

func (k *KeyOut) ValidateSetup(_ query.Endpoint, q *query.Query) error { return k.validate(q) }

func (k *KeyOut) DoWrite(ctx context.Context, endpoint query.Endpoint, q *query.Query, results []result.Result) error {
	if k.sink == nil {
		return fmt.Errorf("keyout %s: not started", k.path)
	}
	var b strings.Builder
	for _, s := range k.samples(endpoint, q, results) {
		b.WriteString(s.Key)
		b.WriteString(k.delimiter)
		b.WriteString(fmt.Sprint(s.Value))
		b.WriteString(k.delimiter)
		fmt.Fprintf(&b, "%d\n", s.Epoch)
	}
	if b.Len() == 0 {
		return nil
	}
	if _, err := k.sink.Write([]byte(b.String())); err != nil {
		return fmt.Errorf("keyout %s: %w", k.path, err)
	}
	return nil
}

func (k *KeyOut) Close() error {
	if k.sink == nil {
		return nil
	}
	k.sink = nil
	return k.files.Release(k.path)
}
