package query

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/jmxtrans/jmxtrans-sub000/internal/jmx"
	"github.com/jmxtrans/jmxtrans-sub000/internal/naming"
)

// Builder collects query settings. Build validates them and freezes the Query.
type Builder struct {
	obj                  string
	attr                 []string
	typeNames            []string
	resultAlias          string
	useObjectDomainAsKey bool
	allowDottedKeys      bool
	useAllTypeNames      bool
	notifications        bool
	outputWriters        []OutputWriter
	logger               *zap.SugaredLogger
}

func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) SetObj(obj string) *Builder {
	b.obj = obj
	return b
}

func (b *Builder) AddAttr(attr ...string) *Builder {
	b.attr = append(b.attr, attr...)
	return b
}

// AddTypeNames appends type-name keys; duplicates keep their first position.
func (b *Builder) AddTypeNames(typeNames ...string) *Builder {
	for _, tn := range typeNames {
		if !contains(b.typeNames, tn) {
			b.typeNames = append(b.typeNames, tn)
		}
	}
	return b
}

func (b *Builder) SetResultAlias(alias string) *Builder {
	b.resultAlias = alias
	return b
}

func (b *Builder) SetUseObjectDomainAsKey(v bool) *Builder {
	b.useObjectDomainAsKey = v
	return b
}

func (b *Builder) SetAllowDottedKeys(v bool) *Builder {
	b.allowDottedKeys = v
	return b
}

func (b *Builder) SetUseAllTypeNames(v bool) *Builder {
	b.useAllTypeNames = v
	return b
}

func (b *Builder) SetNotifications(v bool) *Builder {
	b.notifications = v
	return b
}

func (b *Builder) AddOutputWriters(writers ...OutputWriter) *Builder {
	b.outputWriters = append(b.outputWriters, writers...)
	return b
}

func (b *Builder) SetLogger(logger *zap.SugaredLogger) *Builder {
	b.logger = logger
	return b
}

// Build returns the Query, or an error wrapping ErrMalformedObjectName.
func (b *Builder) Build() (*Query, error) {
	obj, err := jmx.ParseObjectName(b.obj)
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	logger := b.logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Query{
		obj:                  obj,
		attr:                 append([]string(nil), b.attr...),
		typeNames:            append([]string(nil), b.typeNames...),
		resultAlias:          b.resultAlias,
		useObjectDomainAsKey: b.useObjectDomainAsKey,
		allowDottedKeys:      b.allowDottedKeys,
		useAllTypeNames:      b.useAllTypeNames,
		notifications:        b.notifications,
		outputWriters:        append([]OutputWriter(nil), b.outputWriters...),
		typeNameBuilder:      naming.NewTypeNameBuilder(b.typeNames, b.useAllTypeNames, b.allowDottedKeys),
		logger:               logger,
	}, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
