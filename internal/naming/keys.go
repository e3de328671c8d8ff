package naming

import (
	"regexp"
	"strings"

	"github.com/jmxtrans/jmxtrans-sub000/internal/result"
)

var (
	slashPattern    = regexp.MustCompile(`/`)
	dotSlashPattern = regexp.MustCompile(`[./]`)
	spacePattern    = regexp.MustCompile(`\s+`)
)

// CleanupStr makes s safe as a key segment. Slashes and whitespace runs become "_",
// dots too unless allowDotted, quotes are removed and a trailing "." or "_" is chomped.
func CleanupStr(s string, allowDotted bool) string {
	if s == "" {
		return s
	}
	pattern := dotSlashPattern
	if allowDotted {
		pattern = slashPattern
	}
	clean := pattern.ReplaceAllString(s, "_")
	clean = spacePattern.ReplaceAllString(clean, "_")
	clean = strings.ReplaceAll(clean, `"`, "")
	clean = strings.TrimSuffix(clean, ".")
	clean = strings.TrimSuffix(clean, "_")
	return clean
}

// Labeler is the part of an endpoint a key needs.
type Labeler interface {
	// Label returns the alias, or a sanitized host_port when no alias is set.
	Label() string
}

// TypeNamer is the part of a query a key needs.
type TypeNamer interface {
	MakeTypeNameValueString(typeNames []string, keyPropertyList string) string
	UseObjectDomainAsKey() bool
	AllowDottedKeys() bool
}

// KeyString builds the canonical metric key of one value of r:
//
//	[rootPrefix.]label.mbeanLabel.typeNameValue.attributeName[.valueKey]
//
// Empty segments are omitted.
func KeyString(endpoint Labeler, q TypeNamer, r result.Result, valueKey string, typeNames []string, rootPrefix string) string {
	dotted := q.AllowDottedKeys()

	segments := make([]string, 0, 5)
	segments = append(segments, rootPrefix, endpoint.Label(), mbeanLabel(q, r))
	segments = append(segments, CleanupStr(q.MakeTypeNameValueString(typeNames, r.TypeName()), dotted))
	segments = append(segments, CleanupStr(valueKeyString(r.AttributeName(), valueKey), dotted))

	var b strings.Builder
	for _, s := range segments {
		if s == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(s)
	}
	return b.String()
}

func mbeanLabel(q TypeNamer, r result.Result) string {
	dotted := q.AllowDottedKeys()
	switch {
	case r.KeyAlias() != "":
		return r.KeyAlias()
	case q.UseObjectDomainAsKey():
		return CleanupStr(r.ObjDomain(), dotted)
	case r.ClassName() != "":
		return CleanupStr(r.ClassName(), dotted)
	default:
		return CleanupStr(r.ObjDomain(), dotted)
	}
}

func valueKeyString(attributeName, valueKey string) string {
	switch {
	case valueKey == "":
		return attributeName
	case strings.HasPrefix(valueKey, attributeName):
		return valueKey
	default:
		return attributeName + "." + valueKey
	}
}
