// Package parser decodes raw object bytes into format-agnostic rows.
//
// Parsing is pure and fully materialized: the whole buffer is decoded before
// Parse returns, and one malformed record fails the whole buffer.
package parser

import (
	"path"
	"strings"

	"github.com/ajitpratap0/storage-mixpanel/pkg/compression"
	"github.com/ajitpratap0/storage-mixpanel/pkg/errors"
	"github.com/ajitpratap0/storage-mixpanel/pkg/models"
)

// Format identifies a container format.
type Format string

const (
	NDJSON Format = "ndjson"
	JSON   Format = "json"
	CSV    Format = "csv"
	TSV    Format = "tsv"
	Avro   Format = "avro"
)

// Auto defers format selection to the object name.
const Auto = "auto"

var aliases = map[string]Format{
	"ndjson": NDJSON,
	"jsonl":  NDJSON,
	"json":   JSON,
	"csv":    CSV,
	"tsv":    TSV,
	"avro":   Avro,
}

// Resolve picks the format for an object. An explicit format wins; an
// empty or "auto" format falls back to the name's extension after any
// compression suffix is removed.
func Resolve(format, nameHint string) (Format, error) {
	f := strings.ToLower(strings.TrimSpace(format))
	if f != "" && f != Auto {
		if resolved, ok := aliases[f]; ok {
			return resolved, nil
		}
		return "", unsupported(format, nameHint)
	}

	_, base := compression.Detect(nameHint)
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(base)), ".")
	if resolved, ok := aliases[ext]; ok {
		return resolved, nil
	}
	if ext == "" {
		return "", unsupported(format, nameHint)
	}
	return "", unsupported(ext, nameHint)
}

// Parse decodes raw into rows using the resolved format.
func Parse(format string, raw []byte, nameHint string) ([]models.Row, error) {
	f, err := Resolve(format, nameHint)
	if err != nil {
		return nil, err
	}
	return ParseFormat(f, raw)
}

// ParseFormat decodes raw with an already resolved format.
func ParseFormat(f Format, raw []byte) ([]models.Row, error) {
	switch f {
	case NDJSON:
		return parseNDJSON(raw)
	case JSON:
		return parseJSON(raw)
	case CSV:
		return parseDelimited(raw, ',')
	case TSV:
		return parseDelimited(raw, '\t')
	case Avro:
		return parseAvro(raw)
	default:
		return nil, unsupported(string(f), "")
	}
}

func unsupported(value, name string) error {
	e := errors.Newf(errors.ErrorTypeUnsupportedFormat, "unsupported format %q", value).
		WithDetail("format", value)
	if name != "" {
		e = e.WithDetail("object", name)
	}
	return e
}
