package parser

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"sort"

	gojson "github.com/goccy/go-json"
	"github.com/linkedin/goavro/v2"
	"github.com/spf13/cast"

	"github.com/ajitpratap0/storage-mixpanel/pkg/errors"
	"github.com/ajitpratap0/storage-mixpanel/pkg/models"
)

// Encode writes rows in the given format. header fixes the column order for
// delimited and avro output; when nil the sorted union of keys is used.
func Encode(f Format, rows []models.Row, header []string) ([]byte, error) {
	switch f {
	case NDJSON:
		var buf bytes.Buffer
		for _, row := range rows {
			b, err := gojson.Marshal(row)
			if err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to encode ndjson row")
			}
			buf.Write(b)
			buf.WriteByte('\n')
		}
		return buf.Bytes(), nil
	case JSON:
		b, err := gojson.Marshal(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to encode json document")
		}
		return b, nil
	case CSV:
		return encodeDelimited(rows, header, ',')
	case TSV:
		return encodeDelimited(rows, header, '\t')
	case Avro:
		return encodeAvro(rows, header)
	default:
		return nil, unsupported(string(f), "")
	}
}

// Columns returns the sorted union of keys across rows.
func Columns(rows []models.Row) []string {
	seen := map[string]struct{}{}
	for _, row := range rows {
		for k := range row {
			seen[k] = struct{}{}
		}
	}
	cols := make([]string, 0, len(seen))
	for k := range seen {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

func encodeDelimited(rows []models.Row, header []string, comma rune) ([]byte, error) {
	if header == nil {
		header = Columns(rows)
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = comma
	if err := w.Write(header); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to write header")
	}
	rec := make([]string, len(header))
	for _, row := range rows {
		for i, col := range header {
			s, err := cellString(row[col])
			if err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to encode cell").
					WithDetail("column", col)
			}
			rec[i] = s
		}
		if err := w.Write(rec); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to write row")
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to flush rows")
	}
	return buf.Bytes(), nil
}

// cellString renders scalars directly and nested values as JSON.
func cellString(v interface{}) (string, error) {
	switch v.(type) {
	case nil:
		return "", nil
	case map[string]interface{}, []interface{}, models.Row, models.Record:
		b, err := gojson.Marshal(v)
		return string(b), err
	default:
		return cast.ToStringE(v)
	}
}

func encodeAvro(rows []models.Row, header []string) ([]byte, error) {
	if header == nil {
		header = Columns(rows)
	}
	types := make([]string, len(header))
	fields := make([]map[string]interface{}, len(header))
	for i, col := range header {
		types[i] = avroType(rows, col)
		fields[i] = map[string]interface{}{
			"name":    col,
			"type":    []interface{}{"null", types[i]},
			"default": nil,
		}
	}
	schema, err := gojson.Marshal(map[string]interface{}{
		"type":   "record",
		"name":   "Row",
		"fields": fields,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to build avro schema")
	}

	var buf bytes.Buffer
	w, err := goavro.NewOCFWriter(goavro.OCFConfig{W: &buf, Schema: string(schema)})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to create avro writer")
	}

	data := make([]interface{}, 0, len(rows))
	for _, row := range rows {
		native := make(map[string]interface{}, len(header))
		for i, col := range header {
			v, ok := row[col]
			if !ok || v == nil {
				native[col] = nil
				continue
			}
			conv, err := avroValue(types[i], v)
			if err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to encode avro field").
					WithDetail("column", col)
			}
			native[col] = goavro.Union(types[i], conv)
		}
		data = append(data, native)
	}
	if err := w.Append(data); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to append avro rows")
	}
	return buf.Bytes(), nil
}

func avroType(rows []models.Row, col string) string {
	for _, row := range rows {
		switch row[col].(type) {
		case nil:
			continue
		case bool:
			return "boolean"
		case int, int32, int64:
			return "long"
		case float32, float64:
			return "double"
		default:
			return "string"
		}
	}
	return "string"
}

func avroValue(typ string, v interface{}) (interface{}, error) {
	switch typ {
	case "boolean":
		return cast.ToBoolE(v)
	case "long":
		return cast.ToInt64E(v)
	case "double":
		return cast.ToFloat64E(v)
	default:
		if s, ok := v.(string); ok {
			return s, nil
		}
		s, err := cellString(v)
		if err != nil {
			return nil, fmt.Errorf("render %T: %w", v, err)
		}
		return s, nil
	}
}
