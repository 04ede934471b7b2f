package parser

import (
	"bytes"

	gojson "github.com/goccy/go-json"

	"github.com/ajitpratap0/storage-mixpanel/pkg/errors"
	"github.com/ajitpratap0/storage-mixpanel/pkg/models"
)

func parseNDJSON(raw []byte) ([]models.Row, error) {
	lines := bytes.Split(raw, []byte("\n"))
	rows := make([]models.Row, 0, len(lines))
	for i, line := range lines {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var v interface{}
		if err := decode(line, &v); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to parse ndjson line").
				WithDetail("line", i+1)
		}
		row, ok := v.(map[string]interface{})
		if !ok {
			return nil, errors.New(errors.ErrorTypeData, "ndjson line is not an object").
				WithDetail("line", i+1)
		}
		rows = append(rows, normalizeRow(row))
	}
	return rows, nil
}

func parseJSON(raw []byte) ([]models.Row, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return []models.Row{}, nil
	}

	var v interface{}
	if err := decode(trimmed, &v); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to parse json document")
	}

	switch doc := v.(type) {
	case []interface{}:
		rows := make([]models.Row, 0, len(doc))
		for i, item := range doc {
			row, ok := item.(map[string]interface{})
			if !ok {
				return nil, errors.New(errors.ErrorTypeData, "json array element is not an object").
					WithDetail("index", i)
			}
			rows = append(rows, normalizeRow(row))
		}
		return rows, nil
	case map[string]interface{}:
		return []models.Row{normalizeRow(doc)}, nil
	default:
		return nil, errors.New(errors.ErrorTypeData, "json document must be an array of objects")
	}
}

func decode(data []byte, v interface{}) error {
	dec := gojson.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

// number is satisfied by json.Number from either decoder.
type number interface {
	Int64() (int64, error)
	Float64() (float64, error)
	String() string
}

// normalizeRow turns decoder numbers into int64 when integral and float64
// otherwise, so downstream code sees plain Go numbers.
func normalizeRow(m map[string]interface{}) models.Row {
	for k, v := range m {
		m[k] = normalizeValue(v)
	}
	return models.Row(m)
}

func normalizeValue(v interface{}) interface{} {
	switch t := v.(type) {
	case number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]interface{}:
		for k, inner := range t {
			t[k] = normalizeValue(inner)
		}
		return t
	case []interface{}:
		for i, inner := range t {
			t[i] = normalizeValue(inner)
		}
		return t
	default:
		return v
	}
}
