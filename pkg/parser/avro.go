package parser

import (
	"bytes"

	"github.com/linkedin/goavro/v2"

	"github.com/ajitpratap0/storage-mixpanel/pkg/errors"
	"github.com/ajitpratap0/storage-mixpanel/pkg/models"
)

func parseAvro(raw []byte) ([]models.Row, error) {
	ocf, err := goavro.NewOCFReader(bytes.NewReader(raw))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to open avro container")
	}

	rows := make([]models.Row, 0)
	for ocf.Scan() {
		datum, err := ocf.Read()
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to read avro datum").
				WithDetail("index", len(rows))
		}
		rec, ok := datum.(map[string]interface{})
		if !ok {
			return nil, errors.New(errors.ErrorTypeData, "avro datum is not a record").
				WithDetail("index", len(rows))
		}
		for k, v := range rec {
			rec[k] = unwrapUnion(v)
		}
		rows = append(rows, models.Row(rec))
	}
	if err := ocf.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to scan avro container")
	}
	return rows, nil
}

// unwrapUnion flattens goavro's {"type": value} union encoding. Integer
// types widen to int64 to match the JSON decoders.
func unwrapUnion(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		if len(t) == 1 {
			for name, inner := range t {
				if avroPrimitive(name) {
					return unwrapUnion(inner)
				}
			}
		}
		for k, inner := range t {
			t[k] = unwrapUnion(inner)
		}
		return t
	case []interface{}:
		for i, inner := range t {
			t[i] = unwrapUnion(inner)
		}
		return t
	case int32:
		return int64(t)
	case float32:
		return float64(t)
	default:
		return v
	}
}

func avroPrimitive(name string) bool {
	switch name {
	case "null", "boolean", "int", "long", "float", "double", "bytes", "string":
		return true
	}
	return false
}
