package transform

import (
	"math"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// ISOLayout is the layout produced for secondary time fields.
const ISOLayout = "2006-01-02T15:04:05"

// TimeFunc converts one timestamp value. Implementations must not panic on
// bad input; unparseable values are returned unchanged.
type TimeFunc func(v interface{}) interface{}

// EventTime normalizes the primary event time to a number. Numbers and
// numeric strings pass through as numbers; anything else is parsed as a
// calendar timestamp and returned as epoch milliseconds.
func EventTime(v interface{}) interface{} {
	if n, ok := numeric(v); ok {
		return n
	}
	if t, ok := calendar(v); ok {
		return t.UnixMilli()
	}
	return v
}

// FormatTime renders a secondary time field as an ISO-like UTC string.
// Numbers are read as epoch milliseconds.
//
// This intentionally differs from EventTime, which yields epoch ms.
func FormatTime(v interface{}) interface{} {
	if n, ok := numeric(v); ok {
		ms, err := cast.ToInt64E(n)
		if err != nil {
			return v
		}
		return time.UnixMilli(ms).UTC().Format(ISOLayout)
	}
	if t, ok := calendar(v); ok {
		return t.UTC().Format(ISOLayout)
	}
	return v
}

// numeric returns v as int64 when integral and float64 otherwise.
func numeric(v interface{}) (interface{}, bool) {
	switch t := v.(type) {
	case nil, bool, time.Time:
		return nil, false
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return nil, false
		}
		f, err := cast.ToFloat64E(s)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, false
		}
		return integral(f), true
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		i, err := cast.ToInt64E(t)
		if err != nil {
			return nil, false
		}
		return i, true
	case float32, float64:
		f, err := cast.ToFloat64E(t)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, false
		}
		return integral(f), true
	default:
		return nil, false
	}
}

func integral(f float64) interface{} {
	if f == math.Trunc(f) && math.Abs(f) < 1<<62 {
		return int64(f)
	}
	return f
}

func calendar(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, !t.IsZero()
	case string:
		parsed, err := cast.ToTimeE(strings.TrimSpace(t))
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	default:
		return time.Time{}, false
	}
}
