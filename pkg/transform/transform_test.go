package transform

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/storage-mixpanel/pkg/config"
	"github.com/ajitpratap0/storage-mixpanel/pkg/models"
)

func jobConfig(recordType string) *config.JobConfig {
	cfg := config.Default()
	cfg.Path = "gs://bucket/data.ndjson"
	cfg.Mixpanel.Type = recordType
	cfg.Mixpanel.Token = "tok"
	cfg.Mixpanel.GroupKey = "company_id"
	cfg.ApplyDefaults()
	return cfg
}

func TestEventTime(t *testing.T) {
	tests := []struct {
		name string
		in   interface{}
		want interface{}
	}{
		{"int64 passes through", int64(1700000000000), int64(1700000000000)},
		{"int widens", 1700000000, int64(1700000000)},
		{"integral float becomes int", float64(1700000000000), int64(1700000000000)},
		{"fractional float kept", 1.5, 1.5},
		{"numeric string becomes number", "1700000000000", int64(1700000000000)},
		{"rfc3339 string", "2024-01-02T03:04:05Z", int64(1704164645000)},
		{"date only", "2024-01-02", int64(1704153600000)},
		{"time value", time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), int64(1704164645000)},
		{"garbage passes through", "not a date", "not a date"},
		{"nil passes through", nil, nil},
		{"bool passes through", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EventTime(tt.in))
		})
	}
}

func TestFormatTime(t *testing.T) {
	tests := []struct {
		name string
		in   interface{}
		want interface{}
	}{
		{"epoch ms", int64(1704164645000), "2024-01-02T03:04:05"},
		{"epoch ms string", "1704164645000", "2024-01-02T03:04:05"},
		{"rfc3339 with offset", "2024-01-02T05:04:05+02:00", "2024-01-02T03:04:05"},
		{"date only", "2024-01-02", "2024-01-02T00:00:00"},
		{"garbage passes through", "soon", "soon"},
		{"empty string passes through", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatTime(tt.in))
		})
	}
}

func TestEventShape(t *testing.T) {
	cfg := jobConfig(config.TypeEvent)
	cfg.Mappings = config.Mappings{
		DistinctIDCol:      "user_id",
		EventNameCol:       "action",
		TimeCol:            "ts",
		InsertIDCol:        "uuid",
		AdditionalTimeCols: []string{"signup"},
	}
	cfg.Tags = map[string]interface{}{"source": "gcs", "plan": "tag-plan"}

	fn := New(cfg, []string{"last_seen"})
	out := fn(models.Row{
		"user_id":   "u1",
		"action":    "login",
		"ts":        "1700000000000",
		"uuid":      "abc",
		"signup":    "2024-01-02",
		"last_seen": int64(1704164645000),
		"plan":      "pro",
		"city":      "Oslo",
	})

	assert.Equal(t, "login", out["event"])
	props, ok := out["properties"].(models.Record)
	require.True(t, ok)
	assert.Equal(t, "u1", props["distinct_id"])
	assert.Equal(t, int64(1700000000000), props["time"])
	assert.Equal(t, "abc", props["$insert_id"])
	assert.Equal(t, "2024-01-02T00:00:00", props["signup"])
	assert.Equal(t, "2024-01-02T03:04:05", props["last_seen"])
	assert.Equal(t, "pro", props["plan"], "record fields win over tags")
	assert.Equal(t, "gcs", props["source"])
	assert.Equal(t, "Oslo", props["city"])
	assert.NotContains(t, props, "user_id")
	assert.NotContains(t, props, "action")
}

func TestEventDefaultsAndAbsentIdentity(t *testing.T) {
	fn := New(jobConfig(config.TypeEvent), nil)

	out := fn(models.Row{"event": "view", "time": int64(1700000000), "page": "/"})
	props := out["properties"].(models.Record)
	assert.Equal(t, "view", out["event"])
	assert.Equal(t, int64(1700000000), props["time"])
	assert.NotContains(t, props, "distinct_id")
	assert.NotContains(t, props, "$insert_id")
}

func TestEventAlreadyShaped(t *testing.T) {
	fn := New(jobConfig(config.TypeEvent), nil)

	out := fn(models.Row{
		"event":      "view",
		"properties": map[string]interface{}{"distinct_id": "u9", "time": "1700000000000", "x": 1},
	})
	props := out["properties"].(models.Record)
	assert.Equal(t, "u9", props["distinct_id"])
	assert.Equal(t, int64(1700000000000), props["time"])
	assert.Equal(t, 1, props["x"])
}

func TestUnknownFieldsPassThrough(t *testing.T) {
	nested := map[string]interface{}{"a": []interface{}{1, "b"}}
	row := models.Row{"distinct_id": "u1", "custom": nested, "n": 3.25, "flag": false, "empty": nil}

	for _, recordType := range []string{config.TypeEvent, config.TypeUser, config.TypeGroup, config.TypeTable} {
		t.Run(recordType, func(t *testing.T) {
			out := New(jobConfig(recordType), nil)(row)

			var fields models.Record
			switch recordType {
			case config.TypeEvent:
				fields = out["properties"].(models.Record)
			case config.TypeUser, config.TypeGroup:
				fields = out["$set"].(models.Record)
			default:
				fields = out
			}
			assert.Equal(t, nested, fields["custom"])
			assert.Equal(t, 3.25, fields["n"])
			assert.Equal(t, false, fields["flag"])
			assert.Contains(t, fields, "empty")
		})
	}
	assert.Equal(t, "u1", row["distinct_id"], "input row is not mutated")
}

func TestUserShape(t *testing.T) {
	cfg := jobConfig(config.TypeUser)
	cfg.Mappings.DistinctIDCol = "id"
	cfg.Mappings.NameCol = "full_name"
	cfg.Mappings.EmailCol = "mail"
	cfg.Mappings.CreatedCol = "created_at"
	cfg.Mappings.IPCol = "ip"
	cfg.Mappings.ProfileOperation = "$set_once"

	out := New(cfg, nil)(models.Row{
		"id":         "u1",
		"full_name":  "Ada",
		"mail":       "ada@example.com",
		"created_at": "2024-01-02T03:04:05Z",
		"ip":         "1.2.3.4",
		"plan":       "pro",
	})

	assert.Equal(t, "tok", out["$token"])
	assert.Equal(t, "u1", out["$distinct_id"])
	assert.Equal(t, "1.2.3.4", out["$ip"])
	set := out["$set_once"].(models.Record)
	assert.Equal(t, "Ada", set["$name"])
	assert.Equal(t, "ada@example.com", set["$email"])
	assert.Equal(t, "2024-01-02T03:04:05", set["$created"])
	assert.Equal(t, "pro", set["plan"])
	assert.NotContains(t, set, "full_name")
}

func TestGroupShape(t *testing.T) {
	cfg := jobConfig(config.TypeGroup)
	cfg.Mappings.DistinctIDCol = "company"

	out := New(cfg, nil)(models.Row{"company": "acme", "employees": int64(40)})

	assert.Equal(t, "company_id", out["$group_key"])
	assert.Equal(t, "acme", out["$group_id"])
	assert.Equal(t, int64(40), out["$set"].(models.Record)["employees"])
}

func TestTableShape(t *testing.T) {
	cfg := jobConfig(config.TypeTable)
	cfg.Tags = map[string]interface{}{"env": "prod"}
	cfg.Mappings.AdditionalTimeCols = []string{"updated"}

	out := New(cfg, nil)(models.Row{"sku": "A1", "updated": int64(0)})
	assert.Equal(t, models.Record{"sku": "A1", "updated": "1970-01-01T00:00:00", "env": "prod"}, out)
}

func TestInjectedTimeTransforms(t *testing.T) {
	cfg := jobConfig(config.TypeEvent)
	cfg.Mappings.AdditionalTimeCols = []string{"other"}

	fn := New(cfg, nil,
		WithEventTimeTransform(func(interface{}) interface{} { return "primary" }),
		WithTimeTransform(func(interface{}) interface{} { return "secondary" }),
	)
	props := fn(models.Row{"time": 1, "other": 2})["properties"].(models.Record)
	assert.Equal(t, "primary", props["time"])
	assert.Equal(t, "secondary", props["other"])
}

func TestMalformedTimeDoesNotPanic(t *testing.T) {
	fn := New(jobConfig(config.TypeEvent), []string{"when"})
	assert.NotPanics(t, func() {
		out := fn(models.Row{"time": map[string]interface{}{"x": 1}, "when": []interface{}{}})
		props := out["properties"].(models.Record)
		assert.Equal(t, map[string]interface{}{"x": 1}, props["time"])
	})
}
