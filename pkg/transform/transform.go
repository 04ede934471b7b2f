// Package transform maps parsed source rows into Mixpanel-shaped records.
package transform

import (
	"github.com/ajitpratap0/storage-mixpanel/pkg/config"
	"github.com/ajitpratap0/storage-mixpanel/pkg/models"
)

// Func transforms one parsed row. It never fails: bad field values are
// passed through for the destination to judge.
type Func func(models.Row) models.Record

// Option customizes New.
type Option func(*transformer)

// WithEventTimeTransform replaces the primary time conversion.
func WithEventTimeTransform(fn TimeFunc) Option {
	return func(t *transformer) { t.eventTime = fn }
}

// WithTimeTransform replaces the secondary time conversion.
func WithTimeTransform(fn TimeFunc) Option {
	return func(t *transformer) { t.formatTime = fn }
}

// Conventional column names used when a mapping is left empty.
const (
	defaultDistinctIDCol = "distinct_id"
	defaultEventNameCol  = "event"
	defaultTimeCol       = "time"
)

type transformer struct {
	recordType string
	token      string
	groupKey   string
	operation  string
	mappings   config.Mappings
	tags       map[string]interface{}
	timeFields map[string]struct{}

	eventTime  TimeFunc
	formatTime TimeFunc
}

// New builds the transform closure for a job. extraTimeFields are formatted
// with the secondary time transform in addition to the mapped
// additional_time_cols.
func New(cfg *config.JobConfig, extraTimeFields []string, opts ...Option) Func {
	t := &transformer{
		recordType: cfg.Mixpanel.Type,
		token:      cfg.Mixpanel.Token,
		groupKey:   cfg.Mixpanel.GroupKey,
		operation:  cfg.Mappings.ProfileOperation,
		mappings:   cfg.Mappings,
		tags:       cfg.Tags,
		timeFields: map[string]struct{}{},
		eventTime:  EventTime,
		formatTime: FormatTime,
	}
	if t.operation == "" {
		t.operation = "$set"
	}
	if t.mappings.DistinctIDCol == "" {
		t.mappings.DistinctIDCol = defaultDistinctIDCol
	}
	if t.mappings.EventNameCol == "" {
		t.mappings.EventNameCol = defaultEventNameCol
	}
	if t.mappings.TimeCol == "" {
		t.mappings.TimeCol = defaultTimeCol
	}
	for _, f := range cfg.Mappings.AdditionalTimeCols {
		t.timeFields[f] = struct{}{}
	}
	for _, f := range extraTimeFields {
		t.timeFields[f] = struct{}{}
	}
	for _, opt := range opts {
		opt(t)
	}

	switch t.recordType {
	case config.TypeUser:
		return t.user
	case config.TypeGroup:
		return t.group
	case config.TypeTable:
		return t.table
	default:
		return t.event
	}
}

func (t *transformer) event(row models.Row) models.Record {
	row = row.Clone()
	// already-shaped {"event", "properties"} rows are flattened first
	if props, ok := row["properties"].(map[string]interface{}); ok {
		delete(row, "properties")
		for k, v := range props {
			if _, exists := row[k]; !exists {
				row[k] = v
			}
		}
	}

	name, hasName := row.Take(t.mappings.EventNameCol)
	distinctID, hasID := row.Take(t.mappings.DistinctIDCol)
	ts, hasTime := row.Take(t.mappings.TimeCol)
	insertID, hasInsert := row.Take(t.mappings.InsertIDCol)

	props := t.rest(row)
	if hasID {
		props["distinct_id"] = distinctID
	}
	if hasTime {
		props["time"] = t.eventTime(ts)
	}
	if hasInsert {
		props["$insert_id"] = insertID
	}

	out := models.Record{"properties": props}
	if hasName {
		out["event"] = name
	}
	return out
}

func (t *transformer) user(row models.Row) models.Record {
	row = row.Clone()
	distinctID, hasID := row.Take(t.mappings.DistinctIDCol)
	ip, hasIP := row.Take(t.mappings.IPCol)
	set := t.profile(row)

	out := models.Record{"$token": t.token, t.operation: set}
	if hasID {
		out["$distinct_id"] = distinctID
	}
	if hasIP {
		out["$ip"] = ip
	}
	return out
}

func (t *transformer) group(row models.Row) models.Record {
	row = row.Clone()
	groupID, hasID := row.Take(t.mappings.DistinctIDCol)
	set := t.profile(row)

	out := models.Record{
		"$token":     t.token,
		"$group_key": t.groupKey,
		t.operation:  set,
	}
	if hasID {
		out["$group_id"] = groupID
	}
	return out
}

func (t *transformer) table(row models.Row) models.Record {
	return t.rest(row.Clone())
}

// profile pulls the reserved profile columns out of row and returns the
// operation payload.
func (t *transformer) profile(row models.Row) models.Record {
	reserved := []struct {
		col, key string
		time     bool
	}{
		{t.mappings.NameCol, "$name", false},
		{t.mappings.EmailCol, "$email", false},
		{t.mappings.AvatarCol, "$avatar", false},
		{t.mappings.CreatedCol, "$created", true},
		{t.mappings.PhoneCol, "$phone", false},
		{t.mappings.LatitudeCol, "$latitude", false},
		{t.mappings.LongitudeCol, "$longitude", false},
	}
	values := make(map[string]interface{}, len(reserved))
	for _, r := range reserved {
		if v, ok := row.Take(r.col); ok {
			if r.time {
				v = t.formatTime(v)
			}
			values[r.key] = v
		}
	}

	set := t.rest(row)
	for k, v := range values {
		set[k] = v
	}
	return set
}

// rest merges tags with the remaining row fields, record fields winning,
// and formats secondary time fields.
func (t *transformer) rest(row models.Row) models.Record {
	out := make(models.Record, len(row)+len(t.tags))
	for k, v := range t.tags {
		out[k] = v
	}
	for k, v := range row {
		if _, ok := t.timeFields[k]; ok {
			v = t.formatTime(v)
		}
		out[k] = v
	}
	return out
}
