// Package models defines the record types that flow through the pipeline.
package models

// Row is a parsed source record: field name to scalar or nested value.
// It is format agnostic and lives only until the transformer consumes it.
type Row map[string]interface{}

// Record is a destination-shaped record. Once pushed onto the pipeline
// channel the upload stage owns it.
type Record map[string]interface{}

// Clone returns a shallow copy of the row.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Get returns the value of a column. An empty column name is never present.
func (r Row) Get(col string) (interface{}, bool) {
	if col == "" {
		return nil, false
	}
	v, ok := r[col]
	return v, ok
}

// Take removes a column from the row and returns its value.
func (r Row) Take(col string) (interface{}, bool) {
	v, ok := r.Get(col)
	if ok {
		delete(r, col)
	}
	return v, ok
}

// Keys returns the record's keys in no particular order.
func (r Record) Keys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	return keys
}
