// Package sink delivers transformed records to their destination.
//
// Streamable record types go through Send one batch at a time; lookup
// tables are replaced wholesale with a single Bulk call. Per-record
// rejections are reported in the BatchResult, while a returned error means
// the sink can no longer make progress.
package sink

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	gojson "github.com/goccy/go-json"

	"github.com/ajitpratap0/storage-mixpanel/pkg/models"
)

// ErrClosed is returned by a sink after Close.
var ErrClosed = stderrors.New("sink closed")

// Sink is a record destination.
type Sink interface {
	// BatchSize is the preferred number of records per Send.
	BatchSize() int
	// Send delivers one batch.
	Send(ctx context.Context, batch []models.Record) (*BatchResult, error)
	// Bulk delivers a complete dataset in one request.
	Bulk(ctx context.Context, rows []models.Record) (*BatchResult, error)
	// Close releases resources; later calls fail with ErrClosed.
	Close() error
}

// BatchResult is the outcome of one Send or Bulk call.
type BatchResult struct {
	Records  int               `json:"records"`
	Success  int               `json:"success"`
	Failed   int               `json:"failed"`
	Retries  int               `json:"retries"`
	Bytes    int               `json:"bytes"`
	Duration time.Duration     `json:"duration"`
	Response gojson.RawMessage `json:"response,omitempty"`
	Errors   []string          `json:"errors,omitempty"`
}

// Result aggregates batch outcomes for a job.
type Result struct {
	RecordType string              `json:"recordType"`
	Total      int                 `json:"total"`
	Success    int                 `json:"success"`
	Failed     int                 `json:"failed"`
	Batches    int                 `json:"batches"`
	Retries    int                 `json:"retries"`
	Bytes      int64               `json:"bytes"`
	Workers    int                 `json:"workers"`
	EPS        float64             `json:"eps"`
	RPS        float64             `json:"rps"`
	Duration   time.Duration       `json:"duration"`
	Responses  []gojson.RawMessage `json:"responses"`
	Errors     []string            `json:"errors"`

	mu sync.Mutex
}

// NewResult creates an empty result.
func NewResult(recordType string, workers int) *Result {
	return &Result{
		RecordType: recordType,
		Workers:    workers,
		Responses:  []gojson.RawMessage{},
		Errors:     []string{},
	}
}

// Add folds one batch into the result. It is safe for concurrent use.
func (r *Result) Add(b *BatchResult) {
	if b == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.Total += b.Records
	r.Success += b.Success
	r.Failed += b.Failed
	r.Retries += b.Retries
	r.Bytes += int64(b.Bytes)
	r.Batches++
	if len(b.Response) > 0 {
		r.Responses = append(r.Responses, b.Response)
	}
	r.Errors = append(r.Errors, b.Errors...)
}

// Finish stamps the elapsed time and throughput.
func (r *Result) Finish(elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Duration = elapsed
	if secs := elapsed.Seconds(); secs > 0 {
		r.EPS = float64(r.Success) / secs
		r.RPS = float64(r.Batches) / secs
	}
}
