package pipeline

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ajitpratap0/storage-mixpanel/pkg/sink"
)

// Timer names tracked for every run.
const (
	TimerJob         = "job"
	TimerEnumeration = "enumeration"
	TimerDownload    = "download"
	TimerUpload      = "upload"
)

// Timing is the wall time of one stage. Delta is in milliseconds.
type Timing struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Delta int64     `json:"delta"`
	Human string    `json:"human"`
}

func (t *Timing) stop(now time.Time) {
	if t.Start.IsZero() {
		t.Start = now
	}
	t.End = now
	d := t.End.Sub(t.Start)
	t.Delta = d.Milliseconds()
	t.Human = d.Round(time.Millisecond).String()
}

// DeleteResult is the outcome of removing one source object.
type DeleteResult struct {
	Object  string `json:"object"`
	Deleted bool   `json:"deleted"`
	Error   string `json:"error,omitempty"`
}

// StorageStats summarizes the source side of a run.
type StorageStats struct {
	Files          int64          `json:"files"`
	Bytes          int64          `json:"bytes"`
	HumanBytes     string         `json:"humanBytes"`
	TotalBytes     int64          `json:"totalBytes"`
	BytesPerSec    float64        `json:"bytesPerSec"`
	Rows           int64          `json:"rows"`
	Deleted        int64          `json:"deleted"`
	DeleteFailures int64          `json:"deleteFailures"`
	Deletions      []DeleteResult `json:"deletions,omitempty"`
}

// Timings groups the per-stage timers of a Summary.
type Timings struct {
	Job         Timing `json:"job"`
	Enumeration Timing `json:"enumeration"`
	Download    Timing `json:"download"`
	Upload      Timing `json:"upload"`
}

// Summary is the immutable report of a finished run.
type Summary struct {
	RunID      string       `json:"runId"`
	Version    string       `json:"version"`
	RecordType string       `json:"recordType"`
	Mixpanel   *sink.Result `json:"mixpanel"`
	Storage    StorageStats `json:"storage"`
	Time       Timings      `json:"time"`
}

// Stats accumulates run counters. Storage counters are written by the
// download stage, timers by the bus listeners.
type Stats struct {
	files   atomic.Int64
	bytes   atomic.Int64
	rows    atomic.Int64
	total   atomic.Int64
	deleted atomic.Int64
	failed  atomic.Int64

	mu        sync.Mutex
	deletions []DeleteResult
	timers    map[string]*Timing
}

// NewStats creates empty run statistics.
func NewStats() *Stats {
	return &Stats{timers: make(map[string]*Timing)}
}

// Start stamps the start of the named timer.
func (s *Stats) Start(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timers[name] = &Timing{Start: time.Now()}
}

// Stop stamps the end of the named timer. Stopping a timer that never
// started yields a zero-length timing.
func (s *Stats) Stop(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.timers[name]
	if !ok {
		t = &Timing{}
		s.timers[name] = t
	}
	t.stop(time.Now())
}

// Timing returns a copy of the named timer.
func (s *Stats) Timing(name string) Timing {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[name]; ok {
		return *t
	}
	return Timing{}
}

// AddObject records one fully processed object.
func (s *Stats) AddObject(size int64, rows int) {
	s.files.Add(1)
	s.bytes.Add(size)
	s.rows.Add(int64(rows))
}

// SetTotalBytes records the size of the listing being downloaded.
func (s *Stats) SetTotalBytes(n int64) {
	s.total.Store(n)
}

// Rows returns the number of records emitted so far.
func (s *Stats) Rows() int64 {
	return s.rows.Load()
}

// RecordDelete records the outcome of one deletion.
func (s *Stats) RecordDelete(object string, err error) {
	res := DeleteResult{Object: object, Deleted: err == nil}
	if err != nil {
		res.Error = err.Error()
		s.failed.Add(1)
	} else {
		s.deleted.Add(1)
	}
	s.mu.Lock()
	s.deletions = append(s.deletions, res)
	s.mu.Unlock()
}

// Storage snapshots the storage counters.
func (s *Stats) Storage() StorageStats {
	s.mu.Lock()
	deletions := make([]DeleteResult, len(s.deletions))
	copy(deletions, s.deletions)
	var elapsed time.Duration
	if t, ok := s.timers[TimerDownload]; ok && !t.End.IsZero() {
		elapsed = t.End.Sub(t.Start)
	}
	s.mu.Unlock()

	bytes := s.bytes.Load()
	total := s.total.Load()
	var bps float64
	if elapsed > 0 {
		bps = float64(total) / elapsed.Seconds()
	}
	return StorageStats{
		Files:          s.files.Load(),
		Bytes:          bytes,
		HumanBytes:     humanize.Bytes(uint64(bytes)),
		TotalBytes:     total,
		BytesPerSec:    bps,
		Rows:           s.rows.Load(),
		Deleted:        s.deleted.Load(),
		DeleteFailures: s.failed.Load(),
		Deletions:      deletions,
	}
}

// Summarize freezes the statistics into a Summary.
func (s *Stats) Summarize(runID, version, recordType string, result *sink.Result) *Summary {
	return &Summary{
		RunID:      runID,
		Version:    version,
		RecordType: recordType,
		Mixpanel:   result,
		Storage:    s.Storage(),
		Time: Timings{
			Job:         s.Timing(TimerJob),
			Enumeration: s.Timing(TimerEnumeration),
			Download:    s.Timing(TimerDownload),
			Upload:      s.Timing(TimerUpload),
		},
	}
}
