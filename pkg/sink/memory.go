package sink

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ajitpratap0/storage-mixpanel/pkg/models"
)

// Memory keeps delivered records in process. It backs dry runs and tests.
type Memory struct {
	batchSize int

	// Reject, when set, marks individual records as failed.
	Reject func(models.Record) bool
	// Delay, when set, is slept before each Send to simulate latency.
	Delay time.Duration

	mu      sync.Mutex
	records []models.Record
	batches [][]models.Record
	bulks   int
	closed  atomic.Bool
}

// NewMemory creates an in-memory sink. batchSize below one means 1.
func NewMemory(batchSize int) *Memory {
	if batchSize < 1 {
		batchSize = 1
	}
	return &Memory{batchSize: batchSize}
}

// BatchSize implements Sink.
func (m *Memory) BatchSize() int {
	return m.batchSize
}

// Send implements Sink.
func (m *Memory) Send(ctx context.Context, batch []models.Record) (*BatchResult, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	if m.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.Delay):
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.store(batch, false), nil
}

// Bulk implements Sink.
func (m *Memory) Bulk(ctx context.Context, rows []models.Record) (*BatchResult, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.store(rows, true), nil
}

func (m *Memory) store(batch []models.Record, bulk bool) *BatchResult {
	start := time.Now()
	res := &BatchResult{Records: len(batch)}
	accepted := make([]models.Record, 0, len(batch))
	for _, r := range batch {
		if m.Reject != nil && m.Reject(r) {
			res.Failed++
			res.Errors = append(res.Errors, "record rejected")
			continue
		}
		accepted = append(accepted, r)
	}
	res.Success = len(accepted)

	m.mu.Lock()
	m.records = append(m.records, accepted...)
	m.batches = append(m.batches, batch)
	if bulk {
		m.bulks++
	}
	m.mu.Unlock()

	res.Duration = time.Since(start)
	return res
}

// Close implements Sink.
func (m *Memory) Close() error {
	m.closed.Store(true)
	return nil
}

// Closed reports whether Close was called.
func (m *Memory) Closed() bool {
	return m.closed.Load()
}

// Records returns a copy of every accepted record.
func (m *Memory) Records() []models.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Record, len(m.records))
	copy(out, m.records)
	return out
}

// Batches returns the sizes of every received batch in arrival order.
func (m *Memory) Batches() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	sizes := make([]int, len(m.batches))
	for i, b := range m.batches {
		sizes[i] = len(b)
	}
	return sizes
}

// Bulks returns the number of Bulk calls.
func (m *Memory) Bulks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bulks
}
