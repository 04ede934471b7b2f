// Package events is the per-job lifecycle notification bus.
//
// A Bus is created for each job run and handed to every stage, so
// subscriptions never leak between jobs. Handlers run synchronously on the
// emitting goroutine, in registration order, and must be quick.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Name identifies a lifecycle event.
type Name string

// Lifecycle vocabulary.
const (
	MetaStart         Name = "meta start"
	MetaEnd           Name = "meta end"
	DownloadStart     Name = "download start"
	DownloadEnd       Name = "download end"
	FileDownloadStart Name = "file download start"
	FileDownloadEnd   Name = "file download end"
	FileDeleteStart   Name = "file delete start"
	FileDeleteEnd     Name = "file delete end"
	UploadStart       Name = "upload start"
	UploadEnd         Name = "upload end"
	Batch             Name = "batch"
)

// Event is the payload delivered to handlers.
type Event struct {
	Name  Name
	RunID string
	// Job is the job configuration; handlers must treat it as read-only
	Job interface{}
	// Object and Size describe the file for per-file events
	Object string
	Size   int64
	// Count is the record count for batch events
	Count int
	Time  time.Time
	Err   error
}

// Handler receives events.
type Handler func(Event)

type subscription struct {
	handler Handler
	once    bool
	fired   atomic.Bool
}

// Bus dispatches events for one job run.
type Bus struct {
	runID string
	job   interface{}

	mu   sync.RWMutex
	subs map[Name][]*subscription
}

// NewBus creates a bus whose events carry runID and job.
func NewBus(runID string, job interface{}) *Bus {
	return &Bus{
		runID: runID,
		job:   job,
		subs:  make(map[Name][]*subscription),
	}
}

// RunID returns the run the bus belongs to.
func (b *Bus) RunID() string {
	return b.runID
}

// On registers a handler for every emission of name.
func (b *Bus) On(name Name, h Handler) {
	b.add(name, &subscription{handler: h})
}

// Once registers a handler that fires at most once, even under concurrent
// emits.
func (b *Bus) Once(name Name, h Handler) {
	b.add(name, &subscription{handler: h, once: true})
}

func (b *Bus) add(name Name, s *subscription) {
	b.mu.Lock()
	b.subs[name] = append(b.subs[name], s)
	b.mu.Unlock()
}

// Emit fills the run fields and delivers ev to the handlers of name. A nil
// bus is a no-op so stages can run without observers.
func (b *Bus) Emit(name Name, ev Event) {
	if b == nil {
		return
	}
	ev.Name = name
	ev.RunID = b.runID
	if ev.Job == nil {
		ev.Job = b.job
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	b.mu.RLock()
	subs := b.subs[name]
	b.mu.RUnlock()

	for _, s := range subs {
		if s.once && !s.fired.CompareAndSwap(false, true) {
			continue
		}
		s.handler(ev)
	}
}

// Count returns the number of live handlers for name.
func (b *Bus) Count(name Name) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, s := range b.subs[name] {
		if !s.once || !s.fired.Load() {
			n++
		}
	}
	return n
}
