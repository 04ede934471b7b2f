package events

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitOrderAndPayload(t *testing.T) {
	job := map[string]string{"path": "gs://bucket/x"}
	bus := NewBus("run-1", job)

	var got []string
	bus.On(FileDownloadStart, func(ev Event) {
		got = append(got, "first:"+ev.Object)
		assert.Equal(t, "run-1", ev.RunID)
		assert.Equal(t, FileDownloadStart, ev.Name)
		assert.Equal(t, job, ev.Job)
		assert.Equal(t, int64(42), ev.Size)
		assert.False(t, ev.Time.IsZero())
	})
	bus.On(FileDownloadStart, func(ev Event) {
		got = append(got, "second:"+ev.Object)
	})
	bus.On(FileDownloadEnd, func(Event) {
		got = append(got, "unrelated")
	})

	bus.Emit(FileDownloadStart, Event{Object: "a.json", Size: 42})

	assert.Equal(t, []string{"first:a.json", "second:a.json"}, got)
}

func TestOnceFiresOnceUnderConcurrentEmits(t *testing.T) {
	bus := NewBus("run", nil)

	var onceCalls, onCalls atomic.Int64
	bus.Once(UploadEnd, func(Event) { onceCalls.Add(1) })
	bus.On(UploadEnd, func(Event) { onCalls.Add(1) })
	require.Equal(t, 2, bus.Count(UploadEnd))

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Emit(UploadEnd, Event{})
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), onceCalls.Load())
	assert.Equal(t, int64(64), onCalls.Load())
	assert.Equal(t, 1, bus.Count(UploadEnd))
}

func TestBusesAreIsolated(t *testing.T) {
	first := NewBus("job-1", nil)
	second := NewBus("job-2", nil)

	var calls int
	first.Once(MetaEnd, func(Event) { calls++ })

	second.Emit(MetaEnd, Event{})
	assert.Equal(t, 0, calls)

	first.Emit(MetaEnd, Event{})
	first.Emit(MetaEnd, Event{})
	assert.Equal(t, 1, calls)
}

func TestNilBusEmitIsNoop(t *testing.T) {
	var bus *Bus
	assert.NotPanics(t, func() { bus.Emit(Batch, Event{Count: 1}) })
}
