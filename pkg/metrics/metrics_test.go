package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/storage-mixpanel/pkg/events"
)

func TestCollectorAttach(t *testing.T) {
	c := NewCollector("metrics_test", "memory")
	bus := events.NewBus("run", nil)
	c.Attach(bus)

	beforeOK := testutil.ToFloat64(Files.WithLabelValues("memory", "download", "success"))
	beforeFail := testutil.ToFloat64(Files.WithLabelValues("memory", "download", "failed"))
	beforeBytes := testutil.ToFloat64(BytesDownloaded.WithLabelValues("memory"))

	bus.Emit(events.FileDownloadEnd, events.Event{Object: "a", Size: 128, Count: 3})
	bus.Emit(events.FileDownloadEnd, events.Event{Object: "b", Err: errors.New("boom")})
	bus.Emit(events.Batch, events.Event{Count: 3})
	bus.Emit(events.FileDeleteEnd, events.Event{Object: "a"})

	assert.Equal(t, beforeOK+1, testutil.ToFloat64(Files.WithLabelValues("memory", "download", "success")))
	assert.Equal(t, beforeFail+1, testutil.ToFloat64(Files.WithLabelValues("memory", "download", "failed")))
	assert.Equal(t, beforeBytes+128, testutil.ToFloat64(BytesDownloaded.WithLabelValues("memory")))
	assert.Equal(t, float64(3), testutil.ToFloat64(RecordsProcessed.WithLabelValues("upload", "metrics_test", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(Files.WithLabelValues("memory", "delete", "success")))
}

func TestCollectorGauges(t *testing.T) {
	c := NewCollector("gauge_test", "memory")
	c.SetQueueDepth(42)
	c.SetThroughput(1.5)
	c.AddRetries(0)
	c.AddRetries(2)

	assert.Equal(t, float64(42), testutil.ToFloat64(QueueDepth.WithLabelValues("gauge_test")))
	assert.Equal(t, 1.5, testutil.ToFloat64(Throughput.WithLabelValues("gauge_test")))
	assert.Equal(t, float64(2), testutil.ToFloat64(Retries.WithLabelValues("gauge_test")))
	assert.True(t, c.Finish(nil) >= 0)
}

func TestHandler(t *testing.T) {
	NewCollector("handler_test", "memory").SetQueueDepth(1)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "storage_mixpanel_queue_depth"))
}
