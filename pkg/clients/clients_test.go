package clients

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/storage-mixpanel/pkg/testutil"
)

type delayedErr struct{ d time.Duration }

func (e delayedErr) Error() string             { return "slow down" }
func (e delayedErr) RetryAfter() time.Duration { return e.d }

func TestRetryPolicyEventuallySucceeds(t *testing.T) {
	rp := NewRetryPolicy(5, time.Millisecond)
	calls := 0
	var retries []int

	err := rp.ExecuteWithCondition(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, func(error) bool { return true }, func(attempt int, _ error, _ time.Duration) {
		retries = append(retries, attempt)
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retries)
}

func TestRetryPolicyStopsOnPermanentError(t *testing.T) {
	rp := NewRetryPolicy(5, time.Millisecond)
	permanent := errors.New("bad request")
	calls := 0

	err := rp.ExecuteWithCondition(context.Background(), func() error {
		calls++
		return permanent
	}, func(err error) bool { return err != permanent }, nil)

	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestRetryPolicyExhausts(t *testing.T) {
	rp := NewRetryPolicy(3, time.Millisecond)
	calls := 0
	err := rp.Execute(context.Background(), func() error {
		calls++
		return errors.New("down")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all 3 attempts failed")
	assert.Equal(t, 3, calls)
}

func TestRetryPolicyHonorsRetryAfter(t *testing.T) {
	rp := NewRetryPolicy(2, time.Hour).WithDelay(time.Hour, 5*time.Millisecond)
	var delay time.Duration
	_ = rp.ExecuteWithCondition(context.Background(), func() error {
		return delayedErr{d: 2 * time.Millisecond}
	}, func(error) bool { return true }, func(_ int, _ error, d time.Duration) {
		delay = d
	})
	assert.Equal(t, 2*time.Millisecond, delay)
}

func TestRetryPolicyCancelled(t *testing.T) {
	rp := NewRetryPolicy(5, time.Hour).WithDelay(time.Hour, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := rp.Execute(ctx, func() error { return errors.New("x") })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetryPolicyDelayBounds(t *testing.T) {
	rp := NewRetryPolicy(10, 100*time.Millisecond).WithDelay(100*time.Millisecond, time.Second)
	for attempt := 0; attempt < 8; attempt++ {
		d := rp.calculateDelay(attempt)
		assert.LessOrEqual(t, int64(d), int64(1250*time.Millisecond))
		assert.GreaterOrEqual(t, int64(d), int64(75*time.Millisecond))
	}
}

func TestAdaptiveRateLimiter(t *testing.T) {
	rl := NewAdaptiveRateLimiter(100, 10)
	rl.RecordResponse(true)
	assert.Equal(t, 50.0, rl.CurrentRate())
	for i := 0; i < 10; i++ {
		rl.RecordResponse(true)
	}
	assert.InDelta(t, 100.0/16, rl.CurrentRate(), 0.001)
	for i := 0; i < 100; i++ {
		rl.RecordResponse(false)
	}
	assert.Equal(t, 100.0, rl.CurrentRate())
}

func TestTokenBucketAllow(t *testing.T) {
	rl := NewTokenBucketRateLimiter(1, 2)
	assert.True(t, rl.Allow())
	assert.True(t, rl.Allow())
	assert.False(t, rl.Allow())

	stats := rl.GetStats()
	assert.Equal(t, int64(2), stats.AllowedRequests)
	assert.Equal(t, int64(1), stats.BlockedRequests)
}

func TestHTTPClientDo(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		assert.Equal(t, "storage-mixpanel/1.0", r.Header.Get("User-Agent"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		if string(body) == "fail" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := DefaultHTTPConfig()
	cfg.RateLimit = 1000
	cfg.RateBurst = 10
	client := NewHTTPClient(cfg, testutil.TestLogger(t))
	defer client.Close()

	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	headers := map[string]string{"Content-Type": "application/json"}
	resp, err := client.Post(ctx, srv.URL, strings.NewReader("ok"), headers)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = client.Put(ctx, srv.URL, strings.NewReader("fail"), headers)
	require.NoError(t, err)
	resp.Body.Close()

	stats := client.GetStats()
	assert.Equal(t, int64(2), stats.TotalRequests)
	assert.Equal(t, int64(1), stats.FailedRequests)
	require.NotNil(t, stats.RateLimiter)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}
