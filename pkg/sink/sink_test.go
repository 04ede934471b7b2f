package sink

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/storage-mixpanel/pkg/clients"
	"github.com/ajitpratap0/storage-mixpanel/pkg/config"
	"github.com/ajitpratap0/storage-mixpanel/pkg/models"
	"github.com/ajitpratap0/storage-mixpanel/pkg/testutil"
)

type captured struct {
	method   string
	path     string
	query    map[string]string
	user     string
	pass     string
	encoding string
	ctype    string
	body     []byte
}

type fakeMixpanel struct {
	mu       sync.Mutex
	requests []captured
	handler  func(w http.ResponseWriter, c captured, n int)
	hits     int32
}

func (f *fakeMixpanel) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	n := int(atomic.AddInt32(&f.hits, 1))
	body, _ := io.ReadAll(r.Body)
	if r.Header.Get("Content-Encoding") == "gzip" {
		zr, err := gzip.NewReader(bytes.NewReader(body))
		if err == nil {
			body, _ = io.ReadAll(zr)
		}
	}
	user, pass, _ := r.BasicAuth()
	q := map[string]string{}
	for k := range r.URL.Query() {
		q[k] = r.URL.Query().Get(k)
	}
	c := captured{
		method:   r.Method,
		path:     r.URL.Path,
		query:    q,
		user:     user,
		pass:     pass,
		encoding: r.Header.Get("Content-Encoding"),
		ctype:    r.Header.Get("Content-Type"),
		body:     body,
	}
	f.mu.Lock()
	f.requests = append(f.requests, c)
	f.mu.Unlock()

	if f.handler != nil {
		f.handler(w, c, n)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"code":200,"status":"OK","num_records_imported":2}`))
}

func newTestSink(t *testing.T, fake *fakeMixpanel, mutate func(*config.JobConfig)) *Mixpanel {
	t.Helper()
	testutil.UseTestLogger(t)

	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	cfg := config.Default()
	cfg.Path = "gs://bucket/data.ndjson"
	cfg.Mixpanel.APISecret = "secret"
	cfg.Mixpanel.Token = "token"
	cfg.Mixpanel.Endpoint = srv.URL
	if mutate != nil {
		mutate(cfg)
	}
	cfg.ApplyDefaults()

	m, err := NewMixpanel(cfg, WithRetryPolicy(clients.NewRetryPolicy(3, time.Millisecond)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func events(n int) []models.Record {
	out := make([]models.Record, n)
	for i := range out {
		out[i] = models.Record{
			"event": "signup",
			"properties": map[string]interface{}{
				"distinct_id": i,
				"time":        int64(1700000000000),
			},
		}
	}
	return out
}

func TestMixpanelSendEvents(t *testing.T) {
	fake := &fakeMixpanel{}
	m := newTestSink(t, fake, func(c *config.JobConfig) {
		c.Mixpanel.ProjectID = "123"
	})

	res, err := m.Send(context.Background(), events(2))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Records)
	assert.Equal(t, 2, res.Success)
	assert.Zero(t, res.Failed)

	require.Len(t, fake.requests, 1)
	req := fake.requests[0]
	assert.Equal(t, http.MethodPost, req.method)
	assert.Equal(t, "/import", req.path)
	assert.Equal(t, "1", req.query["strict"])
	assert.Equal(t, "123", req.query["project_id"])
	assert.Equal(t, "secret", req.user)
	assert.Equal(t, "", req.pass)
	assert.Equal(t, "gzip", req.encoding)
	assert.Equal(t, "application/x-ndjson", req.ctype)

	lines := 0
	sc := bufio.NewScanner(bytes.NewReader(req.body))
	for sc.Scan() {
		var ev map[string]interface{}
		require.NoError(t, gojson.Unmarshal(sc.Bytes(), &ev))
		assert.Equal(t, "signup", ev["event"])
		lines++
	}
	assert.Equal(t, 2, lines)
}

func TestMixpanelServiceAccountUncompressed(t *testing.T) {
	fake := &fakeMixpanel{}
	m := newTestSink(t, fake, func(c *config.JobConfig) {
		c.Mixpanel.APISecret = ""
		c.Mixpanel.ServiceAccount = "svc.user"
		c.Mixpanel.ServiceSecret = "svc-secret"
		c.Mixpanel.ProjectID = "42"
		c.Options.Compress = false
		c.Options.Strict = false
	})

	_, err := m.Send(context.Background(), events(1))
	require.NoError(t, err)
	req := fake.requests[0]
	assert.Equal(t, "svc.user", req.user)
	assert.Equal(t, "svc-secret", req.pass)
	assert.Empty(t, req.encoding)
	assert.Equal(t, "0", req.query["strict"])
}

func TestMixpanelPayloadDoesNotAliasBuffer(t *testing.T) {
	for _, compress := range []bool{false, true} {
		m := newTestSink(t, &fakeMixpanel{}, func(c *config.JobConfig) { c.Options.Compress = compress })

		src := []byte(`{"event":"a"}` + "\n")
		payload, compressed, err := m.payload(src)
		require.NoError(t, err)
		assert.Equal(t, compress, compressed)
		before := append([]byte(nil), payload...)

		for i := range src {
			src[i] = 'x'
		}
		assert.Equal(t, before, payload, "compress=%v", compress)
	}
}

func TestMixpanelRetryBodyIntactAfterPoolReuse(t *testing.T) {
	fake := &fakeMixpanel{handler: func(w http.ResponseWriter, _ captured, n int) {
		if n == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"code":200,"num_records_imported":2,"status":"OK"}`))
	}}
	m := newTestSink(t, fake, func(c *config.JobConfig) { c.Options.Compress = false })

	res, err := m.Send(context.Background(), events(2))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Retries)
	require.Len(t, fake.requests, 2)
	assert.Equal(t, fake.requests[0].body, fake.requests[1].body)
	assert.Contains(t, string(fake.requests[1].body), `"event":"signup"`)
}

func TestMixpanelRetriesThrottled(t *testing.T) {
	fake := &fakeMixpanel{handler: func(w http.ResponseWriter, _ captured, n int) {
		if n == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		if n == 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"code":200,"num_records_imported":3}`))
	}}
	m := newTestSink(t, fake, nil)

	res, err := m.Send(context.Background(), events(3))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Retries)
	assert.Equal(t, 3, res.Success)
	assert.Equal(t, int32(3), atomic.LoadInt32(&fake.hits))
}

func TestMixpanelRetriesExhausted(t *testing.T) {
	fake := &fakeMixpanel{handler: func(w http.ResponseWriter, _ captured, _ int) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}}
	m := newTestSink(t, fake, nil)

	res, err := m.Send(context.Background(), events(2))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, 2, res.Retries)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "503")
}

func TestMixpanelPartialFailure(t *testing.T) {
	fake := &fakeMixpanel{handler: func(w http.ResponseWriter, _ captured, _ int) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":400,"status":"Bad Request","num_records_imported":1,
			"failed_records":[{"index":1,"$insert_id":"x","field":"properties.time","message":"'properties.time' is invalid"}]}`))
	}}
	m := newTestSink(t, fake, func(c *config.JobConfig) { c.Options.Abridged = false })

	res, err := m.Send(context.Background(), events(2))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Success)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "properties.time")
	assert.NotEmpty(t, res.Response)
	assert.Equal(t, int32(1), atomic.LoadInt32(&fake.hits))
}

func TestMixpanelUsersAndGroups(t *testing.T) {
	tests := []struct {
		recordType string
		path       string
	}{
		{config.TypeUser, "/engage"},
		{config.TypeGroup, "/groups"},
	}
	for _, tt := range tests {
		t.Run(tt.recordType, func(t *testing.T) {
			fake := &fakeMixpanel{handler: func(w http.ResponseWriter, _ captured, _ int) {
				_, _ = w.Write([]byte(`{"error":null,"status":1}`))
			}}
			m := newTestSink(t, fake, func(c *config.JobConfig) {
				c.Mixpanel.Type = tt.recordType
				c.Mixpanel.GroupKey = "company_id"
			})

			batch := []models.Record{{"$token": "token", "$distinct_id": "u1", "$set": map[string]interface{}{"plan": "pro"}}}
			res, err := m.Send(context.Background(), batch)
			require.NoError(t, err)
			assert.Equal(t, 1, res.Success)

			req := fake.requests[0]
			assert.Equal(t, tt.path, req.path)
			assert.Equal(t, "application/json", req.ctype)
			var arr []map[string]interface{}
			require.NoError(t, gojson.Unmarshal(req.body, &arr))
			require.Len(t, arr, 1)
			assert.Equal(t, "u1", arr[0]["$distinct_id"])
		})
	}
}

func TestMixpanelProfileRejected(t *testing.T) {
	fake := &fakeMixpanel{handler: func(w http.ResponseWriter, _ captured, _ int) {
		_, _ = w.Write([]byte(`{"error":"token mismatch","status":0}`))
	}}
	m := newTestSink(t, fake, func(c *config.JobConfig) { c.Mixpanel.Type = config.TypeUser })

	res, err := m.Send(context.Background(), []models.Record{{"$distinct_id": "u1"}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Contains(t, res.Errors[0], "token mismatch")
}

func TestMixpanelLookupTable(t *testing.T) {
	fake := &fakeMixpanel{}
	m := newTestSink(t, fake, func(c *config.JobConfig) {
		c.Mixpanel.Type = config.TypeTable
		c.Mixpanel.LookupTableID = "tbl-1"
		c.Mixpanel.ProjectID = "7"
		c.Mappings.DistinctIDCol = "sku"
	})

	rows := []models.Record{
		{"sku": "a", "name": "Apple", "price": 1},
		{"sku": "b", "name": "Banana", "price": 2},
	}
	res, err := m.Bulk(context.Background(), rows)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Success)

	req := fake.requests[0]
	assert.Equal(t, http.MethodPut, req.method)
	assert.Equal(t, "/lookup-tables/tbl-1", req.path)
	assert.Equal(t, "7", req.query["project_id"])
	assert.Equal(t, "text/csv", req.ctype)

	recs, err := csv.NewReader(bytes.NewReader(req.body)).ReadAll()
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, []string{"sku", "name", "price"}, recs[0])
	assert.Equal(t, []string{"a", "Apple", "1"}, recs[1])
}

func TestMixpanelClosed(t *testing.T) {
	fake := &fakeMixpanel{}
	m := newTestSink(t, fake, nil)
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	_, err := m.Send(context.Background(), events(1))
	assert.ErrorIs(t, err, ErrClosed)
	assert.Zero(t, atomic.LoadInt32(&fake.hits))
}

func TestMixpanelCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fake := &fakeMixpanel{handler: func(w http.ResponseWriter, _ captured, _ int) {
		cancel()
		w.WriteHeader(http.StatusInternalServerError)
	}}
	m := newTestSink(t, fake, nil)
	m.retry = clients.NewRetryPolicy(5, time.Hour).WithDelay(time.Hour, time.Hour)

	_, err := m.Send(ctx, events(1))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEndpointRegion(t *testing.T) {
	assert.Equal(t, USEndpoint, endpoint(config.MixpanelConfig{Region: "US"}))
	assert.Equal(t, EUEndpoint, endpoint(config.MixpanelConfig{Region: "eu"}))
	assert.Equal(t, "http://localhost:1", endpoint(config.MixpanelConfig{Region: "EU", Endpoint: "http://localhost:1/"}))
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 3*time.Second, parseRetryAfter("3"))
	assert.Zero(t, parseRetryAfter(""))
	assert.Zero(t, parseRetryAfter("soon"))
}

func TestMemorySink(t *testing.T) {
	m := NewMemory(2)
	m.Reject = func(r models.Record) bool { return r["bad"] == true }

	res, err := m.Send(context.Background(), []models.Record{{"a": 1}, {"bad": true}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Success)
	assert.Equal(t, 1, res.Failed)

	_, err = m.Bulk(context.Background(), []models.Record{{"b": 2}})
	require.NoError(t, err)
	assert.Len(t, m.Records(), 2)
	assert.Equal(t, []int{2, 1}, m.Batches())
	assert.Equal(t, 1, m.Bulks())

	require.NoError(t, m.Close())
	_, err = m.Send(context.Background(), nil)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestResultAggregation(t *testing.T) {
	r := NewResult(config.TypeEvent, 4)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Add(&BatchResult{Records: 10, Success: 9, Failed: 1, Retries: 1, Bytes: 100, Errors: []string{"x"}})
		}()
	}
	wg.Wait()
	r.Add(nil)
	r.Finish(2 * time.Second)

	assert.Equal(t, 100, r.Total)
	assert.Equal(t, 90, r.Success)
	assert.Equal(t, 10, r.Failed)
	assert.Equal(t, 10, r.Batches)
	assert.Equal(t, 10, r.Retries)
	assert.Equal(t, int64(1000), r.Bytes)
	assert.Len(t, r.Errors, 10)
	assert.Equal(t, 45.0, r.EPS)
}
