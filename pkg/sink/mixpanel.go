package sink

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	gojson "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/ajitpratap0/storage-mixpanel/pkg/clients"
	"github.com/ajitpratap0/storage-mixpanel/pkg/compression"
	"github.com/ajitpratap0/storage-mixpanel/pkg/config"
	"github.com/ajitpratap0/storage-mixpanel/pkg/errors"
	"github.com/ajitpratap0/storage-mixpanel/pkg/logger"
	"github.com/ajitpratap0/storage-mixpanel/pkg/models"
	"github.com/ajitpratap0/storage-mixpanel/pkg/parser"
	"github.com/ajitpratap0/storage-mixpanel/pkg/pool"
)

// Regional API hosts.
const (
	USEndpoint = "https://api.mixpanel.com"
	EUEndpoint = "https://api-eu.mixpanel.com"
)

// errorSampleLimit caps the per-batch error messages kept in results.
const errorSampleLimit = 50

// Mixpanel sends records to the Mixpanel ingestion APIs.
type Mixpanel struct {
	recordType string
	baseURL    string
	projectID  string
	token      string
	username   string
	password   string
	strict     bool
	compress   bool
	abridged   bool
	batchSize  int
	lookupID   string
	keyColumn  string

	client     *clients.HTTPClient
	retry      *clients.RetryPolicy
	compressor compression.Compressor
	logger     *zap.Logger
	closed     atomic.Bool
}

// Option customizes the Mixpanel sink.
type Option func(*Mixpanel)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *clients.HTTPClient) Option {
	return func(m *Mixpanel) { m.client = c }
}

// WithRetryPolicy replaces the retry policy.
func WithRetryPolicy(rp *clients.RetryPolicy) Option {
	return func(m *Mixpanel) { m.retry = rp }
}

// NewMixpanel creates a sink for a validated job configuration.
func NewMixpanel(cfg *config.JobConfig, opts ...Option) (*Mixpanel, error) {
	mp := cfg.Mixpanel
	m := &Mixpanel{
		recordType: mp.Type,
		baseURL:    endpoint(mp),
		projectID:  mp.ProjectID,
		token:      mp.Token,
		strict:     cfg.Options.Strict,
		compress:   cfg.Options.Compress,
		abridged:   cfg.Options.Abridged,
		batchSize:  cfg.BatchSize(),
		lookupID:   mp.LookupTableID,
		keyColumn:  cfg.Mappings.DistinctIDCol,
		logger:     logger.With(zap.String("component", "mixpanel_sink"), zap.String("record_type", mp.Type)),
	}
	if mp.HasServiceAccount() {
		m.username, m.password = mp.ServiceAccount, mp.ServiceSecret
	} else {
		m.username = mp.APISecret
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.client == nil {
		hc := clients.DefaultHTTPConfig()
		hc.RateLimit = float64(cfg.Options.RateLimitPerSec)
		hc.RateBurst = cfg.Options.Workers
		hc.Adaptive = true
		m.client = clients.NewHTTPClient(hc, m.logger)
	}
	if m.retry == nil {
		m.retry = clients.DefaultRetryPolicy().WithMaxAttempts(cfg.Options.RetryAttempts + 1)
	}
	if m.compress {
		c, err := compression.NewCompressor(&compression.Config{Algorithm: compression.Gzip, Level: compression.Fastest})
		if err != nil {
			return nil, err
		}
		m.compressor = c
	}
	return m, nil
}

func endpoint(mp config.MixpanelConfig) string {
	if mp.Endpoint != "" {
		return strings.TrimRight(mp.Endpoint, "/")
	}
	if strings.EqualFold(mp.Region, "EU") {
		return EUEndpoint
	}
	return USEndpoint
}

// BatchSize implements Sink.
func (m *Mixpanel) BatchSize() int {
	return m.batchSize
}

// Send implements Sink for events, user profiles and group profiles.
func (m *Mixpanel) Send(ctx context.Context, batch []models.Record) (*BatchResult, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	if len(batch) == 0 {
		return &BatchResult{}, nil
	}

	switch m.recordType {
	case config.TypeUser:
		return m.sendJSON(ctx, "/engage", batch)
	case config.TypeGroup:
		return m.sendJSON(ctx, "/groups", batch)
	case config.TypeTable:
		return m.Bulk(ctx, batch)
	default:
		return m.sendEvents(ctx, batch)
	}
}

func (m *Mixpanel) sendEvents(ctx context.Context, batch []models.Record) (*BatchResult, error) {
	buf := pool.Buffers.Get()
	defer pool.Buffers.Put(buf)
	for _, r := range batch {
		b, err := gojson.Marshal(r)
		if err != nil {
			return m.rejectAll(len(batch), err), nil
		}
		buf.Write(b)
		buf.WriteByte('\n')
	}

	q := url.Values{}
	q.Set("strict", boolParam(m.strict))
	if m.projectID != "" {
		q.Set("project_id", m.projectID)
	}
	return m.do(ctx, request{
		method:      http.MethodPost,
		path:        "/import",
		query:       q,
		body:        buf.Bytes(),
		contentType: "application/x-ndjson",
		records:     len(batch),
		decode:      decodeImport,
	})
}

func (m *Mixpanel) sendJSON(ctx context.Context, path string, batch []models.Record) (*BatchResult, error) {
	body, err := gojson.Marshal(batch)
	if err != nil {
		return m.rejectAll(len(batch), err), nil
	}
	q := url.Values{}
	q.Set("verbose", "1")
	return m.do(ctx, request{
		method:      http.MethodPost,
		path:        path,
		query:       q,
		body:        body,
		contentType: "application/json",
		records:     len(batch),
		decode:      decodeProfile,
	})
}

// Bulk replaces the configured lookup table with rows.
func (m *Mixpanel) Bulk(ctx context.Context, rows []models.Record) (*BatchResult, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	if m.lookupID == "" {
		return nil, errors.New(errors.ErrorTypeInvalidConfig, "missing lookup table id")
	}

	table := make([]models.Row, len(rows))
	for i, r := range rows {
		table[i] = models.Row(r)
	}
	header := parser.Columns(table)
	header = keyFirst(header, m.keyColumn)
	body, err := parser.Encode(parser.CSV, table, header)
	if err != nil {
		return m.rejectAll(len(rows), err), nil
	}

	q := url.Values{}
	if m.projectID != "" {
		q.Set("project_id", m.projectID)
	}
	return m.do(ctx, request{
		method:      http.MethodPut,
		path:        "/lookup-tables/" + url.PathEscape(m.lookupID),
		query:       q,
		body:        body,
		contentType: "text/csv",
		records:     len(rows),
		decode:      decodeImport,
	})
}

// keyFirst moves the join key column to the front; lookup tables are keyed
// on their first column.
func keyFirst(header []string, key string) []string {
	for i, h := range header {
		if h == key && i > 0 {
			out := make([]string, 0, len(header))
			out = append(out, key)
			out = append(out, header[:i]...)
			return append(out, header[i+1:]...)
		}
	}
	return header
}

// Close implements Sink.
func (m *Mixpanel) Close() error {
	if m.closed.Swap(true) {
		return nil
	}
	return m.client.Close()
}

type request struct {
	method      string
	path        string
	query       url.Values
	body        []byte
	contentType string
	records     int
	decode      func(status int, body []byte, records int, res *BatchResult)
}

// statusError is a retryable HTTP failure.
type statusError struct {
	code       int
	body       string
	retryAfter time.Duration
}

func (e *statusError) Error() string {
	return fmt.Sprintf("mixpanel responded %d: %s", e.code, truncate(e.body, 200))
}

func (e *statusError) RetryAfter() time.Duration {
	return e.retryAfter
}

// payload returns the wire bytes for body. The result never aliases body.
func (m *Mixpanel) payload(body []byte) ([]byte, bool, error) {
	if m.compressor == nil {
		return bytes.Clone(body), false, nil
	}
	gz, err := m.compressor.Compress(body)
	if err != nil {
		return nil, false, err
	}
	return gz, true, nil
}

// do sends req with retries. req.body may be backed by a pooled buffer that
// is reused as soon as do returns.
func (m *Mixpanel) do(ctx context.Context, req request) (*BatchResult, error) {
	start := time.Now()
	res := &BatchResult{Records: req.records, Bytes: len(req.body)}

	headers := map[string]string{
		"Content-Type": req.contentType,
		"Accept":       "application/json",
	}
	payload, compressed, err := m.payload(req.body)
	if err != nil {
		return m.rejectAll(req.records, err), nil
	}
	if compressed {
		headers["Content-Encoding"] = "gzip"
	}

	target := m.baseURL + req.path
	if len(req.query) > 0 {
		target += "?" + req.query.Encode()
	}

	var (
		status int
		body   []byte
	)
	err = m.retry.ExecuteWithCondition(ctx, func() error {
		var err error
		status, body, err = m.attempt(ctx, req.method, target, payload, headers)
		return err
	}, retryable, func(attempt int, err error, delay time.Duration) {
		res.Retries++
		m.logger.Debug("retrying request",
			zap.String("path", req.path),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
	})
	res.Duration = time.Since(start)

	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	if err != nil {
		res.Failed = req.records
		res.Errors = []string{err.Error()}
		m.logger.Warn("batch failed",
			zap.String("path", req.path),
			zap.Int("records", req.records),
			zap.Int("retries", res.Retries),
			zap.Error(err))
		return res, nil
	}

	req.decode(status, body, req.records, res)
	if !m.abridged && len(body) > 0 && gojson.Valid(body) {
		res.Response = gojson.RawMessage(body)
	}
	return res, nil
}

func (m *Mixpanel) attempt(ctx context.Context, method, target string, payload []byte, headers map[string]string) (int, []byte, error) {
	httpReq, err := m.client.NewRequest(ctx, method, target, bytes.NewReader(payload), headers)
	if err != nil {
		return 0, nil, err
	}
	httpReq.SetBasicAuth(m.username, m.password)

	resp, err := m.client.Do(httpReq)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return 0, nil, &statusError{
			code:       resp.StatusCode,
			body:       string(body),
			retryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	return resp.StatusCode, body, nil
}

func retryable(err error) bool {
	return !stderrors.Is(err, context.Canceled) && !stderrors.Is(err, context.DeadlineExceeded)
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func (m *Mixpanel) rejectAll(n int, err error) *BatchResult {
	return &BatchResult{Records: n, Failed: n, Errors: []string{err.Error()}}
}

type importResponse struct {
	Code          int    `json:"code"`
	Status        string `json:"status"`
	Error         string `json:"error"`
	NumImported   *int   `json:"num_records_imported"`
	FailedRecords []struct {
		Index    int    `json:"index"`
		InsertID string `json:"$insert_id"`
		Field    string `json:"field"`
		Message  string `json:"message"`
	} `json:"failed_records"`
}

func decodeImport(status int, body []byte, records int, res *BatchResult) {
	var r importResponse
	_ = gojson.Unmarshal(body, &r)

	if status >= 200 && status < 300 {
		res.Success = records
		if r.NumImported != nil && *r.NumImported <= records {
			res.Success = *r.NumImported
		}
		res.Failed = records - res.Success
		return
	}

	if r.NumImported != nil && *r.NumImported <= records {
		res.Success = *r.NumImported
	}
	res.Failed = records - res.Success
	for i, f := range r.FailedRecords {
		if i >= errorSampleLimit {
			break
		}
		res.Errors = append(res.Errors, fmt.Sprintf("record %d: %s: %s", f.Index, f.Field, f.Message))
	}
	if len(res.Errors) == 0 {
		msg := r.Error
		if msg == "" {
			msg = truncate(string(body), 200)
		}
		res.Errors = append(res.Errors, fmt.Sprintf("mixpanel responded %d: %s", status, msg))
	}
}

type profileResponse struct {
	Status int     `json:"status"`
	Error  *string `json:"error"`
}

func decodeProfile(status int, body []byte, records int, res *BatchResult) {
	var r profileResponse
	err := gojson.Unmarshal(body, &r)
	if status >= 200 && status < 300 && (err != nil || r.Status == 1) {
		res.Success = records
		return
	}
	res.Failed = records
	msg := truncate(string(body), 200)
	if r.Error != nil && *r.Error != "" {
		msg = *r.Error
	}
	res.Errors = append(res.Errors, fmt.Sprintf("mixpanel responded %d: %s", status, msg))
}

func boolParam(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
