package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/storage-mixpanel/pkg/errors"
	"github.com/ajitpratap0/storage-mixpanel/pkg/events"
	"github.com/ajitpratap0/storage-mixpanel/pkg/metrics"
	"github.com/ajitpratap0/storage-mixpanel/pkg/models"
	"github.com/ajitpratap0/storage-mixpanel/pkg/observability"
	"github.com/ajitpratap0/storage-mixpanel/pkg/sink"
)

// Uploader drains the record channel into the sink.
type Uploader struct {
	sink       sink.Sink
	recordType string
	streamable bool
	workers    int

	bus       *events.Bus
	collector *metrics.Collector
	logger    *zap.Logger
}

// NewUploader creates the upload coordinator. Streamable record types are
// sent in batches as they arrive; the rest are collected and sent with one
// Bulk call.
func NewUploader(s sink.Sink, recordType string, streamable bool, workers int,
	bus *events.Bus, collector *metrics.Collector, log *zap.Logger) *Uploader {
	if workers < 1 {
		workers = 1
	}
	return &Uploader{
		sink:       s,
		recordType: recordType,
		streamable: streamable,
		workers:    workers,
		bus:        bus,
		collector:  collector,
		logger:     log.With(zap.String("component", "uploader")),
	}
}

// Run consumes in until it is closed and returns the aggregated result.
// Rejected records are reported in the result; an error means the sink or
// the context stopped the upload.
func (u *Uploader) Run(ctx context.Context, in <-chan models.Record) (result *sink.Result, err error) {
	ctx, span := observability.StartSpan(ctx, "upload")
	span.SetAttribute("record_type", u.recordType)
	defer func() { span.End(err) }()

	start := time.Now()
	result = sink.NewResult(u.recordType, u.workers)
	u.bus.Emit(events.UploadStart, events.Event{})

	if u.streamable {
		err = u.stream(ctx, in, result)
	} else {
		err = u.bulk(ctx, in, result)
	}

	result.Finish(time.Since(start))
	u.collector.SetThroughput(result.EPS)
	u.collector.SetQueueDepth(0)
	span.SetAttribute("records", result.Total)
	u.bus.Emit(events.UploadEnd, events.Event{Count: result.Success, Err: err})
	return result, err
}

func (u *Uploader) stream(ctx context.Context, in <-chan models.Record, result *sink.Result) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.workers)

	size := u.sink.BatchSize()
	batch := make([]models.Record, 0, size)
	flush := func() {
		b := batch
		batch = make([]models.Record, 0, size)
		g.Go(func() error {
			return u.deliver(gctx, b, result, u.sink.Send)
		})
	}

loop:
	for {
		select {
		case <-gctx.Done():
			break loop
		case rec, ok := <-in:
			if !ok {
				break loop
			}
			batch = append(batch, rec)
			if len(batch) >= size {
				u.collector.SetQueueDepth(len(in))
				flush()
			}
		}
	}
	if len(batch) > 0 && gctx.Err() == nil {
		flush()
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (u *Uploader) bulk(ctx context.Context, in <-chan models.Record, result *sink.Result) error {
	var rows []models.Record
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rec, ok := <-in:
			if !ok {
				if len(rows) == 0 {
					u.logger.Warn("no rows to upload; lookup table left unchanged")
					return nil
				}
				return u.deliver(ctx, rows, result, u.sink.Bulk)
			}
			rows = append(rows, rec)
		}
	}
}

func (u *Uploader) deliver(ctx context.Context, batch []models.Record, result *sink.Result,
	send func(context.Context, []models.Record) (*sink.BatchResult, error)) error {
	return observability.TraceBatch(ctx, "upload.batch", len(batch), func(ctx context.Context) error {
		timer := metrics.NewTimer()
		res, err := send(ctx, batch)
		u.collector.ObserveBatch(timer.Stop())
		if err != nil {
			u.bus.Emit(events.Batch, events.Event{Count: len(batch), Err: err})
			return err
		}

		result.Add(res)
		u.collector.AddRetries(res.Retries)

		var rejected error
		if res.Failed > 0 {
			rejected = errors.Newf(errors.ErrorTypeSink, "%d of %d records rejected", res.Failed, res.Records)
		}
		u.bus.Emit(events.Batch, events.Event{Count: len(batch), Err: rejected})
		return nil
	})
}
