package pipeline

import (
	"context"
	stderrors "errors"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/storage-mixpanel/pkg/errors"
	"github.com/ajitpratap0/storage-mixpanel/pkg/events"
	"github.com/ajitpratap0/storage-mixpanel/pkg/metrics"
	"github.com/ajitpratap0/storage-mixpanel/pkg/models"
	"github.com/ajitpratap0/storage-mixpanel/pkg/observability"
	"github.com/ajitpratap0/storage-mixpanel/pkg/parser"
	"github.com/ajitpratap0/storage-mixpanel/pkg/storage"
	"github.com/ajitpratap0/storage-mixpanel/pkg/transform"
)

// Downloader fetches, parses and transforms source objects onto the record
// channel.
type Downloader struct {
	store     storage.Store
	transform transform.Func
	format    string
	workers   int

	bus       *events.Bus
	stats     *Stats
	collector *metrics.Collector
	logger    *zap.Logger

	finished atomic.Int64
}

// NewDownloader creates the download stage. workers below one means 1.
func NewDownloader(store storage.Store, fn transform.Func, format string, workers int,
	bus *events.Bus, stats *Stats, collector *metrics.Collector, log *zap.Logger) *Downloader {
	if workers < 1 {
		workers = 1
	}
	return &Downloader{
		store:     store,
		transform: fn,
		format:    format,
		workers:   workers,
		bus:       bus,
		stats:     stats,
		collector: collector,
		logger:    log.With(zap.String("component", "downloader")),
	}
}

// Finished returns the number of objects fully pushed onto the channel.
func (d *Downloader) Finished() int {
	return int(d.finished.Load())
}

// Run processes the listed objects with up to workers in flight. Records of
// one object are pushed in source order. out is closed once, after every
// object has finished; on failure it is left open and the first error is
// returned.
func (d *Downloader) Run(ctx context.Context, listing *storage.Listing, out chan<- models.Record) (err error) {
	objects := listing.Objects
	ctx, span := observability.StartSpan(ctx, "download")
	span.SetAttribute("objects", len(objects))
	span.SetAttribute("bytes", listing.TotalBytes)
	defer func() { span.End(err) }()

	d.bus.Emit(events.DownloadStart, events.Event{Count: len(objects), Size: listing.TotalBytes})

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)
	for _, obj := range objects {
		obj := obj
		g.Go(func() error {
			return d.process(gctx, obj, out)
		})
	}

	err = g.Wait()
	if err == nil && d.Finished() != len(objects) {
		err = errors.Newf(errors.ErrorTypeUnknownFailure, "download finished %d of %d objects", d.Finished(), len(objects))
	}
	d.bus.Emit(events.DownloadEnd, events.Event{Count: d.Finished(), Err: err})
	if err != nil {
		return err
	}

	close(out)
	return nil
}

func (d *Downloader) process(ctx context.Context, obj storage.Object, out chan<- models.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.bus.Emit(events.FileDownloadStart, events.Event{Object: obj.Name, Size: obj.Size})
	data, err := storage.Fetch(ctx, d.store, obj)
	d.bus.Emit(events.FileDownloadEnd, events.Event{Object: obj.Name, Size: obj.Size, Err: err})
	if err != nil {
		return err
	}

	rows, err := parser.Parse(d.format, data, obj.Name)
	if err != nil {
		typ := errors.TypeOf(err)
		if typ == "" {
			typ = errors.ErrorTypeData
		}
		return errors.Wrap(err, typ, "failed to parse object").WithDetail("object", obj.Name)
	}

	for _, row := range rows {
		select {
		case out <- d.transform(row):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	d.stats.AddObject(obj.Size, len(rows))
	d.collector.AddParsed(len(rows))
	d.finished.Add(1)
	d.logger.Debug("object processed", zap.String("object", obj.Name), zap.Int("rows", len(rows)))
	return nil
}

// Cleanup deletes objects after a successful upload. Missing objects count
// as deleted. Every outcome is recorded in the run stats; any failure makes
// the result a storage error.
func (d *Downloader) Cleanup(ctx context.Context, objects []storage.Object) error {
	var g errgroup.Group
	g.SetLimit(d.workers)

	var failed atomic.Int64
	for _, obj := range objects {
		obj := obj
		g.Go(func() error {
			d.bus.Emit(events.FileDeleteStart, events.Event{Object: obj.Name, Size: obj.Size})
			err := d.store.Delete(ctx, obj)
			if stderrors.Is(err, storage.ErrObjectNotFound) {
				err = nil
			}
			d.bus.Emit(events.FileDeleteEnd, events.Event{Object: obj.Name, Size: obj.Size, Err: err})
			d.stats.RecordDelete(obj.Name, err)
			if err != nil {
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	if n := failed.Load(); n > 0 {
		return errors.Newf(errors.ErrorTypeStorage, "failed to delete %d of %d objects", n, len(objects)).
			WithDetail("failed", n)
	}
	return nil
}
