// Package pipeline runs one storage-to-Mixpanel ingestion job.
//
// A run validates the job, lists the matching objects, then runs two stages
// concurrently: the Downloader fetches, parses and transforms objects onto a
// bounded channel while the Uploader drains it into the sink. The channel is
// closed only after every object has been pushed, which tells the Uploader
// to flush its last batch. Progress is published on a per-run event bus.
//
//	runner := pipeline.NewRunner(cfg, pipeline.WithVersion(version))
//	summary, err := runner.Run(ctx)
package pipeline

import (
	"context"
	"os"
	"sync"

	gojson "github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/storage-mixpanel/pkg/config"
	"github.com/ajitpratap0/storage-mixpanel/pkg/errors"
	"github.com/ajitpratap0/storage-mixpanel/pkg/events"
	"github.com/ajitpratap0/storage-mixpanel/pkg/logger"
	"github.com/ajitpratap0/storage-mixpanel/pkg/metrics"
	"github.com/ajitpratap0/storage-mixpanel/pkg/models"
	"github.com/ajitpratap0/storage-mixpanel/pkg/observability"
	"github.com/ajitpratap0/storage-mixpanel/pkg/sink"
	"github.com/ajitpratap0/storage-mixpanel/pkg/storage"
	"github.com/ajitpratap0/storage-mixpanel/pkg/transform"
)

// State is a step of the run state machine.
type State string

// Run states. The last three are terminal failures.
const (
	StateStart           State = "start"
	StateConfigValidated State = "config-validated"
	StateEnumerating     State = "enumerating"
	StateDownloading     State = "downloading"
	StateUploading       State = "uploading"
	StateCleanup         State = "cleanup"
	StateSummarized      State = "summarized"
	StateEnd             State = "end"

	StateInvalidConfig  State = "invalid-config"
	StateStorageError   State = "storage-error"
	StateUnknownFailure State = "unknown-failure"
)

// Option customizes a Runner.
type Option func(*Runner)

// WithStore uses store instead of opening one from the job's storage kind.
// The caller keeps ownership and closes it.
func WithStore(store storage.Store) Option {
	return func(r *Runner) { r.store = store }
}

// WithSink uses s instead of the Mixpanel sink. The runner still closes it.
func WithSink(s sink.Sink) Option {
	return func(r *Runner) { r.sink = s }
}

// WithVersion sets the version reported in the summary.
func WithVersion(v string) Option {
	return func(r *Runner) { r.version = v }
}

// WithListener registers fn to subscribe to the run's bus before any event
// is emitted.
func WithListener(fn func(*events.Bus)) Option {
	return func(r *Runner) { r.listeners = append(r.listeners, fn) }
}

// Runner executes one job.
type Runner struct {
	cfg       config.JobConfig
	version   string
	store     storage.Store
	sink      sink.Sink
	listeners []func(*events.Bus)

	mu    sync.Mutex
	state State
}

// NewRunner creates a runner for cfg. The configuration is copied; later
// changes by the caller do not affect the run.
func NewRunner(cfg *config.JobConfig, opts ...Option) *Runner {
	r := &Runner{cfg: *cfg, version: "dev", state: StateStart}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// State returns the current state.
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// attachState moves the run through the transfer states. Both stages run
// concurrently: the run is downloading while objects are still being
// fetched and uploading once only the record drain remains.
func (r *Runner) attachState(bus *events.Bus) {
	bus.Once(events.DownloadStart, func(events.Event) { r.setState(StateDownloading) })
	bus.Once(events.DownloadEnd, func(e events.Event) {
		if e.Err == nil {
			r.setState(StateUploading)
		}
	})
}

func (r *Runner) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// Config returns the effective job configuration after Run applied defaults
// and strict adjustment.
func (r *Runner) Config() config.JobConfig {
	return r.cfg
}

// Run executes the job. The configuration is validated before any I/O.
// On a download failure the sink is closed and the upload cancelled before
// the error is returned.
func (r *Runner) Run(ctx context.Context) (summary *Summary, err error) {
	r.setState(StateStart)
	cfg := &r.cfg
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		r.setState(StateInvalidConfig)
		return nil, err
	}
	r.setState(StateConfigValidated)

	runID := uuid.NewString()
	ctx = logger.ContextWithJob(ctx, runID, cfg.Storage, cfg.Mixpanel.Type)
	log := logger.WithContext(ctx).With(zap.String("component", "runner"))

	if cfg.AdjustStrictMode() {
		log.Warn("strict mode disabled: event jobs need insert_id_col for strict imports")
	}

	stats := NewStats()
	stats.Start(TimerJob)
	bus := events.NewBus(runID, cfg.Redacted())
	attachTimers(bus, stats)
	r.attachState(bus)
	attachLogging(bus, log)
	collector := metrics.NewCollector(cfg.Mixpanel.Type, cfg.Storage)
	collector.Attach(bus)
	for _, fn := range r.listeners {
		fn(bus)
	}

	ctx, span := observability.StartSpan(ctx, "job",
		attribute.String("run_id", runID),
		attribute.String("record_type", cfg.Mixpanel.Type),
		attribute.String("storage", cfg.Storage))
	defer func() {
		collector.Finish(err)
		span.End(err)
	}()

	store := r.store
	if store == nil {
		if store, err = storage.Open(ctx, cfg); err != nil {
			r.setState(StateStorageError)
			return nil, err
		}
		defer store.Close()
	}

	snk, err := r.openSink(cfg)
	if err != nil {
		r.setState(StateInvalidConfig)
		return nil, err
	}
	defer snk.Close()

	r.setState(StateEnumerating)
	listing, err := storage.NewEnumerator(store, bus).List(ctx, cfg.Path)
	if err != nil {
		r.setState(StateStorageError)
		return nil, err
	}
	log.Info("starting transfer",
		zap.Int("objects", len(listing.Objects)),
		zap.Int64("bytes", listing.TotalBytes),
		zap.Int("workers", cfg.Options.Workers),
		zap.Int("batch_size", snk.BatchSize()))

	records := make(chan models.Record, cfg.Options.BufferSize)
	downloader := NewDownloader(store, transform.New(cfg, nil), cfg.Format, cfg.Options.Workers,
		bus, stats, collector, log)
	uploader := NewUploader(snk, cfg.Mixpanel.Type, cfg.Streamable(), cfg.Options.Workers,
		bus, collector, log)

	var (
		result      *sink.Result
		failedStage string
		once        sync.Once
	)
	fail := func(stage string) { once.Do(func() { failedStage = stage }) }

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := downloader.Run(gctx, listing, records); err != nil {
			fail("download")
			_ = snk.Close()
			return err
		}
		return nil
	})
	g.Go(func() error {
		res, err := uploader.Run(gctx, records)
		if err != nil {
			fail("upload")
			return err
		}
		result = res
		return nil
	})

	if err = g.Wait(); err != nil {
		return nil, r.classify(ctx, failedStage, err, log)
	}

	if cfg.Options.DeleteFiles {
		r.setState(StateCleanup)
		if err = downloader.Cleanup(ctx, listing.Objects); err != nil {
			r.setState(StateStorageError)
			log.Error("cleanup failed", zap.Error(err))
			stats.Stop(TimerJob)
			return stats.Summarize(runID, r.version, cfg.Mixpanel.Type, result), err
		}
	}

	stats.Stop(TimerJob)
	summary = stats.Summarize(runID, r.version, cfg.Mixpanel.Type, result)
	r.setState(StateSummarized)

	if cfg.Options.LogFile != "" {
		if werr := WriteSummary(cfg.Options.LogFile, summary); werr != nil {
			log.Warn("failed to write summary", zap.String("path", cfg.Options.LogFile), zap.Error(werr))
		}
	}

	log.Info("job complete",
		zap.Int("total", result.Total),
		zap.Int("success", result.Success),
		zap.Int("failed", result.Failed),
		zap.Int64("rows", summary.Storage.Rows),
		zap.String("bytes", summary.Storage.HumanBytes),
		zap.Float64("eps", result.EPS),
		zap.String("elapsed", summary.Time.Job.Human))
	r.setState(StateEnd)
	return summary, nil
}

func (r *Runner) openSink(cfg *config.JobConfig) (sink.Sink, error) {
	if r.sink != nil {
		return r.sink, nil
	}
	if cfg.Options.DryRun {
		return sink.NewMemory(cfg.BatchSize()), nil
	}
	mp, err := sink.NewMixpanel(cfg)
	if err != nil {
		return nil, err
	}
	return mp, nil
}

// classify maps the first stage failure onto the terminal state and error.
func (r *Runner) classify(ctx context.Context, stage string, err error, log *zap.Logger) error {
	switch {
	case ctx.Err() != nil:
		r.setState(StateUnknownFailure)
		log.Error("job cancelled", zap.Error(ctx.Err()))
		return errors.Wrap(ctx.Err(), errors.ErrorTypeUnknownFailure, "job cancelled")
	case stage == "download":
		r.setState(StateStorageError)
		log.Error("download stage failed", zap.Error(err))
		if errors.TypeOf(err) == "" {
			return errors.Wrap(err, errors.ErrorTypeStorage, "download stage failed")
		}
		return err
	default:
		r.setState(StateUnknownFailure)
		log.Error("upload failed", zap.Error(err))
		return errors.Wrap(err, errors.ErrorTypeUnknownFailure, "upload coordinator failed")
	}
}

// WriteSummary stores summary as indented JSON at path.
func WriteSummary(path string, summary *Summary) error {
	data, err := gojson.MarshalIndent(summary, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
