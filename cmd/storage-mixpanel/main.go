package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/storage-mixpanel/internal/pipeline"
	"github.com/ajitpratap0/storage-mixpanel/pkg/config"
	mperrors "github.com/ajitpratap0/storage-mixpanel/pkg/errors"
	"github.com/ajitpratap0/storage-mixpanel/pkg/logger"
	"github.com/ajitpratap0/storage-mixpanel/pkg/metrics"
	"github.com/ajitpratap0/storage-mixpanel/pkg/observability"
)

var version = "0.1.0"

// RunFlags override job file settings when set on the command line.
type RunFlags struct {
	ConfigFile  string
	Verbose     bool
	Workers     int
	BatchSize   int
	DeleteFiles bool
	DryRun      bool
	LogFile     string
	LogLevel    string
	MetricsAddr string
	Trace       bool
	Timeout     time.Duration
}

func main() {
	root := &cobra.Command{
		Use:   "storage-mixpanel",
		Short: "Stream files from cloud object storage into Mixpanel",
		Long: `storage-mixpanel lists objects matching a path pattern in GCS, S3, MinIO or a
local directory, parses them (ndjson, json, csv, tsv, avro; optionally
compressed), maps every row to a Mixpanel event, profile or lookup table
row and uploads them in batches.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("storage-mixpanel v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(newRunCmd(), newValidateCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRunCmd() *cobra.Command {
	flags := &RunFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run an ingestion job",
		Long: `Run an ingestion job described by a YAML or JSON file.

Example:
  storage-mixpanel run --config job.yaml --workers 20 --log-file summary.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			err := runJob(cmd.Context(), flags, cmd.Flags().Changed("delete-files"), cmd.Flags().Changed("verbose"))
			if err != nil {
				reportError(err, flags.Verbose)
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&flags.ConfigFile, "config", "c", "", "Path to the job configuration file (required)")
	_ = cmd.MarkFlagRequired("config")
	cmd.Flags().BoolVarP(&flags.Verbose, "verbose", "v", false, "Human readable colored logs")
	cmd.Flags().IntVar(&flags.Workers, "workers", 0, "Concurrent downloads and sink requests (overrides options.workers)")
	cmd.Flags().IntVar(&flags.BatchSize, "batch-size", 0, "Records per sink request (overrides options.batch_size)")
	cmd.Flags().BoolVar(&flags.DeleteFiles, "delete-files", false, "Delete source objects after a successful upload")
	cmd.Flags().BoolVar(&flags.DryRun, "dry-run", false, "Transform records without sending them")
	cmd.Flags().StringVar(&flags.LogFile, "log-file", "", "Write the JSON run summary to this path")
	cmd.Flags().StringVar(&flags.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&flags.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9102")
	cmd.Flags().BoolVar(&flags.Trace, "trace", false, "Print OpenTelemetry spans to stderr")
	cmd.Flags().DurationVar(&flags.Timeout, "timeout", 0, "Abort the job after this long (0 = no limit)")
	return cmd
}

func newValidateCmd() *cobra.Command {
	var configFile string
	var printConfig bool
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a job configuration without touching storage or Mixpanel",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				fmt.Fprintln(os.Stderr, describe(err))
				return err
			}
			if cfg.AdjustStrictMode() {
				fmt.Fprintln(os.Stderr, "warning: strict mode will be disabled (no insert_id_col for event job)")
			}
			if printConfig {
				redacted := cfg.Redacted()
				out, err := yaml.Marshal(&redacted)
				if err != nil {
					return err
				}
				fmt.Print(string(out))
			}
			fmt.Println("configuration is valid")
			return nil
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to the job configuration file (required)")
	_ = cmd.MarkFlagRequired("config")
	cmd.Flags().BoolVar(&printConfig, "print", false, "Print the effective configuration with secrets masked")
	return cmd
}

func runJob(ctx context.Context, flags *RunFlags, deleteSet, verboseSet bool) error {
	cfg, err := config.Load(flags.ConfigFile)
	if err != nil {
		return err
	}
	applyFlags(cfg, flags, deleteSet, verboseSet)

	if err := logger.Init(logger.ForVerbosity(cfg.Options.Verbose, flags.LogLevel)); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	log := logger.With(zap.String("component", "cli"))

	if flags.Trace {
		tc := observability.DefaultTracingConfig()
		tc.ServiceVersion = version
		tc.Writer = os.Stderr
		shutdown, err := observability.InitTracing(tc)
		if err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(sctx); err != nil {
				log.Warn("failed to flush traces", zap.Error(err))
			}
		}()
	}

	if flags.MetricsAddr != "" {
		srv := serveMetrics(flags.MetricsAddr, log)
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if flags.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, flags.Timeout)
		defer cancel()
	}

	log.Info("starting job",
		zap.String("config", flags.ConfigFile),
		zap.String("path", cfg.Path),
		zap.String("record_type", cfg.Mixpanel.Type))

	summary, err := pipeline.NewRunner(cfg, pipeline.WithVersion(version)).Run(ctx)
	if err != nil {
		return err
	}
	if summary.Mixpanel.Failed > 0 {
		log.Warn("some records were rejected",
			zap.Int("failed", summary.Mixpanel.Failed),
			zap.Strings("sample", head(summary.Mixpanel.Errors, 5)))
	}
	return nil
}

// applyFlags lays command line overrides over the job file.
func applyFlags(cfg *config.JobConfig, flags *RunFlags, deleteSet, verboseSet bool) {
	// a buffer derived from the file's batch size and workers is recomputed
	if cfg.Options.BufferSize == cfg.BatchSize()*cfg.Options.Workers {
		cfg.Options.BufferSize = 0
	}
	if flags.Workers > 0 {
		cfg.Options.Workers = flags.Workers
	}
	if flags.BatchSize > 0 {
		cfg.Options.BatchSize = flags.BatchSize
	}
	if deleteSet {
		cfg.Options.DeleteFiles = flags.DeleteFiles
	}
	if verboseSet {
		cfg.Options.Verbose = flags.Verbose
	}
	if flags.DryRun {
		cfg.Options.DryRun = true
	}
	if flags.LogFile != "" {
		cfg.Options.LogFile = flags.LogFile
	}
	flags.Verbose = cfg.Options.Verbose
}

func serveMetrics(addr string, log *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", zap.Error(err))
		}
	}()
	log.Info("serving metrics", zap.String("addr", addr))
	return srv
}

// reportError prints a readable error in verbose mode and a structured
// critical entry otherwise.
func reportError(err error, verbose bool) {
	if verbose {
		logger.Error(describe(err))
		return
	}
	fields := []zap.Field{zap.Bool("critical", true), zap.Error(err)}
	if typ := mperrors.TypeOf(err); typ != "" {
		fields = append(fields, zap.String("error_type", string(typ)))
	}
	for _, key := range []string{"field", "pattern", "object", "storage"} {
		if v, ok := mperrors.Detail(err, key); ok {
			fields = append(fields, zap.Any(key, v))
		}
	}
	logger.Error("job failed", fields...)
}

func describe(err error) string {
	msg := "job failed: " + err.Error()
	if hint, ok := mperrors.Detail(err, "hint"); ok {
		msg += fmt.Sprintf("\n  hint: %v", hint)
	}
	if field, ok := mperrors.Detail(err, "field"); ok {
		msg += fmt.Sprintf("\n  check: %v", field)
	}
	return msg
}

func head(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
