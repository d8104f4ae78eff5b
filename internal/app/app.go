// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/alma-bulk/internal/clock/system"
	"github.com/JakeFAU/alma-bulk/internal/config"
	"github.com/JakeFAU/alma-bulk/internal/downloader"
	"github.com/JakeFAU/alma-bulk/internal/id/uuid"
	"github.com/JakeFAU/alma-bulk/internal/index"
	"github.com/JakeFAU/alma-bulk/internal/lister"
	"github.com/JakeFAU/alma-bulk/internal/logging"
	"github.com/JakeFAU/alma-bulk/internal/metrics"
	"github.com/JakeFAU/alma-bulk/internal/mous"
	"github.com/JakeFAU/alma-bulk/internal/pipeline"
	"github.com/JakeFAU/alma-bulk/internal/unpack"
)

// Version is stamped into run contexts and manifest history.
var Version = "0.1.0"

// App holds the shared services of one invocation: configuration, logger,
// clock and run id generator. Stage services are built on demand from the
// configuration.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	clock  mous.Clock
	ids    mous.IDGenerator
}

// Option customises an App.
type Option func(*App)

// WithClock replaces the wall clock.
func WithClock(c mous.Clock) Option {
	return func(a *App) { a.clock = c }
}

// WithIDGenerator replaces the run id generator.
func WithIDGenerator(g mous.IDGenerator) Option {
	return func(a *App) { a.ids = g }
}

// New builds an App around an existing logger.
func New(cfg config.Config, logger *zap.Logger, opts ...Option) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger, clock: system.New(), ids: uuid.New()}
	for _, opt := range opts {
		opt(a)
	}
	metrics.Init()
	return a
}

// NewApp builds the logger from cfg and then the App. It fails fast when
// the logger cannot be built.
func NewApp(cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}
	return New(cfg, logger), nil
}

// GetLogger returns the shared zap logger.
func (a *App) GetLogger() *zap.Logger {
	return a.logger
}

// GetConfig returns the loaded configuration.
func (a *App) GetConfig() config.Config {
	return a.cfg
}

// NewRun stamps a run context for command and returns a logger tagged with it.
func (a *App) NewRun(command, shardID string) (mous.RunContext, *zap.Logger, error) {
	rc, err := mous.NewRunContext(command, Version, shardID, a.clock, a.ids)
	if err != nil {
		return mous.RunContext{}, nil, err
	}
	return rc, logging.ForRun(a.logger, rc.RunID, command, shardID), nil
}

// OpenIndex opens (creating if needed) the index store at path.
func (a *App) OpenIndex(ctx context.Context, path string, logger *zap.Logger) (*index.Store, error) {
	if logger == nil {
		logger = a.logger
	}
	return index.Open(ctx, path, logger, index.WithClock(a.clock))
}

// Lister builds the artifact listing client.
func (a *App) Lister(logger *zap.Logger) (*lister.Lister, error) {
	return lister.New(lister.Config{
		Endpoint:          a.cfg.Archive.DatalinkSyncURL,
		Timeout:           a.cfg.Archive.Timeout,
		UserAgent:         a.cfg.Archive.UserAgent,
		RequestsPerSecond: a.cfg.Archive.RequestsPerSecond,
		MaxRetries:        a.cfg.Archive.MaxRetries,
	}, logger)
}

// Downloader builds the transfer manager. maxWorkers overrides the
// configured pool size when positive.
func (a *App) Downloader(maxWorkers int, logger *zap.Logger) *downloader.Manager {
	workers := a.cfg.Download.MaxWorkers
	if maxWorkers > 0 {
		workers = maxWorkers
	}
	return downloader.New(downloader.Config{
		Concurrency:     workers,
		Retries:         a.cfg.Download.RetryCount,
		RateLimit:       a.cfg.Download.RateLimit,
		ComputeChecksum: a.cfg.Download.ComputeSHA256,
		UserAgent:       a.cfg.Archive.UserAgent,
		Timeout:         a.cfg.Archive.Timeout,
	}, logger)
}

// UnpackOptions maps the unpack configuration onto the extraction policy.
func (a *App) UnpackOptions() unpack.Options {
	u := a.cfg.Unpack
	return unpack.Options{
		UnpackAuxiliary:           u.UnpackAuxiliary,
		UnpackReadmeArchives:      u.UnpackReadmeArchives,
		UnpackWeblogArchives:      u.UnpackWeblogArchives,
		UnpackOtherArchives:       u.UnpackOtherArchives,
		RemoveArchivesAfterUnpack: u.RemoveArchivesAfterUnpack,
		RecursiveEnabled:          u.RecursiveUnpackEnabled,
		RecursivePatterns:         u.RecursiveUnpackPatterns,
		RecursiveMaxPasses:        u.RecursiveUnpackMaxPasses,
	}
}

// RunnerOptions tune a pipeline runner for one command.
type RunnerOptions struct {
	Dest string
	// Download wires the lister and transfer manager.
	Download bool
	// MaxWorkers overrides download.max_workers when positive.
	MaxWorkers int
	// MaxRuntime overrides runtime.max_runtime when positive.
	MaxRuntime time.Duration
	// ArtifactSpec overrides the configured selection when set.
	ArtifactSpec string
	Index      pipeline.Indexer
}

// Runner assembles a pipeline runner from the configuration.
func (a *App) Runner(opts RunnerOptions, logger *zap.Logger) (*pipeline.Runner, error) {
	if logger == nil {
		logger = a.logger
	}
	deps := pipeline.Deps{
		Unpacker:   unpack.New(a.UnpackOptions(), logger),
		Summarizer: pipeline.FileSummarizer{},
		Index:      opts.Index,
	}
	if opts.Download {
		l, err := a.Lister(logger)
		if err != nil {
			return nil, err
		}
		deps.Lister = l
		deps.Acquirer = a.Downloader(opts.MaxWorkers, logger)
	}
	budget := a.cfg.Runtime.MaxRuntime
	if opts.MaxRuntime > 0 {
		budget = opts.MaxRuntime
	}
	spec := a.cfg.ArtifactSpec()
	if opts.ArtifactSpec != "" {
		spec = opts.ArtifactSpec
	}
	return pipeline.New(pipeline.Config{
		Dest:       opts.Dest,
		Selection:  downloader.ParseSelection(spec),
		MaxRuntime: budget,
	}, deps, logger), nil
}

// Close flushes the logger.
func (a *App) Close() {
	_ = a.logger.Sync()
}
