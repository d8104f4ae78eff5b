// Package pipeline drives units one at a time through listing, acquisition,
// extraction, summarization and the shard index upsert.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/alma-bulk/internal/downloader"
	"github.com/JakeFAU/alma-bulk/internal/index"
	"github.com/JakeFAU/alma-bulk/internal/layout"
	"github.com/JakeFAU/alma-bulk/internal/metrics"
	"github.com/JakeFAU/alma-bulk/internal/mous"
)

// Lister returns the artifacts offered for a unit.
type Lister interface {
	List(ctx context.Context, unitID string) ([]mous.ArtifactInfo, error)
}

// Acquirer brings selected artifacts into a delivered directory.
type Acquirer interface {
	Acquire(
		ctx context.Context,
		rc mous.RunContext,
		manifest *mous.Manifest,
		deliveredDir string,
		available []mous.ArtifactInfo,
		sel downloader.Selection,
	) (downloader.Result, error)
}

// Unpacker extracts a unit's delivered archives.
type Unpacker interface {
	Unpack(ctx context.Context, rc mous.RunContext, m *mous.Manifest, deliveredDir string) (*mous.UnpackReport, error)
}

// Summarizer produces the summary document for a unit. A nil summary with a
// nil error means none is available yet.
type Summarizer interface {
	Summarize(ctx context.Context, paths layout.Paths, m *mous.Manifest) (*mous.Summary, error)
}

// Indexer receives one upsert per processed unit.
type Indexer interface {
	Upsert(ctx context.Context, in index.UpsertInput) error
}

// Config controls a Runner.
type Config struct {
	Dest      string
	Selection downloader.Selection
	// MaxRuntime stops the batch after the unit that exhausts it; zero disables the budget.
	MaxRuntime time.Duration
}

// Deps are the stage collaborators. Stages whose collaborator is nil are skipped.
type Deps struct {
	Lister     Lister
	Acquirer   Acquirer
	Unpacker   Unpacker
	Summarizer Summarizer
	Index      Indexer
}

// Options selects the stages to run for each unit.
type Options struct {
	Download  bool
	Unpack    bool
	Summarize bool
}

// Result counts the units handled by one batch.
type Result struct {
	Processed int
	Failed    int
	// Stopped is set when the runtime budget ended the batch early.
	Stopped bool
}

// Runner processes units sequentially.
type Runner struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger
}

// New builds a Runner.
func New(cfg Config, deps Deps, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Selection == nil {
		cfg.Selection = downloader.ParseSelection("default")
	}
	return &Runner{cfg: cfg, deps: deps, logger: logger}
}

// Run processes records in order. A unit failure is logged, counted and
// indexed with its failing stage; it never stops the batch. Cancellation is
// checked before each unit, so a unit already started runs to completion;
// it is the only error returned.
func (r *Runner) Run(ctx context.Context, rc mous.RunContext, records []mous.Record, opts Options) (Result, error) {
	var res Result
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		paths, err := layout.Ensure(r.cfg.Dest, rec)
		if err != nil {
			r.failed(&res, rec.MemberOUSUID, err)
		} else {
			m, err := mous.LoadOrInitManifest(paths.Manifest, rec, rc.Timestamp())
			if err != nil {
				r.failed(&res, rec.MemberOUSUID, err)
			} else {
				r.count(&res, rec.MemberOUSUID, r.process(ctx, rc, paths, m, opts))
			}
		}
		if r.overBudget(rc) {
			res.Stopped = true
			r.logger.Info("stopping due to max runtime", zap.Int("processed", res.Processed))
			break
		}
	}
	return res, nil
}

// RunDirs processes existing unit directories. Directories without a
// manifest are skipped and not counted.
func (r *Runner) RunDirs(ctx context.Context, rc mous.RunContext, dirs []string, opts Options) (Result, error) {
	var res Result
	for _, dir := range dirs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		paths := layout.ForDir(dir)
		m, err := mous.LoadManifest(paths.Manifest)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			r.failed(&res, dir, err)
		} else {
			if err := layout.EnsureDirs(paths); err != nil {
				r.failed(&res, m.MousUID, err)
			} else {
				r.count(&res, m.MousUID, r.process(ctx, rc, paths, m, opts))
			}
		}
		if r.overBudget(rc) {
			res.Stopped = true
			r.logger.Info("stopping due to max runtime", zap.Int("processed", res.Processed))
			break
		}
	}
	return res, nil
}

// process runs every enabled stage for one unit. Stages see a context that
// ignores cancellation so an interrupted batch stops between units, never
// inside one.
func (r *Runner) process(parent context.Context, rc mous.RunContext, paths layout.Paths, m *mous.Manifest, opts Options) error {
	ctx := context.WithoutCancel(parent)
	logger := r.logger.With(zap.String("mous_uid", m.MousUID))
	in := index.UpsertInput{Manifest: m, LocalDir: paths.UnitDir, ShardID: rc.ShardID}
	var stageErr error

	if opts.Download && r.deps.Lister != nil && r.deps.Acquirer != nil {
		if stage, err := r.download(ctx, rc, paths, m); err != nil {
			in.ErrorStage, in.ErrorMessage = stage, err.Error()
			stageErr = fmt.Errorf("%s: %w", stage, err)
		}
	}
	if !fileExists(paths.Manifest) {
		if err := m.Save(rc.Timestamp()); err != nil {
			return fmt.Errorf("save manifest: %w", err)
		}
	}

	if stageErr == nil && opts.Unpack && r.deps.Unpacker != nil {
		if _, err := r.deps.Unpacker.Unpack(ctx, rc, m, paths.Delivered); err != nil {
			in.ErrorStage, in.ErrorMessage = index.StageUnpack, err.Error()
			stageErr = fmt.Errorf("%s: %w", index.StageUnpack, err)
		}
	}

	if opts.Summarize && r.deps.Summarizer != nil {
		sum, err := r.deps.Summarizer.Summarize(ctx, paths, m)
		switch {
		case err != nil && stageErr == nil:
			in.ErrorStage, in.ErrorMessage = index.StageSummary, err.Error()
			stageErr = fmt.Errorf("%s: %w", index.StageSummary, err)
		case err == nil:
			in.Summary = sum
		}
	}

	if r.deps.Index != nil {
		if err := r.deps.Index.Upsert(ctx, in); err != nil {
			return errors.Join(stageErr, fmt.Errorf("index upsert: %w", err))
		}
	}
	if stageErr == nil {
		logger.Debug("unit processed")
	}
	return stageErr
}

// download lists and acquires a unit's artifacts. A listing failure is
// recorded in the manifest history and saved; it reports StageList.
func (r *Runner) download(ctx context.Context, rc mous.RunContext, paths layout.Paths, m *mous.Manifest) (string, error) {
	available, err := r.deps.Lister.List(ctx, m.MousUID)
	if err != nil {
		entry := rc.History(mous.EventDownload)
		entry.Message = "Listing failed: " + err.Error()
		entry.SelectedKinds = r.cfg.Selection.Sorted()
		m.AppendHistory(entry)
		if saveErr := m.Save(rc.Timestamp()); saveErr != nil {
			return index.StageList, errors.Join(err, fmt.Errorf("save manifest: %w", saveErr))
		}
		return index.StageList, err
	}
	if _, err := r.deps.Acquirer.Acquire(ctx, rc, m, paths.Delivered, available, r.cfg.Selection); err != nil {
		return index.StageDownload, err
	}
	return "", nil
}

func (r *Runner) count(res *Result, uid string, err error) {
	if err != nil {
		r.failed(res, uid, err)
		return
	}
	res.Processed++
	metrics.ObserveUnit("pipeline", "ok")
}

func (r *Runner) failed(res *Result, uid string, err error) {
	res.Processed++
	res.Failed++
	metrics.ObserveUnit("pipeline", "failed")
	r.logger.Warn("unit failed", zap.String("mous_uid", uid), zap.Error(err))
}

func (r *Runner) overBudget(rc mous.RunContext) bool {
	return r.cfg.MaxRuntime > 0 && rc.Elapsed() >= r.cfg.MaxRuntime
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
