// Package unpack extracts a unit's downloaded archives in place, normalises
// redundant path prefixes and follows nested archives for a bounded number
// of passes.
package unpack

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/alma-bulk/internal/metrics"
	"github.com/JakeFAU/alma-bulk/internal/mous"
)

const reasonUnchanged = "unchanged since last unpack"

// Unpacker applies an unpack policy to unit manifests.
type Unpacker struct {
	opts   Options
	logger *zap.Logger
}

// New builds an Unpacker.
func New(opts Options, logger *zap.Logger) *Unpacker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Unpacker{opts: opts, logger: logger}
}

// Unpack extracts the selected manifest archives into their own directory,
// runs the recursive passes over deliveredDir, appends one history entry and
// saves the manifest. Per-archive failures are recorded on the artifact and
// in the report; only a failure to save is returned.
func (u *Unpacker) Unpack(ctx context.Context, rc mous.RunContext, m *mous.Manifest, deliveredDir string) (*mous.UnpackReport, error) {
	logger := u.logger.With(zap.String("mous_uid", m.MousUID))
	report := &mous.UnpackReport{
		UnpackAuxiliary:           u.opts.UnpackAuxiliary,
		UnpackReadmeArchives:      u.opts.UnpackReadmeArchives,
		UnpackWeblogArchives:      u.opts.UnpackWeblogArchives,
		UnpackOtherArchives:       u.opts.UnpackOtherArchives,
		RemoveArchivesAfterUnpack: u.opts.RemoveArchivesAfterUnpack,
		SelectedArchives:          []mous.ArchiveRef{},
		Unpacked:                  []string{},
		Failed:                    []mous.ArchiveFailure{},
	}
	if m.Unpacked == nil {
		m.Unpacked = map[string]string{}
	}

	selected, skipped := selectArchives(m, deliveredDir, u.opts)
	report.SkippedArchives = skipped
	for _, c := range selected {
		report.SelectedArchives = append(report.SelectedArchives, c.ref(m))
	}

	for _, c := range selected {
		if ctx.Err() != nil {
			break
		}
		art := &m.Artifacts[c.index]
		key := filepath.Base(c.path)
		stamp := mous.ArchiveStamp(c.size, c.mtime)
		if m.UnpackCurrent(key, stamp) {
			report.SkippedArchives = append(report.SkippedArchives, mous.SkippedArchive{ArchiveRef: c.ref(m), Reason: reasonUnchanged})
			metrics.ObserveArchive("manifest", "skipped")
			continue
		}

		target := filepath.Dir(c.path)
		prefix, unitLayout, err := u.extractTracked(c.path, target)
		if err != nil {
			art.UnpackErrors = append(art.UnpackErrors, mous.UnpackError{Timestamp: rc.Timestamp(), Error: err.Error()})
			report.Failed = append(report.Failed, mous.ArchiveFailure{Archive: c.path, Error: err.Error()})
			metrics.ObserveArchive("manifest", "failed")
			logger.Warn("unpack failed", zap.String("archive", c.path), zap.Error(err))
			continue
		}

		art.UnpackedTo = target
		art.UnpackedAt = rc.Timestamp()
		m.Unpacked[key] = stamp
		if len(prefix) > 0 {
			art.StripPrefix = strings.Join(prefix, "/")
		}
		if unitLayout {
			backfillUIDs(m, prefix)
		}

		art.ArchiveRemovedAfterUnpack = false
		if u.opts.RemoveArchivesAfterUnpack {
			if err := os.Remove(c.path); err != nil {
				logger.Warn("remove archive after unpack", zap.String("archive", c.path), zap.Error(err))
			} else {
				art.ArchiveRemovedAfterUnpack = true
			}
		}
		report.Unpacked = append(report.Unpacked, c.path)
		metrics.ObserveArchive("manifest", "unpacked")
		logger.Info("unpacked archive",
			zap.String("archive", c.path),
			zap.String("kind", string(c.kind)),
			zap.String("target", target),
		)
	}

	report.Recursive = u.recursive(ctx, deliveredDir)

	entry := rc.History(mous.EventUnpack)
	entry.Message = "Unpack pass completed"
	entry.Unpack = report
	m.AppendHistory(entry)
	if err := m.Save(rc.Timestamp()); err != nil {
		return report, fmt.Errorf("save manifest: %w", err)
	}
	return report, nil
}

// extractTracked extracts a manifest archive, stripping the unit layout
// prefix when every member shares one, else a top-level directory named
// like target.
func (u *Unpacker) extractTracked(archive, target string) (prefix []string, unitLayout bool, err error) {
	names, err := listMembers(archive)
	if err != nil {
		return nil, false, &ExtractionError{Archive: archive, Err: err}
	}
	prefix = detectUnitPrefix(names)
	unitLayout = prefix != nil
	if !unitLayout {
		prefix = detectParentPrefix(names, filepath.Base(target))
	}
	if err := extractArchive(archive, target, names, prefix, u.logger); err != nil {
		return nil, false, &ExtractionError{Archive: archive, Err: err}
	}
	return prefix, unitLayout, nil
}
