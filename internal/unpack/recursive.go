package unpack

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"github.com/JakeFAU/alma-bulk/internal/metrics"
	"github.com/JakeFAU/alma-bulk/internal/mous"
)

// matchesAny tests a delivered-relative slash path, and its base name, against
// the patterns case-sensitively and then case-insensitively.
func matchesAny(rel string, patterns []string) bool {
	name := path.Base(rel)
	for _, p := range patterns {
		lp := strings.ToLower(p)
		if match(p, name) || match(p, rel) || match(lp, strings.ToLower(name)) || match(lp, strings.ToLower(rel)) {
			return true
		}
	}
	return false
}

func match(pattern, name string) bool {
	ok, err := doublestar.Match(pattern, name)
	return err == nil && ok
}

// findNested lists unprocessed archives under root that match a pattern,
// sorted by path.
func findNested(root string, patterns []string, processed map[string]bool) ([]string, error) {
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return nil, nil
	}
	matches, err := doublestar.Glob(os.DirFS(root), "**/*", doublestar.WithFilesOnly(), doublestar.WithNoFollow())
	if err != nil {
		return nil, err
	}
	var out []string
	for _, rel := range matches {
		if !isArchive(rel) || !matchesAny(rel, patterns) {
			continue
		}
		abs := filepath.Join(root, filepath.FromSlash(rel))
		if processed[abs] {
			continue
		}
		out = append(out, abs)
	}
	slices.Sort(out)
	return out, nil
}

// recursive repeatedly extracts nested archives revealed under root, up to
// the configured number of passes. Each archive is visited at most once.
func (u *Unpacker) recursive(ctx context.Context, root string) mous.RecursiveReport {
	rep := mous.RecursiveReport{
		Enabled:   u.opts.RecursiveEnabled,
		Patterns:  u.opts.patterns(),
		MaxPasses: max(1, u.opts.RecursiveMaxPasses),
		Passes:    []mous.RecursivePass{},
	}
	if !rep.Enabled || len(rep.Patterns) == 0 {
		return rep
	}

	processed := map[string]bool{}
	for pass := 1; pass <= rep.MaxPasses; pass++ {
		if ctx.Err() != nil {
			break
		}
		candidates, err := findNested(root, rep.Patterns, processed)
		if err != nil {
			u.logger.Warn("recursive scan failed", zap.String("root", root), zap.Error(err))
			break
		}
		if len(candidates) == 0 {
			break
		}

		info := mous.RecursivePass{Pass: pass, Archives: []string{}, Errors: []mous.ArchiveFailure{}}
		for _, archive := range candidates {
			processed[archive] = true
			if err := u.extractNested(archive); err != nil {
				rep.ErrorCount++
				info.Errors = append(info.Errors, mous.ArchiveFailure{Archive: archive, Error: err.Error()})
				metrics.ObserveArchive("recursive", "failed")
				u.logger.Warn("recursive unpack failed", zap.String("archive", archive), zap.Error(err))
				continue
			}
			rep.UnpackedCount++
			info.Archives = append(info.Archives, archive)
			metrics.ObserveArchive("recursive", "unpacked")
			if u.opts.RemoveArchivesAfterUnpack {
				if err := os.Remove(archive); err != nil && !os.IsNotExist(err) {
					u.logger.Warn("remove nested archive", zap.String("archive", archive), zap.Error(err))
				}
			}
		}
		rep.Passes = append(rep.Passes, info)
	}
	return rep
}

func (u *Unpacker) extractNested(archive string) error {
	names, err := listMembers(archive)
	if err != nil {
		return &ExtractionError{Archive: archive, Err: err}
	}
	target := filepath.Dir(archive)
	prefix := detectParentPrefix(names, filepath.Base(target))
	if err := extractArchive(archive, target, names, prefix, u.logger); err != nil {
		return &ExtractionError{Archive: archive, Err: err}
	}
	return nil
}
