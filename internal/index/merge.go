package index

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/JakeFAU/alma-bulk/internal/metrics"
	"github.com/JakeFAU/alma-bulk/internal/mous"
)

// IntegrityNotRun is reported when no consistency check was requested.
const IntegrityNotRun = "not-run"

// MergeOptions selects the post-merge maintenance steps.
type MergeOptions struct {
	Vacuum         bool
	IntegrityCheck bool
}

// MergeResult reports what a merge folded in.
type MergeResult struct {
	ShardDBs     int
	SummaryFiles int
	Integrity    string
	Skipped      []*MergeSourceError
}

// String renders the one-line merge summary.
func (r MergeResult) String() string {
	return fmt.Sprintf("Merged shard_dbs=%d summary_files=%d integrity=%s", r.ShardDBs, r.SummaryFiles, r.Integrity)
}

// Merge folds every shard store under shardsRoot, then every loose summary
// file with its sibling manifest, into s. Inputs are visited in path order,
// so for a unit present in several inputs the last one wins. Unreadable
// inputs are skipped with a warning.
func (s *Store) Merge(ctx context.Context, shardsRoot string, opts MergeOptions) (MergeResult, error) {
	res := MergeResult{Integrity: IntegrityNotRun}

	dbs, err := globSorted(shardsRoot, "**/*.sqlite")
	if err != nil {
		return res, err
	}
	for _, path := range dbs {
		if s.isSelf(path) {
			continue
		}
		if err := s.mergeShard(ctx, path); err != nil {
			s.skip(&res, "shard_db", path, err)
			continue
		}
		res.ShardDBs++
		metrics.ObserveMergeSource("shard_db", "merged")
	}

	summaries, err := globSorted(shardsRoot, "**/"+mous.SummaryFilename)
	if err != nil {
		return res, err
	}
	for _, path := range summaries {
		dir := filepath.Dir(path)
		err := s.IngestFiles(ctx, path, filepath.Join(dir, mous.ManifestFilename), filepath.Base(dir))
		if err != nil {
			s.skip(&res, "summary_file", path, err)
			continue
		}
		res.SummaryFiles++
		metrics.ObserveMergeSource("summary_file", "merged")
	}

	if opts.Vacuum {
		if err := s.Vacuum(ctx); err != nil {
			return res, err
		}
	}
	if opts.IntegrityCheck {
		integrity, err := s.IntegrityCheck(ctx)
		if err != nil {
			return res, err
		}
		res.Integrity = integrity
	}
	return res, nil
}

func (s *Store) skip(res *MergeResult, kind, path string, err error) {
	srcErr := &MergeSourceError{Path: path, Err: err}
	res.Skipped = append(res.Skipped, srcErr)
	metrics.ObserveMergeSource(kind, "skipped")
	s.logger.Warn("skipping merge source", zap.String("type", kind), zap.String("path", path), zap.Error(err))
}

// isSelf reports whether path is this store's own file.
func (s *Store) isSelf(path string) bool {
	if s.path == "" {
		return false
	}
	a, err := os.Stat(path)
	if err != nil {
		return false
	}
	b, err := os.Stat(s.path)
	if err != nil {
		return false
	}
	return os.SameFile(a, b)
}

func globSorted(root, pattern string) ([]string, error) {
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("shards root %s is not a directory", root)
	}
	matches, err := doublestar.Glob(os.DirFS(root), pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("glob %s under %s: %w", pattern, root, err)
	}
	out := make([]string, 0, len(matches))
	for _, rel := range matches {
		out = append(out, filepath.Join(root, filepath.FromSlash(rel)))
	}
	slices.Sort(out)
	return out, nil
}

// mergeShard copies every row of one shard store into s in a single
// transaction. Unit rows update in place so existing children survive; eb
// and artifact rows replace on key conflict.
func (s *Store) mergeShard(ctx context.Context, path string) error {
	src, err := openDB(ctx, path)
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := copyTable(ctx, src, tx, "mous", mousColumns, upsertClause); err != nil {
			return err
		}
		if err := copyTable(ctx, src, tx, "eb", ebColumns, replaceClause); err != nil {
			return err
		}
		return copyTable(ctx, src, tx, "artifact", artifactColumns, replaceClause)
	})
}

type insertClause func(table string, cols []string) string

func replaceClause(table string, cols []string) string {
	return fmt.Sprintf("INSERT OR REPLACE INTO %s (%s) VALUES (%s)",
		table, strings.Join(cols, ", "), placeholders(len(cols)))
}

// upsertClause updates every carried column of an existing unit row.
func upsertClause(table string, cols []string) string {
	sets := make([]string, 0, len(cols))
	for _, c := range cols {
		if c == "mous_uid" {
			continue
		}
		sets = append(sets, c+"=excluded."+c)
	}
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(mous_uid) DO ",
		table, strings.Join(cols, ", "), placeholders(len(cols)))
	if len(sets) == 0 {
		return q + "NOTHING"
	}
	return q + "UPDATE SET " + strings.Join(sets, ", ")
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// copyTable reads all rows of table from src and writes the columns both
// sides know about.
func copyTable(ctx context.Context, src *sqlx.DB, tx *sqlx.Tx, table string, allowed []string, clause insertClause) error {
	rows, err := src.QueryxContext(ctx, "SELECT * FROM "+table)
	if err != nil {
		return fmt.Errorf("read %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	srcCols, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("columns of %s: %w", table, err)
	}
	var cols []string
	for _, c := range allowed {
		if slices.Contains(srcCols, c) {
			cols = append(cols, c)
		}
	}
	if len(cols) == 0 {
		return nil
	}
	query := clause(table, cols)

	for rows.Next() {
		row := map[string]any{}
		if err := rows.MapScan(row); err != nil {
			return fmt.Errorf("scan %s: %w", table, err)
		}
		args := make([]any, len(cols))
		for i, c := range cols {
			args[i] = row[c]
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("write %s row: %w", table, err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate %s: %w", table, err)
	}
	return nil
}
