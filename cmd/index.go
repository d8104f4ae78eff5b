package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/alma-bulk/internal/index"
	"github.com/JakeFAU/alma-bulk/internal/layout"
)

func newMergeIndexCmd() *cobra.Command {
	var (
		dest, shards           string
		vacuum, integrityCheck bool
	)
	cmd := &cobra.Command{
		Use:   "merge-index",
		Short: "Merge shard outputs into the central index",
		Long: `Folds every shard store and every loose summary file found under --shards
into the central index at <dest>/alma_index.sqlite. Unreadable shards and files
are skipped with a warning.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, root, err := resolveDest(cmd, dest)
			if err != nil {
				return err
			}
			_, logger, err := appInstance.NewRun("merge-index", "")
			if err != nil {
				return err
			}
			store, err := appInstance.OpenIndex(cmd.Context(), index.DBPath(root, ""), logger)
			if err != nil {
				return err
			}
			defer closeStore(store, logger)

			res, err := store.Merge(cmd.Context(), shards, index.MergeOptions{Vacuum: vacuum, IntegrityCheck: integrityCheck})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.String())
			return nil
		},
	}
	cmd.Flags().StringVar(&dest, "dest", "", "destination root (overrides paths.dest)")
	cmd.Flags().StringVar(&shards, "shards", "", "directory holding shard stores and summaries")
	cmd.Flags().BoolVar(&vacuum, "vacuum", false, "compact the central index after merging")
	cmd.Flags().BoolVar(&integrityCheck, "integrity-check", false, "run an integrity check after merging")
	_ = cmd.MarkFlagRequired("shards")
	return cmd
}

func newScanCmd() *cobra.Command {
	var (
		dest, indexDB        string
		fixLayout, rebuildDB bool
	)
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan existing trees and index manifests and summaries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, root, err := resolveDest(cmd, dest)
			if err != nil {
				return err
			}
			_, logger, err := appInstance.NewRun("scan", "")
			if err != nil {
				return err
			}
			dbPath := indexDB
			if dbPath == "" {
				dbPath = index.DBPath(root, "")
			}
			if rebuildDB {
				for _, p := range []string{dbPath, dbPath + "-wal", dbPath + "-shm"} {
					if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
						return fmt.Errorf("remove %s: %w", p, err)
					}
				}
			}
			store, err := appInstance.OpenIndex(cmd.Context(), dbPath, logger)
			if err != nil {
				return err
			}
			defer closeStore(store, logger)

			dirs, err := layout.FindUnitDirs(root)
			if err != nil {
				return err
			}
			count := 0
			for _, dir := range dirs {
				paths := layout.ForDir(dir)
				if fixLayout {
					if err := layout.EnsureDirs(paths); err != nil {
						logger.Warn("Failed to fix layout", zap.String("dir", dir), zap.Error(err))
					}
				}
				if !exists(paths.Summary) && !exists(paths.Manifest) {
					continue
				}
				if err := store.IngestFiles(cmd.Context(), paths.Summary, paths.Manifest, ""); err != nil {
					logger.Warn("Skipping unit directory due to ingest error", zap.String("dir", dir), zap.Error(err))
					continue
				}
				count++
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Scanned and indexed %d MOUS directories\n", count)
			return nil
		},
	}
	cmd.Flags().StringVar(&dest, "dest", "", "destination root (overrides paths.dest)")
	cmd.Flags().StringVar(&indexDB, "index-db", "", "index store path (default <dest>/alma_index.sqlite)")
	cmd.Flags().BoolVar(&fixLayout, "fix-layout", false, "create missing delivered/ and run1/ directories")
	cmd.Flags().BoolVar(&rebuildDB, "rebuild-db", false, "delete the index store before scanning")
	return cmd
}

func newStatusCmd() *cobra.Command {
	var (
		dest string
		topN int
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the index progress and failure dashboard",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, root, err := resolveDest(cmd, dest)
			if err != nil {
				return err
			}
			dbPath := index.DBPath(root, "")
			if !exists(dbPath) {
				return fmt.Errorf("index DB not found: %s", dbPath)
			}
			store, err := appInstance.OpenIndex(cmd.Context(), dbPath, appInstance.GetLogger())
			if err != nil {
				return err
			}
			defer closeStore(store, appInstance.GetLogger())

			rep, err := store.Report(cmd.Context(), topN)
			if err != nil {
				return err
			}
			return index.FormatReport(cmd.OutOrStdout(), rep)
		},
	}
	cmd.Flags().StringVar(&dest, "dest", "", "destination root (overrides paths.dest)")
	cmd.Flags().IntVar(&topN, "top-n-errors", 10, "number of distinct error messages to list")
	return cmd
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
