package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/alma-bulk/internal/app"
	"github.com/JakeFAU/alma-bulk/internal/index"
	"github.com/JakeFAU/alma-bulk/internal/layout"
	"github.com/JakeFAU/alma-bulk/internal/mous"
	"github.com/JakeFAU/alma-bulk/internal/pipeline"
)

func newDownloadCmd() *cobra.Command {
	var (
		dest, input, artifacts string
		maxWorkers             int
		maxRuntime             time.Duration
	)
	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download selected archive deliverables",
		Long: `Lists each unit's artifacts on the archive's datalink service and downloads
the selected kinds into the unit's delivered directory. Units come from
--input (JSON Lines) or, without it, from the manifests already under --dest.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, root, err := resolveDest(cmd, dest)
			if err != nil {
				return err
			}
			var records []mous.Record
			if input != "" {
				records, err = mous.ReadCandidates(input)
			} else {
				records, err = pipeline.RecordsFromTree(root)
			}
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No MOUS records found to download")
				return nil
			}
			res, err := runBatch(cmd, appInstance, batch{
				command: "download",
				dbPath:  index.DBPath(root, ""),
				runner:  app.RunnerOptions{Dest: root, Download: true, MaxWorkers: maxWorkers, MaxRuntime: maxRuntime, ArtifactSpec: artifacts},
				records: records,
				opts:    pipeline.Options{Download: true},
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Download stage completed for %d MOUS\n", res.Processed)
			return nil
		},
	}
	cmd.Flags().StringVar(&dest, "dest", "", "destination root (overrides paths.dest)")
	cmd.Flags().StringVar(&input, "input", "", "candidate records (JSON Lines)")
	cmd.Flags().StringVar(&artifacts, "artifacts", "", "artifact selection, e.g. default,+raw,-weblog")
	cmd.Flags().IntVar(&maxWorkers, "max-workers", 0, "concurrent transfers per unit (overrides download.max_workers)")
	cmd.Flags().DurationVar(&maxRuntime, "max-runtime", 0, "stop after the unit that exceeds this wall-clock budget")
	return cmd
}

func newUnpackCmd() *cobra.Command {
	var (
		dest       string
		maxRuntime time.Duration
	)
	cmd := &cobra.Command{
		Use:   "unpack",
		Short: "Unpack downloaded archive bundles",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, root, err := resolveDest(cmd, dest)
			if err != nil {
				return err
			}
			dirs, err := layout.FindUnitDirs(root)
			if err != nil {
				return err
			}
			res, err := runBatch(cmd, appInstance, batch{
				command: "unpack",
				dbPath:  index.DBPath(root, ""),
				runner:  app.RunnerOptions{Dest: root, MaxRuntime: maxRuntime},
				dirs:    dirs,
				opts:    pipeline.Options{Unpack: true},
				useDirs: true,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Unpack stage completed for %d MOUS\n", res.Processed)
			return nil
		},
	}
	cmd.Flags().StringVar(&dest, "dest", "", "destination root (overrides paths.dest)")
	cmd.Flags().DurationVar(&maxRuntime, "max-runtime", 0, "stop after the unit that exceeds this wall-clock budget")
	return cmd
}

func newRunShardCmd() *cobra.Command {
	var (
		dest, shard     string
		downloadMissing bool
		maxWorkers      int
		maxRuntime      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "run-shard",
		Short: "Process one shard (optional download, unpack, summarize, shard index)",
		Long: `Runs every unit of a shard file through the pipeline and indexes it into a
shard store written next to the shard file (part-0001.jsonl -> part-0001.sqlite).`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, root, err := resolveDest(cmd, dest)
			if err != nil {
				return err
			}
			records, err := mous.ReadCandidates(shard)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "Shard is empty: %s\n", shard)
				return nil
			}
			shardID, dbPath := pipeline.ShardStore(shard)
			res, err := runBatch(cmd, appInstance, batch{
				command: "run-shard",
				shardID: shardID,
				dbPath:  dbPath,
				runner:  app.RunnerOptions{Dest: root, Download: downloadMissing, MaxWorkers: maxWorkers, MaxRuntime: maxRuntime},
				records: records,
				opts:    pipeline.Options{Download: downloadMissing, Unpack: true, Summarize: true},
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Processed %d MOUS from shard %s into %s\n", res.Processed, shard, dbPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&dest, "dest", "", "destination root (overrides paths.dest)")
	cmd.Flags().StringVar(&shard, "shard", "", "shard file produced by plan")
	cmd.Flags().BoolVar(&downloadMissing, "download-missing", false, "list and download missing artifacts first")
	cmd.Flags().IntVar(&maxWorkers, "max-workers", 0, "concurrent transfers per unit (overrides download.max_workers)")
	cmd.Flags().DurationVar(&maxRuntime, "max-runtime", 0, "stop after the unit that exceeds this wall-clock budget")
	_ = cmd.MarkFlagRequired("shard")
	return cmd
}

type batch struct {
	command string
	shardID string
	dbPath  string
	runner  app.RunnerOptions
	records []mous.Record
	dirs    []string
	useDirs bool
	opts    pipeline.Options
}

// runBatch opens the index, assembles the runner and processes the batch.
func runBatch(cmd *cobra.Command, appInstance App, b batch) (pipeline.Result, error) {
	rc, logger, err := appInstance.NewRun(b.command, b.shardID)
	if err != nil {
		return pipeline.Result{}, err
	}
	store, err := appInstance.OpenIndex(cmd.Context(), b.dbPath, logger)
	if err != nil {
		return pipeline.Result{}, err
	}
	defer closeStore(store, logger)

	b.runner.Index = store
	runner, err := appInstance.Runner(b.runner, logger)
	if err != nil {
		return pipeline.Result{}, err
	}
	var res pipeline.Result
	if b.useDirs {
		res, err = runner.RunDirs(cmd.Context(), rc, b.dirs, b.opts)
	} else {
		res, err = runner.Run(cmd.Context(), rc, b.records, b.opts)
	}
	switch {
	case errors.Is(err, context.Canceled):
		logger.Info("Interrupted; stopping after the current unit", zap.Int("processed", res.Processed))
	case err != nil:
		return res, err
	}
	if res.Failed > 0 {
		logger.Warn("Some units failed", zap.Int("failed", res.Failed), zap.Int("processed", res.Processed))
	}
	return res, nil
}
