package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/alma-bulk/internal/mous"
	"github.com/JakeFAU/alma-bulk/internal/pipeline"
)

func newPlanCmd() *cobra.Command {
	var (
		input, out string
		shardSize  int
	)
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Create shard files for batch processing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			records, err := mous.ReadCandidates(input)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No records to shard")
				return nil
			}
			rc, _, err := appInstance.NewRun("plan", "")
			if err != nil {
				return err
			}
			plan, err := pipeline.WritePlan(out, records, shardSize, rc.Timestamp())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d shard files to %s\n", len(plan.Shards), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "candidate records (JSON Lines)")
	cmd.Flags().StringVar(&out, "out", "", "output directory for shard files")
	cmd.Flags().IntVar(&shardSize, "shard-size", 200, "records per shard")
	_ = cmd.MarkFlagRequired("input")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}
