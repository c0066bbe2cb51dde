package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dealsync/backend/internal/domain/dealsync"
)

func newRetryCmd() *cobra.Command {
	retryCmd := &cobra.Command{
		Use:   "retry",
		Short: "Retry unresolved deal failures",
		Long: `Re-fetch the deals behind unresolved ledger entries, oldest failure first, and
push each through decode, transform and reconcile again. Successes resolve
their entry; failures bump its attempt count.`,
		Args: cobra.NoArgs,
		RunE: runRetry,
	}

	retryCmd.Flags().String("partition", "", "Only retry failures of this partition")
	retryCmd.Flags().String("stage", "", "Only retry failures of this stage (lookup, decode, transform, reconcile)")
	retryCmd.Flags().Int("limit", 0, "Maximum entries to retry (default from sync.retry_limit)")
	return retryCmd
}

func runRetry(cmd *cobra.Command, args []string) error {
	return withRuntime(cmd, func(ctx context.Context, rt *Runtime) error {
		filter, err := failureFilter(ctx, cmd, rt)
		if err != nil {
			return err
		}
		limit := rt.Config.Sync.RetryLimit
		if cmd.Flags().Changed("limit") {
			limit, _ = cmd.Flags().GetInt("limit")
		}
		if limit <= 0 {
			return fmt.Errorf("--limit must be positive, got %d", limit)
		}

		report, err := rt.Retry.Retry(ctx, filter, limit)
		if err != nil {
			return err
		}
		return printRetryReport(cmd, report)
	})
}

// failureFilter builds a ledger filter from the --partition and --stage flags
func failureFilter(ctx context.Context, cmd *cobra.Command, rt *Runtime) (dealsync.FailureFilter, error) {
	var filter dealsync.FailureFilter

	if name, _ := cmd.Flags().GetString("partition"); name != "" {
		p, err := rt.Partitions.FindByName(ctx, name)
		if err != nil {
			return filter, fmt.Errorf("partition %q: %w", name, err)
		}
		filter.PartitionID = &p.ID
	}

	if stage, _ := cmd.Flags().GetString("stage"); stage != "" {
		filter.Stage = dealsync.FailureStage(stage)
		if !filter.Stage.IsValid() {
			return filter, fmt.Errorf("unknown stage %q (want lookup, decode, transform or reconcile)", stage)
		}
	}
	return filter, nil
}
