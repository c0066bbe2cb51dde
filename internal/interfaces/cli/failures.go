package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newFailuresCmd() *cobra.Command {
	failuresCmd := &cobra.Command{
		Use:   "failures",
		Short: "Inspect and manage the failure ledger",
	}

	failuresListCmd := &cobra.Command{
		Use:   "list",
		Short: "List unresolved failures, oldest first",
		Args:  cobra.NoArgs,
		RunE:  runFailuresList,
	}
	failuresListCmd.Flags().String("partition", "", "Only list failures of this partition")
	failuresListCmd.Flags().String("stage", "", "Only list failures of this stage (lookup, decode, transform, reconcile)")
	failuresListCmd.Flags().Duration("older-than", 0, "Only list failures whose last attempt is older than this")
	failuresListCmd.Flags().Int("limit", 50, "Maximum entries to list")

	failuresShowCmd := &cobra.Command{
		Use:   "show KEY",
		Short: "Show one ledger entry",
		Args:  cobra.ExactArgs(1),
		RunE:  runFailuresShow,
	}

	failuresPurgeCmd := &cobra.Command{
		Use:   "purge KEY...",
		Short: "Permanently delete ledger entries",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runFailuresPurge,
	}

	failuresCmd.AddCommand(failuresListCmd)
	failuresCmd.AddCommand(failuresShowCmd)
	failuresCmd.AddCommand(failuresPurgeCmd)
	return failuresCmd
}

func runFailuresList(cmd *cobra.Command, args []string) error {
	return withRuntime(cmd, func(ctx context.Context, rt *Runtime) error {
		filter, err := failureFilter(ctx, cmd, rt)
		if err != nil {
			return err
		}
		if olderThan, _ := cmd.Flags().GetDuration("older-than"); olderThan > 0 {
			before := time.Now().UTC().Add(-olderThan)
			filter.FailedBefore = &before
		}
		limit, _ := cmd.Flags().GetInt("limit")
		if limit <= 0 {
			return fmt.Errorf("--limit must be positive, got %d", limit)
		}

		records, err := rt.Ledger.ListUnresolved(ctx, filter, limit)
		if err != nil {
			return err
		}
		names, err := partitionNames(ctx, rt)
		if err != nil {
			return err
		}
		return printFailures(cmd, records, names)
	})
}

func runFailuresShow(cmd *cobra.Command, args []string) error {
	return withRuntime(cmd, func(ctx context.Context, rt *Runtime) error {
		record, err := rt.Ledger.Get(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failure %q: %w", args[0], err)
		}
		names, err := partitionNames(ctx, rt)
		if err != nil {
			return err
		}
		return printFailure(cmd, record, names)
	})
}

func runFailuresPurge(cmd *cobra.Command, args []string) error {
	return withRuntime(cmd, func(ctx context.Context, rt *Runtime) error {
		purged, err := rt.Ledger.Purge(ctx, args...)
		if err != nil {
			return err
		}

		format, _ := outputFormat(cmd)
		if format == outputJSON {
			return writeJSON(cmd.OutOrStdout(), map[string]any{"requested": len(args), "purged": purged})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Purged %d of %d ledger entries.\n", purged, len(args))
		return nil
	})
}

func partitionNames(ctx context.Context, rt *Runtime) (map[uuid.UUID]string, error) {
	partitions, err := rt.Partitions.List(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[uuid.UUID]string, len(partitions))
	for _, p := range partitions {
		names[p.ID] = p.Name
	}
	return names, nil
}
