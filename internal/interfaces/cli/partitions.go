package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dealsync/backend/internal/domain/dealsync"
)

func newPartitionsCmd() *cobra.Command {
	partitionsCmd := &cobra.Command{
		Use:   "partitions",
		Short: "Manage the partition registry",
	}

	partitionsListCmd := &cobra.Command{
		Use:   "list",
		Short: "List partitions with their last sync status",
		Args:  cobra.NoArgs,
		RunE:  runPartitionsList,
	}

	partitionsAddCmd := &cobra.Command{
		Use:   "add",
		Short: "Register a partition",
		Args:  cobra.NoArgs,
		RunE:  runPartitionsAdd,
	}
	partitionsAddCmd.Flags().String("name", "", "Partition name (unique)")
	partitionsAddCmd.Flags().String("api-key", "", "Source API key of the partition")
	partitionsAddCmd.Flags().Bool("disabled", false, "Register the partition without enabling it for --all")
	_ = partitionsAddCmd.MarkFlagRequired("name")
	_ = partitionsAddCmd.MarkFlagRequired("api-key")

	partitionsCmd.AddCommand(partitionsListCmd)
	partitionsCmd.AddCommand(partitionsAddCmd)
	return partitionsCmd
}

func runPartitionsList(cmd *cobra.Command, args []string) error {
	return withRuntime(cmd, func(ctx context.Context, rt *Runtime) error {
		partitions, err := rt.Partitions.List(ctx)
		if err != nil {
			return err
		}
		dealsync.SortPartitions(partitions)
		return printPartitions(cmd, partitions)
	})
}

func runPartitionsAdd(cmd *cobra.Command, args []string) error {
	return withRuntime(cmd, func(ctx context.Context, rt *Runtime) error {
		name, _ := cmd.Flags().GetString("name")
		apiKey, _ := cmd.Flags().GetString("api-key")
		disabled, _ := cmd.Flags().GetBool("disabled")

		p, err := dealsync.NewPartition(name, apiKey)
		if err != nil {
			return err
		}
		p.Enabled = !disabled
		if err := rt.Partitions.Create(ctx, p); err != nil {
			return fmt.Errorf("partition %q: %w", name, err)
		}

		format, _ := outputFormat(cmd)
		if format == outputJSON {
			return writeJSON(cmd.OutOrStdout(), newPartitionView(p))
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Registered partition %s (%s)\n", p.Name, p.ID)
		return nil
	})
}
