package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dealsync/backend/internal/domain/dealsync"
	"github.com/dealsync/backend/internal/infrastructure/scheduler"
)

func newSyncCmd() *cobra.Command {
	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync deals for one or more partitions",
		Long: `Fetch every deal changed in the sync window of each selected partition and
reconcile it into the datastore. Partitions run in name order. Without --start
the window begins at the partition's last successful sync.`,
		Example: `  dealsync sync --all
  dealsync sync --partition acme --start 2024-01-01 --end 2024-06-30
  dealsync sync --all --resume-from globex --concurrency 3 -o json
  dealsync sync --all --every 1h`,
		Args: cobra.NoArgs,
		RunE: runSync,
	}

	syncCmd.Flags().StringSlice("partition", nil, "Partition to sync (repeatable)")
	syncCmd.Flags().Bool("all", false, "Sync every enabled partition")
	syncCmd.Flags().String("start", "", "Window start date (YYYY-MM-DD)")
	syncCmd.Flags().String("end", "", "Window end date (YYYY-MM-DD, default today)")
	syncCmd.Flags().Bool("full-sync", false, "Ignore the last sync watermark and start from the epoch")
	syncCmd.Flags().String("resume-from", "", "Skip partitions sorting before this one")
	syncCmd.Flags().Int("concurrency", 0, "Partitions synced in parallel (default from sync.concurrency)")
	syncCmd.Flags().Int("limit", 0, "Deal failures listed per partition (default from sync.detail_limit)")
	syncCmd.Flags().Duration("every", 0, "Keep running, starting an incremental batch at this interval")

	syncCmd.MarkFlagsMutuallyExclusive("partition", "all")
	syncCmd.MarkFlagsOneRequired("partition", "all")
	syncCmd.MarkFlagsMutuallyExclusive("every", "resume-from")
	syncCmd.MarkFlagsMutuallyExclusive("every", "start")
	return syncCmd
}

func runSync(cmd *cobra.Command, args []string) error {
	return withRuntime(cmd, func(ctx context.Context, rt *Runtime) error {
		opts, err := batchOptions(cmd, rt)
		if err != nil {
			return err
		}

		names, _ := cmd.Flags().GetStringSlice("partition")
		all, _ := cmd.Flags().GetBool("all")
		var provider scheduler.PartitionProvider = rt.Partitions
		if !all {
			provider = namedPartitions{repo: rt.Partitions, names: names}
		}

		if every, _ := cmd.Flags().GetDuration("every"); every > 0 {
			return runSyncLoop(ctx, cmd, rt, provider, every, opts)
		}

		partitions, err := provider.ListEnabled(ctx)
		if err != nil {
			return err
		}
		report, err := rt.Scheduler.RunBatch(ctx, partitions, opts)
		if err != nil {
			return err
		}
		return printBatchReport(cmd, report)
	})
}

// runSyncLoop runs batches on a fixed interval until interrupted
func runSyncLoop(
	ctx context.Context,
	cmd *cobra.Command,
	rt *Runtime,
	provider scheduler.PartitionProvider,
	every time.Duration,
	opts scheduler.BatchOptions,
) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	trigger, err := scheduler.NewCronTrigger(scheduler.CronTriggerConfig{
		Interval:       every,
		RunImmediately: true,
		Options:        opts,
	}, rt.Scheduler, provider, rt.Logger, func(report *dealsync.BatchReport) {
		if err := printBatchReport(cmd, report); err != nil {
			rt.Logger.Warn("Failed to print batch report", zap.Error(err))
		}
		if err := rt.Flush(ctx); err != nil {
			rt.Logger.Warn("Failed to flush telemetry", zap.Error(err))
		}
	})
	if err != nil {
		return err
	}
	if err := trigger.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	rt.Logger.Info("Shutting down scheduled sync", zap.Int("batches", trigger.Runs()))

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
	defer cancel()
	return trigger.Stop(stopCtx)
}

func batchOptions(cmd *cobra.Command, rt *Runtime) (scheduler.BatchOptions, error) {
	opts := scheduler.BatchOptions{
		Concurrency: rt.Config.Sync.Concurrency,
		DetailLimit: rt.Config.Sync.DetailLimit,
	}
	opts.FullSync, _ = cmd.Flags().GetBool("full-sync")
	opts.ResumeFrom, _ = cmd.Flags().GetString("resume-from")
	if cmd.Flags().Changed("concurrency") {
		opts.Concurrency, _ = cmd.Flags().GetInt("concurrency")
	}
	if cmd.Flags().Changed("limit") {
		opts.DetailLimit, _ = cmd.Flags().GetInt("limit")
	}

	var err error
	if opts.StartDate, err = dateFlag(cmd, "start"); err != nil {
		return opts, err
	}
	if opts.EndDate, err = dateFlag(cmd, "end"); err != nil {
		return opts, err
	}
	return opts, opts.Validate()
}

func dateFlag(cmd *cobra.Command, name string) (time.Time, error) {
	value, _ := cmd.Flags().GetString(name)
	if value == "" {
		return time.Time{}, nil
	}
	t, err := dealsync.ParseDate(value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s %q: %w", name, value, dealsync.ErrInvalidWindow)
	}
	return t, nil
}

func findPartitions(ctx context.Context, repo dealsync.PartitionRepository, names []string) ([]*dealsync.Partition, error) {
	seen := make(map[string]bool, len(names))
	partitions := make([]*dealsync.Partition, 0, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		p, err := repo.FindByName(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("partition %q: %w", name, err)
		}
		partitions = append(partitions, p)
	}
	return partitions, nil
}

// namedPartitions serves an explicit --partition selection. Partitions are
// reloaded per batch so each run starts from the latest watermark. Disabled
// partitions named explicitly still run.
type namedPartitions struct {
	repo  dealsync.PartitionRepository
	names []string
}

func (n namedPartitions) ListEnabled(ctx context.Context) ([]*dealsync.Partition, error) {
	return findPartitions(ctx, n.repo, n.names)
}
