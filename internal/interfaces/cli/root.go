// Package cli is the dealsync operator command line.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// buildRuntime wires the runtime each command works with
var buildRuntime RuntimeBuilder = Bootstrap

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "dealsync",
		Short: "Deal synchronization and reconciliation engine",
		Long: `dealsync pulls deal documents from the loan-origination API per partition,
reconciles them into the relational store and keeps a ledger of deals that failed.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "Path to a config file (default: search ./, ./configs, /app)")
	rootCmd.PersistentFlags().StringP("output", "o", outputTable, "Output format: table or json")

	rootCmd.AddCommand(newSyncCmd())
	rootCmd.AddCommand(newRetryCmd())
	rootCmd.AddCommand(newFailuresCmd())
	rootCmd.AddCommand(newPartitionsCmd())
	rootCmd.AddCommand(newMigrateCmd())
	return rootCmd
}

// Execute runs the root command
func Execute(version string) error {
	rootCmd := newRootCmd()
	rootCmd.Version = version
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

// withRuntime builds the runtime for cmd, runs fn and closes the runtime
func withRuntime(cmd *cobra.Command, fn func(ctx context.Context, rt *Runtime) error) error {
	if _, err := outputFormat(cmd); err != nil {
		return err
	}
	configPath, _ := cmd.Flags().GetString("config")

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := buildRuntime(ctx, configPath)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := rt.Close(context.WithoutCancel(ctx)); cerr != nil {
			rt.Logger.Warn("Failed to release runtime", zap.Error(cerr))
		}
	}()
	return fn(ctx, rt)
}
