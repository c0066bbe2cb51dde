package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	appdealsync "github.com/dealsync/backend/internal/application/dealsync"
	"github.com/dealsync/backend/internal/domain/dealsync"
)

const (
	outputTable = "table"
	outputJSON  = "json"
)

func outputFormat(cmd *cobra.Command) (string, error) {
	format, _ := cmd.Flags().GetString("output")
	switch format {
	case outputTable, outputJSON:
		return format, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want table or json)", format)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// ---------------------------------------------------------------------------
// Batch report
// ---------------------------------------------------------------------------

func printBatchReport(cmd *cobra.Command, report *dealsync.BatchReport) error {
	format, _ := outputFormat(cmd)
	w := cmd.OutOrStdout()
	if format == outputJSON {
		return writeJSON(w, report)
	}

	tw := newTabWriter(w)
	fmt.Fprintln(tw, "PARTITION\tSTATUS\tWINDOW\tFOUND\tSYNCED\tFAILED\tWINDOWS FAILED\tREASON")
	for _, run := range report.Partitions {
		window := "-"
		if run.WindowStart != "" {
			window = run.WindowStart + ".." + run.WindowEnd
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d/%d\t%s\n",
			run.PartitionName, run.Status, window,
			run.Found, run.Synced, run.Failed,
			run.WindowsFailed, run.WindowsTotal, orDash(run.Reason))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\nrun %s: %d found, %d synced, %d failed in %s\n",
		report.RunID, report.Found, report.Synced, report.Failed,
		report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))

	for _, run := range report.Partitions {
		for _, f := range run.WindowFailures {
			fmt.Fprintf(w, "  %s window %s: %s\n", run.PartitionName, f.Window, f.Error)
		}
		for _, f := range run.DealFailures {
			fmt.Fprintf(w, "  %s deal %s [%s]: %s\n", run.PartitionName, f.LoanCode, f.Stage, f.Error)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Retry report
// ---------------------------------------------------------------------------

func printRetryReport(cmd *cobra.Command, report *appdealsync.RetryReport) error {
	format, _ := outputFormat(cmd)
	w := cmd.OutOrStdout()
	if format == outputJSON {
		return writeJSON(w, report)
	}

	if len(report.Results) > 0 {
		tw := newTabWriter(w)
		fmt.Fprintln(tw, "KEY\tPARTITION\tOUTCOME\tSTAGE\tERROR")
		for _, r := range report.Results {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
				r.Key, orDash(r.Partition), retryOutcome(r), orDash(string(r.Stage)), orDash(r.Error))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "%d attempted, %d resolved, %d still failing, %d skipped\n",
		report.Attempted, report.Resolved, report.StillFailing, report.Skipped)
	return nil
}

func retryOutcome(r appdealsync.RetryResult) string {
	switch {
	case r.Skipped:
		return "skipped"
	case r.Resolved:
		return "resolved"
	default:
		return "failing"
	}
}

// ---------------------------------------------------------------------------
// Failure ledger
// ---------------------------------------------------------------------------

type failureView struct {
	Key            string     `json:"key"`
	PartitionID    uuid.UUID  `json:"partition_id"`
	Partition      string     `json:"partition,omitempty"`
	Stage          string     `json:"stage"`
	Error          string     `json:"error"`
	Attempts       int        `json:"attempts"`
	FirstFailedAt  time.Time  `json:"first_failed_at"`
	LastFailedAt   time.Time  `json:"last_failed_at"`
	Resolved       bool       `json:"resolved"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	QuarantinedRef string     `json:"quarantined_ref,omitempty"`
}

func newFailureView(r dealsync.FailureRecord, names map[uuid.UUID]string) failureView {
	return failureView{
		Key:            r.Key,
		PartitionID:    r.PartitionID,
		Partition:      names[r.PartitionID],
		Stage:          string(r.Stage),
		Error:          r.ErrorMessage,
		Attempts:       r.Attempts,
		FirstFailedAt:  r.FirstFailedAt,
		LastFailedAt:   r.LastFailedAt,
		Resolved:       r.Resolved,
		ResolvedAt:     r.ResolvedAt,
		QuarantinedRef: r.QuarantinedRef,
	}
}

func printFailures(cmd *cobra.Command, records []dealsync.FailureRecord, names map[uuid.UUID]string) error {
	format, _ := outputFormat(cmd)
	w := cmd.OutOrStdout()

	views := make([]failureView, 0, len(records))
	for _, r := range records {
		views = append(views, newFailureView(r, names))
	}
	if format == outputJSON {
		return writeJSON(w, views)
	}

	if len(views) == 0 {
		fmt.Fprintln(w, "No unresolved failures.")
		return nil
	}
	tw := newTabWriter(w)
	fmt.Fprintln(tw, "KEY\tPARTITION\tSTAGE\tATTEMPTS\tLAST FAILED\tERROR")
	for _, v := range views {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			v.Key, orDash(v.Partition), v.Stage, v.Attempts, formatTime(&v.LastFailedAt), truncate(v.Error, 80))
	}
	return tw.Flush()
}

func printFailure(cmd *cobra.Command, record *dealsync.FailureRecord, names map[uuid.UUID]string) error {
	format, _ := outputFormat(cmd)
	w := cmd.OutOrStdout()
	v := newFailureView(*record, names)
	if format == outputJSON {
		return writeJSON(w, v)
	}

	tw := newTabWriter(w)
	fmt.Fprintf(tw, "Key:\t%s\n", v.Key)
	fmt.Fprintf(tw, "Partition:\t%s (%s)\n", orDash(v.Partition), v.PartitionID)
	fmt.Fprintf(tw, "Stage:\t%s\n", v.Stage)
	fmt.Fprintf(tw, "Attempts:\t%d\n", v.Attempts)
	fmt.Fprintf(tw, "First failed:\t%s\n", formatTime(&v.FirstFailedAt))
	fmt.Fprintf(tw, "Last failed:\t%s\n", formatTime(&v.LastFailedAt))
	fmt.Fprintf(tw, "Resolved:\t%t\n", v.Resolved)
	if v.ResolvedAt != nil {
		fmt.Fprintf(tw, "Resolved at:\t%s\n", formatTime(v.ResolvedAt))
	}
	if v.QuarantinedRef != "" {
		fmt.Fprintf(tw, "Quarantined:\t%s\n", v.QuarantinedRef)
	}
	fmt.Fprintf(tw, "Error:\t%s\n", v.Error)
	return tw.Flush()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

// ---------------------------------------------------------------------------
// Partitions
// ---------------------------------------------------------------------------

type partitionView struct {
	ID                 uuid.UUID  `json:"id"`
	Name               string     `json:"name"`
	Enabled            bool       `json:"enabled"`
	LastSyncAt         *time.Time `json:"last_sync_at,omitempty"`
	LastSyncStatus     string     `json:"last_sync_status,omitempty"`
	LastSyncError      string     `json:"last_sync_error,omitempty"`
	LastSyncDealsCount int        `json:"last_sync_deals_count"`
}

func newPartitionView(p *dealsync.Partition) partitionView {
	return partitionView{
		ID:                 p.ID,
		Name:               p.Name,
		Enabled:            p.Enabled,
		LastSyncAt:         p.LastSyncAt,
		LastSyncStatus:     string(p.LastSyncStatus),
		LastSyncError:      p.LastSyncError,
		LastSyncDealsCount: p.LastSyncDealsCount,
	}
}

func printPartitions(cmd *cobra.Command, partitions []*dealsync.Partition) error {
	format, _ := outputFormat(cmd)
	w := cmd.OutOrStdout()

	views := make([]partitionView, 0, len(partitions))
	for _, p := range partitions {
		views = append(views, newPartitionView(p))
	}
	if format == outputJSON {
		return writeJSON(w, views)
	}

	if len(views) == 0 {
		fmt.Fprintln(w, "No partitions registered.")
		return nil
	}
	tw := newTabWriter(w)
	fmt.Fprintln(tw, "NAME\tENABLED\tLAST SYNC\tSTATUS\tDEALS\tERROR")
	for _, v := range views {
		fmt.Fprintf(tw, "%s\t%t\t%s\t%s\t%d\t%s\n",
			v.Name, v.Enabled, formatTime(v.LastSyncAt), orDash(v.LastSyncStatus),
			v.LastSyncDealsCount, truncate(orDash(v.LastSyncError), 60))
	}
	return tw.Flush()
}
