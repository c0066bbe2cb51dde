package dealsync

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/google/uuid"
)

// SourceDocument is one undecoded deal document as returned by the source.
// LoanCode is best effort and may be empty for malformed documents.
type SourceDocument struct {
	LoanCode string
	Payload  json.RawMessage
}

// SubWindowResult is the outcome of fetching one calendar-year sub-window
type SubWindowResult struct {
	Window     Window
	Documents  []SourceDocument
	Pages      int
	TotalDeals int
	Err        error
}

// FetchStatus summarizes a window fetch across its sub-windows
type FetchStatus string

const (
	FetchStatusComplete FetchStatus = "complete"
	FetchStatusPartial  FetchStatus = "partial"
	FetchStatusFailed   FetchStatus = "failed"
)

// WindowResult is the outcome of a FetchWindow call. Sub-windows are in
// chronological order.
type WindowResult struct {
	SubWindows []SubWindowResult
}

// Documents concatenates the documents of every sub-window, including the
// pages fetched before an errored sub-window gave up.
func (r *WindowResult) Documents() []SourceDocument {
	var docs []SourceDocument
	for _, sw := range r.SubWindows {
		docs = append(docs, sw.Documents...)
	}
	return docs
}

// Failed returns the errored sub-windows
func (r *WindowResult) Failed() []SubWindowResult {
	var failed []SubWindowResult
	for _, sw := range r.SubWindows {
		if sw.Err != nil {
			failed = append(failed, sw)
		}
	}
	return failed
}

// Status classifies the fetch
func (r *WindowResult) Status() FetchStatus {
	failed := len(r.Failed())
	switch {
	case failed == 0:
		return FetchStatusComplete
	case failed == len(r.SubWindows):
		return FetchStatusFailed
	default:
		return FetchStatusPartial
	}
}

// DealSource is the upstream loan-origination API
type DealSource interface {
	// FetchWindow retrieves every deal document of the partition in the window.
	// Sub-window errors are reported inside the result, never returned.
	FetchWindow(ctx context.Context, partition *Partition, window Window) *WindowResult

	// GetDeal looks up one deal by loan code. Returns ErrDealNotFound on 404.
	GetDeal(ctx context.Context, partition *Partition, loanCode string) (SourceDocument, error)
}

// SyncOutcome is the result of reconciling one deal
type SyncOutcome struct {
	Success  bool
	LoanCode string
	DealID   uuid.UUID
	Err      error
}

// DealReconciler converges the datastore with one transformed deal
type DealReconciler interface {
	Reconcile(ctx context.Context, partitionID uuid.UUID, rows *RowSet) SyncOutcome
}

// FailureLedger records per-deal failures until a later success resolves them
type FailureLedger interface {
	Record(ctx context.Context, record FailureRecord) error
	Resolve(ctx context.Context, keys ...string) error
	ListUnresolved(ctx context.Context, filter FailureFilter, limit int) ([]FailureRecord, error)
	Get(ctx context.Context, key string) (*FailureRecord, error)
	Purge(ctx context.Context, keys ...string) (int64, error)
}

// PartitionRepository persists partitions and their sync watermarks
type PartitionRepository interface {
	Create(ctx context.Context, partition *Partition) error
	FindByID(ctx context.Context, id uuid.UUID) (*Partition, error)
	FindByName(ctx context.Context, name string) (*Partition, error)
	ListEnabled(ctx context.Context) ([]*Partition, error)
	List(ctx context.Context) ([]*Partition, error)
	// RecordRun stores the terminal state of a run; watermark is nil when it must not move
	RecordRun(ctx context.Context, run *PartitionRun, watermark *time.Time) error
}

// QuarantineStore keeps documents that could not be decoded
type QuarantineStore interface {
	// Put stores the payload and returns its storage key
	Put(ctx context.Context, partition string, key string, payload io.Reader) (string, error)
}
