package dealsync

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Partition is an independently synced upstream broker account
type Partition struct {
	ID                 uuid.UUID
	Name               string
	APIKey             string
	Enabled            bool
	LastSyncAt         *time.Time
	LastSyncStatus     PartitionStatus
	LastSyncError      string
	LastSyncDealsCount int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// NewPartition creates an enabled partition
func NewPartition(name, apiKey string) (*Partition, error) {
	if name == "" {
		return nil, ErrPartitionNameRequired
	}
	if apiKey == "" {
		return nil, ErrPartitionMissingCredentials
	}
	now := time.Now().UTC()
	return &Partition{
		ID:        uuid.New(),
		Name:      name,
		APIKey:    apiKey,
		Enabled:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// SortPartitions orders partitions by name, then id, so a batch is resumable
func SortPartitions(partitions []*Partition) {
	sort.SliceStable(partitions, func(i, j int) bool {
		if partitions[i].Name != partitions[j].Name {
			return partitions[i].Name < partitions[j].Name
		}
		return partitions[i].ID.String() < partitions[j].ID.String()
	})
}

// ResumeFrom drops every partition sorting before the named one.
// partitions must already be sorted. Returns ErrResumePartitionNotFound when
// no partition has that name.
func ResumeFrom(partitions []*Partition, name string) ([]*Partition, error) {
	if name == "" {
		return partitions, nil
	}
	for i, p := range partitions {
		if p.Name == name {
			return partitions[i:], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrResumePartitionNotFound, name)
}

// -----------------------------------------------------------------------------
// Per-run state machine
// -----------------------------------------------------------------------------

// PartitionStatus is the state of one partition within one batch run
type PartitionStatus string

const (
	PartitionStatusPending         PartitionStatus = "pending"
	PartitionStatusFetching        PartitionStatus = "fetching"
	PartitionStatusTransforming    PartitionStatus = "transforming"
	PartitionStatusReconciling     PartitionStatus = "reconciling"
	PartitionStatusCompleted       PartitionStatus = "completed"
	PartitionStatusPartiallyFailed PartitionStatus = "partially-failed"
	PartitionStatusFailed          PartitionStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed
func (s PartitionStatus) IsTerminal() bool {
	switch s {
	case PartitionStatusCompleted, PartitionStatusPartiallyFailed, PartitionStatusFailed:
		return true
	default:
		return false
	}
}

// partitionTransitions lists the allowed forward moves. Any non-terminal state
// may also move to failed.
var partitionTransitions = map[PartitionStatus][]PartitionStatus{
	PartitionStatusPending:      {PartitionStatusFetching},
	PartitionStatusFetching:     {PartitionStatusTransforming, PartitionStatusCompleted, PartitionStatusPartiallyFailed},
	PartitionStatusTransforming: {PartitionStatusReconciling, PartitionStatusPartiallyFailed},
	PartitionStatusReconciling:  {PartitionStatusCompleted, PartitionStatusPartiallyFailed},
}

// CanTransitionTo reports whether the move from s to next is allowed
func (s PartitionStatus) CanTransitionTo(next PartitionStatus) bool {
	if s.IsTerminal() {
		return false
	}
	if next == PartitionStatusFailed {
		return true
	}
	for _, allowed := range partitionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// DealFailure is one per-deal failure of a run
type DealFailure struct {
	LoanCode string       `json:"loan_code"`
	Stage    FailureStage `json:"stage"`
	Error    string       `json:"error"`
}

// WindowFailure is one errored sub-window of a run
type WindowFailure struct {
	Window string `json:"window"`
	Error  string `json:"error"`
}

// PartitionRun tracks one partition through one batch run
type PartitionRun struct {
	PartitionID    uuid.UUID       `json:"partition_id"`
	PartitionName  string          `json:"partition"`
	Status         PartitionStatus `json:"status"`
	Window         Window          `json:"-"`
	WindowStart    string          `json:"window_start,omitempty"`
	WindowEnd      string          `json:"window_end,omitempty"`
	Found          int             `json:"found"`
	Synced         int             `json:"synced"`
	Failed         int             `json:"failed"`
	WindowsTotal   int             `json:"windows_total"`
	WindowsFailed  int             `json:"windows_failed"`
	Reason         string          `json:"reason,omitempty"`
	WindowFailures []WindowFailure `json:"window_failures,omitempty"`
	DealFailures   []DealFailure   `json:"deal_failures,omitempty"`
	StartedAt      time.Time       `json:"started_at"`
	FinishedAt     time.Time       `json:"finished_at"`
}

// NewPartitionRun starts a run in the pending state
func NewPartitionRun(p *Partition) *PartitionRun {
	return &PartitionRun{
		PartitionID:   p.ID,
		PartitionName: p.Name,
		Status:        PartitionStatusPending,
		StartedAt:     time.Now().UTC(),
	}
}

// Transition moves the run to next, enforcing the state machine
func (r *PartitionRun) Transition(next PartitionStatus) error {
	if !r.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, next)
	}
	r.Status = next
	if next.IsTerminal() {
		r.FinishedAt = time.Now().UTC()
	}
	return nil
}

// SetWindow records the effective window of the run
func (r *PartitionRun) SetWindow(w Window) {
	r.Window = w
	r.WindowStart = w.StartDate()
	r.WindowEnd = w.EndDate()
}

// AddWindowFailure records an errored sub-window
func (r *PartitionRun) AddWindowFailure(w Window, err error) {
	r.WindowsFailed++
	r.WindowFailures = append(r.WindowFailures, WindowFailure{Window: w.String(), Error: err.Error()})
}

// AddDealFailure records a failed deal
func (r *PartitionRun) AddDealFailure(loanCode string, stage FailureStage, err error) {
	r.Failed++
	r.DealFailures = append(r.DealFailures, DealFailure{LoanCode: loanCode, Stage: stage, Error: err.Error()})
}

// Complete classifies the run into its terminal state.
//
// failed: every sub-window errored, or deals were found and none synced.
// partially-failed: some sub-windows or some deals failed.
// completed: otherwise, including when no deals were found.
func (r *PartitionRun) Complete() error {
	var next PartitionStatus
	switch {
	case r.WindowsTotal > 0 && r.WindowsFailed == r.WindowsTotal:
		next = PartitionStatusFailed
		r.Reason = fmt.Sprintf("all %d sub-windows failed", r.WindowsTotal)
	case r.Found > 0 && r.Synced == 0:
		next = PartitionStatusFailed
		r.Reason = fmt.Sprintf("none of %d deals synced", r.Found)
	case r.WindowsFailed > 0 || r.Failed > 0:
		next = PartitionStatusPartiallyFailed
	default:
		next = PartitionStatusCompleted
	}
	return r.Transition(next)
}

// Fail moves the run to failed with a partition-level reason
func (r *PartitionRun) Fail(err error) {
	r.Reason = err.Error()
	if r.Status.IsTerminal() {
		return
	}
	r.Status = PartitionStatusFailed
	r.FinishedAt = time.Now().UTC()
}

// AdvancesWatermark reports whether the partition's last_sync_at may move
// forward after this run. Deal-level failures are left to the ledger.
func (r *PartitionRun) AdvancesWatermark() bool {
	return r.Status.IsTerminal() && r.Status != PartitionStatusFailed && r.WindowsFailed == 0
}

// Watermark returns the last_sync_at this run leaves behind, or nil when the
// watermark must hold. A window ending before the run started only covers
// source data through the day after its end date, so the watermark stops
// there and the next incremental run picks up from the window end.
func (r *PartitionRun) Watermark() *time.Time {
	if !r.AdvancesWatermark() {
		return nil
	}
	at := r.StartedAt
	if !r.Window.End.IsZero() {
		if covered := r.Window.End.AddDate(0, 0, 1); covered.Before(at) {
			at = covered
		}
	}
	return &at
}

// Duration returns the wall time of the run
func (r *PartitionRun) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// BatchReport is the outcome of one batch run across partitions
type BatchReport struct {
	RunID      uuid.UUID       `json:"run_id"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Partitions []*PartitionRun `json:"partitions"`
	Found      int             `json:"found"`
	Synced     int             `json:"synced"`
	Failed     int             `json:"failed"`
}

// Add appends a finished partition run and folds its counts into the totals
func (b *BatchReport) Add(run *PartitionRun) {
	b.Partitions = append(b.Partitions, run)
	b.Found += run.Found
	b.Synced += run.Synced
	b.Failed += run.Failed
}

// CountByStatus returns how many partitions ended in each status
func (b *BatchReport) CountByStatus() map[PartitionStatus]int {
	counts := make(map[PartitionStatus]int)
	for _, run := range b.Partitions {
		counts[run.Status]++
	}
	return counts
}

// TrimDetails keeps at most limit deal failures per partition; limit <= 0 keeps all
func (b *BatchReport) TrimDetails(limit int) {
	if limit <= 0 {
		return
	}
	for _, run := range b.Partitions {
		if len(run.DealFailures) > limit {
			run.DealFailures = run.DealFailures[:limit]
		}
	}
}
