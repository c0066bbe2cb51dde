package dealsync

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dealsync/backend/internal/domain/dealsync"
	"github.com/dealsync/backend/internal/infrastructure/logger"
	"github.com/dealsync/backend/internal/infrastructure/telemetry"
)

// RetryResult is the outcome of retrying one ledger entry
type RetryResult struct {
	Key       string                `json:"loan_code"`
	Partition string                `json:"partition,omitempty"`
	Resolved  bool                  `json:"resolved"`
	Skipped   bool                  `json:"skipped,omitempty"`
	Stage     dealsync.FailureStage `json:"stage,omitempty"`
	Error     string                `json:"error,omitempty"`
}

// RetryReport summarizes one retry run
type RetryReport struct {
	Attempted    int           `json:"attempted"`
	Resolved     int           `json:"resolved"`
	StillFailing int           `json:"still_failing"`
	Skipped      int           `json:"skipped"`
	Results      []RetryResult `json:"results"`
}

// RetryService re-fetches the deals behind unresolved ledger entries one by
// one and pushes them through decode, transform and reconcile again
type RetryService struct {
	source     dealsync.DealSource
	reconciler dealsync.DealReconciler
	ledger     dealsync.FailureLedger
	partitions dealsync.PartitionRepository
	quarantine dealsync.QuarantineStore
	metrics    *telemetry.SyncMetrics
	logger     *zap.Logger
}

// NewRetryService creates a new RetryService. quarantine and metrics may be nil.
func NewRetryService(
	source dealsync.DealSource,
	reconciler dealsync.DealReconciler,
	ledger dealsync.FailureLedger,
	partitions dealsync.PartitionRepository,
	quarantine dealsync.QuarantineStore,
	metrics *telemetry.SyncMetrics,
	logger *zap.Logger,
) *RetryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetryService{
		source:     source,
		reconciler: reconciler,
		ledger:     ledger,
		partitions: partitions,
		quarantine: quarantine,
		metrics:    metrics,
		logger:     logger,
	}
}

// Retry processes up to limit unresolved entries matching filter, oldest
// failure first. A success resolves the entry; a failure refreshes its error
// and timestamp and bumps attempts. There is no attempt cap.
func (s *RetryService) Retry(ctx context.Context, filter dealsync.FailureFilter, limit int) (*RetryReport, error) {
	entries, err := s.ledger.ListUnresolved(ctx, filter, limit)
	if err != nil {
		return nil, err
	}

	report := &RetryReport{Results: make([]RetryResult, 0, len(entries))}
	partitions := make(map[uuid.UUID]*dealsync.Partition)

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		result := s.retryOne(ctx, entry, partitions)
		report.Results = append(report.Results, result)
		switch {
		case result.Skipped:
			report.Skipped++
		case result.Resolved:
			report.Attempted++
			report.Resolved++
		default:
			report.Attempted++
			report.StillFailing++
		}
	}

	s.metrics.RecordRetryResolved(ctx, report.Resolved)
	s.logger.Info("Retry run finished",
		zap.Int("attempted", report.Attempted),
		zap.Int("resolved", report.Resolved),
		zap.Int("still_failing", report.StillFailing),
		zap.Int("skipped", report.Skipped))
	return report, nil
}

func (s *RetryService) retryOne(ctx context.Context, entry dealsync.FailureRecord, cache map[uuid.UUID]*dealsync.Partition) RetryResult {
	result := RetryResult{Key: entry.Key}
	ctx = logger.WithLoanCode(ctx, entry.Key)
	log := logger.WithLogger(ctx, s.logger)

	// entries keyed by payload digest have no loan code to look up
	if strings.HasPrefix(entry.Key, payloadKeyPrefix) {
		result.Skipped = true
		result.Error = "no loan code to look up"
		return result
	}

	partition, err := s.partition(ctx, entry.PartitionID, cache)
	if err != nil {
		log.Warn("Owning partition unavailable, skipping", zap.Error(err))
		result.Skipped = true
		result.Error = err.Error()
		return result
	}
	result.Partition = partition.Name
	log = log.With(zap.String("partition", partition.Name))
	failures := failureRecorder{ledger: s.ledger, quarantine: s.quarantine}

	fail := func(doc dealsync.SourceDocument, err error) RetryResult {
		result.Stage = dealsync.StageOf(err)
		result.Error = err.Error()
		log.Warn("Retry failed", zap.String("stage", string(result.Stage)), zap.Error(err))
		if !isContextError(err) {
			failures.record(ctx, log, partition, doc, entry.Key, result.Stage, err)
		}
		return result
	}

	doc, err := s.source.GetDeal(ctx, partition, entry.Key)
	if err != nil {
		return fail(dealsync.SourceDocument{LoanCode: entry.Key}, fmt.Errorf("look up %s: %w", entry.Key, err))
	}
	if doc.LoanCode == "" {
		doc.LoanCode = entry.Key
	}

	rows, err := decodeAndTransform(doc.Payload)
	if err != nil {
		return fail(doc, err)
	}

	out := s.reconciler.Reconcile(ctx, partition.ID, rows)
	if !out.Success {
		return fail(doc, out.Err)
	}

	// the ledger is keyed by the requested code; resolve that and the decoded one
	keys := []string{entry.Key}
	if rows.Deal.LoanCode != entry.Key {
		keys = append(keys, rows.Deal.LoanCode)
	}
	if err := s.ledger.Resolve(ctx, keys...); err != nil {
		log.Error("Failed to resolve sync failure", zap.Error(err))
		result.Error = err.Error()
		return result
	}

	result.Resolved = true
	log.Info("Retry resolved deal")
	return result
}

func (s *RetryService) partition(ctx context.Context, id uuid.UUID, cache map[uuid.UUID]*dealsync.Partition) (*dealsync.Partition, error) {
	if p, ok := cache[id]; ok {
		return p, nil
	}
	p, err := s.partitions.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.APIKey == "" {
		return nil, dealsync.ErrPartitionMissingCredentials
	}
	cache[id] = p
	return p, nil
}
