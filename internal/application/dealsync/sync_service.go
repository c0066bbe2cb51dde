// Package dealsync runs the per-partition sync pipeline: fetch, decode,
// transform, reconcile, and the failure ledger around them.
package dealsync

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dealsync/backend/internal/domain/dealsync"
	"github.com/dealsync/backend/internal/infrastructure/logger"
	"github.com/dealsync/backend/internal/infrastructure/telemetry"
)

// payloadKeyNamespace derives ledger keys for documents without a loan code
var payloadKeyNamespace = uuid.MustParse("2f1c7f0e-8b7a-5d43-9c0e-1c2b3a4d5e6f")

// payloadKeyPrefix marks ledger keys derived from a payload digest
const payloadKeyPrefix = "payload-"

// SyncServiceConfig contains configuration for SyncService
type SyncServiceConfig struct {
	// DealConcurrency bounds concurrent reconciles within one partition
	DealConcurrency int
}

// DefaultSyncServiceConfig returns default configuration
func DefaultSyncServiceConfig() SyncServiceConfig {
	return SyncServiceConfig{
		DealConcurrency: 4,
	}
}

// SyncService runs one partition through fetch → decode/transform → reconcile
type SyncService struct {
	source     dealsync.DealSource
	reconciler dealsync.DealReconciler
	ledger     dealsync.FailureLedger
	quarantine dealsync.QuarantineStore
	metrics    *telemetry.SyncMetrics
	logger     *zap.Logger

	dealConcurrency int
}

// NewSyncService creates a new SyncService. quarantine and metrics may be nil.
func NewSyncService(
	source dealsync.DealSource,
	reconciler dealsync.DealReconciler,
	ledger dealsync.FailureLedger,
	quarantine dealsync.QuarantineStore,
	metrics *telemetry.SyncMetrics,
	logger *zap.Logger,
	config SyncServiceConfig,
) *SyncService {
	if config.DealConcurrency <= 0 {
		config.DealConcurrency = DefaultSyncServiceConfig().DealConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &SyncService{
		source:          source,
		reconciler:      reconciler,
		ledger:          ledger,
		quarantine:      quarantine,
		metrics:         metrics,
		logger:          logger,
		dealConcurrency: config.DealConcurrency,
	}
}

// preparedDeal is a document that decoded and transformed cleanly
type preparedDeal struct {
	key  string
	rows *dealsync.RowSet
}

// SyncPartition fetches the window for one partition and converges the
// datastore with it. The returned run is always terminal; per-deal and
// per-window failures are folded into its counts, never returned.
func (s *SyncService) SyncPartition(ctx context.Context, partition *dealsync.Partition, window dealsync.Window) *dealsync.PartitionRun {
	run := dealsync.NewPartitionRun(partition)
	run.SetWindow(window)

	ctx = logger.WithPartition(ctx, partition.Name)
	log := logger.WithLogger(ctx, s.logger).With(zap.String("window", window.String()))

	if partition.APIKey == "" {
		run.Fail(dealsync.ErrPartitionMissingCredentials)
		log.Warn("Partition has no credentials, skipping")
		return run
	}

	// fetching
	s.transition(run, dealsync.PartitionStatusFetching)
	result := s.source.FetchWindow(ctx, partition, window)
	run.WindowsTotal = len(result.SubWindows)
	for _, sw := range result.Failed() {
		run.AddWindowFailure(sw.Window, sw.Err)
		s.metrics.RecordWindowFailed(ctx, partition.Name)
		log.Warn("Sub-window fetch failed",
			zap.String("sub_window", sw.Window.String()),
			zap.Int("pages_kept", sw.Pages),
			zap.Error(sw.Err))
	}
	if err := ctx.Err(); err != nil {
		run.Fail(err)
		return run
	}

	docs := dedupeDocuments(result.Documents())
	run.Found = len(docs)
	if run.Found == 0 {
		s.complete(run, log)
		return run
	}

	// transforming
	s.transition(run, dealsync.PartitionStatusTransforming)
	prepared := make([]preparedDeal, 0, len(docs))
	for _, doc := range docs {
		rows, err := decodeAndTransform(doc.Payload)
		if err != nil {
			s.recordFailure(ctx, run, partition, doc, err)
			continue
		}
		prepared = append(prepared, preparedDeal{key: rows.Deal.LoanCode, rows: rows})
	}

	// reconciling
	s.transition(run, dealsync.PartitionStatusReconciling)
	outcomes := s.reconcileAll(ctx, partition.ID, prepared)

	var resolved []string
	for i, out := range outcomes {
		if out.Success {
			run.Synced++
			resolved = append(resolved, prepared[i].key)
			s.metrics.RecordDealSynced(ctx, partition.Name)
			continue
		}
		doc := dealsync.SourceDocument{LoanCode: prepared[i].key}
		s.recordFailure(ctx, run, partition, doc, out.Err)
	}
	s.resolve(ctx, log, resolved)

	if err := ctx.Err(); err != nil {
		run.Fail(err)
		return run
	}
	s.complete(run, log)
	return run
}

// reconcileAll reconciles every prepared deal under a bounded errgroup.
// Outcomes are positional; a failed deal never cancels its siblings.
func (s *SyncService) reconcileAll(ctx context.Context, partitionID uuid.UUID, prepared []preparedDeal) []dealsync.SyncOutcome {
	outcomes := make([]dealsync.SyncOutcome, len(prepared))

	var g errgroup.Group
	g.SetLimit(s.dealConcurrency)
	for i, deal := range prepared {
		g.Go(func() error {
			outcomes[i] = s.reconciler.Reconcile(ctx, partitionID, deal.rows)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// recordFailure counts a failed deal on the run and writes its ledger entry.
// Undecodable documents are quarantined first so the entry can point at them.
func (s *SyncService) recordFailure(ctx context.Context, run *dealsync.PartitionRun, partition *dealsync.Partition, doc dealsync.SourceDocument, err error) {
	key := failureKey(doc)
	stage := dealsync.StageOf(err)
	run.AddDealFailure(key, stage, err)
	s.metrics.RecordDealFailed(ctx, partition.Name, string(stage))

	log := logger.WithLogger(logger.WithLoanCode(ctx, key), s.logger).With(zap.String("stage", string(stage)))
	log.Warn("Deal failed to sync", zap.Error(err))

	if isContextError(err) {
		return
	}
	s.failures().record(ctx, log, partition, doc, key, stage, err)
}

func (s *SyncService) failures() failureRecorder {
	return failureRecorder{ledger: s.ledger, quarantine: s.quarantine}
}

func (s *SyncService) resolve(ctx context.Context, log *logger.ContextLogger, keys []string) {
	if len(keys) == 0 {
		return
	}
	if err := s.ledger.Resolve(ctx, keys...); err != nil {
		log.Error("Failed to resolve sync failures", zap.Int("count", len(keys)), zap.Error(err))
	}
}

func (s *SyncService) transition(run *dealsync.PartitionRun, next dealsync.PartitionStatus) {
	if err := run.Transition(next); err != nil {
		// only reachable through a programming error in the pipeline order
		s.logger.Error("Invalid partition transition", zap.Error(err))
	}
}

func (s *SyncService) complete(run *dealsync.PartitionRun, log *logger.ContextLogger) {
	if err := run.Complete(); err != nil {
		log.Error("Failed to complete partition run", zap.Error(err))
		run.Fail(err)
		return
	}
	log.Info("Partition run finished",
		zap.String("status", string(run.Status)),
		zap.Int("found", run.Found),
		zap.Int("synced", run.Synced),
		zap.Int("failed", run.Failed),
		zap.Int("windows_failed", run.WindowsFailed))
}

// decodeAndTransform turns one raw document into its row set
func decodeAndTransform(payload []byte) (*dealsync.RowSet, error) {
	raw, err := dealsync.DecodeRawDeal(payload)
	if err != nil {
		return nil, err
	}
	return dealsync.Transform(raw)
}

// dedupeDocuments keeps one document per loan code. The last occurrence wins
// and takes the position of the first. Documents without a loan code are kept
// as they are.
func dedupeDocuments(docs []dealsync.SourceDocument) []dealsync.SourceDocument {
	out := make([]dealsync.SourceDocument, 0, len(docs))
	seen := make(map[string]int, len(docs))
	for _, doc := range docs {
		if doc.LoanCode == "" {
			out = append(out, doc)
			continue
		}
		if i, ok := seen[doc.LoanCode]; ok {
			out[i] = doc
			continue
		}
		seen[doc.LoanCode] = len(out)
		out = append(out, doc)
	}
	return out
}

// failureKey is the loan code, or a digest of the payload when the document
// has none
func failureKey(doc dealsync.SourceDocument) string {
	if doc.LoanCode != "" {
		return doc.LoanCode
	}
	return payloadKeyPrefix + uuid.NewSHA1(payloadKeyNamespace, doc.Payload).String()
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
