package dealsync

import (
	"bytes"
	"context"

	"go.uber.org/zap"

	"github.com/dealsync/backend/internal/domain/dealsync"
	"github.com/dealsync/backend/internal/infrastructure/logger"
)

// failureRecorder writes ledger entries, quarantining undecodable documents
// first so the entry can point at them
type failureRecorder struct {
	ledger     dealsync.FailureLedger
	quarantine dealsync.QuarantineStore
}

func (f failureRecorder) record(
	ctx context.Context,
	log *logger.ContextLogger,
	partition *dealsync.Partition,
	doc dealsync.SourceDocument,
	key string,
	stage dealsync.FailureStage,
	err error,
) {
	entry := dealsync.NewFailureRecord(key, partition.ID, stage, err)

	if stage == dealsync.FailureStageDecode && f.quarantine != nil && len(doc.Payload) > 0 {
		ref, qerr := f.quarantine.Put(ctx, partition.Name, key, bytes.NewReader(doc.Payload))
		if qerr != nil {
			log.Error("Failed to quarantine deal document", zap.Error(qerr))
		}
		entry.QuarantinedRef = ref
	}

	if lerr := f.ledger.Record(ctx, entry); lerr != nil {
		log.Error("Failed to record sync failure", zap.Error(lerr))
	}
}
