package dealsync

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// FailureStage is the pipeline step at which a deal failed
type FailureStage string

const (
	FailureStageDecode    FailureStage = "decode"
	FailureStageTransform FailureStage = "transform"
	FailureStageReconcile FailureStage = "reconcile"
	FailureStageLookup    FailureStage = "lookup"
)

// IsValid reports whether s is a known stage
func (s FailureStage) IsValid() bool {
	switch s {
	case FailureStageDecode, FailureStageTransform, FailureStageReconcile, FailureStageLookup:
		return true
	default:
		return false
	}
}

// StageOf classifies a pipeline error into the stage that produced it
func StageOf(err error) FailureStage {
	switch {
	case errors.Is(err, ErrDecodeFailed):
		return FailureStageDecode
	case errors.Is(err, ErrTransformFailed):
		return FailureStageTransform
	case errors.Is(err, ErrDealNotFound),
		errors.Is(err, ErrSourceUnavailable),
		errors.Is(err, ErrSourceRequestFailed),
		errors.Is(err, ErrSourceRateLimited),
		errors.Is(err, ErrSourceInvalidResponse):
		return FailureStageLookup
	default:
		return FailureStageReconcile
	}
}

// FailureRecord is one ledger entry, keyed by the natural id of the failing deal
type FailureRecord struct {
	Key            string
	PartitionID    uuid.UUID
	Stage          FailureStage
	ErrorMessage   string
	FirstFailedAt  time.Time
	LastFailedAt   time.Time
	Attempts       int
	Resolved       bool
	ResolvedAt     *time.Time
	QuarantinedRef string
}

// NewFailureRecord builds a ledger entry for a failed deal
func NewFailureRecord(key string, partitionID uuid.UUID, stage FailureStage, err error) FailureRecord {
	now := time.Now().UTC()
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return FailureRecord{
		Key:           key,
		PartitionID:   partitionID,
		Stage:         stage,
		ErrorMessage:  msg,
		FirstFailedAt: now,
		LastFailedAt:  now,
		Attempts:      1,
	}
}

// FailureFilter narrows ListUnresolved
type FailureFilter struct {
	PartitionID *uuid.UUID
	Stage       FailureStage
	// FailedBefore keeps entries whose last failure is older than this instant
	FailedBefore *time.Time
}
