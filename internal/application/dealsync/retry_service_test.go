package dealsync

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dealsync/backend/internal/domain/dealsync"
	"github.com/dealsync/backend/tests/testutil"
)

// ---------------------------------------------------------------------------
// Retry with mocked ports
// ---------------------------------------------------------------------------

func TestRetryService_Retry_Mocked(t *testing.T) {
	ctx := context.Background()
	p := newPartition(t, "broker-a", "key-a")
	noKey := &dealsync.Partition{ID: testutil.StableID("no-key"), Name: "broker-b"}
	missing := testutil.StableID("missing")

	entries := []dealsync.FailureRecord{
		dealsync.NewFailureRecord("LOAN-1", p.ID, dealsync.FailureStageReconcile, errors.New("boom")),
		dealsync.NewFailureRecord("LOAN-2", p.ID, dealsync.FailureStageDecode, errors.New("bad")),
		dealsync.NewFailureRecord(payloadKeyPrefix+uuid.NewString(), p.ID, dealsync.FailureStageDecode, errors.New("bad")),
		dealsync.NewFailureRecord("LOAN-3", noKey.ID, dealsync.FailureStageReconcile, errors.New("boom")),
		dealsync.NewFailureRecord("LOAN-4", missing, dealsync.FailureStageReconcile, errors.New("boom")),
	}

	src := new(mockDealSource)
	rec := new(mockReconciler)
	ledger := new(mockLedger)
	repo := new(mockPartitionRepo)

	ledger.On("ListUnresolved", mock.Anything, dealsync.FailureFilter{}, 10).Return(entries, nil)
	repo.On("FindByID", mock.Anything, p.ID).Return(p, nil).Once()
	repo.On("FindByID", mock.Anything, noKey.ID).Return(noKey, nil)
	repo.On("FindByID", mock.Anything, missing).Return(nil, dealsync.ErrPartitionNotFound)

	src.On("GetDeal", mock.Anything, p, "LOAN-1").Return(sourceDoc(t, testutil.DealDocument("LOAN-1")), nil)
	src.On("GetDeal", mock.Anything, p, "LOAN-2").Return(sourceDoc(t, malformedDoc("LOAN-2")), nil)
	rec.On("Reconcile", mock.Anything, p.ID, matchLoanCode("LOAN-1")).Return(dealsync.SyncOutcome{Success: true})

	ledger.On("Resolve", mock.Anything, []string{"LOAN-1"}).Return(nil)
	ledger.On("Record", mock.Anything, mock.MatchedBy(func(r dealsync.FailureRecord) bool {
		return r.Key == "LOAN-2" && r.Stage == dealsync.FailureStageDecode
	})).Return(nil)

	svc := NewRetryService(src, rec, ledger, repo, nil, nil, zaptest.NewLogger(t))
	report, err := svc.Retry(ctx, dealsync.FailureFilter{}, 10)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Attempted)
	assert.Equal(t, 1, report.Resolved)
	assert.Equal(t, 1, report.StillFailing)
	assert.Equal(t, 3, report.Skipped)
	require.Len(t, report.Results, 5)

	assert.True(t, report.Results[0].Resolved)
	assert.Equal(t, "broker-a", report.Results[0].Partition)
	assert.Equal(t, dealsync.FailureStageDecode, report.Results[1].Stage)
	assert.True(t, report.Results[2].Skipped)
	assert.Equal(t, dealsync.ErrPartitionMissingCredentials.Error(), report.Results[3].Error)
	assert.Equal(t, dealsync.ErrPartitionNotFound.Error(), report.Results[4].Error)

	repo.AssertExpectations(t)
	ledger.AssertExpectations(t)
	src.AssertNumberOfCalls(t, "GetDeal", 2)
}

func TestRetryService_Retry_ListError(t *testing.T) {
	ledger := new(mockLedger)
	ledger.On("ListUnresolved", mock.Anything, mock.Anything, 5).Return(nil, errors.New("connection refused"))

	svc := NewRetryService(new(mockDealSource), new(mockReconciler), ledger, new(mockPartitionRepo), nil, nil, zaptest.NewLogger(t))
	report, err := svc.Retry(context.Background(), dealsync.FailureFilter{}, 5)

	require.Error(t, err)
	assert.Nil(t, report)
}

func TestRetryService_Retry_ResolvesDecodedCodeToo(t *testing.T) {
	p := newPartition(t, "broker-a", "key-a")
	entry := dealsync.NewFailureRecord("loan-1", p.ID, dealsync.FailureStageReconcile, errors.New("boom"))

	src := new(mockDealSource)
	rec := new(mockReconciler)
	ledger := new(mockLedger)
	repo := new(mockPartitionRepo)

	ledger.On("ListUnresolved", mock.Anything, mock.Anything, 1).Return([]dealsync.FailureRecord{entry}, nil)
	repo.On("FindByID", mock.Anything, p.ID).Return(p, nil)
	src.On("GetDeal", mock.Anything, p, "loan-1").Return(sourceDoc(t, testutil.DealDocument("LOAN-1")), nil)
	rec.On("Reconcile", mock.Anything, p.ID, mock.Anything).Return(dealsync.SyncOutcome{Success: true})
	ledger.On("Resolve", mock.Anything, []string{"loan-1", "LOAN-1"}).Return(nil)

	svc := NewRetryService(src, rec, ledger, repo, nil, nil, zaptest.NewLogger(t))
	report, err := svc.Retry(context.Background(), dealsync.FailureFilter{}, 1)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Resolved)
	ledger.AssertExpectations(t)
}

// ---------------------------------------------------------------------------
// Retry against a fake source and sqlite
// ---------------------------------------------------------------------------

func TestRetryService_Scenario_LedgerLifecycle(t *testing.T) {
	ctx := context.Background()
	h := newSyncHarness(t)
	p := h.createPartition(t, "broker-a", "key-a")
	h.server.AddDeals("key-a", testutil.DealDocument("LOAN-1", 1), malformedDoc("LOAN-7"))

	run := h.syncService(t).SyncPartition(ctx, p, window2024())
	require.Equal(t, dealsync.PartitionStatusPartiallyFailed, run.Status)

	unresolved, err := h.ledger.ListUnresolved(ctx, dealsync.FailureFilter{}, 0)
	require.NoError(t, err)
	require.Len(t, unresolved, 1)
	assert.Equal(t, "LOAN-7", unresolved[0].Key)
	assert.Equal(t, dealsync.FailureStageDecode, unresolved[0].Stage)
	require.NotEmpty(t, unresolved[0].QuarantinedRef)

	quarantined, err := h.quarantine.Get(ctx, unresolved[0].QuarantinedRef)
	require.NoError(t, err)
	assert.Contains(t, string(quarantined), "not-a-list")

	// a retry against the still-broken source keeps the entry open
	report, err := h.retryService(t).Retry(ctx, dealsync.FailureFilter{}, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, report.StillFailing)

	entry, err := h.ledger.Get(ctx, "LOAN-7")
	require.NoError(t, err)
	assert.False(t, entry.Resolved)
	assert.Equal(t, 2, entry.Attempts)

	// upstream fixes the deal
	h.server.ReplaceDeals("key-a", testutil.DealDocument("LOAN-1", 1), testutil.DealDocument("LOAN-7", 0))

	report, err = h.retryService(t).Retry(ctx, dealsync.FailureFilter{}, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Resolved)
	assert.Zero(t, report.StillFailing)

	entry, err = h.ledger.Get(ctx, "LOAN-7")
	require.NoError(t, err)
	assert.True(t, entry.Resolved)
	assert.NotNil(t, entry.ResolvedAt)

	unresolved, err = h.ledger.ListUnresolved(ctx, dealsync.FailureFilter{}, 0)
	require.NoError(t, err)
	assert.Empty(t, unresolved)
	assert.Equal(t, int64(2), h.dealCount(t))
}

func TestRetryService_Scenario_DealGoneUpstream(t *testing.T) {
	ctx := context.Background()
	h := newSyncHarness(t)
	p := h.createPartition(t, "broker-a", "key-a")

	require.NoError(t, h.ledger.Record(ctx,
		dealsync.NewFailureRecord("LOAN-404", p.ID, dealsync.FailureStageReconcile, errors.New("deadlock detected"))))

	report, err := h.retryService(t).Retry(ctx, dealsync.FailureFilter{}, 0)
	require.NoError(t, err)

	require.Len(t, report.Results, 1)
	assert.False(t, report.Results[0].Resolved)
	assert.Equal(t, dealsync.FailureStageLookup, report.Results[0].Stage)

	entry, err := h.ledger.Get(ctx, "LOAN-404")
	require.NoError(t, err)
	assert.False(t, entry.Resolved)
	assert.Equal(t, "look up LOAN-404: deal not found at source", entry.ErrorMessage)
	assert.Equal(t, entry.ErrorMessage, report.Results[0].Error)
	assert.Equal(t, dealsync.FailureStageLookup, entry.Stage)
	assert.Equal(t, 2, entry.Attempts)
}
