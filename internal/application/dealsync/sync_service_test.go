package dealsync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"

	"github.com/dealsync/backend/internal/domain/dealsync"
	"github.com/dealsync/backend/internal/infrastructure/persistence"
	"github.com/dealsync/backend/internal/infrastructure/persistence/models"
	"github.com/dealsync/backend/internal/infrastructure/ratelimit"
	"github.com/dealsync/backend/internal/infrastructure/source"
	"github.com/dealsync/backend/internal/infrastructure/storage"
	"github.com/dealsync/backend/tests/testutil"
)

func window2024() dealsync.Window {
	return dealsync.Window{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
	}
}

func newPartition(t *testing.T, name, apiKey string) *dealsync.Partition {
	t.Helper()
	p, err := dealsync.NewPartition(name, apiKey)
	require.NoError(t, err)
	return p
}

func sourceDoc(t *testing.T, doc testutil.Doc) dealsync.SourceDocument {
	code, _ := doc["loanCode"].(string)
	return dealsync.SourceDocument{LoanCode: code, Payload: testutil.MustJSON(t, doc)}
}

// malformedDoc has a borrowers field that is not a list
func malformedDoc(loanCode string) testutil.Doc {
	d := testutil.DealDocument(loanCode)
	d["borrowers"] = "not-a-list"
	return d
}

func singleWindowResult(w dealsync.Window, docs ...dealsync.SourceDocument) *dealsync.WindowResult {
	return &dealsync.WindowResult{SubWindows: []dealsync.SubWindowResult{
		{Window: w, Documents: docs, Pages: 1, TotalDeals: len(docs)},
	}}
}

func matchLoanCode(code string) interface{} {
	return mock.MatchedBy(func(rows *dealsync.RowSet) bool { return rows.Deal.LoanCode == code })
}

// ---------------------------------------------------------------------------
// SyncPartition with mocked ports
// ---------------------------------------------------------------------------

func TestSyncService_SyncPartition_MissingCredentials(t *testing.T) {
	src := new(mockDealSource)
	rec := new(mockReconciler)
	ledger := new(mockLedger)
	svc := NewSyncService(src, rec, ledger, nil, nil, zaptest.NewLogger(t), DefaultSyncServiceConfig())

	p := &dealsync.Partition{ID: testutil.TestPartitionID(), Name: "broker-a"}
	run := svc.SyncPartition(context.Background(), p, window2024())

	assert.Equal(t, dealsync.PartitionStatusFailed, run.Status)
	assert.Equal(t, dealsync.ErrPartitionMissingCredentials.Error(), run.Reason)
	assert.False(t, run.AdvancesWatermark())
	src.AssertNotCalled(t, "FetchWindow", mock.Anything, mock.Anything, mock.Anything)
}

func TestSyncService_SyncPartition_AllWindowsFailed(t *testing.T) {
	src := new(mockDealSource)
	rec := new(mockReconciler)
	ledger := new(mockLedger)
	svc := NewSyncService(src, rec, ledger, nil, nil, zaptest.NewLogger(t), DefaultSyncServiceConfig())

	p := newPartition(t, "broker-a", "key-a")
	w1, _ := dealsync.ParseDate("2023-01-01")
	w2, _ := dealsync.ParseDate("2024-01-01")
	result := &dealsync.WindowResult{SubWindows: []dealsync.SubWindowResult{
		{Window: dealsync.Window{Start: w1, End: w1.AddDate(0, 11, 30)}, Err: dealsync.ErrSourceUnavailable},
		{Window: dealsync.Window{Start: w2, End: w2.AddDate(0, 11, 30)}, Err: dealsync.ErrSourceRequestFailed},
	}}
	src.On("FetchWindow", mock.Anything, p, mock.Anything).Return(result)

	run := svc.SyncPartition(context.Background(), p, window2024())

	assert.Equal(t, dealsync.PartitionStatusFailed, run.Status)
	assert.Equal(t, 2, run.WindowsTotal)
	assert.Equal(t, 2, run.WindowsFailed)
	assert.Len(t, run.WindowFailures, 2)
	assert.Zero(t, run.Found)
	rec.AssertNotCalled(t, "Reconcile", mock.Anything, mock.Anything, mock.Anything)
}

func TestSyncService_SyncPartition_NoDeals(t *testing.T) {
	src := new(mockDealSource)
	rec := new(mockReconciler)
	ledger := new(mockLedger)
	svc := NewSyncService(src, rec, ledger, nil, nil, zaptest.NewLogger(t), DefaultSyncServiceConfig())

	p := newPartition(t, "broker-a", "key-a")
	src.On("FetchWindow", mock.Anything, p, window2024()).Return(singleWindowResult(window2024()))

	run := svc.SyncPartition(context.Background(), p, window2024())

	assert.Equal(t, dealsync.PartitionStatusCompleted, run.Status)
	assert.True(t, run.AdvancesWatermark())
	assert.Equal(t, "2024-01-01", run.WindowStart)
	assert.Equal(t, "2024-12-31", run.WindowEnd)
	ledger.AssertNotCalled(t, "Resolve", mock.Anything, mock.Anything)
}

func TestSyncService_SyncPartition_MixedOutcomes(t *testing.T) {
	src := new(mockDealSource)
	rec := new(mockReconciler)
	ledger := new(mockLedger)
	quarantine := storage.NewMemoryQuarantineStore()
	svc := NewSyncService(src, rec, ledger, quarantine, nil, zaptest.NewLogger(t), DefaultSyncServiceConfig())

	p := newPartition(t, "broker-a", "key-a")
	src.On("FetchWindow", mock.Anything, p, mock.Anything).Return(singleWindowResult(window2024(),
		sourceDoc(t, testutil.DealDocument("LOAN-1", 1)),
		sourceDoc(t, malformedDoc("LOAN-2")),
		sourceDoc(t, testutil.DealDocument("LOAN-3")),
	))
	rec.On("Reconcile", mock.Anything, p.ID, matchLoanCode("LOAN-1")).
		Return(dealsync.SyncOutcome{Success: true, LoanCode: "LOAN-1"})
	rec.On("Reconcile", mock.Anything, p.ID, matchLoanCode("LOAN-3")).
		Return(dealsync.SyncOutcome{LoanCode: "LOAN-3", Err: errors.New("deadlock detected")})

	var recorded []dealsync.FailureRecord
	ledger.On("Record", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { recorded = append(recorded, args.Get(1).(dealsync.FailureRecord)) }).
		Return(nil)
	ledger.On("Resolve", mock.Anything, []string{"LOAN-1"}).Return(nil)

	run := svc.SyncPartition(context.Background(), p, window2024())

	assert.Equal(t, dealsync.PartitionStatusPartiallyFailed, run.Status)
	assert.Equal(t, 3, run.Found)
	assert.Equal(t, 1, run.Synced)
	assert.Equal(t, 2, run.Failed)
	assert.True(t, run.AdvancesWatermark(), "deal failures are left to the ledger")

	require.Len(t, recorded, 2)
	byKey := map[string]dealsync.FailureRecord{}
	for _, r := range recorded {
		byKey[r.Key] = r
	}

	decode := byKey["LOAN-2"]
	assert.Equal(t, dealsync.FailureStageDecode, decode.Stage)
	assert.Equal(t, p.ID, decode.PartitionID)
	assert.NotEmpty(t, decode.QuarantinedRef)
	assert.Equal(t, []string{decode.QuarantinedRef}, quarantine.Keys())

	reconcile := byKey["LOAN-3"]
	assert.Equal(t, dealsync.FailureStageReconcile, reconcile.Stage)
	assert.Contains(t, reconcile.ErrorMessage, "deadlock detected")
	assert.Empty(t, reconcile.QuarantinedRef)

	ledger.AssertExpectations(t)
}

func TestSyncService_SyncPartition_NoneSynced(t *testing.T) {
	src := new(mockDealSource)
	rec := new(mockReconciler)
	ledger := new(mockLedger)
	svc := NewSyncService(src, rec, ledger, nil, nil, zaptest.NewLogger(t), DefaultSyncServiceConfig())

	p := newPartition(t, "broker-a", "key-a")
	src.On("FetchWindow", mock.Anything, p, mock.Anything).Return(singleWindowResult(window2024(),
		sourceDoc(t, malformedDoc("LOAN-1")),
		sourceDoc(t, malformedDoc("LOAN-2")),
	))
	ledger.On("Record", mock.Anything, mock.Anything).Return(nil)

	run := svc.SyncPartition(context.Background(), p, window2024())

	assert.Equal(t, dealsync.PartitionStatusFailed, run.Status)
	assert.Equal(t, 2, run.Failed)
	assert.Contains(t, run.Reason, "none of 2 deals synced")
	ledger.AssertNumberOfCalls(t, "Record", 2)
	ledger.AssertNotCalled(t, "Resolve", mock.Anything, mock.Anything)
	rec.AssertNotCalled(t, "Reconcile", mock.Anything, mock.Anything, mock.Anything)
}

func TestSyncService_SyncPartition_DeduplicatesLoanCodes(t *testing.T) {
	src := new(mockDealSource)
	rec := new(mockReconciler)
	ledger := new(mockLedger)
	svc := NewSyncService(src, rec, ledger, nil, nil, zaptest.NewLogger(t), DefaultSyncServiceConfig())

	first := testutil.DealDocument("LOAN-1")
	last := testutil.DealDocument("LOAN-1")
	last["agentName"] = "Agent Jones"

	p := newPartition(t, "broker-a", "key-a")
	src.On("FetchWindow", mock.Anything, p, mock.Anything).Return(singleWindowResult(window2024(),
		sourceDoc(t, first),
		sourceDoc(t, testutil.DealDocument("LOAN-2")),
		sourceDoc(t, last),
	))

	var agents []string
	rec.On("Reconcile", mock.Anything, p.ID, matchLoanCode("LOAN-1")).
		Run(func(args mock.Arguments) {
			rows := args.Get(2).(*dealsync.RowSet)
			if rows.Deal.AgentName != nil {
				agents = append(agents, *rows.Deal.AgentName)
			}
		}).
		Return(dealsync.SyncOutcome{Success: true})
	rec.On("Reconcile", mock.Anything, p.ID, matchLoanCode("LOAN-2")).Return(dealsync.SyncOutcome{Success: true})
	ledger.On("Resolve", mock.Anything, []string{"LOAN-1", "LOAN-2"}).Return(nil)

	run := svc.SyncPartition(context.Background(), p, window2024())

	assert.Equal(t, dealsync.PartitionStatusCompleted, run.Status)
	assert.Equal(t, 2, run.Found)
	assert.Equal(t, 2, run.Synced)
	assert.Equal(t, []string{"Agent Jones"}, agents)
	rec.AssertNumberOfCalls(t, "Reconcile", 2)
	ledger.AssertExpectations(t)
}

func TestSyncService_SyncPartition_Cancelled(t *testing.T) {
	src := new(mockDealSource)
	rec := new(mockReconciler)
	ledger := new(mockLedger)
	svc := NewSyncService(src, rec, ledger, nil, nil, zaptest.NewLogger(t), DefaultSyncServiceConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := newPartition(t, "broker-a", "key-a")
	src.On("FetchWindow", mock.Anything, p, mock.Anything).Return(&dealsync.WindowResult{SubWindows: []dealsync.SubWindowResult{
		{Window: window2024(), Err: context.Canceled},
	}})

	run := svc.SyncPartition(ctx, p, window2024())

	assert.Equal(t, dealsync.PartitionStatusFailed, run.Status)
	assert.Equal(t, context.Canceled.Error(), run.Reason)
	ledger.AssertNotCalled(t, "Record", mock.Anything, mock.Anything)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func TestDedupeDocuments(t *testing.T) {
	docs := []dealsync.SourceDocument{
		{LoanCode: "A", Payload: []byte(`{"v":1}`)},
		{LoanCode: "", Payload: []byte(`[]`)},
		{LoanCode: "B", Payload: []byte(`{"v":2}`)},
		{LoanCode: "A", Payload: []byte(`{"v":3}`)},
		{LoanCode: "", Payload: []byte(`[]`)},
	}

	out := dedupeDocuments(docs)

	require.Len(t, out, 4)
	assert.Equal(t, "A", out[0].LoanCode)
	assert.JSONEq(t, `{"v":3}`, string(out[0].Payload))
	assert.Equal(t, "", out[1].LoanCode)
	assert.Equal(t, "B", out[2].LoanCode)
	assert.Equal(t, "", out[3].LoanCode)
}

func TestFailureKey(t *testing.T) {
	assert.Equal(t, "LOAN-1", failureKey(dealsync.SourceDocument{LoanCode: "LOAN-1"}))

	a := failureKey(dealsync.SourceDocument{Payload: []byte(`[1,2]`)})
	b := failureKey(dealsync.SourceDocument{Payload: []byte(`[1,2]`)})
	c := failureKey(dealsync.SourceDocument{Payload: []byte(`[3]`)})
	assert.Equal(t, a, b, "stable for the same payload")
	assert.NotEqual(t, a, c)
	assert.Contains(t, a, payloadKeyPrefix)
}

// ---------------------------------------------------------------------------
// SyncPartition against a fake source and sqlite
// ---------------------------------------------------------------------------

type syncHarness struct {
	server     *testutil.SourceServer
	db         *gorm.DB
	client     *source.Client
	reconciler *persistence.GormDealReconciler
	ledger     *persistence.GormSyncFailureRepository
	partitions *persistence.GormPartitionRepository
	quarantine *storage.MemoryQuarantineStore
}

func newSyncHarness(t *testing.T) *syncHarness {
	t.Helper()
	server := testutil.NewSourceServer(t)
	client, err := source.NewClient(
		source.Config{BaseURL: server.URL, WindowConcurrency: 2, Timeout: 5 * time.Second},
		source.WithLimiter(ratelimit.NewUnlimited()),
		source.WithLogger(zaptest.NewLogger(t)),
	)
	require.NoError(t, err)

	db := testutil.NewSQLiteDB(t, models.AllModels()...)
	return &syncHarness{
		server:     server,
		db:         db,
		client:     client,
		reconciler: persistence.NewGormDealReconciler(db, zaptest.NewLogger(t)),
		ledger:     persistence.NewGormSyncFailureRepository(db),
		partitions: persistence.NewGormPartitionRepository(db),
		quarantine: storage.NewMemoryQuarantineStore(),
	}
}

func (h *syncHarness) syncService(t *testing.T) *SyncService {
	return NewSyncService(h.client, h.reconciler, h.ledger, h.quarantine, nil, zaptest.NewLogger(t), DefaultSyncServiceConfig())
}

func (h *syncHarness) retryService(t *testing.T) *RetryService {
	return NewRetryService(h.client, h.reconciler, h.ledger, h.partitions, h.quarantine, nil, zaptest.NewLogger(t))
}

func (h *syncHarness) createPartition(t *testing.T, name, apiKey string) *dealsync.Partition {
	t.Helper()
	p := newPartition(t, name, apiKey)
	require.NoError(t, h.partitions.Create(context.Background(), p))
	return p
}

func (h *syncHarness) dealCount(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, h.db.Model(&models.DealModel{}).Count(&n).Error)
	return n
}

func dealCreatedOn(loanCode, created string) testutil.Doc {
	d := testutil.DealDocument(loanCode, 1)
	d["createdDate"] = created
	return d
}

func fiveYears() dealsync.Window {
	return dealsync.Window{
		Start: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
	}
}

func TestSyncService_Scenario_OneYearFails(t *testing.T) {
	h := newSyncHarness(t)
	p := h.createPartition(t, "broker-a", "key-a")
	h.server.AddDeals("key-a",
		dealCreatedOn("LOAN-2020", "2020-03-01T10:00:00Z"),
		dealCreatedOn("LOAN-2021", "2021-06-15T10:00:00Z"),
		dealCreatedOn("LOAN-2023", "2023-09-30T10:00:00Z"),
	)
	h.server.FailYear("key-a", 2022, 500)

	run := h.syncService(t).SyncPartition(context.Background(), p, fiveYears())

	assert.Equal(t, dealsync.PartitionStatusPartiallyFailed, run.Status)
	assert.Equal(t, 5, run.WindowsTotal)
	assert.Equal(t, 1, run.WindowsFailed)
	require.Len(t, run.WindowFailures, 1)
	assert.Contains(t, run.WindowFailures[0].Window, "2022-01-01")
	assert.Equal(t, 3, run.Found)
	assert.Equal(t, 3, run.Synced)
	assert.False(t, run.AdvancesWatermark())
	assert.Equal(t, int64(3), h.dealCount(t))
}

func TestSyncService_Scenario_AllYearsFail(t *testing.T) {
	h := newSyncHarness(t)
	p := h.createPartition(t, "broker-a", "key-a")
	for year := 2020; year <= 2024; year++ {
		h.server.FailYear("key-a", year, 503)
	}

	run := h.syncService(t).SyncPartition(context.Background(), p, fiveYears())

	assert.Equal(t, dealsync.PartitionStatusFailed, run.Status)
	assert.Equal(t, 5, run.WindowsFailed)
	assert.Contains(t, run.Reason, "all 5 sub-windows failed")
	assert.Zero(t, h.dealCount(t))
}

func TestSyncService_Scenario_ResyncIsIdempotent(t *testing.T) {
	h := newSyncHarness(t)
	p := h.createPartition(t, "broker-a", "key-a")
	h.server.SetPageSize(1)
	h.server.AddDeals("key-a", testutil.DealDocument("LOAN-1", 2), testutil.DealDocument("LOAN-2", 0))

	svc := h.syncService(t)
	first := svc.SyncPartition(context.Background(), p, window2024())
	second := svc.SyncPartition(context.Background(), p, window2024())

	assert.Equal(t, dealsync.PartitionStatusCompleted, first.Status)
	assert.Equal(t, dealsync.PartitionStatusCompleted, second.Status)
	assert.Equal(t, 2, second.Synced)
	assert.Equal(t, int64(2), h.dealCount(t))

	var liabilities int64
	require.NoError(t, h.db.Model(&models.BorrowerLiabilityModel{}).Count(&liabilities).Error)
	assert.Equal(t, int64(2), liabilities)
}
