package integration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	appdealsync "github.com/dealsync/backend/internal/application/dealsync"
	"github.com/dealsync/backend/internal/domain/dealsync"
	"github.com/dealsync/backend/internal/infrastructure/cache"
	"github.com/dealsync/backend/internal/infrastructure/persistence"
	"github.com/dealsync/backend/internal/infrastructure/persistence/models"
	"github.com/dealsync/backend/internal/infrastructure/ratelimit"
	"github.com/dealsync/backend/internal/infrastructure/scheduler"
	"github.com/dealsync/backend/internal/infrastructure/source"
	"github.com/dealsync/backend/internal/infrastructure/storage"
	"github.com/dealsync/backend/tests/testutil"
)

func rowSetFor(t *testing.T, doc testutil.Doc) *dealsync.RowSet {
	t.Helper()
	raw, err := dealsync.DecodeRawDeal(testutil.MustJSON(t, doc))
	require.NoError(t, err)
	rs, err := dealsync.Transform(raw)
	require.NoError(t, err)
	return rs
}

func createPartition(t *testing.T, repo dealsync.PartitionRepository, name, apiKey string) *dealsync.Partition {
	t.Helper()
	p, err := dealsync.NewPartition(name, apiKey)
	require.NoError(t, err)
	require.NoError(t, repo.Create(context.Background(), p))
	return p
}

// TestMigrations_Integration walks the schema down and back up
func TestMigrations_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	testDB := NewTestDB(t)
	m := testDB.Migrator()

	version, dirty, err := m.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	require.NoError(t, m.Down())
	version, _, err = m.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(0), version)

	var exists bool
	require.NoError(t, testDB.DB.Raw(`SELECT EXISTS (SELECT 1 FROM pg_tables WHERE tablename = 'deals')`).Scan(&exists).Error)
	assert.False(t, exists)

	require.NoError(t, m.Up())
	require.NoError(t, m.Up(), "a second up is a no-op")
	assert.Equal(t, int64(0), testDB.Count("deals", ""))
}

// TestDealReconciler_Integration runs the reconcile scenarios against the migrated schema
func TestDealReconciler_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	testDB := NewTestDB(t)
	ctx := context.Background()
	partitions := persistence.NewGormPartitionRepository(testDB.DB)
	reconciler := persistence.NewGormDealReconciler(testDB.DB, zaptest.NewLogger(t))
	acme := createPartition(t, partitions, "acme", "key-a")

	t.Run("Idempotent", func(t *testing.T) {
		rs := rowSetFor(t, testutil.DealDocument("LOAN-IDEM", 3, 1))

		first := reconciler.Reconcile(ctx, acme.ID, rs)
		require.NoError(t, first.Err)
		borrowers := testDB.Count("borrowers", "deal_id = ?", first.DealID)
		liabilities := testDB.Count("borrower_liabilities", "deal_id = ?", first.DealID)
		conditions := testDB.Count("conditions", "deal_id = ?", first.DealID)

		second := reconciler.Reconcile(ctx, acme.ID, rs)
		require.NoError(t, second.Err)
		assert.Equal(t, first.DealID, second.DealID)
		assert.Equal(t, int64(1), testDB.Count("deals", "loan_code = ?", "LOAN-IDEM"))
		assert.Equal(t, borrowers, testDB.Count("borrowers", "deal_id = ?", first.DealID))
		assert.Equal(t, liabilities, testDB.Count("borrower_liabilities", "deal_id = ?", first.DealID))
		assert.Equal(t, conditions, testDB.Count("conditions", "deal_id = ?", first.DealID))
		assert.Equal(t, int64(4), liabilities)
	})

	t.Run("PrunesLiabilities", func(t *testing.T) {
		out := reconciler.Reconcile(ctx, acme.ID, rowSetFor(t, testutil.DealDocument("LOAN-PRUNE", 3)))
		require.NoError(t, out.Err)
		assert.Equal(t, int64(3), testDB.Count("borrower_liabilities", "deal_id = ?", out.DealID))

		out = reconciler.Reconcile(ctx, acme.ID, rowSetFor(t, testutil.DealDocument("LOAN-PRUNE", 1)))
		require.NoError(t, out.Err)
		assert.Equal(t, int64(1), testDB.Count("borrower_liabilities", "deal_id = ?", out.DealID))
	})

	t.Run("RemovesBorrower", func(t *testing.T) {
		out := reconciler.Reconcile(ctx, acme.ID, rowSetFor(t, testutil.DealDocument("LOAN-001", 2, 2)))
		require.NoError(t, out.Err)
		removed := models.RowID(out.DealID, models.BorrowerPath(1))

		out = reconciler.Reconcile(ctx, acme.ID, rowSetFor(t, testutil.DealDocument("LOAN-001", 2)))
		require.NoError(t, out.Err)
		assert.Equal(t, int64(1), testDB.Count("borrowers", "deal_id = ?", out.DealID))
		for _, table := range []string{
			"borrower_addresses", "borrower_employment", "borrower_liabilities",
			"borrower_assets", "borrower_properties",
		} {
			assert.Equal(t, int64(0), testDB.Count(table, "borrower_id = ?", removed), table)
		}
	})

	t.Run("SanitizedColumns", func(t *testing.T) {
		out := reconciler.Reconcile(ctx, acme.ID, rowSetFor(t, testutil.DealDocument("LOAN-SAN", 1)))
		require.NoError(t, out.Err)

		var sp models.SubjectPropertyModel
		require.NoError(t, testDB.DB.Where("deal_id = ?", out.DealID).First(&sp).Error)
		assert.False(t, sp.CondoFees.Valid, "a boolean literal in a money field is stored as null")
		require.True(t, sp.PurchasePrice.Valid)
		assert.Equal(t, "650000", sp.PurchasePrice.Decimal.String())
	})
}

// TestSyncAndRetry_Integration syncs a partition end to end, then fixes a
// failing deal at the source and retries it out of the ledger
func TestSyncAndRetry_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	testDB := NewTestDB(t)
	ctx := context.Background()
	log := zaptest.NewLogger(t)

	server := testutil.NewSourceServer(t)
	client, err := source.NewClient(
		source.Config{BaseURL: server.URL, Timeout: 5 * time.Second},
		source.WithLimiter(ratelimit.NewUnlimited()),
		source.WithLogger(log),
	)
	require.NoError(t, err)

	partitions := persistence.NewGormPartitionRepository(testDB.DB)
	ledger := persistence.NewGormSyncFailureRepository(testDB.DB)
	reconciler := persistence.NewGormDealReconciler(testDB.DB, log)
	quarantine := storage.NewMemoryQuarantineStore()

	syncService := appdealsync.NewSyncService(client, reconciler, ledger, quarantine, nil, log, appdealsync.DefaultSyncServiceConfig())
	retryService := appdealsync.NewRetryService(client, reconciler, ledger, partitions, quarantine, nil, log)

	cfg := scheduler.DefaultPartitionSchedulerConfig()
	cfg.Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	sched, err := scheduler.NewPartitionScheduler(cfg, syncService, partitions,
		scheduler.WithLocker(cache.NewInMemoryBatchLocker()),
		scheduler.WithLogger(log))
	require.NoError(t, err)

	acme := createPartition(t, partitions, "acme", "key-a")
	broken := testutil.DealDocument("LOAN-002", 1)
	broken["borrowers"] = "not-a-list"
	server.AddDeals("key-a", testutil.DealDocument("LOAN-001", 2), broken)

	report, err := sched.RunBatch(ctx, []*dealsync.Partition{acme}, scheduler.BatchOptions{})
	require.NoError(t, err)
	require.Len(t, report.Partitions, 1)
	assert.Equal(t, dealsync.PartitionStatusPartiallyFailed, report.Partitions[0].Status)
	assert.Equal(t, 1, report.Synced)
	assert.Equal(t, int64(1), testDB.Count("deals", ""))

	stored, err := partitions.FindByName(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, dealsync.PartitionStatusPartiallyFailed, stored.LastSyncStatus)
	require.NotNil(t, stored.LastSyncAt)

	unresolved, err := ledger.ListUnresolved(ctx, dealsync.FailureFilter{}, 10)
	require.NoError(t, err)
	require.Len(t, unresolved, 1)
	assert.Equal(t, "LOAN-002", unresolved[0].Key)
	assert.Equal(t, dealsync.FailureStageDecode, unresolved[0].Stage)
	assert.NotEmpty(t, unresolved[0].QuarantinedRef)

	server.ReplaceDeals("key-a", testutil.DealDocument("LOAN-001", 2), testutil.DealDocument("LOAN-002", 1))

	retried, err := retryService.Retry(ctx, dealsync.FailureFilter{}, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, retried.Resolved)
	assert.Equal(t, int64(2), testDB.Count("deals", ""))

	record, err := ledger.Get(ctx, "LOAN-002")
	require.NoError(t, err)
	assert.True(t, record.Resolved)
	assert.NotNil(t, record.ResolvedAt)
}

// TestRedisBatchLock_Integration checks that concurrent batches exclude each other through Redis
func TestRedisBatchLock_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	host, port := NewRedis(t)
	locker, err := cache.NewRedisBatchLocker(cache.RedisConfig{Host: host, Port: port})
	require.NoError(t, err)
	t.Cleanup(func() { _ = locker.Close() })

	ctx := context.Background()
	lease, err := locker.Obtain(ctx, "dealsync:batch", 10*time.Second)
	require.NoError(t, err)

	_, err = locker.Obtain(ctx, "dealsync:batch", 10*time.Second)
	assert.True(t, errors.Is(err, cache.ErrLockNotObtained))

	require.NoError(t, lease.Refresh(ctx, 10*time.Second))
	require.NoError(t, lease.Release(ctx))

	again, err := locker.Obtain(ctx, "dealsync:batch", 10*time.Second)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}
