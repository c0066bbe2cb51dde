package dealsync

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/dealsync/backend/internal/domain/dealsync"
)

// mockDealSource is a mock implementation of dealsync.DealSource
type mockDealSource struct {
	mock.Mock
}

func (m *mockDealSource) FetchWindow(ctx context.Context, partition *dealsync.Partition, window dealsync.Window) *dealsync.WindowResult {
	args := m.Called(ctx, partition, window)
	return args.Get(0).(*dealsync.WindowResult)
}

func (m *mockDealSource) GetDeal(ctx context.Context, partition *dealsync.Partition, loanCode string) (dealsync.SourceDocument, error) {
	args := m.Called(ctx, partition, loanCode)
	return args.Get(0).(dealsync.SourceDocument), args.Error(1)
}

// mockReconciler is a mock implementation of dealsync.DealReconciler
type mockReconciler struct {
	mock.Mock
}

func (m *mockReconciler) Reconcile(ctx context.Context, partitionID uuid.UUID, rows *dealsync.RowSet) dealsync.SyncOutcome {
	args := m.Called(ctx, partitionID, rows)
	return args.Get(0).(dealsync.SyncOutcome)
}

// mockLedger is a mock implementation of dealsync.FailureLedger
type mockLedger struct {
	mock.Mock
}

func (m *mockLedger) Record(ctx context.Context, record dealsync.FailureRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *mockLedger) Resolve(ctx context.Context, keys ...string) error {
	args := m.Called(ctx, keys)
	return args.Error(0)
}

func (m *mockLedger) ListUnresolved(ctx context.Context, filter dealsync.FailureFilter, limit int) ([]dealsync.FailureRecord, error) {
	args := m.Called(ctx, filter, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]dealsync.FailureRecord), args.Error(1)
}

func (m *mockLedger) Get(ctx context.Context, key string) (*dealsync.FailureRecord, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dealsync.FailureRecord), args.Error(1)
}

func (m *mockLedger) Purge(ctx context.Context, keys ...string) (int64, error) {
	args := m.Called(ctx, keys)
	return args.Get(0).(int64), args.Error(1)
}

// mockPartitionRepo is a mock implementation of dealsync.PartitionRepository
type mockPartitionRepo struct {
	mock.Mock
}

func (m *mockPartitionRepo) Create(ctx context.Context, partition *dealsync.Partition) error {
	args := m.Called(ctx, partition)
	return args.Error(0)
}

func (m *mockPartitionRepo) FindByID(ctx context.Context, id uuid.UUID) (*dealsync.Partition, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dealsync.Partition), args.Error(1)
}

func (m *mockPartitionRepo) FindByName(ctx context.Context, name string) (*dealsync.Partition, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dealsync.Partition), args.Error(1)
}

func (m *mockPartitionRepo) ListEnabled(ctx context.Context) ([]*dealsync.Partition, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*dealsync.Partition), args.Error(1)
}

func (m *mockPartitionRepo) List(ctx context.Context) ([]*dealsync.Partition, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*dealsync.Partition), args.Error(1)
}

func (m *mockPartitionRepo) RecordRun(ctx context.Context, run *dealsync.PartitionRun, watermark *time.Time) error {
	args := m.Called(ctx, run, watermark)
	return args.Error(0)
}
