// Package testutil holds shared fixtures for sync tests: a sqlmock-backed
// GORM handle, an in-memory sqlite database, deal documents and a fake
// source API server.
package testutil

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// idNamespace seeds StableID so fixture ids never collide with real ones
var idNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// MockDB is a postgres-dialect GORM handle over sqlmock, for asserting the
// exact SQL a repository emits.
type MockDB struct {
	DB   *gorm.DB
	Mock sqlmock.Sqlmock
}

// NewMockDB opens a MockDB that is closed when the test ends.
func NewMockDB(t *testing.T) *MockDB {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err, "Failed to create sqlmock")
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{
		Conn:       sqlDB,
		DriverName: "postgres",
	}), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err, "Failed to open GORM connection")

	return &MockDB{DB: db, Mock: mock}
}

// ExpectationsWereMet fails the test on any unmet SQL expectation.
func (m *MockDB) ExpectationsWereMet(t *testing.T) {
	t.Helper()
	require.NoError(t, m.Mock.ExpectationsWereMet(), "Unmet database expectations")
}

// StableID derives a reproducible id from seed.
func StableID(seed string) uuid.UUID {
	return uuid.NewSHA1(idNamespace, []byte(seed))
}

// TestPartitionID is the partition id shared by single-partition tests.
func TestPartitionID() uuid.UUID {
	return StableID("test-partition")
}
