package models

import (
	"time"

	"github.com/dealsync/backend/internal/domain/dealsync"
	"github.com/google/uuid"
)

// PartitionModel is the persistence model for a broker partition
type PartitionModel struct {
	ID                 uuid.UUID  `gorm:"type:uuid;primaryKey"`
	Name               string     `gorm:"type:varchar(100);not null;uniqueIndex"`
	APIKey             string     `gorm:"column:api_key;type:varchar(200);not null"`
	Enabled            bool       `gorm:"not null"`
	LastSyncAt         *time.Time `gorm:"index"`
	LastSyncStatus     string     `gorm:"type:varchar(32)"`
	LastSyncError      string     `gorm:"type:text"`
	LastSyncDealsCount int        `gorm:"not null"`
	CreatedAt          time.Time  `gorm:"not null"`
	UpdatedAt          time.Time  `gorm:"not null"`
}

// TableName returns the table name for GORM
func (PartitionModel) TableName() string {
	return "partitions"
}

// ToDomain converts the model to a domain Partition
func (m *PartitionModel) ToDomain() *dealsync.Partition {
	return &dealsync.Partition{
		ID:                 m.ID,
		Name:               m.Name,
		APIKey:             m.APIKey,
		Enabled:            m.Enabled,
		LastSyncAt:         m.LastSyncAt,
		LastSyncStatus:     dealsync.PartitionStatus(m.LastSyncStatus),
		LastSyncError:      m.LastSyncError,
		LastSyncDealsCount: m.LastSyncDealsCount,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}
}

// FromDomain populates the model from a domain Partition
func (m *PartitionModel) FromDomain(p *dealsync.Partition) {
	m.ID = p.ID
	m.Name = p.Name
	m.APIKey = p.APIKey
	m.Enabled = p.Enabled
	m.LastSyncAt = p.LastSyncAt
	m.LastSyncStatus = string(p.LastSyncStatus)
	m.LastSyncError = p.LastSyncError
	m.LastSyncDealsCount = p.LastSyncDealsCount
	m.CreatedAt = p.CreatedAt
	m.UpdatedAt = p.UpdatedAt
}

// SyncFailureModel is the persistence model for a failure ledger entry
type SyncFailureModel struct {
	FailureKey     string     `gorm:"type:varchar(200);primaryKey"`
	PartitionID    uuid.UUID  `gorm:"type:uuid;not null;index"`
	Stage          string     `gorm:"type:varchar(16);not null;index"`
	ErrorMessage   string     `gorm:"type:text;not null"`
	FirstFailedAt  time.Time  `gorm:"not null"`
	LastFailedAt   time.Time  `gorm:"not null;index"`
	Attempts       int        `gorm:"not null"`
	Resolved       bool       `gorm:"not null;index"`
	ResolvedAt     *time.Time
	QuarantinedRef string `gorm:"type:varchar(500)"`
}

// TableName returns the table name for GORM
func (SyncFailureModel) TableName() string {
	return "sync_failures"
}

// ToDomain converts the model to a domain FailureRecord
func (m *SyncFailureModel) ToDomain() dealsync.FailureRecord {
	return dealsync.FailureRecord{
		Key:            m.FailureKey,
		PartitionID:    m.PartitionID,
		Stage:          dealsync.FailureStage(m.Stage),
		ErrorMessage:   m.ErrorMessage,
		FirstFailedAt:  m.FirstFailedAt,
		LastFailedAt:   m.LastFailedAt,
		Attempts:       m.Attempts,
		Resolved:       m.Resolved,
		ResolvedAt:     m.ResolvedAt,
		QuarantinedRef: m.QuarantinedRef,
	}
}

// FromDomain populates the model from a domain FailureRecord
func (m *SyncFailureModel) FromDomain(r dealsync.FailureRecord) {
	m.FailureKey = r.Key
	m.PartitionID = r.PartitionID
	m.Stage = string(r.Stage)
	m.ErrorMessage = r.ErrorMessage
	m.FirstFailedAt = r.FirstFailedAt
	m.LastFailedAt = r.LastFailedAt
	m.Attempts = r.Attempts
	m.Resolved = r.Resolved
	m.ResolvedAt = r.ResolvedAt
	m.QuarantinedRef = r.QuarantinedRef
}

// AllModels lists every model owned by the sync engine
func AllModels() []interface{} {
	return append(DealTables(), &PartitionModel{}, &SyncFailureModel{})
}
