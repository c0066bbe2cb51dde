package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/dealsync/backend/internal/domain/dealsync"
	"github.com/dealsync/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormSyncFailureRepository implements dealsync.FailureLedger using GORM
type GormSyncFailureRepository struct {
	db *gorm.DB
}

// NewGormSyncFailureRepository creates a new GormSyncFailureRepository
func NewGormSyncFailureRepository(db *gorm.DB) *GormSyncFailureRepository {
	return &GormSyncFailureRepository{db: db}
}

// WithTx returns a new repository with the given transaction
func (r *GormSyncFailureRepository) WithTx(tx *gorm.DB) *GormSyncFailureRepository {
	return &GormSyncFailureRepository{db: tx}
}

// Record upserts the entry keyed by its natural id. A repeated failure keeps
// first_failed_at, bumps attempts and clears any earlier resolution.
func (r *GormSyncFailureRepository) Record(ctx context.Context, record dealsync.FailureRecord) error {
	var model models.SyncFailureModel
	model.FromDomain(record)
	if model.Attempts <= 0 {
		model.Attempts = 1
	}
	model.Resolved = false
	model.ResolvedAt = nil

	updates := clause.AssignmentColumns([]string{"partition_id", "stage", "error_message", "last_failed_at"})
	updates = append(updates, clause.Assignments(map[string]interface{}{
		"attempts":        gorm.Expr("sync_failures.attempts + 1"),
		"resolved":        false,
		"resolved_at":     nil,
		"quarantined_ref": gorm.Expr("COALESCE(NULLIF(excluded.quarantined_ref, ''), sync_failures.quarantined_ref)"),
	})...)

	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "failure_key"}},
		DoUpdates: updates,
	}).Create(&model).Error
}

// Resolve marks the unresolved entries with the given keys as resolved
func (r *GormSyncFailureRepository) Resolve(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	now := time.Now().UTC()
	return r.db.WithContext(ctx).
		Model(&models.SyncFailureModel{}).
		Where("failure_key IN ? AND resolved = ?", keys, false).
		Updates(map[string]interface{}{
			"resolved":    true,
			"resolved_at": now,
		}).Error
}

// ListUnresolved returns unresolved entries, oldest failure first
func (r *GormSyncFailureRepository) ListUnresolved(ctx context.Context, filter dealsync.FailureFilter, limit int) ([]dealsync.FailureRecord, error) {
	query := r.db.WithContext(ctx).
		Model(&models.SyncFailureModel{}).
		Where("resolved = ?", false)

	if filter.PartitionID != nil {
		query = query.Where("partition_id = ?", *filter.PartitionID)
	}
	if filter.Stage != "" {
		query = query.Where("stage = ?", string(filter.Stage))
	}
	if filter.FailedBefore != nil {
		query = query.Where("last_failed_at < ?", *filter.FailedBefore)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var rows []models.SyncFailureModel
	if err := query.Order("last_failed_at ASC, failure_key ASC").Find(&rows).Error; err != nil {
		return nil, err
	}

	records := make([]dealsync.FailureRecord, len(rows))
	for i := range rows {
		records[i] = rows[i].ToDomain()
	}
	return records, nil
}

// Get returns the entry with the given key
func (r *GormSyncFailureRepository) Get(ctx context.Context, key string) (*dealsync.FailureRecord, error) {
	var model models.SyncFailureModel
	if err := r.db.WithContext(ctx).Where("failure_key = ?", key).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, dealsync.ErrFailureNotFound
		}
		return nil, err
	}
	record := model.ToDomain()
	return &record, nil
}

// Purge hard-deletes the entries with the given keys. Operator use only.
func (r *GormSyncFailureRepository) Purge(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	result := r.db.WithContext(ctx).Where("failure_key IN ?", keys).Delete(&models.SyncFailureModel{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// Compile-time interface check
var _ dealsync.FailureLedger = (*GormSyncFailureRepository)(nil)
