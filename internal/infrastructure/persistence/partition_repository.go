package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/dealsync/backend/internal/domain/dealsync"
	"github.com/dealsync/backend/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormPartitionRepository implements dealsync.PartitionRepository using GORM
type GormPartitionRepository struct {
	db *gorm.DB
}

// NewGormPartitionRepository creates a new GormPartitionRepository
func NewGormPartitionRepository(db *gorm.DB) *GormPartitionRepository {
	return &GormPartitionRepository{db: db}
}

// Create registers a new partition. Names are unique.
func (r *GormPartitionRepository) Create(ctx context.Context, partition *dealsync.Partition) error {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.PartitionModel{}).
		Where("name = ?", partition.Name).
		Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return dealsync.ErrPartitionAlreadyExists
	}

	var model models.PartitionModel
	model.FromDomain(partition)
	return r.db.WithContext(ctx).Create(&model).Error
}

// FindByID finds a partition by ID
func (r *GormPartitionRepository) FindByID(ctx context.Context, id uuid.UUID) (*dealsync.Partition, error) {
	var model models.PartitionModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, dealsync.ErrPartitionNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByName finds a partition by its unique name
func (r *GormPartitionRepository) FindByName(ctx context.Context, name string) (*dealsync.Partition, error) {
	var model models.PartitionModel
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, dealsync.ErrPartitionNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// ListEnabled returns the enabled partitions ordered by name
func (r *GormPartitionRepository) ListEnabled(ctx context.Context) ([]*dealsync.Partition, error) {
	return r.list(r.db.WithContext(ctx).Where("enabled = ?", true))
}

// List returns every partition ordered by name
func (r *GormPartitionRepository) List(ctx context.Context) ([]*dealsync.Partition, error) {
	return r.list(r.db.WithContext(ctx))
}

func (r *GormPartitionRepository) list(query *gorm.DB) ([]*dealsync.Partition, error) {
	var rows []models.PartitionModel
	if err := query.Order("name ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	partitions := make([]*dealsync.Partition, len(rows))
	for i := range rows {
		partitions[i] = rows[i].ToDomain()
	}
	return partitions, nil
}

// RecordRun stores the terminal status, error and deal count of a run.
// last_sync_at only moves when watermark is non-nil.
func (r *GormPartitionRepository) RecordRun(ctx context.Context, run *dealsync.PartitionRun, watermark *time.Time) error {
	updates := map[string]interface{}{
		"last_sync_status":      string(run.Status),
		"last_sync_error":       run.Reason,
		"last_sync_deals_count": run.Synced,
		"updated_at":            time.Now().UTC(),
	}
	if watermark != nil {
		updates["last_sync_at"] = watermark.UTC()
	}

	result := r.db.WithContext(ctx).
		Model(&models.PartitionModel{}).
		Where("id = ?", run.PartitionID).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return dealsync.ErrPartitionNotFound
	}
	return nil
}

// Compile-time interface check
var _ dealsync.PartitionRepository = (*GormPartitionRepository)(nil)
