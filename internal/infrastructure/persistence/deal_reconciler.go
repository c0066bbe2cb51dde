package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dealsync/backend/internal/domain/dealsync"
	"github.com/dealsync/backend/internal/infrastructure/persistence/models"
	"github.com/dealsync/backend/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// errEmptyLoanCode is returned for a row set without a natural key
var errEmptyLoanCode = errors.New("row set has no loan code")

// GormDealReconciler implements dealsync.DealReconciler using GORM.
// Each deal is converged in its own transaction.
type GormDealReconciler struct {
	db     *gorm.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewGormDealReconciler creates a new GormDealReconciler
func NewGormDealReconciler(db *gorm.DB, logger *zap.Logger) *GormDealReconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GormDealReconciler{
		db:     db,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Reconcile upserts the deal and converges every child collection with the
// row set. Any error rolls back this deal only and is returned in the outcome.
func (r *GormDealReconciler) Reconcile(ctx context.Context, partitionID uuid.UUID, rows *dealsync.RowSet) (out dealsync.SyncOutcome) {
	if rows == nil || rows.Deal.LoanCode == "" {
		return dealsync.SyncOutcome{Err: errEmptyLoanCode}
	}
	out.LoanCode = rows.Deal.LoanCode

	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanReconcile,
		telemetry.AttrLoanCode.String(rows.Deal.LoanCode),
		telemetry.AttrPartitionID.String(partitionID.String()),
	)
	defer func() {
		if rec := recover(); rec != nil {
			out = dealsync.SyncOutcome{
				LoanCode: rows.Deal.LoanCode,
				Err:      fmt.Errorf("reconcile %s: panic: %v", rows.Deal.LoanCode, rec),
			}
		}
		telemetry.EndSpan(span, out.Err)
	}()

	var dealID uuid.UUID
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		id, err := r.upsertDeal(tx, partitionID, rows.Deal)
		if err != nil {
			return err
		}
		dealID = id

		for _, w := range planWrites(dealID, rows) {
			if err := applyWrite(tx, w); err != nil {
				return fmt.Errorf("%s %s: %w", w.collection, w.collection.Strategy(), err)
			}
		}
		return nil
	})
	if err != nil {
		out.Err = fmt.Errorf("reconcile %s: %w", rows.Deal.LoanCode, err)
		r.logger.Debug("Deal reconcile rolled back",
			zap.String("loan_code", rows.Deal.LoanCode),
			zap.Error(err))
		return out
	}

	out.Success = true
	out.DealID = dealID
	return out
}

// upsertDeal writes the deal row keyed by loan code and reads back its durable id
func (r *GormDealReconciler) upsertDeal(tx *gorm.DB, partitionID uuid.UUID, deal dealsync.DealRow) (uuid.UUID, error) {
	model := models.DealModelFromDomain(partitionID, deal, r.now())
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "loan_code"}},
		UpdateAll: true,
	}).Create(model).Error; err != nil {
		return uuid.Nil, fmt.Errorf("upsert deal: %w", err)
	}

	var stored models.DealModel
	if err := tx.Select("id").Where("loan_code = ?", deal.LoanCode).Take(&stored).Error; err != nil {
		return uuid.Nil, fmt.Errorf("read back deal id: %w", err)
	}
	return stored.ID, nil
}

// collectionWrite is one tagged collection of a deal, ready to be applied with
// the strategy its collection declares.
type collectionWrite struct {
	collection dealsync.Collection
	model      interface{}
	// parent scopes the write, e.g. deal_id or borrower_id
	parentColumn string
	parentID     uuid.UUID
	// scope narrows the index space further, e.g. condition_type
	scope       map[string]interface{}
	indexColumn string
	conflict    []string
	count       int
	rows        interface{}
	// owned are child models deleted with a pruned row, joined on ownerColumn
	owned       []interface{}
	ownerColumn string
}

// planWrites lays out every collection of the row set in write order
func planWrites(dealID uuid.UUID, rs *dealsync.RowSet) []collectionWrite {
	writes := []collectionWrite{
		{
			collection:   dealsync.CollectionSubjectProperty,
			model:        &models.SubjectPropertyModel{},
			parentColumn: "deal_id",
			parentID:     dealID,
			conflict:     []string{"deal_id"},
			count:        1,
			rows:         models.SubjectPropertyModelFromDomain(dealID, rs.SubjectProperty),
		},
		{
			collection:   dealsync.CollectionMortgageRequest,
			model:        &models.MortgageRequestModel{},
			parentColumn: "deal_id",
			parentID:     dealID,
			conflict:     []string{"deal_id"},
			count:        1,
			rows:         models.MortgageRequestModelFromDomain(dealID, rs.MortgageRequest),
		},
	}

	mortgages := models.MortgageModelsFromDomain(dealID, rs.Mortgages)
	writes = append(writes, collectionWrite{
		collection:   dealsync.CollectionMortgages,
		model:        &models.MortgageModel{},
		parentColumn: "deal_id",
		parentID:     dealID,
		indexColumn:  "mortgage_index",
		conflict:     []string{"deal_id", "mortgage_index"},
		count:        len(mortgages),
		rows:         &mortgages,
	})

	borrowers := make([]models.BorrowerModel, 0, len(rs.Borrowers))
	for _, b := range rs.Borrowers {
		borrowers = append(borrowers, *models.BorrowerModelFromDomain(dealID, b))
	}
	writes = append(writes, collectionWrite{
		collection:   dealsync.CollectionBorrowers,
		model:        &models.BorrowerModel{},
		parentColumn: "deal_id",
		parentID:     dealID,
		indexColumn:  "borrower_index",
		conflict:     []string{"deal_id", "borrower_index"},
		count:        len(borrowers),
		rows:         &borrowers,
		owned: []interface{}{
			&models.BorrowerAddressModel{},
			&models.BorrowerEmploymentModel{},
			&models.BorrowerLiabilityModel{},
			&models.BorrowerAssetModel{},
			&models.BorrowerPropertyModel{},
		},
		ownerColumn: "borrower_id",
	})

	for i, b := range rs.Borrowers {
		borrowerID := borrowers[i].ID
		children := models.BorrowerChildrenFromDomain(dealID, b)
		writes = append(writes,
			childWrite(dealsync.CollectionBorrowerAddresses, &models.BorrowerAddressModel{}, borrowerID, len(children.Addresses), &children.Addresses),
			childWrite(dealsync.CollectionBorrowerEmployment, &models.BorrowerEmploymentModel{}, borrowerID, len(children.Employment), &children.Employment),
			childWrite(dealsync.CollectionBorrowerLiability, &models.BorrowerLiabilityModel{}, borrowerID, len(children.Liabilities), &children.Liabilities),
			childWrite(dealsync.CollectionBorrowerAssets, &models.BorrowerAssetModel{}, borrowerID, len(children.Assets), &children.Assets),
			childWrite(dealsync.CollectionBorrowerProperties, &models.BorrowerPropertyModel{}, borrowerID, len(children.Properties), &children.Properties),
		)
	}

	for _, t := range []dealsync.ConditionType{dealsync.ConditionTypeBroker, dealsync.ConditionTypeLender} {
		var scoped []dealsync.ConditionRow
		for _, c := range rs.Conditions {
			if c.Type == t {
				scoped = append(scoped, c)
			}
		}
		conditions := models.ConditionModelsFromDomain(dealID, scoped)
		writes = append(writes, collectionWrite{
			collection:   dealsync.CollectionConditions,
			model:        &models.ConditionModel{},
			parentColumn: "deal_id",
			parentID:     dealID,
			scope:        map[string]interface{}{"condition_type": string(t)},
			indexColumn:  "condition_index",
			conflict:     []string{"deal_id", "condition_type", "condition_index"},
			count:        len(conditions),
			rows:         &conditions,
		})
	}

	notes := models.NoteModelsFromDomain(dealID, rs.Notes)
	writes = append(writes, collectionWrite{
		collection:   dealsync.CollectionNotes,
		model:        &models.NoteModel{},
		parentColumn: "deal_id",
		parentID:     dealID,
		indexColumn:  "note_index",
		conflict:     []string{"deal_id", "note_index"},
		count:        len(notes),
		rows:         &notes,
	})

	return writes
}

func childWrite(c dealsync.Collection, model interface{}, borrowerID uuid.UUID, count int, rows interface{}) collectionWrite {
	return collectionWrite{
		collection:   c,
		model:        model,
		parentColumn: "borrower_id",
		parentID:     borrowerID,
		count:        count,
		rows:         rows,
	}
}

// applyWrite converges one collection using its declared strategy
func applyWrite(tx *gorm.DB, w collectionWrite) error {
	switch w.collection.Strategy() {
	case dealsync.StrategyIndexKeyed:
		if err := pruneFrom(tx, w); err != nil {
			return err
		}
		if w.count == 0 {
			return nil
		}
		return tx.Clauses(upsertOn(w.conflict)).Create(w.rows).Error

	case dealsync.StrategyReplaceAll:
		if err := tx.Where(w.parentColumn+" = ?", w.parentID).Delete(w.model).Error; err != nil {
			return err
		}
		if w.count == 0 {
			return nil
		}
		return tx.Create(w.rows).Error

	case dealsync.StrategyOneToOne:
		return tx.Clauses(upsertOn(w.conflict)).Create(w.rows).Error

	default:
		return fmt.Errorf("no reconcile strategy for collection %q", w.collection)
	}
}

// pruneFrom deletes rows at or past the current cardinality of the index
// space, together with the rows they own.
func pruneFrom(tx *gorm.DB, w collectionWrite) error {
	stale := func() *gorm.DB {
		q := tx.Model(w.model).Where(w.parentColumn+" = ?", w.parentID).Where(w.indexColumn+" >= ?", w.count)
		if len(w.scope) > 0 {
			q = q.Where(w.scope)
		}
		return q
	}

	for _, child := range w.owned {
		if err := tx.Where(w.ownerColumn+" IN (?)", stale().Select("id")).Delete(child).Error; err != nil {
			return err
		}
	}
	return stale().Delete(w.model).Error
}

func upsertOn(columns []string) clause.OnConflict {
	cols := make([]clause.Column, 0, len(columns))
	for _, c := range columns {
		cols = append(cols, clause.Column{Name: c})
	}
	return clause.OnConflict{Columns: cols, UpdateAll: true}
}

// Compile-time interface check
var _ dealsync.DealReconciler = (*GormDealReconciler)(nil)
