package models

import (
	"strconv"
	"time"

	"github.com/dealsync/backend/internal/domain/dealsync"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DealNamespace seeds the deterministic deal ids. Child row ids are derived
// from the deal id and the row's collection path, so re-syncing unchanged
// source data rewrites identical rows.
var DealNamespace = uuid.MustParse("6f1c9a62-3d0e-5b8e-9a53-0c8d2f4b7e11")

// DealID returns the deterministic id of the deal with the given loan code
func DealID(loanCode string) uuid.UUID {
	return uuid.NewSHA1(DealNamespace, []byte(loanCode))
}

// RowID returns the deterministic id of a child row at path under the deal
func RowID(dealID uuid.UUID, path string) uuid.UUID {
	return uuid.NewSHA1(dealID, []byte(path))
}

// BorrowerPath is the collection path of a borrower
func BorrowerPath(index int) string {
	return "borrowers/" + strconv.Itoa(index)
}

// ChildPath is the collection path of a row owned by a borrower
func ChildPath(borrowerIndex int, collection dealsync.Collection, index int) string {
	return BorrowerPath(borrowerIndex) + "/" + string(collection) + "/" + strconv.Itoa(index)
}

// AddressColumns is an embedded postal address
type AddressColumns struct {
	StreetNumber *string `gorm:"type:varchar(32)"`
	StreetName   *string `gorm:"type:varchar(200)"`
	Unit         *string `gorm:"type:varchar(32)"`
	City         *string `gorm:"type:varchar(100)"`
	Province     *string `gorm:"type:varchar(64)"`
	PostalCode   *string `gorm:"type:varchar(16)"`
	Country      *string `gorm:"type:varchar(64)"`
}

// FromDomain populates the columns from a domain address
func (c *AddressColumns) FromDomain(a dealsync.Address) {
	c.StreetNumber = a.StreetNumber
	c.StreetName = a.StreetName
	c.Unit = a.Unit
	c.City = a.City
	c.Province = a.Province
	c.PostalCode = a.PostalCode
	c.Country = a.Country
}

// ToDomain converts the columns to a domain address
func (c AddressColumns) ToDomain() dealsync.Address {
	return dealsync.Address{
		StreetNumber: c.StreetNumber,
		StreetName:   c.StreetName,
		Unit:         c.Unit,
		City:         c.City,
		Province:     c.Province,
		PostalCode:   c.PostalCode,
		Country:      c.Country,
	}
}

// DealModel is the persistence model for the deal root row
type DealModel struct {
	ID                uuid.UUID  `gorm:"type:uuid;primaryKey"`
	PartitionID       uuid.UUID  `gorm:"type:uuid;not null;index"`
	LoanCode          string     `gorm:"type:varchar(64);not null;uniqueIndex"`
	AgentName         *string    `gorm:"type:varchar(200)"`
	StatusCode        *int       `gorm:"type:integer"`
	DealCreatedAt     *time.Time `gorm:"column:deal_created_at"`
	DealClosedAt      *time.Time `gorm:"column:deal_closed_at"`
	ApplicationID     *string    `gorm:"type:varchar(64)"`
	LenderReferenceID *string    `gorm:"type:varchar(64)"`
	Compliant         *bool
	Source            *string   `gorm:"type:varchar(64)"`
	LastSyncedAt      time.Time `gorm:"not null"`
	CreatedAt         time.Time `gorm:"not null"`
	UpdatedAt         time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (DealModel) TableName() string {
	return "deals"
}

// DealModelFromDomain creates a deal model stamped with syncedAt
func DealModelFromDomain(partitionID uuid.UUID, d dealsync.DealRow, syncedAt time.Time) *DealModel {
	return &DealModel{
		ID:                DealID(d.LoanCode),
		PartitionID:       partitionID,
		LoanCode:          d.LoanCode,
		AgentName:         d.AgentName,
		StatusCode:        d.StatusCode,
		DealCreatedAt:     d.CreatedAt,
		DealClosedAt:      d.ClosedAt,
		ApplicationID:     d.ApplicationID,
		LenderReferenceID: d.LenderReferenceID,
		Compliant:         d.Compliant,
		Source:            d.Source,
		LastSyncedAt:      syncedAt,
	}
}

// ToDomain converts the model to a deal row
func (m *DealModel) ToDomain() dealsync.DealRow {
	return dealsync.DealRow{
		LoanCode:          m.LoanCode,
		AgentName:         m.AgentName,
		StatusCode:        m.StatusCode,
		CreatedAt:         m.DealCreatedAt,
		ClosedAt:          m.DealClosedAt,
		ApplicationID:     m.ApplicationID,
		LenderReferenceID: m.LenderReferenceID,
		Compliant:         m.Compliant,
		Source:            m.Source,
	}
}

// BorrowerModel is the persistence model for a borrower
type BorrowerModel struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey"`
	DealID         uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_borrowers_deal_index"`
	BorrowerIndex  int        `gorm:"not null;uniqueIndex:idx_borrowers_deal_index"`
	FirstName      *string    `gorm:"type:varchar(100)"`
	LastName       *string    `gorm:"type:varchar(100)"`
	DateOfBirth    *time.Time `gorm:"type:date"`
	Email          *string    `gorm:"type:varchar(200)"`
	Phone          *string    `gorm:"type:varchar(32)"`
	CellPhone      *string    `gorm:"type:varchar(32)"`
	CreditScore    *int
	FirstTimeBuyer *bool
}

// TableName returns the table name for GORM
func (BorrowerModel) TableName() string {
	return "borrowers"
}

// BorrowerModelFromDomain creates a borrower model without its children
func BorrowerModelFromDomain(dealID uuid.UUID, b dealsync.BorrowerRow) *BorrowerModel {
	return &BorrowerModel{
		ID:             RowID(dealID, BorrowerPath(b.Index)),
		DealID:         dealID,
		BorrowerIndex:  b.Index,
		FirstName:      b.FirstName,
		LastName:       b.LastName,
		DateOfBirth:    b.DateOfBirth,
		Email:          b.Email,
		Phone:          b.Phone,
		CellPhone:      b.CellPhone,
		CreditScore:    b.CreditScore,
		FirstTimeBuyer: b.FirstTimeBuyer,
	}
}

// BorrowerAddressModel is the persistence model for a borrower address
type BorrowerAddressModel struct {
	ID              uuid.UUID      `gorm:"type:uuid;primaryKey"`
	DealID          uuid.UUID      `gorm:"type:uuid;not null;index"`
	BorrowerID      uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_borrower_addresses_key"`
	AddressType     string         `gorm:"type:varchar(16);not null;uniqueIndex:idx_borrower_addresses_key"`
	AddressIndex    int            `gorm:"not null;uniqueIndex:idx_borrower_addresses_key"`
	Address         AddressColumns `gorm:"embedded"`
	MonthsAtAddress *int
}

// TableName returns the table name for GORM
func (BorrowerAddressModel) TableName() string {
	return "borrower_addresses"
}

// BorrowerEmploymentModel is the persistence model for a borrower's employment
type BorrowerEmploymentModel struct {
	ID              uuid.UUID           `gorm:"type:uuid;primaryKey"`
	DealID          uuid.UUID           `gorm:"type:uuid;not null;index"`
	BorrowerID      uuid.UUID           `gorm:"type:uuid;not null;uniqueIndex"`
	EmployerName    *string             `gorm:"type:varchar(200)"`
	JobTitle        *string             `gorm:"type:varchar(200)"`
	EmploymentType  *string             `gorm:"type:varchar(64)"`
	IncomeType      *string             `gorm:"type:varchar(64)"`
	AnnualIncome    decimal.NullDecimal `gorm:"type:numeric(18,2)"`
	MonthsEmployed  *int
	EmployerAddress AddressColumns `gorm:"embedded;embeddedPrefix:employer_"`
}

// TableName returns the table name for GORM
func (BorrowerEmploymentModel) TableName() string {
	return "borrower_employment"
}

// BorrowerLiabilityModel is the persistence model for a borrower liability
type BorrowerLiabilityModel struct {
	ID             uuid.UUID           `gorm:"type:uuid;primaryKey"`
	DealID         uuid.UUID           `gorm:"type:uuid;not null;index"`
	BorrowerID     uuid.UUID           `gorm:"type:uuid;not null;uniqueIndex:idx_borrower_liabilities_key"`
	LiabilityIndex int                 `gorm:"not null;uniqueIndex:idx_borrower_liabilities_key"`
	Lender         *string             `gorm:"type:varchar(200)"`
	Balance        decimal.NullDecimal `gorm:"type:numeric(18,2)"`
	Payment        decimal.NullDecimal `gorm:"type:numeric(18,2)"`
	CreditLimit    decimal.NullDecimal `gorm:"type:numeric(18,2)"`
	CreditBureau   *bool
	LiabilityType  *string `gorm:"type:varchar(64)"`
	PayoffType     *string `gorm:"type:varchar(64)"`
}

// TableName returns the table name for GORM
func (BorrowerLiabilityModel) TableName() string {
	return "borrower_liabilities"
}

// BorrowerAssetModel is the persistence model for a borrower asset
type BorrowerAssetModel struct {
	ID          uuid.UUID           `gorm:"type:uuid;primaryKey"`
	DealID      uuid.UUID           `gorm:"type:uuid;not null;index"`
	BorrowerID  uuid.UUID           `gorm:"type:uuid;not null;uniqueIndex:idx_borrower_assets_key"`
	AssetIndex  int                 `gorm:"not null;uniqueIndex:idx_borrower_assets_key"`
	AssetType   *string             `gorm:"type:varchar(64)"`
	Description *string             `gorm:"type:varchar(500)"`
	Value       decimal.NullDecimal `gorm:"type:numeric(18,2)"`
}

// TableName returns the table name for GORM
func (BorrowerAssetModel) TableName() string {
	return "borrower_assets"
}

// BorrowerPropertyModel is the persistence model for a property owned by a borrower
type BorrowerPropertyModel struct {
	ID              uuid.UUID           `gorm:"type:uuid;primaryKey"`
	DealID          uuid.UUID           `gorm:"type:uuid;not null;index"`
	BorrowerID      uuid.UUID           `gorm:"type:uuid;not null;uniqueIndex:idx_borrower_properties_key"`
	PropertyIndex   int                 `gorm:"not null;uniqueIndex:idx_borrower_properties_key"`
	Address         AddressColumns      `gorm:"embedded"`
	Value           decimal.NullDecimal `gorm:"type:numeric(18,2)"`
	MortgageBalance decimal.NullDecimal `gorm:"type:numeric(18,2)"`
	MonthlyPayment  decimal.NullDecimal `gorm:"type:numeric(18,2)"`
	CondoFees       decimal.NullDecimal `gorm:"type:numeric(18,2)"`
	AnnualTaxes     decimal.NullDecimal `gorm:"type:numeric(18,2)"`
	RentalIncome    decimal.NullDecimal `gorm:"type:numeric(18,2)"`
}

// TableName returns the table name for GORM
func (BorrowerPropertyModel) TableName() string {
	return "borrower_properties"
}

// BorrowerChildren holds the ReplaceAll rows of one borrower
type BorrowerChildren struct {
	Addresses   []BorrowerAddressModel
	Employment  []BorrowerEmploymentModel
	Liabilities []BorrowerLiabilityModel
	Assets      []BorrowerAssetModel
	Properties  []BorrowerPropertyModel
}

// BorrowerChildrenFromDomain builds every child row owned by b
func BorrowerChildrenFromDomain(dealID uuid.UUID, b dealsync.BorrowerRow) BorrowerChildren {
	borrowerID := RowID(dealID, BorrowerPath(b.Index))
	var out BorrowerChildren

	for _, a := range b.Addresses {
		m := BorrowerAddressModel{
			ID:              RowID(dealID, ChildPath(b.Index, dealsync.CollectionBorrowerAddresses, a.Index)+"/"+string(a.Type)),
			DealID:          dealID,
			BorrowerID:      borrowerID,
			AddressType:     string(a.Type),
			AddressIndex:    a.Index,
			MonthsAtAddress: a.MonthsAtAddress,
		}
		m.Address.FromDomain(a.Address)
		out.Addresses = append(out.Addresses, m)
	}

	if e := b.Employment; e != nil {
		m := BorrowerEmploymentModel{
			ID:             RowID(dealID, ChildPath(b.Index, dealsync.CollectionBorrowerEmployment, 0)),
			DealID:         dealID,
			BorrowerID:     borrowerID,
			EmployerName:   e.EmployerName,
			JobTitle:       e.JobTitle,
			EmploymentType: e.EmploymentType,
			IncomeType:     e.IncomeType,
			AnnualIncome:   e.AnnualIncome,
			MonthsEmployed: e.MonthsEmployed,
		}
		m.EmployerAddress.FromDomain(e.EmployerAddress)
		out.Employment = append(out.Employment, m)
	}

	for _, l := range b.Liabilities {
		out.Liabilities = append(out.Liabilities, BorrowerLiabilityModel{
			ID:             RowID(dealID, ChildPath(b.Index, dealsync.CollectionBorrowerLiability, l.Index)),
			DealID:         dealID,
			BorrowerID:     borrowerID,
			LiabilityIndex: l.Index,
			Lender:         l.Lender,
			Balance:        l.Balance,
			Payment:        l.Payment,
			CreditLimit:    l.CreditLimit,
			CreditBureau:   l.CreditBureau,
			LiabilityType:  l.LiabilityType,
			PayoffType:     l.PayoffType,
		})
	}

	for _, a := range b.Assets {
		out.Assets = append(out.Assets, BorrowerAssetModel{
			ID:          RowID(dealID, ChildPath(b.Index, dealsync.CollectionBorrowerAssets, a.Index)),
			DealID:      dealID,
			BorrowerID:  borrowerID,
			AssetIndex:  a.Index,
			AssetType:   a.AssetType,
			Description: a.Description,
			Value:       a.Value,
		})
	}

	for _, p := range b.Properties {
		m := BorrowerPropertyModel{
			ID:              RowID(dealID, ChildPath(b.Index, dealsync.CollectionBorrowerProperties, p.Index)),
			DealID:          dealID,
			BorrowerID:      borrowerID,
			PropertyIndex:   p.Index,
			Value:           p.Value,
			MortgageBalance: p.MortgageBalance,
			MonthlyPayment:  p.MonthlyPayment,
			CondoFees:       p.CondoFees,
			AnnualTaxes:     p.AnnualTaxes,
			RentalIncome:    p.RentalIncome,
		}
		m.Address.FromDomain(p.Address)
		out.Properties = append(out.Properties, m)
	}

	return out
}

// SubjectPropertyModel is the persistence model for the financed property
type SubjectPropertyModel struct {
	ID             uuid.UUID           `gorm:"type:uuid;primaryKey"`
	DealID         uuid.UUID           `gorm:"type:uuid;not null;uniqueIndex"`
	Address        AddressColumns      `gorm:"embedded"`
	PropertyType   *string             `gorm:"type:varchar(64)"`
	Occupancy      *string             `gorm:"type:varchar(64)"`
	Tenure         *string             `gorm:"type:varchar(64)"`
	PurchasePrice  decimal.NullDecimal `gorm:"type:numeric(18,2)"`
	EstimatedValue decimal.NullDecimal `gorm:"type:numeric(18,2)"`
	CondoFees      decimal.NullDecimal `gorm:"type:numeric(18,2)"`
	AnnualTaxes    decimal.NullDecimal `gorm:"type:numeric(18,2)"`
	HeatingCost    decimal.NullDecimal `gorm:"type:numeric(18,2)"`
}

// TableName returns the table name for GORM
func (SubjectPropertyModel) TableName() string {
	return "subject_properties"
}

// SubjectPropertyModelFromDomain creates the subject property model of a deal
func SubjectPropertyModelFromDomain(dealID uuid.UUID, s dealsync.SubjectPropertyRow) *SubjectPropertyModel {
	m := &SubjectPropertyModel{
		ID:             RowID(dealID, string(dealsync.CollectionSubjectProperty)),
		DealID:         dealID,
		PropertyType:   s.PropertyType,
		Occupancy:      s.Occupancy,
		Tenure:         s.Tenure,
		PurchasePrice:  s.PurchasePrice,
		EstimatedValue: s.EstimatedValue,
		CondoFees:      s.CondoFees,
		AnnualTaxes:    s.AnnualTaxes,
		HeatingCost:    s.HeatingCost,
	}
	m.Address.FromDomain(s.Address)
	return m
}

// MortgageRequestModel is the persistence model for the financing request
type MortgageRequestModel struct {
	ID          uuid.UUID           `gorm:"type:uuid;primaryKey"`
	DealID      uuid.UUID           `gorm:"type:uuid;not null;uniqueIndex"`
	Purpose     *string             `gorm:"type:varchar(64)"`
	ClosingDate *time.Time          `gorm:"type:date"`
	Approved    *time.Time          `gorm:"column:approved_at"`
	TotalAmount decimal.NullDecimal `gorm:"type:numeric(18,2)"`
	LoanToValue decimal.NullDecimal `gorm:"type:numeric(7,4)"`
}

// TableName returns the table name for GORM
func (MortgageRequestModel) TableName() string {
	return "mortgage_requests"
}

// MortgageRequestModelFromDomain creates the mortgage request model of a deal
func MortgageRequestModelFromDomain(dealID uuid.UUID, r dealsync.MortgageRequestRow) *MortgageRequestModel {
	return &MortgageRequestModel{
		ID:          RowID(dealID, string(dealsync.CollectionMortgageRequest)),
		DealID:      dealID,
		Purpose:     r.Purpose,
		ClosingDate: r.ClosingDate,
		Approved:    r.Approved,
		TotalAmount: r.TotalAmount,
		LoanToValue: r.LoanToValue,
	}
}

// MortgageModel is the persistence model for one mortgage tranche
type MortgageModel struct {
	ID                 uuid.UUID           `gorm:"type:uuid;primaryKey"`
	DealID             uuid.UUID           `gorm:"type:uuid;not null;uniqueIndex:idx_mortgages_deal_index"`
	MortgageRequestID  uuid.UUID           `gorm:"type:uuid;not null;index"`
	MortgageIndex      int                 `gorm:"not null;uniqueIndex:idx_mortgages_deal_index"`
	Amount             decimal.NullDecimal `gorm:"type:numeric(18,2)"`
	InterestRate       decimal.NullDecimal `gorm:"type:numeric(7,4)"`
	TermMonths         *int
	AmortizationMonths *int
	RateType           *string `gorm:"type:varchar(32)"`
	Lender             *string `gorm:"type:varchar(200)"`
}

// TableName returns the table name for GORM
func (MortgageModel) TableName() string {
	return "mortgages"
}

// MortgageModelsFromDomain creates the mortgage models of a deal
func MortgageModelsFromDomain(dealID uuid.UUID, rows []dealsync.MortgageRow) []MortgageModel {
	requestID := RowID(dealID, string(dealsync.CollectionMortgageRequest))
	out := make([]MortgageModel, 0, len(rows))
	for _, r := range rows {
		out = append(out, MortgageModel{
			ID:                 RowID(dealID, string(dealsync.CollectionMortgages)+"/"+strconv.Itoa(r.Index)),
			DealID:             dealID,
			MortgageRequestID:  requestID,
			MortgageIndex:      r.Index,
			Amount:             r.Amount,
			InterestRate:       r.InterestRate,
			TermMonths:         r.TermMonths,
			AmortizationMonths: r.AmortizationMonths,
			RateType:           r.RateType,
			Lender:             r.Lender,
		})
	}
	return out
}

// ConditionModel is the persistence model for a broker or lender condition
type ConditionModel struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey"`
	DealID         uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_conditions_key"`
	ConditionType  string     `gorm:"type:varchar(16);not null;uniqueIndex:idx_conditions_key"`
	ConditionIndex int        `gorm:"not null;uniqueIndex:idx_conditions_key"`
	Name           string     `gorm:"type:varchar(500);not null"`
	Status         *string    `gorm:"type:varchar(64)"`
	Description    *string    `gorm:"type:text"`
	DueDate        *time.Time `gorm:"type:date"`
}

// TableName returns the table name for GORM
func (ConditionModel) TableName() string {
	return "conditions"
}

// ConditionModelsFromDomain creates the condition models of a deal
func ConditionModelsFromDomain(dealID uuid.UUID, rows []dealsync.ConditionRow) []ConditionModel {
	out := make([]ConditionModel, 0, len(rows))
	for _, c := range rows {
		out = append(out, ConditionModel{
			ID:             RowID(dealID, string(dealsync.CollectionConditions)+"/"+string(c.Type)+"/"+strconv.Itoa(c.Index)),
			DealID:         dealID,
			ConditionType:  string(c.Type),
			ConditionIndex: c.Index,
			Name:           c.Name,
			Status:         c.Status,
			Description:    c.Description,
			DueDate:        c.DueDate,
		})
	}
	return out
}

// NoteModel is the persistence model for a deal note
type NoteModel struct {
	ID            uuid.UUID  `gorm:"type:uuid;primaryKey"`
	DealID        uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_notes_deal_index"`
	NoteIndex     int        `gorm:"not null;uniqueIndex:idx_notes_deal_index"`
	Text          string     `gorm:"type:text;not null"`
	Author        *string    `gorm:"type:varchar(200)"`
	NoteCreatedAt *time.Time `gorm:"column:note_created_at"`
}

// TableName returns the table name for GORM
func (NoteModel) TableName() string {
	return "notes"
}

// NoteModelsFromDomain creates the note models of a deal
func NoteModelsFromDomain(dealID uuid.UUID, rows []dealsync.NoteRow) []NoteModel {
	out := make([]NoteModel, 0, len(rows))
	for _, n := range rows {
		out = append(out, NoteModel{
			ID:            RowID(dealID, string(dealsync.CollectionNotes)+"/"+strconv.Itoa(n.Index)),
			DealID:        dealID,
			NoteIndex:     n.Index,
			Text:          n.Text,
			Author:        n.Author,
			NoteCreatedAt: n.CreatedAt,
		})
	}
	return out
}

// DealTables lists every deal-owned model, children first, for AutoMigrate and cleanup
func DealTables() []interface{} {
	return []interface{}{
		&BorrowerAddressModel{},
		&BorrowerEmploymentModel{},
		&BorrowerLiabilityModel{},
		&BorrowerAssetModel{},
		&BorrowerPropertyModel{},
		&BorrowerModel{},
		&SubjectPropertyModel{},
		&MortgageModel{},
		&MortgageRequestModel{},
		&ConditionModel{},
		&NoteModel{},
		&DealModel{},
	}
}
