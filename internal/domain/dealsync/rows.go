package dealsync

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Collection names a child row collection of a deal
type Collection string

const (
	CollectionBorrowers          Collection = "borrowers"
	CollectionBorrowerAddresses  Collection = "borrower_addresses"
	CollectionBorrowerEmployment Collection = "borrower_employment"
	CollectionBorrowerLiability  Collection = "borrower_liabilities"
	CollectionBorrowerAssets     Collection = "borrower_assets"
	CollectionBorrowerProperties Collection = "borrower_properties"
	CollectionSubjectProperty    Collection = "subject_properties"
	CollectionMortgageRequest    Collection = "mortgage_requests"
	CollectionMortgages          Collection = "mortgages"
	CollectionConditions         Collection = "conditions"
	CollectionNotes              Collection = "notes"
)

// Strategy is how the reconciler converges a collection with the source
type Strategy int

const (
	// StrategyIndexKeyed prunes rows whose index is at or past the source
	// cardinality, then upserts the rest by their composite index key.
	StrategyIndexKeyed Strategy = iota + 1
	// StrategyReplaceAll deletes every row under the parent, then inserts.
	// Used for rows with no ordering key that is stable across runs.
	StrategyReplaceAll
	// StrategyOneToOne upserts the single row keyed by deal id.
	StrategyOneToOne
)

// String returns the strategy name
func (s Strategy) String() string {
	switch s {
	case StrategyIndexKeyed:
		return "index_keyed"
	case StrategyReplaceAll:
		return "replace_all"
	case StrategyOneToOne:
		return "one_to_one"
	default:
		return "unknown"
	}
}

var collectionStrategies = map[Collection]Strategy{
	CollectionBorrowers:          StrategyIndexKeyed,
	CollectionBorrowerAddresses:  StrategyReplaceAll,
	CollectionBorrowerEmployment: StrategyReplaceAll,
	CollectionBorrowerLiability:  StrategyReplaceAll,
	CollectionBorrowerAssets:     StrategyReplaceAll,
	CollectionBorrowerProperties: StrategyReplaceAll,
	CollectionSubjectProperty:    StrategyOneToOne,
	CollectionMortgageRequest:    StrategyOneToOne,
	CollectionMortgages:          StrategyIndexKeyed,
	CollectionConditions:         StrategyIndexKeyed,
	CollectionNotes:              StrategyIndexKeyed,
}

// Strategy returns the declared reconcile strategy of the collection
func (c Collection) Strategy() Strategy {
	return collectionStrategies[c]
}

// BorrowerChildCollections are the collections owned by a borrower, in write order
var BorrowerChildCollections = []Collection{
	CollectionBorrowerAddresses,
	CollectionBorrowerEmployment,
	CollectionBorrowerLiability,
	CollectionBorrowerAssets,
	CollectionBorrowerProperties,
}

// AddressType distinguishes a borrower's current and mailing addresses
type AddressType string

const (
	AddressTypeCurrent AddressType = "current"
	AddressTypeMailing AddressType = "mailing"
)

// ConditionType selects one of the two independent condition index spaces
type ConditionType string

const (
	ConditionTypeBroker ConditionType = "broker"
	ConditionTypeLender ConditionType = "lender"
)

// Address is an embedded postal address
type Address struct {
	StreetNumber *string
	StreetName   *string
	Unit         *string
	City         *string
	Province     *string
	PostalCode   *string
	Country      *string
}

// DealRow is the parent row of a deal
type DealRow struct {
	LoanCode          string
	AgentName         *string
	StatusCode        *int
	CreatedAt         *time.Time
	ClosedAt          *time.Time
	ApplicationID     *string
	LenderReferenceID *string
	Compliant         *bool
	Source            *string
}

// BorrowerRow is one borrower together with the rows it owns
type BorrowerRow struct {
	Index          int
	FirstName      *string
	LastName       *string
	DateOfBirth    *time.Time
	Email          *string
	Phone          *string
	CellPhone      *string
	CreditScore    *int
	FirstTimeBuyer *bool

	Addresses   []AddressRow
	Employment  *EmploymentRow
	Liabilities []LiabilityRow
	Assets      []AssetRow
	Properties  []PropertyRow
}

// AddressRow is a borrower address; Index counts within its type
type AddressRow struct {
	Type            AddressType
	Index           int
	Address         Address
	MonthsAtAddress *int
}

// EmploymentRow is a borrower's employment
type EmploymentRow struct {
	EmployerName    *string
	JobTitle        *string
	EmploymentType  *string
	IncomeType      *string
	AnnualIncome    decimal.NullDecimal
	MonthsEmployed  *int
	EmployerAddress Address
}

// LiabilityRow is a borrower liability
type LiabilityRow struct {
	Index         int
	Lender        *string
	Balance       decimal.NullDecimal
	Payment       decimal.NullDecimal
	CreditLimit   decimal.NullDecimal
	CreditBureau  *bool
	LiabilityType *string
	PayoffType    *string
}

// AssetRow is a borrower asset
type AssetRow struct {
	Index       int
	AssetType   *string
	Description *string
	Value       decimal.NullDecimal
}

// PropertyRow is a property owned by a borrower
type PropertyRow struct {
	Index           int
	Address         Address
	Value           decimal.NullDecimal
	MortgageBalance decimal.NullDecimal
	MonthlyPayment  decimal.NullDecimal
	CondoFees       decimal.NullDecimal
	AnnualTaxes     decimal.NullDecimal
	RentalIncome    decimal.NullDecimal
}

// SubjectPropertyRow is the financed property, one per deal
type SubjectPropertyRow struct {
	Address        Address
	PropertyType   *string
	Occupancy      *string
	Tenure         *string
	PurchasePrice  decimal.NullDecimal
	EstimatedValue decimal.NullDecimal
	CondoFees      decimal.NullDecimal
	AnnualTaxes    decimal.NullDecimal
	HeatingCost    decimal.NullDecimal
}

// MortgageRequestRow is the financing request, one per deal.
// Approved is nil unless the source marked the request approved.
type MortgageRequestRow struct {
	Purpose     *string
	ClosingDate *time.Time
	Approved    *time.Time
	TotalAmount decimal.NullDecimal
	LoanToValue decimal.NullDecimal
}

// MortgageRow is one tranche of the mortgage request
type MortgageRow struct {
	Index              int
	Amount             decimal.NullDecimal
	InterestRate       decimal.NullDecimal
	TermMonths         *int
	AmortizationMonths *int
	RateType           *string
	Lender             *string
}

// ConditionRow is a condition; Index counts within its Type
type ConditionRow struct {
	Type        ConditionType
	Index       int
	Name        string
	Status      *string
	Description *string
	DueDate     *time.Time
}

// NoteRow is a deal note
type NoteRow struct {
	Index     int
	Text      string
	Author    *string
	CreatedAt *time.Time
}

// RowSet is the normalized form of one deal, ready for reconciliation
type RowSet struct {
	Deal            DealRow
	Borrowers       []BorrowerRow
	SubjectProperty SubjectPropertyRow
	MortgageRequest MortgageRequestRow
	Mortgages       []MortgageRow
	Conditions      []ConditionRow
	Notes           []NoteRow
}

// RowGroup summarizes one tagged collection of a RowSet
type RowGroup struct {
	Collection Collection
	// Scope identifies the index space inside the deal, e.g. "borrower/0" or "broker"
	Scope string
	Rows  int
}

// Groups lists every collection of the row set with its cardinality, in the
// order the reconciler writes them.
func (rs *RowSet) Groups() []RowGroup {
	groups := []RowGroup{
		{Collection: CollectionSubjectProperty, Rows: 1},
		{Collection: CollectionMortgageRequest, Rows: 1},
		{Collection: CollectionMortgages, Rows: len(rs.Mortgages)},
		{Collection: CollectionBorrowers, Rows: len(rs.Borrowers)},
	}
	for _, b := range rs.Borrowers {
		scope := BorrowerScope(b.Index)
		employment := 0
		if b.Employment != nil {
			employment = 1
		}
		groups = append(groups,
			RowGroup{Collection: CollectionBorrowerAddresses, Scope: scope, Rows: len(b.Addresses)},
			RowGroup{Collection: CollectionBorrowerEmployment, Scope: scope, Rows: employment},
			RowGroup{Collection: CollectionBorrowerLiability, Scope: scope, Rows: len(b.Liabilities)},
			RowGroup{Collection: CollectionBorrowerAssets, Scope: scope, Rows: len(b.Assets)},
			RowGroup{Collection: CollectionBorrowerProperties, Scope: scope, Rows: len(b.Properties)},
		)
	}
	groups = append(groups,
		RowGroup{Collection: CollectionConditions, Scope: string(ConditionTypeBroker), Rows: rs.ConditionCount(ConditionTypeBroker)},
		RowGroup{Collection: CollectionConditions, Scope: string(ConditionTypeLender), Rows: rs.ConditionCount(ConditionTypeLender)},
		RowGroup{Collection: CollectionNotes, Rows: len(rs.Notes)},
	)
	return groups
}

// ConditionCount returns the cardinality of one condition index space
func (rs *RowSet) ConditionCount(t ConditionType) int {
	n := 0
	for _, c := range rs.Conditions {
		if c.Type == t {
			n++
		}
	}
	return n
}

// BorrowerScope is the scope label of a borrower's child collections
func BorrowerScope(index int) string {
	return "borrower/" + strconv.Itoa(index)
}
