package dealsync

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// RawDeal is the schema of one deal document returned by the source API.
// Leaves are Scalars; containers are typed, so a document whose shape differs
// from this schema fails to decode instead of being applied half way.
type RawDeal struct {
	LoanCode          string              `json:"loanCode" validate:"required,max=64"`
	AgentName         Scalar              `json:"agentName"`
	Status            Scalar              `json:"status"`
	CreatedDate       Scalar              `json:"createdDate"`
	ClosingDate       Scalar              `json:"closingDate"`
	ApplicationID     Scalar              `json:"applicationId"`
	LenderReferenceID Scalar              `json:"lenderReferenceId"`
	Compliant         Scalar              `json:"compliant"`
	Source            Scalar              `json:"source"`
	Borrowers         []*RawBorrower      `json:"borrowers"`
	SubjectProperty   *RawSubjectProperty `json:"subjectProperty"`
	MortgageRequest   *RawMortgageRequest `json:"mortgageRequest"`
	BrokerConditions  []*RawCondition     `json:"brokerConditions"`
	LenderConditions  []*RawCondition     `json:"lenderConditions"`
	Notes             []*RawNote          `json:"notes"`
}

// RawBorrower is one applicant on a deal
type RawBorrower struct {
	FirstName      Scalar          `json:"firstName"`
	LastName       Scalar          `json:"lastName"`
	DateOfBirth    Scalar          `json:"dateOfBirth"`
	Email          Scalar          `json:"email"`
	Phone          Scalar          `json:"phone"`
	CellPhone      Scalar          `json:"cellPhone"`
	CreditScore    Scalar          `json:"creditScore"`
	FirstTimeBuyer Scalar          `json:"firstTimeBuyer"`
	Addresses      []*RawAddress   `json:"addresses"`
	Employment     *RawEmployment  `json:"employment"`
	Liabilities    []*RawLiability `json:"liabilities"`
	Assets         []*RawAsset     `json:"assets"`
	Properties     []*RawProperty  `json:"properties"`
}

// RawAddress is a postal address, typed current or mailing when it belongs to a borrower
type RawAddress struct {
	AddressType     Scalar `json:"addressType"`
	StreetNumber    Scalar `json:"streetNumber"`
	StreetName      Scalar `json:"streetName"`
	Unit            Scalar `json:"unit"`
	City            Scalar `json:"city"`
	Province        Scalar `json:"province"`
	PostalCode      Scalar `json:"postalCode"`
	Country         Scalar `json:"country"`
	MonthsAtAddress Scalar `json:"monthsAtAddress"`
}

// RawEmployment is a borrower's current employment
type RawEmployment struct {
	EmployerName   Scalar      `json:"employerName"`
	JobTitle       Scalar      `json:"jobTitle"`
	EmploymentType Scalar      `json:"employmentType"`
	IncomeType     Scalar      `json:"incomeType"`
	AnnualIncome   Scalar      `json:"annualIncome"`
	MonthsEmployed Scalar      `json:"monthsEmployed"`
	Address        *RawAddress `json:"address"`
}

// RawLiability is one credit-bureau or declared liability
type RawLiability struct {
	Lender        Scalar `json:"lender"`
	Balance       Scalar `json:"balance"`
	Payment       Scalar `json:"payment"`
	CreditLimit   Scalar `json:"creditLimit"`
	CreditBureau  Scalar `json:"creditBureau"`
	LiabilityType Scalar `json:"liabilityType"`
	PayoffType    Scalar `json:"payoffType"`
}

// RawAsset is one declared asset
type RawAsset struct {
	AssetType   Scalar `json:"assetType"`
	Description Scalar `json:"description"`
	Value       Scalar `json:"value"`
}

// RawProperty is a property a borrower already owns
type RawProperty struct {
	Address         *RawAddress `json:"address"`
	Value           Scalar      `json:"value"`
	MortgageBalance Scalar      `json:"mortgageBalance"`
	MonthlyPayment  Scalar      `json:"monthlyPayment"`
	CondoFees       Scalar      `json:"condoFees"`
	AnnualTaxes     Scalar      `json:"annualTaxes"`
	RentalIncome    Scalar      `json:"rentalIncome"`
}

// RawSubjectProperty is the property being financed
type RawSubjectProperty struct {
	Address        *RawAddress `json:"address"`
	PropertyType   Scalar      `json:"propertyType"`
	Occupancy      Scalar      `json:"occupancy"`
	Tenure         Scalar      `json:"tenure"`
	PurchasePrice  Scalar      `json:"purchasePrice"`
	EstimatedValue Scalar      `json:"estimatedValue"`
	CondoFees      Scalar      `json:"condoFees"`
	AnnualTaxes    Scalar      `json:"annualTaxes"`
	HeatingCost    Scalar      `json:"heatingCost"`
}

// RawMortgageRequest is the financing request of a deal
type RawMortgageRequest struct {
	Purpose     Scalar         `json:"purpose"`
	ClosingDate Scalar         `json:"closingDate"`
	Approved    Scalar         `json:"approved"`
	TotalAmount Scalar         `json:"totalAmount"`
	LoanToValue Scalar         `json:"loanToValue"`
	Mortgages   []*RawMortgage `json:"mortgages"`
}

// RawMortgage is one tranche of the mortgage request
type RawMortgage struct {
	Amount             Scalar `json:"amount"`
	InterestRate       Scalar `json:"interestRate"`
	TermMonths         Scalar `json:"termMonths"`
	AmortizationMonths Scalar `json:"amortizationMonths"`
	RateType           Scalar `json:"rateType"`
	Lender             Scalar `json:"lender"`
}

// RawCondition is a broker or lender condition
type RawCondition struct {
	Name        Scalar `json:"name"`
	Status      Scalar `json:"status"`
	Description Scalar `json:"description"`
	DueDate     Scalar `json:"dueDate"`
}

// RawNote is a free text note on the deal
type RawNote struct {
	Text      Scalar `json:"text"`
	Author    Scalar `json:"author"`
	CreatedAt Scalar `json:"createdAt"`
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func rawDealValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// DecodeRawDeal decodes and validates one source deal document.
// Every failure wraps ErrDecodeFailed.
func DecodeRawDeal(payload []byte) (*RawDeal, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 || payload[0] != '{' {
		return nil, fmt.Errorf("%w: document is not an object", ErrDecodeFailed)
	}

	var raw RawDeal
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	raw.LoanCode = strings.TrimSpace(raw.LoanCode)

	if err := rawDealValidator().Struct(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	return &raw, nil
}

// PeekLoanCode extracts the loan code from a document without validating the
// rest of it, so an undecodable document can still be attributed to its deal.
// It returns "" when no usable loan code is present.
func PeekLoanCode(payload []byte) string {
	var probe struct {
		LoanCode json.RawMessage `json:"loanCode"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil || len(probe.LoanCode) == 0 {
		return ""
	}

	var code string
	if err := json.Unmarshal(probe.LoanCode, &code); err == nil {
		return strings.TrimSpace(code)
	}
	var n json.Number
	if err := json.Unmarshal(probe.LoanCode, &n); err == nil {
		return n.String()
	}
	return ""
}
