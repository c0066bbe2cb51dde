package dealsync

import (
	"fmt"
	"strings"
)

// Transform maps one decoded deal document into its normalized row set.
// It performs no I/O. Nil list entries are skipped, conditions and notes
// without a name/text are dropped, and indices are assigned densely in
// source order after dropping.
func Transform(raw *RawDeal) (rs *RowSet, err error) {
	if raw == nil {
		return nil, fmt.Errorf("%w: nil document", ErrTransformFailed)
	}
	loanCode := strings.TrimSpace(raw.LoanCode)
	if loanCode == "" {
		return nil, fmt.Errorf("%w: missing loan code", ErrTransformFailed)
	}

	// Sanitizers are total; a panic here means an unseen shape slipped past decode.
	defer func() {
		if r := recover(); r != nil {
			rs = nil
			err = fmt.Errorf("%w: %v", ErrTransformFailed, r)
		}
	}()

	rs = &RowSet{
		Deal: DealRow{
			LoanCode:          loanCode,
			AgentName:         SanitizeString(raw.AgentName),
			StatusCode:        SanitizeInt(raw.Status),
			CreatedAt:         SanitizeTimestamp(raw.CreatedDate),
			ClosedAt:          SanitizeTimestamp(raw.ClosingDate),
			ApplicationID:     SanitizeString(raw.ApplicationID),
			LenderReferenceID: SanitizeString(raw.LenderReferenceID),
			Compliant:         SanitizeBool(raw.Compliant),
			Source:            SanitizeString(raw.Source),
		},
		SubjectProperty: transformSubjectProperty(raw.SubjectProperty),
		MortgageRequest: transformMortgageRequest(raw.MortgageRequest),
	}

	for _, b := range raw.Borrowers {
		if b == nil {
			continue
		}
		rs.Borrowers = append(rs.Borrowers, transformBorrower(len(rs.Borrowers), b))
	}

	if raw.MortgageRequest != nil {
		for _, m := range raw.MortgageRequest.Mortgages {
			if m == nil {
				continue
			}
			rs.Mortgages = append(rs.Mortgages, MortgageRow{
				Index:              len(rs.Mortgages),
				Amount:             SanitizeDecimal(m.Amount),
				InterestRate:       SanitizeDecimal(m.InterestRate),
				TermMonths:         SanitizeInt(m.TermMonths),
				AmortizationMonths: SanitizeInt(m.AmortizationMonths),
				RateType:           SanitizeString(m.RateType),
				Lender:             SanitizeString(m.Lender),
			})
		}
	}

	rs.Conditions = append(rs.Conditions, transformConditions(ConditionTypeBroker, raw.BrokerConditions)...)
	rs.Conditions = append(rs.Conditions, transformConditions(ConditionTypeLender, raw.LenderConditions)...)

	for _, n := range raw.Notes {
		if n == nil {
			continue
		}
		text := SanitizeString(n.Text)
		if text == nil {
			continue
		}
		rs.Notes = append(rs.Notes, NoteRow{
			Index:     len(rs.Notes),
			Text:      *text,
			Author:    SanitizeString(n.Author),
			CreatedAt: SanitizeTimestamp(n.CreatedAt),
		})
	}

	return rs, nil
}

func transformBorrower(index int, b *RawBorrower) BorrowerRow {
	row := BorrowerRow{
		Index:          index,
		FirstName:      SanitizeString(b.FirstName),
		LastName:       SanitizeString(b.LastName),
		DateOfBirth:    SanitizeDate(b.DateOfBirth),
		Email:          SanitizeString(b.Email),
		Phone:          SanitizeString(b.Phone),
		CellPhone:      SanitizeString(b.CellPhone),
		CreditScore:    SanitizeInt(b.CreditScore),
		FirstTimeBuyer: SanitizeBool(b.FirstTimeBuyer),
	}

	perType := map[AddressType]int{}
	for _, a := range b.Addresses {
		if a == nil {
			continue
		}
		t := addressType(a.AddressType)
		row.Addresses = append(row.Addresses, AddressRow{
			Type:            t,
			Index:           perType[t],
			Address:         transformAddress(a),
			MonthsAtAddress: SanitizeInt(a.MonthsAtAddress),
		})
		perType[t]++
	}

	if e := b.Employment; e != nil {
		row.Employment = &EmploymentRow{
			EmployerName:    SanitizeString(e.EmployerName),
			JobTitle:        SanitizeString(e.JobTitle),
			EmploymentType:  SanitizeString(e.EmploymentType),
			IncomeType:      SanitizeString(e.IncomeType),
			AnnualIncome:    SanitizeDecimal(e.AnnualIncome),
			MonthsEmployed:  SanitizeInt(e.MonthsEmployed),
			EmployerAddress: transformAddress(e.Address),
		}
	}

	for _, l := range b.Liabilities {
		if l == nil {
			continue
		}
		row.Liabilities = append(row.Liabilities, LiabilityRow{
			Index:         len(row.Liabilities),
			Lender:        SanitizeString(l.Lender),
			Balance:       SanitizeDecimal(l.Balance),
			Payment:       SanitizeDecimal(l.Payment),
			CreditLimit:   SanitizeDecimal(l.CreditLimit),
			CreditBureau:  SanitizeBool(l.CreditBureau),
			LiabilityType: SanitizeString(l.LiabilityType),
			PayoffType:    SanitizeString(l.PayoffType),
		})
	}

	for _, a := range b.Assets {
		if a == nil {
			continue
		}
		row.Assets = append(row.Assets, AssetRow{
			Index:       len(row.Assets),
			AssetType:   SanitizeString(a.AssetType),
			Description: SanitizeString(a.Description),
			Value:       SanitizeDecimal(a.Value),
		})
	}

	for _, p := range b.Properties {
		if p == nil {
			continue
		}
		row.Properties = append(row.Properties, PropertyRow{
			Index:           len(row.Properties),
			Address:         transformAddress(p.Address),
			Value:           SanitizeDecimal(p.Value),
			MortgageBalance: SanitizeDecimal(p.MortgageBalance),
			MonthlyPayment:  SanitizeDecimal(p.MonthlyPayment),
			CondoFees:       SanitizeDecimal(p.CondoFees),
			AnnualTaxes:     SanitizeDecimal(p.AnnualTaxes),
			RentalIncome:    SanitizeDecimal(p.RentalIncome),
		})
	}

	return row
}

func transformSubjectProperty(sp *RawSubjectProperty) SubjectPropertyRow {
	if sp == nil {
		return SubjectPropertyRow{}
	}
	return SubjectPropertyRow{
		Address:        transformAddress(sp.Address),
		PropertyType:   SanitizeString(sp.PropertyType),
		Occupancy:      SanitizeString(sp.Occupancy),
		Tenure:         SanitizeString(sp.Tenure),
		PurchasePrice:  SanitizeDecimal(sp.PurchasePrice),
		EstimatedValue: SanitizeDecimal(sp.EstimatedValue),
		CondoFees:      SanitizeDecimal(sp.CondoFees),
		AnnualTaxes:    SanitizeDecimal(sp.AnnualTaxes),
		HeatingCost:    SanitizeDecimal(sp.HeatingCost),
	}
}

// Approved stays nil when the source value is absent, blank or unparsable.
func transformMortgageRequest(mr *RawMortgageRequest) MortgageRequestRow {
	if mr == nil {
		return MortgageRequestRow{}
	}
	return MortgageRequestRow{
		Purpose:     SanitizeString(mr.Purpose),
		ClosingDate: SanitizeDate(mr.ClosingDate),
		Approved:    SanitizeTimestamp(mr.Approved),
		TotalAmount: SanitizeDecimal(mr.TotalAmount),
		LoanToValue: SanitizeDecimal(mr.LoanToValue),
	}
}

func transformConditions(t ConditionType, conditions []*RawCondition) []ConditionRow {
	var rows []ConditionRow
	for _, c := range conditions {
		if c == nil {
			continue
		}
		name := SanitizeString(c.Name)
		if name == nil {
			continue
		}
		rows = append(rows, ConditionRow{
			Type:        t,
			Index:       len(rows),
			Name:        *name,
			Status:      SanitizeString(c.Status),
			Description: SanitizeString(c.Description),
			DueDate:     SanitizeDate(c.DueDate),
		})
	}
	return rows
}

func transformAddress(a *RawAddress) Address {
	if a == nil {
		return Address{}
	}
	return Address{
		StreetNumber: SanitizeString(a.StreetNumber),
		StreetName:   SanitizeString(a.StreetName),
		Unit:         SanitizeString(a.Unit),
		City:         SanitizeString(a.City),
		Province:     SanitizeString(a.Province),
		PostalCode:   SanitizeString(a.PostalCode),
		Country:      SanitizeString(a.Country),
	}
}

func addressType(s Scalar) AddressType {
	if v := SanitizeString(s); v != nil && strings.EqualFold(*v, string(AddressTypeMailing)) {
		return AddressTypeMailing
	}
	return AddressTypeCurrent
}
