package testutil

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

// Doc is a loosely typed deal document used to build source payloads
type Doc = map[string]interface{}

// DealDocument builds a source deal document. Each entry of liabilities adds
// one borrower carrying that many liabilities, so DealDocument("LOAN-001", 2, 0)
// is a deal with two borrowers, the first of which has two liabilities.
func DealDocument(loanCode string, liabilities ...int) Doc {
	borrowers := make([]interface{}, 0, len(liabilities))
	for i, n := range liabilities {
		borrowers = append(borrowers, Borrower(i, n))
	}
	return Doc{
		"loanCode":          loanCode,
		"agentName":         "Agent Smith",
		"status":            "3",
		"createdDate":       "2024-02-10T14:30:15.123456Z",
		"closingDate":       nil,
		"applicationId":     "APP-" + loanCode,
		"lenderReferenceId": nil,
		"compliant":         true,
		"source":            "web",
		"borrowers":         borrowers,
		"subjectProperty": Doc{
			"address": Doc{
				"streetNumber": "12",
				"streetName":   "Main St",
				"city":         "Toronto",
				"province":     "ON",
				"postalCode":   "M5V 1A1",
			},
			"propertyType":  "Condo",
			"occupancy":     "Owner",
			"purchasePrice": "650,000.00",
			"condoFees":     "true",
			"annualTaxes":   4200.5,
		},
		"mortgageRequest": Doc{
			"purpose":     "Purchase",
			"closingDate": "2024-04-30",
			"approved":    nil,
			"totalAmount": 520000,
			"loanToValue": "80",
			"mortgages": []interface{}{
				Doc{"amount": 520000, "interestRate": "4.89", "termMonths": 60, "amortizationMonths": "300", "rateType": "fixed"},
			},
		},
		"brokerConditions": []interface{}{
			Doc{"name": "Proof of income", "status": "outstanding", "dueDate": "2024-03-15"},
			Doc{"name": nil},
			Doc{"name": "Down payment", "status": "received"},
		},
		"lenderConditions": []interface{}{
			Doc{"name": "Appraisal", "status": "outstanding"},
		},
		"notes": []interface{}{
			Doc{"text": "Client prefers email", "author": "agent", "createdAt": "2024-02-11T09:00:00Z"},
			Doc{"text": "   "},
		},
	}
}

// Borrower builds the index'th borrower with n liabilities
func Borrower(index, n int) Doc {
	liabilities := make([]interface{}, 0, n)
	for i := 0; i < n; i++ {
		liabilities = append(liabilities, Liability(i))
	}
	return Doc{
		"firstName":      fmt.Sprintf("Borrower%d", index),
		"lastName":       "Doe",
		"dateOfBirth":    "1985-06-15T00:00:00Z",
		"email":          fmt.Sprintf("borrower%d@example.com", index),
		"creditScore":    "720",
		"firstTimeBuyer": "yes",
		"addresses": []interface{}{
			Doc{"addressType": "current", "streetName": "Queen St", "city": "Toronto", "monthsAtAddress": 24},
			Doc{"addressType": "mailing", "streetName": "PO Box 1", "city": "Toronto"},
		},
		"employment": Doc{
			"employerName": "Acme Corp",
			"annualIncome": "95000",
			"address":      Doc{"city": "Toronto"},
		},
		"liabilities": liabilities,
		"assets": []interface{}{
			Doc{"assetType": "savings", "value": "25000"},
		},
		"properties": []interface{}{},
	}
}

// Liability builds the i'th liability
func Liability(i int) Doc {
	return Doc{
		"lender":        fmt.Sprintf("Bank %d", i),
		"balance":       fmt.Sprintf("%d.50", 1000*(i+1)),
		"payment":       100 * (i + 1),
		"creditBureau":  true,
		"liabilityType": "credit_card",
		"payoffType":    "none",
	}
}

// MustJSON marshals v or fails the test
func MustJSON(t testing.TB, v interface{}) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err, "Failed to marshal fixture")
	return b
}
