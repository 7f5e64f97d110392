package circulation

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultLoanDays is the loan period used when a policy does not set one.
const DefaultLoanDays = 15

// Policy holds the loan period and fine rate.
type Policy struct {
	LoanDays        int
	FacultyLoanDays int
	DailyRate       decimal.Decimal
}

// DefaultPolicy returns a 15-day loan for every borrower at one unit per day.
func DefaultPolicy() Policy {
	return Policy{
		LoanDays:        DefaultLoanDays,
		FacultyLoanDays: DefaultLoanDays,
		DailyRate:       decimal.NewFromInt(1),
	}
}

// DueDate returns the due date of a loan issued on issueDate.
func (p Policy) DueDate(borrower BorrowerType, issueDate time.Time) time.Time {
	days := p.LoanDays
	if borrower == BorrowerFaculty && p.FacultyLoanDays > 0 {
		days = p.FacultyLoanDays
	}
	if days <= 0 {
		days = DefaultLoanDays
	}
	return issueDate.AddDate(0, 0, days)
}
