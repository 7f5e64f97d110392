// internal/circulation/domain.go
package circulation

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BorrowerType distinguishes the two kinds of patrons.
type BorrowerType string

const (
	BorrowerStudent BorrowerType = "student"
	BorrowerFaculty BorrowerType = "faculty"
)

// Valid reports whether t is a known borrower type.
func (t BorrowerType) Valid() bool {
	return t == BorrowerStudent || t == BorrowerFaculty
}

// IssueRecord is one circulation transaction. Apart from ReturnDate and
// FineAccrued, which are set exactly once on return, it never changes.
type IssueRecord struct {
	ID            uuid.UUID        `json:"id" db:"id"`
	CopyID        uuid.UUID        `json:"copy_id" db:"copy_id"`
	BookAccession string           `json:"book_accession" db:"book_accession"`
	SeriesCode    string           `json:"series_code" db:"series_code"`
	BorrowerType  BorrowerType     `json:"borrower_type" db:"borrower_type"`
	BorrowerID    string           `json:"borrower_id" db:"borrower_id"`
	IssueDate     time.Time        `json:"issue_date" db:"issue_date"`
	DueDate       time.Time        `json:"due_date" db:"due_date"`
	ReturnDate    *time.Time       `json:"return_date,omitempty" db:"return_date"`
	FineAccrued   *decimal.Decimal `json:"fine_accrued,omitempty" db:"fine_accrued"`
}

// Open reports whether the record has not been returned yet.
func (r *IssueRecord) Open() bool {
	return r.ReturnDate == nil
}

// OpenIssue is an unreturned record joined with its catalog row.
type OpenIssue struct {
	Record IssueRecord
	Title  string
	Author string
}

// ActiveIssue is an open record annotated with its live overdue state.
type ActiveIssue struct {
	IssueRecord
	Title       string          `json:"title"`
	Author      string          `json:"author"`
	DaysOverdue int             `json:"days_overdue"`
	CurrentFine decimal.Decimal `json:"current_fine"`
}

// IssueRequest is the input of Issue. SeriesCode may be empty when the
// accession number is unique across series; a zero IssueDate means now.
type IssueRequest struct {
	AccessionNumber string       `json:"accession_number"`
	SeriesCode      string       `json:"series_code,omitempty"`
	BorrowerType    BorrowerType `json:"borrower_type"`
	BorrowerID      string       `json:"borrower_id"`
	IssueDate       time.Time    `json:"issue_date"`
}

// BookIssuedEvent is journaled when a copy is issued.
type BookIssuedEvent struct {
	IssueID       uuid.UUID    `json:"issue_id"`
	CopyID        uuid.UUID    `json:"copy_id"`
	BookAccession string       `json:"book_accession"`
	BorrowerType  BorrowerType `json:"borrower_type"`
	BorrowerID    string       `json:"borrower_id"`
	DueDate       time.Time    `json:"due_date"`
}

// BookReturnedEvent is journaled when a copy comes back.
type BookReturnedEvent struct {
	IssueID    uuid.UUID       `json:"issue_id"`
	CopyID     uuid.UUID       `json:"copy_id"`
	ReturnDate time.Time       `json:"return_date"`
	Fine       decimal.Decimal `json:"fine"`
}
