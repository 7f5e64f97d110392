// internal/circulation/service.go
package circulation

import (
	"context"
	"errors"
	"iter"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"libraledger/internal/catalog"
)

var (
	ErrNotFound        = errors.New("issue record not found")
	ErrNotAvailable    = errors.New("no copy available for issue")
	ErrAlreadyIssued   = errors.New("copy already has an open issue")
	ErrAlreadyReturned = errors.New("issue record already returned")
	ErrInvalidRequest  = errors.New("invalid circulation request")
)

// Service defines the interface for the circulation ledger.
type Service interface {
	Issue(ctx context.Context, req IssueRequest) (*IssueRecord, error)
	Return(ctx context.Context, issueID uuid.UUID, returnDate time.Time) (*IssueRecord, error)
	GetIssue(ctx context.Context, issueID uuid.UUID) (*IssueRecord, error)
	// ActiveIssues yields every open record with its overdue state as of
	// now. Each range over the sequence queries the store afresh.
	ActiveIssues(ctx context.Context, now time.Time) iter.Seq2[ActiveIssue, error]
}

// Tx extends the catalog transaction with ledger operations so an issue or
// return commits catalog counters and the ledger row together.
type Tx interface {
	catalog.Tx

	InsertIssue(ctx context.Context, rec *IssueRecord) error
	// GetIssue fails with ErrNotFound when no record has the id.
	GetIssue(ctx context.Context, id uuid.UUID) (*IssueRecord, error)
	// CloseIssue sets the return date and fine of an open record. It fails
	// with ErrAlreadyReturned if the record is no longer open.
	CloseIssue(ctx context.Context, id uuid.UUID, returnDate time.Time, fine decimal.Decimal) error
	CountOpenIssues(ctx context.Context, copyID uuid.UUID) (int, error)
}

// Store runs ledger transactions and pages through open records.
type Store interface {
	Update(ctx context.Context, fn func(Tx) error) error
	View(ctx context.Context, fn func(Tx) error) error
	// OpenIssues returns up to limit open records with ids greater than
	// after, in id order.
	OpenIssues(ctx context.Context, after uuid.UUID, limit int) ([]OpenIssue, error)
}
