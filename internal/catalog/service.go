// internal/catalog/service.go
package catalog

import (
	"context"

	"github.com/google/uuid"

	"libraledger/internal/journal"
)

// Service defines the interface for the catalog service.
type Service interface {
	AddCopies(ctx context.Context, req AddCopiesRequest) ([]*BookCopy, error)
	FindByAccession(ctx context.Context, accessionNumber, seriesCode string) (*BookCopy, error)
	AdjustAvailability(ctx context.Context, accessionNumber, seriesCode string, delta int) (*BookCopy, error)
	SetStatus(ctx context.Context, accessionNumber, seriesCode string, status Status) (*BookCopy, error)
	Import(ctx context.Context, copies []BookCopy) (int, error)
}

// Tx is the set of catalog operations available inside one store
// transaction. Implementations must make AdjustCounts a single conditional
// update: it fails with ErrInvariantViolation, leaving the row untouched,
// when the result would leave available or issued negative or break
// available + issued == total_quantity.
type Tx interface {
	journal.Appender

	// FindCopies returns every row carrying the accession number, in any
	// series, ordered by series code. Inside Update the rows stay locked
	// until the transaction ends.
	FindCopies(ctx context.Context, accessionNumber string) ([]*BookCopy, error)
	GetCopy(ctx context.Context, id uuid.UUID) (*BookCopy, error)
	InsertCopy(ctx context.Context, c *BookCopy) error
	AdjustCounts(ctx context.Context, id uuid.UUID, delta int) (*BookCopy, error)
	SetCopyStatus(ctx context.Context, id uuid.UUID, status Status) error
	// LockSeries serialises writers adding rows to one series until the
	// transaction ends.
	LockSeries(ctx context.Context, seriesCode string) error
	// NextAccession draws the next value of the series' accession counter.
	NextAccession(ctx context.Context, seriesCode string) (uint64, error)
}

// Store runs catalog transactions. Update runs fn in a read-write
// transaction that commits only if fn returns nil.
type Store interface {
	Update(ctx context.Context, fn func(Tx) error) error
	View(ctx context.Context, fn func(Tx) error) error
	// ScanCopies calls fn for every catalog row from one consistent read.
	ScanCopies(ctx context.Context, fn func(*BookCopy) error) error
}
