package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Lookup resolves an accession number to exactly one catalog row inside tx.
// An empty seriesCode matches any series.
func Lookup(ctx context.Context, tx Tx, accessionNumber, seriesCode string) (*BookCopy, error) {
	found, err := tx.FindCopies(ctx, accessionNumber)
	if err != nil {
		return nil, err
	}
	copies := found
	if seriesCode != "" {
		copies = InSeries(found, seriesCode)
	}
	switch len(copies) {
	case 0:
		if seriesCode == "" {
			return nil, fmt.Errorf("%w: accession %q", ErrNotFound, accessionNumber)
		}
		return nil, fmt.Errorf("%w: accession %q in series %q", ErrNotFound, accessionNumber, seriesCode)
	case 1:
		return copies[0], nil
	default:
		return nil, fmt.Errorf("%w: accession %q matches %d rows", ErrAmbiguousAccession, accessionNumber, len(copies))
	}
}

// InSeries returns the copies whose series code equals seriesCode exactly.
func InSeries(copies []*BookCopy, seriesCode string) []*BookCopy {
	var out []*BookCopy
	for _, c := range copies {
		if c.SeriesCode == seriesCode {
			out = append(out, c)
		}
	}
	return out
}

// AdjustAvailability adds delta to available and subtracts it from issued on
// the row identified by id, as one atomic step of tx. The returned copy is
// the row after the update.
func AdjustAvailability(ctx context.Context, tx Tx, id uuid.UUID, delta int) (*BookCopy, error) {
	if delta == 0 {
		return tx.GetCopy(ctx, id)
	}

	updated, err := tx.AdjustCounts(ctx, id, delta)
	if err != nil {
		if errors.Is(err, ErrInvariantViolation) || errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to adjust availability of %s: %w", id, err)
	}
	if !updated.Balanced() {
		return nil, fmt.Errorf("%w: copy %s has available=%d issued=%d total=%d",
			ErrInvariantViolation, id, updated.Available, updated.Issued, updated.TotalQuantity)
	}

	return updated, nil
}
