package pgstore

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libraledger/internal/catalog"
	"libraledger/internal/circulation"
	"libraledger/internal/journal"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func setupTestStore(t testing.TB) *Store {
	t.Helper()

	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		envOr("PGHOST", "localhost"),
		envOr("PGPORT", "5432"),
		envOr("PGUSER", "user"),
		envOr("PGPASSWORD", "password"),
		envOr("PGDATABASE", "testdb"),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	s, err := Open(ctx, connStr)
	if err != nil {
		t.Skipf("skipping postgres tests: could not connect to postgres: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	_, err = s.db.Exec(`TRUNCATE journal, issue_records, book_copies, accession_counters RESTART IDENTITY CASCADE`)
	require.NoError(t, err)
	return s
}

func newCopy(accession, series string, total int) *catalog.BookCopy {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &catalog.BookCopy{
		ID:              uuid.New(),
		AccessionNumber: accession,
		SeriesCode:      series,
		Title:           "Title " + accession,
		Author:          "Author",
		TotalQuantity:   total,
		Available:       total,
		Status:          catalog.StatusPresent,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func TestAdjustCountsRejectsNegativeAvailability(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	c := newCopy("500", "A", 1)

	require.NoError(t, s.Catalog().Update(ctx, func(tx catalog.Tx) error {
		return tx.InsertCopy(ctx, c)
	}))

	err := s.Catalog().Update(ctx, func(tx catalog.Tx) error {
		updated, err := tx.AdjustCounts(ctx, c.ID, -1)
		require.NoError(t, err)
		assert.Equal(t, 0, updated.Available)
		assert.Equal(t, 1, updated.Issued)

		_, err = tx.AdjustCounts(ctx, c.ID, -1)
		return err
	})
	assert.ErrorIs(t, err, catalog.ErrInvariantViolation)

	// The failed transaction rolled back the first decrement too.
	require.NoError(t, s.Catalog().View(ctx, func(tx catalog.Tx) error {
		got, err := tx.GetCopy(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, got.Available)
		assert.Equal(t, 0, got.Issued)
		return nil
	}))
}

func TestAdjustCountsUnknownCopy(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	err := s.Catalog().Update(ctx, func(tx catalog.Tx) error {
		_, err := tx.AdjustCounts(ctx, uuid.New(), -1)
		return err
	})
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestCheckConstraintMapsToInvariantViolation(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	c := newCopy("501", "A", 2)

	err := s.Catalog().Update(ctx, func(tx catalog.Tx) error {
		c.Available = 3
		return tx.InsertCopy(ctx, c)
	})
	assert.ErrorIs(t, err, catalog.ErrInvariantViolation)
}

func TestFindCopiesReturnsDuplicatesAcrossSeries(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Catalog().Update(ctx, func(tx catalog.Tx) error {
		for _, c := range []*catalog.BookCopy{newCopy("100", "B", 1), newCopy("100", "A", 1), newCopy("100", "A", 1)} {
			if err := tx.InsertCopy(ctx, c); err != nil {
				return err
			}
		}
		return nil
	}))

	require.NoError(t, s.Catalog().View(ctx, func(tx catalog.Tx) error {
		copies, err := tx.FindCopies(ctx, "100")
		require.NoError(t, err)
		require.Len(t, copies, 3)
		assert.Equal(t, "A", copies[0].SeriesCode)
		assert.Equal(t, "A", copies[1].SeriesCode)
		assert.Equal(t, "B", copies[2].SeriesCode)
		return nil
	}))

	var scanned int
	require.NoError(t, s.ScanCopies(ctx, func(*catalog.BookCopy) error {
		scanned++
		return nil
	}))
	assert.Equal(t, 3, scanned)
}

func TestNextAccessionIsPerSeries(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Catalog().Update(ctx, func(tx catalog.Tx) error {
		require.NoError(t, tx.LockSeries(ctx, "A"))
		for want := uint64(1); want <= 3; want++ {
			got, err := tx.NextAccession(ctx, "A")
			require.NoError(t, err)
			assert.Equal(t, want, got)
		}
		got, err := tx.NextAccession(ctx, "B")
		require.NoError(t, err)
		assert.Equal(t, uint64(1), got)
		return nil
	}))
}

func TestIssueLifecycle(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	c := newCopy("600", "A", 1)
	issueDate := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	rec := &circulation.IssueRecord{
		ID:            uuid.Must(uuid.NewV7()),
		CopyID:        c.ID,
		BookAccession: c.AccessionNumber,
		SeriesCode:    c.SeriesCode,
		BorrowerType:  circulation.BorrowerStudent,
		BorrowerID:    "S-1",
		IssueDate:     issueDate,
		DueDate:       issueDate.AddDate(0, 0, 15),
	}

	require.NoError(t, s.Circulation().Update(ctx, func(tx circulation.Tx) error {
		if err := tx.InsertCopy(ctx, c); err != nil {
			return err
		}
		return tx.InsertIssue(ctx, rec)
	}))

	page, err := s.Circulation().OpenIssues(ctx, uuid.Nil, 10)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, rec.ID, page[0].Record.ID)
	assert.Equal(t, c.Title, page[0].Title)
	assert.Equal(t, time.UTC, page[0].Record.DueDate.Location())
	assert.Equal(t, "2025-01-16", page[0].Record.DueDate.Format(time.DateOnly))

	returnDate := issueDate.AddDate(0, 0, 20)
	require.NoError(t, s.Circulation().Update(ctx, func(tx circulation.Tx) error {
		n, err := tx.CountOpenIssues(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		return tx.CloseIssue(ctx, rec.ID, returnDate, decimal.NewFromInt(5))
	}))

	err = s.Circulation().Update(ctx, func(tx circulation.Tx) error {
		return tx.CloseIssue(ctx, rec.ID, returnDate, decimal.Zero)
	})
	assert.ErrorIs(t, err, circulation.ErrAlreadyReturned)

	page, err = s.Circulation().OpenIssues(ctx, uuid.Nil, 10)
	require.NoError(t, err)
	assert.Empty(t, page)

	require.NoError(t, s.Circulation().View(ctx, func(tx circulation.Tx) error {
		got, err := tx.GetIssue(ctx, rec.ID)
		require.NoError(t, err)
		require.NotNil(t, got.FineAccrued)
		assert.True(t, got.FineAccrued.Equal(decimal.NewFromInt(5)))
		return nil
	}))
}

func TestStreamEvents(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	id := uuid.New()

	require.NoError(t, s.Catalog().Update(ctx, func(tx catalog.Tx) error {
		for i := range 3 {
			event, err := journal.NewEvent(id, journal.AggregateCopy, journal.CopyAdded,
				map[string]int{"n": i}, time.Now())
			if err != nil {
				return err
			}
			if err := tx.AppendEvent(ctx, event); err != nil {
				return err
			}
		}
		return nil
	}))

	events, err := s.StreamEvents(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(2), events[0].ID)

	var payload map[string]int
	require.NoError(t, events[1].Decode(&payload))
	assert.Equal(t, 2, payload["n"])
}
