package pgstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"libraledger/internal/catalog"
	"libraledger/internal/circulation"
	"libraledger/internal/journal"
)

var issueColumnNames = []string{
	"id", "copy_id", "book_accession", "series_code", "borrower_type", "borrower_id",
	"issue_date", "due_date", "return_date", "fine_accrued",
}

// copyColumns selects a catalog row. Legacy rows may carry a NULL series
// code, which reads back as the empty string.
func copyColumns() []any {
	return []any{
		"id", "accession_number",
		goqu.COALESCE(goqu.C("series_code"), "").As("series_code"),
		"title", "author", "publisher", "year", "pages",
		"total_quantity", "available", "issued", "status",
		"created_at", "updated_at",
	}
}

func issueColumns() []any {
	cols := make([]any, len(issueColumnNames))
	for i, name := range issueColumnNames {
		cols[i] = name
	}
	return cols
}

// tx implements catalog.Tx and circulation.Tx over one database transaction.
type tx struct {
	tx        *sqlx.Tx
	dialect   goqu.DialectWrapper
	forUpdate bool
}

func (t *tx) FindCopies(ctx context.Context, accessionNumber string) ([]*catalog.BookCopy, error) {
	ds := t.dialect.From(tableCopies).
		Select(copyColumns()...).
		Where(goqu.C("accession_number").Eq(accessionNumber)).
		Order(goqu.C("series_code").Asc().NullsFirst(), goqu.C("id").Asc())
	if t.forUpdate {
		ds = ds.ForUpdate(exp.Wait)
	}

	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, errors.Wrap(err, "build find query")
	}

	var copies []*catalog.BookCopy
	if err := t.tx.SelectContext(ctx, &copies, query, args...); err != nil {
		return nil, errors.Wrapf(err, "find copies of %s", accessionNumber)
	}
	return copies, nil
}

func (t *tx) GetCopy(ctx context.Context, id uuid.UUID) (*catalog.BookCopy, error) {
	ds := t.dialect.From(tableCopies).
		Select(copyColumns()...).
		Where(goqu.C("id").Eq(id))
	if t.forUpdate {
		ds = ds.ForUpdate(exp.Wait)
	}

	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, errors.Wrap(err, "build get query")
	}

	var c catalog.BookCopy
	if err := t.tx.GetContext(ctx, &c, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(catalog.ErrNotFound, "copy %s", id)
		}
		return nil, errors.Wrapf(err, "get copy %s", id)
	}
	return &c, nil
}

func (t *tx) InsertCopy(ctx context.Context, c *catalog.BookCopy) error {
	query, args, err := t.dialect.Insert(tableCopies).Rows(goqu.Record{
		"id":               c.ID,
		"accession_number": c.AccessionNumber,
		"series_code":      c.SeriesCode,
		"title":            c.Title,
		"author":           c.Author,
		"publisher":        c.Publisher,
		"year":             c.Year,
		"pages":            c.Pages,
		"total_quantity":   c.TotalQuantity,
		"available":        c.Available,
		"issued":           c.Issued,
		"status":           string(c.Status),
		"created_at":       c.CreatedAt,
		"updated_at":       c.UpdatedAt,
	}).Prepared(true).ToSQL()
	if err != nil {
		return errors.Wrap(err, "build insert query")
	}

	if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
		return errors.Wrapf(translate(err), "insert copy %s", c.AccessionNumber)
	}
	return nil
}

// AdjustCounts moves delta units from issued to available in one conditional
// statement. A statement that matches no row means either the row is gone or
// the precondition failed.
func (t *tx) AdjustCounts(ctx context.Context, id uuid.UUID, delta int) (*catalog.BookCopy, error) {
	query, args, err := t.dialect.Update(tableCopies).
		Set(goqu.Record{
			"available":  goqu.L("available + ?", delta),
			"issued":     goqu.L("issued - ?", delta),
			"updated_at": goqu.L("NOW()"),
		}).
		Where(
			goqu.C("id").Eq(id),
			goqu.L("available + ? >= 0", delta),
			goqu.L("issued - ? >= 0", delta),
		).
		Returning(copyColumns()...).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, errors.Wrap(err, "build adjust query")
	}

	var c catalog.BookCopy
	err = t.tx.GetContext(ctx, &c, query, args...)
	switch {
	case err == nil:
		return &c, nil
	case errors.Is(err, sql.ErrNoRows):
		if _, getErr := t.GetCopy(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, errors.Wrapf(catalog.ErrInvariantViolation, "copy %s: delta %d rejected", id, delta)
	default:
		return nil, errors.Wrapf(translate(err), "adjust copy %s", id)
	}
}

func (t *tx) SetCopyStatus(ctx context.Context, id uuid.UUID, status catalog.Status) error {
	query, args, err := t.dialect.Update(tableCopies).
		Set(goqu.Record{"status": string(status), "updated_at": goqu.L("NOW()")}).
		Where(goqu.C("id").Eq(id)).
		Prepared(true).ToSQL()
	if err != nil {
		return errors.Wrap(err, "build status query")
	}

	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.Wrapf(err, "set status of copy %s", id)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.Wrapf(catalog.ErrNotFound, "copy %s", id)
	}
	return nil
}

// LockSeries takes a transaction-scoped advisory lock on the series so that
// concurrent writers serialise their duplicate checks.
func (t *tx) LockSeries(ctx context.Context, seriesCode string) error {
	if _, err := t.tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", "series:"+seriesCode); err != nil {
		return errors.Wrapf(err, "lock series %q", seriesCode)
	}
	return nil
}

func (t *tx) NextAccession(ctx context.Context, seriesCode string) (uint64, error) {
	const query = `INSERT INTO ` + tableCounters + ` (series_code, value) VALUES ($1, 1)
		ON CONFLICT (series_code) DO UPDATE SET value = ` + tableCounters + `.value + 1
		RETURNING value`

	var next uint64
	if err := t.tx.GetContext(ctx, &next, query, seriesCode); err != nil {
		return 0, errors.Wrapf(err, "advance counter for series %q", seriesCode)
	}
	return next, nil
}

func (t *tx) AppendEvent(ctx context.Context, event journal.Event) error {
	query, args, err := t.dialect.Insert(tableJournal).Rows(goqu.Record{
		"aggregate_id":   event.AggregateID,
		"aggregate_type": event.AggregateType,
		"event_type":     event.EventType,
		"event_data":     string(event.EventData),
		"created_at":     event.CreatedAt,
	}).Prepared(true).ToSQL()
	if err != nil {
		return errors.Wrap(err, "build append query")
	}

	if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
		return errors.Wrapf(err, "append %s event", event.EventType)
	}
	return nil
}

func (t *tx) InsertIssue(ctx context.Context, rec *circulation.IssueRecord) error {
	row := goqu.Record{
		"id":             rec.ID,
		"copy_id":        rec.CopyID,
		"book_accession": rec.BookAccession,
		"series_code":    rec.SeriesCode,
		"borrower_type":  string(rec.BorrowerType),
		"borrower_id":    rec.BorrowerID,
		"issue_date":     rec.IssueDate,
		"due_date":       rec.DueDate,
	}
	if rec.ReturnDate != nil {
		row["return_date"] = *rec.ReturnDate
	}
	if rec.FineAccrued != nil {
		row["fine_accrued"] = *rec.FineAccrued
	}

	query, args, err := t.dialect.Insert(tableIssues).Rows(row).Prepared(true).ToSQL()
	if err != nil {
		return errors.Wrap(err, "build issue insert query")
	}
	if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
		return errors.Wrapf(err, "insert issue %s", rec.ID)
	}
	return nil
}

func (t *tx) GetIssue(ctx context.Context, id uuid.UUID) (*circulation.IssueRecord, error) {
	ds := t.dialect.From(tableIssues).
		Select(issueColumns()...).
		Where(goqu.C("id").Eq(id))
	if t.forUpdate {
		ds = ds.ForUpdate(exp.Wait)
	}

	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, errors.Wrap(err, "build issue query")
	}

	var rec circulation.IssueRecord
	if err := t.tx.GetContext(ctx, &rec, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(circulation.ErrNotFound, "issue %s", id)
		}
		return nil, errors.Wrapf(err, "get issue %s", id)
	}
	inUTC(&rec)
	return &rec, nil
}

// inUTC moves the record's dates out of the session time zone lib/pq
// attaches to TIMESTAMPTZ values, so their civil dates match what was
// written.
func inUTC(rec *circulation.IssueRecord) {
	rec.IssueDate = rec.IssueDate.UTC()
	rec.DueDate = rec.DueDate.UTC()
	if rec.ReturnDate != nil {
		d := rec.ReturnDate.UTC()
		rec.ReturnDate = &d
	}
}

func (t *tx) CloseIssue(ctx context.Context, id uuid.UUID, returnDate time.Time, fine decimal.Decimal) error {
	query, args, err := t.dialect.Update(tableIssues).
		Set(goqu.Record{"return_date": returnDate, "fine_accrued": fine}).
		Where(goqu.C("id").Eq(id), goqu.C("return_date").IsNull()).
		Prepared(true).ToSQL()
	if err != nil {
		return errors.Wrap(err, "build close query")
	}

	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.Wrapf(err, "close issue %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if n == 0 {
		if _, err := t.GetIssue(ctx, id); err != nil {
			return err
		}
		return errors.Wrapf(circulation.ErrAlreadyReturned, "issue %s", id)
	}
	return nil
}

func (t *tx) CountOpenIssues(ctx context.Context, copyID uuid.UUID) (int, error) {
	query, args, err := t.dialect.From(tableIssues).
		Select(goqu.COUNT(goqu.Star())).
		Where(goqu.C("copy_id").Eq(copyID), goqu.C("return_date").IsNull()).
		Prepared(true).ToSQL()
	if err != nil {
		return 0, errors.Wrap(err, "build count query")
	}

	var n int
	if err := t.tx.GetContext(ctx, &n, query, args...); err != nil {
		return 0, errors.Wrapf(err, "count open issues of %s", copyID)
	}
	return n, nil
}
