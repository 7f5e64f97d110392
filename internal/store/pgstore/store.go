// Package pgstore provides a PostgreSQL-backed persistence layer for the
// catalog, the circulation ledger and the journal.
//
// Update transactions lock the catalog rows they read (SELECT ... FOR UPDATE)
// so that the check-then-adjust sequences of the services cannot interleave
// on the same row. Counter adjustments are conditional UPDATE statements, and
// a CHECK constraint backs the availability invariant.
package pgstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"libraledger/internal/catalog"
	"libraledger/internal/circulation"
	"libraledger/internal/journal"
)

const (
	tableCopies   = "book_copies"
	tableIssues   = "issue_records"
	tableCounters = "accession_counters"
	tableJournal  = "journal"

	codeCheckViolation = "23514"
)

// Store wraps a PostgreSQL connection pool.
type Store struct {
	db      *sqlx.DB
	dialect goqu.DialectWrapper
}

// Open connects to databaseURL, verifies the connection and applies the
// schema.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sqlx.Open("postgres", databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}

	s := New(db)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing pool. The schema is not applied.
func New(db *sqlx.DB) *Store {
	return &Store{db: db, dialect: goqu.Dialect("postgres")}
}

// Migrate creates the tables and indexes if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return errors.Wrap(err, "apply schema")
	}
	return nil
}

// Close closes the pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Catalog returns the store as seen by the catalog service.
func (s *Store) Catalog() catalog.Store {
	return catalogStore{s}
}

// Circulation returns the store as seen by the circulation ledger.
func (s *Store) Circulation() circulation.Store {
	return circulationStore{s}
}

func (s *Store) update(ctx context.Context, fn func(*tx) error) error {
	return s.run(ctx, nil, true, fn)
}

func (s *Store) view(ctx context.Context, fn func(*tx) error) error {
	return s.run(ctx, &sql.TxOptions{ReadOnly: true}, false, fn)
}

func (s *Store) run(ctx context.Context, opts *sql.TxOptions, forUpdate bool, fn func(*tx) error) error {
	sqlTx, err := s.db.BeginTxx(ctx, opts)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer sqlTx.Rollback()

	if err := fn(&tx{tx: sqlTx, dialect: s.dialect, forUpdate: forUpdate}); err != nil {
		return translate(err)
	}
	if err := sqlTx.Commit(); err != nil {
		return translate(errors.Wrap(err, "commit"))
	}
	return nil
}

// ScanCopies streams every catalog row from one repeatable-read snapshot.
func (s *Store) ScanCopies(ctx context.Context, fn func(*catalog.BookCopy) error) error {
	sqlTx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return errors.Wrap(err, "begin snapshot")
	}
	defer sqlTx.Rollback()

	query, args, err := s.dialect.From(tableCopies).
		Select(copyColumns()...).
		Order(goqu.C("id").Asc()).
		Prepared(true).ToSQL()
	if err != nil {
		return errors.Wrap(err, "build scan query")
	}

	rows, err := sqlTx.QueryxContext(ctx, query, args...)
	if err != nil {
		return errors.Wrap(err, "scan copies")
	}
	defer rows.Close()

	for rows.Next() {
		var c catalog.BookCopy
		if err := rows.StructScan(&c); err != nil {
			return errors.Wrap(err, "decode copy")
		}
		if err := fn(&c); err != nil {
			return err
		}
	}
	return rows.Err()
}

type eventRow struct {
	ID            int64     `db:"id"`
	AggregateID   uuid.UUID `db:"aggregate_id"`
	AggregateType string    `db:"aggregate_type"`
	EventType     string    `db:"event_type"`
	EventData     []byte    `db:"event_data"`
	CreatedAt     time.Time `db:"created_at"`
}

// StreamEvents returns up to batchSize journal events with ids greater than
// fromID.
func (s *Store) StreamEvents(ctx context.Context, fromID int64, batchSize int) ([]journal.Event, error) {
	query, args, err := s.dialect.From(tableJournal).
		Select("id", "aggregate_id", "aggregate_type", "event_type", "event_data", "created_at").
		Where(goqu.C("id").Gt(fromID)).
		Order(goqu.C("id").Asc()).
		Limit(uint(batchSize)).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, errors.Wrap(err, "build stream query")
	}

	var rows []eventRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "stream events")
	}

	events := make([]journal.Event, 0, len(rows))
	for _, row := range rows {
		events = append(events, journal.Event{
			ID:            row.ID,
			AggregateID:   row.AggregateID,
			AggregateType: row.AggregateType,
			EventType:     row.EventType,
			EventData:     row.EventData,
			CreatedAt:     row.CreatedAt,
		})
	}
	return events, nil
}

// translate maps constraint failures raised by the database onto the catalog
// error vocabulary.
func translate(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == codeCheckViolation {
		return errors.Wrapf(catalog.ErrInvariantViolation, "%s (%s)", pqErr.Message, pqErr.Constraint)
	}
	return err
}

type catalogStore struct {
	s *Store
}

func (c catalogStore) Update(ctx context.Context, fn func(catalog.Tx) error) error {
	return c.s.update(ctx, func(t *tx) error { return fn(t) })
}

func (c catalogStore) View(ctx context.Context, fn func(catalog.Tx) error) error {
	return c.s.view(ctx, func(t *tx) error { return fn(t) })
}

func (c catalogStore) ScanCopies(ctx context.Context, fn func(*catalog.BookCopy) error) error {
	return c.s.ScanCopies(ctx, fn)
}

type circulationStore struct {
	s *Store
}

func (c circulationStore) Update(ctx context.Context, fn func(circulation.Tx) error) error {
	return c.s.update(ctx, func(t *tx) error { return fn(t) })
}

func (c circulationStore) View(ctx context.Context, fn func(circulation.Tx) error) error {
	return c.s.view(ctx, func(t *tx) error { return fn(t) })
}

type openIssueRow struct {
	circulation.IssueRecord
	Title  string `db:"title"`
	Author string `db:"author"`
}

// OpenIssues pages through unreturned records in id order, joined with the
// title and author of their catalog row.
func (c circulationStore) OpenIssues(ctx context.Context, after uuid.UUID, limit int) ([]circulation.OpenIssue, error) {
	cols := make([]any, 0, len(issueColumnNames)+2)
	for _, name := range issueColumnNames {
		cols = append(cols, goqu.I("i."+name))
	}
	cols = append(cols, goqu.I("c.title"), goqu.I("c.author"))

	query, args, err := c.s.dialect.From(goqu.T(tableIssues).As("i")).
		Join(goqu.T(tableCopies).As("c"), goqu.On(goqu.I("c.id").Eq(goqu.I("i.copy_id")))).
		Select(cols...).
		Where(
			goqu.I("i.return_date").IsNull(),
			goqu.I("i.id").Gt(after),
		).
		Order(goqu.I("i.id").Asc()).
		Limit(uint(limit)).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, errors.Wrap(err, "build open issues query")
	}

	var rows []openIssueRow
	if err := c.s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "list open issues")
	}

	page := make([]circulation.OpenIssue, 0, len(rows))
	for _, row := range rows {
		inUTC(&row.IssueRecord)
		page = append(page, circulation.OpenIssue{Record: row.IssueRecord, Title: row.Title, Author: row.Author})
	}
	return page, nil
}
