// internal/circulation/implementation.go
package circulation

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"libraledger/internal/catalog"
	"libraledger/internal/fines"
	"libraledger/internal/journal"
)

const defaultPageSize = 100

// service implements the Service interface.
type service struct {
	store    Store
	policy   Policy
	logger   *zap.Logger
	tracer   trace.Tracer
	now      func() time.Time
	pageSize int

	issues     metric.Int64Counter
	returns    metric.Int64Counter
	rejections metric.Int64Counter
}

// Option configures the circulation service.
type Option func(*service)

// WithPolicy sets the loan period and fine rate.
func WithPolicy(policy Policy) Option {
	return func(s *service) {
		s.policy = policy
	}
}

// WithLogger sets the service logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock replaces the wall clock used when a request carries no date.
func WithClock(now func() time.Time) Option {
	return func(s *service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithPageSize sets how many open records ActiveIssues fetches per query.
func WithPageSize(size int) Option {
	return func(s *service) {
		if size > 0 {
			s.pageSize = size
		}
	}
}

// NewService creates a new circulation service instance.
func NewService(store Store, options ...Option) Service {
	s := &service{
		store:    store,
		policy:   DefaultPolicy(),
		logger:   zap.NewNop(),
		tracer:   otel.Tracer("libraledger/circulation"),
		now:      time.Now,
		pageSize: defaultPageSize,
	}
	for _, option := range options {
		option(s)
	}

	meter := otel.Meter("libraledger/circulation")
	s.issues = counter(meter, "circulation.issues", "Copies issued")
	s.returns = counter(meter, "circulation.returns", "Copies returned")
	s.rejections = counter(meter, "circulation.rejections", "Issue or return requests rejected")

	return s
}

func counter(meter metric.Meter, name, description string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(description))
	if err != nil {
		return noop.Int64Counter{}
	}
	return c
}

// Issue lends one unit of a catalog row. The availability decrement, the
// status change and the new ledger row commit in one transaction.
func (s *service) Issue(ctx context.Context, req IssueRequest) (*IssueRecord, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.issue",
		trace.WithAttributes(
			attribute.String("accession", req.AccessionNumber),
			attribute.String("series.code", req.SeriesCode),
			attribute.String("borrower.type", string(req.BorrowerType)),
		),
	)
	defer span.End()

	if err := validateIssue(req); err != nil {
		return nil, s.reject(ctx, span, "issue", err)
	}

	issueDate := req.IssueDate
	if issueDate.IsZero() {
		issueDate = s.now()
	}
	// Loans run on the desk's calendar: the issue date is the civil date in
	// the caller's location, stored as midnight UTC.
	issueDate = fines.CivilDate(issueDate)
	dueDate := s.policy.DueDate(req.BorrowerType, issueDate)
	if !storableDate(issueDate) || !storableDate(dueDate) {
		return nil, s.reject(ctx, span, "issue",
			fmt.Errorf("%w: issue date %s out of range", ErrInvalidRequest, issueDate.Format(time.DateOnly)))
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate issue id: %w", err)
	}

	var rec *IssueRecord
	err = s.store.Update(ctx, func(tx Tx) error {
		c, err := catalog.Lookup(ctx, tx, req.AccessionNumber, req.SeriesCode)
		if err != nil {
			return err
		}
		if c.Available == 0 || c.Status != catalog.StatusPresent {
			return fmt.Errorf("%w: %s has available=%d status=%s", ErrNotAvailable, c.AccessionNumber, c.Available, c.Status)
		}

		open, err := tx.CountOpenIssues(ctx, c.ID)
		if err != nil {
			return fmt.Errorf("failed to count open issues: %w", err)
		}
		if open >= c.TotalQuantity {
			return fmt.Errorf("%w: %s has %d open issues", ErrAlreadyIssued, c.AccessionNumber, open)
		}

		updated, err := catalog.AdjustAvailability(ctx, tx, c.ID, -1)
		if err != nil {
			if errors.Is(err, catalog.ErrInvariantViolation) {
				return fmt.Errorf("%w: %s was taken concurrently", ErrNotAvailable, c.AccessionNumber)
			}
			return err
		}
		if updated.Available == 0 {
			if err := tx.SetCopyStatus(ctx, c.ID, catalog.StatusIssued); err != nil {
				return fmt.Errorf("failed to mark copy issued: %w", err)
			}
		}

		rec = &IssueRecord{
			ID:            id,
			CopyID:        c.ID,
			BookAccession: c.AccessionNumber,
			SeriesCode:    c.SeriesCode,
			BorrowerType:  req.BorrowerType,
			BorrowerID:    req.BorrowerID,
			IssueDate:     issueDate,
			DueDate:       dueDate,
		}
		if err := tx.InsertIssue(ctx, rec); err != nil {
			return fmt.Errorf("failed to insert issue record: %w", err)
		}

		event, err := journal.NewEvent(rec.ID, journal.AggregateIssue, journal.BookIssued, BookIssuedEvent{
			IssueID:       rec.ID,
			CopyID:        rec.CopyID,
			BookAccession: rec.BookAccession,
			BorrowerType:  rec.BorrowerType,
			BorrowerID:    rec.BorrowerID,
			DueDate:       rec.DueDate,
		}, issueDate)
		if err != nil {
			return err
		}
		return tx.AppendEvent(ctx, event)
	})
	if err != nil {
		return nil, s.reject(ctx, span, "issue", err)
	}

	s.issues.Add(ctx, 1, metric.WithAttributes(attribute.String("borrower.type", string(rec.BorrowerType))))
	s.logger.Info("copy issued",
		zap.String("issue_id", rec.ID.String()),
		zap.String("accession", rec.BookAccession),
		zap.String("series", rec.SeriesCode),
		zap.String("borrower_id", rec.BorrowerID),
		zap.Time("due_date", rec.DueDate),
	)
	return rec, nil
}

// Return closes an issue record, settling its fine as of returnDate, and puts
// the unit back on the shelf in the same transaction.
func (s *service) Return(ctx context.Context, issueID uuid.UUID, returnDate time.Time) (*IssueRecord, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.return",
		trace.WithAttributes(attribute.String("issue.id", issueID.String())),
	)
	defer span.End()

	if returnDate.IsZero() {
		returnDate = s.now()
	}
	returnDate = fines.CivilDate(returnDate)
	if !storableDate(returnDate) {
		return nil, s.reject(ctx, span, "return",
			fmt.Errorf("%w: return date %s out of range", ErrInvalidRequest, returnDate.Format(time.DateOnly)))
	}

	var rec *IssueRecord
	err := s.store.Update(ctx, func(tx Tx) error {
		var err error
		rec, err = tx.GetIssue(ctx, issueID)
		if err != nil {
			return err
		}
		if !rec.Open() {
			return fmt.Errorf("%w: %s on %s", ErrAlreadyReturned, issueID, rec.ReturnDate.Format(time.DateOnly))
		}
		if fines.DaysBetween(rec.IssueDate, returnDate) < 0 {
			return fmt.Errorf("%w: return date %s precedes issue date %s",
				ErrInvalidRequest, returnDate.Format(time.DateOnly), rec.IssueDate.Format(time.DateOnly))
		}

		fine := fines.Compute(rec.DueDate, returnDate, s.policy.DailyRate)
		if err := tx.CloseIssue(ctx, issueID, returnDate, fine); err != nil {
			return err
		}

		updated, err := catalog.AdjustAvailability(ctx, tx, rec.CopyID, 1)
		if err != nil {
			return err
		}
		if updated.Status == catalog.StatusIssued && updated.Available > 0 {
			if err := tx.SetCopyStatus(ctx, updated.ID, catalog.StatusPresent); err != nil {
				return fmt.Errorf("failed to mark copy present: %w", err)
			}
		}

		event, err := journal.NewEvent(rec.ID, journal.AggregateIssue, journal.BookReturned, BookReturnedEvent{
			IssueID:    rec.ID,
			CopyID:     rec.CopyID,
			ReturnDate: returnDate,
			Fine:       fine,
		}, returnDate)
		if err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, event); err != nil {
			return err
		}

		rec.ReturnDate = &returnDate
		rec.FineAccrued = &fine
		return nil
	})
	if err != nil {
		if errors.Is(err, catalog.ErrInvariantViolation) {
			s.logger.Error("return rejected by catalog invariant",
				zap.String("issue_id", issueID.String()),
				zap.Error(err),
			)
		}
		return nil, s.reject(ctx, span, "return", err)
	}

	s.returns.Add(ctx, 1)
	s.logger.Info("copy returned",
		zap.String("issue_id", rec.ID.String()),
		zap.String("accession", rec.BookAccession),
		zap.String("fine", rec.FineAccrued.String()),
	)
	return rec, nil
}

// storableDate reports whether t's year fits the four-digit range every
// store and the JSON codec accept.
func storableDate(t time.Time) bool {
	return t.Year() >= 1 && t.Year() <= 9999
}

// GetIssue retrieves one issue record.
func (s *service) GetIssue(ctx context.Context, issueID uuid.UUID) (*IssueRecord, error) {
	var rec *IssueRecord
	err := s.store.View(ctx, func(tx Tx) error {
		var err error
		rec, err = tx.GetIssue(ctx, issueID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ActiveIssues pages through open records lazily. Values depend only on the
// store contents and now.
func (s *service) ActiveIssues(ctx context.Context, now time.Time) iter.Seq2[ActiveIssue, error] {
	return func(yield func(ActiveIssue, error) bool) {
		after := uuid.Nil
		for {
			page, err := s.store.OpenIssues(ctx, after, s.pageSize)
			if err != nil {
				yield(ActiveIssue{}, fmt.Errorf("failed to list open issues: %w", err))
				return
			}

			for _, open := range page {
				if !yield(s.annotate(open, now), nil) {
					return
				}
			}

			if len(page) < s.pageSize {
				return
			}
			after = page[len(page)-1].Record.ID
		}
	}
}

func (s *service) annotate(open OpenIssue, now time.Time) ActiveIssue {
	return ActiveIssue{
		IssueRecord: open.Record,
		Title:       open.Title,
		Author:      open.Author,
		DaysOverdue: fines.OverdueDays(open.Record.DueDate, now),
		CurrentFine: fines.Compute(open.Record.DueDate, now, s.policy.DailyRate),
	}
}

func (s *service) reject(ctx context.Context, span trace.Span, op string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	s.rejections.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("reason", reason(err)),
	))
	s.logger.Debug("circulation request rejected", zap.String("operation", op), zap.Error(err))
	return err
}

func reason(err error) string {
	switch {
	case errors.Is(err, ErrNotAvailable):
		return "not_available"
	case errors.Is(err, ErrAlreadyIssued):
		return "already_issued"
	case errors.Is(err, ErrAlreadyReturned):
		return "already_returned"
	case errors.Is(err, ErrNotFound), errors.Is(err, catalog.ErrNotFound):
		return "not_found"
	case errors.Is(err, catalog.ErrInvariantViolation):
		return "invariant_violation"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	default:
		return "other"
	}
}

func validateIssue(req IssueRequest) error {
	if req.AccessionNumber == "" {
		return fmt.Errorf("%w: accession number is required", ErrInvalidRequest)
	}
	if !req.BorrowerType.Valid() {
		return fmt.Errorf("%w: borrower type %q", ErrInvalidRequest, req.BorrowerType)
	}
	if strings.TrimSpace(req.BorrowerID) == "" {
		return fmt.Errorf("%w: borrower id is required", ErrInvalidRequest)
	}
	return nil
}
