// internal/catalog/implementation.go
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"libraledger/internal/journal"
)

// maxAllocationDraws bounds how many counter values may be drawn per
// requested copy before allocation gives up.
const maxAllocationDraws = 5

// service implements the Service interface.
type service struct {
	store          Store
	logger         *zap.Logger
	tracer         trace.Tracer
	now            func() time.Time
	accessionWidth int
}

// Option configures the catalog service.
type Option func(*service)

// WithLogger sets the service logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock replaces the wall clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithAccessionWidth sets the zero-padding width of allocated accession numbers.
func WithAccessionWidth(width int) Option {
	return func(s *service) {
		if width > 0 {
			s.accessionWidth = width
		}
	}
}

// NewService creates a new catalog service instance.
func NewService(store Store, options ...Option) Service {
	s := &service{
		store:          store,
		logger:         zap.NewNop(),
		tracer:         otel.Tracer("libraledger/catalog"),
		now:            time.Now,
		accessionWidth: 1,
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// AddCopies creates one catalog row per physical copy. Either every row is
// created or none is.
func (s *service) AddCopies(ctx context.Context, req AddCopiesRequest) ([]*BookCopy, error) {
	ctx, span := s.tracer.Start(ctx, "catalog.add_copies",
		trace.WithAttributes(
			attribute.String("accession.base", req.AccessionNumber),
			attribute.String("series.code", req.SeriesCode),
			attribute.Int("quantity", req.Quantity),
		),
	)
	defer span.End()

	if err := validateAddRequest(req); err != nil {
		return nil, err
	}
	if req.SeriesCode == "" {
		s.logger.Warn("adding copies without a series code", zap.String("accession", req.AccessionNumber))
	}

	now := s.now().UTC()
	var created []*BookCopy
	err := s.store.Update(ctx, func(tx Tx) error {
		created = created[:0]

		if err := tx.LockSeries(ctx, req.SeriesCode); err != nil {
			return err
		}

		accessions, err := s.accessionsFor(ctx, tx, req)
		if err != nil {
			return err
		}

		for _, accession := range accessions {
			c := &BookCopy{
				ID:              uuid.New(),
				AccessionNumber: accession,
				SeriesCode:      req.SeriesCode,
				Title:           req.Title,
				Author:          req.Author,
				Publisher:       req.Publisher,
				Year:            req.Year,
				Pages:           req.Pages,
				TotalQuantity:   1,
				Available:       1,
				Issued:          0,
				Status:          StatusPresent,
				CreatedAt:       now,
				UpdatedAt:       now,
			}
			if err := tx.InsertCopy(ctx, c); err != nil {
				return fmt.Errorf("failed to insert copy %s: %w", accession, err)
			}

			event, err := journal.NewEvent(c.ID, journal.AggregateCopy, journal.CopyAdded, CopyAddedEvent{
				ID:              c.ID,
				AccessionNumber: c.AccessionNumber,
				SeriesCode:      c.SeriesCode,
				Title:           c.Title,
			}, now)
			if err != nil {
				return err
			}
			if err := tx.AppendEvent(ctx, event); err != nil {
				return fmt.Errorf("failed to append event: %w", err)
			}

			created = append(created, c)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	s.logger.Info("copies added",
		zap.String("series", req.SeriesCode),
		zap.String("first_accession", created[0].AccessionNumber),
		zap.Int("count", len(created)),
	)
	return created, nil
}

// accessionsFor returns the accession numbers the request will occupy,
// failing if any of them is already taken in the series.
func (s *service) accessionsFor(ctx context.Context, tx Tx, req AddCopiesRequest) ([]string, error) {
	if req.AccessionNumber == "" {
		return s.allocateAccessions(ctx, tx, req.SeriesCode, req.Quantity)
	}

	accessions, err := DeriveAccessions(req.AccessionNumber, req.Quantity)
	if err != nil {
		return nil, err
	}

	var taken []string
	for _, accession := range accessions {
		inUse, err := accessionInUse(ctx, tx, accession, req.SeriesCode)
		if err != nil {
			return nil, err
		}
		if inUse {
			taken = append(taken, accession)
		}
	}
	if len(taken) > 0 {
		return nil, fmt.Errorf("%w: series %q: %s", ErrDuplicateAccession, req.SeriesCode, strings.Join(taken, ", "))
	}

	return accessions, nil
}

// allocateAccessions draws quantity unused accession numbers from the series
// counter. Values already present in the series are skipped.
func (s *service) allocateAccessions(ctx context.Context, tx Tx, seriesCode string, quantity int) ([]string, error) {
	out := make([]string, 0, quantity)
	for len(out) < quantity {
		var allocated bool
		for draw := 0; draw < maxAllocationDraws; draw++ {
			n, err := tx.NextAccession(ctx, seriesCode)
			if err != nil {
				return nil, fmt.Errorf("failed to draw accession number: %w", err)
			}
			accession := FormatAccession(n, s.accessionWidth)

			inUse, err := accessionInUse(ctx, tx, accession, seriesCode)
			if err != nil {
				return nil, err
			}
			if inUse {
				s.logger.Debug("allocated accession already in use",
					zap.String("series", seriesCode), zap.String("accession", accession))
				continue
			}

			out = append(out, accession)
			allocated = true
			break
		}
		if !allocated {
			return nil, fmt.Errorf("%w: series %q after %d draws", ErrResourceExhausted, seriesCode, maxAllocationDraws)
		}
	}
	return out, nil
}

func accessionInUse(ctx context.Context, tx Tx, accession, seriesCode string) (bool, error) {
	found, err := tx.FindCopies(ctx, accession)
	if err != nil {
		return false, fmt.Errorf("failed to look up accession %s: %w", accession, err)
	}
	return len(InSeries(found, seriesCode)) > 0, nil
}

// FindByAccession retrieves a catalog row by accession number. An empty
// seriesCode matches any series.
func (s *service) FindByAccession(ctx context.Context, accessionNumber, seriesCode string) (*BookCopy, error) {
	var found *BookCopy
	err := s.store.View(ctx, func(tx Tx) error {
		c, err := Lookup(ctx, tx, accessionNumber, seriesCode)
		if err != nil {
			return err
		}
		found = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// AdjustAvailability moves delta units between issued and available.
func (s *service) AdjustAvailability(ctx context.Context, accessionNumber, seriesCode string, delta int) (*BookCopy, error) {
	var updated *BookCopy
	err := s.store.Update(ctx, func(tx Tx) error {
		c, err := Lookup(ctx, tx, accessionNumber, seriesCode)
		if err != nil {
			return err
		}
		updated, err = AdjustAvailability(ctx, tx, c.ID, delta)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrInvariantViolation) {
			s.logger.Error("availability adjustment rejected",
				zap.String("accession", accessionNumber),
				zap.String("series", seriesCode),
				zap.Int("delta", delta),
				zap.Error(err),
			)
		}
		return nil, err
	}
	return updated, nil
}

// SetStatus moves a row between PRESENT, LOST and WITHDRAWN. ISSUED is
// owned by circulation and cannot be set here.
func (s *service) SetStatus(ctx context.Context, accessionNumber, seriesCode string, status Status) (*BookCopy, error) {
	if !status.Valid() || status == StatusIssued {
		return nil, fmt.Errorf("%w: status %q cannot be set directly", ErrInvalidRequest, status)
	}

	now := s.now().UTC()
	var updated *BookCopy
	err := s.store.Update(ctx, func(tx Tx) error {
		c, err := Lookup(ctx, tx, accessionNumber, seriesCode)
		if err != nil {
			return err
		}
		if c.Status == status {
			updated = c
			return nil
		}
		if err := checkTransition(c, status); err != nil {
			return err
		}

		if err := tx.SetCopyStatus(ctx, c.ID, status); err != nil {
			return fmt.Errorf("failed to set status: %w", err)
		}

		event, err := journal.NewEvent(c.ID, journal.AggregateCopy, journal.CopyStatusChanged, CopyStatusChangedEvent{
			ID:   c.ID,
			From: c.Status,
			To:   status,
		}, now)
		if err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, event); err != nil {
			return fmt.Errorf("failed to append event: %w", err)
		}

		c.Status = status
		c.UpdatedAt = now
		updated = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func checkTransition(c *BookCopy, to Status) error {
	switch to {
	case StatusLost, StatusWithdrawn:
		if c.Issued != 0 {
			return fmt.Errorf("%w: %s has %d copies on loan", ErrStatusConflict, c.AccessionNumber, c.Issued)
		}
	case StatusPresent:
		if c.Available == 0 {
			return fmt.Errorf("%w: %s has no copy on the shelf", ErrStatusConflict, c.AccessionNumber)
		}
	}
	return nil
}

// Import loads legacy rows as they are. Only field-level invariants are
// checked; accession uniqueness is left to the integrity auditor.
func (s *service) Import(ctx context.Context, copies []BookCopy) (int, error) {
	now := s.now().UTC()
	rows := make([]*BookCopy, 0, len(copies))
	for i := range copies {
		c := copies[i]
		if err := normalizeImported(&c, now); err != nil {
			return 0, fmt.Errorf("row %d: %w", i, err)
		}
		rows = append(rows, &c)
	}

	err := s.store.Update(ctx, func(tx Tx) error {
		for _, c := range rows {
			if err := tx.InsertCopy(ctx, c); err != nil {
				return fmt.Errorf("failed to insert copy %s: %w", c.AccessionNumber, err)
			}
			event, err := journal.NewEvent(c.ID, journal.AggregateCopy, journal.CopyImported, CopyImportedEvent{
				ID:              c.ID,
				AccessionNumber: c.AccessionNumber,
				SeriesCode:      c.SeriesCode,
				TotalQuantity:   c.TotalQuantity,
			}, now)
			if err != nil {
				return err
			}
			if err := tx.AppendEvent(ctx, event); err != nil {
				return fmt.Errorf("failed to append event: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.logger.Info("catalog rows imported", zap.Int("count", len(rows)))
	return len(rows), nil
}

func normalizeImported(c *BookCopy, now time.Time) error {
	if c.AccessionNumber == "" || !validKeyPart(c.AccessionNumber) || !validKeyPart(c.SeriesCode) {
		return fmt.Errorf("%w: malformed accession %q / series %q", ErrInvalidRequest, c.AccessionNumber, c.SeriesCode)
	}
	if c.TotalQuantity < 1 {
		return fmt.Errorf("%w: total quantity %d", ErrInvalidRequest, c.TotalQuantity)
	}
	if !c.Balanced() {
		return fmt.Errorf("%w: available=%d issued=%d total=%d", ErrInvalidRequest, c.Available, c.Issued, c.TotalQuantity)
	}
	if c.Status == "" {
		c.Status = StatusPresent
		if c.Available == 0 {
			c.Status = StatusIssued
		}
	}
	if !c.Status.Valid() {
		return fmt.Errorf("%w: status %q", ErrInvalidRequest, c.Status)
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	return nil
}

func validateAddRequest(req AddCopiesRequest) error {
	if err := checkQuantity(req.Quantity); err != nil {
		return err
	}
	if !validKeyPart(req.AccessionNumber) || !validKeyPart(req.SeriesCode) {
		return fmt.Errorf("%w: accession and series must not contain surrounding spaces or NUL", ErrInvalidRequest)
	}
	if strings.TrimSpace(req.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidRequest)
	}
	if req.Year < 0 || req.Pages < 0 {
		return fmt.Errorf("%w: year and pages must not be negative", ErrInvalidRequest)
	}
	return nil
}
