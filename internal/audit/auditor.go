// Package audit scans the catalog for accession-number anomalies: duplicate
// rows within a series, accession numbers reused across series, and rows
// without a series code. The auditor only reads; anomalies are reported as
// data, and the only failure is an unreadable catalog.
package audit

import (
	"cmp"
	"context"
	"fmt"
	"slices"
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
)

// DefaultSampleSize caps the missing-series examples in a report.
const DefaultSampleSize = 20

type Auditor struct {
	source     Source
	sampleSize int
	logger     *zap.Logger
	tracer     trace.Tracer
	now        func() time.Time
	anomalies  metric.Int64Counter
}

// Option configures an Auditor.
type Option func(*Auditor)

func WithSampleSize(n int) Option {
	return func(a *Auditor) {
		if n > 0 {
			a.sampleSize = n
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(a *Auditor) {
		if logger != nil {
			a.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(a *Auditor) {
		if now != nil {
			a.now = now
		}
	}
}

func NewAuditor(source Source, options ...Option) *Auditor {
	a := &Auditor{
		source:     source,
		sampleSize: DefaultSampleSize,
		logger:     zap.NewNop(),
		tracer:     otel.Tracer("libraledger/audit"),
		now:        time.Now,
	}
	for _, option := range options {
		option(a)
	}

	c, err := otel.Meter("libraledger/audit").Int64Counter("audit.anomalies",
		metric.WithDescription("Catalog anomalies found by the integrity audit"))
	if err != nil {
		c = noop.Int64Counter{}
	}
	a.anomalies = c
	return a
}

type seriesKey struct {
	series    string
	accession string
}

// scan accumulates findings over one pass of the catalog.
type scan struct {
	sampleSize int
	groups     map[seriesKey][]uuid.UUID
	series     map[string]map[string]struct{}
	missing    int
	samples    []MissingSample
}

func (s *scan) add(c *catalog.BookCopy) {
	key := seriesKey{series: c.SeriesCode, accession: c.AccessionNumber}
	s.groups[key] = append(s.groups[key], c.ID)

	if c.SeriesCode == "" {
		s.missing++
		s.samples = append(s.samples, MissingSample{ID: c.ID, AccessionNumber: c.AccessionNumber, Title: c.Title})
		if len(s.samples) > 2*s.sampleSize {
			s.trimSamples()
		}
		return
	}

	seen, ok := s.series[c.AccessionNumber]
	if !ok {
		seen = make(map[string]struct{}, 1)
		s.series[c.AccessionNumber] = seen
	}
	seen[c.SeriesCode] = struct{}{}
}

// trimSamples keeps the sampleSize smallest samples by accession and id, so
// the sample does not depend on scan order.
func (s *scan) trimSamples() {
	slices.SortFunc(s.samples, func(a, b MissingSample) int {
		return cmp.Or(
			cmp.Compare(a.AccessionNumber, b.AccessionNumber),
			slices.Compare(a.ID[:], b.ID[:]),
		)
	})
	if len(s.samples) > s.sampleSize {
		s.samples = s.samples[:s.sampleSize]
	}
}

func (s *scan) report(at time.Time) *Report {
	r := &Report{
		GeneratedAt:            at,
		DuplicatesInSameSeries: []DuplicateGroup{},
		AccnoAcrossSeries:      []SeriesCollision{},
	}

	for key, ids := range s.groups {
		if len(ids) < 2 {
			continue
		}
		slices.SortFunc(ids, func(a, b uuid.UUID) int { return slices.Compare(a[:], b[:]) })
		r.DuplicatesInSameSeries = append(r.DuplicatesInSameSeries, DuplicateGroup{
			SeriesCode:      key.series,
			AccessionNumber: key.accession,
			Count:           len(ids),
			CopyIDs:         ids,
		})
	}
	slices.SortFunc(r.DuplicatesInSameSeries, func(a, b DuplicateGroup) int {
		return cmp.Or(cmp.Compare(a.SeriesCode, b.SeriesCode), cmp.Compare(a.AccessionNumber, b.AccessionNumber))
	})

	for accession, seen := range s.series {
		if len(seen) < 2 {
			continue
		}
		seriesCodes := make([]string, 0, len(seen))
		for code := range seen {
			seriesCodes = append(seriesCodes, code)
		}
		slices.Sort(seriesCodes)
		r.AccnoAcrossSeries = append(r.AccnoAcrossSeries, SeriesCollision{
			AccessionNumber: accession,
			SeriesCount:     len(seriesCodes),
			Series:          seriesCodes,
		})
	}
	slices.SortFunc(r.AccnoAcrossSeries, func(a, b SeriesCollision) int {
		return cmp.Compare(a.AccessionNumber, b.AccessionNumber)
	})

	s.trimSamples()
	r.MissingSeriesCode = MissingSeries{Count: s.missing, Examples: s.samples}
	if r.MissingSeriesCode.Examples == nil {
		r.MissingSeriesCode.Examples = []MissingSample{}
	}
	return r
}

// GenerateReport scans the whole catalog once and returns the findings.
// Rows changing during the scan may or may not be seen.
func (a *Auditor) GenerateReport(ctx context.Context) (*Report, error) {
	ctx, span := a.tracer.Start(ctx, "audit.generate_report")
	defer span.End()

	s := &scan{
		sampleSize: a.sampleSize,
		groups:     make(map[seriesKey][]uuid.UUID),
		series:     make(map[string]map[string]struct{}),
	}

	var rows int
	err := a.source.ScanCopies(ctx, func(c *catalog.BookCopy) error {
		rows++
		s.add(c)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to scan catalog: %w", err)
	}

	r := s.report(a.now().UTC())

	span.SetAttributes(
		attribute.Int("audit.rows", rows),
		attribute.Int("audit.anomalies", r.Anomalies()),
	)
	a.anomalies.Add(ctx, int64(len(r.DuplicatesInSameSeries)), metric.WithAttributes(attribute.String("kind", "same_series_duplicate")))
	a.anomalies.Add(ctx, int64(len(r.AccnoAcrossSeries)), metric.WithAttributes(attribute.String("kind", "cross_series_collision")))
	a.anomalies.Add(ctx, int64(r.MissingSeriesCode.Count), metric.WithAttributes(attribute.String("kind", "missing_series_code")))

	a.logger.Info("catalog audit complete",
		zap.Int("rows", rows),
		zap.Int("same_series_duplicates", len(r.DuplicatesInSameSeries)),
		zap.Int("cross_series_collisions", len(r.AccnoAcrossSeries)),
		zap.Int("missing_series_code", r.MissingSeriesCode.Count),
	)
	return r, nil
}
