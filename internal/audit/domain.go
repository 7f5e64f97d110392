// internal/audit/domain.go
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"libraledger/internal/catalog"
)

// Source is the read side of the catalog the auditor scans.
type Source interface {
	ScanCopies(ctx context.Context, fn func(*catalog.BookCopy) error) error
}

// Report is the integrity audit artifact.
type Report struct {
	GeneratedAt            time.Time         `json:"generatedAt"`
	DuplicatesInSameSeries []DuplicateGroup  `json:"duplicatesInSameSeries"`
	AccnoAcrossSeries      []SeriesCollision `json:"accnoAcrossSeries"`
	MissingSeriesCode      MissingSeries     `json:"missingSeriesCode"`
}

// DuplicateGroup is a set of catalog rows sharing one accession number in
// one series.
type DuplicateGroup struct {
	SeriesCode      string      `json:"seriesCode"`
	AccessionNumber string      `json:"accessionNumber"`
	Count           int         `json:"count"`
	CopyIDs         []uuid.UUID `json:"copyIds"`
}

// SeriesCollision is an accession number used in more than one series.
type SeriesCollision struct {
	AccessionNumber string   `json:"accessionNumber"`
	SeriesCount     int      `json:"seriesCount"`
	Series          []string `json:"series"`
}

// MissingSeries counts rows without a series code and keeps a bounded sample.
type MissingSeries struct {
	Count    int             `json:"count"`
	Examples []MissingSample `json:"examples"`
}

// MissingSample identifies one row without a series code.
type MissingSample struct {
	ID              uuid.UUID `json:"id"`
	AccessionNumber string    `json:"accessionNumber"`
	Title           string    `json:"title"`
}

// Anomalies returns the number of findings in the report.
func (r *Report) Anomalies() int {
	return len(r.DuplicatesInSameSeries) + len(r.AccnoAcrossSeries) + r.MissingSeriesCode.Count
}
