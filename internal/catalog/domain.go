// internal/catalog/domain.go
package catalog

import (
	"time"

	"github.com/google/uuid"
)

// Status is the shelf state of a catalog row.
type Status string

const (
	StatusPresent   Status = "PRESENT"
	StatusIssued    Status = "ISSUED"
	StatusLost      Status = "LOST"
	StatusWithdrawn Status = "WITHDRAWN"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPresent, StatusIssued, StatusLost, StatusWithdrawn:
		return true
	}
	return false
}

// BookCopy is one circulation unit keyed by accession number within a series.
// Available + Issued always equals TotalQuantity.
type BookCopy struct {
	ID              uuid.UUID `json:"id" db:"id"`
	AccessionNumber string    `json:"accession_number" db:"accession_number"`
	SeriesCode      string    `json:"series_code" db:"series_code"`
	Title           string    `json:"title" db:"title"`
	Author          string    `json:"author" db:"author"`
	Publisher       string    `json:"publisher,omitempty" db:"publisher"`
	Year            int       `json:"year,omitempty" db:"year"`
	Pages           int       `json:"pages,omitempty" db:"pages"`
	TotalQuantity   int       `json:"total_quantity" db:"total_quantity"`
	Available       int       `json:"available" db:"available"`
	Issued          int       `json:"issued" db:"issued"`
	Status          Status    `json:"status" db:"status"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// Balanced reports whether the availability counters are consistent.
func (c *BookCopy) Balanced() bool {
	return c.Available >= 0 && c.Issued >= 0 && c.Available+c.Issued == c.TotalQuantity
}

// Descriptive holds the non-authoritative bibliographic fields of a copy.
type Descriptive struct {
	Title     string `json:"title"`
	Author    string `json:"author"`
	Publisher string `json:"publisher,omitempty"`
	Year      int    `json:"year,omitempty"`
	Pages     int    `json:"pages,omitempty"`
}

// AddCopiesRequest describes a catalog entry to add. An empty AccessionNumber
// asks the store to allocate accession numbers from the series counter.
type AddCopiesRequest struct {
	AccessionNumber string `json:"accession_number"`
	SeriesCode      string `json:"series_code"`
	Quantity        int    `json:"quantity"`
	Descriptive
}

// CopyAddedEvent is journaled for every row created by AddCopies.
type CopyAddedEvent struct {
	ID              uuid.UUID `json:"id"`
	AccessionNumber string    `json:"accession_number"`
	SeriesCode      string    `json:"series_code"`
	Title           string    `json:"title"`
}

// CopyImportedEvent is journaled for every legacy row loaded by Import.
type CopyImportedEvent struct {
	ID              uuid.UUID `json:"id"`
	AccessionNumber string    `json:"accession_number"`
	SeriesCode      string    `json:"series_code"`
	TotalQuantity   int       `json:"total_quantity"`
}

// CopyStatusChangedEvent is journaled on every status transition.
type CopyStatusChangedEvent struct {
	ID   uuid.UUID `json:"id"`
	From Status    `json:"from"`
	To   Status    `json:"to"`
}
