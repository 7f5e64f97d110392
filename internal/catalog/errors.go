package catalog

import "errors"

var (
	ErrNotFound           = errors.New("book copy not found")
	ErrDuplicateAccession = errors.New("accession number already exists in series")
	ErrAmbiguousAccession = errors.New("accession number exists in more than one catalog row")
	ErrInvariantViolation = errors.New("catalog invariant violation")
	ErrStatusConflict     = errors.New("status transition not allowed")
	ErrResourceExhausted  = errors.New("accession number allocation exhausted")
	ErrInvalidRequest     = errors.New("invalid catalog request")
)
