package catalog

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// maxCopiesPerRequest bounds one AddCopies call, which runs in a single
// store transaction.
const maxCopiesPerRequest = 1000

// DeriveAccessions expands a base accession number into quantity accession
// numbers. A single copy keeps the base as is. A purely numeric base is
// incremented and zero-padded to the base's width; anything else gets the
// suffixes -1 through -quantity.
func DeriveAccessions(base string, quantity int) ([]string, error) {
	if err := checkQuantity(quantity); err != nil {
		return nil, err
	}
	if quantity == 1 {
		return []string{base}, nil
	}

	out := make([]string, 0, quantity)
	if n, ok := parseNumeric(base); ok {
		if n > math.MaxUint64-uint64(quantity-1) {
			return nil, fmt.Errorf("%w: accession %s + %d overflows", ErrInvalidRequest, base, quantity-1)
		}
		for i := 0; i < quantity; i++ {
			out = append(out, FormatAccession(n+uint64(i), len(base)))
		}
		return out, nil
	}

	for i := 1; i <= quantity; i++ {
		out = append(out, base+"-"+strconv.Itoa(i))
	}
	return out, nil
}

func checkQuantity(quantity int) error {
	if quantity < 1 || quantity > maxCopiesPerRequest {
		return fmt.Errorf("%w: quantity must be between 1 and %d, got %d", ErrInvalidRequest, maxCopiesPerRequest, quantity)
	}
	return nil
}

// FormatAccession renders n zero-padded to width digits. Numbers that need
// more digits than width are rendered in full.
func FormatAccession(n uint64, width int) string {
	return fmt.Sprintf("%0*d", width, n)
}

func parseNumeric(s string) (uint64, bool) {
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func validKeyPart(s string) bool {
	return !strings.ContainsRune(s, 0) && strings.TrimSpace(s) == s
}
