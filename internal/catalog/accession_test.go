package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestDeriveAccessions(t *testing.T) {
	tests := []struct {
		name     string
		base     string
		quantity int
		want     []string
	}{
		{name: "single copy keeps base", base: "ABC", quantity: 1, want: []string{"ABC"}},
		{name: "numeric base", base: "500", quantity: 5, want: []string{"500", "501", "502", "503", "504"}},
		{name: "zero padded base", base: "0099", quantity: 3, want: []string{"0099", "0100", "0101"}},
		{name: "padding overflows width", base: "98", quantity: 3, want: []string{"98", "99", "100"}},
		{name: "non numeric base", base: "REF-7", quantity: 3, want: []string{"REF-7-1", "REF-7-2", "REF-7-3"}},
		{name: "mixed base", base: "12A", quantity: 2, want: []string{"12A-1", "12A-2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DeriveAccessions(tt.base, tt.quantity)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDeriveAccessionsRejectsBadQuantity(t *testing.T) {
	for _, quantity := range []int{0, -1, maxCopiesPerRequest + 1, 1 << 62} {
		_, err := DeriveAccessions("500", quantity)
		assert.ErrorIs(t, err, ErrInvalidRequest, "quantity %d", quantity)
	}

	got, err := DeriveAccessions("1", maxCopiesPerRequest)
	require.NoError(t, err)
	assert.Len(t, got, maxCopiesPerRequest)
}

func TestDeriveAccessionsOverflow(t *testing.T) {
	_, err := DeriveAccessions("18446744073709551615", 2)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = DeriveAccessions("18446744073709551614", 3)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	got, err := DeriveAccessions("18446744073709551614", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"18446744073709551614", "18446744073709551615"}, got)
}

func TestFormatAccession(t *testing.T) {
	assert.Equal(t, "7", FormatAccession(7, 1))
	assert.Equal(t, "00007", FormatAccession(7, 5))
	assert.Equal(t, "123456", FormatAccession(123456, 3))
}

func TestDeriveAccessionsDistinct(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		base := rapid.StringMatching(`[0-9A-Z]{1,6}`).Draw(t, "base")
		quantity := rapid.IntRange(1, 50).Draw(t, "quantity")

		got, err := DeriveAccessions(base, quantity)
		if err != nil {
			t.Fatalf("derive: %v", err)
		}
		if len(got) != quantity {
			t.Fatalf("got %d accessions, want %d", len(got), quantity)
		}
		if got[0] != base && quantity == 1 {
			t.Fatalf("single copy changed base %q to %q", base, got[0])
		}

		seen := make(map[string]bool, len(got))
		for _, a := range got {
			if seen[a] {
				t.Fatalf("duplicate accession %q in %v", a, got)
			}
			seen[a] = true
		}
	})
}
