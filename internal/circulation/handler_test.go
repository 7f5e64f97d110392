package circulation_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libraledger/internal/catalog"
	"libraledger/internal/circulation"
)

func newRouter(f *fixture) http.Handler {
	r := chi.NewRouter()
	r.Route("/catalog", catalog.NewHandler(f.catalog).Routes)
	r.Route("/circulation", circulation.NewHandler(f.ledger).Routes)
	return r
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHTTPIssueReturnFlow(t *testing.T) {
	f := setup(t, withRate(5))
	h := newRouter(f)

	rec := do(t, h, http.MethodPost, "/catalog/copies", map[string]any{
		"accession_number": "500",
		"series_code":      "A",
		"quantity":         2,
		"title":            "Dune",
		"author":           "Frank Herbert",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var added struct {
		AccessionNumbers []string `json:"accession_numbers"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&added))
	assert.Equal(t, []string{"500", "501"}, added.AccessionNumbers)

	rec = do(t, h, http.MethodPost, "/circulation/issue", map[string]any{
		"accession_number": "500",
		"series_code":      "A",
		"borrower_type":    "student",
		"borrower_id":      "S-1",
		"issue_date":       "2025-01-01T00:00:00Z",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var issued circulation.IssueRecord
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&issued))
	assert.Equal(t, date(2025, 1, 16), issued.DueDate.UTC())

	rec = do(t, h, http.MethodPost, "/circulation/issue", map[string]any{
		"accession_number": "500",
		"series_code":      "A",
		"borrower_type":    "student",
		"borrower_id":      "S-2",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodGet, "/circulation/active?at=2025-01-20T00:00:00Z", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var active []struct {
		ID          uuid.UUID       `json:"id"`
		Title       string          `json:"title"`
		DaysOverdue int             `json:"days_overdue"`
		CurrentFine decimal.Decimal `json:"current_fine"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&active))
	require.Len(t, active, 1)
	assert.Equal(t, issued.ID, active[0].ID)
	assert.Equal(t, "Dune", active[0].Title)
	assert.Equal(t, 4, active[0].DaysOverdue)
	assert.True(t, active[0].CurrentFine.Equal(decimal.NewFromInt(20)))

	rec = do(t, h, http.MethodPost, "/circulation/return", map[string]any{
		"issue_record_id": issued.ID,
		"return_date":     "2025-01-20T10:00:00Z",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var returned circulation.IssueRecord
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&returned))
	require.NotNil(t, returned.FineAccrued)
	assert.True(t, returned.FineAccrued.Equal(decimal.NewFromInt(20)))

	rec = do(t, h, http.MethodPost, "/circulation/return", map[string]any{
		"issue_record_id": issued.ID,
		"return_date":     "2025-01-21T00:00:00Z",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodGet, "/circulation/issues/"+issued.ID.String(), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/catalog/copies/500?series=A", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var c catalog.BookCopy
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&c))
	assert.Equal(t, 1, c.Available)
	assert.Equal(t, catalog.StatusPresent, c.Status)
}

func TestHTTPErrorCodes(t *testing.T) {
	f := setup(t)
	h := newRouter(f)
	f.addCopy(t, "100", "A")
	f.addCopy(t, "100", "B")

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{name: "unknown copy", method: http.MethodGet, path: "/catalog/copies/999", want: http.StatusNotFound},
		{name: "ambiguous copy", method: http.MethodGet, path: "/catalog/copies/100", want: http.StatusConflict},
		{name: "duplicate add", method: http.MethodPost, path: "/catalog/copies", want: http.StatusConflict,
			body: map[string]any{"accession_number": "100", "series_code": "A", "quantity": 1, "title": "X"}},
		{name: "zero quantity", method: http.MethodPost, path: "/catalog/copies", want: http.StatusBadRequest,
			body: map[string]any{"accession_number": "1", "series_code": "A", "quantity": 0, "title": "X"}},
		{name: "quantity over limit", method: http.MethodPost, path: "/catalog/copies", want: http.StatusBadRequest,
			body: map[string]any{"accession_number": "1", "series_code": "A", "quantity": 1 << 40, "title": "X"}},
		{name: "set issued", method: http.MethodPatch, path: "/catalog/copies/100/status", want: http.StatusBadRequest,
			body: map[string]any{"series_code": "A", "status": "ISSUED"}},
		{name: "bad issue id", method: http.MethodGet, path: "/circulation/issues/nope", want: http.StatusBadRequest},
		{name: "unknown issue", method: http.MethodGet, path: "/circulation/issues/" + uuid.NewString(), want: http.StatusNotFound},
		{name: "bad borrower", method: http.MethodPost, path: "/circulation/issue", want: http.StatusBadRequest,
			body: map[string]any{"accession_number": "100", "series_code": "A", "borrower_type": "guest", "borrower_id": "G"}},
		{name: "bad at", method: http.MethodGet, path: "/circulation/active?at=yesterday", want: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, circulation.StatusCode(circulation.ErrNotFound))
	assert.Equal(t, http.StatusConflict, circulation.StatusCode(circulation.ErrAlreadyIssued))
	assert.Equal(t, http.StatusNotFound, circulation.StatusCode(catalog.ErrNotFound))
	assert.Equal(t, http.StatusServiceUnavailable, circulation.StatusCode(catalog.ErrResourceExhausted))
	assert.Equal(t, http.StatusInternalServerError, circulation.StatusCode(context.DeadlineExceeded))
}
