package clients_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"libraledger/internal/catalog"
	"libraledger/internal/circulation"
	"libraledger/internal/clients"
	"libraledger/internal/store/boltstore"
)

func newServer(t *testing.T) (*clients.CatalogClient, *clients.CirculationClient) {
	t.Helper()
	store, err := boltstore.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	logger := zaptest.NewLogger(t)
	catalogSvc := catalog.NewService(store.Catalog(), catalog.WithLogger(logger))
	ledger := circulation.NewService(store.Circulation(), circulation.WithLogger(logger))

	r := chi.NewRouter()
	r.Route("/catalog", catalog.NewHandler(catalogSvc).Routes)
	r.Route("/circulation", circulation.NewHandler(ledger).Routes)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return clients.NewCatalogClient(srv.URL+"/catalog", srv.Client()),
		clients.NewCirculationClient(srv.URL+"/circulation/", srv.Client())
}

func TestIssueAndReturnOverHTTP(t *testing.T) {
	cat, circ := newServer(t)
	ctx := context.Background()

	added, err := cat.AddCopies(ctx, catalog.AddCopiesRequest{
		AccessionNumber: "500",
		SeriesCode:      "A",
		Quantity:        1,
		Descriptive:     catalog.Descriptive{Title: "Dune", Author: "Frank Herbert"},
	})
	require.NoError(t, err)
	require.Len(t, added, 1)

	issued := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rec, err := circ.Issue(ctx, circulation.IssueRequest{
		AccessionNumber: "500",
		SeriesCode:      "A",
		BorrowerType:    circulation.BorrowerStudent,
		BorrowerID:      "S-1024",
		IssueDate:       issued,
	})
	require.NoError(t, err)
	assert.Equal(t, added[0].ID, rec.CopyID)

	_, err = circ.Issue(ctx, circulation.IssueRequest{
		AccessionNumber: "500",
		SeriesCode:      "A",
		BorrowerType:    circulation.BorrowerStudent,
		BorrowerID:      "S-2048",
		IssueDate:       issued,
	})
	assert.True(t, clients.IsStatus(err, http.StatusConflict), "got %v", err)

	copyState, err := cat.GetCopy(ctx, "500", "A")
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusIssued, copyState.Status)
	assert.Equal(t, 0, copyState.Available)

	active, err := circ.ActiveIssues(ctx, issued.AddDate(0, 0, 19))
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, 4, active[0].DaysOverdue)
	assert.Equal(t, "Dune", active[0].Title)

	closed, err := circ.Return(ctx, rec.ID, issued.AddDate(0, 0, 19))
	require.NoError(t, err)
	require.NotNil(t, closed.FineAccrued)
	assert.True(t, decimal.NewFromInt(4).Equal(*closed.FineAccrued))

	got, err := circ.GetIssue(ctx, rec.ID)
	require.NoError(t, err)
	assert.False(t, got.Open())

	_, err = circ.Return(ctx, rec.ID, time.Time{})
	assert.True(t, clients.IsStatus(err, http.StatusConflict), "got %v", err)
}

func TestClientErrors(t *testing.T) {
	cat, circ := newServer(t)
	ctx := context.Background()

	_, err := cat.GetCopy(ctx, "404", "")
	assert.True(t, clients.IsStatus(err, http.StatusNotFound), "got %v", err)

	_, err = circ.GetIssue(ctx, uuid.New())
	assert.True(t, clients.IsStatus(err, http.StatusNotFound), "got %v", err)

	_, err = cat.AddCopies(ctx, catalog.AddCopiesRequest{SeriesCode: "A", Quantity: 0})
	var se *clients.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadRequest, se.Code)
	assert.NotEmpty(t, se.Message)

	_, err = cat.AddCopies(ctx, catalog.AddCopiesRequest{
		AccessionNumber: "7",
		Quantity:        1,
		Descriptive:     catalog.Descriptive{Title: "Emma", Author: "Jane Austen"},
	})
	require.NoError(t, err)

	lost, err := cat.SetStatus(ctx, "7", "", catalog.StatusLost)
	require.NoError(t, err)
	assert.Equal(t, catalog.StatusLost, lost.Status)
}
