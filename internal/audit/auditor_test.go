package audit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
	"golang.org/x/time/rate"

	"libraledger/internal/catalog"
)

type sliceSource struct {
	copies []*catalog.BookCopy
	err    error
}

func (s *sliceSource) ScanCopies(ctx context.Context, fn func(*catalog.BookCopy) error) error {
	if s.err != nil {
		return s.err
	}
	for _, c := range s.copies {
		if err := fn(c); err != nil {
			return err
		}
	}
	return nil
}

func row(accession, series string) *catalog.BookCopy {
	return &catalog.BookCopy{
		ID:              uuid.New(),
		AccessionNumber: accession,
		SeriesCode:      series,
		Title:           "Title " + accession,
		TotalQuantity:   1,
		Available:       1,
		Status:          catalog.StatusPresent,
	}
}

var auditTime = time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC)

func newTestAuditor(t *testing.T, src Source, options ...Option) *Auditor {
	options = append([]Option{
		WithLogger(zaptest.NewLogger(t)),
		WithClock(func() time.Time { return auditTime }),
	}, options...)
	return NewAuditor(src, options...)
}

func TestSameSeriesAndCrossSeries(t *testing.T) {
	a1, a2, b := row("100", "A"), row("100", "A"), row("100", "B")
	src := &sliceSource{copies: []*catalog.BookCopy{a1, a2, row("101", "A")}}

	r, err := newTestAuditor(t, src).GenerateReport(context.Background())
	require.NoError(t, err)
	require.Len(t, r.DuplicatesInSameSeries, 1)
	assert.Equal(t, "A", r.DuplicatesInSameSeries[0].SeriesCode)
	assert.Equal(t, "100", r.DuplicatesInSameSeries[0].AccessionNumber)
	assert.Equal(t, 2, r.DuplicatesInSameSeries[0].Count)
	assert.ElementsMatch(t, []uuid.UUID{a1.ID, a2.ID}, r.DuplicatesInSameSeries[0].CopyIDs)
	assert.Empty(t, r.AccnoAcrossSeries)

	src.copies = append(src.copies, b)
	r, err = newTestAuditor(t, src).GenerateReport(context.Background())
	require.NoError(t, err)
	require.Len(t, r.DuplicatesInSameSeries, 1)
	require.Len(t, r.AccnoAcrossSeries, 1)
	assert.Equal(t, SeriesCollision{AccessionNumber: "100", SeriesCount: 2, Series: []string{"A", "B"}}, r.AccnoAcrossSeries[0])
	assert.Equal(t, auditTime, r.GeneratedAt)
}

func TestMissingSeriesCodeSampleIsCapped(t *testing.T) {
	var copies []*catalog.BookCopy
	for i := range 50 {
		copies = append(copies, row(fmt.Sprintf("M%03d", i), ""))
	}
	copies = append(copies, row("1", "A"))

	r, err := newTestAuditor(t, &sliceSource{copies: copies}, WithSampleSize(5)).GenerateReport(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 50, r.MissingSeriesCode.Count)
	require.Len(t, r.MissingSeriesCode.Examples, 5)
	assert.Equal(t, "M000", r.MissingSeriesCode.Examples[0].AccessionNumber)
	assert.Equal(t, "M004", r.MissingSeriesCode.Examples[4].AccessionNumber)
	assert.Empty(t, r.AccnoAcrossSeries)
}

func TestMissingSeriesNotCountedAcrossSeries(t *testing.T) {
	src := &sliceSource{copies: []*catalog.BookCopy{row("7", ""), row("7", "A")}}

	r, err := newTestAuditor(t, src).GenerateReport(context.Background())
	require.NoError(t, err)
	assert.Empty(t, r.AccnoAcrossSeries)
	assert.Empty(t, r.DuplicatesInSameSeries)
	assert.Equal(t, 1, r.MissingSeriesCode.Count)
}

func TestCleanCatalog(t *testing.T) {
	src := &sliceSource{copies: []*catalog.BookCopy{row("1", "A"), row("2", "A")}}

	r, err := newTestAuditor(t, src).GenerateReport(context.Background())
	require.NoError(t, err)
	assert.Zero(t, r.Anomalies())

	data, err := json.Marshal(r)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"generatedAt": "2025-02-01T12:00:00Z",
		"duplicatesInSameSeries": [],
		"accnoAcrossSeries": [],
		"missingSeriesCode": {"count": 0, "examples": []}
	}`, string(data))
}

func TestScanFailure(t *testing.T) {
	boom := errors.New("store offline")

	_, err := newTestAuditor(t, &sliceSource{err: boom}).GenerateReport(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestFingerprintIgnoresGenerationTime(t *testing.T) {
	src := &sliceSource{copies: []*catalog.BookCopy{row("1", "A"), row("1", "B")}}
	a := newTestAuditor(t, src)

	r1, err := a.GenerateReport(context.Background())
	require.NoError(t, err)
	r2, err := a.GenerateReport(context.Background())
	require.NoError(t, err)
	r2.GeneratedAt = r2.GeneratedAt.Add(time.Hour)

	f1, err := Fingerprint(r1)
	require.NoError(t, err)
	f2, err := Fingerprint(r2)
	require.NoError(t, err)
	assert.Equal(t, f1, f2)

	src.copies = append(src.copies, row("2", ""))
	r3, err := a.GenerateReport(context.Background())
	require.NoError(t, err)
	f3, err := Fingerprint(r3)
	require.NoError(t, err)
	assert.NotEqual(t, f1, f3)
}

func TestWriteAndReadReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports", "audit.json")
	src := &sliceSource{copies: []*catalog.BookCopy{row("1", "A"), row("1", "A")}}

	r, err := newTestAuditor(t, src).GenerateReport(context.Background())
	require.NoError(t, err)
	require.NoError(t, WriteReport(path, r))

	got, err := ReadReport(path)
	require.NoError(t, err)
	assert.Equal(t, r.DuplicatesInSameSeries, got.DuplicatesInSameSeries)
	assert.True(t, r.GeneratedAt.Equal(got.GeneratedAt))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestSchedulerWritesOnlyOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.json")
	src := &sliceSource{copies: []*catalog.BookCopy{row("1", "A")}}
	s := NewScheduler(newTestAuditor(t, src), path, zaptest.NewLogger(t))
	ctx := context.Background()

	wrote, err := s.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, wrote)

	wrote, err = s.RunOnce(ctx)
	require.NoError(t, err)
	assert.False(t, wrote)

	src.copies = append(src.copies, row("1", "A"))
	wrote, err = s.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, wrote)

	got, err := ReadReport(path)
	require.NoError(t, err)
	assert.Len(t, got.DuplicatesInSameSeries, 1)
	assert.Len(t, s.Latest().DuplicatesInSameSeries, 1)
}

func TestSchedulerRunStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	path := filepath.Join(t.TempDir(), "audit.json")
	s := NewScheduler(newTestAuditor(t, &sliceSource{}), path, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, 10*time.Millisecond) }()

	require.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return err == nil
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestHandlerRateLimit(t *testing.T) {
	src := &sliceSource{copies: []*catalog.BookCopy{row("1", "A"), row("1", "B")}}
	h := NewHandler(newTestAuditor(t, src), rate.NewLimiter(rate.Every(time.Hour), 1), nil)

	rec := httptest.NewRecorder()
	h.HandleReport(rec, httptest.NewRequest(http.MethodGet, "/audit/report", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var r Report
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&r))
	require.Len(t, r.AccnoAcrossSeries, 1)
	assert.Equal(t, 2, r.AccnoAcrossSeries[0].SeriesCount)

	rec = httptest.NewRecorder()
	h.HandleReport(rec, httptest.NewRequest(http.MethodGet, "/audit/report", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestHandlerServesLatestWhenLimited(t *testing.T) {
	src := &sliceSource{copies: []*catalog.BookCopy{row("1", "A"), row("1", "A")}}
	auditor := newTestAuditor(t, src)
	s := NewScheduler(auditor, filepath.Join(t.TempDir(), "audit.json"), zaptest.NewLogger(t))
	h := NewHandler(auditor, rate.NewLimiter(rate.Every(time.Hour), 1), s)

	rec := httptest.NewRecorder()
	h.HandleReport(rec, httptest.NewRequest(http.MethodGet, "/audit/report", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("X-Audit-Cached"))

	// Nothing generated in the background yet.
	rec = httptest.NewRecorder()
	h.HandleReport(rec, httptest.NewRequest(http.MethodGet, "/audit/report", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	_, err := s.RunOnce(context.Background())
	require.NoError(t, err)

	rec = httptest.NewRecorder()
	h.HandleReport(rec, httptest.NewRequest(http.MethodGet, "/audit/report", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "true", rec.Header().Get("X-Audit-Cached"))

	var r Report
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&r))
	require.Len(t, r.DuplicatesInSameSeries, 1)
	assert.Equal(t, 2, r.DuplicatesInSameSeries[0].Count)
}
