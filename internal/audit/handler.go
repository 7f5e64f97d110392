// internal/audit/handler.go
package audit

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"
)

// LatestSource supplies the most recent report generated elsewhere, such as
// by a Scheduler.
type LatestSource interface {
	Latest() *Report
}

type Handler struct {
	auditor *Auditor
	limiter *rate.Limiter
	latest  LatestSource
}

// NewHandler serves on-demand reports. Each report scans the whole catalog,
// so requests beyond limiter's budget get the latest report from latest
// instead, or 429 when latest is nil or has none yet.
func NewHandler(auditor *Auditor, limiter *rate.Limiter, latest LatestSource) *Handler {
	return &Handler{auditor: auditor, limiter: limiter, latest: latest}
}

// Routes mounts the audit endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/report", h.HandleReport)
}

func (h *Handler) HandleReport(w http.ResponseWriter, r *http.Request) {
	if !h.limiter.Allow() {
		if report := h.cached(); report != nil {
			w.Header().Set("X-Audit-Cached", "true")
			writeReport(w, report)
			return
		}
		w.Header().Set("Retry-After", "60")
		http.Error(w, "audit rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	report, err := h.auditor.GenerateReport(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeReport(w, report)
}

func (h *Handler) cached() *Report {
	if h.latest == nil {
		return nil
	}
	return h.latest.Latest()
}

func writeReport(w http.ResponseWriter, report *Report) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}
