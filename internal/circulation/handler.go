// internal/circulation/handler.go
package circulation

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"libraledger/internal/catalog"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Handler struct {
	service Service
	now     func() time.Time
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service, now: time.Now}
}

// Routes mounts the circulation endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/issue", h.HandleIssue)
	r.Post("/return", h.HandleReturn)
	r.Get("/active", h.HandleActiveIssues)
	r.Get("/issues/{id}", h.HandleGetIssue)
}

func (h *Handler) HandleIssue(w http.ResponseWriter, r *http.Request) {
	var req IssueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	rec, err := h.service.Issue(r.Context(), req)
	if err != nil {
		http.Error(w, err.Error(), StatusCode(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(rec)
}

func (h *Handler) HandleReturn(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IssueRecordID uuid.UUID `json:"issue_record_id"`
		ReturnDate    time.Time `json:"return_date"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	rec, err := h.service.Return(r.Context(), req.IssueRecordID, req.ReturnDate)
	if err != nil {
		http.Error(w, err.Error(), StatusCode(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rec)
}

// HandleActiveIssues serves the open records as of ?at=<RFC 3339>, or now.
func (h *Handler) HandleActiveIssues(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	if v := r.URL.Query().Get("at"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			http.Error(w, "invalid at timestamp", http.StatusBadRequest)
			return
		}
		now = parsed
	}

	active := []ActiveIssue{}
	for issue, err := range h.service.ActiveIssues(r.Context(), now) {
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		active = append(active, issue)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(active)
}

func (h *Handler) HandleGetIssue(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid issue ID", http.StatusBadRequest)
		return
	}

	rec, err := h.service.GetIssue(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), StatusCode(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rec)
}

// StatusCode maps ledger and catalog errors to HTTP status codes.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotAvailable),
		errors.Is(err, ErrAlreadyIssued),
		errors.Is(err, ErrAlreadyReturned):
		return http.StatusConflict
	default:
		return catalog.StatusCode(err)
	}
}
