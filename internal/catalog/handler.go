// internal/catalog/handler.go
package catalog

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Routes mounts the catalog endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/copies", h.HandleAddCopies)
	r.Get("/copies/{accession}", h.HandleGetCopy)
	r.Patch("/copies/{accession}/status", h.HandleSetStatus)
}

func (h *Handler) HandleAddCopies(w http.ResponseWriter, r *http.Request) {
	var req AddCopiesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	copies, err := h.service.AddCopies(r.Context(), req)
	if err != nil {
		http.Error(w, err.Error(), StatusCode(err))
		return
	}

	accessions := make([]string, 0, len(copies))
	for _, c := range copies {
		accessions = append(accessions, c.AccessionNumber)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(struct {
		AccessionNumbers []string    `json:"accession_numbers"`
		Copies           []*BookCopy `json:"copies"`
	}{accessions, copies})
}

func (h *Handler) HandleGetCopy(w http.ResponseWriter, r *http.Request) {
	c, err := h.service.FindByAccession(r.Context(), chi.URLParam(r, "accession"), r.URL.Query().Get("series"))
	if err != nil {
		http.Error(w, err.Error(), StatusCode(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(c)
}

func (h *Handler) HandleSetStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SeriesCode string `json:"series_code"`
		Status     Status `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	c, err := h.service.SetStatus(r.Context(), chi.URLParam(r, "accession"), req.SeriesCode, req.Status)
	if err != nil {
		http.Error(w, err.Error(), StatusCode(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(c)
}

// StatusCode maps catalog errors to HTTP status codes.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrDuplicateAccession),
		errors.Is(err, ErrAmbiguousAccession),
		errors.Is(err, ErrStatusConflict):
		return http.StatusConflict
	case errors.Is(err, ErrResourceExhausted):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
