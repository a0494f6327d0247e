// Package transport provides HTTP handlers for the verification domain.
package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pendergraft/deployrecon/internal/validation"
	"github.com/pendergraft/deployrecon/internal/verification/domain"
)

// Service defines the verification service interface for HTTP transport.
type Service interface {
	ListAttempts(ctx context.Context, filter domain.AttemptFilter) ([]domain.Attempt, error)
}

// Handler handles HTTP requests for verification attempts.
type Handler struct {
	svc Service
}

// NewHandler creates a new verification HTTP handler.
func NewHandler(svc Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes registers the verification routes on a chi router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/verifications", h.handleList)
	r.Get("/verifications/{address}", h.handleListByAddress)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, r.URL.Query().Get("address"))
}

func (h *Handler) handleListByAddress(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, chi.URLParam(r, "address"))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request, address string) {
	filter := domain.AttemptFilter{
		Network: r.URL.Query().Get("network"),
		Address: address,
		Limit:   50,
	}
	if address != "" {
		if err := validation.ValidateAddress(address); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_ADDRESS", err.Error())
			return
		}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 || limit > 500 {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be between 1 and 500")
			return
		}
		filter.Limit = limit
	}

	attempts, err := h.svc.ListAttempts(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list verification attempts")
		return
	}

	resp := ListResponse{Data: make([]AttemptResponse, 0, len(attempts))}
	for _, a := range attempts {
		resp.Data = append(resp.Data, FromDomain(a))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Helper functions

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}
