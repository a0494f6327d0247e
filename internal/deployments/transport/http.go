// Package transport provides HTTP handlers for the deployments domain.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/pendergraft/deployrecon/internal/chains"
	"github.com/pendergraft/deployrecon/internal/deployments/domain"
	"github.com/pendergraft/deployrecon/internal/validation"
)

// Service defines the deployment service interface for HTTP transport.
type Service interface {
	Get(ctx context.Context, network string, id chains.ArtifactID) (*domain.Manifest, error)
	List(ctx context.Context, filter domain.ListFilter) ([]domain.Manifest, error)
}

// Handler handles HTTP requests for deployment manifests. Manifests are
// only mutated by the orchestrator, so every route is read-only.
type Handler struct {
	svc Service
}

// NewHandler creates a new deployments HTTP handler.
func NewHandler(svc Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes registers the manifest routes on a chi router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	// the artifact id contains slashes: /{network}/src/Token.sol:Token
	r.Get("/{network}/*", h.handleGet)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	filter := domain.ListFilter{
		Network: r.URL.Query().Get("network"),
		Status:  domain.Status(r.URL.Query().Get("status")),
	}
	switch filter.Status {
	case "", domain.StatusRequested, domain.StatusPending, domain.StatusMined, domain.StatusFailed:
	default:
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "status must be one of requested, pending, mined, failed")
		return
	}

	manifests, err := h.svc.List(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list manifests")
		return
	}

	resp := ManifestListResponse{Data: make([]ManifestResponse, 0, len(manifests))}
	for _, m := range manifests {
		resp.Data = append(resp.Data, FromDomain(&m))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	network := chi.URLParam(r, "network")
	if err := validation.ValidateNetworkName(network); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	raw, err := url.PathUnescape(chi.URLParam(r, "*"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid artifact id")
		return
	}
	id, err := chains.ParseArtifactID(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	m, err := h.svc.Get(r.Context(), network, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Manifest not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to get manifest")
		return
	}

	writeJSON(w, http.StatusOK, FromDomain(m))
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
