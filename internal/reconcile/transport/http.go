package transport

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pendergraft/deployrecon/internal/chains"
	"github.com/pendergraft/deployrecon/internal/reconcile"
	"github.com/pendergraft/deployrecon/internal/statecheck"
	"github.com/pendergraft/deployrecon/internal/validation"
)

// ArtifactLoader loads the artifact a request names.
type ArtifactLoader func(id chains.ArtifactID) (*chains.CompiledArtifact, error)

// Handler handles HTTP requests for reconciliation runs.
type Handler struct {
	svc     reconcile.Service
	network chains.Network
	load    ArtifactLoader
}

// NewHandler creates a handler reconciling against network. load may be
// nil, in which case POST /reconcile is not registered.
func NewHandler(svc reconcile.Service, network chains.Network, load ArtifactLoader) *Handler {
	return &Handler{svc: svc, network: network, load: load}
}

// RegisterRoutes registers the run routes on a chi router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/runs", h.handleListRuns)
	r.Get("/runs/{id}", h.handleGetRun)
	if h.load != nil {
		r.Post("/reconcile", h.handleReconcile)
	}
}

func (h *Handler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := reconcile.RunFilter{Network: q.Get("network"), Address: q.Get("address"), Limit: 50}
	if filter.Address != "" {
		if err := validation.ValidateAddress(filter.Address); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_ADDRESS", err.Error())
			return
		}
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 || limit > 500 {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be between 1 and 500")
			return
		}
		filter.Limit = limit
	}

	runs, err := h.svc.ListRuns(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list runs")
		return
	}
	resp := RunListResponse{Data: make([]RunResponse, 0, len(runs))}
	for _, run := range runs {
		resp.Data = append(resp.Data, FromRun(run, false))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.svc.GetRun(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, reconcile.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Run not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to get run")
		return
	}
	writeJSON(w, http.StatusOK, FromRun(*run, true))
}

func (h *Handler) handleReconcile(w http.ResponseWriter, r *http.Request) {
	var req ReconcileRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body")
		return
	}
	id, err := chains.ParseArtifactID(req.Artifact)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ARTIFACT", err.Error())
		return
	}
	if req.Address != "" {
		if err := validation.ValidateAddress(req.Address); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_ADDRESS", err.Error())
			return
		}
	}
	artifact, err := h.load(id)
	if errors.Is(err, chains.ErrArtifactNotFound) {
		writeError(w, http.StatusNotFound, "ARTIFACT_NOT_FOUND", err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load artifact")
		return
	}

	checks := req.Checks
	if req.Token != nil {
		checks = append(statecheck.TokenChecks(*req.Token), checks...)
	}
	if err := statecheck.Validate(checks); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_CHECKS", err.Error())
		return
	}

	rep, err := h.svc.Reconcile(r.Context(), reconcile.Request{
		Network:   h.network,
		Artifact:  artifact,
		Address:   req.Address,
		Libraries: req.Libraries,
		Checks:    checks,
	})
	switch {
	case errors.Is(err, reconcile.ErrNoAddress):
		writeError(w, http.StatusNotFound, "NO_ADDRESS", err.Error())
		return
	case errors.Is(err, chains.ErrWrongChain):
		writeError(w, http.StatusBadGateway, "WRONG_CHAIN", err.Error())
		return
	case chains.IsTransport(err):
		writeError(w, http.StatusBadGateway, "RPC_UNAVAILABLE", err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Reconciliation failed")
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}
