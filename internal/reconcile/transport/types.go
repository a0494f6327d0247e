// Package transport provides HTTP handlers for reconciliation runs.
package transport

import (
	"encoding/json"
	"time"

	"github.com/pendergraft/deployrecon/internal/reconcile"
	"github.com/pendergraft/deployrecon/internal/statecheck"
)

// ReconcileRequest is the body of POST /reconcile. Reconciliation over
// HTTP never submits source to the explorer.
type ReconcileRequest struct {
	Artifact  string                        `json:"artifact"`
	Address   string                        `json:"address"`
	Libraries map[string]string             `json:"libraries,omitempty"`
	Token     *statecheck.TokenExpectations `json:"token,omitempty"`
	Checks    []statecheck.Check            `json:"checks,omitempty"`
}

// RunResponse is a recorded run in API responses.
type RunResponse struct {
	ID           string          `json:"id"`
	Network      string          `json:"network"`
	Artifact     string          `json:"artifact"`
	Address      string          `json:"address"`
	Verdict      string          `json:"verdict"`
	Verification string          `json:"verification"`
	Overall      bool            `json:"overall"`
	CreatedAt    string          `json:"createdAt"`
	Report       json.RawMessage `json:"report,omitempty"`
}

// FromRun converts a run. The report body is included only when full is
// set.
func FromRun(r reconcile.Run, full bool) RunResponse {
	resp := RunResponse{
		ID:           r.ID,
		Network:      r.Network,
		Artifact:     r.Artifact,
		Address:      r.Address,
		Verdict:      string(r.Verdict),
		Verification: r.Verification,
		Overall:      r.Overall,
		CreatedAt:    r.CreatedAt.Format(time.RFC3339),
	}
	if full {
		resp.Report = r.Report
	}
	return resp
}

// RunListResponse is the response for listing runs.
type RunListResponse struct {
	Data []RunResponse `json:"data"`
}
