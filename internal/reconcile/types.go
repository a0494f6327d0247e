// Package reconcile runs the end-to-end reconciliation of a deployed
// contract: bytecode comparison, state checks, explorer verification and
// the report.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/pendergraft/deployrecon/internal/chains"
	"github.com/pendergraft/deployrecon/internal/chains/evm"
	"github.com/pendergraft/deployrecon/internal/report"
	"github.com/pendergraft/deployrecon/internal/statecheck"
	verification "github.com/pendergraft/deployrecon/internal/verification/domain"
)

var (
	// ErrNoAddress is returned when no address was given and no Mined
	// manifest exists for the artifact.
	ErrNoAddress = errors.New("no contract address: pass --address or deploy first")
	// ErrRunNotFound is returned when a recorded run does not exist.
	ErrRunNotFound = errors.New("reconciliation run not found")
)

// Request describes one reconciliation run.
type Request struct {
	Network  chains.Network
	Artifact *chains.CompiledArtifact
	// Address overrides the manifest's contract address.
	Address string
	// ConstructorArgs default to the manifest's arguments.
	ConstructorArgs []string
	Checks          []statecheck.Check
	// Libraries maps linked library names to their addresses.
	Libraries map[string]string

	// Submit sends source to the explorer. Without it the run only asks
	// whether the explorer already holds verified source.
	Submit          bool
	Input           json.RawMessage
	FlattenedSource string
	Settings        *verification.CompilerSettings
	LicenseType     int
}

// Run is a recorded reconciliation run.
type Run struct {
	ID           string          `json:"id"`
	Network      string          `json:"network"`
	Artifact     string          `json:"artifact"`
	Address      string          `json:"address"`
	Verdict      chains.Verdict  `json:"verdict"`
	Verification string          `json:"verification"`
	Overall      bool            `json:"overall"`
	Report       json.RawMessage `json:"report"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// RunFilter filters run listings.
type RunFilter struct {
	Network string
	Address string
	Limit   int
}

// RunStore records reconciliation runs.
type RunStore interface {
	SaveRun(ctx context.Context, r *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]Run, error)
}

// Verifier is the part of the verification submitter a run needs.
type Verifier interface {
	Verify(ctx context.Context, req verification.VerifyRequest) (*verification.Result, error)
	Status(ctx context.Context, address string) (*verification.Result, error)
}

// Service reconciles deployments and exposes the run history.
type Service interface {
	// Reconcile runs the workflow and returns the report. Failed
	// comparisons, checks and verifications are reported, not returned as
	// errors.
	Reconcile(ctx context.Context, req Request) (*report.Report, error)

	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]Run, error)
}

func compareOptions(req Request) evm.CompareOptions {
	return evm.CompareOptions{
		Libraries:  req.Libraries,
		LinkRefs:   req.Artifact.LinkRefs,
		Immutables: req.Artifact.ImmutableRefs,
	}
}
