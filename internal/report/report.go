// Package report aggregates the results of a reconciliation run into a
// single pass/fail report. Building a report never mutates its inputs.
package report

import (
	"errors"
	"fmt"
	"time"

	"github.com/pendergraft/deployrecon/internal/chains"
	"github.com/pendergraft/deployrecon/internal/chains/evm"
	deployments "github.com/pendergraft/deployrecon/internal/deployments/domain"
	"github.com/pendergraft/deployrecon/internal/statecheck"
	verification "github.com/pendergraft/deployrecon/internal/verification/domain"
)

// Input is everything gathered during one run.
type Input struct {
	RunID    string
	Network  chains.Network
	Artifact *chains.CompiledArtifact
	Address  string
	Manifest *deployments.Manifest

	Bytecode         *chains.VerifyResult
	DeployedMetadata *evm.Metadata
	ArtifactMetadata *evm.Metadata

	StateChecks []statecheck.Result
	// StateChecksErr is set when the checks could not complete.
	StateChecksErr error

	Verification *verification.Result
	// VerificationSkipped explains a NotAttempted outcome.
	VerificationSkipped string

	GeneratedAt time.Time
}

// Report is the structured result of a run.
type Report struct {
	RunID       string    `json:"runId,omitempty" yaml:"runId,omitempty"`
	GeneratedAt time.Time `json:"generatedAt" yaml:"generatedAt"`
	Network     string    `json:"network" yaml:"network"`
	ChainID     uint64    `json:"chainId" yaml:"chainId"`
	Artifact    string    `json:"artifact" yaml:"artifact"`
	Address     string    `json:"address" yaml:"address"`
	AddressURL  string    `json:"addressUrl,omitempty" yaml:"addressUrl,omitempty"`

	Overall bool `json:"overall" yaml:"overall"`
	// Failures lists the specific reason of every failed section.
	Failures []string `json:"failures,omitempty" yaml:"failures,omitempty"`

	Deployment   *DeploymentSection  `json:"deployment,omitempty" yaml:"deployment,omitempty"`
	Bytecode     BytecodeSection     `json:"bytecode" yaml:"bytecode"`
	StateChecks  StateCheckSection   `json:"stateChecks" yaml:"stateChecks"`
	Verification VerificationSection `json:"verification" yaml:"verification"`
}

// DeploymentSection summarizes the manifest.
type DeploymentSection struct {
	Status          string `json:"status" yaml:"status"`
	TransactionHash string `json:"transactionHash,omitempty" yaml:"transactionHash,omitempty"`
	TransactionURL  string `json:"transactionUrl,omitempty" yaml:"transactionUrl,omitempty"`
	Deployer        string `json:"deployer,omitempty" yaml:"deployer,omitempty"`
	BlockNumber     uint64 `json:"blockNumber,omitempty" yaml:"blockNumber,omitempty"`
	GasUsed         uint64 `json:"gasUsed,omitempty" yaml:"gasUsed,omitempty"`
	FailureReason   string `json:"failureReason,omitempty" yaml:"failureReason,omitempty"`
	DeployedAt      string `json:"deployedAt,omitempty" yaml:"deployedAt,omitempty"`
}

// BytecodeSection is the bytecode verdict and the embedded metadata of
// both sides.
type BytecodeSection struct {
	Verdict          chains.Verdict `json:"verdict" yaml:"verdict"`
	Message          string         `json:"message,omitempty" yaml:"message,omitempty"`
	DeployedLength   int            `json:"deployedLength" yaml:"deployedLength"`
	ArtifactLength   int            `json:"artifactLength" yaml:"artifactLength"`
	DeployedMetadata *evm.Metadata  `json:"deployedMetadata,omitempty" yaml:"deployedMetadata,omitempty"`
	ArtifactMetadata *evm.Metadata  `json:"artifactMetadata,omitempty" yaml:"artifactMetadata,omitempty"`
}

// State check section statuses.
const (
	ChecksPassed     = "passed"
	ChecksFailed     = "failed"
	ChecksIncomplete = "incomplete"
	ChecksSkipped    = "skipped"
)

// StateCheckSection holds the state check results.
type StateCheckSection struct {
	Status  string              `json:"status" yaml:"status"`
	Error   string              `json:"error,omitempty" yaml:"error,omitempty"`
	Results []statecheck.Result `json:"results,omitempty" yaml:"results,omitempty"`
}

// VerificationSection is the explorer verification outcome.
type VerificationSection struct {
	Outcome   verification.Outcome           `json:"outcome" yaml:"outcome"`
	Failure   verification.FailureKind       `json:"failure,omitempty" yaml:"failure,omitempty"`
	Retryable bool                           `json:"retryable,omitempty" yaml:"retryable,omitempty"`
	Reason    string                         `json:"reason,omitempty" yaml:"reason,omitempty"`
	GUID      string                         `json:"guid,omitempty" yaml:"guid,omitempty"`
	Link      string                         `json:"link,omitempty" yaml:"link,omitempty"`
	Attempted *verification.CompilerSettings `json:"attempted,omitempty" yaml:"attempted,omitempty"`
	Expected  *verification.CompilerSettings `json:"expected,omitempty" yaml:"expected,omitempty"`
}

// Build aggregates in. Overall passes when the bytecode matched, the
// explorer holds verified source, and every state check passed.
func Build(in Input) *Report {
	r := &Report{
		RunID:       in.RunID,
		GeneratedAt: in.GeneratedAt,
		Network:     in.Network.Name,
		ChainID:     in.Network.ChainID,
		Address:     in.Address,
	}
	if r.GeneratedAt.IsZero() {
		r.GeneratedAt = time.Now().UTC()
	}
	if in.Artifact != nil {
		r.Artifact = in.Artifact.ID().String()
	}
	if in.Address != "" {
		r.AddressURL = in.Network.AddressURL(in.Address)
	}

	if m := in.Manifest; m != nil {
		d := &DeploymentSection{
			Status:          string(m.Status),
			TransactionHash: m.TransactionHash,
			Deployer:        m.DeployerAddress,
			BlockNumber:     m.MinedBlockNumber,
			GasUsed:         m.GasUsed,
			FailureReason:   string(m.FailureReason),
		}
		if m.TransactionHash != "" {
			d.TransactionURL = in.Network.TxURL(m.TransactionHash)
		}
		if m.Status == deployments.StatusMined {
			d.DeployedAt = m.UpdatedAt.UTC().Format(time.RFC3339)
		}
		r.Deployment = d
	}

	r.Bytecode = BytecodeSection{Verdict: chains.NoCodeAtAddress, DeployedMetadata: in.DeployedMetadata, ArtifactMetadata: in.ArtifactMetadata}
	if b := in.Bytecode; b != nil {
		r.Bytecode.Verdict = b.Verdict
		r.Bytecode.Message = b.Message
		r.Bytecode.DeployedLength = b.DeployedLength
		r.Bytecode.ArtifactLength = b.ArtifactLength
	}

	switch {
	case in.StateChecksErr != nil:
		r.StateChecks = StateCheckSection{Status: ChecksIncomplete, Error: in.StateChecksErr.Error()}
	case len(in.StateChecks) == 0:
		r.StateChecks = StateCheckSection{Status: ChecksSkipped}
	default:
		status := ChecksPassed
		if !statecheck.AllPassed(in.StateChecks) {
			status = ChecksFailed
		}
		r.StateChecks = StateCheckSection{Status: status, Results: append([]statecheck.Result(nil), in.StateChecks...)}
	}

	r.Verification = VerificationSection{Outcome: verification.OutcomeNotAttempted, Reason: in.VerificationSkipped}
	if v := in.Verification; v != nil {
		r.Verification = VerificationSection{
			Outcome:   v.Outcome,
			Failure:   v.Failure,
			Retryable: v.Failure.Retryable(),
			Reason:    v.Reason,
			GUID:      v.GUID,
			Attempted: v.Attempted,
			Expected:  v.Expected,
		}
		if r.Verification.Reason == "" && v.Outcome == verification.OutcomeNotAttempted {
			r.Verification.Reason = in.VerificationSkipped
		}
		if v.Outcome.Succeeded() {
			r.Verification.Link = r.AddressURL
		}
	}

	r.Failures = failures(r, in)
	r.Overall = len(r.Failures) == 0
	return r
}

func failures(r *Report, in Input) []string {
	var out []string
	if !r.Bytecode.Verdict.Matched() {
		reason := string(r.Bytecode.Verdict)
		if err := verdictErr(r.Bytecode.Verdict); err != nil {
			reason = err.Error()
		}
		if r.Bytecode.Message != "" {
			reason += ": " + r.Bytecode.Message
		}
		out = append(out, "bytecode: "+reason)
	}
	switch r.StateChecks.Status {
	case ChecksIncomplete:
		out = append(out, "state checks: "+r.StateChecks.Error)
	case ChecksFailed:
		for _, c := range r.StateChecks.Results {
			if !c.Passed {
				out = append(out, fmt.Sprintf("state check %s: got %s, want %s", c.Name, c.Actual, c.Expected))
			}
		}
	}
	if !r.Verification.Outcome.Succeeded() {
		reason := string(r.Verification.Outcome)
		if r.Verification.Failure != "" {
			reason += " (" + string(r.Verification.Failure) + ")"
		}
		detail := r.Verification.Reason
		if in.Verification != nil {
			var mismatch *verification.MismatchError
			if errors.As(in.Verification.Err(), &mismatch) {
				detail = mismatch.Error()
			}
		}
		if detail != "" {
			reason += ": " + detail
		}
		out = append(out, "verification: "+reason)
	}
	return out
}

func verdictErr(v chains.Verdict) error {
	r := chains.VerifyResult{Verdict: v}
	return r.Err()
}
