// Package domain contains the explorer verification submitter.
package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pendergraft/deployrecon/internal/chains"
)

// Outcome is the result of a verification submission.
type Outcome string

const (
	OutcomeNotAttempted    Outcome = "not_attempted"
	OutcomeSubmitted       Outcome = "submitted"
	OutcomeAlreadyVerified Outcome = "already_verified"
	OutcomeFailed          Outcome = "failed"
)

// Succeeded reports whether the explorer holds verified source.
func (o Outcome) Succeeded() bool {
	return o == OutcomeSubmitted || o == OutcomeAlreadyVerified
}

// FailureKind classifies a Failed outcome.
type FailureKind string

const (
	// FailureCompilerMismatch needs new compiler settings before a retry.
	FailureCompilerMismatch FailureKind = "compiler_mismatch"
	// FailureConstructorArgs needs corrected constructor arguments.
	FailureConstructorArgs FailureKind = "abi_constructor_arg_mismatch"
	// FailureTransient may succeed on a later run.
	FailureTransient FailureKind = "transient_service_error"
	// FailureRejected is any other explorer rejection.
	FailureRejected FailureKind = "rejected"
)

// Retryable reports whether resubmitting unchanged input may succeed.
func (k FailureKind) Retryable() bool {
	return k == FailureTransient
}

// CompilerSettings are the settings a verification payload declares.
type CompilerSettings struct {
	Version          string `json:"version"`
	OptimizerEnabled bool   `json:"optimizerEnabled"`
	OptimizerRuns    int    `json:"optimizerRuns"`
	EVMVersion       string `json:"evmVersion,omitempty"`
	ViaIR            bool   `json:"viaIR,omitempty"`
}

// SettingsFromCompiler converts artifact compiler settings.
func SettingsFromCompiler(c chains.EVMCompiler) CompilerSettings {
	return CompilerSettings{
		Version:          c.Version,
		OptimizerEnabled: c.Optimizer.Enabled,
		OptimizerRuns:    c.Optimizer.Runs,
		EVMVersion:       c.EVMVersion,
		ViaIR:            c.ViaIR,
	}
}

func (s CompilerSettings) compiler() chains.EVMCompiler {
	return chains.EVMCompiler{
		Version:    s.Version,
		Optimizer:  chains.OptimizerConfig{Enabled: s.OptimizerEnabled, Runs: s.OptimizerRuns},
		EVMVersion: s.EVMVersion,
		ViaIR:      s.ViaIR,
	}
}

func (s CompilerSettings) String() string {
	return s.compiler().String()
}

// MismatchError carries the two sides of a non-retryable mismatch.
type MismatchError struct {
	Kind FailureKind

	// Compiler mismatches
	Attempted *CompilerSettings
	Expected  *CompilerSettings

	// Constructor argument mismatches, hex encoded
	OnChainArgs string
	LocalArgs   string
}

func (e *MismatchError) Error() string {
	switch e.Kind {
	case FailureCompilerMismatch:
		if e.Expected == nil {
			return fmt.Sprintf("compiler mismatch: attempted %s", e.Attempted)
		}
		return fmt.Sprintf("compiler mismatch: attempted %s, artifact compiled with %s", e.Attempted, e.Expected)
	case FailureConstructorArgs:
		return fmt.Sprintf("constructor arguments mismatch: deployment used 0x%s, local arguments encode to 0x%s", e.OnChainArgs, e.LocalArgs)
	}
	return string(e.Kind)
}

// VerifyRequest asks the submitter to verify a deployed contract.
type VerifyRequest struct {
	Network  string
	Address  string
	Artifact *chains.CompiledArtifact
	// ConstructorArgs are the string values in ABI order.
	ConstructorArgs []string
	// TxHash, when set, is used to check the constructor arguments against
	// the deployment input before submitting.
	TxHash string
	// Input is the Standard-JSON-Input. When empty, FlattenedSource is
	// submitted as a single file.
	Input           json.RawMessage
	FlattenedSource string
	// Settings overrides the settings read from the payload.
	Settings    *CompilerSettings
	LicenseType int
}

// Result is the outcome of one verification run.
type Result struct {
	Outcome Outcome     `json:"outcome"`
	Failure FailureKind `json:"failure,omitempty"`
	Reason  string      `json:"reason,omitempty"`
	GUID    string      `json:"guid,omitempty"`
	// Attempted holds the settings submitted; Expected the artifact's.
	Attempted *CompilerSettings `json:"attempted,omitempty"`
	Expected  *CompilerSettings `json:"expected,omitempty"`
	Checks    int               `json:"checks,omitempty"`
}

// Err returns the typed error behind a Failed result.
func (r *Result) Err() error {
	if r.Outcome != OutcomeFailed {
		return nil
	}
	switch r.Failure {
	case FailureCompilerMismatch:
		return &MismatchError{Kind: r.Failure, Attempted: r.Attempted, Expected: r.Expected}
	case FailureTransient:
		return fmt.Errorf("%w: %s", ErrTransientService, r.Reason)
	case FailureConstructorArgs:
		return fmt.Errorf("%w: %s", ErrConstructorArgs, r.Reason)
	}
	return fmt.Errorf("%w: %s", ErrRejected, r.Reason)
}

// Attempt is the recorded history of a verification run.
type Attempt struct {
	ID        string      `json:"id"`
	Network   string      `json:"network"`
	Address   string      `json:"address"`
	Artifact  string      `json:"artifact"`
	Outcome   Outcome     `json:"outcome"`
	Failure   FailureKind `json:"failure,omitempty"`
	Reason    string      `json:"reason,omitempty"`
	GUID      string      `json:"guid,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
}

// AttemptFilter filters attempt listings.
type AttemptFilter struct {
	Network string
	Address string
	Limit   int
}
