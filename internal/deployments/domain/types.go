// Package domain contains the deployment orchestrator and the deployment
// manifest state machine.
package domain

import (
	"fmt"
	"time"

	"github.com/pendergraft/deployrecon/internal/chains"
)

// Status is the lifecycle state of a deployment manifest.
type Status string

const (
	StatusRequested Status = "requested"
	StatusPending   Status = "pending"
	StatusMined     Status = "mined"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusMined || s == StatusFailed
}

// FailureReason explains a Failed manifest.
type FailureReason string

const (
	ReasonDeploymentTimedOut  FailureReason = "deployment_timed_out"
	ReasonTransactionReverted FailureReason = "transaction_reverted"
	ReasonNoContractAddress   FailureReason = "no_contract_address"
)

// ConstructorArg is a typed constructor argument in its string form.
type ConstructorArg struct {
	Type  string `json:"type" toml:"type"`
	Value string `json:"value" toml:"value"`
}

// Values returns the argument values in order.
func Values(args []ConstructorArg) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = a.Value
	}
	return out
}

// Manifest is the durable record of a deployment.
//
// TransactionHash may be set without ContractAddress only while Pending.
// ContractAddress is set in the same transition that makes the manifest
// Mined.
type Manifest struct {
	ID               string            `json:"id"`
	Artifact         chains.ArtifactID `json:"artifact"`
	Network          string            `json:"network"`
	ChainID          uint64            `json:"chainId"`
	DeployerAddress  string            `json:"deployerAddress,omitempty"`
	ConstructorArgs  []ConstructorArg  `json:"constructorArgs"`
	TransactionHash  string            `json:"transactionHash,omitempty"`
	ContractAddress  string            `json:"contractAddress,omitempty"`
	MinedBlockNumber uint64            `json:"minedBlockNumber,omitempty"`
	GasUsed          uint64            `json:"gasUsed,omitempty"`
	Status           Status            `json:"status"`
	FailureReason    FailureReason     `json:"failureReason,omitempty"`
	FailureDetail    string            `json:"failureDetail,omitempty"`

	// CalldataDigest is set when the creation calldata was prepared for
	// execution by another account.
	CalldataDigest string `json:"calldataDigest,omitempty"`
	// SignedTx is the raw signed transaction, kept so a resumed run can
	// rebroadcast it.
	SignedTx string `json:"signedTx,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Prepared reports whether the manifest awaits an externally executed
// transaction.
func (m *Manifest) Prepared() bool {
	return m.CalldataDigest != ""
}

func (m *Manifest) transition(to Status) error {
	if m.Status.Terminal() {
		return fmt.Errorf("%w: manifest is %s, cannot move to %s", ErrInvalidTransition, m.Status, to)
	}
	switch {
	case m.Status == StatusRequested && to == StatusPending:
	case m.Status == StatusRequested && to == StatusFailed:
	case m.Status == StatusPending && (to == StatusMined || to == StatusFailed):
	default:
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.Status, to)
	}
	m.Status = to
	return nil
}

// MarkPending records the transaction hash of a submitted deployment.
func (m *Manifest) MarkPending(txHash string, now time.Time) error {
	if txHash == "" {
		return fmt.Errorf("%w: empty transaction hash", ErrInvalidTransition)
	}
	if err := m.transition(StatusPending); err != nil {
		return err
	}
	m.TransactionHash = txHash
	m.UpdatedAt = now
	return nil
}

// MarkMined records the created contract. It is the only transition that
// sets ContractAddress.
func (m *Manifest) MarkMined(receipt *chains.Receipt, now time.Time) error {
	if receipt == nil || receipt.ContractAddress == "" {
		return fmt.Errorf("%w: receipt has no contract address", ErrInvalidTransition)
	}
	if err := m.transition(StatusMined); err != nil {
		return err
	}
	m.ContractAddress = receipt.ContractAddress
	m.MinedBlockNumber = receipt.BlockNumber
	m.GasUsed = receipt.GasUsed
	m.SignedTx = ""
	m.UpdatedAt = now
	return nil
}

// MarkFailed records a terminal failure.
func (m *Manifest) MarkFailed(reason FailureReason, detail string, now time.Time) error {
	if err := m.transition(StatusFailed); err != nil {
		return err
	}
	m.FailureReason = reason
	m.FailureDetail = detail
	m.SignedTx = ""
	m.UpdatedAt = now
	return nil
}

// DeployRequest asks the orchestrator to deploy an artifact.
type DeployRequest struct {
	Artifact        *chains.CompiledArtifact
	Network         string
	ChainID         uint64
	ConstructorArgs []ConstructorArg
	// Force replaces a terminal manifest with a new deployment.
	Force bool
}

// PrepareRequest asks for creation calldata for execution by another
// account such as a multisig.
type PrepareRequest struct {
	Artifact        *chains.CompiledArtifact
	Network         string
	ChainID         uint64
	ConstructorArgs []ConstructorArg
	Executor        string
	Force           bool
}

// TrackRequest attaches an already submitted transaction to a manifest.
type TrackRequest struct {
	Artifact        *chains.CompiledArtifact
	Network         string
	ChainID         uint64
	ConstructorArgs []ConstructorArg
	TxHash          string
	Force           bool
}

// ListFilter contains filter options for listing manifests.
type ListFilter struct {
	Network string
	Status  Status
}
