// Package transport provides HTTP request/response types for the deployments domain.
package transport

import (
	"time"

	"github.com/pendergraft/deployrecon/internal/deployments/domain"
)

// ManifestResponse is a manifest in API responses. The raw signed
// transaction is never exposed.
type ManifestResponse struct {
	ID               string                  `json:"id"`
	Artifact         string                  `json:"artifact"`
	Network          string                  `json:"network"`
	ChainID          uint64                  `json:"chainId"`
	DeployerAddress  string                  `json:"deployerAddress,omitempty"`
	ConstructorArgs  []domain.ConstructorArg `json:"constructorArgs"`
	TransactionHash  string                  `json:"transactionHash,omitempty"`
	ContractAddress  string                  `json:"contractAddress,omitempty"`
	MinedBlockNumber uint64                  `json:"minedBlockNumber,omitempty"`
	GasUsed          uint64                  `json:"gasUsed,omitempty"`
	Status           string                  `json:"status"`
	FailureReason    string                  `json:"failureReason,omitempty"`
	FailureDetail    string                  `json:"failureDetail,omitempty"`
	CalldataDigest   string                  `json:"calldataDigest,omitempty"`
	CreatedAt        string                  `json:"createdAt"`
	UpdatedAt        string                  `json:"updatedAt"`
}

// FromDomain converts a domain manifest.
func FromDomain(m *domain.Manifest) ManifestResponse {
	args := m.ConstructorArgs
	if args == nil {
		args = []domain.ConstructorArg{}
	}
	return ManifestResponse{
		ID:               m.ID,
		Artifact:         m.Artifact.String(),
		Network:          m.Network,
		ChainID:          m.ChainID,
		DeployerAddress:  m.DeployerAddress,
		ConstructorArgs:  args,
		TransactionHash:  m.TransactionHash,
		ContractAddress:  m.ContractAddress,
		MinedBlockNumber: m.MinedBlockNumber,
		GasUsed:          m.GasUsed,
		Status:           string(m.Status),
		FailureReason:    string(m.FailureReason),
		FailureDetail:    m.FailureDetail,
		CalldataDigest:   m.CalldataDigest,
		CreatedAt:        m.CreatedAt.Format(time.RFC3339),
		UpdatedAt:        m.UpdatedAt.Format(time.RFC3339),
	}
}

// ManifestListResponse is the response for listing manifests.
type ManifestListResponse struct {
	Data []ManifestResponse `json:"data"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
