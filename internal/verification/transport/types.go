// Package transport provides HTTP request/response types for the verification domain.
package transport

import (
	"time"

	"github.com/pendergraft/deployrecon/internal/verification/domain"
)

// AttemptResponse is a verification attempt in API responses.
type AttemptResponse struct {
	ID        string `json:"id"`
	Network   string `json:"network"`
	Address   string `json:"address"`
	Artifact  string `json:"artifact"`
	Outcome   string `json:"outcome"`
	Failure   string `json:"failure,omitempty"`
	Retryable bool   `json:"retryable"`
	Reason    string `json:"reason,omitempty"`
	GUID      string `json:"guid,omitempty"`
	CreatedAt string `json:"createdAt"`
}

// FromDomain converts a domain attempt.
func FromDomain(a domain.Attempt) AttemptResponse {
	return AttemptResponse{
		ID:        a.ID,
		Network:   a.Network,
		Address:   a.Address,
		Artifact:  a.Artifact,
		Outcome:   string(a.Outcome),
		Failure:   string(a.Failure),
		Retryable: a.Failure.Retryable(),
		Reason:    a.Reason,
		GUID:      a.GUID,
		CreatedAt: a.CreatedAt.Format(time.RFC3339),
	}
}

// ListResponse is the response for listing verification attempts.
type ListResponse struct {
	Data []AttemptResponse `json:"data"`
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
