package evm

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/pendergraft/deployrecon/internal/chains"
	"github.com/pendergraft/deployrecon/internal/observability/metrics"
	"github.com/pendergraft/deployrecon/internal/validation"
)

// DefaultScanDepth bounds how many recent nonces FindCreations inspects.
const DefaultScanDepth = 256

// PredictCreateAddress returns the address a CREATE from deployer at nonce
// will occupy.
func PredictCreateAddress(deployer string, nonce uint64) string {
	return crypto.CreateAddress(common.HexToAddress(deployer), nonce).Hex()
}

// Candidate is a contract created by the deployer.
type Candidate struct {
	Nonce   uint64               `json:"nonce"`
	Address string               `json:"address"`
	Result  *chains.VerifyResult `json:"result,omitempty"`
}

// Nonce returns the confirmed transaction count of address.
func (r *Reader) Nonce(ctx context.Context, address string) (uint64, error) {
	if err := validation.ValidateAddress(address); err != nil {
		return 0, fmt.Errorf("%w: %v", chains.ErrInvalidAddress, err)
	}
	n, err := r.client.NonceAt(ctx, common.HexToAddress(address), nil)
	metrics.RPCCall("eth_getTransactionCount", err)
	if err != nil {
		return 0, &chains.TransportError{Op: "eth_getTransactionCount", Err: err}
	}
	return n, nil
}

// FindCreations walks the deployer's most recent nonces, newest first, and
// returns every CREATE address that holds code. When runtime is non-empty
// each candidate is reconciled against it and matches sort first.
func (r *Reader) FindCreations(ctx context.Context, deployer string, runtime []byte, opts CompareOptions, depth int) ([]Candidate, error) {
	nonce, err := r.Nonce(ctx, deployer)
	if err != nil {
		return nil, err
	}
	if depth <= 0 {
		depth = DefaultScanDepth
	}

	var matched, other []Candidate
	for n := nonce; n > 0 && nonce-n < uint64(depth); n-- {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		addr := PredictCreateAddress(deployer, n-1)
		code, err := r.CodeAt(ctx, addr)
		if err != nil {
			return nil, err
		}
		if len(code) == 0 {
			continue
		}
		c := Candidate{Nonce: n - 1, Address: addr}
		if len(runtime) > 0 {
			c.Result = CompareBytecode(code, runtime, opts)
			if c.Result.Match() {
				matched = append(matched, c)
				continue
			}
		}
		other = append(other, c)
	}
	r.logger.Debug("scanned deployer nonces", "deployer", deployer, "nonce", nonce, "found", len(matched)+len(other))
	return append(matched, other...), nil
}
