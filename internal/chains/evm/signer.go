package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/pendergraft/deployrecon/internal/chains"
	"github.com/pendergraft/deployrecon/internal/observability/metrics"
)

// gasHeadroomPercent is added on top of the node's gas estimate.
const gasHeadroomPercent = 20

// ErrNoPrivateKey is returned when a signer is requested without a key.
var ErrNoPrivateKey = errors.New("no deployer private key configured")

// SignerClient is the subset of ethclient.Client used to sign and send.
type SignerClient interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// KeySigner signs EIP-1559 creation transactions with a local key.
type KeySigner struct {
	client  SignerClient
	chainID *big.Int
	key     *ecdsa.PrivateKey
	from    common.Address
	logger  *slog.Logger
}

// NewKeySigner parses a hex private key (with or without 0x).
func NewKeySigner(client SignerClient, chainID uint64, hexKey string, logger *slog.Logger) (*KeySigner, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return nil, ErrNoPrivateKey
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &KeySigner{
		client:  client,
		chainID: new(big.Int).SetUint64(chainID),
		key:     key,
		from:    crypto.PubkeyToAddress(key.PublicKey),
		logger:  logger,
	}, nil
}

// Address returns the deployer address.
func (s *KeySigner) Address() string {
	return s.from.Hex()
}

// SignCreation builds and signs a creation transaction without sending it.
func (s *KeySigner) SignCreation(ctx context.Context, data []byte) (*chains.SignedTx, error) {
	nonce, err := s.client.PendingNonceAt(ctx, s.from)
	metrics.RPCCall("eth_getTransactionCount", err)
	if err != nil {
		return nil, &chains.TransportError{Op: "eth_getTransactionCount", Err: err}
	}

	tip, err := s.client.SuggestGasTipCap(ctx)
	metrics.RPCCall("eth_maxPriorityFeePerGas", err)
	if err != nil {
		return nil, &chains.TransportError{Op: "eth_maxPriorityFeePerGas", Err: err}
	}

	head, err := s.client.HeaderByNumber(ctx, nil)
	metrics.RPCCall("eth_getBlockByNumber", err)
	if err != nil {
		return nil, &chains.TransportError{Op: "eth_getBlockByNumber", Err: err}
	}
	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}

	gas, err := s.client.EstimateGas(ctx, ethereum.CallMsg{From: s.from, Data: data})
	if err != nil {
		if revert := asRevert("constructor", err); revert != nil {
			metrics.RPCCall("eth_estimateGas", nil)
			return nil, revert
		}
		metrics.RPCCall("eth_estimateGas", err)
		return nil, &chains.TransportError{Op: "eth_estimateGas", Err: err}
	}
	metrics.RPCCall("eth_estimateGas", nil)
	gas += gas * gasHeadroomPercent / 100

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   s.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		Data:      data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(s.chainID), s.key)
	if err != nil {
		return nil, fmt.Errorf("signing transaction: %w", err)
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encoding transaction: %w", err)
	}

	s.logger.Debug("signed creation transaction",
		"hash", signed.Hash().Hex(),
		"nonce", nonce,
		"gas", gas,
	)
	return &chains.SignedTx{
		Hash:             signed.Hash().Hex(),
		From:             s.from.Hex(),
		Nonce:            nonce,
		PredictedAddress: PredictCreateAddress(s.from.Hex(), nonce),
		Raw:              raw,
	}, nil
}

// Broadcast sends a transaction produced by SignCreation.
func (s *KeySigner) Broadcast(ctx context.Context, stx *chains.SignedTx) error {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(stx.Raw); err != nil {
		return fmt.Errorf("decoding signed transaction: %w", err)
	}
	err := s.client.SendTransaction(ctx, tx)
	metrics.RPCCall("eth_sendRawTransaction", err)
	if err != nil {
		// a resumed run may rebroadcast a transaction the node already has
		if strings.Contains(strings.ToLower(err.Error()), "already known") {
			return nil
		}
		return &chains.TransportError{Op: "eth_sendRawTransaction", Err: err}
	}
	s.logger.Info("broadcast creation transaction", "hash", stx.Hash)
	return nil
}

// CreationData concatenates creation bytecode and encoded constructor args.
func CreationData(creation, encodedArgs []byte) []byte {
	out := make([]byte, 0, len(creation)+len(encodedArgs))
	out = append(out, creation...)
	return append(out, encodedArgs...)
}

// PreparedCreation is creation calldata ready for execution elsewhere,
// typically by a multisig.
type PreparedCreation struct {
	Data   string `json:"data"`
	Digest string `json:"digest"`
	Size   int    `json:"size"`
}

// PrepareCreation returns the hex calldata and its keccak256 digest.
func PrepareCreation(data []byte) PreparedCreation {
	return PreparedCreation{
		Data:   hexutil.Encode(data),
		Digest: crypto.Keccak256Hash(data).Hex(),
		Size:   len(data),
	}
}
