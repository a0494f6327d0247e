package evm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/pendergraft/deployrecon/internal/chains"
	"github.com/pendergraft/deployrecon/internal/observability/metrics"
	"github.com/pendergraft/deployrecon/internal/validation"
)

// revertErrorCode is the JSON-RPC error code nodes use for reverted calls.
const revertErrorCode = 3

// Client is the subset of ethclient.Client used by the reader.
type Client interface {
	ChainID(ctx context.Context) (*big.Int, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
}

// Reader implements chains.Reader over go-ethereum's JSON-RPC client.
type Reader struct {
	client Client
	logger *slog.Logger

	mu   sync.Mutex
	abis map[string]abi.ABI
}

// Dial connects to a JSON-RPC endpoint.
func Dial(ctx context.Context, url string, logger *slog.Logger) (*Reader, *ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, nil, &chains.TransportError{Op: "dial", Err: err}
	}
	return NewReader(client, logger), client, nil
}

// NewReader creates a reader on top of an existing client.
func NewReader(client Client, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{
		client: client,
		logger: logger,
		abis:   make(map[string]abi.ABI),
	}
}

// ChainID returns the chain id served by the endpoint.
func (r *Reader) ChainID(ctx context.Context) (uint64, error) {
	id, err := r.client.ChainID(ctx)
	metrics.RPCCall("eth_chainId", err)
	if err != nil {
		return 0, &chains.TransportError{Op: "eth_chainId", Err: err}
	}
	return id.Uint64(), nil
}

// CodeAt fetches the runtime bytecode at address.
func (r *Reader) CodeAt(ctx context.Context, address string) ([]byte, error) {
	if err := validation.ValidateAddress(address); err != nil {
		return nil, fmt.Errorf("%w: %v", chains.ErrInvalidAddress, err)
	}
	code, err := r.client.CodeAt(ctx, common.HexToAddress(address), nil)
	metrics.RPCCall("eth_getCode", err)
	if err != nil {
		return nil, &chains.TransportError{Op: "eth_getCode", Err: err}
	}
	r.logger.Debug("fetched code", "address", address, "bytes", len(code))
	return code, nil
}

// Receipt fetches the receipt of txHash.
func (r *Reader) Receipt(ctx context.Context, txHash string) (*chains.Receipt, error) {
	if err := validation.ValidateTxHash(txHash); err != nil {
		return nil, fmt.Errorf("%w: %v", chains.ErrInvalidTxHash, err)
	}
	receipt, err := r.client.TransactionReceipt(ctx, common.HexToHash(txHash))
	if errors.Is(err, ethereum.NotFound) {
		metrics.RPCCall("eth_getTransactionReceipt", nil)
		return nil, chains.ErrReceiptNotFound
	}
	metrics.RPCCall("eth_getTransactionReceipt", err)
	if err != nil {
		return nil, &chains.TransportError{Op: "eth_getTransactionReceipt", Err: err}
	}
	return toReceipt(txHash, receipt), nil
}

func toReceipt(txHash string, receipt *types.Receipt) *chains.Receipt {
	out := &chains.Receipt{
		TxHash:  txHash,
		GasUsed: receipt.GasUsed,
		Success: receipt.Status == types.ReceiptStatusSuccessful,
	}
	if receipt.BlockNumber != nil {
		out.BlockNumber = receipt.BlockNumber.Uint64()
	}
	if receipt.ContractAddress != (common.Address{}) {
		out.ContractAddress = receipt.ContractAddress.Hex()
	}
	return out
}

// TransactionInput returns the calldata of txHash.
func (r *Reader) TransactionInput(ctx context.Context, txHash string) ([]byte, error) {
	if err := validation.ValidateTxHash(txHash); err != nil {
		return nil, fmt.Errorf("%w: %v", chains.ErrInvalidTxHash, err)
	}
	tx, _, err := r.client.TransactionByHash(ctx, common.HexToHash(txHash))
	if errors.Is(err, ethereum.NotFound) {
		metrics.RPCCall("eth_getTransactionByHash", nil)
		return nil, chains.ErrTransactionNotFound
	}
	metrics.RPCCall("eth_getTransactionByHash", err)
	if err != nil {
		return nil, &chains.TransportError{Op: "eth_getTransactionByHash", Err: err}
	}
	return tx.Data(), nil
}

// Call performs a read-only call and decodes its outputs.
func (r *Reader) Call(ctx context.Context, address string, rawABI json.RawMessage, method string, args ...any) ([]any, error) {
	if err := validation.ValidateAddress(address); err != nil {
		return nil, fmt.Errorf("%w: %v", chains.ErrInvalidAddress, err)
	}
	parsed, err := r.parseABI(rawABI)
	if err != nil {
		return nil, err
	}
	m, ok := parsed.Methods[method]
	if !ok {
		return nil, fmt.Errorf("method %s not in ABI", method)
	}
	if len(args) > 0 {
		if strArgs, ok := stringArgs(args); ok {
			args, err = ConvertArgs(m.Inputs, strArgs)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", method, err)
			}
		}
	}
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("packing %s: %w", method, err)
	}

	to := common.HexToAddress(address)
	out, err := r.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		if revert := asRevert(method, err); revert != nil {
			metrics.RPCCall("eth_call", nil)
			return nil, revert
		}
		metrics.RPCCall("eth_call", err)
		return nil, &chains.TransportError{Op: "eth_call " + method, Err: err}
	}
	metrics.RPCCall("eth_call", nil)
	if len(out) == 0 && len(m.Outputs) > 0 {
		return nil, &chains.RevertError{Method: method, Reason: "empty return data"}
	}
	return parsed.Unpack(method, out)
}

func (r *Reader) parseABI(raw json.RawMessage) (abi.ABI, error) {
	key := string(raw)
	r.mu.Lock()
	defer r.mu.Unlock()
	if parsed, ok := r.abis[key]; ok {
		return parsed, nil
	}
	parsed, err := ParseABI(raw)
	if err != nil {
		return abi.ABI{}, err
	}
	r.abis[key] = parsed
	return parsed, nil
}

func stringArgs(args []any) ([]string, bool) {
	out := make([]string, len(args))
	for i, a := range args {
		s, ok := a.(string)
		if !ok {
			return nil, false
		}
		out[i] = s
	}
	return out, true
}

// asRevert classifies err as a revert when the node reports one.
func asRevert(method string, err error) *chains.RevertError {
	var rpcErr rpc.Error
	isRevert := strings.Contains(strings.ToLower(err.Error()), "execution reverted")
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == revertErrorCode {
		isRevert = true
	}
	if !isRevert {
		return nil
	}
	revert := &chains.RevertError{Method: method}
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if s, ok := dataErr.ErrorData().(string); ok {
			if data, decErr := hexutil.Decode(s); decErr == nil {
				if reason, unpackErr := abi.UnpackRevert(data); unpackErr == nil {
					revert.Reason = reason
				}
			}
		}
	}
	return revert
}
