package chains

import (
	"errors"
	"fmt"
)

// Common errors returned by readers, builders and the reconciler.
var (
	ErrInvalidAddress      = errors.New("invalid address")
	ErrInvalidTxHash       = errors.New("invalid transaction hash")
	ErrReceiptNotFound     = errors.New("receipt not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrCallReverted        = errors.New("contract call reverted")
	ErrArtifactNotFound    = errors.New("artifact not found")
	ErrNoCodeAtAddress     = errors.New("no code at address")
	ErrBytecodeMismatch    = errors.New("bytecode mismatch")
	ErrWrongChain          = errors.New("endpoint serves a different chain")
	ErrUnknownNetwork      = errors.New("unknown network")
)

// TransportError wraps a network or RPC failure. Callers may retry it.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport error: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransport reports whether err is a transport failure.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// RevertError is returned when a read-only call reverts.
type RevertError struct {
	Method string
	Reason string
}

func (e *RevertError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s: contract call reverted", e.Method)
	}
	return fmt.Sprintf("%s: contract call reverted: %s", e.Method, e.Reason)
}

// Is makes errors.Is(err, ErrCallReverted) hold for any revert.
func (e *RevertError) Is(target error) bool {
	return target == ErrCallReverted
}
