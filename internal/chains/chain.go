// Package chains provides the chain-facing interfaces and shared types used
// by the reconciliation workflow: reading chain state, loading build
// artifacts and describing what was found.
package chains

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Reader performs read-only queries against a JSON-RPC endpoint.
//
// Implementations must reject malformed addresses and hashes before any
// network call, report transport failures as *TransportError and contract
// reverts as *RevertError. Readers never retry on their own.
type Reader interface {
	// ChainID returns the chain id reported by the endpoint.
	ChainID(ctx context.Context) (uint64, error)

	// CodeAt returns the runtime bytecode at address. An empty slice means
	// the address holds no code.
	CodeAt(ctx context.Context, address string) ([]byte, error)

	// Receipt returns the receipt for txHash, or ErrReceiptNotFound while
	// the transaction is unmined.
	Receipt(ctx context.Context, txHash string) (*Receipt, error)

	// TransactionInput returns the calldata of txHash.
	TransactionInput(ctx context.Context, txHash string) ([]byte, error)

	// Call performs an eth_call of method on address using the given ABI
	// fragment and returns the decoded outputs.
	Call(ctx context.Context, address string, abi json.RawMessage, method string, args ...any) ([]any, error)
}

// Signer builds, signs and broadcasts contract creation transactions.
//
// Signing and broadcasting are separate so a caller can persist the
// transaction hash before the transaction reaches the network.
type Signer interface {
	// Address returns the deployer address.
	Address() string

	// SignCreation signs a contract creation transaction carrying data.
	SignCreation(ctx context.Context, data []byte) (*SignedTx, error)

	// Broadcast sends a previously signed transaction.
	Broadcast(ctx context.Context, tx *SignedTx) error
}

// SignedTx is a signed, not necessarily broadcast, transaction.
type SignedTx struct {
	Hash             string `json:"hash"`
	From             string `json:"from"`
	Nonce            uint64 `json:"nonce"`
	PredictedAddress string `json:"predictedAddress"`
	Raw              []byte `json:"-"`
}

// Builder loads compiled artifacts produced by a specific build tool.
type Builder interface {
	Name() string        // "foundry", "hardhat"
	DisplayName() string // "Foundry", "Hardhat"
	ConfigFile() string  // "foundry.toml", "hardhat.config.js"

	// Detect reports whether dir is a project of this build tool.
	Detect(dir string) (bool, error)

	// Discover lists artifact ids available in dir.
	Discover(dir string, opts DiscoverOptions) ([]ArtifactID, error)

	// Load returns the artifact for id. It fails with ErrArtifactNotFound
	// when the build output is absent.
	Load(dir string, id ArtifactID) (*CompiledArtifact, error)

	// StandardJSONInput returns a verification-ready Standard-JSON-Input
	// for id.
	StandardJSONInput(dir string, id ArtifactID) (json.RawMessage, error)
}

// DiscoverOptions configures artifact discovery
type DiscoverOptions struct {
	// Contracts to include (empty = all)
	Contracts []string
	// Patterns to exclude (e.g., "Test*", "Mock*")
	Exclude []string
}

// ArtifactID identifies a contract in a build: its source path and name.
type ArtifactID struct {
	SourcePath   string `json:"sourcePath" toml:"source_path"`
	ContractName string `json:"contractName" toml:"contract"`
}

// ParseArtifactID parses "path/To.sol:Name" or a bare contract name.
func ParseArtifactID(s string) (ArtifactID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ArtifactID{}, fmt.Errorf("empty artifact id")
	}
	idx := strings.LastIndex(s, ":")
	if idx == -1 {
		return ArtifactID{ContractName: s}, nil
	}
	id := ArtifactID{SourcePath: s[:idx], ContractName: s[idx+1:]}
	if id.SourcePath == "" || id.ContractName == "" {
		return ArtifactID{}, fmt.Errorf("invalid artifact id %q: want path:Name", s)
	}
	return id, nil
}

// String returns the fully qualified name used by explorers ("path:Name").
func (id ArtifactID) String() string {
	if id.SourcePath == "" {
		return id.ContractName
	}
	return id.SourcePath + ":" + id.ContractName
}

// CompiledArtifact is a build output. It is never mutated after loading.
type CompiledArtifact struct {
	ContractName     string          `json:"contractName"`
	SourcePath       string          `json:"sourcePath"`
	License          string          `json:"license,omitempty"`
	ABI              json.RawMessage `json:"abi"`
	CreationBytecode []byte          `json:"-"`
	RuntimeBytecode  []byte          `json:"-"`
	Compiler         EVMCompiler     `json:"compiler"`

	// ImmutableRefs lists runtime byte ranges filled in at construction.
	ImmutableRefs []CodeRange `json:"immutableRefs,omitempty"`

	// LinkRefs maps fully qualified library names to the runtime ranges
	// holding their placeholders.
	LinkRefs map[string][]CodeRange `json:"linkRefs,omitempty"`

	// Builder is the name of the builder that produced the artifact.
	Builder string `json:"builder"`
}

// ID returns the artifact id.
func (a *CompiledArtifact) ID() ArtifactID {
	return ArtifactID{SourcePath: a.SourcePath, ContractName: a.ContractName}
}

// CodeRange is a byte range inside bytecode.
type CodeRange struct {
	Start  int `json:"start"`
	Length int `json:"length"`
}

// EVMCompiler contains EVM compiler details
type EVMCompiler struct {
	Version      string          `json:"version"` // "v0.8.20+commit.a1b2c3d4"
	Optimizer    OptimizerConfig `json:"optimizer"`
	EVMVersion   string          `json:"evmVersion"` // "paris", "shanghai"
	ViaIR        bool            `json:"viaIR"`
	BytecodeHash string          `json:"bytecodeHash,omitempty"` // "ipfs", "bzzr1", "none"
}

// OptimizerConfig contains optimizer settings
type OptimizerConfig struct {
	Enabled bool `json:"enabled"`
	Runs    int  `json:"runs"`
}

// String renders the settings compactly for diagnostics.
func (c EVMCompiler) String() string {
	opt := "off"
	if c.Optimizer.Enabled {
		opt = fmt.Sprintf("on, runs=%d", c.Optimizer.Runs)
	}
	s := fmt.Sprintf("solc %s, optimizer %s, evm %s", c.Version, opt, c.EVMVersion)
	if c.ViaIR {
		s += ", via-ir"
	}
	return s
}

// Equivalent reports whether two settings would produce the same bytecode.
func (c EVMCompiler) Equivalent(other EVMCompiler) bool {
	if strings.TrimPrefix(c.Version, "v") != strings.TrimPrefix(other.Version, "v") {
		return false
	}
	if c.Optimizer.Enabled != other.Optimizer.Enabled {
		return false
	}
	if c.Optimizer.Enabled && c.Optimizer.Runs != other.Optimizer.Runs {
		return false
	}
	return c.EVMVersion == other.EVMVersion && c.ViaIR == other.ViaIR
}

// Receipt is the subset of a transaction receipt the workflow needs.
type Receipt struct {
	TxHash          string `json:"txHash"`
	BlockNumber     uint64 `json:"blockNumber"`
	GasUsed         uint64 `json:"gasUsed"`
	Success         bool   `json:"success"`
	ContractAddress string `json:"contractAddress,omitempty"`
}

// Verdict is the bytecode reconciliation outcome.
type Verdict string

const (
	ExactMatch          Verdict = "exact_match"
	MatchModuloMetadata Verdict = "match_modulo_metadata"
	Mismatch            Verdict = "mismatch"
	NoCodeAtAddress     Verdict = "no_code_at_address"
)

// Matched reports whether the verdict counts as a match.
func (v Verdict) Matched() bool {
	return v == ExactMatch || v == MatchModuloMetadata
}

// VerifyResult contains bytecode reconciliation results
type VerifyResult struct {
	Verdict        Verdict `json:"verdict"`
	Message        string  `json:"message"`
	DeployedLength int     `json:"deployedLength"`
	ArtifactLength int     `json:"artifactLength"`
}

// Match reports whether the bytecode matched.
func (r *VerifyResult) Match() bool {
	return r.Verdict.Matched()
}

// Err returns the error matching the verdict, or nil on a match.
func (r *VerifyResult) Err() error {
	switch r.Verdict {
	case NoCodeAtAddress:
		return ErrNoCodeAtAddress
	case Mismatch:
		return ErrBytecodeMismatch
	}
	return nil
}

// CallKey identifies a contract call result inside a snapshot.
type CallKey struct {
	Selector string `json:"selector"`
	ArgsHash string `json:"argsHash"`
}

// ChainSnapshot is the on-chain state read in one reconciliation run.
// Snapshots are never reused across runs.
type ChainSnapshot struct {
	Address         string          `json:"address"`
	RuntimeBytecode []byte          `json:"-"`
	IsContract      bool            `json:"isContract"`
	CallResults     map[CallKey]any `json:"-"`
}

// Snapshot reads the code at address.
func Snapshot(ctx context.Context, r Reader, address string) (*ChainSnapshot, error) {
	code, err := r.CodeAt(ctx, address)
	if err != nil {
		return nil, err
	}
	return &ChainSnapshot{
		Address:         address,
		RuntimeBytecode: code,
		IsContract:      len(code) > 0,
		CallResults:     make(map[CallKey]any),
	}, nil
}
