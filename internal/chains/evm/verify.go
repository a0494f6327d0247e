package evm

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/pendergraft/deployrecon/internal/chains"
)

// ErrCreationCodeMismatch is returned when a creation transaction does not
// start with the artifact's creation bytecode.
var ErrCreationCodeMismatch = errors.New("creation input does not start with artifact creation bytecode")

// CompareOptions tunes bytecode comparison for linked or immutable-bearing
// contracts.
type CompareOptions struct {
	// Libraries maps "path:Name" (or bare "Name") to deployed addresses.
	Libraries map[string]string
	// LinkRefs are the runtime offsets of library placeholders.
	LinkRefs map[string][]chains.CodeRange
	// Immutables are runtime ranges written by the constructor.
	Immutables []chains.CodeRange
}

// CompareBytecode reconciles deployed runtime code with the artifact's
// runtime code.
func CompareBytecode(deployed, artifact []byte, opts CompareOptions) *chains.VerifyResult {
	// Handle hex-encoded bytecode
	if len(artifact) > 2 && artifact[0] == '0' && artifact[1] == 'x' {
		decoded, err := hex.DecodeString(string(artifact[2:]))
		if err == nil {
			artifact = decoded
		}
	}

	result := &chains.VerifyResult{
		DeployedLength: len(deployed),
		ArtifactLength: len(artifact),
	}

	if len(deployed) == 0 {
		result.Verdict = chains.NoCodeAtAddress
		result.Message = "No code at address"
		return result
	}

	if len(opts.Libraries) > 0 && len(opts.LinkRefs) > 0 {
		artifact = LinkLibraries(artifact, opts.LinkRefs, opts.Libraries)
	}
	if len(opts.Immutables) > 0 {
		deployed = maskRanges(deployed, opts.Immutables)
	}

	if bytes.Equal(deployed, artifact) {
		result.Verdict = chains.ExactMatch
		result.Message = "Bytecode matches exactly including metadata"
		return result
	}

	deployedStripped := StripMetadata(deployed)
	artifactStripped := StripMetadata(artifact)

	if bytes.Equal(deployedStripped, artifactStripped) {
		result.Verdict = chains.MatchModuloMetadata
		result.Message = "Executable code matches, metadata differs (different source paths, comments, or build environment)"
		return result
	}

	result.Verdict = chains.Mismatch
	result.Message = describeMismatch(deployedStripped, artifactStripped)
	return result
}

func describeMismatch(deployed, artifact []byte) string {
	n := min(len(deployed), len(artifact))
	for i := 0; i < n; i++ {
		if deployed[i] != artifact[i] {
			return fmt.Sprintf("Bytecode does not match: first difference at byte %d (deployed %d bytes, artifact %d bytes without metadata)",
				i, len(deployed), len(artifact))
		}
	}
	return fmt.Sprintf("Bytecode does not match: length differs (deployed %d bytes, artifact %d bytes without metadata)",
		len(deployed), len(artifact))
}

// maskRanges returns a copy of code with the given ranges zeroed.
func maskRanges(code []byte, ranges []chains.CodeRange) []byte {
	out := bytes.Clone(code)
	for _, r := range ranges {
		if r.Start < 0 || r.Length <= 0 || r.Start+r.Length > len(out) {
			continue
		}
		clear(out[r.Start : r.Start+r.Length])
	}
	return out
}

// LinkLibraries writes library addresses into the placeholder ranges of code.
// Libraries are matched by fully qualified name first, then by bare name.
func LinkLibraries(code []byte, refs map[string][]chains.CodeRange, libraries map[string]string) []byte {
	out := bytes.Clone(code)
	for name, ranges := range refs {
		addr, ok := libraries[name]
		if !ok {
			if idx := strings.LastIndex(name, ":"); idx != -1 {
				addr, ok = libraries[name[idx+1:]]
			}
		}
		if !ok || !common.IsHexAddress(addr) {
			continue
		}
		raw := common.HexToAddress(addr).Bytes()
		for _, r := range ranges {
			if r.Length != len(raw) || r.Start < 0 || r.Start+r.Length > len(out) {
				continue
			}
			copy(out[r.Start:], raw)
		}
	}
	return out
}

// LibraryPlaceholder returns the placeholder solc emits for the fully
// qualified library name.
func LibraryPlaceholder(fullyQualifiedName string) string {
	hash := crypto.Keccak256([]byte(fullyQualifiedName))
	return "__$" + hex.EncodeToString(hash)[:34] + "$__"
}

// SplitConstructorArgs returns the ABI-encoded constructor arguments that
// follow creation in a contract creation input. The creation prefix must
// match the artifact, allowing only the metadata trailer to differ.
func SplitConstructorArgs(input, creation []byte) ([]byte, error) {
	if len(creation) == 0 {
		return nil, errors.New("artifact has no creation bytecode")
	}
	if len(input) < len(creation) {
		return nil, fmt.Errorf("%w: input is %d bytes, creation code %d bytes", ErrCreationCodeMismatch, len(input), len(creation))
	}
	prefix := input[:len(creation)]
	if !bytes.Equal(prefix, creation) && !bytes.Equal(StripMetadata(prefix), StripMetadata(creation)) {
		return nil, ErrCreationCodeMismatch
	}
	return bytes.Clone(input[len(creation):]), nil
}
