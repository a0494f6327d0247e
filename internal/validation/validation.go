// Package validation provides input validation for deployrecon.
package validation

import (
	"errors"
	"regexp"
	"strings"

	"golang.org/x/mod/semver"
)

// Network names: lowercase alphanumeric with hyphens, 2-64 chars
var networkNameRegex = regexp.MustCompile(`^[a-z][a-z0-9-]{0,62}[a-z0-9]$`)

// solc long versions: 0.8.20+commit.a1b10012, optionally v-prefixed
var compilerVersionRegex = regexp.MustCompile(`^v?(\d+\.\d+\.\d+)(-nightly\.\d{4}\.\d{1,2}\.\d{1,2})?(\+commit\.[0-9a-f]{8})?$`)

// ValidateNetworkName validates a network name
func ValidateNetworkName(name string) error {
	if len(name) < 2 {
		return errors.New("network name too short (min 2 chars)")
	}
	if len(name) > 64 {
		return errors.New("network name too long (max 64 chars)")
	}
	if !networkNameRegex.MatchString(name) {
		return errors.New("invalid network name: must be lowercase alphanumeric with hyphens, starting with a letter")
	}
	if strings.Contains(name, "--") {
		return errors.New("invalid characters in network name")
	}
	return nil
}

// ValidateAddress validates an Ethereum address
func ValidateAddress(addr string) error {
	if len(addr) != 42 {
		return errors.New("invalid address length: must be 42 characters (0x + 40 hex)")
	}
	if !strings.HasPrefix(addr, "0x") {
		return errors.New("invalid address: must start with 0x")
	}
	if !isHex(addr[2:]) {
		return errors.New("invalid address: contains non-hex characters")
	}
	return nil
}

// ValidateTxHash validates a transaction hash
func ValidateTxHash(hash string) error {
	if len(hash) != 66 {
		return errors.New("invalid transaction hash length: must be 66 characters (0x + 64 hex)")
	}
	if !strings.HasPrefix(hash, "0x") {
		return errors.New("invalid transaction hash: must start with 0x")
	}
	if !isHex(hash[2:]) {
		return errors.New("invalid transaction hash: contains non-hex characters")
	}
	return nil
}

func isHex(s string) bool {
	for _, c := range s {
		isDigit := c >= '0' && c <= '9'
		isLowerHex := c >= 'a' && c <= 'f'
		isUpperHex := c >= 'A' && c <= 'F'
		if !isDigit && !isLowerHex && !isUpperHex {
			return false
		}
	}
	return true
}

// ValidateChainID validates a chain ID
func ValidateChainID(chainID uint64) error {
	if chainID == 0 {
		return errors.New("chain ID must be positive")
	}
	return nil
}

// ValidateCompilerVersion validates a solc version string. Explorers need
// the full build ("0.8.20+commit.a1b10012"); set requireCommit to enforce it.
func ValidateCompilerVersion(v string, requireCommit bool) error {
	if v == "" {
		return errors.New("compiler version cannot be empty")
	}
	m := compilerVersionRegex.FindStringSubmatch(v)
	if m == nil {
		return errors.New("invalid compiler version: must be in format X.Y.Z+commit.<8 hex>")
	}
	if !semver.IsValid("v" + m[1]) {
		return errors.New("invalid compiler version: not a semantic version")
	}
	if requireCommit && m[3] == "" {
		return errors.New("compiler version must include the commit (e.g. 0.8.20+commit.a1b10012)")
	}
	return nil
}

// CompilerRelease returns the X.Y.Z part of a solc version, or "" when the
// version cannot be parsed.
func CompilerRelease(v string) string {
	m := compilerVersionRegex.FindStringSubmatch(v)
	if m == nil {
		return ""
	}
	return m[1]
}

// ExplorerCompilerVersion returns the "v"-prefixed form explorers expect.
func ExplorerCompilerVersion(v string) string {
	return "v" + strings.TrimPrefix(v, "v")
}

// CompareVersions compares the releases of two solc versions.
// Returns -1 if v1 < v2, 0 if v1 == v2, 1 if v1 > v2
func CompareVersions(v1, v2 string) int {
	return semver.Compare("v"+CompilerRelease(v1), "v"+CompilerRelease(v2))
}
