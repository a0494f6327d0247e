// Package auth guards the server's write routes with static bearer tokens.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

const (
	// TokenPrefix is the prefix of generated tokens
	TokenPrefix = "dr_tok_"
	// TokenLength is the length of the random part of a token
	TokenLength = 32
)

// GenerateToken generates a new API token.
func GenerateToken() (string, error) {
	bytes := make([]byte, TokenLength)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("generating random bytes: %w", err)
	}
	return TokenPrefix + hex.EncodeToString(bytes), nil
}

// HashToken hashes a token. Configured tokens are held only as hashes.
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// Fingerprint is a short, loggable identifier of a token hash.
func Fingerprint(hash string) string {
	if len(hash) < 12 {
		return hash
	}
	return hash[:12]
}
