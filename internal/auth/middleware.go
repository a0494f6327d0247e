package auth

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

type contextKey string

const fingerprintContextKey contextKey = "tokenFingerprint"

// FingerprintFromContext returns the fingerprint of the token that
// authorized the request, or "" for anonymous requests.
func FingerprintFromContext(ctx context.Context) string {
	if fp, ok := ctx.Value(fingerprintContextKey).(string); ok {
		return fp
	}
	return ""
}

// tokenFromRequest reads X-API-Key or a bearer Authorization header.
func tokenFromRequest(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	if h := r.Header.Get("Authorization"); len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// Keyring holds the hashes of accepted tokens.
type Keyring struct {
	hashes [][]byte
}

// NewKeyring hashes tokens. Empty entries are skipped.
func NewKeyring(tokens []string) *Keyring {
	k := &Keyring{}
	for _, t := range tokens {
		if t = strings.TrimSpace(t); t != "" {
			k.hashes = append(k.hashes, []byte(HashToken(t)))
		}
	}
	return k
}

// Empty reports whether no tokens are configured.
func (k *Keyring) Empty() bool {
	return len(k.hashes) == 0
}

// Match returns the hash of token when it is accepted.
func (k *Keyring) Match(token string) (string, bool) {
	h := []byte(HashToken(token))
	matched := ""
	for _, candidate := range k.hashes {
		// compare every entry so timing does not reveal the position
		if subtle.ConstantTimeCompare(h, candidate) == 1 {
			matched = string(candidate)
		}
	}
	return matched, matched != ""
}

// WriteMiddleware requires a valid token on requests that are not GET,
// HEAD or OPTIONS. With an empty keyring every request passes.
func WriteMiddleware(k *Keyring, writeError func(w http.ResponseWriter, status int, code, message string)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if k == nil || k.Empty() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}

			token := tokenFromRequest(r)
			if token == "" {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "API token required")
				return
			}
			hash, ok := k.Match(token)
			if !ok {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid API token")
				return
			}

			ctx := context.WithValue(r.Context(), fingerprintContextKey, Fingerprint(hash))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
