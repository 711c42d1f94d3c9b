// Package auth issues and verifies the opaque bearer tokens players
// authenticate with. Only a token's SHA-256 digest is stored, so the
// database never holds a usable credential.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// NewToken mints a fresh bearer token. It is shown to the player once
// at registration and never stored.
func NewToken() string {
	return uuid.NewString()
}

// HashToken returns the hex digest stored in place of the token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// BearerToken extracts the token from the Authorization header. Empty
// when the header is missing or carries another scheme.
func BearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}

// Equal compares two secrets without leaking where they diverge.
func Equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
