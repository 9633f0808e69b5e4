package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"os"
	"strings"
)

// HMACEnvKey names the env var holding the optional token-hash secret.
// #nosec G101 -- the name of an environment variable, not a credential.
const HMACEnvKey = "PLOT_TOKEN_HMAC_KEY"

// NewOpaqueToken returns a URL-safe random token of nBytes entropy.
// Used for session cookies and OAuth state values.
func NewOpaqueToken(nBytes int) (string, error) {
	if nBytes <= 0 {
		nBytes = 32
	}
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashTokenHex hashes a token for server-side storage so session state
// never holds the raw cookie value.
//
// If PLOT_TOKEN_HMAC_KEY is set, HMAC-SHA256 is used; otherwise plain
// SHA-256 (dev fallback).
func HashTokenHex(token string) string {
	key := strings.TrimSpace(os.Getenv(HMACEnvKey))
	if key == "" {
		sum := sha256.Sum256([]byte(token))
		return hex.EncodeToString(sum[:])
	}
	m := hmac.New(sha256.New, []byte(key))
	_, _ = m.Write([]byte(token))
	return hex.EncodeToString(m.Sum(nil))
}
