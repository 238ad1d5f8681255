// Package auth validates bearer API keys against the configured hash list.
// Only SHA-256 hashes are stored; the plaintext key never touches disk.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"github.com/modelcascade/cascade/internal/config"
)

// Authenticator validates API keys against the configured key hashes.
type Authenticator struct {
	keys map[string]config.APIKeyConfig // keyhash -> key entry
}

// NewAuthenticator builds the hash lookup from configuration.
func NewAuthenticator(keys []config.APIKeyConfig) *Authenticator {
	a := &Authenticator{keys: make(map[string]config.APIKeyConfig, len(keys))}
	for _, key := range keys {
		a.keys[strings.ToLower(key.KeyHash)] = key
	}
	return a
}

// ValidateAPIKey hashes the presented key and checks it against the
// configured hashes. The final comparison is constant-time.
func (a *Authenticator) ValidateAPIKey(apiKey string) (config.APIKeyConfig, error) {
	keyHash := HashAPIKey(apiKey)

	entry, ok := a.keys[keyHash]
	if !ok {
		return config.APIKeyConfig{}, fmt.Errorf("invalid API key")
	}
	if subtle.ConstantTimeCompare([]byte(keyHash), []byte(strings.ToLower(entry.KeyHash))) != 1 {
		return config.APIKeyConfig{}, fmt.Errorf("invalid API key")
	}
	return entry, nil
}

// ExtractAPIKey extracts the bearer token from the Authorization header.
func ExtractAPIKey(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", fmt.Errorf("missing Authorization header")
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid Authorization header format")
	}
	if strings.ToLower(parts[0]) != "bearer" {
		return "", fmt.Errorf("unsupported authorization scheme")
	}
	return parts[1], nil
}

// HashAPIKey creates the SHA-256 hex digest stored in configuration.
func HashAPIKey(apiKey string) string {
	hash := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(hash[:])
}
