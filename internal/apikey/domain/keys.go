package domain

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
)

const (
	KeyPrefix      = "af_live_"
	keySecretBytes = 32
)

// HashAPIKey hashes the raw API key the same way at issue and lookup.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// GenerateAPIKey returns a new raw key and its hash.
func GenerateAPIKey() (string, string, error) {
	secret := make([]byte, keySecretBytes)
	if _, err := rand.Read(secret); err != nil {
		return "", "", err
	}
	plain := KeyPrefix + hex.EncodeToString(secret)
	return plain, HashAPIKey(plain), nil
}
