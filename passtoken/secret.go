package passtoken

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

// SecretBytes is the entropy of a bearer secret: 256 bits.
const SecretBytes = 32

// NewSecret returns a lowercase hex string of SecretBytes random bytes.
func NewSecret() (string, error) {
	buf := make([]byte, SecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("passtoken: generate secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// NormalizeSecret trims whitespace and lower-cases a user-supplied secret.
func NormalizeSecret(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ValidSecret reports whether s has the shape of a secret produced by NewSecret.
func ValidSecret(s string) bool {
	if len(s) != hex.EncodedLen(SecretBytes) {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
