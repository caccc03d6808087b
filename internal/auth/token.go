package auth

import (
	"crypto/rand"
	"encoding/base64"
)

// NewToken returns 32 random bytes, URL-safe encoded, after prefix.
func NewToken(prefix string) (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return prefix + base64.RawURLEncoding.EncodeToString(b), nil
}
