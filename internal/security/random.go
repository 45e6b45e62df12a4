package security

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

const opaqueTokenBytes = 32

// NewOpaqueToken returns 256 bits of crypto/rand entropy, base64url encoded.
func NewOpaqueToken() (string, error) {
	buf := make([]byte, opaqueTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate opaque token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
