package registry

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

const secretPrefix = "whsec_"

// generateSecret returns a new signing secret: whsec_ followed by
// 32 bytes of cryptographic randomness, hex encoded.
func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	return secretPrefix + hex.EncodeToString(buf), nil
}
