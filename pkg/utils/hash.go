package utils

import (
	"crypto/sha256"
	"encoding/hex"
)

// ContentSHA256 fingerprints a rendered document so repeated visits can be compared.
func ContentSHA256(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
