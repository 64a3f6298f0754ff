package websocket

import (
	"crypto/rand"
	"fmt"
	"io"
)

// generateMaskKey returns a fresh 4-byte masking key, drawn from a
// cryptographically acceptable RNG as required by
// https://datatracker.ietf.org/doc/html/rfc6455#section-10.3.
func generateMaskKey() ([4]byte, error) {
	var key [4]byte
	if _, err := io.ReadFull(rand.Reader, key[:]); err != nil {
		return key, fmt.Errorf("failed to generate frame masking key: %w", err)
	}
	return key, nil
}

// maskBytes writes the XOR of src and a rotating key into dst. dst and
// src may be the same slice (masking is its own inverse).
func maskBytes(dst, src []byte, key [4]byte) {
	for i := range src {
		dst[i] = src[i] ^ key[i%4]
	}
}
