package util

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
)

// NewID returns 2*size hex characters of crypto randomness, optionally
// prefixed with "prefix_".
func NewID(prefix string, size int) string {
	bytes := make([]byte, size)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}

// NewCSRFToken returns a 64 character hex token.
func NewCSRFToken() string {
	return NewID("", 32)
}

// NewInviteToken returns a 32 character hex token.
func NewInviteToken() string {
	return NewID("", 16)
}

// NewTransferCode returns a zero padded six digit code.
func NewTransferCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("generate transfer code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
