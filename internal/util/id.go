// Package util holds the identifier generators shared by the service and
// storage layers.
package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a random 128-bit identifier, optionally tagged with a
// prefix so IDs are recognizable in logs and database rows.
func NewID(prefix string) string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}

// inviteAlphabet drops characters that read alike (0/O, 1/I/L) because
// invite codes get typed by hand and read aloud.
const inviteAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// InviteCode returns an 8-character team invite code.
func InviteCode() string {
	bytes := make([]byte, 8)
	_, _ = rand.Read(bytes)
	code := make([]byte, len(bytes))
	for i, b := range bytes {
		code[i] = inviteAlphabet[int(b)%len(inviteAlphabet)]
	}
	return string(code)
}
