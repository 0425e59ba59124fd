package util

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

// NewID returns a URL-safe hex string ID for internal bookkeeping.
func NewID() string {
	b := make([]byte, 12)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// NewUUID returns a random UUID string. User and gift IDs are UUIDs because
// the public API validates them as such.
func NewUUID() string {
	return uuid.NewString()
}

// IsUUID reports whether the value parses as a UUID.
func IsUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}
