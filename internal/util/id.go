package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a 24-character hex identifier, the stable id format shared by
// every collection.
func NewID() string {
	bytes := make([]byte, 12)
	_, _ = rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

// IsValidID reports whether id has the shape produced by NewID. Submitted
// documents carry placeholder ids ("", "undefined") before their first save;
// those must never be mistaken for existing identities.
func IsValidID(id string) bool {
	if len(id) != 24 {
		return false
	}
	_, err := hex.DecodeString(id)
	return err == nil
}
