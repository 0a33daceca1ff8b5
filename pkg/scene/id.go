package scene

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// IDLength is the length of a node id in hex characters.
const IDLength = 12

// NewID returns a fresh 12-hex-character node id. Ids are unique per process
// run and never reused while a node is tracked.
func NewID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])[:IDLength]
}

// ValidID reports whether s has the shape of a node id.
func ValidID(s string) bool {
	if len(s) != IDLength {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
