// Package uid provides unique identifier generation for MediaShelf.
package uid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// New generates a 32-character lowercase hex identifier. It is a UUIDv7 with
// the dashes removed, so identifiers sort by creation time.
func New() string {
	id, err := uuid.NewV7()
	if err != nil {
		b := make([]byte, 16)
		if _, err := rand.Read(b); err != nil {
			return fmt.Sprintf("%032x", time.Now().UnixNano())
		}
		return hex.EncodeToString(b)
	}
	var buf [32]byte
	hex.Encode(buf[:], id[:])
	return string(buf[:])
}
