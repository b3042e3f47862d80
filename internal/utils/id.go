package utils

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// NewID returns a random identifier for a live socket. It is only used for
// log correlation and never leaves the process.
func NewID() string {
	id, err := uuid.NewRandom()
	if err == nil {
		return id.String()
	}

	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err == nil {
		return hex.EncodeToString(buf)
	}

	// Fallback to timestamp if crypto/rand is unavailable.
	return strconv.FormatInt(time.Now().UnixNano(), 10)
}
