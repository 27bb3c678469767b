package util

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// GenerateID returns a unique id with a millisecond timestamp prefix and
// a random suffix, so ids sort roughly chronologically.
func GenerateID() string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the platform is broken; fall back to
		// the nanosecond clock rather than returning a colliding id.
		return fmt.Sprintf("%x-%x", time.Now().UnixMilli(), time.Now().UnixNano())
	}
	return fmt.Sprintf("%x-%s", time.Now().UnixMilli(), hex.EncodeToString(buf))
}
