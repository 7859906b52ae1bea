package ticket

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// Ticket is a single-use pickup token bound 1:1 to an order. Once IsUsed
// flips to true it never reverts.
type Ticket struct {
	ID       int64     `json:"id"`
	OrderID  int64     `json:"order_id"`
	Code     string    `json:"code"`
	IsUsed   bool      `json:"is_used"`
	IssuedAt time.Time `json:"issued_at"`
}

// codeBytes gives 128 bits of entropy per code, hex-encoded to 32 chars.
const codeBytes = 16

// GenerateCode returns a new opaque redemption code from a cryptographically
// secure source.
func GenerateCode() (string, error) {
	buf := make([]byte, codeBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("ticket: failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
