package store

import (
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/ry-ht/cortex/internal/types"
)

// Cursor is the opaque pagination token: base64 over a small JSON document.
type Cursor struct {
	LastID        string    `json:"last_id"`
	LastTimestamp time.Time `json:"last_timestamp"`
	Offset        int       `json:"offset"`
}

// EncodeCursor serializes a cursor to its opaque form.
func EncodeCursor(c Cursor) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", types.Internal("failed to serialize cursor", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeCursor parses an opaque cursor. Malformed input is InvalidInput.
func DecodeCursor(encoded string) (Cursor, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return Cursor{}, types.InvalidInput("malformed cursor encoding")
	}
	var c Cursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return Cursor{}, types.InvalidInput("malformed cursor payload")
	}
	return c, nil
}
