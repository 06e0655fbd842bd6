package derive

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// cursor is the opaque pagination token returned to callers of list_inbox
// and search_receipts. It carries the last-seen sort
// key so a page boundary survives interleaved writes, per spec §5
// "cursor pagination, not offset".
type cursor struct {
	CreatedAt string `json:"created_at"`
	UUID      string `json:"uuid"`
}

func encodeCursor(c cursor) (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func decodeCursor(s string) (cursor, error) {
	var c cursor
	if s == "" {
		return c, nil
	}
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return c, fmt.Errorf("invalid cursor encoding: %w", err)
	}
	if err := json.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("invalid cursor payload: %w", err)
	}
	return c, nil
}
