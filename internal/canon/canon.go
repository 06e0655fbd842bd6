// Package canon produces the deterministic canonical form of a receipt
// candidate and its SHA-256 idempotency hash, per spec §4.2.
package canon

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/hazyhaar/receiptgate/internal/receipt"
)

// excludedFromHash lists the server-assigned fields never included in the
// hashed preimage, even though some of them (uuid) also appear on
// receipt.Candidate for idempotent-replay convenience.
var excludedFromHash = map[string]bool{
	"canonical_hash": true,
	"uuid":           true,
	"created_at":     true,
	"tenant_id":      true,
}

// Bytes returns the canonical JSON preimage for c: object keys sorted
// lexicographically at every level, no insignificant whitespace, the
// excluded fields stripped.
func Bytes(c receipt.Candidate) ([]byte, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	for k := range excludedFromHash {
		delete(m, k)
	}
	return canonicalize(m)
}

// Hash returns the lowercase hex SHA-256 of the canonical bytes.
func Hash(c receipt.Candidate) (string, error) {
	b, err := Bytes(c)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// canonicalize renders v as JSON with object keys sorted recursively and no
// insignificant whitespace. encoding/json already emits the shortest
// round-trip numeric form and literal true/false/null, so only key
// ordering needs hand-rolling.
func canonicalize(v any) ([]byte, error) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		out := []byte{'{'}
		for i, k := range keys {
			if i > 0 {
				out = append(out, ',')
			}
			kb, err := marshalNoEscape(k)
			if err != nil {
				return nil, err
			}
			out = append(out, kb...)
			out = append(out, ':')
			vb, err := canonicalize(val[k])
			if err != nil {
				return nil, err
			}
			out = append(out, vb...)
		}
		out = append(out, '}')
		return out, nil

	case []any:
		out := []byte{'['}
		for i, item := range val {
			if i > 0 {
				out = append(out, ',')
			}
			ib, err := canonicalize(item)
			if err != nil {
				return nil, err
			}
			out = append(out, ib...)
		}
		out = append(out, ']')
		return out, nil

	default:
		return marshalNoEscape(val)
	}
}

// marshalNoEscape marshals v without HTML-escaping <, >, &. The default
// json.Marshal behavior would make canonical bytes depend on which
// characters happen to appear in free-form body text.
func marshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
