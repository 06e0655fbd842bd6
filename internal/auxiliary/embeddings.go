package aux

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"

	"github.com/hazyhaar/receiptgate/internal/receipt"
	"github.com/hazyhaar/receiptgate/internal/store"
)

// EmbeddingProvider turns text into a vector. This stays a narrow injected
// interface so production wiring can point it at any provider without this
// package knowing which one.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
}

// preimage is the deterministic text an embedding is computed over: the
// canonical body plus the header fields most useful for semantic recall.
func preimage(r receipt.Receipt) (string, error) {
	doc := struct {
		ObligationID string          `json:"obligation_id"`
		Phase        receipt.Phase   `json:"phase"`
		CreatedBy    string          `json:"created_by"`
		RecipientAI  string          `json:"recipient_ai"`
		Body         json.RawMessage `json:"body"`
	}{r.ObligationID, r.Phase, r.CreatedBy, r.RecipientAI, r.Body}
	b, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func contentHash(preimage string) string {
	sum := sha256.Sum256([]byte(preimage))
	return hex.EncodeToString(sum[:])
}

// RebuildEmbeddings recomputes embeddings for every receipt in tenantID
// whose stored content_hash is stale or missing, using provider. Returns
// the count of embeddings written.
func RebuildEmbeddings(ctx context.Context, s *store.Store, tenantID string, provider EmbeddingProvider) (int, error) {
	tx, err := s.BeginRead(ctx)
	if err != nil {
		return 0, fmt.Errorf("beginning read transaction: %w", err)
	}
	rows, err := tx.QueryContext(ctx, s.Rebind(`SELECT `+receipt.Columns+` FROM receipts WHERE tenant_id = ?`), tenantID)
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("listing receipts: %w", err)
	}
	var receipts []receipt.Receipt
	for rows.Next() {
		r, err := receipt.Scan(rows)
		if err != nil {
			rows.Close()
			_ = tx.Rollback()
			return 0, fmt.Errorf("scanning receipt: %w", err)
		}
		receipts = append(receipts, r)
	}
	rows.Close()
	if err := tx.Rollback(); err != nil {
		return 0, fmt.Errorf("closing read transaction: %w", err)
	}

	existing, err := existingHashes(ctx, s, tenantID, provider.Model())
	if err != nil {
		return 0, err
	}

	n := 0
	for _, r := range receipts {
		pre, err := preimage(r)
		if err != nil {
			return n, fmt.Errorf("building preimage for %s: %w", r.ReceiptID, err)
		}
		hash := contentHash(pre)
		if existing[r.ReceiptID] == hash {
			continue
		}
		vec, err := provider.Embed(ctx, pre)
		if err != nil {
			return n, fmt.Errorf("embedding %s: %w", r.ReceiptID, err)
		}
		if err := upsertEmbedding(ctx, s, tenantID, r.ReceiptID, provider.Model(), hash, vec); err != nil {
			return n, fmt.Errorf("storing embedding for %s: %w", r.ReceiptID, err)
		}
		n++
	}
	return n, nil
}

func existingHashes(ctx context.Context, s *store.Store, tenantID, model string) (map[string]string, error) {
	query := s.Rebind(`SELECT receipt_id, content_hash FROM receipt_embeddings WHERE tenant_id = ? AND model = ?`)
	rows, err := s.DB.QueryContext(ctx, query, tenantID, model)
	if err != nil {
		return nil, fmt.Errorf("listing existing embeddings: %w", err)
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var id, hash string
		if err := rows.Scan(&id, &hash); err != nil {
			return nil, err
		}
		out[id] = hash
	}
	return out, rows.Err()
}

func upsertEmbedding(ctx context.Context, s *store.Store, tenantID, receiptID, model, contentHash string, vec []float32) error {
	query := s.Rebind(`
		INSERT INTO receipt_embeddings (receipt_id, tenant_id, model, dims, vector, content_hash)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, receipt_id, model) DO UPDATE SET
			dims = excluded.dims, vector = excluded.vector, content_hash = excluded.content_hash`)
	_, err := s.DB.ExecContext(ctx, query, receiptID, tenantID, model, len(vec), encodeVector(vec), contentHash)
	return err
}

// encodeVector packs a float32 slice into a fixed-width big-endian byte
// string so both sqlite BLOB and postgres BYTEA columns store it unchanged.
func encodeVector(vec []float32) []byte {
	out := make([]byte, 4*len(vec))
	for i, f := range vec {
		bits := math.Float32bits(f)
		out[4*i] = byte(bits >> 24)
		out[4*i+1] = byte(bits >> 16)
		out[4*i+2] = byte(bits >> 8)
		out[4*i+3] = byte(bits)
	}
	return out
}
