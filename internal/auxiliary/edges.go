// Package aux maintains the advisory caches described in spec §3.3 and
// §4.6: the caused_by edge projection and the semantic embedding
// projection. Both are rebuildable from the canonical table; correctness
// of any read path must never depend on either being populated or current.
package aux

import (
	"context"
	"fmt"

	"github.com/hazyhaar/receiptgate/internal/store"
)

// RebuildEdges truncates and rebuilds receipt_edges for tenantID from the
// canonical table's caused_by_receipt_id column (spec §4.6 edge builder:
// "rebuild is equivalent to full truncation followed by rebuild").
func RebuildEdges(ctx context.Context, s *store.Store, tenantID string) (int, error) {
	tx, err := s.BeginWrite(ctx)
	if err != nil {
		return 0, fmt.Errorf("beginning write transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, s.Rebind(`DELETE FROM receipt_edges WHERE tenant_id = ?`), tenantID); err != nil {
		return 0, fmt.Errorf("truncating edges: %w", err)
	}

	insert := s.Rebind(`
		INSERT INTO receipt_edges (from_receipt_id, to_receipt_id, edge_type, tenant_id)
		SELECT caused_by_receipt_id, receipt_id, 'caused_by', tenant_id
		FROM receipts
		WHERE tenant_id = ? AND caused_by_receipt_id <> ''`)
	res, err := tx.ExecContext(ctx, insert, tenantID)
	if err != nil {
		return 0, fmt.Errorf("rebuilding edges: %w", err)
	}
	n, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing edge rebuild: %w", err)
	}
	return int(n), nil
}

// UpsertEdge inserts one caused_by edge outside any transaction. The
// ledger's write path does not call it: it writes its edge inside the
// append transaction through its own insert. It is idempotent because (tenant_id, from_receipt_id, to_receipt_id, edge_type)
// is the table's primary key.
func UpsertEdge(ctx context.Context, s *store.Store, tenantID, fromReceiptID, toReceiptID string) error {
	query := s.Rebind(`
		INSERT INTO receipt_edges (from_receipt_id, to_receipt_id, edge_type, tenant_id)
		VALUES (?, ?, 'caused_by', ?)
		ON CONFLICT DO NOTHING`)
	_, err := s.DB.ExecContext(ctx, query, fromReceiptID, toReceiptID, tenantID)
	return err
}
