package derive

import (
	"context"
	"database/sql"
	"errors"

	"github.com/hazyhaar/receiptgate/internal/ledger"
	"github.com/hazyhaar/receiptgate/internal/receipt"
)

// Direction selects which edges get_receipt_chain follows.
type Direction string

const (
	DirectionAncestors   Direction = "ancestors"
	DirectionDescendants Direction = "descendants"
	DirectionBoth        Direction = "both"
)

func (d Direction) Valid() bool {
	switch d {
	case DirectionAncestors, DirectionDescendants, DirectionBoth:
		return true
	}
	return false
}

// ChainEntry is one node in a chain-walk result, annotated with its
// distance from the starting receipt.
type ChainEntry struct {
	Receipt receipt.Receipt
	Depth   int
}

// GetReceiptChain walks caused_by_receipt_id edges depth-first from
// receiptID, cycle-safe via a visited set, bounded by maxDepth (spec §4.5
// get_receipt_chain).
func (e *Engine) GetReceiptChain(ctx context.Context, receiptID string, direction Direction, maxDepth int) ([]ChainEntry, *ledger.Error) {
	if receiptID == "" {
		return nil, ledger.NewField(ledger.KindValidationFailed, "receipt_id", "is required")
	}
	if direction == "" {
		direction = DirectionAncestors
	}
	if !direction.Valid() {
		return nil, ledger.NewField(ledger.KindValidationFailed, "direction", "must be one of ancestors, descendants, both")
	}
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	if maxDepth > HardMaxDepth {
		maxDepth = HardMaxDepth
	}

	tx, err := e.Store.BeginRead(ctx)
	if err != nil {
		return nil, ledger.Wrap(ledger.KindBackend, "beginning read transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	root, err := e.fetchByReceiptID(ctx, tx, receiptID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.New(ledger.KindNotFound, "no such receipt")
	}
	if err != nil {
		return nil, ledger.Wrap(ledger.KindBackend, "reading starting receipt", err)
	}

	w := &walker{engine: e, tx: tx, visited: map[string]bool{root.ReceiptID: true}}

	var out []ChainEntry
	out = append(out, ChainEntry{Receipt: root, Depth: 0})

	if direction == DirectionAncestors || direction == DirectionBoth {
		anc, werr := w.walk(ctx, root, 0, maxDepth, w.ancestorsOf)
		if werr != nil {
			return nil, werr
		}
		out = append(out, anc...)
	}
	if direction == DirectionDescendants || direction == DirectionBoth {
		desc, werr := w.walk(ctx, root, 0, maxDepth, w.descendantsOf)
		if werr != nil {
			return nil, werr
		}
		out = append(out, desc...)
	}
	return out, nil
}

type walker struct {
	engine  *Engine
	tx      *sql.Tx
	visited map[string]bool
}

type edgeFetcher func(ctx context.Context, r receipt.Receipt) ([]receipt.Receipt, error)

// walk performs a depth-first traversal from root using fetch to find each
// node's neighbors, skipping anything already in the visited set.
func (w *walker) walk(ctx context.Context, root receipt.Receipt, depth, maxDepth int, fetch edgeFetcher) ([]ChainEntry, *ledger.Error) {
	var out []ChainEntry
	if depth >= maxDepth {
		return out, nil
	}
	neighbors, err := fetch(ctx, root)
	if err != nil {
		return nil, ledger.Wrap(ledger.KindBackend, "querying chain edges", err)
	}
	for _, n := range neighbors {
		if w.visited[n.ReceiptID] {
			continue
		}
		w.visited[n.ReceiptID] = true
		out = append(out, ChainEntry{Receipt: n, Depth: depth + 1})
		rest, werr := w.walk(ctx, n, depth+1, maxDepth, fetch)
		if werr != nil {
			return nil, werr
		}
		out = append(out, rest...)
	}
	return out, nil
}

// ancestorsOf returns the (at most one) receipt that r.caused_by_receipt_id
// names, read from the canonical table. The edge projection is not consulted
// for ancestors, even when it is populated.
func (w *walker) ancestorsOf(ctx context.Context, r receipt.Receipt) ([]receipt.Receipt, error) {
	if r.CausedByReceiptID == "" {
		return nil, nil
	}
	parent, err := w.engine.fetchByReceiptID(ctx, w.tx, r.CausedByReceiptID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []receipt.Receipt{parent}, nil
}

// descendantsOf returns every receipt whose caused_by_receipt_id points at
// r, via the edge projection if it has rows for r, else the canonical table.
func (w *walker) descendantsOf(ctx context.Context, r receipt.Receipt) ([]receipt.Receipt, error) {
	if usingEdges, err := w.engine.edgesPopulated(ctx, w.tx); err == nil && usingEdges {
		return w.engine.descendantsViaEdges(ctx, w.tx, r.ReceiptID)
	}
	return w.engine.descendantsViaTable(ctx, w.tx, r.ReceiptID)
}

func (e *Engine) fetchByReceiptID(ctx context.Context, tx *sql.Tx, receiptID string) (receipt.Receipt, error) {
	query := e.Store.Rebind(`SELECT ` + receipt.Columns + ` FROM receipts WHERE tenant_id = ? AND receipt_id = ?`)
	row := tx.QueryRowContext(ctx, query, e.TenantID, receiptID)
	return receipt.Scan(row)
}

func (e *Engine) edgesPopulated(ctx context.Context, tx *sql.Tx) (bool, error) {
	query := e.Store.Rebind(`SELECT COUNT(*) FROM receipt_edges WHERE tenant_id = ?`)
	var n int
	if err := tx.QueryRowContext(ctx, query, e.TenantID).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (e *Engine) descendantsViaEdges(ctx context.Context, tx *sql.Tx, receiptID string) ([]receipt.Receipt, error) {
	query := e.Store.Rebind(`
		SELECT ` + qualify("r", receipt.Columns) + `
		FROM receipt_edges e
		JOIN receipts r ON r.tenant_id = e.tenant_id AND r.receipt_id = e.to_receipt_id
		WHERE e.tenant_id = ? AND e.from_receipt_id = ?
		ORDER BY r.created_at ASC`)
	rows, err := tx.QueryContext(ctx, query, e.TenantID, receiptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAll(rows)
}

func (e *Engine) descendantsViaTable(ctx context.Context, tx *sql.Tx, receiptID string) ([]receipt.Receipt, error) {
	query := e.Store.Rebind(`SELECT ` + receipt.Columns + ` FROM receipts WHERE tenant_id = ? AND caused_by_receipt_id = ? ORDER BY created_at ASC`)
	rows, err := tx.QueryContext(ctx, query, e.TenantID, receiptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAll(rows)
}
