// Package derive implements the read side of ReceiptGate: inbox, chain
// walk, task listing, header search, and exact fetch, all as snapshot
// queries against the canonical table (spec §4.5).
package derive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hazyhaar/receiptgate/internal/ledger"
	"github.com/hazyhaar/receiptgate/internal/receipt"
	"github.com/hazyhaar/receiptgate/internal/store"
)

const (
	DefaultLimit = 50
	MaxLimit     = 500

	DefaultMaxDepth = 64
	HardMaxDepth    = 1024
)

type Engine struct {
	Store    *store.Store
	TenantID string
}

func New(st *store.Store, tenantID string) *Engine {
	return &Engine{Store: st, TenantID: tenantID}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// Page is the shared list+cursor result shape for inbox and search queries.
type Page struct {
	Receipts   []receipt.Receipt
	NextCursor string
}

// GetReceipt performs an exact fetch by receipt_id or uuid (spec §4.5
// get_receipt).
func (e *Engine) GetReceipt(ctx context.Context, receiptID, uuid string) (receipt.Receipt, *ledger.Error) {
	if receiptID == "" && uuid == "" {
		return receipt.Receipt{}, ledger.New(ledger.KindValidationFailed, "one of receipt_id or uuid is required")
	}

	tx, err := e.Store.BeginRead(ctx)
	if err != nil {
		return receipt.Receipt{}, ledger.Wrap(ledger.KindBackend, "beginning read transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	var query string
	var arg string
	if uuid != "" {
		query = e.Store.Rebind(`SELECT ` + receipt.Columns + ` FROM receipts WHERE tenant_id = ? AND uuid = ?`)
		arg = uuid
	} else {
		query = e.Store.Rebind(`SELECT ` + receipt.Columns + ` FROM receipts WHERE tenant_id = ? AND receipt_id = ?`)
		arg = receiptID
	}

	row := tx.QueryRowContext(ctx, query, e.TenantID, arg)
	r, err := receipt.Scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return receipt.Receipt{}, ledger.New(ledger.KindNotFound, "no such receipt")
	}
	if err != nil {
		return receipt.Receipt{}, ledger.Wrap(ledger.KindBackend, "reading receipt", err)
	}
	return r, nil
}

// ListTaskReceipts returns every receipt for task_id, oldest first (spec
// §4.5 list_task_receipts).
func (e *Engine) ListTaskReceipts(ctx context.Context, taskID string) ([]receipt.Receipt, *ledger.Error) {
	if taskID == "" {
		return nil, ledger.NewField(ledger.KindValidationFailed, "task_id", "is required")
	}

	tx, err := e.Store.BeginRead(ctx)
	if err != nil {
		return nil, ledger.Wrap(ledger.KindBackend, "beginning read transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := e.Store.Rebind(`SELECT ` + receipt.Columns + ` FROM receipts WHERE tenant_id = ? AND task_id = ? ORDER BY created_at ASC, receipt_id ASC`)
	rows, err := tx.QueryContext(ctx, query, e.TenantID, taskID)
	if err != nil {
		return nil, ledger.Wrap(ledger.KindBackend, "querying task receipts", err)
	}
	defer rows.Close()

	out, serr := scanAll(rows)
	if serr != nil {
		return nil, ledger.Wrap(ledger.KindBackend, "scanning task receipts", serr)
	}
	return out, nil
}

// ListInbox returns the open-obligation frontier for recipient: the latest
// receipt per obligation_id where recipient_ai matches, the latest phase is
// non-terminal, and no terminal receipt exists anywhere in that obligation
// (spec §4.5 list_inbox).
func (e *Engine) ListInbox(ctx context.Context, recipientAI string, limit int, cursorTok string) (Page, *ledger.Error) {
	if recipientAI == "" {
		return Page{}, ledger.NewField(ledger.KindValidationFailed, "recipient_ai", "is required")
	}
	limit = clampLimit(limit)

	cur, cerr := decodeCursor(cursorTok)
	if cerr != nil {
		return Page{}, ledger.NewField(ledger.KindValidationFailed, "cursor", cerr.Error())
	}

	tx, err := e.Store.BeginRead(ctx)
	if err != nil {
		return Page{}, ledger.Wrap(ledger.KindBackend, "beginning read transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	// The frontier is: per obligation_id, the most recent receipt; keep
	// only obligations whose most recent receipt is non-terminal AND that
	// have never had any terminal receipt at all. A terminal receipt can be
	// followed only by nothing; closing an obligation is permanent.
	query := e.Store.Rebind(`
		WITH latest AS (
			SELECT r.*, ROW_NUMBER() OVER (PARTITION BY r.obligation_id ORDER BY r.created_at DESC, r.receipt_id DESC) AS rn
			FROM receipts r
			WHERE r.tenant_id = ?
		),
		terminated AS (
			SELECT DISTINCT obligation_id FROM receipts WHERE tenant_id = ? AND phase IN ('complete', 'escalate')
		)
		SELECT ` + qualify("latest", receipt.Columns) + `
		FROM latest
		LEFT JOIN terminated ON terminated.obligation_id = latest.obligation_id
		WHERE latest.rn = 1
		  AND latest.recipient_ai = ?
		  AND latest.phase NOT IN ('complete', 'escalate')
		  AND terminated.obligation_id IS NULL
		  AND (latest.created_at < ? OR (latest.created_at = ? AND latest.receipt_id < ?))
		ORDER BY latest.created_at DESC, latest.receipt_id DESC
		LIMIT ?`)

	hi := highCursorBound(cur)
	rows, err := tx.QueryContext(ctx, query, e.TenantID, e.TenantID, recipientAI, hi.createdAt, hi.createdAt, hi.receiptID, limit+1)
	if err != nil {
		return Page{}, ledger.Wrap(ledger.KindBackend, "querying inbox", err)
	}
	defer rows.Close()

	all, serr := scanAll(rows)
	if serr != nil {
		return Page{}, ledger.Wrap(ledger.KindBackend, "scanning inbox", serr)
	}
	return paginate(all, limit)
}

// SearchReceipts runs a header-only, AND-combined filter search (spec §4.5
// search_receipts).
type SearchFilters struct {
	RecipientAI        string
	CreatedBy          string
	Phase              string
	ObligationID       string
	TaskID             string
	ReceiptIDSubstring string
	Since              *time.Time
	Until              *time.Time
}

func (e *Engine) SearchReceipts(ctx context.Context, f SearchFilters, limit int, cursorTok string) (Page, *ledger.Error) {
	limit = clampLimit(limit)

	cur, cerr := decodeCursor(cursorTok)
	if cerr != nil {
		return Page{}, ledger.NewField(ledger.KindValidationFailed, "cursor", cerr.Error())
	}
	if f.Phase != "" && !receipt.Phase(f.Phase).Valid() {
		return Page{}, ledger.NewField(ledger.KindValidationFailed, "phase", "must be one of accepted, complete, escalate")
	}

	var where []string
	var args []any
	where = append(where, "tenant_id = ?")
	args = append(args, e.TenantID)

	addEq := func(col, val string) {
		if val != "" {
			where = append(where, col+" = ?")
			args = append(args, val)
		}
	}
	addEq("recipient_ai", f.RecipientAI)
	addEq("created_by", f.CreatedBy)
	addEq("phase", f.Phase)
	addEq("obligation_id", f.ObligationID)
	addEq("task_id", f.TaskID)

	if f.ReceiptIDSubstring != "" {
		where = append(where, `receipt_id LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(f.ReceiptIDSubstring)+"%")
	}
	if f.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, f.Since.UTC().Format(time.RFC3339Nano))
	}
	if f.Until != nil {
		where = append(where, "created_at < ?")
		args = append(args, f.Until.UTC().Format(time.RFC3339Nano))
	}

	hi := highCursorBound(cur)
	where = append(where, "(created_at < ? OR (created_at = ? AND receipt_id < ?))")
	args = append(args, hi.createdAt, hi.createdAt, hi.receiptID)

	query := e.Store.Rebind(`SELECT ` + receipt.Columns + ` FROM receipts WHERE ` + strings.Join(where, " AND ") + ` ORDER BY created_at DESC, receipt_id DESC LIMIT ?`)
	args = append(args, limit+1)

	tx, err := e.Store.BeginRead(ctx)
	if err != nil {
		return Page{}, ledger.Wrap(ledger.KindBackend, "beginning read transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return Page{}, ledger.Wrap(ledger.KindBackend, "querying search", err)
	}
	defer rows.Close()

	all, serr := scanAll(rows)
	if serr != nil {
		return Page{}, ledger.Wrap(ledger.KindBackend, "scanning search results", serr)
	}
	return paginate(all, limit)
}

func scanAll(rows *sql.Rows) ([]receipt.Receipt, error) {
	var out []receipt.Receipt
	for rows.Next() {
		r, err := receipt.Scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// paginate trims a limit+1-sized result set down to limit and, if there was
// a remainder, encodes the next cursor from the last returned row.
func paginate(rows []receipt.Receipt, limit int) (Page, *ledger.Error) {
	hasMore := len(rows) > limit
	if hasMore {
		rows = rows[:limit]
	}
	page := Page{Receipts: rows}
	if hasMore && len(rows) > 0 {
		last := rows[len(rows)-1]
		tok, err := encodeCursor(cursor{CreatedAt: last.CreatedAt.UTC().Format(time.RFC3339Nano), UUID: last.ReceiptID})
		if err != nil {
			return Page{}, ledger.Wrap(ledger.KindInternal, "encoding next cursor", err)
		}
		page.NextCursor = tok
	}
	return page, nil
}

type bound struct {
	createdAt string
	receiptID string
}

// highCursorBound returns the exclusive upper bound a query should page
// from: the cursor's position, or the maximum possible value on first page.
func highCursorBound(c cursor) bound {
	if c.CreatedAt == "" {
		return bound{createdAt: "9999-12-31T23:59:59.999999999Z", receiptID: string(rune(0x10FFFF))}
	}
	return bound{createdAt: c.CreatedAt, receiptID: c.UUID}
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// qualify prefixes every column in a Columns-style list with table, for use
// inside CTEs where the unqualified names would be ambiguous.
func qualify(table, columns string) string {
	fields := strings.Split(columns, ",")
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		out = append(out, fmt.Sprintf("%s.%s", table, f))
	}
	return strings.Join(out, ", ")
}
