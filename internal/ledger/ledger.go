// Package ledger implements the idempotent append protocol of spec §4.4:
// canonicalize, look up by (tenant_id, receipt_id), replay or conflict,
// parent/terminality checks, routing invariant, insert, optional edge
// projection, commit.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hazyhaar/receiptgate/internal/canon"
	"github.com/hazyhaar/receiptgate/internal/receipt"
	"github.com/hazyhaar/receiptgate/internal/store"
	"github.com/hazyhaar/receiptgate/internal/validate"
)

// Ledger is the write path: append-only, content-addressed commits.
type Ledger struct {
	Store            *store.Store
	Schema           *validate.CompiledSchema
	TenantID         string
	MaxBodyBytes     int
	EnableGraphLayer bool
}

func NewLedger(st *store.Store, schema *validate.CompiledSchema, tenantID string, maxBodyBytes int, enableGraphLayer bool) *Ledger {
	return &Ledger{
		Store:            st,
		Schema:           schema,
		TenantID:         tenantID,
		MaxBodyBytes:     maxBodyBytes,
		EnableGraphLayer: enableGraphLayer,
	}
}

// Submit validates, canonicalizes, and transactionally appends raw.
func (l *Ledger) Submit(ctx context.Context, raw json.RawMessage) (receipt.Receipt, *Error) {
	candidate, verr := validate.Validate(raw, l.MaxBodyBytes, l.Schema)
	if verr != nil {
		return receipt.Receipt{}, verr
	}

	hash, err := canon.Hash(candidate)
	if err != nil {
		return receipt.Receipt{}, Wrap(KindInternal, "computing canonical hash", err)
	}

	var committed receipt.Receipt
	var appendErr *Error

	retryErr := store.WithRetry(ctx, func() error {
		committed, appendErr = l.appendOnce(ctx, candidate, hash)
		if appendErr != nil && appendErr.Kind == KindBackend {
			return appendErr.Cause
		}
		return nil
	})
	if retryErr != nil && appendErr == nil {
		return receipt.Receipt{}, Wrap(KindBackend, "store operation failed", retryErr)
	}
	if appendErr != nil {
		return receipt.Receipt{}, appendErr
	}
	return committed, nil
}

func (l *Ledger) appendOnce(ctx context.Context, c receipt.Candidate, hash string) (receipt.Receipt, *Error) {
	tx, err := l.Store.BeginWrite(ctx)
	if err != nil {
		return receipt.Receipt{}, Wrap(KindBackend, "beginning write transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Step 3: idempotency lookup by (tenant_id, receipt_id).
	existingHash, existingRow, err := l.lookupByReceiptID(ctx, tx, c.ReceiptID)
	if err != nil {
		return receipt.Receipt{}, Wrap(KindBackend, "looking up existing receipt", err)
	}
	if existingRow != nil {
		if existingHash == hash {
			// Idempotent replay: no mutation, return the stored row.
			if err := tx.Commit(); err != nil {
				return receipt.Receipt{}, Wrap(KindBackend, "committing replay read", err)
			}
			return *existingRow, nil
		}
		return receipt.Receipt{}, New(KindReceiptConflict, fmt.Sprintf("receipt_id %q already exists with a different canonical_hash", c.ReceiptID))
	}

	// Step 4: parent/terminality checks for complete/escalate.
	if c.Phase.Terminal() {
		parent, err := l.lookupParent(ctx, tx, c.ObligationID, c.CausedByReceiptID)
		if err != nil {
			return receipt.Receipt{}, Wrap(KindBackend, "looking up parent receipt", err)
		}
		if parent == nil {
			return receipt.Receipt{}, NewField(KindParentMissing, "caused_by_receipt_id", "parent receipt not found in this obligation")
		}
		if parent.Phase != receipt.PhaseAccepted {
			return receipt.Receipt{}, NewField(KindParentNotAcceptedPhase, "caused_by_receipt_id", "parent receipt is not in phase accepted")
		}

		terminated, err := l.obligationTerminated(ctx, tx, c.ObligationID)
		if err != nil {
			return receipt.Receipt{}, Wrap(KindBackend, "checking obligation terminality", err)
		}
		if terminated {
			return receipt.Receipt{}, New(KindAlreadyTerminated, "obligation already has a terminal receipt")
		}
	}

	// Step 5: routing invariant, also checked in package validate, repeated
	// here defensively since this is the last gate before a commit.
	if c.Phase == receipt.PhaseEscalate && c.RecipientAI != c.EscalationTo {
		return receipt.Receipt{}, NewField(KindValidationFailed, "recipient_ai", "must equal escalation_to when phase is escalate")
	}

	// Step 6: assign server fields.
	id := c.UUID
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now().UTC()

	row := receipt.Receipt{
		UUID:              id,
		TenantID:          l.TenantID,
		ReceiptID:         c.ReceiptID,
		CanonicalHash:     hash,
		Phase:             c.Phase,
		ObligationID:      c.ObligationID,
		TaskID:            c.TaskID,
		CausedByReceiptID: c.CausedByReceiptID,
		CreatedBy:         c.CreatedBy,
		RecipientAI:       c.RecipientAI,
		EscalationTo:      c.EscalationTo,
		ArtifactRefs:      c.ArtifactRefs,
		Body:              c.Body,
		CreatedAt:         now,
	}

	// Step 7: insert.
	if err := l.insert(ctx, tx, row); err != nil {
		return receipt.Receipt{}, Wrap(KindBackend, "inserting receipt", err)
	}

	// Step 8: edge projection.
	if l.EnableGraphLayer && row.CausedByReceiptID != "" {
		if err := l.insertEdge(ctx, tx, row.CausedByReceiptID, row.ReceiptID); err != nil {
			return receipt.Receipt{}, Wrap(KindBackend, "inserting edge projection", err)
		}
	}

	// Step 9: commit.
	if err := tx.Commit(); err != nil {
		return receipt.Receipt{}, Wrap(KindBackend, "committing append", err)
	}
	return row, nil
}

func (l *Ledger) lookupByReceiptID(ctx context.Context, tx *sql.Tx, receiptID string) (string, *receipt.Receipt, error) {
	query := l.Store.Rebind(`SELECT ` + receipt.Columns + ` FROM receipts WHERE tenant_id = ? AND receipt_id = ?`)
	row := tx.QueryRowContext(ctx, query, l.TenantID, receiptID)
	r, err := receipt.Scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil, nil
	}
	if err != nil {
		return "", nil, err
	}
	return r.CanonicalHash, &r, nil
}

func (l *Ledger) lookupParent(ctx context.Context, tx *sql.Tx, obligationID, causedByReceiptID string) (*receipt.Receipt, error) {
	query := l.Store.Rebind(`SELECT ` + receipt.Columns + ` FROM receipts WHERE tenant_id = ? AND obligation_id = ? AND receipt_id = ?`)
	row := tx.QueryRowContext(ctx, query, l.TenantID, obligationID, causedByReceiptID)
	r, err := receipt.Scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (l *Ledger) obligationTerminated(ctx context.Context, tx *sql.Tx, obligationID string) (bool, error) {
	query := l.Store.Rebind(`SELECT COUNT(*) FROM receipts WHERE tenant_id = ? AND obligation_id = ? AND phase IN ('complete', 'escalate')`)
	var n int
	if err := tx.QueryRowContext(ctx, query, l.TenantID, obligationID).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (l *Ledger) insert(ctx context.Context, tx *sql.Tx, r receipt.Receipt) error {
	artifactRefsJSON, err := json.Marshal(r.ArtifactRefs)
	if err != nil {
		return err
	}
	query := l.Store.Rebind(`
		INSERT INTO receipts (
			uuid, tenant_id, receipt_id, canonical_hash, phase, obligation_id, task_id,
			caused_by_receipt_id, created_by, recipient_ai, escalation_to, artifact_refs, body, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err = tx.ExecContext(ctx, query,
		r.UUID, r.TenantID, r.ReceiptID, r.CanonicalHash, string(r.Phase), r.ObligationID, r.TaskID,
		r.CausedByReceiptID, r.CreatedBy, r.RecipientAI, r.EscalationTo, string(artifactRefsJSON), string(r.Body), r.CreatedAt.Format(time.RFC3339Nano),
	)
	return err
}

func (l *Ledger) insertEdge(ctx context.Context, tx *sql.Tx, fromReceiptID, toReceiptID string) error {
	query := l.Store.Rebind(`
		INSERT INTO receipt_edges (from_receipt_id, to_receipt_id, edge_type, tenant_id)
		VALUES (?, ?, 'caused_by', ?)
		ON CONFLICT DO NOTHING`)
	_, err := tx.ExecContext(ctx, query, fromReceiptID, toReceiptID, l.TenantID)
	return err
}
