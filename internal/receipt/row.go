package receipt

import (
	"encoding/json"
	"time"
)

// Columns is the canonical SELECT column list, in the order Scan expects.
const Columns = `uuid, tenant_id, receipt_id, canonical_hash, phase, obligation_id, task_id,
	caused_by_receipt_id, created_by, recipient_ai, escalation_to, artifact_refs, body, created_at`

// Scanner matches both *sql.Row and *sql.Rows.
type Scanner interface {
	Scan(dest ...any) error
}

// Scan reads one row in Columns order into a Receipt.
func Scan(s Scanner) (Receipt, error) {
	var r Receipt
	var artifactRefsJSON, bodyJSON, createdAt string
	if err := s.Scan(
		&r.UUID, &r.TenantID, &r.ReceiptID, &r.CanonicalHash, &r.Phase, &r.ObligationID, &r.TaskID,
		&r.CausedByReceiptID, &r.CreatedBy, &r.RecipientAI, &r.EscalationTo, &artifactRefsJSON, &bodyJSON, &createdAt,
	); err != nil {
		return Receipt{}, err
	}
	if artifactRefsJSON != "" {
		_ = json.Unmarshal([]byte(artifactRefsJSON), &r.ArtifactRefs)
	}
	r.Body = json.RawMessage(bodyJSON)
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		r.CreatedAt = t
	} else if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		r.CreatedAt = t
	}
	return r, nil
}
