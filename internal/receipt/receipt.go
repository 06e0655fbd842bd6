// Package receipt defines the canonical Receipt type shared by every layer
// of ReceiptGate: validation, canonicalization, the ledger, and derivation.
package receipt

import (
	"encoding/json"
	"time"
)

// Phase is the lifecycle stage a receipt marks.
type Phase string

const (
	PhaseAccepted Phase = "accepted"
	PhaseComplete Phase = "complete"
	PhaseEscalate Phase = "escalate"
)

// Valid reports whether p is one of the three legal phases.
func (p Phase) Valid() bool {
	switch p {
	case PhaseAccepted, PhaseComplete, PhaseEscalate:
		return true
	}
	return false
}

// Terminal reports whether p closes an obligation.
func (p Phase) Terminal() bool {
	return p == PhaseComplete || p == PhaseEscalate
}

// Receipt is an immutable record of a phase transition in an obligation's
// lifecycle. Field order here is display order, not hash order; the
// canonical preimage is produced separately by package canon.
type Receipt struct {
	UUID               string          `json:"uuid"`
	ReceiptID          string          `json:"receipt_id"`
	CanonicalHash      string          `json:"canonical_hash"`
	Phase              Phase           `json:"phase"`
	ObligationID       string          `json:"obligation_id"`
	TaskID             string          `json:"task_id,omitempty"`
	CausedByReceiptID  string          `json:"caused_by_receipt_id,omitempty"`
	CreatedBy          string          `json:"created_by"`
	RecipientAI        string          `json:"recipient_ai"`
	EscalationTo       string          `json:"escalation_to,omitempty"`
	ArtifactRefs       []string        `json:"artifact_refs,omitempty"`
	Body               json.RawMessage `json:"body"`
	CreatedAt          time.Time       `json:"created_at"`
	TenantID           string          `json:"tenant_id"`
}

// Candidate is what a client submits: everything a Receipt has except the
// fields the server assigns (canonical_hash, created_at, tenant_id). UUID is
// optional; the server assigns one when it is empty.
type Candidate struct {
	ReceiptID         string          `json:"receipt_id"`
	Phase             Phase           `json:"phase"`
	ObligationID      string          `json:"obligation_id"`
	TaskID            string          `json:"task_id,omitempty"`
	CausedByReceiptID string          `json:"caused_by_receipt_id,omitempty"`
	CreatedBy         string          `json:"created_by"`
	RecipientAI       string          `json:"recipient_ai"`
	EscalationTo      string          `json:"escalation_to,omitempty"`
	ArtifactRefs      []string        `json:"artifact_refs,omitempty"`
	Body              json.RawMessage `json:"body"`
	UUID              string          `json:"uuid,omitempty"`
}

// TerminalPhases is the closed set of phases that close an obligation, the
// same set Phase.Terminal reports. The SQL in packages ledger and derive
// spells it out as the literal IN ('complete', 'escalate').
var TerminalPhases = []Phase{PhaseComplete, PhaseEscalate}
