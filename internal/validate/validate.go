// Package validate implements the ordered structural, enumeration,
// body-size, phase-conditional, and identifier-shape checks of spec §4.3.
// It never touches the database; parent-existence and terminality live in
// package ledger.
package validate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/hazyhaar/receiptgate/internal/receipt"
)

// identifierRe is the permitted character set for receipt_id, obligation_id,
// and task_id: alnum, :, -, _, ., /.
var identifierRe = regexp.MustCompile(`^[A-Za-z0-9:_./-]+$`)

// DefaultMaxBodyBytes is the default per-receipt body cap (§3.1 invariant 7).
const DefaultMaxBodyBytes = 262144

// Validator accumulates field errors before reporting, in the style of a
// fluent rule-chain validator: each stage records failures through fail,
// then Err reports the first one.
type Validator struct {
	maxBodyBytes int
	errs         []*receipt.Error
}

func New(maxBodyBytes int) *Validator {
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}
	return &Validator{maxBodyBytes: maxBodyBytes}
}

func (v *Validator) fail(kind receipt.ErrorKind, field, message string) {
	v.errs = append(v.errs, receipt.NewField(kind, field, message))
}

// Err returns the first recorded error, or nil if validation passed.
// Checks are ordered (§4.3): structural, enumeration, body size,
// phase-conditional, identifier shape, but Validate short-circuits at the
// first failing stage, since later stages assume earlier ones held
// (e.g. phase-conditional checks assume Phase is one of the three legal
// values).
func (v *Validator) Err() *receipt.Error {
	if len(v.errs) == 0 {
		return nil
	}
	return v.errs[0]
}

// Validate runs all stages against a raw JSON receipt submission, decoding
// into c on structural success.
func Validate(raw json.RawMessage, maxBodyBytes int, schema *CompiledSchema) (receipt.Candidate, *receipt.Error) {
	v := New(maxBodyBytes)

	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return receipt.Candidate{}, receipt.NewField(receipt.KindValidationFailed, "", "receipt must be a JSON object: "+err.Error())
	}

	if schema != nil {
		if err := schema.Validate(generic); err != nil {
			return receipt.Candidate{}, receipt.NewField(receipt.KindValidationFailed, "", "schema: "+err.Error())
		}
	}

	var c receipt.Candidate
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&c); err != nil {
		return receipt.Candidate{}, receipt.NewField(receipt.KindValidationFailed, "", "unknown or malformed field: "+err.Error())
	}

	v.structural(c)
	if e := v.Err(); e != nil {
		return receipt.Candidate{}, e
	}

	v.enumeration(c)
	if e := v.Err(); e != nil {
		return receipt.Candidate{}, e
	}

	v.bodySize(c)
	if e := v.Err(); e != nil {
		return receipt.Candidate{}, e
	}

	v.phaseConditional(c)
	if e := v.Err(); e != nil {
		return receipt.Candidate{}, e
	}

	v.identifierShape(c)
	if e := v.Err(); e != nil {
		return receipt.Candidate{}, e
	}

	return c, nil
}

func (v *Validator) structural(c receipt.Candidate) {
	required := map[string]string{
		"receipt_id":    c.ReceiptID,
		"obligation_id": c.ObligationID,
		"created_by":    c.CreatedBy,
		"recipient_ai":  c.RecipientAI,
	}
	for field, val := range required {
		if val == "" {
			v.fail(receipt.KindValidationFailed, field, "is required")
		}
	}
	if string(c.Phase) == "" {
		v.fail(receipt.KindValidationFailed, "phase", "is required")
	}
	if len(c.Body) == 0 {
		v.fail(receipt.KindValidationFailed, "body", "is required")
	}
}

func (v *Validator) enumeration(c receipt.Candidate) {
	if !c.Phase.Valid() {
		v.fail(receipt.KindValidationFailed, "phase", fmt.Sprintf("must be one of accepted, complete, escalate; got %q", c.Phase))
	}
}

func (v *Validator) bodySize(c receipt.Candidate) {
	if len(c.Body) > v.maxBodyBytes {
		v.fail(receipt.KindValidationFailed, "body", fmt.Sprintf("exceeds maximum size of %d bytes", v.maxBodyBytes))
	}
}

func (v *Validator) phaseConditional(c receipt.Candidate) {
	switch c.Phase {
	case receipt.PhaseAccepted:
		if c.CausedByReceiptID != "" {
			v.fail(receipt.KindValidationFailed, "caused_by_receipt_id", "forbidden when phase is accepted")
		}
	case receipt.PhaseComplete:
		if c.CausedByReceiptID == "" {
			v.fail(receipt.KindValidationFailed, "caused_by_receipt_id", "required when phase is complete")
		}
		if c.EscalationTo != "" {
			v.fail(receipt.KindValidationFailed, "escalation_to", "forbidden when phase is complete")
		}
	case receipt.PhaseEscalate:
		if c.CausedByReceiptID == "" {
			v.fail(receipt.KindValidationFailed, "caused_by_receipt_id", "required when phase is escalate")
		}
		if c.EscalationTo == "" {
			v.fail(receipt.KindValidationFailed, "escalation_to", "required when phase is escalate")
		} else if c.RecipientAI != c.EscalationTo {
			v.fail(receipt.KindValidationFailed, "recipient_ai", "must equal escalation_to when phase is escalate")
		}
	}
}

func (v *Validator) identifierShape(c receipt.Candidate) {
	checkID := func(field, val string) {
		if val != "" && !identifierRe.MatchString(val) {
			v.fail(receipt.KindValidationFailed, field, "must match [A-Za-z0-9:_./-]+")
		}
	}
	checkID("receipt_id", c.ReceiptID)
	checkID("obligation_id", c.ObligationID)
	checkID("task_id", c.TaskID)
}
