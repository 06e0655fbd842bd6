package validate

import (
	"encoding/json"
	"testing"

	"github.com/hazyhaar/receiptgate/internal/receipt"
	"github.com/stretchr/testify/require"
)

func mustCompile(t *testing.T) *CompiledSchema {
	t.Helper()
	s, err := CompileDefault()
	require.NoError(t, err)
	return s
}

func TestValidateGoldenAccepted(t *testing.T) {
	raw := json.RawMessage(`{
		"receipt_id": "r1",
		"phase": "accepted",
		"obligation_id": "obl1",
		"created_by": "agent-a",
		"recipient_ai": "agent-b",
		"body": {"msg": "hello"}
	}`)
	c, err := Validate(raw, DefaultMaxBodyBytes, mustCompile(t))
	require.Nil(t, err)
	require.Equal(t, "r1", c.ReceiptID)
}

func TestValidateRejectsMissingRequiredField(t *testing.T) {
	raw := json.RawMessage(`{
		"phase": "accepted",
		"obligation_id": "obl1",
		"created_by": "agent-a",
		"recipient_ai": "agent-b",
		"body": {}
	}`)
	_, err := Validate(raw, DefaultMaxBodyBytes, mustCompile(t))
	require.NotNil(t, err)
	require.Equal(t, receipt.KindValidationFailed, err.Kind)
}

func TestValidateRejectsUnknownPhase(t *testing.T) {
	raw := json.RawMessage(`{
		"receipt_id": "r1",
		"phase": "bogus",
		"obligation_id": "obl1",
		"created_by": "agent-a",
		"recipient_ai": "agent-b",
		"body": {}
	}`)
	_, err := Validate(raw, DefaultMaxBodyBytes, mustCompile(t))
	require.NotNil(t, err)
}

func TestValidateCompleteRequiresCausedBy(t *testing.T) {
	raw := json.RawMessage(`{
		"receipt_id": "r2",
		"phase": "complete",
		"obligation_id": "obl1",
		"created_by": "agent-a",
		"recipient_ai": "agent-b",
		"body": {}
	}`)
	_, err := Validate(raw, DefaultMaxBodyBytes, mustCompile(t))
	require.NotNil(t, err)
	require.Equal(t, "caused_by_receipt_id", err.Field)
}

func TestValidateEscalateRequiresMatchingRouting(t *testing.T) {
	raw := json.RawMessage(`{
		"receipt_id": "r3",
		"phase": "escalate",
		"obligation_id": "obl1",
		"caused_by_receipt_id": "r1",
		"created_by": "agent-a",
		"recipient_ai": "agent-b",
		"escalation_to": "human-ops",
		"body": {}
	}`)
	_, err := Validate(raw, DefaultMaxBodyBytes, mustCompile(t))
	require.NotNil(t, err)
	require.Equal(t, "recipient_ai", err.Field)
}

func TestValidateEscalateAcceptsMatchingRouting(t *testing.T) {
	raw := json.RawMessage(`{
		"receipt_id": "r3",
		"phase": "escalate",
		"obligation_id": "obl1",
		"caused_by_receipt_id": "r1",
		"created_by": "agent-a",
		"recipient_ai": "human-ops",
		"escalation_to": "human-ops",
		"body": {}
	}`)
	_, err := Validate(raw, DefaultMaxBodyBytes, mustCompile(t))
	require.Nil(t, err)
}

func TestValidateAcceptedForbidsCausedBy(t *testing.T) {
	raw := json.RawMessage(`{
		"receipt_id": "r1",
		"phase": "accepted",
		"obligation_id": "obl1",
		"caused_by_receipt_id": "r0",
		"created_by": "agent-a",
		"recipient_ai": "agent-b",
		"body": {}
	}`)
	_, err := Validate(raw, DefaultMaxBodyBytes, mustCompile(t))
	require.NotNil(t, err)
	require.Equal(t, "caused_by_receipt_id", err.Field)
}

func TestValidateRejectsOversizeBody(t *testing.T) {
	big := make([]byte, 20)
	for i := range big {
		big[i] = 'x'
	}
	raw := json.RawMessage(`{
		"receipt_id": "r1",
		"phase": "accepted",
		"obligation_id": "obl1",
		"created_by": "agent-a",
		"recipient_ai": "agent-b",
		"body": "` + string(big) + `"
	}`)
	_, err := Validate(raw, 10, mustCompile(t))
	require.NotNil(t, err)
	require.Equal(t, "body", err.Field)
}

func TestValidateRejectsBadIdentifierShape(t *testing.T) {
	raw := json.RawMessage(`{
		"receipt_id": "r1 with spaces",
		"phase": "accepted",
		"obligation_id": "obl1",
		"created_by": "agent-a",
		"recipient_ai": "agent-b",
		"body": {}
	}`)
	_, err := Validate(raw, DefaultMaxBodyBytes, mustCompile(t))
	require.NotNil(t, err)
	require.Equal(t, "receipt_id", err.Field)
}

func TestValidateRejectsUnknownField(t *testing.T) {
	raw := json.RawMessage(`{
		"receipt_id": "r1",
		"phase": "accepted",
		"obligation_id": "obl1",
		"created_by": "agent-a",
		"recipient_ai": "agent-b",
		"body": {},
		"unexpected_field": "nope"
	}`)
	_, err := Validate(raw, DefaultMaxBodyBytes, mustCompile(t))
	require.NotNil(t, err)
}
