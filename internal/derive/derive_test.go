package derive

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hazyhaar/receiptgate/internal/ledger"
	"github.com/hazyhaar/receiptgate/internal/store"
	"github.com/hazyhaar/receiptgate/internal/validate"
)

const testTenant = "tenant-1"

func newTestEngine(t *testing.T) (*Engine, *ledger.Ledger) {
	t.Helper()
	st, err := store.Open("sqlite:///:memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	schema, err := validate.CompileDefault()
	require.NoError(t, err)

	led := ledger.NewLedger(st, schema, testTenant, validate.DefaultMaxBodyBytes, true)
	eng := New(st, testTenant)
	return eng, led
}

func submitJSON(t *testing.T, l *ledger.Ledger, doc map[string]any) {
	t.Helper()
	raw, err := json.Marshal(doc)
	require.NoError(t, err)
	_, lerr := l.Submit(context.Background(), raw)
	require.Nil(t, lerr, "submit failed: %+v", lerr)
}

func acceptedDoc(receiptID, obligationID, recipient string) map[string]any {
	return map[string]any{
		"receipt_id":    receiptID,
		"phase":         "accepted",
		"obligation_id": obligationID,
		"created_by":    "agent-a",
		"recipient_ai":  recipient,
		"body":          map[string]string{"note": receiptID},
	}
}

func completeDoc(receiptID, obligationID, causedBy, recipient string) map[string]any {
	return map[string]any{
		"receipt_id":           receiptID,
		"phase":                "complete",
		"obligation_id":        obligationID,
		"caused_by_receipt_id": causedBy,
		"created_by":           "agent-b",
		"recipient_ai":         recipient,
		"body":                 map[string]string{"note": receiptID},
	}
}

func TestGetReceiptByReceiptID(t *testing.T) {
	eng, led := newTestEngine(t)
	submitJSON(t, led, acceptedDoc("r1", "obl1", "agent-b"))

	r, err := eng.GetReceipt(context.Background(), "r1", "")
	require.Nil(t, err)
	require.Equal(t, "r1", r.ReceiptID)
}

func TestGetReceiptNotFound(t *testing.T) {
	eng, _ := newTestEngine(t)
	_, err := eng.GetReceipt(context.Background(), "does-not-exist", "")
	require.NotNil(t, err)
	require.Equal(t, ledger.KindNotFound, err.Kind)
}

func TestListInboxExcludesTerminatedObligations(t *testing.T) {
	eng, led := newTestEngine(t)
	submitJSON(t, led, acceptedDoc("r1", "obl1", "agent-b"))
	submitJSON(t, led, completeDoc("r2", "obl1", "r1", "agent-b"))
	submitJSON(t, led, acceptedDoc("r3", "obl2", "agent-b"))

	page, err := eng.ListInbox(context.Background(), "agent-b", 10, "")
	require.Nil(t, err)
	require.Len(t, page.Receipts, 1)
	require.Equal(t, "r3", page.Receipts[0].ReceiptID)
}

func TestListInboxOnlyLatestPerObligation(t *testing.T) {
	eng, led := newTestEngine(t)
	submitJSON(t, led, acceptedDoc("r1", "obl1", "agent-b"))
	submitJSON(t, led, acceptedDoc("r2", "obl1", "agent-b"))

	page, err := eng.ListInbox(context.Background(), "agent-b", 10, "")
	require.Nil(t, err)
	require.Len(t, page.Receipts, 1)
	require.Equal(t, "r2", page.Receipts[0].ReceiptID)
}

func TestListInboxIgnoresOtherRecipients(t *testing.T) {
	eng, led := newTestEngine(t)
	submitJSON(t, led, acceptedDoc("r1", "obl1", "agent-c"))

	page, err := eng.ListInbox(context.Background(), "agent-b", 10, "")
	require.Nil(t, err)
	require.Empty(t, page.Receipts)
}

func TestListTaskReceiptsOrderedByCreation(t *testing.T) {
	eng, led := newTestEngine(t)
	doc1 := acceptedDoc("r1", "obl1", "agent-b")
	doc1["task_id"] = "task-1"
	submitJSON(t, led, doc1)

	doc2 := completeDoc("r2", "obl1", "r1", "agent-b")
	doc2["task_id"] = "task-1"
	submitJSON(t, led, doc2)

	out, err := eng.ListTaskReceipts(context.Background(), "task-1")
	require.Nil(t, err)
	require.Len(t, out, 2)
	require.Equal(t, "r1", out[0].ReceiptID)
	require.Equal(t, "r2", out[1].ReceiptID)
}

func TestSearchReceiptsByPhaseAndSubstring(t *testing.T) {
	eng, led := newTestEngine(t)
	submitJSON(t, led, acceptedDoc("task-alpha-1", "obl1", "agent-b"))
	submitJSON(t, led, acceptedDoc("task-beta-1", "obl2", "agent-b"))

	page, err := eng.SearchReceipts(context.Background(), SearchFilters{
		Phase:              "accepted",
		ReceiptIDSubstring: "alpha",
	}, 10, "")
	require.Nil(t, err)
	require.Len(t, page.Receipts, 1)
	require.Equal(t, "task-alpha-1", page.Receipts[0].ReceiptID)
}

func TestSearchReceiptsLikeEscapesWildcards(t *testing.T) {
	eng, led := newTestEngine(t)
	submitJSON(t, led, acceptedDoc("100_-done", "obl1", "agent-b"))
	submitJSON(t, led, acceptedDoc("100X-done", "obl2", "agent-b"))

	page, err := eng.SearchReceipts(context.Background(), SearchFilters{
		ReceiptIDSubstring: "100_",
	}, 10, "")
	require.Nil(t, err)
	require.Len(t, page.Receipts, 1)
	require.Equal(t, "100_-done", page.Receipts[0].ReceiptID)
}

func TestSearchReceiptsPaginates(t *testing.T) {
	eng, led := newTestEngine(t)
	for i := 0; i < 5; i++ {
		submitJSON(t, led, acceptedDoc(string(rune('a'+i))+"-receipt", "obl-"+string(rune('a'+i)), "agent-b"))
	}

	page1, err := eng.SearchReceipts(context.Background(), SearchFilters{RecipientAI: "agent-b"}, 2, "")
	require.Nil(t, err)
	require.Len(t, page1.Receipts, 2)
	require.NotEmpty(t, page1.NextCursor)

	page2, err := eng.SearchReceipts(context.Background(), SearchFilters{RecipientAI: "agent-b"}, 2, page1.NextCursor)
	require.Nil(t, err)
	require.Len(t, page2.Receipts, 2)

	for _, r1 := range page1.Receipts {
		for _, r2 := range page2.Receipts {
			require.NotEqual(t, r1.ReceiptID, r2.ReceiptID)
		}
	}
}

func TestSearchReceiptsRejectsInvalidPhase(t *testing.T) {
	eng, _ := newTestEngine(t)
	_, err := eng.SearchReceipts(context.Background(), SearchFilters{Phase: "bogus"}, 10, "")
	require.NotNil(t, err)
	require.Equal(t, ledger.KindValidationFailed, err.Kind)
}
