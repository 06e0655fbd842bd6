package rpc

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hazyhaar/receiptgate/internal/derive"
	"github.com/hazyhaar/receiptgate/internal/ledger"
	"github.com/hazyhaar/receiptgate/internal/receipt"
)

// Server wires the tool handlers to the ledger core, derivation engine, and
// the process identity reported by receiptgate.health.
type Server struct {
	Ledger     *ledger.Ledger
	Derive     *derive.Engine
	Service    string
	Version    string
	InstanceID string
	Ping       func(ctx context.Context) error
}

// Registry builds the full receiptgate.* tool set.
func (s *Server) Registry() *Registry {
	reg := NewRegistry()
	reg.Register(s.submitReceiptTool())
	reg.Register(s.getReceiptTool())
	reg.Register(s.getReceiptChainTool())
	reg.Register(s.listInboxTool())
	reg.Register(s.listTaskReceiptsTool())
	reg.Register(s.searchReceiptsTool())
	reg.Register(s.healthTool())
	return reg
}

func decodeArgs(params json.RawMessage) (map[string]any, *ledger.Error) {
	var m map[string]any
	if len(params) == 0 {
		return map[string]any{}, nil
	}
	if err := json.Unmarshal(params, &m); err != nil {
		return nil, ledger.NewField(ledger.KindValidationFailed, "", "params must be a JSON object: "+err.Error())
	}
	return m, nil
}

// --- receiptgate.submit_receipt ---

func (s *Server) submitReceiptTool() Tool {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"receipt": map[string]any{"type": "object", "description": "The candidate receipt, per the wire shape in the schema reference"},
		},
		"required": []string{"receipt"},
	}
	return Tool{
		Name: "receiptgate.submit_receipt",
		Meta: newTool("receiptgate.submit_receipt", "Append a receipt to the ledger, idempotent on receipt_id+canonical_hash", schema),
		Handler: func(ctx context.Context, params json.RawMessage) (any, *ledger.Error) {
			args, aerr := decodeArgs(params)
			if aerr != nil {
				return nil, aerr
			}
			raw, ok := args["receipt"]
			if !ok {
				return nil, ledger.NewField(ledger.KindValidationFailed, "receipt", "is required")
			}
			receiptJSON, err := json.Marshal(raw)
			if err != nil {
				return nil, ledger.Wrap(ledger.KindValidationFailed, "re-marshaling receipt argument", err)
			}
			r, lerr := s.Ledger.Submit(ctx, receiptJSON)
			if lerr != nil {
				return nil, lerr
			}
			return r, nil
		},
	}
}

// --- receiptgate.get_receipt ---

func (s *Server) getReceiptTool() Tool {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"receipt_id": map[string]any{"type": "string", "description": "Receipt ID to fetch"},
			"uuid":       map[string]any{"type": "string", "description": "Server-assigned UUID to fetch"},
		},
	}
	return Tool{
		Name: "receiptgate.get_receipt",
		Meta: newTool("receiptgate.get_receipt", "Exact fetch of one receipt by receipt_id or uuid", schema),
		Handler: func(ctx context.Context, params json.RawMessage) (any, *ledger.Error) {
			args, aerr := decodeArgs(params)
			if aerr != nil {
				return nil, aerr
			}
			r, lerr := s.Derive.GetReceipt(ctx, stringArg(args, "receipt_id"), stringArg(args, "uuid"))
			if lerr != nil {
				return nil, lerr
			}
			return r, nil
		},
	}
}

// --- receiptgate.get_receipt_chain ---

func (s *Server) getReceiptChainTool() Tool {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"receipt_id": map[string]any{"type": "string", "description": "Receipt to start from"},
			"direction":  map[string]any{"type": "string", "description": "ancestors, descendants, or both", "enum": []string{"ancestors", "descendants", "both"}, "default": "ancestors"},
			"max_depth":  map[string]any{"type": "integer", "description": "Maximum traversal depth", "default": derive.DefaultMaxDepth},
		},
		"required": []string{"receipt_id"},
	}
	return Tool{
		Name: "receiptgate.get_receipt_chain",
		Meta: newTool("receiptgate.get_receipt_chain", "Walk caused_by_receipt_id edges from a receipt", schema),
		Handler: func(ctx context.Context, params json.RawMessage) (any, *ledger.Error) {
			args, aerr := decodeArgs(params)
			if aerr != nil {
				return nil, aerr
			}
			direction := derive.Direction(stringArg(args, "direction"))
			entries, lerr := s.Derive.GetReceiptChain(ctx, stringArg(args, "receipt_id"), direction, intArg(args, "max_depth", derive.DefaultMaxDepth))
			if lerr != nil {
				return nil, lerr
			}
			return map[string]any{"chain": entries}, nil
		},
	}
}

// --- receiptgate.list_inbox ---

func (s *Server) listInboxTool() Tool {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"recipient_ai": map[string]any{"type": "string", "description": "Recipient AI identifier"},
			"limit":        map[string]any{"type": "integer", "description": "Max results", "default": derive.DefaultLimit},
			"cursor":       map[string]any{"type": "string", "description": "Opaque pagination cursor from a previous call"},
		},
		"required": []string{"recipient_ai"},
	}
	return Tool{
		Name: "receiptgate.list_inbox",
		Meta: newTool("receiptgate.list_inbox", "List the open-obligation frontier for a recipient", schema),
		Handler: func(ctx context.Context, params json.RawMessage) (any, *ledger.Error) {
			args, aerr := decodeArgs(params)
			if aerr != nil {
				return nil, aerr
			}
			page, lerr := s.Derive.ListInbox(ctx, stringArg(args, "recipient_ai"), intArg(args, "limit", derive.DefaultLimit), stringArg(args, "cursor"))
			if lerr != nil {
				return nil, lerr
			}
			return pageResult(page), nil
		},
	}
}

// --- receiptgate.list_task_receipts ---

func (s *Server) listTaskReceiptsTool() Tool {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"task_id": map[string]any{"type": "string", "description": "Task identifier"},
		},
		"required": []string{"task_id"},
	}
	return Tool{
		Name: "receiptgate.list_task_receipts",
		Meta: newTool("receiptgate.list_task_receipts", "List all receipts for a task, oldest first", schema),
		Handler: func(ctx context.Context, params json.RawMessage) (any, *ledger.Error) {
			args, aerr := decodeArgs(params)
			if aerr != nil {
				return nil, aerr
			}
			receipts, lerr := s.Derive.ListTaskReceipts(ctx, stringArg(args, "task_id"))
			if lerr != nil {
				return nil, lerr
			}
			return map[string]any{"receipts": receipts}, nil
		},
	}
}

// --- receiptgate.search_receipts ---

func (s *Server) searchReceiptsTool() Tool {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"recipient_ai":         map[string]any{"type": "string"},
			"created_by":           map[string]any{"type": "string"},
			"phase":                map[string]any{"type": "string", "enum": []string{"accepted", "complete", "escalate"}},
			"obligation_id":        map[string]any{"type": "string"},
			"task_id":              map[string]any{"type": "string"},
			"receipt_id_substring": map[string]any{"type": "string"},
			"since":                map[string]any{"type": "string", "description": "RFC3339 timestamp, inclusive"},
			"until":                map[string]any{"type": "string", "description": "RFC3339 timestamp, exclusive"},
			"limit":                map[string]any{"type": "integer", "default": derive.DefaultLimit},
			"cursor":               map[string]any{"type": "string"},
		},
	}
	return Tool{
		Name: "receiptgate.search_receipts",
		Meta: newTool("receiptgate.search_receipts", "Header-only search over receipts, AND-combined filters", schema),
		Handler: func(ctx context.Context, params json.RawMessage) (any, *ledger.Error) {
			args, aerr := decodeArgs(params)
			if aerr != nil {
				return nil, aerr
			}
			filters := derive.SearchFilters{
				RecipientAI:        stringArg(args, "recipient_ai"),
				CreatedBy:          stringArg(args, "created_by"),
				Phase:              stringArg(args, "phase"),
				ObligationID:       stringArg(args, "obligation_id"),
				TaskID:             stringArg(args, "task_id"),
				ReceiptIDSubstring: stringArg(args, "receipt_id_substring"),
			}
			if since := stringArg(args, "since"); since != "" {
				t, err := time.Parse(time.RFC3339, since)
				if err != nil {
					return nil, ledger.NewField(ledger.KindValidationFailed, "since", "must be RFC3339")
				}
				filters.Since = &t
			}
			if until := stringArg(args, "until"); until != "" {
				t, err := time.Parse(time.RFC3339, until)
				if err != nil {
					return nil, ledger.NewField(ledger.KindValidationFailed, "until", "must be RFC3339")
				}
				filters.Until = &t
			}
			page, lerr := s.Derive.SearchReceipts(ctx, filters, intArg(args, "limit", derive.DefaultLimit), stringArg(args, "cursor"))
			if lerr != nil {
				return nil, lerr
			}
			return pageResult(page), nil
		},
	}
}

// --- receiptgate.health ---

func (s *Server) healthTool() Tool {
	schema := map[string]any{"type": "object", "properties": map[string]any{}}
	return Tool{
		Name: "receiptgate.health",
		Meta: newTool("receiptgate.health", "Report service liveness and identity", schema),
		Handler: func(ctx context.Context, _ json.RawMessage) (any, *ledger.Error) {
			status := "ok"
			if s.Ping != nil {
				if err := s.Ping(ctx); err != nil {
					status = "unhealthy"
				}
			}
			return HealthStatus{Status: status, Service: s.Service, Version: s.Version, InstanceID: s.InstanceID}, nil
		},
	}
}

// HealthStatus is the shared payload for receiptgate.health and GET /health.
type HealthStatus struct {
	Status     string `json:"status"`
	Service    string `json:"service"`
	Version    string `json:"version"`
	InstanceID string `json:"instance_id"`
}

func pageResult(p derive.Page) map[string]any {
	receipts := p.Receipts
	if receipts == nil {
		receipts = []receipt.Receipt{}
	}
	out := map[string]any{"receipts": receipts}
	if p.NextCursor != "" {
		out["next_cursor"] = p.NextCursor
	}
	return out
}
