package rpc

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hazyhaar/receiptgate/internal/ledger"
)

// Handler executes one receiptgate.* tool call against decoded params and
// returns either a JSON-marshalable result or a typed ledger error.
type Handler func(ctx context.Context, params json.RawMessage) (any, *ledger.Error)

// Tool pairs a handler with the schema metadata built via
// mcp.NewToolWithRawSchema, available through Registry.List. Dispatch only
// needs the name and Handler, and no tools/list method is served.
type Tool struct {
	Name    string
	Meta    mcp.Tool
	Handler Handler
}

// Registry is the receiptgate.* tool set, keyed by full method name.
type Registry struct {
	tools map[string]Tool
	order []string
}

func NewRegistry() *Registry {
	return &Registry{tools: map[string]Tool{}}
}

func (r *Registry) Register(t Tool) {
	if _, exists := r.tools[t.Name]; !exists {
		r.order = append(r.order, t.Name)
	}
	r.tools[t.Name] = t
}

func (r *Registry) Lookup(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

func (r *Registry) List() []Tool {
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// newTool builds the schema metadata for one tool from a raw JSON Schema
// literal via mcp.NewToolWithRawSchema.
func newTool(name, description string, schema map[string]any) mcp.Tool {
	raw, _ := json.Marshal(schema)
	return mcp.NewToolWithRawSchema(name, description, raw)
}

func stringArg(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}

func stringSliceArg(m map[string]any, key string) []string {
	raw, ok := m[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func intArg(m map[string]any, key string, def int) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	default:
		return def
	}
}
