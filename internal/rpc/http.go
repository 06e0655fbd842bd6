package rpc

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/receiptgate/internal/ledger"
)

// NewRouter wires POST /mcp and GET /health behind request-id, recovery,
// and logging middleware; API-key auth applies to /mcp only.
func NewRouter(srv *Server, apiKey string, allowInsecureDev bool) http.Handler {
	registry := srv.Registry()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/health", srv.healthHandler)

	r.Group(func(g chi.Router) {
		g.Use(apiKeyAuth(apiKey, allowInsecureDev))
		g.Post("/mcp", mcpHandler(registry))
	})

	return r
}

// requestLogger logs method, path, status, and duration per request,
// adapted from the teacher's audit middleware's duration/outcome-capture
// shape (internal/mcp pairs each call with audit.Middleware) but sinking to
// log/slog instead of a persisted audit table.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.InfoContext(r.Context(), "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// apiKeyAuth enforces the header check of spec §6.3. When allowInsecureDev
// is true the check is bypassed entirely (dev only).
func apiKeyAuth(apiKey string, allowInsecureDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if allowInsecureDev {
				next.ServeHTTP(w, r)
				return
			}
			got := r.Header.Get("X-API-Key")
			if got == "" || got != apiKey {
				writeJSON(w, http.StatusUnauthorized, ledgerErrorResponse(nil, ledger.New(ledger.KindUnauthorized, "missing or invalid API key")))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if s.Ping != nil {
		if err := s.Ping(r.Context()); err != nil {
			status = "unhealthy"
			code = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, HealthStatus{Status: status, Service: s.Service, Version: s.Version, InstanceID: s.InstanceID})
}

// mcpHandler parses a JSON-RPC 2.0 envelope, dispatches to the named tool,
// and shapes the result per spec §4.7.
func mcpHandler(registry *Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		dec := json.NewDecoder(r.Body)
		if err := dec.Decode(&req); err != nil {
			writeJSON(w, http.StatusOK, errorResponse(nil, codeParseError, "invalid JSON-RPC envelope: "+err.Error()))
			return
		}
		if req.JSONRPC != "2.0" {
			writeJSON(w, http.StatusOK, errorResponse(req.ID, codeInvalidRequest, `jsonrpc must be "2.0"`))
			return
		}
		tool, ok := registry.Lookup(req.Method)
		if !ok {
			writeJSON(w, http.StatusOK, errorResponse(req.ID, codeMethodNotFound, "unknown tool: "+req.Method))
			return
		}

		ctx, cancel := contextWithDeadline(r.Context())
		defer cancel()
		result, lerr := tool.Handler(ctx, req.Params)
		if lerr != nil {
			writeJSON(w, http.StatusOK, ledgerErrorResponse(req.ID, lerr))
			return
		}
		writeJSON(w, http.StatusOK, response{JSONRPC: "2.0", ID: req.ID, Result: result})
	}
}

// defaultToolDeadline is the per-call timeout applied when the request
// context has no deadline of its own. It is fixed at 30 s and is not read
// from configuration.
const defaultToolDeadline = 30 * time.Second

func contextWithDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, defaultToolDeadline)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
