package api

import (
	"log/slog"
	"net/http"

	"github.com/hostbridge/hostbridge/internal/audit"
	"github.com/hostbridge/hostbridge/internal/cache"
	"github.com/hostbridge/hostbridge/internal/dispatch"
	"github.com/hostbridge/hostbridge/internal/hitl"
	"github.com/hostbridge/hostbridge/internal/registry"
	"github.com/hostbridge/hostbridge/internal/secrets"
	"github.com/hostbridge/hostbridge/internal/store"
	"github.com/hostbridge/hostbridge/internal/workspace"
)

// Deps holds the dependencies needed by the HTTP API router.
type Deps struct {
	Engine    *dispatch.Engine
	Registry  *registry.Registry
	Store     store.Store
	Secrets   *secrets.Store
	HITL      *hitl.Manager
	HITLBus   *hitl.Bus
	AuditBus  *audit.Bus
	Workspace *workspace.Resolver
	Lists     *cache.ListCache

	// MCP, when set, is mounted at /mcp behind the shared middleware chain.
	MCP http.Handler

	// AdminPassword guards /api admin routes. Empty disables them.
	AdminPassword string
	DBPath        string
	Version       string
	Logger        *slog.Logger
}

// NewRouter creates the http.Handler serving the REST surface: the public
// health and dispatch endpoints, the password-guarded admin endpoints, the
// two event WebSockets, and the MCP endpoint when one is provided.
func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()

	health := &healthHandler{version: deps.Version}
	mux.HandleFunc("GET /health", health.check)

	tools := &toolsHandler{engine: deps.Engine, registry: deps.Registry, lists: deps.Lists}
	mux.HandleFunc("POST /api/tools/{category}/{name}", tools.dispatch)

	admin := func(h http.HandlerFunc) http.HandlerFunc {
		return requireAdmin(deps.AdminPassword, h)
	}

	approvals := &hitlHandler{manager: deps.HITL}
	mux.HandleFunc("GET /api/hitl/pending", admin(approvals.pending))
	mux.HandleFunc("POST /api/hitl/{id}/decide", admin(approvals.decide))

	auditH := &auditHandler{store: deps.Store}
	mux.HandleFunc("GET /api/audit", admin(auditH.query))
	mux.HandleFunc("GET /api/audit/export", admin(auditH.export))

	secretsH := &secretsHandler{store: deps.Secrets, lists: deps.Lists}
	mux.HandleFunc("GET /api/secrets", admin(secretsH.list))
	mux.HandleFunc("POST /api/secrets/reload", admin(secretsH.reload))

	mux.HandleFunc("GET /api/tools", admin(tools.list))
	mux.HandleFunc("GET /api/tools/{category}/{name}", admin(tools.get))

	system := &systemHandler{
		audit:     deps.Store,
		hitl:      deps.HITL,
		workspace: deps.Workspace,
		lists:     deps.Lists,
		dbPath:    deps.DBPath,
		version:   deps.Version,
	}
	mux.HandleFunc("GET /api/system", admin(system.get))

	wsHITL := &wsHITLHandler{manager: deps.HITL, bus: deps.HITLBus, logger: logger}
	mux.HandleFunc("GET /ws/hitl", wsHITL.serve)

	wsAudit := &wsAuditHandler{store: deps.Store, bus: deps.AuditBus, logger: logger}
	mux.HandleFunc("GET /ws/audit", wsAudit.serve)

	if deps.MCP != nil {
		mux.Handle("/mcp", deps.MCP)
	}

	// Apply middleware chain: CORS -> RequestID -> Logging -> protections -> mux
	var handler http.Handler = mux
	handler = requireJSONContentTypeMiddleware(handler)
	handler = browserOriginProtectionMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = loggingMiddleware(logger, handler)
	handler = requestIDMiddleware(handler)
	handler = corsMiddleware(handler)

	return handler
}
