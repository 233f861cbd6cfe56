// Package httpapi provides the HTTP surface for the authorization API:
// authorize, reportOutcome, getProfile, streamEvents, and verifyChain.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"invarity/internal/orchestrator"
	"invarity/internal/proofchain"
	"invarity/internal/ratelimit"
	"invarity/internal/registry"
	"invarity/internal/trust"
)

// Router wraps chi.Router with the authorizer's route set.
type Router struct {
	*chi.Mux
	logger       *zap.Logger
	orchestrator *orchestrator.Orchestrator
	trustEngine  *trust.Engine
	events       proofchain.Store
	outcomes     trust.OutcomeRepo
	actions      registry.Store
	validator    *registry.SchemaValidator
}

// RouterConfig holds everything NewRouter needs to wire routes.
type RouterConfig struct {
	Logger       *zap.Logger
	Orchestrator *orchestrator.Orchestrator
	Trust        *trust.Engine
	Events       proofchain.Store
	Outcomes     trust.OutcomeRepo

	// MCPHandler, if set, is mounted at /mcp so agent frameworks that
	// speak Model Context Protocol can reach the same authorize/getProfile
	// tools over StreamableHTTP.
	MCPHandler http.Handler

	// Limiter, if set, throttles /v1 requests per agent.
	Limiter *ratelimit.Limiter

	// Actions, if set, resolves an intent's action to a registered JSON
	// schema so its context/args can be validated before authorization.
	Actions registry.Store
}

// NewRouter builds the chi router with every v1 authorization route
// mounted.
func NewRouter(cfg RouterConfig) *Router {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Router{
		Mux:          chi.NewRouter(),
		logger:       logger,
		orchestrator: cfg.Orchestrator,
		trustEngine:  cfg.Trust,
		events:       cfg.Events,
		outcomes:     cfg.Outcomes,
		actions:      cfg.Actions,
		validator:    registry.NewSchemaValidator(),
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", r.handleHealthz)
	r.Get("/readyz", r.handleReadyz)

	r.Route("/v1", func(v1 chi.Router) {
		if cfg.Limiter != nil {
			v1.Use(RateLimit(cfg.Limiter, logger))
		}
		v1.Post("/authorize", r.handleAuthorize)
		v1.Post("/outcomes", r.handleReportOutcome)
		v1.Get("/agents/{agent_id}/profile", r.handleGetProfile)
		v1.Get("/events", r.handleStreamEvents)
		v1.Get("/chains/{correlation_id}/verify", r.handleVerifyChain)
	})

	if cfg.MCPHandler != nil {
		r.Handle("/mcp", cfg.MCPHandler)
		r.Handle("/mcp/*", cfg.MCPHandler)
	}

	return r
}

// RequestLogger logs method, path, status, and latency for every request.
func RequestLogger(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)

			defer func() {
				logger.Info("request",
					zap.String("method", req.Method),
					zap.String("path", req.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(req.Context())),
				)
			}()

			next.ServeHTTP(ww, req)
		})
	}
}

