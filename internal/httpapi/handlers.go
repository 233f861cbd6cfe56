package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"invarity/internal/proofchain"
	"invarity/internal/registry"
	"invarity/internal/types"
)

const maxBodyBytes = 1 << 20

// HealthResponse mirrors the liveness/readiness probe payload.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// ErrorResponse is the structurally-validated error envelope every
// non-2xx response carries.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id"`
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Timestamp: time.Now().UTC()})
}

func (r *Router) handleReadyz(w http.ResponseWriter, req *http.Request) {
	checks := map[string]string{
		"orchestrator": statusOf(r.orchestrator != nil),
		"trust_engine": statusOf(r.trustEngine != nil),
		"event_store":  statusOf(r.events != nil),
	}
	ready := true
	for _, v := range checks {
		if v != "ok" {
			ready = false
		}
	}
	status, httpStatus := "ok", http.StatusOK
	if !ready {
		status, httpStatus = "not_ready", http.StatusServiceUnavailable
	}
	writeJSON(w, httpStatus, HealthResponse{Status: status, Timestamp: time.Now().UTC(), Checks: checks})
}

func statusOf(ok bool) string {
	if ok {
		return "ok"
	}
	return "unavailable"
}

// handleAuthorize runs intent through the orchestrator's authorize(intent)
// operation and returns the resulting Decision.
func (r *Router) handleAuthorize(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	requestID := middleware.GetReqID(ctx)

	var intent types.Intent
	if !decodeStrict(w, req, &intent, requestID, r.logger) {
		return
	}

	if err := validateIntent(&intent); err != nil {
		r.writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR", requestID)
		return
	}
	if err := r.validateAgainstRegistry(ctx, &intent); err != nil {
		r.writeError(w, http.StatusBadRequest, err.Error(), "SCHEMA_VALIDATION_ERROR", requestID)
		return
	}

	if intent.IntentID == "" {
		intent.IntentID = uuid.NewString()
	}
	if intent.CorrelationID == "" {
		intent.CorrelationID = intent.IntentID
	}

	decision, err := r.orchestrator.Authorize(ctx, &intent)
	if err != nil {
		r.handleAuthorizeError(w, err, requestID)
		return
	}

	writeJSON(w, http.StatusOK, decision)
}

func (r *Router) handleAuthorizeError(w http.ResponseWriter, err error, requestID string) {
	switch {
	case errors.Is(err, types.ErrDeadlineExceeded):
		r.writeError(w, http.StatusGatewayTimeout, err.Error(), "DEADLINE_EXCEEDED", requestID)
	case errors.Is(err, types.ErrStoreUnavailable):
		r.writeError(w, http.StatusServiceUnavailable, err.Error(), "STORE_UNAVAILABLE", requestID)
	case errors.Is(err, types.ErrIntentTerminal):
		r.writeError(w, http.StatusConflict, err.Error(), "INTENT_TERMINAL", requestID)
	default:
		r.logger.Error("authorize failed", zap.Error(err), zap.String("request_id", requestID))
		r.writeError(w, http.StatusInternalServerError, "authorization failed: "+err.Error(), "AUTHORIZE_ERROR", requestID)
	}
}

func validateIntent(intent *types.Intent) error {
	var errs types.ValidationErrors
	if intent.AgentID == "" {
		errs = append(errs, &types.ValidationError{Field: "agent_id", Message: "is required"})
	}
	if intent.Action == "" {
		errs = append(errs, &types.ValidationError{Field: "action", Message: "is required"})
	}
	if intent.ActionType == "" {
		errs = append(errs, &types.ValidationError{Field: "action_type", Message: "is required"})
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// validateAgainstRegistry checks intent.Context against the registered
// schema for intent.Action, when one is registered. Unregistered actions
// pass through untouched; registration only tightens ingress validation
// for actions that opt into it.
func (r *Router) validateAgainstRegistry(ctx context.Context, intent *types.Intent) error {
	if r.actions == nil {
		return nil
	}
	def, err := r.actions.Get(ctx, intent.Action, "")
	if err != nil {
		if errors.Is(err, registry.ErrActionNotFound) {
			return nil
		}
		return nil
	}
	return r.validator.ValidateArgs(ctx, def, intent.Context)
}

// handleReportOutcome resolves the decision issued for correlationId and
// commits the reported execution status as trust evidence.
func (r *Router) handleReportOutcome(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	requestID := middleware.GetReqID(ctx)

	var outcome types.ExecutionOutcome
	if !decodeStrict(w, req, &outcome, requestID, r.logger) {
		return
	}
	if outcome.CorrelationID == "" {
		r.writeError(w, http.StatusBadRequest, "correlation_id is required", "VALIDATION_ERROR", requestID)
		return
	}
	if outcome.ReportedAt.IsZero() {
		outcome.ReportedAt = time.Now().UTC()
	}

	delta, err := r.orchestrator.ReportOutcome(ctx, r.outcomes, outcome)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			r.writeError(w, http.StatusNotFound, err.Error(), "NOT_FOUND", requestID)
			return
		}
		r.logger.Error("report outcome failed", zap.Error(err), zap.String("request_id", requestID))
		r.writeError(w, http.StatusInternalServerError, "report outcome failed: "+err.Error(), "OUTCOME_ERROR", requestID)
		return
	}

	if delta == nil {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "pending_outcome_window_opened"})
		return
	}
	writeJSON(w, http.StatusOK, delta)
}

// handleGetProfile returns the agent's current trust profile snapshot.
func (r *Router) handleGetProfile(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	requestID := middleware.GetReqID(ctx)
	agentID := chi.URLParam(req, "agent_id")

	profile, err := r.trustEngine.Snapshot(ctx, agentID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			r.writeError(w, http.StatusNotFound, "no trust profile for agent "+agentID, "NOT_FOUND", requestID)
			return
		}
		r.writeError(w, http.StatusInternalServerError, err.Error(), "PROFILE_ERROR", requestID)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// handleStreamEvents serves a filtered, point-in-time read of the proof
// chain. Callers poll it for new events; neither this API nor the MCP
// tools offer a push subscription.
func (r *Router) handleStreamEvents(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	requestID := middleware.GetReqID(ctx)

	filter := &proofchain.Filter{
		CorrelationID: req.URL.Query().Get("correlation_id"),
		AgentID:       req.URL.Query().Get("agent_id"),
	}
	if since := req.URL.Query().Get("since_seq"); since != "" {
		n, err := strconv.ParseInt(since, 10, 64)
		if err != nil {
			r.writeError(w, http.StatusBadRequest, "invalid since_seq", "VALIDATION_ERROR", requestID)
			return
		}
		filter.SinceSeq = n
	}

	events, err := r.events.Stream(ctx, filter)
	if err != nil {
		r.writeError(w, http.StatusInternalServerError, err.Error(), "STREAM_ERROR", requestID)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// handleVerifyChain walks the proof chain for correlationId and reports
// whether it is intact.
func (r *Router) handleVerifyChain(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	requestID := middleware.GetReqID(ctx)
	correlationID := chi.URLParam(req, "correlation_id")

	result, err := r.events.Verify(ctx, correlationID)
	if err != nil {
		r.writeError(w, http.StatusInternalServerError, err.Error(), "VERIFY_ERROR", requestID)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (r *Router) writeError(w http.ResponseWriter, status int, message, code, requestID string) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code, RequestID: requestID})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeStrict reads req's body with a size cap and rejects unknown
// fields, per the wire-format contract that every external payload is
// structurally validated before entering the core.
func decodeStrict(w http.ResponseWriter, req *http.Request, v any, requestID string, logger *zap.Logger) bool {
	body := http.MaxBytesReader(w, req.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error(), Code: "PARSE_ERROR", RequestID: requestID})
		return false
	}
	if _, err := dec.Token(); err != io.EOF {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "request body must contain a single JSON object", Code: "PARSE_ERROR", RequestID: requestID})
		return false
	}
	return true
}
