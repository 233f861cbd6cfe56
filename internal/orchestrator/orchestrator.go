// Package orchestrator implements authorize(intent): the end-to-end
// decision pipeline that persists an intent, snapshots trust,
// classifies risk through the pre-action gate, evaluates policy, and
// assembles the final Decision, emitting proof events at each hinge
// point. Structurally this is the same staged-pipeline shape the
// authorization surface has always used — a sequence of named steps over
// a shared mutable state, each step able to short-circuit the rest on an
// early deny.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"invarity/internal/gate"
	"invarity/internal/policy"
	"invarity/internal/proofchain"
	"invarity/internal/repo"
	"invarity/internal/trust"
	"invarity/internal/types"
)

// decisionValidity is how long a permit decision remains usable before
// the caller must re-authorize.
const decisionValidity = 10 * time.Minute

// Orchestrator wires the trust engine, pre-action gate, and policy
// evaluator into a single authorize(intent) operation.
type Orchestrator struct {
	Agents    repo.AgentRepo
	Intents   repo.IntentRepo
	Decisions repo.DecisionRepo
	Trust     *trust.Engine
	Gate      *gate.Gate
	Policy    *policy.Evaluator
	Events    proofchain.Store
	Clock     repo.Clock
	Logger    *zap.Logger
}

// New builds an Orchestrator from its component dependencies.
func New(agents repo.AgentRepo, intents repo.IntentRepo, decisions repo.DecisionRepo,
	trustEngine *trust.Engine, g *gate.Gate, policyEvaluator *policy.Evaluator,
	events proofchain.Store, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		Agents:    agents,
		Intents:   intents,
		Decisions: decisions,
		Trust:     trustEngine,
		Gate:      g,
		Policy:    policyEvaluator,
		Events:    events,
		Clock:     repo.SystemClock{},
		Logger:    logger,
	}
}

// Authorize runs the full pipeline for intent and returns the resulting
// Decision. It is idempotent on intent.IntentID: a second call for the
// same intent returns the previously recorded decision without
// re-running the pipeline.
func (o *Orchestrator) Authorize(ctx context.Context, intent *types.Intent) (*types.Decision, error) {
	log := o.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("intent_id", intent.IntentID), zap.String("agent_id", intent.AgentID))

	if existing, err := o.Decisions.GetByIntent(ctx, intent.IntentID); err == nil {
		log.Debug("orchestrator: returning cached decision for already-authorized intent")
		return existing, nil
	}

	start := o.Clock.Now()

	if intent.ExpiresAt != nil && start.After(*intent.ExpiresAt) {
		return o.deny(ctx, intent, start, types.ReasonExpiredIntent, "intent expired before evaluation began")
	}

	if err := o.stepPersistPending(ctx, intent, start); err != nil {
		return nil, fmt.Errorf("orchestrator: persist intent: %w", err)
	}
	if err := o.emitIntentReceived(ctx, intent, start); err != nil {
		log.Warn("orchestrator: failed to emit INTENT_RECEIVED", zap.Error(err))
	}

	profile, err := o.stepSnapshotTrust(ctx, intent)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: trust snapshot: %w", err)
	}
	intent.TrustSnapshot = profile

	if profile != nil && profile.CircuitBroken {
		return o.deny(ctx, intent, start, types.ReasonInsufficientTrust, "agent trust profile is circuit broken")
	}

	gateResult, err := o.stepGate(ctx, intent, profile)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: gate verification: %w", err)
	}

	if gateResult.Status == types.GateRejected {
		return o.deny(ctx, intent, start, types.ReasonInsufficientTrust, gateResult.Reasoning...)
	}
	if gateResult.Status != types.GateApproved {
		return o.escalate(ctx, intent, start, gateResult)
	}

	policyResult, err := o.stepPolicy(ctx, intent, profile)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: policy evaluation: %w", err)
	}

	if policyResult.Effect == types.EffectDeny {
		return o.deny(ctx, intent, start, types.ReasonPolicyViolation, policyResult.DenyReasons...)
	}

	return o.permit(ctx, intent, start, profile, policyResult)
}

// executionImpact maps a reported execution status to the trust evidence
// impact it should carry. Success nudges competence upward; every failure
// mode costs more than a success gains, consistent with the engine's
// asymmetric gain/loss dynamics.
var executionImpact = map[types.ExecutionStatus]float64{
	types.ExecSuccess:   20,
	types.ExecFailure:   -30,
	types.ExecError:     -20,
	types.ExecTimeout:   -15,
	types.ExecCancelled: 0,
	types.ExecBlocked:   -10,
}

// riskProfileForReversibility picks how long a positive outcome's trust
// gain is withheld before it's realized: the harder an action is to undo,
// the longer its outcome must sit before being trusted.
func riskProfileForReversibility(r types.Reversibility) types.OutcomeRiskProfile {
	switch r {
	case types.ReversibilityIrreversible:
		return types.ProfileLongTerm
	case types.ReversibilityPartiallyReversible:
		return types.ProfileShortTerm
	default:
		return types.ProfileImmediate
	}
}

// ReportOutcome resolves the intent and decision behind correlationID and
// commits the reported execution outcome as trust evidence, emitting an
// EXECUTION_COMPLETED or EXECUTION_FAILED proof event alongside it.
func (o *Orchestrator) ReportOutcome(ctx context.Context, outcomes trust.OutcomeRepo, outcome types.ExecutionOutcome) (*types.TrustDelta, error) {
	decision, err := o.Decisions.GetByCorrelation(ctx, outcome.CorrelationID)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: resolve decision for correlation %s: %w", outcome.CorrelationID, err)
	}

	intent, err := o.Intents.Get(ctx, decision.IntentID)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: resolve intent for decision %s: %w", decision.DecisionID, err)
	}

	impact, ok := executionImpact[outcome.Status]
	if !ok {
		impact = 0
	}

	delta, err := o.Trust.CommitOutcome(ctx, outcomes, outcome.CorrelationID, decision.AgentID,
		types.DimCompetence, impact, riskProfileForReversibility(intent.Reversibility))
	if err != nil {
		return nil, err
	}

	eventType := types.EventExecutionCompleted
	if outcome.Status != types.ExecSuccess {
		eventType = types.EventExecutionFailed
	}
	if o.Events != nil {
		payload, marshalErr := json.Marshal(outcome)
		if marshalErr == nil {
			_ = proofchain.AppendWithRetry(ctx, o.Events, &types.ProofEvent{
				EventID:       uuid.NewString(),
				EventType:     eventType,
				CorrelationID: outcome.CorrelationID,
				AgentID:       decision.AgentID,
				Payload:       payload,
				OccurredAt:    o.Clock.Now(),
			}, o.Logger)
		}
	}

	return delta, nil
}

func (o *Orchestrator) stepPersistPending(ctx context.Context, intent *types.Intent, now time.Time) error {
	intent.Status = types.IntentEvaluating
	intent.UpdatedAt = now
	if intent.CreatedAt.IsZero() {
		intent.CreatedAt = now
	}
	return o.Intents.Put(ctx, intent)
}

func (o *Orchestrator) stepSnapshotTrust(ctx context.Context, intent *types.Intent) (*types.TrustProfile, error) {
	if o.Trust == nil {
		return nil, nil
	}
	profile, err := o.Trust.Snapshot(ctx, intent.AgentID)
	if err != nil {
		if err == types.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	return profile, nil
}

func (o *Orchestrator) stepGate(ctx context.Context, intent *types.Intent, profile *types.TrustProfile) (*types.GateVerificationResult, error) {
	if o.Gate == nil {
		return &types.GateVerificationResult{Status: types.GateApproved, Passed: true}, nil
	}
	return o.Gate.Verify(ctx, intent, profile)
}

func (o *Orchestrator) stepPolicy(ctx context.Context, intent *types.Intent, profile *types.TrustProfile) (*policy.EvaluationResult, error) {
	if o.Policy == nil {
		return &policy.EvaluationResult{Effect: types.EffectPermit}, nil
	}

	agent, err := o.Agents.Get(ctx, intent.AgentID)
	if err != nil && err != types.ErrNotFound {
		return nil, err
	}

	key := policy.Key{
		Domain:          firstOf(intent.Context, "domain"),
		Environment:     firstOf(intent.Context, "environment"),
		Jurisdictions:   stringSliceOf(intent.Context, "jurisdictions"),
		DataSensitivity: intent.DataSensitivity,
	}

	return o.Policy.Evaluate(ctx, key, &policy.EvaluationContext{
		Intent:  intent,
		Agent:   agent,
		Profile: profile,
		Context: intent.Context,
	})
}

func firstOf(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func stringSliceOf(m map[string]any, key string) []string {
	if m == nil {
		return nil
	}
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

func (o *Orchestrator) deny(ctx context.Context, intent *types.Intent, start time.Time, reason types.DenialReason, reasoning ...string) (*types.Decision, error) {
	decision := o.baseDecision(intent, start, false)
	decision.DenialReason = reason
	decision.Reasoning = reasoning
	return o.finalize(ctx, intent, decision, types.IntentDenied)
}

func (o *Orchestrator) escalate(ctx context.Context, intent *types.Intent, start time.Time, gateResult *types.GateVerificationResult) (*types.Decision, error) {
	decision := o.baseDecision(intent, start, false)
	decision.Reasoning = append([]string{string(gateResult.Status)}, gateResult.Requirements...)
	decision.ExpiresAt = gateResult.ExpiresAt
	return o.finalize(ctx, intent, decision, types.IntentEscalated)
}

func (o *Orchestrator) permit(ctx context.Context, intent *types.Intent, start time.Time, profile *types.TrustProfile, result *policy.EvaluationResult) (*types.Decision, error) {
	decision := o.baseDecision(intent, start, true)
	decision.Constraints = result.Constraints
	decision.Reasoning = result.MatchedRules
	decision.ExpiresAt = start.Add(decisionValidity)
	return o.finalize(ctx, intent, decision, types.IntentApproved)
}

func (o *Orchestrator) baseDecision(intent *types.Intent, start time.Time, permitted bool) *types.Decision {
	now := o.Clock.Now()
	band := types.TrustBand("")
	score := 0.0
	if intent.TrustSnapshot != nil {
		band = intent.TrustSnapshot.Band
		score = intent.TrustSnapshot.AdjustedScore
	}
	return &types.Decision{
		DecisionID:    uuid.NewString(),
		IntentID:      intent.IntentID,
		AgentID:       intent.AgentID,
		CorrelationID: intent.CorrelationID,
		Permitted:     permitted,
		TrustBand:     band,
		TrustScore:    score,
		DecidedAt:     now,
		LatencyMs:     now.Sub(start).Milliseconds(),
		Version:       1,
	}
}

func (o *Orchestrator) finalize(ctx context.Context, intent *types.Intent, decision *types.Decision, status types.IntentStatus) (*types.Decision, error) {
	if err := o.Decisions.Put(ctx, decision); err != nil {
		return nil, err
	}

	intent.Status = status
	intent.UpdatedAt = decision.DecidedAt
	if err := o.Intents.Put(ctx, intent); err != nil {
		return nil, err
	}

	if err := o.emitDecisionMade(ctx, intent, decision); err != nil && o.Logger != nil {
		o.Logger.Warn("orchestrator: failed to emit DECISION_MADE", zap.Error(err))
	}
	return decision, nil
}

func (o *Orchestrator) emitIntentReceived(ctx context.Context, intent *types.Intent, now time.Time) error {
	if o.Events == nil {
		return nil
	}
	payload, err := json.Marshal(intent)
	if err != nil {
		return err
	}
	return proofchain.AppendWithRetry(ctx, o.Events, &types.ProofEvent{
		EventID:       uuid.NewString(),
		EventType:     types.EventIntentReceived,
		CorrelationID: intent.CorrelationID,
		AgentID:       intent.AgentID,
		Payload:       payload,
		OccurredAt:    now,
	}, o.Logger)
}

func (o *Orchestrator) emitDecisionMade(ctx context.Context, intent *types.Intent, decision *types.Decision) error {
	if o.Events == nil {
		return nil
	}
	payload, err := json.Marshal(decision)
	if err != nil {
		return err
	}
	return proofchain.AppendWithRetry(ctx, o.Events, &types.ProofEvent{
		EventID:       uuid.NewString(),
		EventType:     types.EventDecisionMade,
		CorrelationID: intent.CorrelationID,
		AgentID:       intent.AgentID,
		Payload:       payload,
		OccurredAt:    decision.DecidedAt,
	}, o.Logger)
}
