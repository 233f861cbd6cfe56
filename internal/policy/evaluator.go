package policy

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"invarity/internal/types"
	"invarity/internal/util"
)

// EvaluationContext carries every value a rule's flat conditions can
// dot-path into: the intent itself, the acting agent, its trust profile,
// and any caller-supplied context map.
type EvaluationContext struct {
	Intent  *types.Intent
	Agent   *types.Agent
	Profile *types.TrustProfile
	Context map[string]any
}

// EvaluationResult is the aggregate verdict across every bundle a Key
// resolved to.
type EvaluationResult struct {
	Effect       types.PolicyEffect
	MatchedRules []string
	DenyReasons  []string
	Constraints  *types.Constraints
}

// Evaluator evaluates resolved bundles against an EvaluationContext.
type Evaluator struct {
	store Store
}

// NewEvaluator creates a new policy evaluator backed by store.
func NewEvaluator(store Store) *Evaluator {
	return &Evaluator{store: store}
}

// Evaluate resolves the bundle set for key and evaluates all of them
// against evalCtx, merging the result per spec §4.D's cross-bundle
// composition rule: a deny from any bundle is final; permits intersect
// their constraints.
func (e *Evaluator) Evaluate(ctx context.Context, key Key, evalCtx *EvaluationContext) (*EvaluationResult, error) {
	bundles, err := e.store.Resolve(ctx, key)
	if err != nil {
		if err == ErrPolicyNotFound {
			return &EvaluationResult{Effect: types.EffectDeny, DenyReasons: []string{"no applicable policy bundle"}}, nil
		}
		return nil, err
	}

	agg := &EvaluationResult{Effect: types.EffectPermit}
	var mergedConstraints *types.Constraints

	for _, bundle := range bundles {
		result := evaluateBundle(bundle, evalCtx)
		agg.MatchedRules = append(agg.MatchedRules, result.MatchedRules...)

		if result.Effect == types.EffectDeny {
			agg.Effect = types.EffectDeny
			agg.DenyReasons = append(agg.DenyReasons, result.DenyReasons...)
			continue
		}

		if agg.Effect == types.EffectDeny {
			continue
		}

		if result.Constraints != nil {
			mergedConstraints = mergeConstraints(mergedConstraints, result.Constraints)
		}
	}

	if agg.Effect == types.EffectPermit {
		agg.Constraints = mergedConstraints
	}
	return agg, nil
}

// evaluateBundle applies one bundle's structural action restrictions and
// then its rule list to evalCtx.
func evaluateBundle(bundle types.PolicyBundle, evalCtx *EvaluationContext) *EvaluationResult {
	if evalCtx.Intent != nil {
		if gated, reason := checkActionRestrictions(bundle.ActionRestrictions, evalCtx); gated != nil {
			return &EvaluationResult{Effect: *gated, DenyReasons: reasonSlice(*gated, reason)}
		}
	}

	rules := sortRulesByPriority(bundle.Rules)

	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		if !conditionsMatch(rule.Conditions, evalCtx) {
			continue
		}

		switch rule.Effect {
		case types.EffectDeny:
			return &EvaluationResult{
				Effect:       types.EffectDeny,
				MatchedRules: []string{rule.RuleID},
				DenyReasons:  []string{rule.Name},
			}
		case types.EffectPermit:
			return withRequiredApproval(bundle, evalCtx, &EvaluationResult{
				Effect:       types.EffectPermit,
				MatchedRules: []string{rule.RuleID},
				Constraints:  rule.Constraints,
			})
		}
	}

	return withRequiredApproval(bundle, evalCtx, &EvaluationResult{Effect: bundle.DefaultEffect})
}

// withRequiredApproval adds a required approval to a permit result when
// bundle's AlwaysRequireApproval lists evalCtx's action type.
func withRequiredApproval(bundle types.PolicyBundle, evalCtx *EvaluationContext, result *EvaluationResult) *EvaluationResult {
	if result.Effect != types.EffectPermit || evalCtx.Intent == nil || !RequiresApproval(bundle, evalCtx.Intent.ActionType) {
		return result
	}
	var constraints types.Constraints
	if result.Constraints != nil {
		constraints = *result.Constraints
	}
	if len(constraints.RequiredApprovals) == 0 {
		constraints.RequiredApprovals = []string{"human_approval"}
	}
	result.Constraints = &constraints
	return result
}

func reasonSlice(effect types.PolicyEffect, reason string) []string {
	if effect == types.EffectDeny {
		return []string{reason}
	}
	return nil
}

// checkActionRestrictions applies the structural gates a bundle defines
// before any rule is evaluated: never-allowed action types deny outright,
// always-require-approval action types force a required approval onto the
// eventual permit (added by withRequiredApproval), and an action type absent from the current trust
// band's allowlist (when one is configured) denies with a policy
// violation.
func checkActionRestrictions(restrictions types.ActionRestrictions, evalCtx *EvaluationContext) (*types.PolicyEffect, string) {
	actionType := evalCtx.Intent.ActionType

	for _, never := range restrictions.NeverAllowed {
		if never == actionType {
			deny := types.EffectDeny
			return &deny, fmt.Sprintf("action type %s is never allowed by this bundle", actionType)
		}
	}

	if len(restrictions.AllowedByBand) > 0 && evalCtx.Profile != nil {
		allowed, ok := restrictions.AllowedByBand[evalCtx.Profile.Band]
		if ok && !containsActionType(allowed, actionType) {
			deny := types.EffectDeny
			return &deny, fmt.Sprintf("action type %s is not allowed for trust band %s", actionType, evalCtx.Profile.Band)
		}
	}

	return nil, ""
}

func containsActionType(list []types.ActionType, want types.ActionType) bool {
	for _, a := range list {
		if a == want {
			return true
		}
	}
	return false
}

// RequiresApproval reports whether bundle's action restrictions force an
// approval requirement onto evalCtx's action type, independent of rule
// evaluation.
func RequiresApproval(bundle types.PolicyBundle, actionType types.ActionType) bool {
	for _, a := range bundle.ActionRestrictions.AlwaysRequireApproval {
		if a == actionType {
			return true
		}
	}
	return false
}

// mergeConstraints intersects two permit constraint sets: numeric caps
// take the minimum, allowlists intersect, and reversibility-required is
// OR'd, since any one bundle demanding it makes it binding overall.
func mergeConstraints(a, b *types.Constraints) *types.Constraints {
	if a == nil {
		clone := *b
		return &clone
	}

	out := *a
	out.RequiredApprovals = unionStrings(a.RequiredApprovals, b.RequiredApprovals)
	out.AllowedTools = intersectStrings(a.AllowedTools, b.AllowedTools)
	out.DataScopes = intersectStrings(a.DataScopes, b.DataScopes)
	out.RateLimits = unionStrings(a.RateLimits, b.RateLimits)
	out.ReversibilityRequired = a.ReversibilityRequired || b.ReversibilityRequired
	out.MaxExecutionTimeMs = minPtr(a.MaxExecutionTimeMs, b.MaxExecutionTimeMs)
	out.MaxRetries = minIntPtr(a.MaxRetries, b.MaxRetries)
	out.ResourceQuotas = intersectQuotas(a.ResourceQuotas, b.ResourceQuotas)
	return &out
}

func unionStrings(a, b []string) []string {
	if len(a) == 0 {
		return b
	}
	if len(b) == 0 {
		return a
	}
	return util.DedupeStrings(append(append([]string{}, a...), b...))
}

func intersectStrings(a, b []string) []string {
	if len(a) == 0 {
		return b
	}
	if len(b) == 0 {
		return a
	}
	set := make(map[string]bool, len(b))
	for _, v := range b {
		set[v] = true
	}
	var out []string
	for _, v := range a {
		if set[v] {
			out = append(out, v)
		}
	}
	return out
}

func intersectQuotas(a, b map[string]int) map[string]int {
	if len(a) == 0 {
		return b
	}
	if len(b) == 0 {
		return a
	}
	out := make(map[string]int, len(a))
	for k, v := range a {
		if other, ok := b[k]; ok {
			if other < v {
				v = other
			}
			out[k] = v
		} else {
			out[k] = v
		}
	}
	for k, v := range b {
		if _, ok := out[k]; !ok {
			out[k] = v
		}
	}
	return out
}

func minPtr(a, b *int64) *int64 {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if *a < *b {
		return a
	}
	return b
}

func minIntPtr(a, b *int) *int {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if *a < *b {
		return a
	}
	return b
}

// sortRulesByPriority returns rules sorted ascending (lower priority
// number evaluates first, per spec §4.D).
func sortRulesByPriority(rules []types.PolicyRule) []types.PolicyRule {
	sorted := make([]types.PolicyRule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })
	return sorted
}

// conditionsMatch reports whether every condition in a rule matches
// evalCtx. An empty condition list always matches.
func conditionsMatch(conditions []types.PolicyCondition, evalCtx *EvaluationContext) bool {
	for _, cond := range conditions {
		if !conditionMatches(cond, evalCtx) {
			return false
		}
	}
	return true
}

func conditionMatches(cond types.PolicyCondition, evalCtx *EvaluationContext) bool {
	actual, ok := lookupField(cond.Field, evalCtx)
	if !ok {
		return false
	}
	return evaluateOperator(cond.Operator, actual, cond.Value)
}

// lookupField resolves a dot-path field reference like
// "intent.data_sensitivity" or "profile.dimensions.CT" against the four
// root objects an evaluation context exposes.
func lookupField(field string, evalCtx *EvaluationContext) (any, bool) {
	parts := strings.Split(field, ".")
	if len(parts) == 0 {
		return nil, false
	}

	var root any
	switch parts[0] {
	case "intent":
		if evalCtx.Intent == nil {
			return nil, false
		}
		root = intentToMap(evalCtx.Intent)
	case "agent":
		if evalCtx.Agent == nil {
			return nil, false
		}
		root = agentToMap(evalCtx.Agent)
	case "profile":
		if evalCtx.Profile == nil {
			return nil, false
		}
		root = profileToMap(evalCtx.Profile)
	case "context":
		root = evalCtx.Context
	default:
		return nil, false
	}

	return walkPath(root, parts[1:])
}

func walkPath(root any, path []string) (any, bool) {
	cur := root
	for _, p := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func intentToMap(i *types.Intent) map[string]any {
	return map[string]any{
		"intent_id":        i.IntentID,
		"tenant_id":        i.TenantID,
		"agent_id":         i.AgentID,
		"action":           i.Action,
		"action_type":      string(i.ActionType),
		"data_sensitivity": string(i.DataSensitivity),
		"reversibility":    string(i.Reversibility),
		"resource_scope":   toAnySlice(i.ResourceScope),
		"magnitude":        derefFloat(i.Magnitude),
		"status":           string(i.Status),
	}
}

func agentToMap(a *types.Agent) map[string]any {
	return map[string]any{
		"id":         a.ID,
		"tenant_id":  a.TenantID,
		"profile_id": a.ProfileID,
	}
}

func profileToMap(p *types.TrustProfile) map[string]any {
	dims := make(map[string]any, len(p.Dimensions))
	for k, v := range p.Dimensions {
		dims[string(k)] = v
	}
	return map[string]any{
		"trust_band":       string(p.Band),
		"composite_score":  p.CompositeScore,
		"adjusted_score":   p.AdjustedScore,
		"observation_tier": string(p.ObservationTier),
		"circuit_broken":   p.CircuitBroken,
		"dimensions":       dims,
	}
}

func toAnySlice(s []string) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}

func derefFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

// evaluateOperator applies one of the ten condition operators. Values
// coming off the wire as JSON numbers are float64; this normalizes
// numeric comparisons through toFloat rather than assuming a Go type.
func evaluateOperator(op types.ConditionOperator, actual, want any) bool {
	switch op {
	case types.OpEquals:
		return fmt.Sprint(actual) == fmt.Sprint(want)
	case types.OpNotEquals:
		return fmt.Sprint(actual) != fmt.Sprint(want)
	case types.OpGT, types.OpLT, types.OpGE, types.OpLE:
		af, aok := toFloat(actual)
		wf, wok := toFloat(want)
		if !aok || !wok {
			return false
		}
		switch op {
		case types.OpGT:
			return af > wf
		case types.OpLT:
			return af < wf
		case types.OpGE:
			return af >= wf
		default:
			return af <= wf
		}
	case types.OpIn:
		return containsAny(want, actual)
	case types.OpNotIn:
		return !containsAny(want, actual)
	case types.OpContains:
		return containsAny(actual, want)
	case types.OpMatches:
		pattern, ok := want.(string)
		if !ok {
			return false
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false
		}
		return re.MatchString(fmt.Sprint(actual))
	default:
		return false
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func containsAny(list any, want any) bool {
	slice, ok := list.([]any)
	if !ok {
		// Tolerate []string, the common Go-side literal shape.
		if ss, ok := list.([]string); ok {
			for _, s := range ss {
				if s == fmt.Sprint(want) {
					return true
				}
			}
		}
		return false
	}
	for _, v := range slice {
		if fmt.Sprint(v) == fmt.Sprint(want) {
			return true
		}
	}
	return false
}
