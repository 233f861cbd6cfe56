package policy

import (
	"context"
	"testing"
	"time"

	"invarity/internal/types"
)

func TestEvaluateDenyShortCircuits(t *testing.T) {
	store := NewInMemoryStore()
	now := time.Now().UTC()
	_ = store.PutBundle(context.Background(), types.PolicyBundle{
		BundleID:               "b1",
		Enabled:                true,
		ApplicableDomains:      []string{"*"},
		ApplicableEnvironments: []string{"*"},
		Rules: []types.PolicyRule{
			{
				RuleID:   "deny-delete",
				Priority: 1,
				Conditions: []types.PolicyCondition{
					{Field: "intent.action_type", Operator: types.OpEquals, Value: string(types.ActionDelete)},
				},
				Effect:  types.EffectDeny,
				Enabled: true,
			},
		},
		DefaultEffect: types.EffectPermit,
		CreatedAt:     now,
		UpdatedAt:     now,
	})

	evaluator := NewEvaluator(store)
	result, err := evaluator.Evaluate(context.Background(), Key{Domain: "finance", Environment: "prod"}, &EvaluationContext{
		Intent: &types.Intent{ActionType: types.ActionDelete, DataSensitivity: types.SensitivityInternal},
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if result.Effect != types.EffectDeny {
		t.Fatalf("expected deny, got %s", result.Effect)
	}
}

func TestEvaluateDefaultEffectWhenNoRuleMatches(t *testing.T) {
	store := NewInMemoryStore()
	now := time.Now().UTC()
	_ = store.PutBundle(context.Background(), types.PolicyBundle{
		BundleID:               "b2",
		Enabled:                true,
		ApplicableDomains:      []string{"*"},
		ApplicableEnvironments: []string{"*"},
		Rules: []types.PolicyRule{
			{
				RuleID:   "irrelevant",
				Priority: 1,
				Conditions: []types.PolicyCondition{
					{Field: "intent.action_type", Operator: types.OpEquals, Value: string(types.ActionDelete)},
				},
				Effect:  types.EffectDeny,
				Enabled: true,
			},
		},
		DefaultEffect: types.EffectPermit,
		CreatedAt:     now,
		UpdatedAt:     now,
	})

	evaluator := NewEvaluator(store)
	result, err := evaluator.Evaluate(context.Background(), Key{Domain: "finance", Environment: "prod"}, &EvaluationContext{
		Intent: &types.Intent{ActionType: types.ActionRead, DataSensitivity: types.SensitivityInternal},
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if result.Effect != types.EffectPermit {
		t.Fatalf("expected default permit, got %s", result.Effect)
	}
}

func TestActionRestrictionsNeverAllowedDeniesBeforeRules(t *testing.T) {
	store := NewInMemoryStore()
	now := time.Now().UTC()
	_ = store.PutBundle(context.Background(), types.PolicyBundle{
		BundleID:               "b3",
		Enabled:                true,
		ApplicableDomains:      []string{"*"},
		ApplicableEnvironments: []string{"*"},
		ActionRestrictions: types.ActionRestrictions{
			NeverAllowed: []types.ActionType{types.ActionTransfer},
		},
		Rules: []types.PolicyRule{
			{
				RuleID:     "allow-all",
				Priority:   1,
				Conditions: []types.PolicyCondition{},
				Effect:     types.EffectPermit,
				Enabled:    true,
			},
		},
		DefaultEffect: types.EffectPermit,
		CreatedAt:     now,
		UpdatedAt:     now,
	})

	evaluator := NewEvaluator(store)
	result, err := evaluator.Evaluate(context.Background(), Key{Domain: "finance", Environment: "prod"}, &EvaluationContext{
		Intent: &types.Intent{ActionType: types.ActionTransfer, DataSensitivity: types.SensitivityInternal},
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if result.Effect != types.EffectDeny {
		t.Fatalf("expected structural deny for never-allowed action type, got %s", result.Effect)
	}
}

func TestCrossBundleDenyWinsOverOtherBundlePermit(t *testing.T) {
	store := NewInMemoryStore()
	now := time.Now().UTC()
	_ = store.PutBundle(context.Background(), types.PolicyBundle{
		BundleID: "permit-bundle", Enabled: true,
		ApplicableDomains: []string{"*"}, ApplicableEnvironments: []string{"*"},
		Rules: []types.PolicyRule{
			{RuleID: "r1", Priority: 1, Conditions: []types.PolicyCondition{}, Effect: types.EffectPermit, Enabled: true},
		},
		DefaultEffect: types.EffectPermit, CreatedAt: now, UpdatedAt: now,
	})
	_ = store.PutBundle(context.Background(), types.PolicyBundle{
		BundleID: "deny-bundle", Enabled: true,
		ApplicableDomains: []string{"*"}, ApplicableEnvironments: []string{"*"},
		Rules: []types.PolicyRule{
			{RuleID: "r2", Priority: 1, Conditions: []types.PolicyCondition{}, Effect: types.EffectDeny, Enabled: true},
		},
		DefaultEffect: types.EffectPermit, CreatedAt: now, UpdatedAt: now,
	})

	evaluator := NewEvaluator(store)
	result, err := evaluator.Evaluate(context.Background(), Key{Domain: "finance", Environment: "prod"}, &EvaluationContext{
		Intent: &types.Intent{ActionType: types.ActionRead, DataSensitivity: types.SensitivityInternal},
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if result.Effect != types.EffectDeny {
		t.Fatalf("expected cross-bundle deny to win, got %s", result.Effect)
	}
}
