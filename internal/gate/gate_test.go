package gate

import (
	"context"
	"testing"

	"invarity/internal/types"
)

func TestClassifyReadIsLowRisk(t *testing.T) {
	g := New()
	intent := &types.Intent{
		ActionType:      types.ActionRead,
		DataSensitivity: types.SensitivityPublic,
		Reversibility:   types.ReversibilityReversible,
	}
	_, level, _ := g.Classify(intent)
	if level != types.RiskRead && level != types.RiskLow {
		t.Fatalf("expected read/low risk for a reversible public read, got %s", level)
	}
}

func TestClassifyIrreversibleTransferIsCritical(t *testing.T) {
	g := New()
	magnitude := 500000.0
	intent := &types.Intent{
		ActionType:      types.ActionTransfer,
		DataSensitivity: types.SensitivityRestricted,
		Reversibility:   types.ReversibilityIrreversible,
		Magnitude:       &magnitude,
	}
	_, level, _ := g.Classify(intent)
	if level != types.RiskCritical {
		t.Fatalf("expected critical risk, got %s", level)
	}
}

func TestVerifyDeniesCircuitBrokenProfile(t *testing.T) {
	g := New()
	intent := &types.Intent{ActionType: types.ActionRead, DataSensitivity: types.SensitivityPublic, Reversibility: types.ReversibilityReversible}
	profile := &types.TrustProfile{AdjustedScore: 900, CircuitBroken: true}

	result, err := g.Verify(context.Background(), intent, profile)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if result.Status != types.GateRejected {
		t.Fatalf("expected REJECTED for circuit-broken profile, got %s", result.Status)
	}
}

func TestVerifyEscalatesHighRiskBelowTrustFloor(t *testing.T) {
	g := New()
	magnitude := 200000.0
	intent := &types.Intent{
		ActionType:      types.ActionTransfer,
		DataSensitivity: types.SensitivityRestricted,
		Reversibility:   types.ReversibilityIrreversible,
		Magnitude:       &magnitude,
	}
	profile := &types.TrustProfile{AdjustedScore: 100}

	result, err := g.Verify(context.Background(), intent, profile)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if result.Status != types.GatePendingHumanApproval {
		t.Fatalf("expected PENDING_HUMAN_APPROVAL, got %s", result.Status)
	}
	if result.Passed {
		t.Fatalf("expected Passed=false when trust is below the required floor")
	}
}

func TestVerifyApprovesSufficientTrust(t *testing.T) {
	g := New()
	intent := &types.Intent{ActionType: types.ActionRead, DataSensitivity: types.SensitivityPublic, Reversibility: types.ReversibilityReversible}
	profile := &types.TrustProfile{AdjustedScore: 500}

	result, err := g.Verify(context.Background(), intent, profile)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if result.Status != types.GateApproved || !result.Passed {
		t.Fatalf("expected APPROVED, got %s (passed=%v)", result.Status, result.Passed)
	}
}
