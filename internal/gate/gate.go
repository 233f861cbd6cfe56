// Package gate implements the pre-action gate: a weighted risk
// classification of an intent, a trust-threshold check against the
// agent's current profile, and escalation to a pending verification or
// human-approval state when the intent can't be auto-decided.
package gate

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"invarity/internal/types"
	"invarity/internal/util"
)

// Default factor weights for the composite risk formula
// w1*actionTypeRisk + w2*sensitivityRisk + w3*reversibilityRisk + w4*magnitudeRisk.
// Weights sum to 1; magnitude carries the least fixed weight since its
// contribution is already data-dependent (capped contribution from a
// user-supplied number).
const (
	defaultActionTypeWeight   = 0.30
	defaultSensitivityWeight  = 0.30
	defaultReversibilityWeight = 0.25
	defaultMagnitudeWeight    = 0.15
)

// actionTypeRisk scores 0-100 per action type, read being lowest risk and
// transfer/delete the highest.
var actionTypeRisk = map[types.ActionType]float64{
	types.ActionRead:        10,
	types.ActionCommunicate: 25,
	types.ActionExecute:     55,
	types.ActionWrite:       45,
	types.ActionDelete:      80,
	types.ActionTransfer:    90,
}

var sensitivityRisk = map[types.DataSensitivity]float64{
	types.SensitivityPublic:       5,
	types.SensitivityInternal:     30,
	types.SensitivityConfidential: 65,
	types.SensitivityRestricted:   95,
}

var reversibilityRisk = map[types.Reversibility]float64{
	types.ReversibilityReversible:          10,
	types.ReversibilityPartiallyReversible: 50,
	types.ReversibilityIrreversible:        95,
}

// magnitudeCeiling is the magnitude value, in the intent's own units, past
// which magnitudeRisk saturates at 100.
const magnitudeCeiling = 100000.0

// riskThresholds buckets a 0-100 composite score into a RiskLevel.
var riskThresholds = []struct {
	max   float64
	level types.RiskLevel
}{
	{10, types.RiskRead},
	{30, types.RiskLow},
	{55, types.RiskMedium},
	{80, types.RiskHigh},
	{100, types.RiskCritical},
}

// requiredTrustByLevel is the minimum adjusted trust score an agent needs
// to clear the gate outright at a given risk level.
var requiredTrustByLevel = map[types.RiskLevel]float64{
	types.RiskRead:     0,
	types.RiskLow:      200,
	types.RiskMedium:   400,
	types.RiskHigh:     600,
	types.RiskCritical: 800,
}

// verificationWindow is how long a PENDING_VERIFICATION result stays
// valid before the caller must re-request gating.
const verificationWindow = 15 * time.Minute

// approvalWindow is how long a PENDING_HUMAN_APPROVAL result stays valid.
const approvalWindow = 24 * time.Hour

// Weights overrides the default factor weights; the zero value uses the
// package defaults.
type Weights struct {
	ActionType    float64
	Sensitivity   float64
	Reversibility float64
	Magnitude     float64
}

func (w Weights) orDefault() Weights {
	if w.ActionType == 0 && w.Sensitivity == 0 && w.Reversibility == 0 && w.Magnitude == 0 {
		return Weights{
			ActionType:    defaultActionTypeWeight,
			Sensitivity:   defaultSensitivityWeight,
			Reversibility: defaultReversibilityWeight,
			Magnitude:     defaultMagnitudeWeight,
		}
	}
	return w
}

// Gate evaluates intents against a weighted risk model and a trust floor.
type Gate struct {
	Weights Weights
	Clock   func() time.Time
}

// New builds a Gate with the default factor weights.
func New() *Gate {
	return &Gate{Weights: Weights{}.orDefault(), Clock: func() time.Time { return time.Now().UTC() }}
}

// Classify computes an intent's composite risk score and RiskLevel,
// independent of any trust check.
func (g *Gate) Classify(intent *types.Intent) (score float64, level types.RiskLevel, factors []string) {
	w := g.Weights.orDefault()

	atRisk := actionTypeRisk[intent.ActionType]
	sRisk := sensitivityRisk[intent.DataSensitivity]
	rRisk := reversibilityRisk[intent.Reversibility]
	mRisk := magnitudeRisk(intent.Magnitude)

	score = w.ActionType*atRisk + w.Sensitivity*sRisk + w.Reversibility*rRisk + w.Magnitude*mRisk

	factors = append(factors,
		fmt.Sprintf("action_type=%s(%.0f)", intent.ActionType, atRisk),
		fmt.Sprintf("data_sensitivity=%s(%.0f)", intent.DataSensitivity, sRisk),
		fmt.Sprintf("reversibility=%s(%.0f)", intent.Reversibility, rRisk),
	)
	if intent.Magnitude != nil {
		factors = append(factors, fmt.Sprintf("magnitude=%.2f(%.0f)", *intent.Magnitude, mRisk))
	}

	return score, levelFor(score), factors
}

func magnitudeRisk(magnitude *float64) float64 {
	if magnitude == nil {
		return 0
	}
	m := *magnitude
	if m <= 0 {
		return 0
	}
	if m >= magnitudeCeiling {
		return 100
	}
	return (m / magnitudeCeiling) * 100
}

func levelFor(score float64) types.RiskLevel {
	for _, t := range riskThresholds {
		if score <= t.max {
			return t.level
		}
	}
	return types.RiskCritical
}

// Verify classifies intent, checks it against profile's adjusted trust
// score, and returns a GateVerificationResult. A shortfall escalates to
// PENDING_VERIFICATION for low or medium risk or PENDING_HUMAN_APPROVAL for
// high/critical risk, each carrying its own validity window.
func (g *Gate) Verify(ctx context.Context, intent *types.Intent, profile *types.TrustProfile) (*types.GateVerificationResult, error) {
	score, level, factors := g.Classify(intent)
	required := requiredTrustByLevel[level]

	current := 0.0
	if profile != nil {
		current = profile.AdjustedScore
	}

	now := g.Clock()
	result := &types.GateVerificationResult{
		RiskLevel:      level,
		RequiredTrust:  required,
		CurrentTrust:   current,
		Reasoning:      factors,
		VerifiedAt:     now,
		VerificationID: uuid.NewString(),
	}

	if profile != nil && profile.CircuitBroken {
		result.Status = types.GateRejected
		result.Passed = false
		result.Reasoning = append(result.Reasoning, "agent trust profile is circuit broken")
		result.ExpiresAt = now
		return result, nil
	}

	if current >= required {
		result.Status = types.GateApproved
		result.Passed = true
		result.ExpiresAt = now.Add(verificationWindow)
		return result, nil
	}

	result.TrustDeficit = required - current
	result.Passed = false

	switch level {
	case types.RiskHigh, types.RiskCritical:
		result.Status = types.GatePendingHumanApproval
		result.Requirements = []string{"human_approval"}
		result.ExpiresAt = now.Add(approvalWindow)
	default:
		result.Status = types.GatePendingVerification
		result.Requirements = []string{"step_up_verification"}
		result.ExpiresAt = now.Add(verificationWindow)
	}

	return result, nil
}
