// Package trust implements multi-dimensional trust scoring: composite and
// adjusted score computation, asymmetric gain/loss dynamics, cooldown,
// oscillation detection, the circuit breaker, time decay, hysteresis
// banding, and temporal outcome resolution.
package trust

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"invarity/internal/proofchain"
	"invarity/internal/types"
)

// Default dynamics constants.
const (
	defaultGainRate                = 0.01
	defaultLossRate                = 0.10
	cooldownHours                  = 168
	pendingGainDiminishRatio       = 0.5
	oscillationWindowHours         = 24
	oscillationThreshold           = 3
	reversalPenaltyMultiplier      = 2.0
	decayRatePerDay                = 0.01
	hysteresisPoints               = 30
	promotionDelayDays             = 7
	circuitBreakerFloor            = 100
	defaultProfileValidity         = time.Hour
)

// bandBoundary is the inclusive upper bound of a band on the 0-1000 scale.
type bandBoundary struct {
	band  types.TrustBand
	upper float64
}

// bandTable is ordered ascending; the first boundary whose upper bound
// contains the score wins.
var bandTable = []bandBoundary{
	{types.BandT0, 200},
	{types.BandT1, 400},
	{types.BandT2, 550},
	{types.BandT3, 700},
	{types.BandT4, 850},
	{types.BandT5, 1000},
}

func bandForScore(score float64) types.TrustBand {
	for _, b := range bandTable {
		if score <= b.upper {
			return b.band
		}
	}
	return types.BandT5
}

// ProfileRepo is the narrow persistence contract the engine depends on.
// The optimistic-concurrency Save must fail with types.ErrProfileVersionConflict
// when profile.Version no longer matches the stored version.
type ProfileRepo interface {
	Get(ctx context.Context, agentID string) (*types.TrustProfile, error)
	Save(ctx context.Context, profile *types.TrustProfile) error
}

// Clock abstracts time.Now for deterministic tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Engine is the Trust Engine. It is safe for concurrent use across
// different agentIDs; callers serialize per-agent access through
// ProfileRepo's own CAS semantics.
type Engine struct {
	Profiles ProfileRepo
	Events   proofchain.Store
	Clock    Clock
	Logger   *zap.Logger

	GainRate float64
	LossRate float64
}

// New builds an Engine with the default dynamics constants.
func New(profiles ProfileRepo, events proofchain.Store, logger *zap.Logger) *Engine {
	return &Engine{
		Profiles: profiles,
		Events:   events,
		Clock:    systemClock{},
		Logger:   logger,
		GainRate: defaultGainRate,
		LossRate: defaultLossRate,
	}
}

// Snapshot returns the agent's current profile with lazy time decay applied
// and recomputed composite/adjusted/band fields. Decay is not persisted
// here; callers that need the decayed values durable should route through
// IngestEvidence or a dedicated maintenance sweep.
func (e *Engine) Snapshot(ctx context.Context, agentID string) (*types.TrustProfile, error) {
	profile, err := e.Profiles.Get(ctx, agentID)
	if err != nil {
		return nil, err
	}
	now := e.Clock.Now()
	decayed := applyDecay(*profile, now)
	recompute(&decayed)
	decayed.Band = e.resolveBand(*profile, decayed, now)
	return &decayed, nil
}

// IngestEvidence applies one piece of evidence to the named dimension,
// persists the resulting profile under optimistic concurrency, and emits a
// TrustDelta plus a TRUST_DELTA proof event. Returns types.ErrProfileVersionConflict
// on a lost CAS race; callers retry by re-fetching and reapplying.
func (e *Engine) IngestEvidence(ctx context.Context, agentID string, evidence types.TrustEvidence) (*types.TrustDelta, error) {
	profile, err := e.Profiles.Get(ctx, agentID)
	if err != nil {
		return nil, err
	}

	now := e.Clock.Now()
	decayedBefore := applyDecay(*profile, now)
	recompute(&decayedBefore)

	prevDims := cloneDims(decayedBefore.Dimensions)
	prevComposite := decayedBefore.CompositeScore
	prevAdjusted := decayedBefore.AdjustedScore
	prevBand := decayedBefore.Band

	next := decayedBefore
	e.applyEvidence(&next, evidence, now)
	recompute(&next)
	next.Band = e.resolveBand(decayedBefore, next, now)
	if prevBand != "" && next.Band != prevBand {
		changedAt := now
		if next.Band.Rank() > prevBand.Rank() {
			next.LastPromotionAt = &changedAt
		} else {
			next.LastDemotionAt = &changedAt
		}
	}
	next.Version = profile.Version + 1
	next.CalculatedAt = now
	next.ValidUntil = now.Add(defaultProfileValidity)

	if !next.CircuitBroken && next.AdjustedScore < circuitBreakerFloor {
		next.CircuitBroken = true
	}

	if err := e.Profiles.Save(ctx, &next); err != nil {
		return nil, err
	}

	delta := &types.TrustDelta{
		DeltaID:            uuid.NewString(),
		AgentID:            agentID,
		PreviousDimensions: prevDims,
		NewDimensions:      cloneDims(next.Dimensions),
		PreviousComposite:  prevComposite,
		NewComposite:       next.CompositeScore,
		PreviousAdjusted:   prevAdjusted,
		NewAdjusted:        next.AdjustedScore,
		PreviousBand:       prevBand,
		NewBand:            next.Band,
		Reason:             "evidence_ingested",
		TriggeringEvidence: &evidence,
		OccurredAt:         now,
	}

	if err := e.emitDelta(ctx, agentID, delta); err != nil {
		return delta, err
	}
	return delta, nil
}

// applyEvidence mutates profile's dimension in place per the asymmetric
// gain/loss dynamics, recording cooldown, pending gains, and oscillation
// state along the way.
func (e *Engine) applyEvidence(profile *types.TrustProfile, evidence types.TrustEvidence, now time.Time) {
	dim := evidence.Dimension
	x := profile.Dimensions[dim]
	delta := evidence.Impact

	inCooldown := profile.LastDropAt != nil && now.Sub(*profile.LastDropAt) < cooldownHours*time.Hour

	if delta < 0 {
		penalty := 1.0
		if e.dimensionOscillating(profile, dim, now) {
			penalty = reversalPenaltyMultiplier
			e.recordOscillationEvent(profile, dim, now)
		}
		x = clamp(x+e.LossRate*delta*penalty, 0, 100)
		t := now
		profile.LastDropAt = &t
		e.recordDirectionChange(profile, dim, now, false)
	} else if delta > 0 {
		if inCooldown {
			if profile.PendingGains == nil {
				profile.PendingGains = map[types.DimensionKey]float64{}
			}
			profile.PendingGains[dim] += e.GainRate * delta * math.Log(1+(100-x)) * pendingGainDiminishRatio
		} else {
			x = clamp(x+e.GainRate*delta*math.Log(1+(100-x)), 0, 100)
			e.recordDirectionChange(profile, dim, now, true)
		}
	}

	if !inCooldown {
		x = e.releasePendingGain(profile, dim, x)
	}

	if profile.Dimensions == nil {
		profile.Dimensions = map[types.DimensionKey]float64{}
	}
	profile.Dimensions[dim] = x

	if profile.Evidence == nil {
		profile.Evidence = make([]types.TrustEvidence, 0, 1)
	}
	profile.Evidence = append(profile.Evidence, evidence)
}

// releasePendingGain applies any gain accumulated during a now-expired
// cooldown, diminished per the pending-gain ratio already baked into it.
func (e *Engine) releasePendingGain(profile *types.TrustProfile, dim types.DimensionKey, x float64) float64 {
	pending, ok := profile.PendingGains[dim]
	if !ok || pending == 0 {
		return x
	}
	x = clamp(x+pending, 0, 100)
	delete(profile.PendingGains, dim)
	return x
}

// recordDirectionChange appends to the dimension's 24h oscillation window
// when the new direction differs from the previous one.
func (e *Engine) recordDirectionChange(profile *types.TrustProfile, dim types.DimensionKey, now time.Time, gain bool) {
	if profile.Oscillation == nil {
		profile.Oscillation = map[types.DimensionKey]*types.OscillationWindow{}
	}
	w, ok := profile.Oscillation[dim]
	if !ok {
		w = &types.OscillationWindow{}
		profile.Oscillation[dim] = w
	}
	cutoff := now.Add(-oscillationWindowHours * time.Hour)
	kept := w.Changes[:0]
	for _, t := range w.Changes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	w.Changes = append(kept, now)
}

func (e *Engine) dimensionOscillating(profile *types.TrustProfile, dim types.DimensionKey, now time.Time) bool {
	w, ok := profile.Oscillation[dim]
	if !ok {
		return false
	}
	cutoff := now.Add(-oscillationWindowHours * time.Hour)
	count := 0
	for _, t := range w.Changes {
		if t.After(cutoff) {
			count++
		}
	}
	return count >= oscillationThreshold
}

func (e *Engine) recordOscillationEvent(profile *types.TrustProfile, dim types.DimensionKey, now time.Time) {
	if e.Events == nil {
		return
	}
	payload, _ := json.Marshal(map[string]any{
		"agent_id":  profile.AgentID,
		"dimension": dim,
		"detected_at": now,
	})
	event := &types.ProofEvent{
		EventID:       uuid.NewString(),
		EventType:     types.EventOscillationDetected,
		CorrelationID: profile.AgentID,
		AgentID:       profile.AgentID,
		Payload:       payload,
		OccurredAt:    now,
	}
	if err := proofchain.AppendWithRetry(context.Background(), e.Events, event, e.Logger); err != nil && e.Logger != nil {
		e.Logger.Warn("trust: failed to record oscillation event", zap.Error(err))
	}
}

// applyDecay returns a copy of profile with continuous per-dimension decay
// applied for the elapsed time since CalculatedAt. It does not mutate the
// input.
func applyDecay(profile types.TrustProfile, now time.Time) types.TrustProfile {
	if profile.CalculatedAt.IsZero() {
		return profile
	}
	days := now.Sub(profile.CalculatedAt).Hours() / 24
	if days <= 0 {
		return profile
	}
	decayed := make(map[types.DimensionKey]float64, len(profile.Dimensions))
	factor := math.Exp(-decayRatePerDay * days)
	for k, v := range profile.Dimensions {
		decayed[k] = v * factor
	}
	profile.Dimensions = decayed
	return profile
}

// recompute derives CompositeScore and AdjustedScore from Dimensions,
// Weights, and ObservationTier. composite = 10 * sum(dim_k * w_k), rounded
// half-even to two decimals.
func recompute(profile *types.TrustProfile) {
	var sum float64
	for _, k := range types.AllDimensions {
		sum += profile.Dimensions[k] * profile.Weights[k]
	}
	composite := roundHalfEven(sum*10, 2)
	profile.CompositeScore = composite

	ceiling, ok := types.DefaultCeilings[profile.ObservationTier]
	if !ok {
		ceiling = types.DefaultCeilings[types.TierBlackBox]
	}
	profile.AdjustedScore = math.Min(composite, ceiling)
}

// resolveBand applies hysteresis and the promotion delay: a band change
// only takes effect once the adjusted score clears the target tier's
// boundary by hysteresisPoints, and promotions additionally require
// promotionDelayDays since the last demotion.
func (e *Engine) resolveBand(before, after types.TrustProfile, now time.Time) types.TrustBand {
	candidate := bandForScore(after.AdjustedScore)
	current := before.Band
	if current == "" {
		return candidate
	}
	if candidate == current {
		return current
	}

	promoting := candidate.Rank() > current.Rank()
	if promoting {
		if before.LastDemotionAt != nil && now.Sub(*before.LastDemotionAt) < promotionDelayDays*24*time.Hour {
			return current
		}
		if !clearsBoundary(after.AdjustedScore, candidate, true) {
			return current
		}
		return candidate
	}

	if !clearsBoundary(after.AdjustedScore, candidate, false) {
		return current
	}
	return candidate
}

// clearsBoundary reports whether score clears target's boundary with
// target by the hysteresis margin, in the promotion or demotion direction.
func clearsBoundary(score float64, target types.TrustBand, promotion bool) bool {
	for i, b := range bandTable {
		if b.band != target {
			continue
		}
		if promotion {
			if i == 0 {
				return true
			}
			lowerBound := bandTable[i-1].upper
			return score >= lowerBound+hysteresisPoints
		}
		return score <= b.upper-hysteresisPoints
	}
	return true
}

func cloneDims(m map[types.DimensionKey]float64) map[types.DimensionKey]float64 {
	out := make(map[types.DimensionKey]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// roundHalfEven rounds v to places decimal places using banker's rounding.
func roundHalfEven(v float64, places int) float64 {
	mult := math.Pow(10, float64(places))
	scaled := v * mult
	floor := math.Floor(scaled)
	diff := scaled - floor
	var rounded float64
	switch {
	case diff < 0.5:
		rounded = floor
	case diff > 0.5:
		rounded = floor + 1
	default:
		if math.Mod(floor, 2) == 0 {
			rounded = floor
		} else {
			rounded = floor + 1
		}
	}
	return rounded / mult
}

// emitDelta appends a TRUST_DELTA proof event for delta.
func (e *Engine) emitDelta(ctx context.Context, agentID string, delta *types.TrustDelta) error {
	if e.Events == nil {
		return nil
	}
	payload, err := json.Marshal(delta)
	if err != nil {
		return err
	}
	event := &types.ProofEvent{
		EventID:       uuid.NewString(),
		EventType:     types.EventTrustDelta,
		CorrelationID: delta.CorrelationID,
		AgentID:       agentID,
		Payload:       payload,
		OccurredAt:    delta.OccurredAt,
	}
	if event.CorrelationID == "" {
		event.CorrelationID = agentID
	}
	return proofchain.AppendWithRetry(ctx, e.Events, event, e.Logger)
}

// Reinstate clears a circuit-broken profile given a signed attestation,
// emitting a TRUST_REINSTATEMENT proof event. The signature itself is
// verified by the caller (the HTTP/MCP boundary holds the verification
// keys); Reinstate trusts that signedAttestation has already been checked.
func (e *Engine) Reinstate(ctx context.Context, agentID string, signedAttestation string) error {
	profile, err := e.Profiles.Get(ctx, agentID)
	if err != nil {
		return err
	}
	if !profile.CircuitBroken {
		return nil
	}

	now := e.Clock.Now()
	profile.CircuitBroken = false
	profile.Version++
	profile.CalculatedAt = now
	profile.ValidUntil = now.Add(defaultProfileValidity)

	if err := e.Profiles.Save(ctx, profile); err != nil {
		return err
	}

	if e.Events == nil {
		return nil
	}
	payload, _ := json.Marshal(map[string]any{
		"agent_id":  agentID,
		"attestation": signedAttestation,
	})
	event := &types.ProofEvent{
		EventID:       uuid.NewString(),
		EventType:     types.EventTrustReinstatement,
		CorrelationID: agentID,
		AgentID:       agentID,
		Payload:       payload,
		OccurredAt:    now,
	}
	return proofchain.AppendWithRetry(ctx, e.Events, event, e.Logger)
}
