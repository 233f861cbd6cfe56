package types

import (
	"encoding/json"
	"time"
)

// Duration marshals as milliseconds rather than Go's default nanosecond.
// integer, the convention used for latency fields throughout the wire API.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).Milliseconds())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var ms int64
	if err := json.Unmarshal(b, &ms); err != nil {
		return err
	}
	*d = Duration(time.Duration(ms) * time.Millisecond)
	return nil
}

// Agent is the stable identity an intent acts on behalf of.
type Agent struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	ProfileID string    `json:"profile_id"`
	CreatedAt time.Time `json:"created_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// DimensionKey is one of the five fixed trust dimension keys.
type DimensionKey string

const (
	DimCompetence   DimensionKey = "CT"
	DimBehavioral   DimensionKey = "BT"
	DimGovernance   DimensionKey = "GT"
	DimExperience   DimensionKey = "XT"
	DimAttestation  DimensionKey = "AC"
)

// AllDimensions is the fixed, exhaustive set of dimension keys a TrustProfile carries.
var AllDimensions = [5]DimensionKey{DimCompetence, DimBehavioral, DimGovernance, DimExperience, DimAttestation}

// TrustEvidence is an immutable observation about an agent's behavior.
type TrustEvidence struct {
	EvidenceID  string         `json:"evidence_id"`
	Dimension   DimensionKey   `json:"dimension"`
	Impact      float64        `json:"impact"` // in [-100, 100]
	Source      string         `json:"source"`
	CollectedAt time.Time      `json:"collected_at"`
	ExpiresAt   *time.Time     `json:"expires_at,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// TrustDelta is an immutable diff record produced whenever a profile changes.
type TrustDelta struct {
	DeltaID          string                  `json:"delta_id"`
	AgentID          string                  `json:"agent_id"`
	CorrelationID    string                  `json:"correlation_id,omitempty"`
	PreviousDimensions map[DimensionKey]float64 `json:"previous_dimensions"`
	NewDimensions      map[DimensionKey]float64 `json:"new_dimensions"`
	PreviousComposite float64                `json:"previous_composite"`
	NewComposite      float64                `json:"new_composite"`
	PreviousAdjusted  float64                `json:"previous_adjusted"`
	NewAdjusted       float64                `json:"new_adjusted"`
	PreviousBand      TrustBand              `json:"previous_band"`
	NewBand           TrustBand              `json:"new_band"`
	Reason            string                 `json:"reason"`
	TriggeringEvidence *TrustEvidence         `json:"triggering_evidence,omitempty"`
	Explanation       string                 `json:"explanation"`
	OccurredAt        time.Time              `json:"occurred_at"`
}

// OscillationWindow is a bounded circular buffer of recent direction changes.
// for one dimension, used to detect thrash.
type OscillationWindow struct {
	Changes []time.Time `json:"changes"`
}

// TrustProfile is the current multi-dimensional trust state of an agent.
type TrustProfile struct {
	ProfileID       string                     `json:"profile_id"`
	AgentID         string                     `json:"agent_id"`
	Version         int64                      `json:"version"`
	Dimensions      map[DimensionKey]float64   `json:"dimensions"`
	Weights         map[DimensionKey]float64   `json:"weights"`
	CompositeScore  float64                    `json:"composite_score"`
	ObservationTier ObservationTier            `json:"observation_tier"`
	AdjustedScore   float64                    `json:"adjusted_score"`
	Band            TrustBand                  `json:"band"`
	CircuitBroken   bool                       `json:"circuit_broken"`
	CalculatedAt    time.Time                  `json:"calculated_at"`
	ValidUntil      time.Time                  `json:"valid_until"`
	LastDropAt      *time.Time                 `json:"last_drop_at,omitempty"`
	LastPromotionAt *time.Time                 `json:"last_promotion_at,omitempty"`
	LastDemotionAt  *time.Time                 `json:"last_demotion_at,omitempty"`
	Oscillation     map[DimensionKey]*OscillationWindow `json:"oscillation,omitempty"`
	PendingGains    map[DimensionKey]float64   `json:"pending_gains,omitempty"`
	Evidence        []TrustEvidence            `json:"evidence,omitempty"`
}

// Intent is a declared, not-yet-executed action request.
type Intent struct {
	IntentID        string          `json:"intent_id"`
	TenantID        string          `json:"tenant_id"`
	AgentID         string          `json:"agent_id"`
	CorrelationID   string          `json:"correlation_id"`
	Action          string          `json:"action"`
	ActionType      ActionType      `json:"action_type"`
	ResourceScope   []string        `json:"resource_scope,omitempty"`
	DataSensitivity DataSensitivity `json:"data_sensitivity"`
	Reversibility   Reversibility   `json:"reversibility"`
	Magnitude       *float64        `json:"magnitude,omitempty"`
	Context         map[string]any  `json:"context,omitempty"`
	TrustSnapshot   *TrustProfile   `json:"trust_snapshot,omitempty"`
	Status          IntentStatus    `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	ExpiresAt       *time.Time      `json:"expires_at,omitempty"`
	DeletedAt       *time.Time      `json:"deleted_at,omitempty"`
}

// Constraints is the execution envelope a permit decision carries.
type Constraints struct {
	RequiredApprovals      []string       `json:"required_approvals,omitempty"`
	AllowedTools           []string       `json:"allowed_tools,omitempty"`
	DataScopes             []string       `json:"data_scopes,omitempty"`
	RateLimits             []string       `json:"rate_limits,omitempty"`
	ReversibilityRequired  bool           `json:"reversibility_required,omitempty"`
	MaxExecutionTimeMs     *int64         `json:"max_execution_time_ms,omitempty"`
	MaxRetries             *int           `json:"max_retries,omitempty"`
	ResourceQuotas         map[string]int `json:"resource_quotas,omitempty"`
}

// PolicyCondition tests one field of the evaluation context against a value.
type PolicyCondition struct {
	Field    string            `json:"field"`
	Operator ConditionOperator `json:"operator"`
	Value    any               `json:"value"`
}

// PolicyRule is a single rule within a PolicyBundle.
type PolicyRule struct {
	RuleID      string            `json:"rule_id"`
	Name        string            `json:"name,omitempty"`
	Priority    int               `json:"priority"` // lower = higher priority
	Conditions  []PolicyCondition `json:"conditions"`
	Effect      PolicyEffect      `json:"effect"`
	Constraints *Constraints      `json:"constraints,omitempty"`
	Enabled     bool              `json:"enabled"`
}

// ActionRestrictions are structural gates applied before rule evaluation.
type ActionRestrictions struct {
	NeverAllowed        []ActionType              `json:"never_allowed,omitempty"`
	AlwaysRequireApproval []ActionType            `json:"always_require_approval,omitempty"`
	AllowedByBand       map[TrustBand][]ActionType `json:"allowed_by_band,omitempty"`
}

// PolicyBundle is a versioned, data-driven set of rules scoped to a domain/environment/jurisdiction.
type PolicyBundle struct {
	BundleID              string             `json:"bundle_id"`
	Name                  string             `json:"name"`
	Version               string             `json:"version"` // semver
	Enabled               bool               `json:"enabled"`
	ApplicableDomains      []string           `json:"applicable_domains,omitempty"`
	ApplicableEnvironments []string           `json:"applicable_environments,omitempty"`
	Jurisdictions          []string           `json:"jurisdictions,omitempty"`
	DataClassification     []DataSensitivity  `json:"data_classification,omitempty"`
	ActionRestrictions     ActionRestrictions `json:"action_restrictions"`
	Rules                  []PolicyRule       `json:"rules"`
	DefaultEffect          PolicyEffect       `json:"default_effect"`
	CreatedAt              time.Time          `json:"created_at"`
	UpdatedAt              time.Time          `json:"updated_at"`
}

// GateVerificationResult is the pre-action gate's verdict.
type GateVerificationResult struct {
	Status         GateStatus `json:"status"`
	RiskLevel      RiskLevel  `json:"risk_level"`
	RequiredTrust  float64    `json:"required_trust"`
	CurrentTrust   float64    `json:"current_trust"`
	TrustDeficit   float64    `json:"trust_deficit"`
	Passed         bool       `json:"passed"`
	Reasoning      []string   `json:"reasoning"`
	Requirements   []string   `json:"requirements,omitempty"`
	VerifiedAt     time.Time  `json:"verified_at"`
	ExpiresAt      time.Time  `json:"expires_at"`
	VerificationID string     `json:"verification_id"`
}

// Decision is the authorizer's immutable verdict.
type Decision struct {
	DecisionID    string         `json:"decision_id"`
	IntentID      string         `json:"intent_id"`
	AgentID       string         `json:"agent_id"`
	CorrelationID string         `json:"correlation_id"`
	Permitted     bool           `json:"permitted"`
	Constraints   *Constraints   `json:"constraints,omitempty"`
	TrustBand     TrustBand      `json:"trust_band"`
	TrustScore    float64        `json:"trust_score"`
	PolicySetID   string         `json:"policy_set_id,omitempty"`
	DenialReason  DenialReason   `json:"denial_reason,omitempty"`
	Reasoning     []string       `json:"reasoning"`
	Remediations  []string       `json:"remediations,omitempty"`
	DecidedAt     time.Time      `json:"decided_at"`
	ExpiresAt     time.Time      `json:"expires_at"`
	LatencyMs     int64          `json:"latency_ms"`
	Version       int            `json:"version"`
}

// ExecutionOutcome is the result reported for a completed execution.
type ExecutionOutcome struct {
	CorrelationID string          `json:"correlation_id"`
	Status        ExecutionStatus `json:"status"`
	DurationMs    int64           `json:"duration_ms"`
	OutputHash    string          `json:"output_hash,omitempty"`
	Error         string          `json:"error,omitempty"`
	ReportedAt    time.Time       `json:"reported_at"`
}

// ProofEvent is an immutable, hash-linked audit log entry.
type ProofEvent struct {
	EventID       string          `json:"event_id"`
	SequenceNum   int64           `json:"sequence_num"`
	EventType     ProofEventType  `json:"event_type"`
	CorrelationID string          `json:"correlation_id"`
	AgentID       string          `json:"agent_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
	PreviousHash  string          `json:"previous_hash,omitempty"` // empty for genesis
	EventHash     string          `json:"event_hash"`
	OccurredAt    time.Time       `json:"occurred_at"`
	RecordedAt    time.Time       `json:"recorded_at"`
	SignedBy      string          `json:"signed_by,omitempty"`
	Signature     string          `json:"signature,omitempty"`
}

// ChainVerificationResult is the outcome of walking a correlationId's event chain.
type ChainVerificationResult struct {
	Valid          bool   `json:"valid"`
	VerifiedEvents int    `json:"verified_events"`
	BrokenAt       string `json:"broken_at,omitempty"` // eventId of the first mismatch
}
