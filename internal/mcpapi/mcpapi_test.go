package mcpapi

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"invarity/internal/gate"
	"invarity/internal/orchestrator"
	"invarity/internal/policy"
	"invarity/internal/proofchain"
	"invarity/internal/repo"
	"invarity/internal/trust"
	"invarity/internal/types"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	agents := repo.NewInMemoryAgentRepo()
	intents := repo.NewInMemoryIntentRepo()
	decisions := repo.NewInMemoryDecisionRepo()
	profiles := trust.NewInMemoryProfileRepo()
	events := proofchain.NewInMemoryStore()

	now := time.Now().UTC()
	profiles.Seed(&types.TrustProfile{
		ProfileID:       "agent-1-profile",
		AgentID:         "agent-1",
		Version:         1,
		Dimensions:      map[types.DimensionKey]float64{types.DimCompetence: 90, types.DimBehavioral: 90, types.DimGovernance: 90, types.DimExperience: 90, types.DimAttestation: 90},
		Weights:         map[types.DimensionKey]float64{types.DimCompetence: 0.2, types.DimBehavioral: 0.2, types.DimGovernance: 0.2, types.DimExperience: 0.2, types.DimAttestation: 0.2},
		ObservationTier: types.TierWhiteBox,
		CalculatedAt:    now,
		ValidUntil:      now.Add(time.Hour),
	})
	_ = agents.Put(context.Background(), &types.Agent{ID: "agent-1", TenantID: "tenant-1", ProfileID: "agent-1-profile", CreatedAt: now})

	trustEngine := trust.New(profiles, events, nil)
	orch := orchestrator.New(agents, intents, decisions, trustEngine, gate.New(), policy.NewEvaluator(policy.NewInMemoryStoreWithDefaults()), events, nil)

	return New(orch, trustEngine, nil, "test")
}

// authorizeRequest builds a CallToolRequest for invarity_authorize with the
// given arguments.
func authorizeRequest(args map[string]any) mcplib.CallToolRequest {
	return mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{
			Name:      "invarity_authorize",
			Arguments: args,
		},
	}
}

// parseToolText extracts the first TextContent text from a CallToolResult.
func parseToolText(t *testing.T, result *mcplib.CallToolResult) string {
	t.Helper()
	for _, c := range result.Content {
		if tc, ok := c.(mcplib.TextContent); ok {
			return tc.Text
		}
	}
	t.Fatal("no text content in result")
	return ""
}

func TestHandleAuthorizePermitsLowRiskRead(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleAuthorize(context.Background(), authorizeRequest(map[string]any{
		"agent_id":         "agent-1",
		"action":           "read_file",
		"action_type":      "READ",
		"data_sensitivity": "PUBLIC",
		"reversibility":    "REVERSIBLE",
	}))
	if err != nil {
		t.Fatalf("handleAuthorize: %v", err)
	}
	if result.IsError {
		t.Fatalf("expected success, got error result: %s", parseToolText(t, result))
	}

	var decision types.Decision
	if err := json.Unmarshal([]byte(parseToolText(t, result)), &decision); err != nil {
		t.Fatalf("decode decision: %v", err)
	}
	if !decision.Permitted {
		t.Fatalf("expected permit, got deny: %v", decision.Reasoning)
	}
}

func TestHandleAuthorizeRejectsMissingAgentID(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleAuthorize(context.Background(), authorizeRequest(map[string]any{
		"action":      "read_file",
		"action_type": "READ",
	}))
	if err != nil {
		t.Fatalf("handleAuthorize: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result for missing agent_id")
	}
}

func TestHandleGetProfileReturnsSnapshot(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleGetProfile(context.Background(), mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{Name: "invarity_get_profile", Arguments: map[string]any{"agent_id": "agent-1"}},
	})
	if err != nil {
		t.Fatalf("handleGetProfile: %v", err)
	}
	if result.IsError {
		t.Fatalf("expected success, got error result: %s", parseToolText(t, result))
	}

	var profile types.TrustProfile
	if err := json.Unmarshal([]byte(parseToolText(t, result)), &profile); err != nil {
		t.Fatalf("decode profile: %v", err)
	}
	if profile.AgentID != "agent-1" {
		t.Fatalf("expected agent-1, got %s", profile.AgentID)
	}
}

func TestHandleGetProfileNotFound(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleGetProfile(context.Background(), mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{Name: "invarity_get_profile", Arguments: map[string]any{"agent_id": "nonexistent"}},
	})
	if err != nil {
		t.Fatalf("handleGetProfile: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result for unknown agent")
	}
}
