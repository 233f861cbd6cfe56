// Package mcpapi exposes authorize(intent) and getProfile(agentId) as MCP
// tools, so agent frameworks that speak Model Context Protocol can submit
// intents directly instead of going through the HTTP surface.
package mcpapi

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"invarity/internal/orchestrator"
	"invarity/internal/trust"
	"invarity/internal/types"
)

const serverInstructions = `Invarity authorizes actions an AI agent is about to take.

Before executing a tool call or side-effecting action, call invarity_authorize
with the action's details. A PERMIT lets you proceed, possibly with
constraints (required approvals, allowed tools, rate limits) attached to the
decision. A DENY means don't execute — surface the reasoning to the caller.
A pending escalation (PENDING_VERIFICATION or PENDING_HUMAN_APPROVAL) means
the action needs a human or step-up check before it can run.

Use invarity_get_profile to inspect an agent's current trust standing before
deciding whether to attempt something risky in the first place.`

// Server wraps an MCP server around the orchestrator and trust engine.
type Server struct {
	mcpServer    *mcpserver.MCPServer
	orchestrator *orchestrator.Orchestrator
	trust        *trust.Engine
	logger       *zap.Logger
}

// New builds and registers every tool onto a fresh MCP server.
func New(orch *orchestrator.Orchestrator, trustEngine *trust.Engine, logger *zap.Logger, version string) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{orchestrator: orch, trust: trustEngine, logger: logger}

	s.mcpServer = mcpserver.NewMCPServer(
		"invarity",
		version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithInstructions(serverInstructions),
	)

	s.registerTools()
	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcplib.NewTool("invarity_authorize",
			mcplib.WithDescription("Authorize an agent action before executing it. Returns a permit/deny decision with reasoning and any constraints."),
			mcplib.WithReadOnlyHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithString("agent_id", mcplib.Description("The acting agent's identifier"), mcplib.Required()),
			mcplib.WithString("action", mcplib.Description("Human-readable description of the action, e.g. 'delete_customer_record'"), mcplib.Required()),
			mcplib.WithString("action_type", mcplib.Description("One of READ, WRITE, DELETE, EXECUTE, TRANSFER, COMMUNICATE"), mcplib.Required()),
			mcplib.WithString("data_sensitivity", mcplib.Description("One of PUBLIC, INTERNAL, CONFIDENTIAL, RESTRICTED"), mcplib.Required()),
			mcplib.WithString("reversibility", mcplib.Description("One of REVERSIBLE, PARTIALLY_REVERSIBLE, IRREVERSIBLE"), mcplib.Required()),
			mcplib.WithNumber("magnitude", mcplib.Description("Optional numeric magnitude (e.g. transfer amount) used in risk scoring")),
			mcplib.WithString("correlation_id", mcplib.Description("Optional correlation id tying this intent to a broader workflow")),
		),
		s.handleAuthorize,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("invarity_get_profile",
			mcplib.WithDescription("Fetch an agent's current trust profile: composite score, band, and per-dimension scores."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithString("agent_id", mcplib.Description("The agent identifier to look up"), mcplib.Required()),
		),
		s.handleGetProfile,
	)
}

func (s *Server) handleAuthorize(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	agentID := request.GetString("agent_id", "")
	if agentID == "" {
		return errorResult("agent_id is required"), nil
	}
	action := request.GetString("action", "")
	if action == "" {
		return errorResult("action is required"), nil
	}

	correlationID := request.GetString("correlation_id", "")
	intentID := uuid.NewString()
	if correlationID == "" {
		correlationID = intentID
	}

	intent := &types.Intent{
		IntentID:        intentID,
		AgentID:         agentID,
		CorrelationID:   correlationID,
		Action:          action,
		ActionType:      types.ActionType(request.GetString("action_type", "")),
		DataSensitivity: types.DataSensitivity(request.GetString("data_sensitivity", "")),
		Reversibility:   types.Reversibility(request.GetString("reversibility", "")),
		Status:          types.IntentPending,
	}
	if magnitude := request.GetFloat("magnitude", 0); magnitude != 0 {
		intent.Magnitude = &magnitude
	}

	decision, err := s.orchestrator.Authorize(ctx, intent)
	if err != nil {
		s.logger.Warn("mcp authorize failed", zap.Error(err), zap.String("agent_id", agentID))
		return errorResult(fmt.Sprintf("authorize failed: %v", err)), nil
	}

	data, err := json.MarshalIndent(decision, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("failed to encode decision: %v", err)), nil
	}
	return &mcplib.CallToolResult{Content: []mcplib.Content{mcplib.TextContent{Type: "text", Text: string(data)}}}, nil
}

func (s *Server) handleGetProfile(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	agentID := request.GetString("agent_id", "")
	if agentID == "" {
		return errorResult("agent_id is required"), nil
	}

	profile, err := s.trust.Snapshot(ctx, agentID)
	if err != nil {
		return errorResult(fmt.Sprintf("get profile failed: %v", err)), nil
	}

	data, err := json.MarshalIndent(profile, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("failed to encode profile: %v", err)), nil
	}
	return &mcplib.CallToolResult{Content: []mcplib.Content{mcplib.TextContent{Type: "text", Text: string(data)}}}, nil
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{mcplib.TextContent{Type: "text", Text: msg}},
		IsError: true,
	}
}
