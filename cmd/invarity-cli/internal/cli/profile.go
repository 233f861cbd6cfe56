package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"invarity/internal/types"
)

var profileAgentID string

var profileCmd = &cobra.Command{
	Use:   "profile [agent-id]",
	Short: "Fetch an agent's current trust profile",
	Long: `Fetches the current multi-dimensional trust profile for an agent:
per-dimension scores, the composite and adjusted scores, the trust band,
and whether the agent's circuit breaker has tripped.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runProfile,
}

func init() {
	profileCmd.Flags().StringVar(&profileAgentID, "agent", "", "agent id (overrides positional arg and --agent global flag)")
}

func runProfile(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.ValidateWithAuth(); err != nil {
		return err
	}

	agentID := profileAgentID
	if agentID == "" && len(args) > 0 {
		agentID = args[0]
	}
	if agentID == "" {
		agentID = cfg.AgentID
	}
	if agentID == "" {
		return fmt.Errorf("agent id is required (positional arg, --agent flag, or INVARITY_AGENT_ID)")
	}

	c := newClient(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	profile, err := c.GetProfile(ctx, agentID)
	if err != nil {
		return err
	}

	if cfgJSON {
		jsonOut, _ := json.MarshalIndent(profile, "", "  ")
		printJSON(jsonOut)
		return nil
	}

	printProfile(profile)
	return nil
}

func printProfile(profile *types.TrustProfile) {
	printSection("Trust Profile")
	printKeyValue("Agent ID", profile.AgentID)
	printKeyValue("Band", string(profile.Band))
	printKeyValue("Composite Score", fmt.Sprintf("%.1f", profile.CompositeScore))
	printKeyValue("Adjusted Score", fmt.Sprintf("%.1f", profile.AdjustedScore))
	printKeyValue("Observation Tier", string(profile.ObservationTier))
	if profile.CircuitBroken {
		warnColor.Printf("  %-20s tripped\n", "Circuit Breaker:")
	}

	printSection("Dimensions")
	for _, dim := range types.AllDimensions {
		score, ok := profile.Dimensions[dim]
		if !ok {
			continue
		}
		printKeyValue(string(dim), fmt.Sprintf("%.1f", score))
	}
}
