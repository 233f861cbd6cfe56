package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"invarity/internal/types"
)

var (
	authAction        string
	authActionType    string
	authSensitivity   string
	authReversibility string
	authMagnitude     float64
	authCorrelationID string
	authResourceScope []string
	authContextJSON   string
)

var authorizeCmd = &cobra.Command{
	Use:   "authorize",
	Short: "Submit an intent for authorization",
	Long: `Submits a declared action intent to the authorizer and prints the
resulting decision: permit or deny, with the trust band, reasoning, and
any execution constraints attached.`,
	RunE: runAuthorize,
}

func init() {
	authorizeCmd.Flags().StringVar(&authAction, "action", "", "action identifier, e.g. send_email (required)")
	authorizeCmd.Flags().StringVar(&authActionType, "action-type", "", "READ|WRITE|DELETE|EXECUTE|COMMUNICATE|TRANSFER (required)")
	authorizeCmd.Flags().StringVar(&authSensitivity, "sensitivity", string(types.SensitivityInternal), "PUBLIC|INTERNAL|CONFIDENTIAL|RESTRICTED")
	authorizeCmd.Flags().StringVar(&authReversibility, "reversibility", string(types.ReversibilityReversible), "REVERSIBLE|PARTIALLY_REVERSIBLE|IRREVERSIBLE")
	authorizeCmd.Flags().Float64Var(&authMagnitude, "magnitude", 0, "numeric magnitude of the action, e.g. a transfer amount")
	authorizeCmd.Flags().StringVar(&authCorrelationID, "correlation-id", "", "correlation id to stitch this intent to a broader workflow")
	authorizeCmd.Flags().StringSliceVar(&authResourceScope, "resource", nil, "resource scope entries (repeatable)")
	authorizeCmd.Flags().StringVar(&authContextJSON, "context", "", "JSON object of action-specific arguments")
	authorizeCmd.MarkFlagRequired("action")
	authorizeCmd.MarkFlagRequired("action-type")
}

func runAuthorize(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.ValidateForAgent(); err != nil {
		return err
	}

	intent := types.Intent{
		AgentID:         cfg.AgentID,
		CorrelationID:   authCorrelationID,
		Action:          authAction,
		ActionType:      types.ActionType(strings.ToUpper(authActionType)),
		DataSensitivity: types.DataSensitivity(strings.ToUpper(authSensitivity)),
		Reversibility:   types.Reversibility(strings.ToUpper(authReversibility)),
		ResourceScope:   authResourceScope,
	}
	if cmd.Flags().Changed("magnitude") {
		intent.Magnitude = &authMagnitude
	}
	if authContextJSON != "" {
		var ctxData map[string]any
		if err := json.Unmarshal([]byte(authContextJSON), &ctxData); err != nil {
			return fmt.Errorf("invalid --context JSON: %w", err)
		}
		intent.Context = ctxData
	}

	c := newClient(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	decision, err := c.Authorize(ctx, &intent)
	if err != nil {
		return err
	}

	if cfgJSON {
		jsonOut, _ := json.MarshalIndent(decision, "", "  ")
		printJSON(jsonOut)
		return nil
	}

	printDecision(decision)
	return nil
}

func printDecision(decision *types.Decision) {
	printSection("Decision")
	printKeyValue("Decision ID", decision.DecisionID)
	printKeyValue("Correlation ID", decision.CorrelationID)
	printKeyValue("Trust Band", string(decision.TrustBand))
	printKeyValue("Trust Score", fmt.Sprintf("%.1f", decision.TrustScore))

	if decision.Permitted {
		successColor.Printf("  %-20s PERMIT\n", "Verdict:")
	} else {
		errorColor.Printf("  %-20s DENY (%s)\n", "Verdict:", decision.DenialReason)
	}

	for _, reason := range decision.Reasoning {
		printDim("    - %s", reason)
	}
	if len(decision.Remediations) > 0 {
		printSection("Remediations")
		for _, r := range decision.Remediations {
			printDim("    - %s", r)
		}
	}
	if decision.Constraints != nil {
		printSection("Constraints")
		if len(decision.Constraints.RequiredApprovals) > 0 {
			printKeyValue("Required Approvals", strings.Join(decision.Constraints.RequiredApprovals, ", "))
		}
		if len(decision.Constraints.AllowedTools) > 0 {
			printKeyValue("Allowed Tools", strings.Join(decision.Constraints.AllowedTools, ", "))
		}
		if decision.Constraints.ReversibilityRequired {
			printKeyValue("Reversibility Required", "true")
		}
	}
}
