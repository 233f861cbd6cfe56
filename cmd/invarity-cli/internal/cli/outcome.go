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
	outcomeCorrelationID string
	outcomeStatus        string
	outcomeDurationMs    int64
	outcomeOutputHash    string
	outcomeError         string
)

var outcomeCmd = &cobra.Command{
	Use:   "outcome",
	Short: "Report the execution outcome of an authorized intent",
	Long: `Reports whether an authorized action succeeded, failed, or errored, so
the trust engine can fold the result back into the agent's profile. Prints
the resulting trust delta, or acknowledges a deferred (pending) outcome
window when the action's risk profile requires one.`,
	RunE: runOutcome,
}

func init() {
	outcomeCmd.Flags().StringVar(&outcomeCorrelationID, "correlation-id", "", "correlation id of the authorized intent (required)")
	outcomeCmd.Flags().StringVar(&outcomeStatus, "status", "", "SUCCESS|FAILURE|ERROR|TIMEOUT|CANCELLED|BLOCKED (required)")
	outcomeCmd.Flags().Int64Var(&outcomeDurationMs, "duration-ms", 0, "execution duration in milliseconds")
	outcomeCmd.Flags().StringVar(&outcomeOutputHash, "output-hash", "", "hash of the action's output, for audit binding")
	outcomeCmd.Flags().StringVar(&outcomeError, "error", "", "error message, if status is not SUCCESS")
	outcomeCmd.MarkFlagRequired("correlation-id")
	outcomeCmd.MarkFlagRequired("status")
}

func runOutcome(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.ValidateWithAuth(); err != nil {
		return err
	}

	outcome := &types.ExecutionOutcome{
		CorrelationID: outcomeCorrelationID,
		Status:        types.ExecutionStatus(strings.ToUpper(outcomeStatus)),
		DurationMs:    outcomeDurationMs,
		OutputHash:    outcomeOutputHash,
		Error:         outcomeError,
		ReportedAt:    time.Now().UTC(),
	}

	c := newClient(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	delta, pending, err := c.ReportOutcome(ctx, outcome)
	if err != nil {
		return err
	}

	if pending {
		if cfgJSON {
			printJSON([]byte(`{"status":"pending_outcome_window_opened"}`))
			return nil
		}
		printInfo("outcome recorded; trust impact deferred until the outcome window closes")
		return nil
	}

	if cfgJSON {
		jsonOut, _ := json.MarshalIndent(delta, "", "  ")
		printJSON(jsonOut)
		return nil
	}

	printSection("Trust Delta")
	printKeyValue("Reason", delta.Reason)
	printKeyValue("Previous Band", string(delta.PreviousBand))
	printKeyValue("New Band", string(delta.NewBand))
	printKeyValue("Previous Score", fmt.Sprintf("%.1f", delta.PreviousAdjusted))
	printKeyValue("New Score", fmt.Sprintf("%.1f", delta.NewAdjusted))
	if delta.Explanation != "" {
		printDim("  %s", delta.Explanation)
	}
	return nil
}
