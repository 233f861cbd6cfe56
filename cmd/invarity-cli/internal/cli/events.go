package cli

import (
	"context"
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"invarity/cmd/invarity-cli/internal/client"
)

var (
	eventsCorrelationID string
	eventsAgentID       string
	eventsSinceSeq      int64
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List proof chain events",
	Long:  `Fetches a filtered, point-in-time read of the hash-chained audit log.`,
	RunE:  runEvents,
}

func init() {
	eventsCmd.Flags().StringVar(&eventsCorrelationID, "correlation-id", "", "restrict to one correlation id")
	eventsCmd.Flags().StringVar(&eventsAgentID, "agent", "", "restrict to one agent id")
	eventsCmd.Flags().Int64Var(&eventsSinceSeq, "since-seq", 0, "only return events at or after this sequence number")
}

func runEvents(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.ValidateWithAuth(); err != nil {
		return err
	}

	c := newClient(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	events, err := c.StreamEvents(ctx, client.EventFilter{
		CorrelationID: eventsCorrelationID,
		AgentID:       eventsAgentID,
		SinceSeq:      eventsSinceSeq,
	})
	if err != nil {
		return err
	}

	if cfgJSON {
		jsonOut, _ := json.MarshalIndent(events, "", "  ")
		printJSON(jsonOut)
		return nil
	}

	if len(events) == 0 {
		printInfo("no events matched")
		return nil
	}

	printSection("Events")
	for _, ev := range events {
		printDim("  [%d] %s  %s  correlation=%s", ev.SequenceNum, ev.OccurredAt.Format(time.RFC3339), ev.EventType, ev.CorrelationID)
	}
	return nil
}
