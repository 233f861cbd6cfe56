package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"invarity/cmd/invarity-cli/internal/client"
	"invarity/cmd/invarity-cli/internal/poller"
	"invarity/internal/types"
)

var (
	waitMaxWait time.Duration
)

var waitCmd = &cobra.Command{
	Use:   "wait [correlation-id]",
	Short: "Poll proof chain events until a correlation id reaches a terminal state",
	Long: `Polls the event stream for a correlation id with exponential backoff
until an execution-completed or execution-failed event is recorded, or the
wait times out.`,
	Args: cobra.ExactArgs(1),
	RunE: runWait,
}

func init() {
	waitCmd.Flags().DurationVar(&waitMaxWait, "max-wait", 5*time.Minute, "maximum time to wait")
}

func runWait(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.ValidateWithAuth(); err != nil {
		return err
	}

	correlationID := args[0]
	c := newClient(cfg)

	pollCfg := poller.DefaultConfig()
	pollCfg.MaxWait = waitMaxWait

	p := poller.New(func(ctx context.Context) (poller.Status, interface{}, error) {
		events, err := c.StreamEvents(ctx, client.EventFilter{CorrelationID: correlationID})
		if err != nil {
			return poller.StatusUnknown, nil, err
		}
		return latestStatus(events), events, nil
	}, pollCfg)

	if !cfgJSON {
		p = p.WithProgress(poller.DefaultProgressPrinter(os.Stderr)).WithOutput(os.Stderr)
	}

	result := p.Poll(context.Background())
	if !cfgJSON {
		fmt.Fprintln(os.Stderr)
	}

	if result.Error != nil {
		return result.Error
	}

	if result.Status.IsSuccess() {
		printSuccess("correlation %s completed (%d polls, %s)", correlationID, result.Attempts, result.TotalTime.Round(time.Second))
		return nil
	}

	printError("correlation %s failed (%d polls, %s)", correlationID, result.Attempts, result.TotalTime.Round(time.Second))
	return fmt.Errorf("execution did not complete successfully")
}

// latestStatus derives a poller.Status from the most recent proof event
// type observed for a correlation id.
func latestStatus(events []*types.ProofEvent) poller.Status {
	if len(events) == 0 {
		return poller.StatusPending
	}
	latest := events[0]
	for _, ev := range events {
		if ev.SequenceNum > latest.SequenceNum {
			latest = ev
		}
	}
	switch latest.EventType {
	case types.EventExecutionCompleted:
		return poller.StatusCompleted
	case types.EventExecutionFailed:
		return poller.StatusFailed
	case types.EventExecutionStarted:
		return poller.StatusExecuting
	default:
		return poller.StatusPending
	}
}
