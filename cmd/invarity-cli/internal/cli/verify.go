package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify-chain [correlation-id]",
	Short: "Verify the proof chain for a correlation id",
	Long:  `Walks the hash-linked proof chain for a correlation id and reports whether it is intact.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runVerify,
}

func runVerify(cmd *cobra.Command, args []string) error {
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

	result, err := c.VerifyChain(ctx, args[0])
	if err != nil {
		return err
	}

	if cfgJSON {
		jsonOut, _ := json.MarshalIndent(result, "", "  ")
		printJSON(jsonOut)
		return nil
	}

	if result.Valid {
		printSuccess("chain intact (%d events verified)", result.VerifiedEvents)
		return nil
	}

	printError("chain broken at event %s (%d events verified before the break)", result.BrokenAt, result.VerifiedEvents)
	return fmt.Errorf("proof chain integrity check failed")
}
