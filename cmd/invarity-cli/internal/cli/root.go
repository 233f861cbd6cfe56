// Package cli implements the commands of the Invarity command-line client.
package cli

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"invarity/cmd/invarity-cli/internal/client"
	"invarity/cmd/invarity-cli/internal/config"
)

var (
	// Version is set at build time.
	Version = "dev"

	cfgServer  string
	cfgAPIKey  string
	cfgAgentID string
	cfgTrace   bool
	cfgJSON    bool

	successColor = color.New(color.FgGreen)
	errorColor   = color.New(color.FgRed)
	warnColor    = color.New(color.FgYellow)
	infoColor    = color.New(color.FgCyan)
	dimColor     = color.New(color.Faint)
)

// Exit codes mirror the authorizer's own status taxonomy: a decision was
// emitted either way, so only input rejection and transport failure count
// as CLI failures.
const (
	ExitSuccess          = 0
	ExitValidationError  = 2
	ExitStoreUnavailable = 3
	ExitDeadlineExceeded = 4
)

// RootCmd is the root command for the Invarity CLI.
var RootCmd = &cobra.Command{
	Use:   "invarity",
	Short: "Invarity CLI - client for the agent trust authorizer",
	Long: `Invarity CLI submits intents to the trust authorizer, reports execution
outcomes, inspects agent trust profiles, and audits the hash-chained proof
log from a terminal.

Configuration can be provided via:
  - Command-line flags (highest priority)
  - Environment variables (INVARITY_SERVER, INVARITY_API_KEY, INVARITY_AGENT_ID)
  - Config file (~/.invarity/config.yaml)`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	RootCmd.PersistentFlags().StringVar(&cfgServer, "server", "", "Invarity server URL (default: http://localhost:8080)")
	RootCmd.PersistentFlags().StringVar(&cfgAPIKey, "api-key", "", "API key for authentication")
	RootCmd.PersistentFlags().StringVar(&cfgAgentID, "agent", "", "Default agent ID")
	RootCmd.PersistentFlags().BoolVar(&cfgTrace, "trace", false, "Print HTTP request/response metadata")
	RootCmd.PersistentFlags().BoolVar(&cfgJSON, "json", false, "Output raw JSON response")

	RootCmd.AddCommand(pingCmd)
	RootCmd.AddCommand(authorizeCmd)
	RootCmd.AddCommand(outcomeCmd)
	RootCmd.AddCommand(profileCmd)
	RootCmd.AddCommand(eventsCmd)
	RootCmd.AddCommand(verifyCmd)
	RootCmd.AddCommand(waitCmd)
	RootCmd.AddCommand(versionCmd)
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	if err := RootCmd.Execute(); err != nil {
		printError(err.Error())
		if code, ok := exitCodeOf(err); ok {
			return code
		}
		return ExitValidationError
	}
	return ExitSuccess
}

// loadConfig loads configuration with flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	if cfgServer != "" {
		cfg.Server = cfgServer
	}
	if cfgAPIKey != "" {
		cfg.APIKey = cfgAPIKey
	}
	if cfgAgentID != "" {
		cfg.AgentID = cfgAgentID
	}
	cfg.Trace = cfgTrace
	cfg.JSON = cfgJSON

	return cfg, nil
}

// newClient creates a new API client from config.
func newClient(cfg *config.Config) *client.Client {
	var opts []client.Option
	if cfg.Trace {
		opts = append(opts, client.WithTrace(os.Stderr))
	}
	return client.New(cfg, opts...)
}

// exitCodeOf maps an API error's response code to the CLI's exit status.
func exitCodeOf(err error) (int, bool) {
	apiErr, ok := err.(*client.APIError)
	if !ok {
		return 0, false
	}
	switch apiErr.Body.Code {
	case "STORE_UNAVAILABLE":
		return ExitStoreUnavailable, true
	case "DEADLINE_EXCEEDED":
		return ExitDeadlineExceeded, true
	case "VALIDATION_ERROR", "SCHEMA_VALIDATION_ERROR", "PARSE_ERROR":
		return ExitValidationError, true
	default:
		return 0, false
	}
}

// Output helpers

func printSuccess(format string, args ...interface{}) {
	if cfgJSON {
		return
	}
	successColor.Fprintf(os.Stdout, "✓ "+format+"\n", args...)
}

func printError(format string, args ...interface{}) {
	errorColor.Fprintf(os.Stderr, "✗ "+format+"\n", args...)
}

func printWarn(format string, args ...interface{}) {
	if cfgJSON {
		return
	}
	warnColor.Fprintf(os.Stderr, "⚠ "+format+"\n", args...)
}

func printInfo(format string, args ...interface{}) {
	if cfgJSON {
		return
	}
	infoColor.Fprintf(os.Stdout, format+"\n", args...)
}

func printDim(format string, args ...interface{}) {
	if cfgJSON {
		return
	}
	dimColor.Fprintf(os.Stdout, format+"\n", args...)
}

func printJSON(data []byte) {
	fmt.Fprintln(os.Stdout, string(data))
}

func printKeyValue(key, value string) {
	if cfgJSON {
		return
	}
	fmt.Fprintf(os.Stdout, "  %-20s %s\n", key+":", value)
}

func printSection(title string) {
	if cfgJSON {
		return
	}
	fmt.Fprintf(os.Stdout, "\n%s\n", infoColor.Sprint(title))
}
