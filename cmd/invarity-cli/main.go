// Command invarity is the command-line client for the Invarity trust
// authorizer: it submits intents, reports execution outcomes, inspects
// trust profiles, and audits the proof chain from a terminal.
package main

import (
	"os"

	"invarity/cmd/invarity-cli/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
