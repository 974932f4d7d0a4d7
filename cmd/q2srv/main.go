// Command q2srv is the game server binary. Structured as a cobra root
// command with one subcommand per concern (serve, status, ping, kick,
// fsflushcache), each built from its own small constructor rather than
// one long main().
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	buildVersion = "dev"
	buildCommit  = "none"
	buildDate    = "unknown"
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "q2srv",
		Short:         "q2srv is a netchan-based multiplayer game server",
		SilenceUsage:  true,
		SilenceErrors: false,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", buildVersion, buildCommit, buildDate),
	}
	root.AddCommand(
		newServeCmd(),
		newStatusCmd(),
		newPingCmd(),
		newKickCmd(),
		newFSFlushCacheCmd(),
	)
	return root
}
