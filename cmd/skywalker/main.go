package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

type globalFlags struct {
	configPath string
	verbose    bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := newRootCmd().ExecuteContext(ctx)
	switch {
	case err == nil:
	case errors.Is(err, errTurnFailed):
		os.Exit(2)
	default:
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// errTurnFailed exits with status 2 after the failure was already printed.
var errTurnFailed = errors.New("agent turn failed")

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	cmd := &cobra.Command{
		Use:   "skywalker",
		Short: "Multi-agent assistant with session workspaces, delegation and guardrails",
		Long: `skywalker routes messages to LLM agents declared in YAML files.

Each session gets a shared workspace with find, grep, read, write and edit
tools. Declared sub-agents are callable as tools, knowledge base search is
available through rag_search, and guardrails check input and output.

Examples:
  skywalker chat --user alice
  skywalker ask --session 3f2a... "why are my transfers blocked?"
  skywalker kb ingest ./docs
  skywalker db init --seed`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "config file (default $SKYWALKER_CONFIG or ~/.skywalker/config.json)")
	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(newChatCmd(flags))
	cmd.AddCommand(newAskCmd(flags))
	cmd.AddCommand(newSessionsCmd(flags))
	cmd.AddCommand(newAgentsCmd(flags))
	cmd.AddCommand(newKBCmd(flags))
	cmd.AddCommand(newDBCmd(flags))
	return cmd
}
