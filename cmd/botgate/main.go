package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds persistent flags shared by subcommands.
type GlobalFlags struct {
	ConfigPath string
}

func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}

	root := &cobra.Command{
		Use:   "botgate",
		Short: "Supervisor and health gateway for a Telegram bot-API deployment",
		Long: `Botgate owns the lifecycle of the telegram-bot-api front-end and the bot
worker: it starts them in dependency order, restarts them on failure with
bounded backoff, probes the front-end's readiness endpoint, and exposes a
local control surface with health and Prometheus metrics.

Examples:
  API_ID=12345 API_HASH=abc botgate serve
  botgate serve --config extra-processes.toml
  botgate status --api-url=http://127.0.0.1:9090`,
	}
	root.PersistentFlags().StringVar(&globalFlags.ConfigPath, "config", "", "path to TOML config file with extra processes (optional)")

	root.AddCommand(
		createServeCommand(globalFlags),
		createStatusCommand(),
		createVersionCommand(),
	)
	return root
}
