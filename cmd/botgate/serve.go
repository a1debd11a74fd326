package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/loykin/botgate/internal/config"
	"github.com/loykin/botgate/internal/logger"
	"github.com/loykin/botgate/internal/orchestrator"
)

func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	var debug bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway",
		Long: `Run the gateway: load configuration from the environment, start the
managed processes, and supervise them until a termination signal.

Recognized environment variables: API_ID (required), API_HASH (required),
HTTP_IP_ADDRESS, HTTP_PORT, DATA_DIR, LOG_PATH, TELEGRAM_API_URL,
CONTROL_LISTEN, PROBE_URL, PROBE_INTERVAL, PROBE_FAILURE_THRESHOLD,
BACKOFF_BASE, BACKOFF_MAX, MAX_RESTARTS, STABILITY_WINDOW, STOP_GRACE,
HISTORY_DSN, FRONTEND_COMMAND, WORKER_COMMAND.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			os.Exit(runServe(globalFlags.ConfigPath, debug))
			return nil
		},
	}
	cmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging")
	return cmd
}

func runServe(configPath string, debug bool) int {
	cfg, err := config.Load(configPath)
	if err != nil {
		// every load failure wraps config.ErrConfig and maps to exit code 1
		_, _ = fmt.Fprintln(os.Stderr, err)
		return orchestrator.ExitConfigError
	}

	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	log := logger.Setup(cfg.LogPath, level)

	o := orchestrator.New(cfg, log)
	return o.Run(context.Background())
}
