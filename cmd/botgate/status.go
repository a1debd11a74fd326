package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/botgate/pkg/client"
)

// StatusFlags holds flags for the status command.
type StatusFlags struct {
	APIUrl     string
	APITimeout time.Duration
}

func createStatusCommand() *cobra.Command {
	flags := &StatusFlags{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon health and process status",
		Long: `Query a running botgate daemon's control surface.

Examples:
  botgate status
  botgate status --api-url=http://127.0.0.1:9090`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(flags)
		},
	}
	cmd.Flags().StringVar(&flags.APIUrl, "api-url", "", "daemon control URL (default http://127.0.0.1:9090)")
	cmd.Flags().DurationVar(&flags.APITimeout, "api-timeout", 10*time.Second, "request timeout")
	return cmd
}

func runStatus(flags *StatusFlags) error {
	c := client.New(flags.APIUrl, flags.APITimeout)
	ctx, cancel := context.WithTimeout(context.Background(), flags.APITimeout)
	defer cancel()

	st, err := c.Status(ctx)
	if err != nil {
		return fmt.Errorf("query daemon: %w", err)
	}
	fmt.Printf("health: %s (%s, consecutive failures: %d)\n",
		st.Health.State, st.Health.Component, st.Health.ConsecutiveFails)
	for _, p := range st.Processes {
		line := fmt.Sprintf("%-12s %-8s pid=%-7d restarts=%d", p.Name, p.State, p.PID, p.Restarts)
		if p.LastErr != "" {
			line += " last_error=" + p.LastErr
		}
		fmt.Println(line)
	}
	return nil
}
