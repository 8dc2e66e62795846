package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewSessionsCommand creates the sessions command
func NewSessionsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List chat sessions without TUI",
		Args:  cobra.NoArgs,
		RunE:  runSessions,
	}
}

func runSessions(cmd *cobra.Command, args []string) error {
	sessions, err := current.client.ListSessions(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to fetch sessions: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(sessions) == 0 {
		fmt.Fprintln(out, "No sessions found")
		return nil
	}

	fmt.Fprintln(out, "Sessions:")
	fmt.Fprintln(out, "=========")
	for _, s := range sessions {
		fmt.Fprintf(out, "%6d  %s\n", s.ID, s.Name)
	}
	return nil
}
