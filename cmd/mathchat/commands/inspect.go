package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/strrl/mathchat/internal/capture"
)

// NewInspectCommand creates the inspect command
func NewInspectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect [dir]",
		Short: "Summarize recorded response streams",
		Long: `Summarize the response streams recorded with --capture-dir.
Without arguments the configured capture directory is used.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runInspect,
	}
}

func runInspect(cmd *cobra.Command, args []string) error {
	dir := current.cfg.CaptureDir
	if len(args) == 1 {
		dir = args[0]
	}
	if dir == "" {
		return fmt.Errorf("no capture directory given and none configured")
	}

	summaries, err := capture.Inspect(cmd.Context(), dir)
	if err != nil {
		return fmt.Errorf("failed to inspect captures: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(summaries) == 0 {
		fmt.Fprintf(out, "No captures in %s\n", dir)
		return nil
	}

	fmt.Fprintf(out, "%-42s %6s %9s %4s %7s %8s\n", "FILE", "LINES", "FRAGMENTS", "DONE", "CHARS", "CHAT")
	for _, s := range summaries {
		chatID := "-"
		if s.ChatID != nil {
			chatID = fmt.Sprintf("%d", *s.ChatID)
		}
		fmt.Fprintf(out, "%-42s %6d %9d %4d %7d %8s\n",
			s.File, s.Lines, s.Fragments, s.DoneLines, s.Chars, chatID)
	}
	return nil
}
