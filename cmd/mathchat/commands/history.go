package commands

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/strrl/mathchat/internal/chat"
	"github.com/strrl/mathchat/pkg/models"
)

// NewHistoryCommand creates the history command
func NewHistoryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "history <chat-id>",
		Short: "Print the messages of a chat session",
		Long: `Print the messages of a chat session oldest first, with LaTeX
normalized the same way the TUI displays it.`,
		Args: cobra.ExactArgs(1),
		RunE: runHistory,
	}
}

func runHistory(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id %q: %w", args[0], err)
	}

	ctrl := chat.NewController(current.client, nil, chat.WithLogger(current.logger))
	if err := ctrl.SelectSession(cmd.Context(), id); err != nil {
		return fmt.Errorf("failed to load chat %d: %w", id, err)
	}

	printMessages(cmd.OutOrStdout(), ctrl.State().Messages)
	return nil
}

func printMessages(out io.Writer, messages []models.ChatMessage) {
	if len(messages) == 0 {
		fmt.Fprintln(out, "No messages")
		return
	}

	for _, msg := range messages {
		label := "You"
		if msg.Sender == models.SenderBot {
			label = "MathGPT"
		}
		if msg.CreatedAt.IsZero() {
			fmt.Fprintf(out, "%s:\n", label)
		} else {
			fmt.Fprintf(out, "[%s] %s:\n", msg.CreatedAt.Local().Format("2006-01-02 15:04"), label)
		}
		fmt.Fprintf(out, "%s\n\n", msg.Content)
	}
}
