package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

var askChatID int64

// NewAskCommand creates the ask command
func NewAskCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask [--chat-id N] <message...>",
		Short: "Send one message and stream the answer to stdout",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runAsk,
	}
	cmd.Flags().Int64Var(&askChatID, "chat-id", 0, "Continue this chat session instead of starting a new one")
	return cmd
}

func runAsk(cmd *cobra.Command, args []string) error {
	message := strings.Join(args, " ")
	if strings.TrimSpace(message) == "" {
		return fmt.Errorf("message must not be empty")
	}

	var chatID *int64
	if cmd.Flags().Changed("chat-id") {
		chatID = &askChatID
	}

	out := cmd.OutOrStdout()
	printer := &deltaPrinter{out: out}
	result, err := current.client.SendChat(cmd.Context(), chatID, message, printer)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}

	// normalization can rewrite text that was already printed
	if printer.diverged {
		fmt.Fprintf(out, "\n\n%s", result.Text)
	}
	fmt.Fprintln(out)

	if result.ChatID != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "chat id: %d\n", *result.ChatID)
	} else if chatID != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "chat id: %d\n", *chatID)
	}
	return nil
}

// deltaPrinter writes the part of each snapshot not printed yet
type deltaPrinter struct {
	out      io.Writer
	printed  string
	diverged bool
}

func (p *deltaPrinter) OnSnapshot(text string) {
	if p.diverged {
		return
	}
	if !strings.HasPrefix(text, p.printed) {
		p.diverged = true
		return
	}
	fmt.Fprint(p.out, text[len(p.printed):])
	p.printed = text
}
