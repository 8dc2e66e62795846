package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/strrl/mathchat/internal/chat"
)

// Message types for async operations
type (
	// StateMsg carries a state rendered by the controller
	StateMsg struct {
		State chat.State
	}

	// HistoryLoadedMsg reports the end of a session switch
	HistoryLoadedMsg struct {
		ChatID int64
		Error  error
	}

	// SendFinishedMsg reports the end of an exchange
	SendFinishedMsg struct {
		Error error
	}

	// IntentRejectedMsg reports an intent the controller refused
	IntentRejectedMsg struct {
		Error error
	}

	// TickMsg is sent periodically for spinner animation
	TickMsg time.Time
)

// programSurface forwards controller renders into the running program
type programSurface struct {
	program *tea.Program
}

func (s *programSurface) Render(state chat.State) {
	if s.program != nil {
		s.program.Send(StateMsg{State: state})
	}
}

// Commands for async operations. Controller calls never run inside
// Update: the controller renders synchronously through Program.Send.

func refreshCmd(ctx context.Context, ctrl *chat.Controller) tea.Cmd {
	return func() tea.Msg {
		_ = ctrl.Refresh(ctx)
		return nil
	}
}

func selectSessionCmd(ctx context.Context, ctrl *chat.Controller, id int64) tea.Cmd {
	return func() tea.Msg {
		err := ctrl.SelectSession(ctx, id)
		return HistoryLoadedMsg{ChatID: id, Error: err}
	}
}

func newChatCmd(ctrl *chat.Controller) tea.Cmd {
	return func() tea.Msg {
		if err := ctrl.NewChat(); err != nil {
			return IntentRejectedMsg{Error: err}
		}
		return nil
	}
}

func submitCmd(ctx context.Context, ctrl *chat.Controller, text string) tea.Cmd {
	return func() tea.Msg {
		return SendFinishedMsg{Error: ctrl.Submit(ctx, text)}
	}
}

// tickCmd creates a ticker for spinner animation
func tickCmd() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}
