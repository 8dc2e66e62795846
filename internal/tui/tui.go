// Package tui is the interactive chat surface: a sessions sidebar, the
// transcript and an input box.
package tui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/strrl/mathchat/internal/chat"
	"github.com/strrl/mathchat/pkg/models"
)

const (
	sidebarWidth     = 28
	inputHeight      = 3
	maxCachedRenders = 256
)

type focusArea int

const (
	inputFocus focusArea = iota
	sidebarFocus
)

type model struct {
	ctx   context.Context
	ctrl  *chat.Controller
	state chat.State

	focus          focusArea
	sessionCursor  int
	pendingSession *int64
	ticking        bool
	notice         string

	leftViewport  viewport.Model
	rightViewport viewport.Model
	input         textinput.Model
	loading       *LoadingIndicator

	markdownStyle string
	renderer      *glamour.TermRenderer
	renderCache   map[string]string

	ready  bool
	width  int
	height int
}

func initialModel(ctx context.Context, ctrl *chat.Controller) model {
	input := textinput.New()
	input.Placeholder = "Type your message..."
	input.Prompt = "> "
	input.Focus()

	return model{
		ctx:           ctx,
		ctrl:          ctrl,
		state:         ctrl.State(),
		focus:         inputFocus,
		input:         input,
		loading:       NewLoadingIndicator("Thinking..."),
		markdownStyle: "dark",
		renderCache:   make(map[string]string),
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, refreshCmd(m.ctx, m.ctrl))
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		m.ready = true
		m.updateViewports()

	case StateMsg:
		m.state = msg.State
		if m.sessionCursor >= len(m.state.Sessions) {
			m.sessionCursor = max(len(m.state.Sessions)-1, 0)
		}
		if m.state.Busy() {
			m.input.Placeholder = "Waiting for the answer..."
			if !m.ticking {
				m.ticking = true
				cmds = append(cmds, tickCmd())
			}
		} else {
			m.input.Placeholder = "Type your message..."
		}
		m.updateViewports()

	case HistoryLoadedMsg:
		if m.pendingSession != nil && *m.pendingSession == msg.ChatID {
			m.pendingSession = nil
		}
		if errors.Is(msg.Error, chat.ErrBusy) {
			m.notice = "Still answering, try again when the reply is done"
		}
		m.updateViewports()

	case SendFinishedMsg:
		if errors.Is(msg.Error, chat.ErrBusy) {
			m.notice = "Still answering, try again when the reply is done"
		}

	case IntentRejectedMsg:
		if errors.Is(msg.Error, chat.ErrBusy) {
			m.notice = "Still answering, try again when the reply is done"
		}

	case TickMsg:
		if m.state.Busy() || m.pendingSession != nil {
			m.loading.Tick()
			m.updateViewports()
			cmds = append(cmds, tickCmd())
		} else {
			m.ticking = false
		}

	case tea.MouseMsg:
		var cmd tea.Cmd
		m.rightViewport, cmd = m.rightViewport.Update(msg)
		cmds = append(cmds, cmd)

	case tea.KeyMsg:
		m.notice = ""
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "tab":
			m.toggleFocus()
			return m, nil
		case "ctrl+n":
			return m, newChatCmd(m.ctrl)
		case "pgup", "pgdown":
			var cmd tea.Cmd
			m.rightViewport, cmd = m.rightViewport.Update(msg)
			return m, cmd
		}

		if m.focus == sidebarFocus {
			return m.updateSidebar(msg)
		}
		return m.updateInput(msg)
	}

	return m, tea.Batch(cmds...)
}

func (m model) updateSidebar(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		if m.sessionCursor > 0 {
			m.sessionCursor--
			m.updateViewports()
		}
	case "down", "j":
		if m.sessionCursor < len(m.state.Sessions)-1 {
			m.sessionCursor++
			m.updateViewports()
		}
	case "enter":
		if len(m.state.Sessions) == 0 {
			return m, nil
		}
		id := m.state.Sessions[m.sessionCursor].ID
		m.pendingSession = &id
		m.updateViewports()
		cmds := []tea.Cmd{selectSessionCmd(m.ctx, m.ctrl, id)}
		if !m.ticking {
			m.ticking = true
			cmds = append(cmds, tickCmd())
		}
		return m, tea.Batch(cmds...)
	case "n":
		return m, newChatCmd(m.ctrl)
	case "esc":
		m.toggleFocus()
	}
	return m, nil
}

func (m model) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type == tea.KeyEnter {
		text := m.input.Value()
		if m.state.Busy() || m.pendingSession != nil || strings.TrimSpace(text) == "" {
			return m, nil
		}
		m.input.Reset()
		return m, submitCmd(m.ctx, m.ctrl, text)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *model) toggleFocus() {
	if m.focus == inputFocus {
		m.focus = sidebarFocus
		m.input.Blur()
	} else {
		m.focus = inputFocus
		m.input.Focus()
	}
	m.updateViewports()
}

func (m *model) resize() {
	// header and footer take one line each
	contentHeight := max(m.height-2-inputHeight, 1)
	rightWidth := max(m.width-sidebarWidth-1, 10)

	if !m.ready {
		m.leftViewport = viewport.New(sidebarWidth, contentHeight)
		m.rightViewport = viewport.New(rightWidth, contentHeight)
	} else {
		m.leftViewport.Width = sidebarWidth
		m.leftViewport.Height = contentHeight
		m.rightViewport.Width = rightWidth
		m.rightViewport.Height = contentHeight
	}
	m.input.Width = max(m.width-4, 1)

	renderer, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(m.markdownStyle),
		glamour.WithWordWrap(max(rightWidth-2, 10)),
	)
	if err != nil {
		slog.Warn("Failed to create markdown renderer", "error", err)
		renderer = nil
	}
	m.renderer = renderer
	m.renderCache = make(map[string]string)
}

func (m *model) updateViewports() {
	if !m.ready {
		return
	}
	m.leftViewport.SetContent(m.renderSessions())
	m.rightViewport.SetContent(m.renderTranscript())
	m.rightViewport.GotoBottom()
}

func (m model) renderSessions() string {
	var b strings.Builder

	headerStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("229"))
	b.WriteString(headerStyle.Render("Sessions"))
	b.WriteString("\n\n")

	if len(m.state.Sessions) == 0 {
		emptyStyle := lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true)
		b.WriteString(emptyStyle.Render("No sessions yet"))
		return b.String()
	}

	for i, s := range m.state.Sessions {
		cursor := "  "
		style := lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
		if m.state.Selected(s.ID) {
			style = style.Foreground(lipgloss.Color("229"))
		}
		if i == m.sessionCursor && m.focus == sidebarFocus {
			cursor = "> "
			style = style.Foreground(lipgloss.Color("212")).Bold(true)
		}
		b.WriteString(cursor)
		b.WriteString(style.Render(truncate(sessionLabel(s), sidebarWidth-2)))
		b.WriteString("\n")
	}

	return b.String()
}

func sessionLabel(s models.ChatSessionRef) string {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Sprintf("Chat #%d", s.ID)
	}
	return s.Name
}

func (m model) renderTranscript() string {
	if m.pendingSession != nil && !m.state.Loading {
		m.loading.SetMessage("Loading history...")
		return LoadingOverlay(m.rightViewport.Width, m.rightViewport.Height, m.loading)
	}
	m.loading.SetMessage("Thinking...")

	if len(m.state.Messages) == 0 {
		emptyStyle := lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true)
		return emptyStyle.Render("Ask a math question to start a new chat")
	}

	userStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("212"))
	botStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("63"))
	timeStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("243"))

	var b strings.Builder
	width := m.rightViewport.Width - 2
	for i, msg := range m.state.Messages {
		label := userStyle.Render("You")
		if msg.Sender == models.SenderBot {
			label = botStyle.Render("MathGPT")
		}
		b.WriteString(label)
		if !msg.CreatedAt.IsZero() {
			b.WriteString(" ")
			b.WriteString(timeStyle.Render(msg.CreatedAt.Local().Format("15:04")))
		}
		b.WriteString("\n")

		last := i == len(m.state.Messages)-1
		switch {
		case msg.Sender == models.SenderBot && msg.Content == "" && last && m.state.Loading:
			b.WriteString(m.loading.View())
			b.WriteString("\n")
		case msg.Sender == models.SenderBot:
			// a streaming reply changes on every snapshot
			streaming := last && m.state.Loading
			b.WriteString(m.renderMarkdown(msg.Content, width, !streaming))
		default:
			for _, line := range wrapText(msg.Content, width) {
				b.WriteString(line)
				b.WriteString("\n")
			}
		}
		b.WriteString("\n")
	}

	if m.state.Loading && lastMessage(m.state.Messages).Sender == models.SenderUser {
		b.WriteString(m.loading.View())
		b.WriteString("\n")
	}

	return b.String()
}

func lastMessage(messages []models.ChatMessage) models.ChatMessage {
	if len(messages) == 0 {
		return models.ChatMessage{}
	}
	return messages[len(messages)-1]
}

// renderMarkdown renders bot content, falling back to wrapped plain text.
// Only finished messages are cached.
func (m model) renderMarkdown(content string, width int, cache bool) string {
	if out, ok := m.renderCache[content]; ok {
		return out
	}
	if m.renderer != nil {
		out, err := m.renderer.Render(content)
		if err == nil {
			if cache {
				if len(m.renderCache) >= maxCachedRenders {
					clear(m.renderCache)
				}
				m.renderCache[content] = out
			}
			return out
		}
		slog.Debug("Markdown rendering failed", "error", err)
	}
	return strings.Join(wrapText(content, width), "\n") + "\n"
}

// wrapText wraps each paragraph of text to width, keeping blank lines
func wrapText(text string, width int) []string {
	if width <= 0 {
		return []string{text}
	}

	var lines []string
	for _, paragraph := range strings.Split(text, "\n") {
		words := strings.Fields(paragraph)
		if len(words) == 0 {
			lines = append(lines, "")
			continue
		}

		currentLine := words[0]
		for _, word := range words[1:] {
			if len(currentLine)+1+len(word) > width {
				lines = append(lines, currentLine)
				currentLine = word
			} else {
				currentLine += " " + word
			}
		}
		lines = append(lines, currentLine)
	}

	return lines
}

func (m model) View() string {
	if !m.ready {
		return "\n  Initializing..."
	}

	return fmt.Sprintf("%s\n%s\n%s\n%s",
		m.renderHeader(),
		m.renderSplitView(),
		m.renderInput(),
		m.renderFooter())
}

func (m model) renderSplitView() string {
	leftStyle := lipgloss.NewStyle().
		Width(m.leftViewport.Width).
		Height(m.leftViewport.Height)

	rightStyle := lipgloss.NewStyle().
		Width(m.rightViewport.Width).
		Height(m.rightViewport.Height).
		PaddingLeft(1)

	dividerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("238")).
		Height(m.leftViewport.Height)

	divider := dividerStyle.Render(strings.Repeat("│\n", m.leftViewport.Height))

	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		leftStyle.Render(m.leftViewport.View()),
		divider,
		rightStyle.Render(m.rightViewport.View()),
	)
}

func (m model) renderInput() string {
	borderColor := lipgloss.Color("238")
	if m.focus == inputFocus {
		borderColor = lipgloss.Color("63")
	}
	style := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(borderColor).
		Width(max(m.width-2, 1))
	return style.Render(m.input.View())
}

func (m model) renderHeader() string {
	title := "MathGPT"
	if m.state.CurrentChatID != nil {
		title = fmt.Sprintf("MathGPT · chat #%d", *m.state.CurrentChatID)
	}

	style := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("63")).
		Width(m.width)

	return style.Render(" " + title)
}

func (m model) renderFooter() string {
	help := "tab: sessions • enter: send • ctrl+n: new chat • pgup/pgdown: scroll • ctrl+c: quit"
	if m.focus == sidebarFocus {
		help = "↑/↓: navigate • enter: open • n: new chat • tab: input • ctrl+c: quit"
	}

	style := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("196"))

	switch {
	case m.notice != "":
		return errorStyle.Render(m.notice)
	case m.state.Err != nil:
		return errorStyle.Render("Error: "+truncate(m.state.Err.Error(), max(m.width-10, 20))) +
			style.Render("  "+help)
	}
	return style.Render(help)
}

func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}

// ShowTUI runs the chat interface until the user quits
func ShowTUI(ctx context.Context, backend chat.Backend, logger *slog.Logger) error {
	surface := &programSurface{}
	ctrl := chat.NewController(backend, surface, chat.WithLogger(logger))

	m := initialModel(ctx, ctrl)
	if !lipgloss.HasDarkBackground() {
		m.markdownStyle = "light"
	}

	p := tea.NewProgram(
		m,
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
		tea.WithContext(ctx),
	)
	surface.program = p

	if _, err := p.Run(); err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to run TUI: %w", err)
	}
	return nil
}
