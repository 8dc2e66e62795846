package tui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/strrl/mathchat/internal/chat"
	"github.com/strrl/mathchat/internal/stream"
	"github.com/strrl/mathchat/pkg/models"
)

type stubBackend struct {
	sessions []models.ChatSessionRef
	history  map[int64][]models.ChatMessage
	reply    string
}

func (s *stubBackend) ListSessions(ctx context.Context) ([]models.ChatSessionRef, error) {
	return s.sessions, nil
}

func (s *stubBackend) FetchMessages(ctx context.Context, chatID int64) ([]models.ChatMessage, error) {
	msgs, ok := s.history[chatID]
	if !ok {
		return nil, errors.New("unknown chat")
	}
	return msgs, nil
}

func (s *stubBackend) SendChat(ctx context.Context, chatID *int64, message string, obs stream.Observer) (stream.Result, error) {
	obs.OnSnapshot(s.reply)
	id := int64(1)
	return stream.Result{Text: s.reply, Raw: s.reply, ChatID: &id, Done: true}, nil
}

func newTestModel(t *testing.T, backend chat.Backend) model {
	t.Helper()
	ctrl := chat.NewController(backend, nil, chat.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	m := initialModel(context.Background(), ctrl)
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	return updated.(model)
}

func send(m model, msg tea.Msg) (model, tea.Cmd) {
	updated, cmd := m.Update(msg)
	return updated.(model), cmd
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case "up":
		return tea.KeyMsg{Type: tea.KeyUp}
	case "ctrl+n":
		return tea.KeyMsg{Type: tea.KeyCtrlN}
	case "ctrl+c":
		return tea.KeyMsg{Type: tea.KeyCtrlC}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// TestViewportInitialization tests that viewports are sized on the first window event
func TestViewportInitialization(t *testing.T) {
	ctrl := chat.NewController(&stubBackend{}, nil)
	m := initialModel(context.Background(), ctrl)

	if m.ready {
		t.Error("Model should not be ready before window size is known")
	}
	if !strings.Contains(m.View(), "Initializing") {
		t.Error("View should show initializing before the first resize")
	}

	m, _ = send(m, tea.WindowSizeMsg{Width: 100, Height: 30})

	if !m.ready {
		t.Fatal("Model should be ready after WindowSizeMsg")
	}
	if m.leftViewport.Width != sidebarWidth {
		t.Errorf("Expected sidebar width %d, got %d", sidebarWidth, m.leftViewport.Width)
	}
	if m.rightViewport.Width != 100-sidebarWidth-1 {
		t.Errorf("Unexpected transcript width %d", m.rightViewport.Width)
	}
	if m.rightViewport.Height != 30-2-inputHeight {
		t.Errorf("Unexpected transcript height %d", m.rightViewport.Height)
	}
	if m.renderer == nil {
		t.Error("Markdown renderer should be created on resize")
	}
}

func TestStateMsgRendersTranscript(t *testing.T) {
	m := newTestModel(t, &stubBackend{})
	id := int64(4)

	m, _ = send(m, StateMsg{State: chat.State{
		Messages: []models.ChatMessage{
			{Sender: models.SenderUser, Content: "what is 2+2"},
			{Sender: models.SenderBot, Content: "It is 4"},
		},
		Sessions:      []models.ChatSessionRef{{ID: 4, Name: "Arithmetic"}},
		CurrentChatID: &id,
	}})

	view := m.View()
	for _, want := range []string{"MathGPT", "what is 2+2", "4", "Arithmetic", "chat #4"} {
		if !strings.Contains(view, want) {
			t.Errorf("View missing %q", want)
		}
	}
}

func TestFooterShowsError(t *testing.T) {
	m := newTestModel(t, &stubBackend{})

	m, _ = send(m, StateMsg{State: chat.State{Err: errors.New("connection refused")}})

	if !strings.Contains(m.renderFooter(), "connection refused") {
		t.Errorf("Footer should show the last error, got %q", m.renderFooter())
	}
}

func TestEnterSubmitsMessage(t *testing.T) {
	m := newTestModel(t, &stubBackend{reply: "ok"})

	for _, r := range "hello" {
		m, _ = send(m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
	if m.input.Value() != "hello" {
		t.Fatalf("Expected input to hold typed text, got %q", m.input.Value())
	}

	m, cmd := send(m, key("enter"))
	if cmd == nil {
		t.Fatal("Enter should return a submit command")
	}
	if m.input.Value() != "" {
		t.Error("Input should be cleared after submitting")
	}

	msg, ok := cmd().(SendFinishedMsg)
	if !ok {
		t.Fatal("Submit command should report SendFinishedMsg")
	}
	if msg.Error != nil {
		t.Errorf("Unexpected submit error: %v", msg.Error)
	}
	if got := m.ctrl.State().Messages; len(got) != 2 || got[1].Content != "ok" {
		t.Errorf("Controller transcript not updated: %+v", got)
	}
}

func TestEnterIgnoredWhileLoading(t *testing.T) {
	m := newTestModel(t, &stubBackend{})
	m, _ = send(m, StateMsg{State: chat.State{
		Loading:  true,
		Messages: []models.ChatMessage{{Sender: models.SenderUser, Content: "q"}},
	}})

	m.input.SetValue("another")
	m, cmd := send(m, key("enter"))

	if cmd != nil {
		t.Error("Enter should not submit while a reply is loading")
	}
	if m.input.Value() != "another" {
		t.Error("Input should be kept while loading")
	}
}

func TestEnterIgnoredWhileHistoryLoads(t *testing.T) {
	m := newTestModel(t, &stubBackend{})
	m, _ = send(m, StateMsg{State: chat.State{Sessions: []models.ChatSessionRef{{ID: 2, Name: "second"}}}})

	m, _ = send(m, key("tab"))
	m, _ = send(m, key("enter"))
	m, _ = send(m, key("tab"))
	if m.pendingSession == nil {
		t.Fatal("Session should be pending after enter in the sidebar")
	}

	m.input.SetValue("question")
	m, cmd := send(m, key("enter"))
	if cmd != nil {
		t.Error("Enter should not submit while history is loading")
	}
	if m.input.Value() != "question" {
		t.Error("Input should be kept while history is loading")
	}
}

func TestStreamingReplyIsNotCached(t *testing.T) {
	m := newTestModel(t, &stubBackend{})
	user := models.ChatMessage{Sender: models.SenderUser, Content: "explain"}

	reply := ""
	for i := 0; i < 50; i++ {
		reply += "word "
		m, _ = send(m, StateMsg{State: chat.State{
			Loading:  true,
			Messages: []models.ChatMessage{user, {Sender: models.SenderBot, Content: reply}},
		}})
	}
	if len(m.renderCache) != 0 {
		t.Errorf("Snapshots of a streaming reply should not be cached, got %d entries", len(m.renderCache))
	}

	m, _ = send(m, StateMsg{State: chat.State{
		Messages: []models.ChatMessage{user, {Sender: models.SenderBot, Content: reply}},
	}})
	if len(m.renderCache) != 1 {
		t.Errorf("Finished reply should be cached once, got %d entries", len(m.renderCache))
	}
}

func TestRenderCacheIsBounded(t *testing.T) {
	m := newTestModel(t, &stubBackend{})

	for i := 0; i < maxCachedRenders+10; i++ {
		m.renderMarkdown(fmt.Sprintf("answer %d", i), 40, true)
	}
	if len(m.renderCache) > maxCachedRenders {
		t.Errorf("Cache should stay within %d entries, got %d", maxCachedRenders, len(m.renderCache))
	}
}

func TestEnterIgnoresBlankInput(t *testing.T) {
	m := newTestModel(t, &stubBackend{})
	m.input.SetValue("   ")

	if _, cmd := send(m, key("enter")); cmd != nil {
		t.Error("Blank input should not be submitted")
	}
}

func TestSidebarNavigation(t *testing.T) {
	backend := &stubBackend{
		history: map[int64][]models.ChatMessage{
			2: {{Sender: models.SenderBot, Content: "answer"}, {Sender: models.SenderUser, Content: "question"}},
		},
	}
	m := newTestModel(t, backend)
	m, _ = send(m, StateMsg{State: chat.State{Sessions: []models.ChatSessionRef{
		{ID: 1, Name: "first"},
		{ID: 2, Name: "second"},
	}}})

	m, _ = send(m, key("tab"))
	if m.focus != sidebarFocus {
		t.Fatal("Tab should move focus to the sidebar")
	}
	if m.input.Focused() {
		t.Error("Input should be blurred while the sidebar has focus")
	}

	m, _ = send(m, key("down"))
	m, _ = send(m, key("down"))
	if m.sessionCursor != 1 {
		t.Errorf("Cursor should stop at the last session, got %d", m.sessionCursor)
	}
	m, _ = send(m, key("k"))
	m, _ = send(m, key("j"))
	if m.sessionCursor != 1 {
		t.Errorf("Expected cursor 1 after k/j, got %d", m.sessionCursor)
	}

	m, cmd := send(m, key("enter"))
	if cmd == nil {
		t.Fatal("Enter on a session should return a load command")
	}
	if m.pendingSession == nil || *m.pendingSession != 2 {
		t.Error("Selected session should be pending")
	}

	loaded := selectSessionCmd(m.ctx, m.ctrl, 2)()
	m, _ = send(m, loaded)
	if m.pendingSession != nil {
		t.Error("Pending session should clear once history is loaded")
	}
	got := m.ctrl.State().Messages
	if len(got) != 2 || got[0].Content != "question" {
		t.Errorf("History should be chronological, got %+v", got)
	}

	m, _ = send(m, key("tab"))
	if m.focus != inputFocus || !m.input.Focused() {
		t.Error("Tab should return focus to the input")
	}
}

func TestSidebarTypingDoesNotReachInput(t *testing.T) {
	m := newTestModel(t, &stubBackend{})
	m, _ = send(m, key("tab"))
	m, _ = send(m, key("x"))

	if m.input.Value() != "" {
		t.Error("Keys in the sidebar should not be typed into the input")
	}
}

func TestNewChatKeys(t *testing.T) {
	m := newTestModel(t, &stubBackend{})

	if _, cmd := send(m, key("ctrl+n")); cmd == nil {
		t.Error("ctrl+n should return a new chat command")
	}

	m, _ = send(m, key("tab"))
	_, cmd := send(m, key("n"))
	if cmd == nil {
		t.Fatal("n in the sidebar should return a new chat command")
	}
	if msg := cmd(); msg != nil {
		t.Errorf("New chat on an idle controller should succeed, got %v", msg)
	}
}

func TestBusyNoticeShownInFooter(t *testing.T) {
	m := newTestModel(t, &stubBackend{})

	m, _ = send(m, IntentRejectedMsg{Error: chat.ErrBusy})
	if !strings.Contains(m.renderFooter(), "Still answering") {
		t.Error("Busy rejection should be shown in the footer")
	}

	m, _ = send(m, key("a"))
	if strings.Contains(m.renderFooter(), "Still answering") {
		t.Error("Notice should clear on the next key press")
	}
}

func TestLoadingStartsSpinner(t *testing.T) {
	m := newTestModel(t, &stubBackend{})

	m, cmd := send(m, StateMsg{State: chat.State{
		Loading:  true,
		Messages: []models.ChatMessage{{Sender: models.SenderUser, Content: "q"}},
	}})
	if cmd == nil || !m.ticking {
		t.Fatal("Loading state should start the spinner ticker")
	}
	if !strings.Contains(m.renderTranscript(), "Thinking...") {
		t.Error("Transcript should show the thinking indicator")
	}

	m, cmd = send(m, TickMsg(time.Now()))
	if cmd == nil {
		t.Error("Ticks should continue while loading")
	}

	m, _ = send(m, StateMsg{State: chat.State{}})
	m, cmd = send(m, TickMsg(time.Now()))
	if cmd != nil || m.ticking {
		t.Error("Ticks should stop once loading is over")
	}
}

func TestQuit(t *testing.T) {
	m := newTestModel(t, &stubBackend{})

	_, cmd := send(m, key("ctrl+c"))
	if cmd == nil {
		t.Fatal("ctrl+c should return a command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("ctrl+c should quit")
	}
}

func TestSessionLabel(t *testing.T) {
	if got := sessionLabel(models.ChatSessionRef{ID: 9}); got != "Chat #9" {
		t.Errorf("Expected fallback label, got %q", got)
	}
	if got := sessionLabel(models.ChatSessionRef{ID: 9, Name: "Limits"}); got != "Limits" {
		t.Errorf("Expected name, got %q", got)
	}
}

// TestSpinnerAnimation tests spinner frame progression
func TestSpinnerAnimation(t *testing.T) {
	spinner := NewSpinner()

	initialFrame := spinner.View()
	spinner.Next()
	secondFrame := spinner.View()

	if initialFrame == secondFrame {
		t.Error("Spinner should advance to next frame")
	}

	// Test frame cycling
	for i := 0; i < 10; i++ {
		spinner.Next()
	}

	if spinner.View() == "" {
		t.Error("Spinner should always return a frame")
	}
}

// TestLoadingIndicator tests loading indicator functionality
func TestLoadingIndicator(t *testing.T) {
	indicator := NewLoadingIndicator("Loading...")

	view := indicator.View()
	if !strings.Contains(view, "Loading...") {
		t.Error("Loading indicator should show the message")
	}

	indicator.SetMessage("Loading history...")
	indicator.Tick()
	if !strings.Contains(indicator.View(), "Loading history...") {
		t.Error("Loading indicator should show the updated message")
	}
}

func TestLoadingOverlay(t *testing.T) {
	out := LoadingOverlay(40, 10, NewLoadingIndicator("Loading history..."))

	if !strings.Contains(out, "Loading history...") || !strings.Contains(out, "tab to switch focus") {
		t.Errorf("Overlay missing content: %q", out)
	}
}

func TestWrapText(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		width int
		want  []string
	}{
		{"fits", "short line", 20, []string{"short line"}},
		{"wraps", "one two three four", 9, []string{"one two", "three", "four"}},
		{"keeps paragraphs", "a\n\nb", 10, []string{"a", "", "b"}},
		{"zero width", "as is", 0, []string{"as is"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := wrapText(tt.text, tt.width)
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Errorf("wrapText(%q, %d) = %q, want %q", tt.text, tt.width, got, tt.want)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("abcdefghij", 6); got != "abc..." {
		t.Errorf("Expected abc..., got %q", got)
	}
	if got := truncate("abc", 6); got != "abc" {
		t.Errorf("Expected abc, got %q", got)
	}
}

func BenchmarkSpinnerAnimation(b *testing.B) {
	spinner := NewSpinner()
	for i := 0; i < b.N; i++ {
		spinner.Next()
		_ = spinner.View()
	}
}
