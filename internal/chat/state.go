// Package chat holds the transcript state of the client and the controller
// that drives it from user intents.
package chat

import (
	"strings"
	"time"

	"github.com/strrl/mathchat/internal/normalize"
	"github.com/strrl/mathchat/internal/stream"
	"github.com/strrl/mathchat/pkg/models"
)

// State is everything the display surface needs. Transitions are value
// methods returning a new State; slices are never shared with the
// receiver once modified.
type State struct {
	Messages       []models.ChatMessage
	Sessions       []models.ChatSessionRef
	CurrentChatID  *int64
	Loading        bool
	// HistoryPending is set between SelectSession and the matching
	// HistoryLoaded or HistoryFailed. No message can be sent meanwhile.
	HistoryPending bool
	Err            error
}

// StartNewChat clears the transcript and unpins the session
func (s State) StartNewChat() State {
	s.Messages = nil
	s.CurrentChatID = nil
	s.HistoryPending = false
	s.Err = nil
	return s
}

// SelectSession pins id; its history arrives through HistoryLoaded
func (s State) SelectSession(id int64) State {
	s.CurrentChatID = &id
	s.HistoryPending = true
	s.Err = nil
	return s
}

// HistoryLoaded replaces the transcript with msgs, which the service
// returns newest first. Stale results for a session that is no longer
// selected are dropped, and so is any result arriving while a reply is
// streaming into the transcript.
func (s State) HistoryLoaded(id int64, msgs []models.ChatMessage) State {
	if !s.awaiting(id) {
		return s
	}
	s.HistoryPending = false
	if s.Loading {
		return s
	}

	transcript := make([]models.ChatMessage, len(msgs))
	for i, msg := range msgs {
		msg.Content = normalize.Normalize(msg.Content)
		transcript[len(msgs)-1-i] = msg
	}
	s.Messages = transcript
	return s
}

// HistoryFailed ends the load of id and records err. Failures of a load
// that was superseded are ignored.
func (s State) HistoryFailed(id int64, err error) State {
	if !s.awaiting(id) {
		return s
	}
	s.HistoryPending = false
	s.Err = err
	return s
}

func (s State) awaiting(id int64) bool {
	return s.HistoryPending && s.CurrentChatID != nil && *s.CurrentChatID == id
}

// SessionsLoaded replaces the session list
func (s State) SessionsLoaded(refs []models.ChatSessionRef) State {
	s.Sessions = append([]models.ChatSessionRef(nil), refs...)
	return s
}

// BeginSend appends the user message and marks a request in flight. It
// reports false, leaving s unchanged, for blank text, while another
// request is in flight or while history is loading.
func (s State) BeginSend(text string, now time.Time) (State, bool) {
	if s.Busy() || strings.TrimSpace(text) == "" {
		return s, false
	}
	s.Messages = appendMessage(s.Messages, models.ChatMessage{
		Sender:    models.SenderUser,
		Content:   text,
		CreatedAt: now,
	})
	s.Loading = true
	s.Err = nil
	return s, true
}

// BotStarted appends the empty bot message that snapshots will fill
func (s State) BotStarted(now time.Time) State {
	s.Messages = appendMessage(s.Messages, models.ChatMessage{
		Sender:    models.SenderBot,
		CreatedAt: now,
	})
	return s
}

// ApplySnapshot replaces the content of the in-progress bot message
func (s State) ApplySnapshot(text string) State {
	last := len(s.Messages) - 1
	if last < 0 || s.Messages[last].Sender != models.SenderBot {
		return s
	}
	messages := append([]models.ChatMessage(nil), s.Messages...)
	messages[last].Content = text
	s.Messages = messages
	return s
}

// SendFinished ends the request. The returned chat id is only adopted when
// the reply produced text.
func (s State) SendFinished(res stream.Result) State {
	s.Loading = false
	if res.ChatID != nil && res.Raw != "" {
		id := *res.ChatID
		s.CurrentChatID = &id
	}
	return s
}

// Failed ends the request and keeps the transcript as it is
func (s State) Failed(err error) State {
	s.Loading = false
	s.Err = err
	return s
}

// ReportError records err without touching the request flag
func (s State) ReportError(err error) State {
	s.Err = err
	return s
}

// Busy reports whether a reply is streaming or history is loading
func (s State) Busy() bool {
	return s.Loading || s.HistoryPending
}

// Selected reports whether id is the pinned session
func (s State) Selected(id int64) bool {
	return s.CurrentChatID != nil && *s.CurrentChatID == id
}

func appendMessage(messages []models.ChatMessage, msg models.ChatMessage) []models.ChatMessage {
	out := make([]models.ChatMessage, len(messages), len(messages)+1)
	copy(out, messages)
	return append(out, msg)
}
