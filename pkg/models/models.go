package models

import "time"

// Sender identifies who authored a chat message
type Sender string

const (
	SenderUser Sender = "User"
	SenderBot  Sender = "Bot"
)

// ChatMessage is a single entry of a session transcript
type ChatMessage struct {
	Sender    Sender
	Content   string
	CreatedAt time.Time
}

// ChatSessionRef is one row of the remote session list
type ChatSessionRef struct {
	ID   int64  `json:"chat_id"`
	Name string `json:"name"`
}

// StreamFragment is one decoded line of a streamed chat response.
// ChatID is only set on lines that carry session metadata.
type StreamFragment struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	ChatID   *int64 `json:"chat_id,omitempty"`
}
