package ws

import (
	"time"
)

// MessageType discriminates WebSocket messages.
type MessageType string

const (
	MessageDetailsLearned MessageType = "details.learned"
	MessageSessionEnded   MessageType = "session.ended"
)

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type           MessageType `json:"type"`
	ConversationID string      `json:"conversation_id"`
	Timestamp      time.Time   `json:"timestamp"`
	Data           any         `json:"data"`
}

// DetailsLearnedData is the payload for details.learned messages.
type DetailsLearnedData struct {
	Changes []string `json:"changes"`
}

// SessionEndedData is the payload for session.ended messages.
type SessionEndedData struct {
	Summary     string `json:"summary"`
	ChangeCount int    `json:"change_count"`
}
