// Package journal runs journaling sessions: the conversation with the
// model, the end-of-session summary and the extraction of personal details.
package journal

import (
	"time"

	"github.com/HerbHall/counsellor/internal/details"
)

// SessionType distinguishes the first intake conversation from regular ones.
type SessionType string

const (
	SessionIntake   SessionType = "intake"
	SessionStandard SessionType = "standard"
)

// Status is the lifecycle state of a conversation.
type Status string

const (
	StatusActive    Status = "active"
	StatusEnding    Status = "ending"
	StatusCompleted Status = "completed"
)

// Event topics published by the journal service.
const (
	TopicDetailsLearned = "journal.details_learned"
	TopicSessionEnded   = "journal.session_ended"
)

// Conversation is one journaling session.
type Conversation struct {
	ID                  string          `json:"id"`
	UserID              string          `json:"-"`
	SessionType         SessionType     `json:"session_type" example:"standard"`
	Status              Status          `json:"status" example:"active"`
	InitialMood         *int            `json:"initial_mood,omitempty" example:"4"`
	EndMood             *int            `json:"end_mood,omitempty" example:"6"`
	Duration            int             `json:"duration"` // seconds
	Model               string          `json:"model" example:"gpt-4-turbo-preview"`
	AISummary           string          `json:"ai_summary,omitempty"`
	IdentifiedPatterns  []string        `json:"identified_patterns,omitempty"`
	FollowupSuggestions []string        `json:"followup_suggestions,omitempty"`
	LearnedDetails      details.Details `json:"learned_details,omitempty" swaggertype:"object"`
	LearningChanges     []string        `json:"learning_changes,omitempty"`
	CreatedAt           time.Time       `json:"timestamp"`
	UpdatedAt           time.Time       `json:"updated_at"`
	Messages            []Message       `json:"messages,omitempty"`
}

// Message is one turn in a conversation.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role" example:"user"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"timestamp"`
}

// Summary is the model's end-of-session analysis.
type Summary struct {
	Summary             string   `json:"summary"`
	Patterns            []string `json:"patterns"`
	FollowupSuggestions []string `json:"followupSuggestions"`
}

// DetailsLearned is the payload of TopicDetailsLearned.
type DetailsLearned struct {
	ConversationID string   `json:"conversation_id"`
	Changes        []string `json:"changes"`
}

// SessionEnded is the payload of TopicSessionEnded.
type SessionEnded struct {
	ConversationID string `json:"conversation_id"`
	Summary        string `json:"summary"`
	ChangeCount    int    `json:"change_count"`
}
