package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/HerbHall/counsellor/internal/conversation"
	"github.com/HerbHall/counsellor/internal/details"
	"github.com/HerbHall/counsellor/internal/event"
	"github.com/HerbHall/counsellor/internal/profile"
	"github.com/HerbHall/counsellor/pkg/llm"
	"go.uber.org/zap"
)

var (
	// ErrNotFound is returned when the caller owns no such conversation.
	ErrNotFound = errors.New("conversation not found")
	// ErrNotActive is returned when a message or end request targets a
	// conversation that is no longer active.
	ErrNotActive = errors.New("conversation is not active")
	// ErrInvalidInput wraps validation failures.
	ErrInvalidInput = errors.New("invalid session input")
)

// Limits on request values.
const (
	MaxMessageLength = 10000
	MaxDuration      = 24 * 60 * 60
	DefaultRecent    = 5
	MaxRecent        = 100
)

// Profiles is the slice of the profile service a session needs.
type Profiles interface {
	Get(ctx context.Context, userID string) (*profile.Profile, error)
	ApplyLearned(ctx context.Context, userID string, incoming details.Details) ([]string, error)
	MarkIntakeCompleted(ctx context.Context, userID string) error
}

// Config holds session defaults.
type Config struct {
	// DefaultModel is used when a session names no model.
	DefaultModel string
}

// StartRequest opens a session.
type StartRequest struct {
	SessionType SessionType `json:"session_type" example:"standard"`
	InitialMood *int        `json:"initial_mood,omitempty" example:"4"`
	Model       string      `json:"model,omitempty" example:"gpt-4-turbo-preview"`
}

// EndRequest closes a session.
type EndRequest struct {
	EndMood  *int `json:"end_mood,omitempty" example:"6"`
	Duration int  `json:"duration" example:"1200"`
}

// Reply is the assistant's answer to a user message.
type Reply struct {
	Message Message   `json:"message"`
	Model   string    `json:"model"`
	Usage   llm.Usage `json:"usage"`
	Cost    float64   `json:"cost"` // USD estimate
}

// Service runs journaling sessions.
type Service struct {
	store    *ConversationStore
	provider llm.Provider
	profiles Profiles
	events   event.Publisher
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time
}

// NewService creates a journal Service. events may be nil.
func NewService(store *ConversationStore, provider llm.Provider, profiles Profiles, events event.Publisher, cfg Config, logger *zap.Logger) *Service {
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = llm.ModelGPT4Turbo
	}
	return &Service{
		store:    store,
		provider: provider,
		profiles: profiles,
		events:   events,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Start creates a conversation and asks the model for an opening greeting.
// A failed greeting is logged and the session is returned without it.
func (s *Service) Start(ctx context.Context, userID string, req StartRequest) (*Conversation, error) {
	if req.SessionType == "" {
		req.SessionType = SessionStandard
	}
	if req.SessionType != SessionStandard && req.SessionType != SessionIntake {
		return nil, fmt.Errorf("%w: unknown session type %q", ErrInvalidInput, req.SessionType)
	}
	if err := validateMood(req.InitialMood); err != nil {
		return nil, err
	}
	if req.Model == "" {
		req.Model = s.cfg.DefaultModel
	}
	if _, ok := llm.LookupModel(req.Model); !ok {
		return nil, fmt.Errorf("%w: unknown model %q", ErrInvalidInput, req.Model)
	}

	// Read before creating so the new session does not count as the last one.
	lastSession := s.lastSession(ctx, userID)

	c := &Conversation{
		UserID:      userID,
		SessionType: req.SessionType,
		InitialMood: req.InitialMood,
		Model:       req.Model,
	}
	if err := s.store.Create(ctx, c); err != nil {
		return nil, err
	}
	s.logger.Info("session started",
		zap.String("user_id", userID),
		zap.String("conversation_id", c.ID),
		zap.String("session_type", string(c.SessionType)),
		zap.String("model", c.Model),
	)

	p := s.profile(ctx, userID)
	resp, err := s.provider.Chat(ctx, []llm.Message{
		llm.SystemMessage(TherapySystemPrompt(p, lastSession)),
		llm.UserMessage(NewSessionStart),
	}, llm.WithModel(c.Model))
	if err != nil {
		s.logger.Warn("opening greeting failed",
			zap.String("conversation_id", c.ID), zap.Error(err))
		c.Messages = []Message{}
		return c, nil
	}

	greeting, err := s.store.AddMessage(ctx, c.ID, llm.RoleAssistant, resp.Content)
	if err != nil {
		return nil, err
	}
	c.Messages = []Message{*greeting}
	return c, nil
}

// Send stores a user message, asks the model for a reply within the
// model's context budget and stores the reply.
func (s *Service) Send(ctx context.Context, userID, conversationID, content string) (*Reply, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("%w: message cannot be empty", ErrInvalidInput)
	}
	if utf8.RuneCountInString(content) > MaxMessageLength {
		return nil, fmt.Errorf("%w: message must be at most %d characters", ErrInvalidInput, MaxMessageLength)
	}

	c, err := s.active(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.AddMessage(ctx, c.ID, llm.RoleUser, content); err != nil {
		return nil, err
	}

	stored, err := s.store.Messages(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	p := s.profile(ctx, userID)
	history := toLLM(stored)
	var budgetProfile any
	if p != nil {
		budgetProfile = p
	}
	window := conversation.Truncate(history, c.Model, budgetProfile)
	if len(window) != len(history) {
		s.logger.Debug("history truncated",
			zap.String("conversation_id", c.ID),
			zap.Int("messages", len(history)),
			zap.String("kept", conversation.Describe(window)),
		)
	}
	prompt := llm.WithSystem(TherapySystemPrompt(p, ""), window)

	resp, err := s.provider.Chat(ctx, prompt, llm.WithModel(c.Model))
	if err != nil {
		return nil, fmt.Errorf("generate reply: %w", err)
	}

	msg, err := s.store.AddMessage(ctx, c.ID, llm.RoleAssistant, resp.Content)
	if err != nil {
		return nil, err
	}
	return &Reply{
		Message: *msg,
		Model:   resp.Model,
		Usage:   resp.Usage,
		Cost:    llm.EstimateCost(resp.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens),
	}, nil
}

// End summarizes the session, learns personal details from it and marks
// it completed. Model failures degrade to a fallback summary and no
// learned details.
func (s *Service) End(ctx context.Context, userID, conversationID string, req EndRequest) (*Conversation, error) {
	if err := validateMood(req.EndMood); err != nil {
		return nil, err
	}
	if req.Duration < 0 || req.Duration > MaxDuration {
		return nil, fmt.Errorf("%w: duration must be 0-%d seconds", ErrInvalidInput, MaxDuration)
	}

	c, err := s.active(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}
	if err := s.store.Transition(ctx, c.ID, StatusActive, StatusEnding); err != nil {
		return nil, err
	}
	ended := false
	defer func() {
		if !ended {
			s.reopen(ctx, c.ID)
		}
	}()

	stored, err := s.store.Messages(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	transcript := toLLM(stored)

	summary, summaryUsage := s.summarize(ctx, c, transcript)
	learned, extractUsage := s.extract(ctx, c, transcript)

	changes := []string{}
	if learned.Len() > 0 {
		changes, err = s.profiles.ApplyLearned(ctx, userID, learned)
		if err != nil {
			s.logger.Error("applying learned details failed",
				zap.String("conversation_id", c.ID), zap.Error(err))
			changes = []string{}
		}
	}
	if c.SessionType == SessionIntake {
		if err := s.profiles.MarkIntakeCompleted(ctx, userID); err != nil {
			s.logger.Error("marking intake completed failed",
				zap.String("user_id", userID), zap.Error(err))
		}
	}

	c.EndMood = req.EndMood
	c.Duration = req.Duration
	c.AISummary = summary.Summary
	c.IdentifiedPatterns = summary.Patterns
	c.FollowupSuggestions = summary.FollowupSuggestions
	c.LearnedDetails = details.Sanitize(learned)
	c.LearningChanges = changes
	// Record the results even when the client has gone away.
	if err := s.store.Complete(context.WithoutCancel(ctx), c); err != nil {
		return nil, err
	}
	ended = true
	c.Messages = stored

	s.logger.Info("session ended",
		zap.String("user_id", userID),
		zap.String("conversation_id", c.ID),
		zap.Int("messages", len(stored)),
		zap.Int("changes", len(changes)),
		zap.Int("tokens", summaryUsage.Add(extractUsage).TotalTokens),
	)

	if len(changes) > 0 {
		s.publish(ctx, TopicDetailsLearned, userID, DetailsLearned{
			ConversationID: c.ID,
			Changes:        changes,
		})
	}
	s.publish(ctx, TopicSessionEnded, userID, SessionEnded{
		ConversationID: c.ID,
		Summary:        c.AISummary,
		ChangeCount:    len(changes),
	})
	return c, nil
}

// List returns the caller's conversations, newest first, without messages.
func (s *Service) List(ctx context.Context, userID string) ([]Conversation, error) {
	return s.store.List(ctx, userID, 0)
}

// Recent returns the latest conversations. A limit of zero means
// DefaultRecent.
func (s *Service) Recent(ctx context.Context, userID string, limit int) ([]Conversation, error) {
	if limit == 0 {
		limit = DefaultRecent
	}
	if limit < 1 || limit > MaxRecent {
		return nil, fmt.Errorf("%w: limit must be 1-%d", ErrInvalidInput, MaxRecent)
	}
	return s.store.List(ctx, userID, limit)
}

// Get returns a conversation with its messages.
func (s *Service) Get(ctx context.Context, userID, conversationID string) (*Conversation, error) {
	c, err := s.store.Get(ctx, userID, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	if c.Messages, err = s.store.Messages(ctx, c.ID); err != nil {
		return nil, err
	}
	return c, nil
}

// Delete removes a conversation and its messages.
func (s *Service) Delete(ctx context.Context, userID, conversationID string) error {
	err := s.store.Delete(ctx, userID, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// EraseUser removes every conversation of userID. It satisfies auth.Eraser.
func (s *Service) EraseUser(ctx context.Context, userID string) error {
	n, err := s.store.DeleteUser(ctx, userID)
	if err != nil {
		return err
	}
	s.logger.Info("conversations erased", zap.String("user_id", userID), zap.Int64("count", n))
	return nil
}

// CountMessages returns the number of stored messages for userID.
func (s *Service) CountMessages(ctx context.Context, userID string) (int, error) {
	return s.store.CountMessages(ctx, userID)
}

func (s *Service) active(ctx context.Context, userID, conversationID string) (*Conversation, error) {
	c, err := s.store.Get(ctx, userID, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	if c.Status != StatusActive {
		return nil, ErrNotActive
	}
	return c, nil
}

// reopen puts a conversation whose end failed back to active so the user
// can retry.
func (s *Service) reopen(ctx context.Context, id string) {
	err := s.store.Transition(context.WithoutCancel(ctx), id, StatusEnding, StatusActive)
	if err != nil {
		s.logger.Error("reopening conversation after failed end",
			zap.String("conversation_id", id), zap.Error(err))
	}
}

func (s *Service) summarize(ctx context.Context, c *Conversation, transcript []llm.Message) (Summary, llm.Usage) {
	resp, err := s.provider.Chat(ctx, llm.WithSystem(SummaryPrompt, transcript),
		llm.WithModel(c.Model), llm.WithJSONResponse(),
		llm.WithTemperature(0.7), llm.WithMaxTokens(1000))
	if err != nil {
		s.logger.Error("summary generation failed",
			zap.String("conversation_id", c.ID), zap.Error(err))
		return fallbackSummary(), llm.Usage{}
	}

	var out Summary
	if err := json.Unmarshal([]byte(resp.Content), &out); err != nil || out.Summary == "" {
		s.logger.Error("summary response was not valid JSON",
			zap.String("conversation_id", c.ID), zap.Error(err))
		return fallbackSummary(), resp.Usage
	}
	return out, resp.Usage
}

func (s *Service) extract(ctx context.Context, c *Conversation, transcript []llm.Message) (details.Details, llm.Usage) {
	resp, err := s.provider.Chat(ctx, llm.WithSystem(ExtractionPrompt, transcript),
		llm.WithModel(c.Model), llm.WithJSONResponse(),
		llm.WithTemperature(0.3), llm.WithMaxTokens(2000))
	if err != nil {
		s.logger.Error("detail extraction failed",
			zap.String("conversation_id", c.ID), zap.Error(err))
		return details.Details{}, llm.Usage{}
	}
	d, err := details.Parse([]byte(resp.Content))
	if err != nil {
		s.logger.Error("extraction response was not valid JSON",
			zap.String("conversation_id", c.ID), zap.Error(err))
		return details.Details{}, resp.Usage
	}
	return d, resp.Usage
}

func (s *Service) profile(ctx context.Context, userID string) *profile.Profile {
	p, err := s.profiles.Get(ctx, userID)
	if err != nil {
		if !errors.Is(err, profile.ErrNotFound) {
			s.logger.Warn("loading profile failed", zap.String("user_id", userID), zap.Error(err))
		}
		return nil
	}
	return p
}

func (s *Service) lastSession(ctx context.Context, userID string) string {
	last, ok, err := s.store.LastCompletedAt(ctx, userID)
	if err != nil {
		s.logger.Warn("loading last session failed", zap.String("user_id", userID), zap.Error(err))
		return ""
	}
	if !ok {
		return ""
	}
	return SinceLastSession(last, s.now())
}

func (s *Service) publish(ctx context.Context, topic, userID string, payload any) {
	if s.events == nil {
		return
	}
	s.events.PublishAsync(context.WithoutCancel(ctx), event.Event{
		Topic:   topic,
		Source:  "journal",
		UserID:  userID,
		Payload: payload,
	})
}

func validateMood(m *int) error {
	if m != nil && (*m < 1 || *m > 10) {
		return fmt.Errorf("%w: mood must be 1-10", ErrInvalidInput)
	}
	return nil
}

func toLLM(msgs []Message) []llm.Message {
	out := make([]llm.Message, len(msgs))
	for i, m := range msgs {
		out[i] = llm.Message{Role: m.Role, Content: m.Content}
	}
	return out
}
