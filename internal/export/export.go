// Package export renders everything stored about a user in portable
// formats and erases it on request.
package export

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/HerbHall/counsellor/internal/journal"
	"github.com/HerbHall/counsellor/internal/profile"
	"go.uber.org/zap"
)

// FormatVersion is written into every export document.
const FormatVersion = "1.0"

// DeleteConfirmation must be sent verbatim to erase all data.
const DeleteConfirmation = "DELETE_ALL_MY_DATA"

// ErrConfirmation is returned when a delete request is not confirmed.
var ErrConfirmation = errors.New(`confirmation must be "` + DeleteConfirmation + `"`)

// Profiles reads and erases profiles.
type Profiles interface {
	Get(ctx context.Context, userID string) (*profile.Profile, error)
	EraseUser(ctx context.Context, userID string) error
}

// Sessions reads and erases conversations.
type Sessions interface {
	List(ctx context.Context, userID string) ([]journal.Conversation, error)
	Get(ctx context.Context, userID, conversationID string) (*journal.Conversation, error)
	EraseUser(ctx context.Context, userID string) error
}

// Document is the full export of one user's data.
type Document struct {
	ExportDate    time.Time              `json:"exportDate"`
	Version       string                 `json:"version"`
	Profile       *profile.Profile       `json:"profile"`
	Conversations []journal.Conversation `json:"conversations"`
	Statistics    Statistics             `json:"statistics"`
}

// Statistics summarizes the exported conversations.
type Statistics struct {
	TotalConversations int        `json:"totalConversations"`
	TotalMessages      int        `json:"totalMessages"`
	FirstSession       *time.Time `json:"firstSession"`
	LastSession        *time.Time `json:"lastSession"`
}

// Service builds exports and erases user data.
type Service struct {
	profiles Profiles
	sessions Sessions
	logger   *zap.Logger
	now      func() time.Time
}

// NewService creates an export Service.
func NewService(profiles Profiles, sessions Sessions, logger *zap.Logger) *Service {
	return &Service{profiles: profiles, sessions: sessions, logger: logger, now: time.Now}
}

// Build collects the user's profile and every conversation with messages.
func (s *Service) Build(ctx context.Context, userID string) (*Document, error) {
	p, err := s.profiles.Get(ctx, userID)
	if err != nil && !errors.Is(err, profile.ErrNotFound) {
		return nil, fmt.Errorf("load profile: %w", err)
	}

	list, err := s.sessions.List(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	convs := make([]journal.Conversation, 0, len(list))
	for _, c := range list {
		full, err := s.sessions.Get(ctx, userID, c.ID)
		if err != nil {
			return nil, fmt.Errorf("load conversation %s: %w", c.ID, err)
		}
		if full.Messages == nil {
			full.Messages = []journal.Message{}
		}
		convs = append(convs, *full)
	}

	return &Document{
		ExportDate:    s.now().UTC(),
		Version:       FormatVersion,
		Profile:       p,
		Conversations: convs,
		Statistics:    statistics(convs),
	}, nil
}

// DeleteAll erases every conversation and the profile of userID. It
// returns the number of conversations removed.
func (s *Service) DeleteAll(ctx context.Context, userID, confirmation string) (int, error) {
	if confirmation != DeleteConfirmation {
		return 0, ErrConfirmation
	}
	list, err := s.sessions.List(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("list conversations: %w", err)
	}
	if err := s.sessions.EraseUser(ctx, userID); err != nil {
		return 0, fmt.Errorf("erase conversations: %w", err)
	}
	if err := s.profiles.EraseUser(ctx, userID); err != nil {
		return 0, fmt.Errorf("erase profile: %w", err)
	}
	s.logger.Warn("all user data deleted on request",
		zap.String("user_id", userID),
		zap.Int("conversations", len(list)),
	)
	return len(list), nil
}

// statistics expects convs newest first.
func statistics(convs []journal.Conversation) Statistics {
	st := Statistics{TotalConversations: len(convs)}
	for _, c := range convs {
		st.TotalMessages += len(c.Messages)
	}
	if len(convs) > 0 {
		first := convs[len(convs)-1].CreatedAt
		last := convs[0].CreatedAt
		st.FirstSession = &first
		st.LastSession = &last
	}
	return st
}
