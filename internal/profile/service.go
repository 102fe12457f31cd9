package profile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/HerbHall/counsellor/internal/details"
	"go.uber.org/zap"
)

var (
	// ErrNotFound is returned when a user has no profile yet.
	ErrNotFound = errors.New("profile not found")
	// ErrInvalidInput wraps validation failures.
	ErrInvalidInput = errors.New("invalid profile input")
)

const (
	maxNameLength  = 100
	maxFieldLength = 100
)

// Service manages profiles and the learned personal details.
type Service struct {
	store  *ProfileStore
	merger details.Merger
	logger *zap.Logger

	// mu serializes read-modify-write cycles on personal details.
	mu sync.Mutex
}

// NewService creates a profile Service.
func NewService(store *ProfileStore, logger *zap.Logger) *Service {
	s := &Service{store: store, logger: logger}
	s.merger = details.Merger{
		OnMismatch: func(c details.Category, field string, existing, incoming details.Kind) {
			logger.Warn("skipped learned detail with mismatched shape",
				zap.String("category", string(c)),
				zap.String("field", field),
				zap.Stringer("stored", existing),
				zap.Stringer("incoming", incoming),
			)
		},
	}
	return s
}

// Get returns the profile for userID.
func (s *Service) Get(ctx context.Context, userID string) (*Profile, error) {
	p, err := s.store.Get(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return p, nil
}

// Upsert creates or replaces the intake sections of a profile. Learned
// personal details and the intake flag are kept from the stored profile.
func (s *Service) Upsert(ctx context.Context, userID string, in *Profile) (*Profile, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if utf8.RuneCountInString(in.Name) > maxNameLength {
		return nil, fmt.Errorf("%w: name must be at most %d characters", ErrInvalidInput, maxNameLength)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.store.Get(ctx, userID)
	switch {
	case err == nil:
		in.PersonalDetails = existing.PersonalDetails
		in.IntakeCompleted = existing.IntakeCompleted || in.IntakeCompleted
		in.CreatedAt = existing.CreatedAt
	case errors.Is(err, sql.ErrNoRows):
		in.PersonalDetails = details.Details{}
	default:
		return nil, fmt.Errorf("load profile: %w", err)
	}

	if err := s.store.Save(ctx, userID, in); err != nil {
		return nil, err
	}
	s.logger.Info("profile saved", zap.String("user_id", userID))
	return in, nil
}

// GetDetails returns the learned personal details. A user without a
// profile has no details.
func (s *Service) GetDetails(ctx context.Context, userID string) (details.Details, error) {
	p, err := s.store.Get(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return details.Details{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get details: %w", err)
	}
	return p.PersonalDetails, nil
}

// SetDetailField stores a manually edited detail, replacing whatever was
// there. Blocklisted field names are rejected.
func (s *Service) SetDetailField(ctx context.Context, userID, category, field string, v details.Value) (details.Details, error) {
	c, err := details.ParseCategory(category)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	field = strings.TrimSpace(field)
	if field == "" || utf8.RuneCountInString(field) > maxFieldLength {
		return nil, fmt.Errorf("%w: field must be 1-%d characters", ErrInvalidInput, maxFieldLength)
	}
	if details.IsSensitiveField(field) {
		return nil, fmt.Errorf("%w: field %q cannot be stored", ErrInvalidInput, field)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.loadOrEmpty(ctx, userID)
	if err != nil {
		return nil, err
	}
	p.PersonalDetails.Set(c, field, v)
	if err := s.store.Save(ctx, userID, p); err != nil {
		return nil, err
	}
	return p.PersonalDetails, nil
}

// ApplyLearned sanitizes incoming, merges it into the stored details and
// persists the result. It returns a description of every change.
func (s *Service) ApplyLearned(ctx context.Context, userID string, incoming details.Details) ([]string, error) {
	clean := details.Sanitize(incoming)
	if clean.Len() == 0 {
		return []string{}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.loadOrEmpty(ctx, userID)
	if err != nil {
		return nil, err
	}
	res := s.merger.Merge(p.PersonalDetails, clean)
	if len(res.Changes) == 0 {
		return res.Changes, nil
	}
	p.PersonalDetails = res.Merged
	if err := s.store.Save(ctx, userID, p); err != nil {
		return nil, err
	}
	s.logger.Info("learned details applied",
		zap.String("user_id", userID),
		zap.Int("changes", len(res.Changes)),
	)
	return res.Changes, nil
}

// MarkIntakeCompleted flags the intake conversation as done.
func (s *Service) MarkIntakeCompleted(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.loadOrEmpty(ctx, userID)
	if err != nil {
		return err
	}
	if p.IntakeCompleted {
		return nil
	}
	p.IntakeCompleted = true
	return s.store.Save(ctx, userID, p)
}

// EraseUser removes the user's profile. It satisfies auth.Eraser.
func (s *Service) EraseUser(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Delete(ctx, userID)
}

func (s *Service) loadOrEmpty(ctx context.Context, userID string) (*Profile, error) {
	p, err := s.store.Get(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		p = &Profile{}
		p.normalize()
		return p, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	return p, nil
}
