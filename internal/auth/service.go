package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Errors returned by Service.
var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrAccountLocked      = errors.New("account temporarily locked")
	ErrUserExists         = errors.New("username already exists")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrUserNotFound       = errors.New("user not found")
	ErrWrongPassword      = errors.New("current password is incorrect")
)

// Lockout defaults.
const (
	DefaultMaxFailedLogins = 5
	DefaultLockoutDuration = 15 * time.Minute
)

// LockoutPolicy sets how many consecutive failed logins lock an account
// and for how long. Zero fields take the defaults.
type LockoutPolicy struct {
	MaxAttempts int
	Duration    time.Duration
}

func (p LockoutPolicy) withDefaults() LockoutPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxFailedLogins
	}
	if p.Duration <= 0 {
		p.Duration = DefaultLockoutDuration
	}
	return p
}

// Eraser clears the data a component holds for one user. Account deletion
// runs every registered Eraser before dropping the account.
type Eraser interface {
	EraseUser(ctx context.Context, userID string) error
}

// Service implements accounts, logins and refresh sessions.
type Service struct {
	store   *UserStore
	tokens  *TokenService
	lockout LockoutPolicy
	erasers []Eraser
	logger  *zap.Logger
	now     func() time.Time
}

// NewService returns a Service backed by store.
func NewService(store *UserStore, tokens *TokenService, lockout LockoutPolicy, logger *zap.Logger) *Service {
	return &Service{
		store:   store,
		tokens:  tokens,
		lockout: lockout.withDefaults(),
		logger:  logger,
		now:     time.Now,
	}
}

// Tokens exposes the token service to the middleware.
func (s *Service) Tokens() *TokenService { return s.tokens }

// AddEraser registers a component to clear on account deletion.
func (s *Service) AddEraser(e Eraser) {
	s.erasers = append(s.erasers, e)
}

// orSentinel turns sql.ErrNoRows into sentinel and annotates anything else
// with op.
func orSentinel(err, sentinel error, op string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return sentinel
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Register validates and stores a new account.
func (s *Service) Register(ctx context.Context, username, password string) (*User, error) {
	for _, err := range []error{ValidateUsername(username), ValidatePassword(password)} {
		if err != nil {
			return nil, err
		}
	}

	switch _, err := s.store.GetUserByUsername(ctx, username); {
	case err == nil:
		return nil, ErrUserExists
	case !errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	hash, err := HashPassword(password, 0)
	if err != nil {
		return nil, err
	}
	user := &User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: hash,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	s.logger.Info("user registered", zap.String("user_id", user.ID))
	return user, nil
}

// decoyHash is compared against when the username is unknown so a miss
// costs the same as a wrong password.
var decoyHash = sync.OnceValue(func() string {
	h, _ := HashPassword("decoy-password-for-unknown-users", 0)
	return h
})

// Login checks credentials and opens a refresh session. Each failure
// counts towards the lockout policy.
func (s *Service) Login(ctx context.Context, username, password string) (*TokenPair, error) {
	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			CheckPassword(decoyHash(), password)
		}
		return nil, orSentinel(err, ErrInvalidCredentials, "lookup user")
	}

	now := s.now()
	if user.Locked(now) {
		return nil, ErrAccountLocked
	}
	if !CheckPassword(user.PasswordHash, password) {
		return nil, s.loginFailed(ctx, user, now)
	}

	if err := s.store.RecordLoginSuccess(ctx, user.ID, now); err != nil {
		return nil, fmt.Errorf("record login: %w", err)
	}
	s.purgeStaleTokens(ctx, user.ID, now)

	pair, err := s.openSession(ctx, user, "")
	if err != nil {
		return nil, err
	}
	user.LastLogin = now.UTC()
	pair.User = user
	s.logger.Info("user logged in", zap.String("user_id", user.ID))
	return pair, nil
}

func (s *Service) loginFailed(ctx context.Context, user *User, now time.Time) error {
	attempts, locked, err := s.store.RecordLoginFailure(ctx, user.ID,
		s.lockout.MaxAttempts, now.Add(s.lockout.Duration))
	if err != nil {
		return err
	}
	if !locked {
		return ErrInvalidCredentials
	}
	s.logger.Warn("account locked after failed logins",
		zap.String("user_id", user.ID), zap.Int("attempts", attempts))
	return ErrAccountLocked
}

// purgeStaleTokens drops the user's revoked and expired refresh tokens.
// Failure only costs disk space, so it is logged and ignored.
func (s *Service) purgeStaleTokens(ctx context.Context, userID string, now time.Time) {
	n, err := s.store.PurgeRefreshTokens(ctx, userID, now)
	switch {
	case err != nil:
		s.logger.Warn("purging stale refresh tokens failed", zap.String("user_id", userID), zap.Error(err))
	case n > 0:
		s.logger.Debug("purged stale refresh tokens", zap.String("user_id", userID), zap.Int64("count", n))
	}
}
