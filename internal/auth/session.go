package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// TokenPair is handed out by login and refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"` // seconds
	User         *User  `json:"user,omitempty"`
}

// Refresh redeems a refresh token for a new pair. The redeemed token is
// revoked in the same transaction, so it works exactly once.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	rt, err := s.store.GetRefreshToken(ctx, HashToken(refreshToken))
	if err != nil {
		return nil, orSentinel(err, ErrInvalidToken, "lookup refresh token")
	}
	if rt.Revoked || !rt.ExpiresAt.After(s.now()) {
		return nil, ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, rt.UserID)
	if err != nil {
		return nil, orSentinel(err, ErrInvalidToken, "lookup user for refresh")
	}

	pair, err := s.openSession(ctx, user, rt.ID)
	if errors.Is(err, sql.ErrNoRows) {
		// Another request redeemed the same token first.
		return nil, ErrInvalidToken
	}
	return pair, err
}

// Logout revokes refreshToken. Unknown tokens are ignored.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	rt, err := s.store.GetRefreshToken(ctx, HashToken(refreshToken))
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup refresh token: %w", err)
	}
	return s.store.RevokeRefreshToken(ctx, rt.ID)
}

// openSession mints an access token and a stored refresh token for user.
// A non-empty redeemed names the refresh token this one replaces.
func (s *Service) openSession(ctx context.Context, user *User, redeemed string) (*TokenPair, error) {
	access, err := s.tokens.IssueAccessToken(user)
	if err != nil {
		return nil, err
	}
	refresh, err := s.tokens.NewRefreshToken()
	if err != nil {
		return nil, err
	}

	row := RefreshToken{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		TokenHash: refresh.Hash,
		ExpiresAt: refresh.ExpiresAt,
		CreatedAt: s.now(),
	}
	if redeemed == "" {
		err = s.store.SaveRefreshToken(ctx, row)
	} else {
		err = s.store.RotateRefreshToken(ctx, redeemed, row)
	}
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh.Raw,
		ExpiresIn:    int(s.tokens.AccessTokenTTL().Seconds()),
	}, nil
}
