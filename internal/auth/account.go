package auth

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// GetUser returns the account with id, or ErrUserNotFound.
func (s *Service) GetUser(ctx context.Context, id string) (*User, error) {
	user, err := s.store.GetUserByID(ctx, id)
	if err != nil {
		return nil, orSentinel(err, ErrUserNotFound, "lookup user")
	}
	return user, nil
}

// ChangePassword replaces the password after checking the current one.
// Every refresh session of the user ends.
func (s *Service) ChangePassword(ctx context.Context, userID, current, next string) error {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if !CheckPassword(user.PasswordHash, current) {
		return ErrWrongPassword
	}
	if err := ValidatePassword(next); err != nil {
		return err
	}

	hash, err := HashPassword(next, 0)
	if err != nil {
		return err
	}
	if err := s.store.UpdatePassword(ctx, userID, hash); err != nil {
		return err
	}
	if err := s.store.RevokeUserRefreshTokens(ctx, userID); err != nil {
		return fmt.Errorf("revoke refresh tokens: %w", err)
	}
	s.logger.Info("password changed", zap.String("user_id", userID))
	return nil
}

// DeleteAccount erases the user's data from every registered Eraser, then
// the account. An Eraser failure leaves the account in place.
func (s *Service) DeleteAccount(ctx context.Context, userID string) error {
	for _, e := range s.erasers {
		if err := e.EraseUser(ctx, userID); err != nil {
			return fmt.Errorf("erase user data: %w", err)
		}
	}
	if err := s.store.DeleteUser(ctx, userID); err != nil {
		return orSentinel(err, ErrUserNotFound, "delete user")
	}
	s.logger.Info("account deleted", zap.String("user_id", userID))
	return nil
}
