package auth

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/HerbHall/counsellor/internal/store"
)

// UserStore persists accounts and hashed refresh tokens.
type UserStore struct {
	sqlite *store.SQLiteStore
	db     *sql.DB
}

func NewUserStore(ctx context.Context, db *store.SQLiteStore) (*UserStore, error) {
	if err := db.Migrate(ctx, "auth", migrations); err != nil {
		return nil, fmt.Errorf("auth migrations: %w", err)
	}
	return &UserStore{sqlite: db, db: db.DB()}, nil
}

func (s *UserStore) CreateUser(ctx context.Context, u *User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		u.ID, u.Username, u.PasswordHash, u.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// GetUserByID returns sql.ErrNoRows for an unknown id.
func (s *UserStore) GetUserByID(ctx context.Context, id string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

// GetUserByUsername matches usernames case-insensitively.
func (s *UserStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = ? COLLATE NOCASE`, username))
}

func (s *UserStore) UpdatePassword(ctx context.Context, userID, hash string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE users SET password_hash = ? WHERE id = ?`, hash, userID); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

// RecordLoginFailure bumps the failure counter and, once it reaches
// maxAttempts, locks the account until lockUntil.
func (s *UserStore) RecordLoginFailure(ctx context.Context, userID string, maxAttempts int, lockUntil time.Time) (attempts int, locked bool, err error) {
	err = s.sqlite.Tx(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx,
			`UPDATE users SET failed_login_attempts = failed_login_attempts + 1
			 WHERE id = ? RETURNING failed_login_attempts`, userID).Scan(&attempts); err != nil {
			return err
		}
		if attempts < maxAttempts {
			return nil
		}
		locked = true
		_, err := tx.ExecContext(ctx, `UPDATE users SET locked_until = ? WHERE id = ?`, lockUntil.UTC(), userID)
		return err
	})
	if err != nil {
		return 0, false, fmt.Errorf("record failed login: %w", err)
	}
	return attempts, locked, nil
}

// RecordLoginSuccess clears any lockout state and stamps last_login.
func (s *UserStore) RecordLoginSuccess(ctx context.Context, userID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET failed_login_attempts = 0, locked_until = NULL, last_login = ? WHERE id = ?`,
		at.UTC(), userID)
	return err
}

// DeleteUser removes the account. Refresh tokens cascade.
func (s *UserStore) DeleteUser(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// RefreshToken is a stored refresh token. Only the hash is kept.
type RefreshToken struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
	Revoked   bool
}

func (s *UserStore) SaveRefreshToken(ctx context.Context, rt RefreshToken) error {
	return insertRefreshToken(ctx, s.db, rt)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertRefreshToken(ctx context.Context, db execer, rt RefreshToken) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at, created_at) VALUES (?, ?, ?, ?, ?)`,
		rt.ID, rt.UserID, rt.TokenHash, rt.ExpiresAt.UTC(), rt.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("save refresh token: %w", err)
	}
	return nil
}

// GetRefreshToken looks a token up by hash.
func (s *UserStore) GetRefreshToken(ctx context.Context, tokenHash string) (*RefreshToken, error) {
	var rt RefreshToken
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, token_hash, expires_at, created_at, revoked FROM refresh_tokens WHERE token_hash = ?`,
		tokenHash,
	).Scan(&rt.ID, &rt.UserID, &rt.TokenHash, &rt.ExpiresAt, &rt.CreatedAt, &rt.Revoked)
	if err != nil {
		return nil, err
	}
	return &rt, nil
}

// RotateRefreshToken revokes oldID and stores next atomically. It returns
// sql.ErrNoRows when oldID was already revoked, so a token can be redeemed
// at most once.
func (s *UserStore) RotateRefreshToken(ctx context.Context, oldID string, next RefreshToken) error {
	return s.sqlite.Tx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE refresh_tokens SET revoked = 1 WHERE id = ? AND revoked = 0`, oldID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return sql.ErrNoRows
		}
		return insertRefreshToken(ctx, tx, next)
	})
}

func (s *UserStore) RevokeRefreshToken(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_tokens SET revoked = 1 WHERE id = ?`, id)
	return err
}

func (s *UserStore) RevokeUserRefreshTokens(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_tokens SET revoked = 1 WHERE user_id = ?`, userID)
	return err
}

// PurgeRefreshTokens deletes the user's expired and revoked tokens.
func (s *UserStore) PurgeRefreshTokens(ctx context.Context, userID string, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM refresh_tokens WHERE user_id = ? AND (expires_at < ? OR revoked = 1)`,
		userID, now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const userColumns = `id, username, password_hash, created_at, last_login, failed_login_attempts, locked_until`

func scanUser(row *sql.Row) (*User, error) {
	var (
		u           User
		lastLogin   sql.NullTime
		lockedUntil sql.NullTime
	)
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt, &lastLogin,
		&u.FailedLoginAttempts, &lockedUntil); err != nil {
		return nil, err
	}
	u.LastLogin = lastLogin.Time
	if lockedUntil.Valid {
		u.LockedUntil = &lockedUntil.Time
	}
	return &u, nil
}

var migrations = []store.Migration{
	{
		Version:     1,
		Description: "create users and refresh_tokens",
		Up: func(tx *sql.Tx) error {
			for _, stmt := range []string{
				`CREATE TABLE users (
					id                    TEXT PRIMARY KEY,
					username              TEXT NOT NULL UNIQUE COLLATE NOCASE,
					password_hash         TEXT NOT NULL,
					created_at            DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
					last_login            DATETIME,
					failed_login_attempts INTEGER NOT NULL DEFAULT 0,
					locked_until          DATETIME
				)`,
				`CREATE TABLE refresh_tokens (
					id         TEXT PRIMARY KEY,
					user_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					token_hash TEXT NOT NULL UNIQUE,
					expires_at DATETIME NOT NULL,
					created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
					revoked    INTEGER NOT NULL DEFAULT 0
				)`,
				`CREATE INDEX idx_refresh_tokens_user ON refresh_tokens(user_id)`,
			} {
				if _, err := tx.Exec(stmt); err != nil {
					return err
				}
			}
			return nil
		},
	},
}
