package auth

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"time"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
)

// Username and password bounds, in characters.
const (
	minUsernameLen = 3
	maxUsernameLen = 50
	minPasswordLen = 8
	maxPasswordLen = 100
)

// bcryptMaxInput is the most input bcrypt accepts, in bytes.
const bcryptMaxInput = 72

// ErrInvalidInput marks username or password validation failures.
var ErrInvalidInput = errors.New("invalid input")

var usernameChars = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// User is a stored account. Credential and lockout state never leave the
// server.
type User struct {
	ID                  string     `json:"id"`
	Username            string     `json:"username"`
	PasswordHash        string     `json:"-"`
	CreatedAt           time.Time  `json:"created_at"`
	LastLogin           time.Time  `json:"last_login,omitempty"`
	FailedLoginAttempts int        `json:"-"`
	LockedUntil         *time.Time `json:"-"`
}

// Locked reports whether a lockout is in force at now.
func (u *User) Locked(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}

// bcryptInput returns the bytes fed to bcrypt. Passwords past bcrypt's
// input limit are digested first so every character counts.
func bcryptInput(password string) []byte {
	if len(password) <= bcryptMaxInput {
		return []byte(password)
	}
	sum := sha256.Sum256([]byte(password))
	return []byte(base64.StdEncoding.EncodeToString(sum[:]))
}

// HashPassword hashes password with bcrypt. A zero cost means
// bcrypt.DefaultCost.
func HashPassword(password string, cost int) (string, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword(bcryptInput(password), cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), bcryptInput(password)) == nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidInput}, args...)...)
}

// ValidateUsername enforces the length bounds and the
// letters/digits/underscore/hyphen alphabet.
func ValidateUsername(username string) error {
	if n := utf8.RuneCountInString(username); n < minUsernameLen || n > maxUsernameLen {
		return invalid("username must be between %d and %d characters", minUsernameLen, maxUsernameLen)
	}
	if !usernameChars.MatchString(username) {
		return invalid("username can only contain letters, numbers, underscores, and hyphens")
	}
	return nil
}

// ValidatePassword enforces the password length bounds.
func ValidatePassword(password string) error {
	switch n := utf8.RuneCountInString(password); {
	case n < minPasswordLen:
		return invalid("password must be at least %d characters", minPasswordLen)
	case n > maxPasswordLen:
		return invalid("password must be at most %d characters", maxPasswordLen)
	}
	return nil
}
