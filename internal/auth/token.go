package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Issuer and Audience are stamped into every access token and required on
// validation.
const (
	Issuer   = "counsellor"
	Audience = "counsellor-api"
)

var (
	ErrTokenExpired = errors.New("access token expired")
	ErrTokenInvalid = errors.New("access token invalid")
)

// Claims is the access token payload.
type Claims struct {
	jwt.RegisteredClaims
	UserID   string `json:"uid"`
	Username string `json:"usr"`
}

// IssuedRefreshToken is a new opaque refresh token. Raw goes to the client;
// only Hash is persisted.
type IssuedRefreshToken struct {
	Raw       string
	Hash      string
	ExpiresAt time.Time
}

// TokenService signs HS256 access tokens and mints refresh tokens.
type TokenService struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

func NewTokenService(secret []byte, accessTTL, refreshTTL time.Duration) *TokenService {
	return &TokenService{
		secret:     secret,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

// IssueAccessToken signs a token for user that expires after the access TTL.
func (s *TokenService) IssueAccessToken(user *User) (string, error) {
	now := s.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   user.ID,
			Issuer:    Issuer,
			Audience:  jwt.ClaimStrings{Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
		},
		UserID:   user.ID,
		Username: user.Username,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// ValidateAccessToken verifies signature, issuer, audience and expiry. The
// error wraps ErrTokenExpired or ErrTokenInvalid.
func (s *TokenService) ValidateAccessToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithAudience(Audience),
		jwt.WithTimeFunc(s.now),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	case claims.UserID == "" || claims.UserID != claims.Subject:
		return nil, fmt.Errorf("%w: subject mismatch", ErrTokenInvalid)
	}
	return claims, nil
}

// NewRefreshToken mints a random 256-bit refresh token.
func (s *TokenService) NewRefreshToken() (IssuedRefreshToken, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return IssuedRefreshToken{}, fmt.Errorf("generate refresh token: %w", err)
	}
	raw := hex.EncodeToString(b)
	return IssuedRefreshToken{
		Raw:       raw,
		Hash:      HashToken(raw),
		ExpiresAt: s.now().Add(s.refreshTTL),
	}, nil
}

func (s *TokenService) RefreshTokenTTL() time.Duration { return s.refreshTTL }
func (s *TokenService) AccessTokenTTL() time.Duration  { return s.accessTTL }

// HashToken returns the hex SHA-256 of token. Refresh tokens are looked up
// by this value.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}
