package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	DefaultIssuer     = "messenger-dashboard"
	DefaultAudience   = "messenger-dashboard-users"
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

// TokenConfig holds the signing material and lifetimes for a TokenService.
type TokenConfig struct {
	AccessSecret  []byte
	RefreshSecret []byte
	Issuer        string
	Audience      string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

// Claims is the payload of an access token.
type Claims struct {
	UserID      int64    `json:"userId"`
	Email       string   `json:"email"`
	RoleID      int      `json:"roleId"`
	Permissions []string `json:"permissions"`
	jwt.RegisteredClaims
}

type refreshClaims struct {
	UserID int64 `json:"userId"`
	jwt.RegisteredClaims
}

// TokenService issues and verifies HS256 access and refresh tokens.
// Access and refresh tokens are signed with different secrets.
type TokenService struct {
	cfg TokenConfig
	now func() time.Time
}

// NewTokenService validates cfg and fills in defaults.
func NewTokenService(cfg TokenConfig) (*TokenService, error) {
	if len(cfg.AccessSecret) == 0 || len(cfg.RefreshSecret) == 0 {
		return nil, errors.New("access and refresh secrets are required")
	}
	if string(cfg.AccessSecret) == string(cfg.RefreshSecret) {
		return nil, errors.New("access and refresh secrets must differ")
	}
	if cfg.Issuer == "" {
		cfg.Issuer = DefaultIssuer
	}
	if cfg.Audience == "" {
		cfg.Audience = DefaultAudience
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	return &TokenService{cfg: cfg, now: time.Now}, nil
}

// SetClock replaces the time source used for issuing and verifying.
func (s *TokenService) SetClock(now func() time.Time) {
	s.now = now
}

// AccessTTL is the lifetime of issued access tokens.
func (s *TokenService) AccessTTL() time.Duration { return s.cfg.AccessTTL }

// RefreshTTL is the lifetime of issued refresh tokens.
func (s *TokenService) RefreshTTL() time.Duration { return s.cfg.RefreshTTL }

func (s *TokenService) registered(userID int64, ttl time.Duration) (jwt.RegisteredClaims, time.Time) {
	now := s.now().UTC().Truncate(time.Second)
	exp := now.Add(ttl)
	return jwt.RegisteredClaims{
		Issuer:    s.cfg.Issuer,
		Subject:   strconv.FormatInt(userID, 10),
		Audience:  jwt.ClaimStrings{s.cfg.Audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}, exp
}

// IssueAccessToken signs an access token for the identity in c. Registered
// claims on c are overwritten.
func (s *TokenService) IssueAccessToken(c Claims) (string, time.Time, error) {
	reg, exp := s.registered(c.UserID, s.cfg.AccessTTL)
	c.RegisteredClaims = reg
	if c.Permissions == nil {
		c.Permissions = []string{}
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.cfg.AccessSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing access token: %w", err)
	}
	return signed, exp, nil
}

// IssueRefreshToken signs a refresh token carrying only the user id.
func (s *TokenService) IssueRefreshToken(userID int64) (string, time.Time, error) {
	reg, exp := s.registered(userID, s.cfg.RefreshTTL)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, refreshClaims{
		UserID:           userID,
		RegisteredClaims: reg,
	}).SignedString(s.cfg.RefreshSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing refresh token: %w", err)
	}
	return signed, exp, nil
}

// VerifyAccessToken checks signature, issuer, audience and expiry against
// the access secret and returns the claims.
func (s *TokenService) VerifyAccessToken(token string) (*Claims, error) {
	c := &Claims{}
	if err := s.parse(token, c, s.cfg.AccessSecret); err != nil {
		return nil, err
	}
	return c, nil
}

// VerifyRefreshToken is VerifyAccessToken for refresh tokens.
func (s *TokenService) VerifyRefreshToken(token string) (int64, error) {
	c := &refreshClaims{}
	if err := s.parse(token, c, s.cfg.RefreshSecret); err != nil {
		return 0, err
	}
	return c.UserID, nil
}

func (s *TokenService) parse(token string, claims jwt.Claims, secret []byte) error {
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithAudience(s.cfg.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return ErrInvalidToken
	}
	return nil
}
