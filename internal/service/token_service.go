package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hhottdogg/community/internal/models"
	"github.com/hhottdogg/community/internal/repository"
	"github.com/sirupsen/logrus"
)

// SessionStore is implemented by repository.SessionRepository.
type SessionStore interface {
	LoadTokens(ctx context.Context) (*models.TokenSet, error)
	SaveTokens(ctx context.Context, tokens models.TokenSet) error
	ClearTokens(ctx context.Context) error
	LegacyToken(ctx context.Context, key string) string
	LoadProfile(ctx context.Context) (*models.UserProfile, error)
	SaveProfile(ctx context.Context, profile models.UserProfile) error
	ClearProfile(ctx context.Context) error
}

// TokenService selects the bearer credential for outbound requests.
type TokenService struct {
	sessions SessionStore
	now      func() time.Time
	logger   *logrus.Logger
}

func NewTokenService(sessions SessionStore, logger *logrus.Logger) *TokenService {
	return &TokenService{
		sessions: sessions,
		now:      time.Now,
		logger:   logger,
	}
}

// Token returns the access token, then the id token, then the legacy flattened
// keys in the same order. It returns "" when nothing usable is stored.
func (s *TokenService) Token(ctx context.Context) string {
	tokens, err := s.sessions.LoadTokens(ctx)
	if err != nil {
		s.logger.WithError(err).Debug("Failed to read session tokens")
	}
	if bearer := tokens.Bearer(); bearer != "" {
		return bearer
	}

	if v := s.sessions.LegacyToken(ctx, repository.KeyAccessToken); v != "" {
		return v
	}
	return s.sessions.LegacyToken(ctx, repository.KeyIDToken)
}

// AuthHeaders builds the default JSON + bearer headers. Values in extra replace defaults.
func (s *TokenService) AuthHeaders(ctx context.Context, extra http.Header) http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")

	if token := s.Token(ctx); token != "" {
		h.Set("Authorization", "Bearer "+token)
	}

	for k, values := range extra {
		h.Del(k)
		for _, v := range values {
			h.Add(k, v)
		}
	}

	return h
}

// IsValid reports whether a token is present and not expired.
func (s *TokenService) IsValid(ctx context.Context) bool {
	token := s.Token(ctx)
	if token == "" {
		return false
	}
	return !IsTokenExpired(token, s.now())
}

// ClearExpired drops the whole session regardless of expiry.
func (s *TokenService) ClearExpired(ctx context.Context) {
	if err := s.sessions.ClearTokens(ctx); err != nil {
		s.logger.WithError(err).Warn("Failed to clear session tokens")
	}
	if err := s.sessions.ClearProfile(ctx); err != nil {
		s.logger.WithError(err).Warn("Failed to clear current user")
	}
}

// DecodeToken returns the payload claims of a JWT without looking at the
// header or signature, or nil for malformed input. Padded payloads are accepted.
func DecodeToken(token string) jwt.MapClaims {
	parts := strings.Split(token, ".")
	if len(parts) < 2 {
		return nil
	}

	payload, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[1], "="))
	if err != nil {
		return nil
	}

	var claims jwt.MapClaims
	if err := json.Unmarshal(payload, &claims); err != nil || claims == nil {
		return nil
	}
	return claims
}

// IsTokenExpired fails closed on undecodable tokens. A decodable token without
// an exp claim is treated as live.
func IsTokenExpired(token string, now time.Time) bool {
	claims := DecodeToken(token)
	if claims == nil {
		return true
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return true
	}
	if exp == nil {
		return false
	}

	return exp.Unix() < now.Unix()
}

func stringClaim(claims jwt.MapClaims, name string) string {
	if claims == nil {
		return ""
	}
	v, _ := claims[name].(string)
	return v
}

func firstClaim(name string, sets ...jwt.MapClaims) string {
	for _, claims := range sets {
		if v := stringClaim(claims, name); v != "" {
			return v
		}
	}
	return ""
}
