package service

import (
	"context"
	"sync"

	apperrors "github.com/hhottdogg/community/internal/errors"
	"github.com/hhottdogg/community/internal/metrics"
	"github.com/hhottdogg/community/internal/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// IdentityProvider performs the credential exchanges against the user pool.
type IdentityProvider interface {
	Authenticate(ctx context.Context, username, password string) (*models.TokenSet, error)
	Refresh(ctx context.Context, username, refreshToken string) (*models.TokenSet, error)
	SignOut(ctx context.Context, tokens models.TokenSet) error
}

// CodeExchanger is implemented by providers that support the authorization-code flow.
type CodeExchanger interface {
	ExchangeCode(ctx context.Context, code, verifier string) (*models.TokenSet, error)
}

// AuthorizationURLBuilder is implemented by providers with a hosted login page.
type AuthorizationURLBuilder interface {
	AuthCodeURL(state, verifier string) string
}

// UsernameLookup maps a human-entered identifier to the pool's username.
type UsernameLookup interface {
	Resolve(ctx context.Context, identifier string) string
}

type State int32

const (
	StateAnonymous State = iota
	StateAuthenticating
	StateAuthenticated
	StateRefreshing
)

func (s State) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateRefreshing:
		return "refreshing"
	default:
		return "unknown"
	}
}

const refreshFlightKey = "refresh"

// AuthService is the only writer of the session. Concurrent Refresh calls
// share a single provider round trip.
type AuthService struct {
	provider IdentityProvider
	sessions SessionStore
	resolver UsernameLookup
	metrics  metrics.MetricsCollector
	logger   *logrus.Logger

	mu      sync.Mutex
	state   State
	flights singleflight.Group
}

func NewAuthService(
	provider IdentityProvider,
	sessions SessionStore,
	resolver UsernameLookup,
	collector metrics.MetricsCollector,
	logger *logrus.Logger,
) *AuthService {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &AuthService{
		provider: provider,
		sessions: sessions,
		resolver: resolver,
		metrics:  collector,
		logger:   logger,
		state:    StateAnonymous,
	}
}

// Restore picks up a session persisted by a previous process.
func (s *AuthService) Restore(ctx context.Context) State {
	tokens, err := s.sessions.LoadTokens(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to restore session")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !tokens.IsEmpty() {
		s.state = StateAuthenticated
	}
	return s.state
}

func (s *AuthService) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *AuthService) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *AuthService) begin(next State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateAuthenticating || s.state == StateRefreshing {
		return false
	}
	s.state = next
	return true
}

func (s *AuthService) Login(ctx context.Context, identifier, password string) (*models.LoginResult, error) {
	if !s.begin(StateAuthenticating) {
		return nil, apperrors.ErrAuthInProgress
	}

	username := identifier
	if s.resolver != nil {
		username = s.resolver.Resolve(ctx, identifier)
	}

	tokens, err := s.provider.Authenticate(ctx, username, password)
	if err != nil {
		s.setState(StateAnonymous)
		s.logger.WithError(err).WithFields(logrus.Fields{
			"username": username,
			"code":     apperrors.CodeOf(err),
		}).Warn("Login rejected")
		return nil, err
	}

	return s.establish(ctx, username, tokens)
}

// Authorize starts an authorization-code login. The caller keeps the state
// and verifier and hands the verifier back to ExchangeCode.
func (s *AuthService) Authorize() (*models.AuthorizeRequest, error) {
	builder, ok := s.provider.(AuthorizationURLBuilder)
	if !ok {
		return nil, apperrors.ErrUnsupported
	}

	state := uuid.NewString()
	verifier := oauth2.GenerateVerifier()
	return &models.AuthorizeRequest{
		URL:          builder.AuthCodeURL(state, verifier),
		State:        state,
		CodeVerifier: verifier,
	}, nil
}

// ExchangeCode completes an authorization-code login.
func (s *AuthService) ExchangeCode(ctx context.Context, code, verifier string) (*models.LoginResult, error) {
	exchanger, ok := s.provider.(CodeExchanger)
	if !ok {
		return nil, apperrors.ErrUnsupported
	}
	if !s.begin(StateAuthenticating) {
		return nil, apperrors.ErrAuthInProgress
	}

	tokens, err := exchanger.ExchangeCode(ctx, code, verifier)
	if err != nil {
		s.setState(StateAnonymous)
		s.logger.WithError(err).Warn("Authorization code exchange failed")
		return nil, err
	}

	return s.establish(ctx, "", tokens)
}

func (s *AuthService) establish(ctx context.Context, username string, tokens *models.TokenSet) (*models.LoginResult, error) {
	profile := profileFromTokens(username, tokens)

	if err := s.sessions.SaveTokens(ctx, *tokens); err != nil {
		s.setState(StateAnonymous)
		return nil, apperrors.Wrapf(err, "failed to persist session")
	}
	if err := s.sessions.SaveProfile(ctx, profile); err != nil {
		s.setState(StateAnonymous)
		return nil, apperrors.Wrapf(err, "failed to persist current user")
	}

	s.setState(StateAuthenticated)
	s.logger.WithField("username", profile.Username).Info("Logged in")

	return &models.LoginResult{User: profile, Tokens: *tokens}, nil
}

// profileFromTokens derives the profile from the id token, falling back to the
// access token's claims. Username doubles as the refresh session handle, so it
// falls back to sub for issuers that publish no username claim.
func profileFromTokens(username string, tokens *models.TokenSet) models.UserProfile {
	idClaims := DecodeToken(tokens.IDToken)
	accessClaims := DecodeToken(tokens.AccessToken)

	if claimed := stringClaim(idClaims, "cognito:username"); claimed != "" {
		username = claimed
	}
	if username == "" {
		username = firstClaim("username", idClaims, accessClaims)
	}
	sub := firstClaim("sub", idClaims, accessClaims)
	if username == "" {
		username = sub
	}

	name := stringClaim(idClaims, "name")
	if name == "" {
		name = username
	}

	return models.UserProfile{
		Username: username,
		Email:    firstClaim("email", idClaims, accessClaims),
		Sub:      sub,
		Profile: models.ProfileDetail{
			Name:     name,
			Username: username,
		},
	}
}

// Refresh exchanges the stored refresh token for a new token set. The current
// user profile is left as it was written at login.
func (s *AuthService) Refresh(ctx context.Context) (*models.TokenSet, error) {
	ctx = context.WithoutCancel(ctx)
	v, err, shared := s.flights.Do(refreshFlightKey, func() (interface{}, error) {
		return s.refresh(ctx)
	})
	if shared {
		s.logger.Debug("Joined in-flight token refresh")
	}
	if err != nil {
		return nil, err
	}
	return v.(*models.TokenSet), nil
}

func (s *AuthService) refresh(ctx context.Context) (*models.TokenSet, error) {
	tokens, err := s.sessions.LoadTokens(ctx)
	if err != nil {
		s.logger.WithError(err).Debug("Failed to read session tokens")
	}
	if tokens == nil || tokens.RefreshToken == "" {
		s.metrics.RecordRefresh(metrics.RefreshUnavailable)
		return nil, apperrors.ErrNoRefreshToken
	}

	profile, err := s.sessions.LoadProfile(ctx)
	if err != nil {
		s.logger.WithError(err).Debug("Failed to read current user")
	}
	if profile == nil || profile.Username == "" {
		s.metrics.RecordRefresh(metrics.RefreshUnavailable)
		return nil, apperrors.ErrNoSession
	}

	s.setState(StateRefreshing)

	next, err := s.provider.Refresh(ctx, profile.Username, tokens.RefreshToken)
	if err != nil {
		s.setState(StateAnonymous)
		s.metrics.RecordRefresh(metrics.RefreshRejected)
		s.logger.WithError(err).WithField("username", profile.Username).Warn("Token refresh rejected")
		return nil, apperrors.NewAuthError(apperrors.CodeRefreshRejected, "token refresh rejected", err)
	}

	if next.RefreshToken == "" {
		next.RefreshToken = tokens.RefreshToken
	}

	if err := s.sessions.SaveTokens(ctx, *next); err != nil {
		s.setState(StateAnonymous)
		s.metrics.RecordRefresh(metrics.RefreshRejected)
		return nil, apperrors.Wrapf(err, "failed to persist refreshed tokens")
	}

	s.setState(StateAuthenticated)
	s.metrics.RecordRefresh(metrics.RefreshSucceeded)

	return next, nil
}

// Logout never fails: remote sign-out is best effort, local state is always cleared.
func (s *AuthService) Logout(ctx context.Context) {
	tokens, err := s.sessions.LoadTokens(ctx)
	if err != nil {
		s.logger.WithError(err).Debug("Failed to read session tokens")
	}
	if !tokens.IsEmpty() {
		if err := s.provider.SignOut(ctx, *tokens); err != nil {
			s.logger.WithError(err).Warn("Remote sign-out failed")
		}
	}

	if err := s.sessions.ClearTokens(ctx); err != nil {
		s.logger.WithError(err).Error("Failed to clear session tokens")
	}
	if err := s.sessions.ClearProfile(ctx); err != nil {
		s.logger.WithError(err).Error("Failed to clear current user")
	}

	s.setState(StateAnonymous)
}

// StoredTokens returns the persisted token set, or nil.
func (s *AuthService) StoredTokens(ctx context.Context) *models.TokenSet {
	tokens, err := s.sessions.LoadTokens(ctx)
	if err != nil {
		s.logger.WithError(err).Debug("Failed to read session tokens")
		return nil
	}
	return tokens
}

// CurrentUser returns the profile captured at login, or nil.
func (s *AuthService) CurrentUser(ctx context.Context) *models.UserProfile {
	profile, err := s.sessions.LoadProfile(ctx)
	if err != nil {
		s.logger.WithError(err).Debug("Failed to read current user")
		return nil
	}
	return profile
}
