package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	apperrors "github.com/hhottdogg/community/internal/errors"
	"github.com/hhottdogg/community/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthService_LoginStoresSession(t *testing.T) {
	ctx := context.Background()
	sessions := newSessions()
	idToken := liveToken(t, jwt.MapClaims{
		"cognito:username": "alice",
		"email":            "alice@example.com",
		"sub":              "sub-1",
		"name":             "Alice Kim",
	})
	accessToken := liveToken(t, jwt.MapClaims{"token_use": "access"})

	provider := &fakeProvider{
		authenticateFn: func(_ context.Context, username, password string) (*models.TokenSet, error) {
			return &models.TokenSet{IDToken: idToken, AccessToken: accessToken, RefreshToken: "refresh-1"}, nil
		},
	}
	svc := NewAuthService(provider, sessions, nil, nil, testLogger())

	result, err := svc.Login(ctx, "alice", "secret")
	require.NoError(t, err)

	assert.Equal(t, StateAuthenticated, svc.State())
	assert.Equal(t, "alice", result.User.Username)
	assert.Equal(t, "alice@example.com", result.User.Email)
	assert.Equal(t, "sub-1", result.User.Sub)
	assert.Equal(t, "Alice Kim", result.User.Profile.Name)
	assert.Equal(t, "refresh-1", result.Tokens.RefreshToken)

	stored := svc.StoredTokens(ctx)
	require.NotNil(t, stored)
	assert.Equal(t, accessToken, stored.AccessToken)
	assert.Equal(t, "alice", svc.CurrentUser(ctx).Username)

	// Outbound requests pick up the new access token immediately.
	headers := NewTokenService(sessions, testLogger()).AuthHeaders(ctx, nil)
	assert.Equal(t, "Bearer "+accessToken, headers.Get("Authorization"))
}

func TestAuthService_LoginResolvesUsername(t *testing.T) {
	provider := &fakeProvider{
		authenticateFn: func(_ context.Context, username, _ string) (*models.TokenSet, error) {
			return &models.TokenSet{AccessToken: liveToken(t, nil)}, nil
		},
	}
	resolver := stubResolver{"alice@example.com": "alice"}
	svc := NewAuthService(provider, newSessions(), resolver, nil, testLogger())

	result, err := svc.Login(context.Background(), "alice@example.com", "secret")
	require.NoError(t, err)

	assert.Equal(t, []string{"alice"}, provider.authUsernames)
	assert.Equal(t, "alice", result.User.Username)
	assert.Equal(t, "alice", result.User.Profile.Name)
}

func TestAuthService_LoginFailureKeepsCode(t *testing.T) {
	codes := []apperrors.Code{
		apperrors.CodeCredentialRejected,
		apperrors.CodeAccountUnconfirmed,
		apperrors.CodePasswordResetRequired,
		apperrors.CodeNewPasswordRequired,
	}

	for _, code := range codes {
		t.Run(string(code), func(t *testing.T) {
			ctx := context.Background()
			provider := &fakeProvider{
				authenticateFn: func(context.Context, string, string) (*models.TokenSet, error) {
					return nil, apperrors.NewAuthError(code, "rejected", nil)
				},
			}
			svc := NewAuthService(provider, newSessions(), nil, nil, testLogger())

			_, err := svc.Login(ctx, "alice", "wrong")
			require.Error(t, err)
			assert.Equal(t, code, apperrors.CodeOf(err))
			assert.Equal(t, StateAnonymous, svc.State())
			assert.Nil(t, svc.StoredTokens(ctx))
		})
	}
}

func TestAuthService_LoginWhileAuthenticating(t *testing.T) {
	release := make(chan struct{})
	provider := &fakeProvider{
		authenticateFn: func(context.Context, string, string) (*models.TokenSet, error) {
			<-release
			return &models.TokenSet{AccessToken: "a"}, nil
		},
	}
	svc := NewAuthService(provider, newSessions(), nil, nil, testLogger())

	done := make(chan error, 1)
	go func() {
		_, err := svc.Login(context.Background(), "alice", "secret")
		done <- err
	}()

	require.Eventually(t, func() bool { return svc.State() == StateAuthenticating }, time.Second, 5*time.Millisecond)

	_, err := svc.Login(context.Background(), "bob", "secret")
	assert.ErrorIs(t, err, apperrors.ErrAuthInProgress)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateAuthenticated, svc.State())
}

func TestAuthService_ExchangeCode(t *testing.T) {
	ctx := context.Background()

	plain := NewAuthService(&fakeProvider{}, newSessions(), nil, nil, testLogger())
	_, err := plain.ExchangeCode(ctx, "code", "verifier")
	assert.ErrorIs(t, err, apperrors.ErrUnsupported)

	exchanger := &fakeExchanger{
		exchangeFn: func(_ context.Context, code, verifier string) (*models.TokenSet, error) {
			assert.Equal(t, "code", code)
			assert.Equal(t, "verifier", verifier)
			return &models.TokenSet{
				IDToken:     liveToken(t, jwt.MapClaims{"cognito:username": "carol"}),
				AccessToken: "access",
			}, nil
		},
	}
	svc := NewAuthService(exchanger, newSessions(), nil, nil, testLogger())

	result, err := svc.ExchangeCode(ctx, "code", "verifier")
	require.NoError(t, err)
	assert.Equal(t, "carol", result.User.Username)
	assert.Equal(t, StateAuthenticated, svc.State())
}

func TestAuthService_ExchangeCodeSessionCanRefresh(t *testing.T) {
	tests := []struct {
		name     string
		tokens   func(t *testing.T) models.TokenSet
		username string
	}{
		{
			name: "sub only id token",
			tokens: func(t *testing.T) models.TokenSet {
				return models.TokenSet{
					IDToken:      liveToken(t, jwt.MapClaims{"sub": "sub-42", "email": "dana@example.com"}),
					AccessToken:  "opaque",
					RefreshToken: "refresh-1",
				}
			},
			username: "sub-42",
		},
		{
			name: "username on access token",
			tokens: func(t *testing.T) models.TokenSet {
				return models.TokenSet{
					IDToken:      liveToken(t, jwt.MapClaims{"sub": "sub-43"}),
					AccessToken:  liveToken(t, jwt.MapClaims{"sub": "sub-43", "username": "erin"}),
					RefreshToken: "refresh-1",
				}
			},
			username: "erin",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			exchanger := &fakeExchanger{
				exchangeFn: func(context.Context, string, string) (*models.TokenSet, error) {
					tokens := tt.tokens(t)
					return &tokens, nil
				},
			}
			exchanger.refreshFn = func(_ context.Context, username, refreshToken string) (*models.TokenSet, error) {
				assert.Equal(t, tt.username, username)
				assert.Equal(t, "refresh-1", refreshToken)
				return &models.TokenSet{AccessToken: "fresh"}, nil
			}
			svc := NewAuthService(exchanger, newSessions(), nil, nil, testLogger())

			result, err := svc.ExchangeCode(ctx, "code", "verifier")
			require.NoError(t, err)
			assert.Equal(t, tt.username, result.User.Username)

			next, err := svc.Refresh(ctx)
			require.NoError(t, err)
			assert.Equal(t, "fresh", next.AccessToken)
			assert.Equal(t, "refresh-1", next.RefreshToken)
			assert.Equal(t, int32(1), exchanger.refreshCalls.Load())
			assert.Equal(t, StateAuthenticated, svc.State())
		})
	}
}

type fakeAuthorizer struct {
	fakeExchanger
	state    string
	verifier string
}

func (f *fakeAuthorizer) AuthCodeURL(state, verifier string) string {
	f.state = state
	f.verifier = verifier
	return "https://idp.example.com/authorize?state=" + state
}

func TestAuthService_Authorize(t *testing.T) {
	plain := NewAuthService(&fakeProvider{}, newSessions(), nil, nil, testLogger())
	_, err := plain.Authorize()
	assert.ErrorIs(t, err, apperrors.ErrUnsupported)

	provider := &fakeAuthorizer{}
	svc := NewAuthService(provider, newSessions(), nil, nil, testLogger())

	first, err := svc.Authorize()
	require.NoError(t, err)
	assert.NotEmpty(t, first.State)
	assert.NotEmpty(t, first.CodeVerifier)
	assert.Equal(t, provider.state, first.State)
	assert.Equal(t, provider.verifier, first.CodeVerifier)
	assert.Equal(t, "https://idp.example.com/authorize?state="+first.State, first.URL)

	second, err := svc.Authorize()
	require.NoError(t, err)
	assert.NotEqual(t, first.State, second.State)
	assert.NotEqual(t, first.CodeVerifier, second.CodeVerifier)
	assert.Equal(t, StateAnonymous, svc.State())
}

func TestAuthService_RefreshWithoutRefreshToken(t *testing.T) {
	ctx := context.Background()
	provider := &fakeProvider{}
	sessions := newSessions()
	svc := NewAuthService(provider, sessions, nil, nil, testLogger())

	_, err := svc.Refresh(ctx)
	assert.ErrorIs(t, err, apperrors.ErrNoRefreshToken)

	require.NoError(t, sessions.SaveTokens(ctx, models.TokenSet{AccessToken: "a", RefreshToken: "r"}))
	_, err = svc.Refresh(ctx)
	assert.ErrorIs(t, err, apperrors.ErrNoSession)
	assert.Equal(t, apperrors.CodeRefreshUnavailable, apperrors.CodeOf(err))

	assert.Zero(t, provider.refreshCalls.Load())
}

func TestAuthService_RefreshKeepsRefreshToken(t *testing.T) {
	ctx := context.Background()
	sessions := newSessions()
	require.NoError(t, sessions.SaveTokens(ctx, models.TokenSet{AccessToken: "old", RefreshToken: "refresh-1"}))
	require.NoError(t, sessions.SaveProfile(ctx, models.UserProfile{Username: "alice"}))

	provider := &fakeProvider{
		refreshFn: func(_ context.Context, username, refreshToken string) (*models.TokenSet, error) {
			assert.Equal(t, "alice", username)
			assert.Equal(t, "refresh-1", refreshToken)
			return &models.TokenSet{AccessToken: "new", IDToken: "new-id"}, nil
		},
	}
	svc := NewAuthService(provider, sessions, nil, nil, testLogger())
	svc.Restore(ctx)

	tokens, err := svc.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, "new", tokens.AccessToken)
	assert.Equal(t, "refresh-1", tokens.RefreshToken)

	stored := svc.StoredTokens(ctx)
	assert.Equal(t, models.TokenSet{AccessToken: "new", IDToken: "new-id", RefreshToken: "refresh-1"}, *stored)
	assert.Equal(t, "refresh-1", sessions.LegacyToken(ctx, "refreshToken"))
	assert.Equal(t, StateAuthenticated, svc.State())
}

func TestAuthService_RefreshRejected(t *testing.T) {
	ctx := context.Background()
	sessions := newSessions()
	require.NoError(t, sessions.SaveTokens(ctx, models.TokenSet{AccessToken: "old", RefreshToken: "revoked"}))
	require.NoError(t, sessions.SaveProfile(ctx, models.UserProfile{Username: "alice"}))

	cause := apperrors.NewAuthError(apperrors.CodeCredentialRejected, "Refresh Token has been revoked", nil)
	provider := &fakeProvider{
		refreshFn: func(context.Context, string, string) (*models.TokenSet, error) {
			return nil, cause
		},
	}
	svc := NewAuthService(provider, sessions, nil, nil, testLogger())

	_, err := svc.Refresh(ctx)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeRefreshRejected, apperrors.CodeOf(err))
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, StateAnonymous, svc.State())
}

func TestAuthService_ConcurrentRefreshSharesOneCall(t *testing.T) {
	ctx := context.Background()
	sessions := newSessions()
	require.NoError(t, sessions.SaveTokens(ctx, models.TokenSet{AccessToken: "old", RefreshToken: "r"}))
	require.NoError(t, sessions.SaveProfile(ctx, models.UserProfile{Username: "alice"}))

	release := make(chan struct{})
	provider := &fakeProvider{
		refreshFn: func(context.Context, string, string) (*models.TokenSet, error) {
			<-release
			return &models.TokenSet{AccessToken: "new"}, nil
		},
	}
	svc := NewAuthService(provider, sessions, nil, nil, testLogger())

	var wg sync.WaitGroup
	results := make([]*models.TokenSet, 2)
	for i := range results {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			tokens, err := svc.Refresh(ctx)
			assert.NoError(t, err)
			results[i] = tokens
		}()
	}

	require.Eventually(t, func() bool { return provider.refreshCalls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), provider.refreshCalls.Load())
	for _, tokens := range results {
		require.NotNil(t, tokens)
		assert.Equal(t, "new", tokens.AccessToken)
	}
}

func TestAuthService_LogoutClearsSessionWhenSignOutFails(t *testing.T) {
	ctx := context.Background()
	sessions := newSessions()
	require.NoError(t, sessions.SaveTokens(ctx, models.TokenSet{AccessToken: "a", IDToken: "i", RefreshToken: "r"}))
	require.NoError(t, sessions.SaveProfile(ctx, models.UserProfile{Username: "alice"}))

	provider := &fakeProvider{
		signOutFn: func(context.Context, models.TokenSet) error {
			return apperrors.NewAuthError(apperrors.CodeNetworkUnreachable, "offline", nil)
		},
	}
	svc := NewAuthService(provider, sessions, nil, nil, testLogger())
	svc.Restore(ctx)

	svc.Logout(ctx)

	assert.Equal(t, int32(1), provider.signOutCalls.Load())
	assert.Nil(t, svc.StoredTokens(ctx))
	assert.Nil(t, svc.CurrentUser(ctx))
	assert.Empty(t, sessions.LegacyToken(ctx, "accessToken"))
	assert.Equal(t, StateAnonymous, svc.State())
}

func TestAuthService_LogoutWithoutSessionSkipsSignOut(t *testing.T) {
	provider := &fakeProvider{}
	svc := NewAuthService(provider, newSessions(), nil, nil, testLogger())

	svc.Logout(context.Background())

	assert.Zero(t, provider.signOutCalls.Load())
	assert.Equal(t, StateAnonymous, svc.State())
}

func TestAuthService_Restore(t *testing.T) {
	ctx := context.Background()
	sessions := newSessions()
	svc := NewAuthService(&fakeProvider{}, sessions, nil, nil, testLogger())

	assert.Equal(t, StateAnonymous, svc.Restore(ctx))

	require.NoError(t, sessions.SaveTokens(ctx, models.TokenSet{IDToken: "i"}))
	assert.Equal(t, StateAuthenticated, svc.Restore(ctx))
}
