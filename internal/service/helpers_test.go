package service

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hhottdogg/community/internal/models"
	"github.com/hhottdogg/community/internal/repository"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func makeJWT(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return signed
}

func liveToken(t *testing.T, extra jwt.MapClaims) string {
	t.Helper()
	claims := jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()}
	for k, v := range extra {
		claims[k] = v
	}
	return makeJWT(t, claims)
}

func newSessions() *repository.SessionRepository {
	return repository.NewSessionRepository(repository.NewMemoryStore(), "", testLogger())
}

type fakeProvider struct {
	authenticateFn func(ctx context.Context, username, password string) (*models.TokenSet, error)
	refreshFn      func(ctx context.Context, username, refreshToken string) (*models.TokenSet, error)
	signOutFn      func(ctx context.Context, tokens models.TokenSet) error

	mu            sync.Mutex
	authUsernames []string
	refreshCalls  atomic.Int32
	signOutCalls  atomic.Int32
}

func (f *fakeProvider) Authenticate(ctx context.Context, username, password string) (*models.TokenSet, error) {
	f.mu.Lock()
	f.authUsernames = append(f.authUsernames, username)
	f.mu.Unlock()
	if f.authenticateFn != nil {
		return f.authenticateFn(ctx, username, password)
	}
	return &models.TokenSet{}, nil
}

func (f *fakeProvider) Refresh(ctx context.Context, username, refreshToken string) (*models.TokenSet, error) {
	f.refreshCalls.Add(1)
	if f.refreshFn != nil {
		return f.refreshFn(ctx, username, refreshToken)
	}
	return &models.TokenSet{}, nil
}

func (f *fakeProvider) SignOut(ctx context.Context, tokens models.TokenSet) error {
	f.signOutCalls.Add(1)
	if f.signOutFn != nil {
		return f.signOutFn(ctx, tokens)
	}
	return nil
}

type fakeExchanger struct {
	fakeProvider
	exchangeFn func(ctx context.Context, code, verifier string) (*models.TokenSet, error)
}

func (f *fakeExchanger) ExchangeCode(ctx context.Context, code, verifier string) (*models.TokenSet, error) {
	return f.exchangeFn(ctx, code, verifier)
}

type stubResolver map[string]string

func (s stubResolver) Resolve(_ context.Context, identifier string) string {
	if v, ok := s[identifier]; ok {
		return v
	}
	return identifier
}
