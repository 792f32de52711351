package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hhottdogg/community/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	KeyTokens             = "cognitoTokens"
	KeyCurrentUser        = "currentUser"
	KeyAccessToken        = "accessToken"
	KeyIDToken            = "idToken"
	KeyRefreshToken       = "refreshToken"
	KeyBackendAccessToken = "backendAccessToken"
)

// SessionRepository persists the token set and the current user profile.
// Reads never fail on corrupt data; they log and report "absent".
type SessionRepository struct {
	store  KVStore
	prefix string
	logger *logrus.Logger
}

func NewSessionRepository(store KVStore, prefix string, logger *logrus.Logger) *SessionRepository {
	return &SessionRepository{
		store:  store,
		prefix: prefix,
		logger: logger,
	}
}

func (r *SessionRepository) k(key string) string {
	return r.prefix + key
}

// LoadTokens returns nil when no tokens are stored or the stored value cannot be parsed.
func (r *SessionRepository) LoadTokens(ctx context.Context) (*models.TokenSet, error) {
	raw, err := r.store.Get(ctx, r.k(KeyTokens))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load tokens: %w", err)
	}

	var tokens models.TokenSet
	if err := json.Unmarshal([]byte(raw), &tokens); err != nil {
		r.logger.WithError(err).Debug("Stored token set is unparsable, treating as absent")
		return nil, nil
	}

	return &tokens, nil
}

// SaveTokens writes the primary JSON value and mirrors each field to its legacy key.
func (r *SessionRepository) SaveTokens(ctx context.Context, tokens models.TokenSet) error {
	data, err := json.Marshal(tokens)
	if err != nil {
		return fmt.Errorf("failed to marshal tokens: %w", err)
	}

	if err := r.store.Set(ctx, r.k(KeyTokens), string(data)); err != nil {
		return fmt.Errorf("failed to save tokens: %w", err)
	}

	return r.syncLegacyKeys(ctx, tokens)
}

func (r *SessionRepository) syncLegacyKeys(ctx context.Context, tokens models.TokenSet) error {
	legacy := []struct {
		key   string
		value string
	}{
		{KeyAccessToken, tokens.AccessToken},
		{KeyIDToken, tokens.IDToken},
		{KeyRefreshToken, tokens.RefreshToken},
	}

	for _, l := range legacy {
		var err error
		if l.value == "" {
			err = r.store.Delete(ctx, r.k(l.key))
		} else {
			err = r.store.Set(ctx, r.k(l.key), l.value)
		}
		if err != nil {
			return fmt.Errorf("failed to sync legacy key %s: %w", l.key, err)
		}
	}

	return nil
}

func (r *SessionRepository) ClearTokens(ctx context.Context) error {
	err := r.store.Delete(ctx,
		r.k(KeyTokens),
		r.k(KeyAccessToken),
		r.k(KeyIDToken),
		r.k(KeyRefreshToken),
		r.k(KeyBackendAccessToken),
	)
	if err != nil {
		return fmt.Errorf("failed to clear tokens: %w", err)
	}
	return nil
}

// LegacyToken reads one of the flattened keys; "" when missing.
func (r *SessionRepository) LegacyToken(ctx context.Context, key string) string {
	v, err := r.store.Get(ctx, r.k(key))
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			r.logger.WithError(err).WithField("key", key).Debug("Failed to read legacy token key")
		}
		return ""
	}
	return v
}

func (r *SessionRepository) LoadProfile(ctx context.Context) (*models.UserProfile, error) {
	raw, err := r.store.Get(ctx, r.k(KeyCurrentUser))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load current user: %w", err)
	}

	var profile models.UserProfile
	if err := json.Unmarshal([]byte(raw), &profile); err != nil {
		r.logger.WithError(err).Debug("Stored user profile is unparsable, treating as absent")
		return nil, nil
	}

	return &profile, nil
}

func (r *SessionRepository) SaveProfile(ctx context.Context, profile models.UserProfile) error {
	data, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("failed to marshal current user: %w", err)
	}

	if err := r.store.Set(ctx, r.k(KeyCurrentUser), string(data)); err != nil {
		return fmt.Errorf("failed to save current user: %w", err)
	}
	return nil
}

func (r *SessionRepository) ClearProfile(ctx context.Context) error {
	if err := r.store.Delete(ctx, r.k(KeyCurrentUser)); err != nil {
		return fmt.Errorf("failed to clear current user: %w", err)
	}
	return nil
}
