package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	apperrors "github.com/hhottdogg/community/internal/errors"
	"github.com/hhottdogg/community/internal/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

type OIDCOptions struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	RevokeURL    string
	RedirectURL  string
	Scopes       []string
}

// OIDCProvider talks to a standard OAuth2/OIDC token endpoint (for Cognito,
// the hosted-UI domain's /oauth2/token).
type OIDCProvider struct {
	oauth      *oauth2.Config
	revokeURL  string
	httpClient *http.Client
	verifier   *oidc.IDTokenVerifier
	logger     *logrus.Logger
}

func NewOIDCProvider(opts OIDCOptions, httpClient *http.Client, logger *logrus.Logger) *OIDCProvider {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	scopes := opts.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}

	return &OIDCProvider{
		oauth: &oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			RedirectURL:  opts.RedirectURL,
			Scopes:       scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  opts.AuthURL,
				TokenURL: opts.TokenURL,
			},
		},
		revokeURL:  opts.RevokeURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// DiscoverOIDCProvider resolves endpoints from the issuer's discovery document
// and verifies id tokens against its key set.
func DiscoverOIDCProvider(ctx context.Context, issuer string, opts OIDCOptions, httpClient *http.Client, logger *logrus.Logger) (*OIDCProvider, error) {
	p := NewOIDCProvider(opts, httpClient, logger)

	discovered, err := oidc.NewProvider(oidc.ClientContext(ctx, p.httpClient), issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC issuer %s: %w", issuer, err)
	}

	endpoint := discovered.Endpoint()
	if p.oauth.Endpoint.AuthURL == "" {
		p.oauth.Endpoint.AuthURL = endpoint.AuthURL
	}
	if p.oauth.Endpoint.TokenURL == "" {
		p.oauth.Endpoint.TokenURL = endpoint.TokenURL
	}
	p.verifier = discovered.Verifier(&oidc.Config{ClientID: opts.ClientID})

	return p, nil
}

func (p *OIDCProvider) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}

// AuthCodeURL returns the authorization endpoint URL for a PKCE login.
func (p *OIDCProvider) AuthCodeURL(state, verifier string) string {
	return p.oauth.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
}

func (p *OIDCProvider) Authenticate(ctx context.Context, username, password string) (*models.TokenSet, error) {
	tok, err := p.oauth.PasswordCredentialsToken(p.clientContext(ctx), username, password)
	if err != nil {
		return nil, mapOAuthError(err)
	}
	return p.tokenSet(ctx, tok)
}

func (p *OIDCProvider) Refresh(ctx context.Context, _ string, refreshToken string) (*models.TokenSet, error) {
	src := p.oauth.TokenSource(p.clientContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, mapOAuthError(err)
	}
	return p.tokenSet(ctx, tok)
}

func (p *OIDCProvider) ExchangeCode(ctx context.Context, code, verifier string) (*models.TokenSet, error) {
	var opts []oauth2.AuthCodeOption
	if verifier != "" {
		opts = append(opts, oauth2.VerifierOption(verifier))
	}

	tok, err := p.oauth.Exchange(p.clientContext(ctx), code, opts...)
	if err != nil {
		return nil, mapOAuthError(err)
	}
	return p.tokenSet(ctx, tok)
}

// SignOut revokes the refresh token when a revocation endpoint is configured.
func (p *OIDCProvider) SignOut(ctx context.Context, tokens models.TokenSet) error {
	if p.revokeURL == "" || tokens.RefreshToken == "" {
		return nil
	}

	form := url.Values{
		"token":           {tokens.RefreshToken},
		"token_type_hint": {"refresh_token"},
		"client_id":       {p.oauth.ClientID},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.revokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build revocation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if p.oauth.ClientSecret != "" {
		req.SetBasicAuth(url.QueryEscape(p.oauth.ClientID), url.QueryEscape(p.oauth.ClientSecret))
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return apperrors.NewAuthError(apperrors.CodeNetworkUnreachable, err.Error(), err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return apperrors.NewAuthError(apperrors.CodeServerError, fmt.Sprintf("revocation returned %d", resp.StatusCode), nil)
	}
	return nil
}

func (p *OIDCProvider) tokenSet(ctx context.Context, tok *oauth2.Token) (*models.TokenSet, error) {
	idToken, _ := tok.Extra("id_token").(string)

	if p.verifier != nil && idToken != "" {
		if _, err := p.verifier.Verify(ctx, idToken); err != nil {
			p.logger.WithError(err).Warn("Rejected id token from provider")
			return nil, apperrors.NewAuthError(apperrors.CodeMalformedToken, "id token failed verification", err)
		}
	}

	return &models.TokenSet{
		IDToken:      idToken,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}, nil
}

func mapOAuthError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		status := 0
		if retrieveErr.Response != nil {
			status = retrieveErr.Response.StatusCode
		}
		if status >= 500 {
			return apperrors.NewAuthError(apperrors.CodeServerError, retrieveErr.ErrorDescription, err)
		}
		switch retrieveErr.ErrorCode {
		case "invalid_grant", "invalid_client", "unauthorized_client":
			return apperrors.NewAuthError(apperrors.CodeCredentialRejected, retrieveErr.ErrorDescription, err)
		}
		return apperrors.NewAuthError(apperrors.CodeUnknown, retrieveErr.ErrorDescription, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return apperrors.NewAuthError(apperrors.CodeNetworkUnreachable, netErr.Error(), err)
	}

	return apperrors.NewAuthError(apperrors.CodeUnknown, err.Error(), err)
}
