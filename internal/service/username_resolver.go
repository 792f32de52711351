package service

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
)

// UsernameResolver asks an optional lookup endpoint for the pool username
// behind an email address. Every failure path returns the identifier unchanged.
type UsernameResolver struct {
	lookupURL  string
	httpClient *http.Client
	logger     *logrus.Logger
}

func NewUsernameResolver(lookupURL string, httpClient *http.Client, logger *logrus.Logger) *UsernameResolver {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &UsernameResolver{
		lookupURL:  lookupURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

func (r *UsernameResolver) Resolve(ctx context.Context, identifier string) string {
	if r.lookupURL == "" {
		return identifier
	}

	sep := "?"
	if strings.Contains(r.lookupURL, "?") {
		sep = "&"
	}
	target := r.lookupURL + sep + "email=" + url.QueryEscape(identifier)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		r.logger.WithError(err).Debug("Invalid username lookup URL")
		return identifier
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		r.logger.WithError(err).Debug("Username lookup unreachable")
		return identifier
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return identifier
	}

	var body struct {
		Username string `json:"username"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&body); err != nil || body.Username == "" {
		return identifier
	}

	return body.Username
}
