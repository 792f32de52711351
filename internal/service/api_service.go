package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	apperrors "github.com/hhottdogg/community/internal/errors"
	"github.com/hhottdogg/community/internal/metrics"
	"github.com/hhottdogg/community/internal/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const maxResponseBytes = 4 << 20

// Refresher is the slice of AuthService the API client drives.
type Refresher interface {
	Refresh(ctx context.Context) (*models.TokenSet, error)
	Logout(ctx context.Context)
}

// HeaderSource builds per-request auth headers.
type HeaderSource interface {
	AuthHeaders(ctx context.Context, extra http.Header) http.Header
}

// Endpoint is a backend service probed by CheckServiceHealth.
type Endpoint struct {
	Name string
	URL  string
}

type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second}
}

// Request describes one call to a backend service. Only requests marked
// Idempotent or carrying an IdempotencyKey are ever sent more than once.
type Request struct {
	Service        string
	BaseURL        string
	Method         string
	Path           string
	Query          url.Values
	Body           any
	Header         http.Header
	Idempotent     bool
	IdempotencyKey string
}

func (r Request) retriable() bool {
	return r.Idempotent || r.IdempotencyKey != ""
}

type Response struct {
	Status   int
	Header   http.Header
	Envelope models.Envelope
	Body     []byte
}

// Decode unmarshals the envelope's data, or the raw body when the service
// did not wrap its payload.
func (r *Response) Decode(v any) error {
	payload := r.Body
	if len(r.Envelope.Data) > 0 {
		payload = r.Envelope.Data
	}
	if len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Operation is a zero-argument request thunk.
type Operation func(ctx context.Context) (*Response, error)

type retryOptions struct {
	maxAttempts int
	baseDelay   time.Duration
	safe        bool
	service     string
}

type RetryOption func(*retryOptions)

func WithMaxAttempts(n int) RetryOption {
	return func(o *retryOptions) { o.maxAttempts = n }
}

func WithBaseDelay(d time.Duration) RetryOption {
	return func(o *retryOptions) { o.baseDelay = d }
}

// WithSafeRetry marks whether the operation may be re-issued.
func WithSafeRetry(safe bool) RetryOption {
	return func(o *retryOptions) { o.safe = safe }
}

func withService(name string) RetryOption {
	return func(o *retryOptions) { o.service = name }
}

type logoutHook struct {
	name string
	fn   func(ctx context.Context) error
}

type APIService struct {
	httpClient  *http.Client
	headers     HeaderSource
	auth        Refresher
	policy      RetryPolicy
	endpoints   []Endpoint
	logoutHooks []logoutHook
	metrics     metrics.MetricsCollector
	logger      *logrus.Logger
	sleep       func(ctx context.Context, d time.Duration) error
}

func NewAPIService(
	httpClient *http.Client,
	headers HeaderSource,
	auth Refresher,
	policy RetryPolicy,
	endpoints []Endpoint,
	collector metrics.MetricsCollector,
	logger *logrus.Logger,
) *APIService {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	if policy.MaxAttempts < 1 {
		policy = DefaultRetryPolicy()
	}
	return &APIService{
		httpClient: httpClient,
		headers:    headers,
		auth:       auth,
		policy:     policy,
		endpoints:  endpoints,
		metrics:    collector,
		logger:     logger,
		sleep:      sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AddLogoutHook registers a best-effort server-side logout run by Logout.
func (s *APIService) AddLogoutHook(name string, fn func(ctx context.Context) error) {
	s.logoutHooks = append(s.logoutHooks, logoutHook{name: name, fn: fn})
}

// RetryRequest runs op under the retry policy:
//   - a 401 triggers one refresh; on success op runs once more outside the
//     attempt budget and its outcome is returned; on failure the session is
//     logged out and the original 401 is returned
//   - any other failure is retried after baseDelay*attempt until the budget is spent
//
// Operations not marked safe get a single attempt and are never re-issued.
func (s *APIService) RetryRequest(ctx context.Context, op Operation, opts ...RetryOption) (*Response, error) {
	o := retryOptions{
		maxAttempts: s.policy.MaxAttempts,
		baseDelay:   s.policy.BaseDelay,
		safe:        true,
	}
	for _, opt := range opts {
		opt(&o)
	}

	attempts := o.maxAttempts
	if attempts < 1 || !o.safe {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		resp, err := op(ctx)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if apperrors.IsUnauthorized(err) {
			return s.retryAfterRefresh(ctx, op, err, o)
		}

		if attempt == attempts {
			break
		}

		s.metrics.RecordRetry(o.service)
		s.logger.WithError(err).WithFields(logrus.Fields{
			"service": o.service,
			"attempt": attempt,
		}).Debug("Retrying failed request")

		if err := s.sleep(ctx, o.baseDelay*time.Duration(attempt)); err != nil {
			return nil, err
		}
	}

	return nil, lastErr
}

func (s *APIService) retryAfterRefresh(ctx context.Context, op Operation, original error, o retryOptions) (*Response, error) {
	if _, err := s.auth.Refresh(ctx); err != nil {
		s.logger.WithError(err).WithField("service", o.service).Warn("Token refresh failed, ending session")
		s.Logout(ctx)
		return nil, original
	}

	if !o.safe {
		return nil, original
	}

	return op(ctx)
}

// Send issues req through RetryRequest.
func (s *APIService) Send(ctx context.Context, req Request) (*Response, error) {
	return s.RetryRequest(ctx, func(ctx context.Context) (*Response, error) {
		return s.SendOnce(ctx, req)
	}, WithSafeRetry(req.retriable()), withService(req.Service))
}

// SendOnce issues req exactly once with no refresh or retry.
func (s *APIService) SendOnce(ctx context.Context, req Request) (*Response, error) {
	target := strings.TrimRight(req.BaseURL, "/") + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s request body: %w", req.Service, err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", req.Service, err)
	}

	// Rebuilt per attempt so a retry after refresh carries the new token.
	httpReq.Header = s.headers.AuthHeaders(ctx, req.Header)
	if req.IdempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	}

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		s.metrics.RecordRequest(req.Service, 0)
		return nil, &apperrors.HTTPError{
			Message: fmt.Sprintf("%s request failed: %v", req.Service, err),
			Err:     err,
		}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		s.metrics.RecordRequest(req.Service, 0)
		return nil, &apperrors.HTTPError{
			Message: fmt.Sprintf("%s response unreadable: %v", req.Service, err),
			Err:     err,
		}
	}

	s.metrics.RecordRequest(req.Service, resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newHTTPError(req.Service, resp, raw)
	}

	out := &Response{
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   raw,
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out.Envelope); err != nil {
			s.logger.WithError(err).WithField("service", req.Service).Debug("Response is not an envelope")
		}
	}

	return out, nil
}

func newHTTPError(service string, resp *http.Response, raw []byte) *apperrors.HTTPError {
	var data map[string]any
	_ = json.Unmarshal(raw, &data)

	message, _ := data["message"].(string)
	if message == "" {
		message = fmt.Sprintf("%s request failed", service)
	}

	return &apperrors.HTTPError{
		Status:     resp.StatusCode,
		StatusText: http.StatusText(resp.StatusCode),
		Message:    message,
		Data:       data,
	}
}

// Logout ends server-side sessions, then the local one. It reports false only
// if something panicked along the way.
func (s *APIService) Logout(ctx context.Context) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithField("panic", r).Error("Logout failed")
			ok = false
		}
	}()

	var panicked atomic.Bool
	var g errgroup.Group
	for _, hook := range s.logoutHooks {
		hook := hook
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					s.logger.WithField("panic", r).WithField("service", hook.name).Error("Service logout panicked")
					panicked.Store(true)
				}
			}()
			if err := hook.fn(ctx); err != nil {
				s.logger.WithError(err).WithField("service", hook.name).Warn("Service logout failed")
			}
			return nil
		})
	}
	_ = g.Wait()

	s.auth.Logout(ctx)

	return !panicked.Load()
}

// CheckServiceHealth probes every endpoint concurrently and waits for all of them.
func (s *APIService) CheckServiceHealth(ctx context.Context) []models.ServiceHealth {
	results := make([]models.ServiceHealth, len(s.endpoints))

	var g errgroup.Group
	for i, ep := range s.endpoints {
		i, ep := i, ep
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					results[i] = models.ServiceHealth{
						Name:   ep.Name,
						Status: models.HealthError,
						URL:    ep.URL,
						Error:  fmt.Sprint(r),
					}
				}
			}()
			results[i] = s.probe(ctx, ep)
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		s.metrics.RecordHealth(r.Name, r.Status)
	}

	return results
}

func (s *APIService) probe(ctx context.Context, ep Endpoint) models.ServiceHealth {
	result := models.ServiceHealth{Name: ep.Name, URL: ep.URL}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(ep.URL, "/")+"/health", nil)
	if err != nil {
		result.Status = models.HealthError
		result.Error = err.Error()
		return result
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		result.Status = models.HealthUnreachable
		result.Error = err.Error()
		return result
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		result.Status = models.HealthHealthy
	} else {
		result.Status = models.HealthUnhealthy
	}
	return result
}
