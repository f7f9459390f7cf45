// Package apiclient performs authenticated requests against a linked
// account's platform API. Every outbound attempt is recorded in the call
// log, including refusals where no valid token was available.
package apiclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"sociallink/internal/metrics"
	"sociallink/internal/platform"
	"sociallink/internal/storage"
)

var (
	// ErrNotConnected is returned when the user has no active account on
	// the requested platform.
	ErrNotConnected = errors.New("no active account for platform")

	// ErrTokenExpired is returned when the access token is past its expiry
	// and could not be refreshed.
	ErrTokenExpired = errors.New("access token expired")

	// ErrTokenUnreadable is returned when the stored token blob fails to
	// decrypt. The account is flagged so the user reconnects.
	ErrTokenUnreadable = errors.New("stored access token unreadable")
)

// maxResponseBody caps how much of a platform response is buffered.
const maxResponseBody = 4 << 20

// Response is the outcome of one platform API call.
type Response struct {
	StatusCode         int
	Header             http.Header
	Body               []byte
	Latency            time.Duration
	RateLimitRemaining *int
	RateLimitReset     *time.Time
}

// Client wraps platform API calls with token lookup, expiry handling,
// refresh, and call logging.
type Client struct {
	store      *storage.SQLiteStorage
	registry   *platform.Registry
	httpClient *http.Client
	logger     *zap.Logger

	now func() time.Time
}

// New creates a Client. A nil httpClient falls back to http.DefaultClient.
func New(store *storage.SQLiteStorage, registry *platform.Registry, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		store:      store,
		registry:   registry,
		httpClient: httpClient,
		logger:     logger,
		now:        time.Now,
	}
}

// Get performs an authenticated GET against a platform API path.
func (c *Client) Get(ctx context.Context, userID string, p storage.Platform, path string) (*Response, error) {
	return c.Do(ctx, userID, p, http.MethodGet, path, nil)
}

// Do performs an authenticated request on behalf of a user's linked account.
// path is resolved against the platform's API base unless it is absolute.
// The call is logged whether it succeeds, fails in transport, or is refused
// because no usable token exists.
func (c *Client) Do(ctx context.Context, userID string, p storage.Platform, method, path string, body []byte) (*Response, error) {
	adapter, err := c.registry.Adapter(p)
	if err != nil {
		return nil, err
	}

	account, err := c.store.FindActiveAccount(ctx, userID, p)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotConnected, p)
		}
		return nil, err
	}

	endpoint := c.resolveURL(adapter, path)

	token, err := c.ensureToken(ctx, adapter, account)
	if err != nil {
		c.logCall(ctx, account, endpoint, method, &storage.CallLogEntry{
			StatusCode:   0,
			ErrorMessage: err.Error(),
		})
		return nil, err
	}

	var reqBody io.Reader
	if body != nil {
		reqBody = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	adapter.Authorize(req, token)

	start := c.now()
	resp, err := c.httpClient.Do(req)
	latency := c.now().Sub(start)
	if err != nil {
		c.logCall(ctx, account, endpoint, method, &storage.CallLogEntry{
			StatusCode:   0,
			ResponseTime: latency,
			ErrorMessage: err.Error(),
		})
		return nil, fmt.Errorf("platform request failed: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		payload = nil
	}

	remaining, reset := rateLimitFromHeaders(resp.Header, adapter.RateLimit())

	entry := &storage.CallLogEntry{
		StatusCode:         resp.StatusCode,
		ResponseTime:       latency,
		RateLimitRemaining: remaining,
		RateLimitReset:     reset,
	}
	if resp.StatusCode >= http.StatusBadRequest {
		entry.ErrorMessage = strings.ToValidUTF8(truncate(string(payload), 500), "")
	}
	c.logCall(ctx, account, endpoint, method, entry)

	metrics.APICalls.WithLabelValues(string(p), method).Inc()
	metrics.APICallDuration.WithLabelValues(string(p)).Observe(latency.Seconds())

	// The platform no longer honors the token; flag the account so the
	// next attempt goes through refresh or reconnect.
	if resp.StatusCode == http.StatusUnauthorized {
		if err := c.store.UpdateAccountStatus(ctx, account.ID, storage.StatusExpired); err != nil {
			c.logger.Warn("failed to flag account after 401",
				zap.String("account_id", account.ID), zap.Error(err))
		}
	}

	return &Response{
		StatusCode:         resp.StatusCode,
		Header:             resp.Header,
		Body:               payload,
		Latency:            latency,
		RateLimitRemaining: remaining,
		RateLimitReset:     reset,
	}, nil
}

// ensureToken returns a plaintext access token that is not known to be
// expired, refreshing through the adapter when possible. Failures move the
// account out of active status.
func (c *Client) ensureToken(ctx context.Context, adapter platform.Adapter, account *storage.LinkedAccount) (string, error) {
	token, ok := c.store.DecryptedAccessToken(account)
	if !ok || token == "" {
		if err := c.store.UpdateAccountStatus(ctx, account.ID, storage.StatusError); err != nil {
			c.logger.Warn("failed to flag unreadable account",
				zap.String("account_id", account.ID), zap.Error(err))
		}
		return "", ErrTokenUnreadable
	}
	if !account.TokenExpired(c.now()) {
		return token, nil
	}

	refreshToken, ok := c.store.DecryptedRefreshToken(account)
	if !ok || refreshToken == "" {
		c.expire(ctx, account)
		return "", fmt.Errorf("%w: no refresh token", ErrTokenExpired)
	}

	grant, err := adapter.Refresh(ctx, refreshToken)
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues(string(account.Platform), "failure").Inc()
		c.expire(ctx, account)
		if errors.Is(err, platform.ErrRefreshNotSupported) {
			return "", fmt.Errorf("%w: platform does not support refresh", ErrTokenExpired)
		}
		return "", fmt.Errorf("%w: refresh rejected: %v", ErrTokenExpired, err)
	}

	if err := c.store.ReplaceAccountTokens(ctx, account.ID, grant); err != nil {
		return "", fmt.Errorf("failed to persist refreshed tokens: %w", err)
	}
	metrics.TokenRefreshes.WithLabelValues(string(account.Platform), "success").Inc()
	c.logger.Info("refreshed access token",
		zap.String("account_id", account.ID),
		zap.String("platform", string(account.Platform)))
	return grant.AccessToken, nil
}

func (c *Client) expire(ctx context.Context, account *storage.LinkedAccount) {
	if err := c.store.UpdateAccountStatus(ctx, account.ID, storage.StatusExpired); err != nil {
		c.logger.Warn("failed to flag expired account",
			zap.String("account_id", account.ID), zap.Error(err))
	}
}

func (c *Client) resolveURL(adapter platform.Adapter, path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	base := strings.TrimSuffix(adapter.APIBaseURL(), "/")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}

func (c *Client) logCall(ctx context.Context, account *storage.LinkedAccount, endpoint, method string, entry *storage.CallLogEntry) {
	entry.UserID = account.UserID
	entry.AccountID = account.ID
	entry.Endpoint = endpoint
	entry.Method = method
	if err := c.store.InsertCallLog(ctx, entry); err != nil {
		c.logger.Warn("failed to record call log",
			zap.String("account_id", account.ID), zap.Error(err))
	}
}

// rateLimitFromHeaders parses the platform's rate-limit headers, if the
// platform exposes any. The reset header carries a unix timestamp.
func rateLimitFromHeaders(h http.Header, names platform.RateLimitHeaders) (*int, *time.Time) {
	var remaining *int
	var reset *time.Time
	if names.Remaining != "" {
		if v, err := strconv.Atoi(h.Get(names.Remaining)); err == nil {
			remaining = &v
		}
	}
	if names.Reset != "" {
		if secs, err := strconv.ParseInt(h.Get(names.Reset), 10, 64); err == nil {
			t := time.Unix(secs, 0).UTC()
			reset = &t
		}
	}
	return remaining, reset
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
