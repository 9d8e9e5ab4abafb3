// Package api implements the JSON-over-HTTPS client for the MedView
// backend: login, temporary storage credentials, and upload confirmation.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	nethttp "net/http"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/medviewlabs/signal-uplink/internal/constants"
	inthttp "github.com/medviewlabs/signal-uplink/internal/http"
	"github.com/medviewlabs/signal-uplink/internal/logging"
	"github.com/medviewlabs/signal-uplink/internal/ratelimit"
)

// retryLogger adapts our logger to the retryablehttp.LeveledLogger interface.
// Only errors and warnings are forwarded; retryablehttp's info/debug chatter
// is dropped.
type retryLogger struct {
	log *logging.Logger
}

func (l *retryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.log.Error().Interface("detail", keysAndValues).Msg("api retry: " + msg)
}

func (l *retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.log.Warn().Interface("detail", keysAndValues).Msg("api retry: " + msg)
}

func (l *retryLogger) Info(msg string, keysAndValues ...interface{})  {}
func (l *retryLogger) Debug(msg string, keysAndValues ...interface{}) {}

// Client is the backend API client. It owns the bearer token and re-logs
// in transparently when the backend reports token expiry (HTTP 401).
//
// Safe for concurrent use; token state is guarded by a mutex, and the
// underlying transport retries transient network and 5xx failures.
type Client struct {
	httpClient *nethttp.Client
	limiter    *ratelimit.RateLimiter
	log        *logging.Logger
	baseURL    string
	account    string
	password   string

	mu         sync.Mutex
	jwtToken   string
	hospitalID string
}

// NewClient creates a backend client for the given base URL and account.
// No network call is made until the first request needs a token.
func NewClient(baseURL, account, password string, log *logging.Logger) *Client {
	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient = inthttp.NewAPIClient()
	retryClient.RetryMax = constants.APIMaxRetries
	retryClient.RetryWaitMin = constants.APIRetryWaitMin
	retryClient.RetryWaitMax = constants.APIRetryWaitMax
	retryClient.Logger = &retryLogger{log: log}

	return &Client{
		httpClient: retryClient.StandardClient(),
		limiter:    ratelimit.NewBackendRateLimiter(),
		log:        log,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		account:    account,
		password:   password,
	}
}

// HospitalID returns the hospital id captured at login, or "" before the
// first successful login.
func (c *Client) HospitalID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hospitalID
}

// loginLocked performs POST /user/login and stores the bearer token.
// Caller holds c.mu.
func (c *Client) loginLocked(ctx context.Context) error {
	payload := map[string]interface{}{
		"userMessage": map[string]string{"email": c.account},
		"password":    c.password,
	}

	body, status, err := c.doRequest(ctx, nethttp.MethodPost, "/user/login", payload, "")
	if err != nil {
		return fmt.Errorf("login request failed: %w", err)
	}
	if status != nethttp.StatusOK {
		return fmt.Errorf("login failed: status %d: %s", status, string(body))
	}

	var resp struct {
		JwtToken string `json:"jwtToken"`
		UserInfo struct {
			HospitalID string `json:"hospitalId"`
		} `json:"userInfo"`
	}
	if err := json.Unmarshal(unwrapData(body), &resp); err != nil {
		return fmt.Errorf("failed to decode login response: %w", err)
	}
	if resp.JwtToken == "" {
		return fmt.Errorf("login failed: missing jwtToken in response")
	}

	c.jwtToken = resp.JwtToken
	c.hospitalID = resp.UserInfo.HospitalID
	c.log.Info().Str("account", c.account).Msg("backend login succeeded")
	return nil
}

// loginWithRetriesLocked re-logs in with exponential backoff. Caller holds c.mu.
func (c *Client) loginWithRetriesLocked(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= constants.APIMaxLoginRetries; attempt++ {
		if err := c.loginLocked(ctx); err == nil {
			return nil
		} else {
			lastErr = err
			c.log.Warn().Err(err).Int("attempt", attempt).Msg("login attempt failed")
		}

		if attempt == constants.APIMaxLoginRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(1<<attempt) * time.Second):
		}
	}
	return fmt.Errorf("login failed after %d attempts: %w", constants.APIMaxLoginRetries, lastErr)
}

// token returns a bearer token, logging in first if none is held.
func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.jwtToken == "" {
		if err := c.loginLocked(ctx); err != nil {
			return "", err
		}
	}
	return "Bearer " + c.jwtToken, nil
}

// clearToken drops the stored token so the next call re-logs in.
func (c *Client) clearToken() {
	c.mu.Lock()
	c.jwtToken = ""
	c.mu.Unlock()
}

// doRequest performs one HTTP round trip and returns the body and status.
// Transport-level retries happen inside the retryablehttp client.
func (c *Client) doRequest(ctx context.Context, method, path string, payload interface{}, token string) ([]byte, int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, 0, fmt.Errorf("rate limiter cancelled: %w", err)
	}

	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := nethttp.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response body: %w", err)
	}
	return body, resp.StatusCode, nil
}

// requestWithToken performs an authenticated request, handling token expiry:
// a 401 clears the stored token, re-logs in with backoff, and replays the
// call. Other failures are retried with exponential backoff up to
// APIMaxRetries attempts.
func (c *Client) requestWithToken(ctx context.Context, method, path string, payload interface{}) ([]byte, error) {
	var lastErr error
	relogins := 0
	for attempt := 0; attempt < constants.APIMaxRetries; {
		token, err := c.token(ctx)
		if err != nil {
			return nil, err
		}

		body, status, err := c.doRequest(ctx, method, path, payload, token)
		if err == nil && status == nethttp.StatusOK {
			return unwrapData(body), nil
		}

		if status == nethttp.StatusUnauthorized && relogins < constants.APIMaxLoginRetries {
			// Token expired on the backend. Re-login and replay; this does
			// not consume a retry attempt, but the relogin count bounds it.
			relogins++
			c.log.Warn().Str("path", path).Msg("token expired, re-login")
			c.clearToken()
			c.mu.Lock()
			loginErr := c.loginWithRetriesLocked(ctx)
			c.mu.Unlock()
			if loginErr != nil {
				return nil, fmt.Errorf("%w: %v", ErrTokenExpired, loginErr)
			}
			continue
		}

		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("HTTP error: %d - %s", status, string(body))
		}
		c.log.Warn().Err(lastErr).Str("path", path).Int("attempt", attempt+1).Msg("backend request failed")

		attempt++
		if attempt == constants.APIMaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(1<<attempt) * time.Second):
		}
	}
	return nil, fmt.Errorf("request failed after %d attempts for %s: %w", constants.APIMaxRetries, path, lastErr)
}

// unwrapData returns the "data" field when the response wraps its payload
// in one, and the body unchanged otherwise.
func unwrapData(body []byte) []byte {
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && len(envelope.Data) > 0 {
		return envelope.Data
	}
	return body
}
