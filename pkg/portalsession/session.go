// Package portalsession is the gateway's session client: the Go analog of the
// browser AuthContext. It caches a lightweight session record, checks its
// freshness locally on an interval, and signals when the user must be routed
// back through the authorization flow.
package portalsession

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// ErrReauthRequired is returned when the gateway reports that automatic token
// recovery is impossible and the user must re-authorize.
var ErrReauthRequired = errors.New("portalsession: reauthorization required")

// ErrNoSession is returned by operations that require a logged-in session.
var ErrNoSession = errors.New("portalsession: no active session")

// User is the cached identity, display-only.
type User struct {
	UserID   int64  `json:"user_id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Username string `json:"username,omitempty"`
}

// Session is the locally cached login state. It is trusted only for its own
// lifetime; the gateway is the authority.
type Session struct {
	User      User      `json:"user"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Client talks to the auth gateway. It is an explicit handle passed to
// consumers, not a package-level singleton, so tests can run isolated
// instances side by side.
type Client struct {
	baseURL    string
	httpClient *http.Client
	interval   time.Duration
	onReauth   func()
	now        func() time.Time

	mu      sync.RWMutex
	session *Session
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithCheckInterval overrides the session watcher interval.
func WithCheckInterval(d time.Duration) Option {
	return func(c *Client) { c.interval = d }
}

// WithReauthHandler registers the callback fired when the gateway signals
// needs_reauth or the local session goes stale.
func WithReauthHandler(fn func()) Option {
	return func(c *Client) { c.onReauth = fn }
}

// New creates a session client for the gateway at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		interval:   60 * time.Second,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AuthURL asks the gateway for the consent-screen URL. The returned state
// must be replayed at Login.
func (c *Client) AuthURL(ctx context.Context) (authURL, state string, err error) {
	var out struct {
		AuthURL string `json:"authUrl"`
		State   string `json:"state"`
	}
	if err := c.do(ctx, http.MethodGet, "/get-auth-url", nil, &out); err != nil {
		return "", "", err
	}
	return out.AuthURL, out.State, nil
}

// Login completes the callback leg and caches the resulting session.
func (c *Client) Login(ctx context.Context, code, state string) (*Session, error) {
	payload := map[string]string{"code": code, "state": state}
	var out struct {
		Success   bool `json:"success"`
		User      User `json:"user"`
		TokenInfo struct {
			ExpiresAt time.Time `json:"expires_at"`
		} `json:"token_info"`
	}
	if err := c.do(ctx, http.MethodPost, "/oauth-callback", payload, &out); err != nil {
		return nil, err
	}
	if !out.Success {
		return nil, fmt.Errorf("portalsession: login rejected")
	}

	session := &Session{User: out.User, ExpiresAt: out.TokenInfo.ExpiresAt}
	c.mu.Lock()
	c.session = session
	c.mu.Unlock()
	return session, nil
}

// Logout disconnects the gateway from Podio and drops the cached session.
func (c *Client) Logout(ctx context.Context) error {
	err := c.do(ctx, http.MethodPost, "/disconnect", nil, nil)
	c.mu.Lock()
	c.session = nil
	c.mu.Unlock()
	return err
}

// Session returns a copy of the cached session, or nil when logged out.
func (c *Client) Session() *Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return nil
	}
	copied := *c.session
	return &copied
}

// CheckSession is a purely local validity test: presence plus non-expiry of
// the cached session. No network call is made.
func (c *Client) CheckSession() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return false
	}
	return c.session.ExpiresAt.IsZero() || c.now().Before(c.session.ExpiresAt)
}

// ForceReauthenticate asks the gateway to refresh its token. On needs_reauth
// the reauth handler fires and ErrReauthRequired is returned so the caller
// can route the user into the authorization flow.
func (c *Client) ForceReauthenticate(ctx context.Context) error {
	var out struct {
		AccessToken string    `json:"access_token"`
		ExpiresAt   time.Time `json:"expires_at"`
		Refreshed   bool      `json:"refreshed"`
	}
	err := c.do(ctx, http.MethodPost, "/token-refresh", nil, &out)
	if err != nil {
		if errors.Is(err, ErrReauthRequired) {
			c.fireReauth()
		}
		return err
	}

	c.mu.Lock()
	if c.session != nil && !out.ExpiresAt.IsZero() {
		c.session.ExpiresAt = out.ExpiresAt
	}
	c.mu.Unlock()
	return nil
}

// Watch checks session freshness every interval (60s by default) and fires
// the reauth handler once when the session goes stale. It blocks until ctx
// is cancelled.
func (c *Client) Watch(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	notified := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.Session() == nil {
				continue
			}
			if c.CheckSession() {
				notified = false
				continue
			}
			if !notified {
				notified = true
				c.fireReauth()
			}
		}
	}
}

func (c *Client) fireReauth() {
	if c.onReauth != nil {
		c.onReauth()
	}
}

// gatewayError is the structured error body every gateway endpoint returns.
type gatewayError struct {
	Error       string `json:"error"`
	Description string `json:"error_description"`
	NeedsReauth bool   `json:"needs_reauth"`
	NeedsSetup  bool   `json:"needs_setup"`
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call gateway: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read gateway response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var gwErr gatewayError
		_ = json.Unmarshal(data, &gwErr)
		if gwErr.NeedsReauth {
			return fmt.Errorf("%w: %s", ErrReauthRequired, gwErr.Error)
		}
		if gwErr.Error != "" {
			return fmt.Errorf("portalsession: gateway error %s: %s", gwErr.Error, gwErr.Description)
		}
		return fmt.Errorf("portalsession: gateway status %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode gateway response: %w", err)
		}
	}
	return nil
}
