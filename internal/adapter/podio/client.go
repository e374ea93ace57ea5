package podio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/specport/podio-gateway/internal/config"
	"github.com/specport/podio-gateway/internal/domain"
	domainoauth "github.com/specport/podio-gateway/internal/domain/oauth"
)

// ProviderClient encapsulates outbound HTTP calls to Podio. It is pure I/O:
// no storage, no retry loops, one call per method.
type ProviderClient interface {
	ExchangeCode(ctx context.Context, code, redirectURI string) (*domainoauth.TokenResponse, error)
	Refresh(ctx context.Context, refreshToken string) (*domainoauth.TokenResponse, error)
	ClientCredentials(ctx context.Context, scope string) (*domainoauth.TokenResponse, error)
	FetchUser(ctx context.Context, accessToken string) (*domain.PortalUser, error)
	Forward(ctx context.Context, req ProxyRequest) (*ProxyResponse, error)
}

// ProxyRequest carries a browser-originated Podio API call through the gateway.
type ProxyRequest struct {
	Method      string
	Endpoint    string
	Body        []byte
	AccessToken string
	AppToken    string
}

// ProxyResponse is the provider response relayed back unchanged.
type ProxyResponse struct {
	Status      int
	ContentType string
	Body        []byte
}

// HTTPProviderClient is the default HTTP implementation.
type HTTPProviderClient struct {
	cfg        config.Config
	httpClient *http.Client
}

var _ ProviderClient = (*HTTPProviderClient)(nil)

// NewHTTPProviderClient constructs the default ProviderClient.
func NewHTTPProviderClient(cfg config.Config, client *http.Client) *HTTPProviderClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPProviderClient{cfg: cfg, httpClient: client}
}

// ExchangeCode performs the authorization_code grant.
func (c *HTTPProviderClient) ExchangeCode(ctx context.Context, code, redirectURI string) (*domainoauth.TokenResponse, error) {
	data := url.Values{}
	data.Set("grant_type", "authorization_code")
	data.Set("client_id", c.cfg.PodioClientID)
	data.Set("client_secret", c.cfg.PodioClientSecret)
	data.Set("code", code)
	data.Set("redirect_uri", redirectURI)
	return c.postToken(ctx, data)
}

// Refresh performs the refresh_token grant. An InvalidGrant result is
// terminal for this token family; callers must not retry it.
func (c *HTTPProviderClient) Refresh(ctx context.Context, refreshToken string) (*domainoauth.TokenResponse, error) {
	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("client_id", c.cfg.PodioClientID)
	data.Set("client_secret", c.cfg.PodioClientSecret)
	data.Set("refresh_token", refreshToken)
	return c.postToken(ctx, data)
}

// ClientCredentials performs the app-level grant with no user context.
func (c *HTTPProviderClient) ClientCredentials(ctx context.Context, scope string) (*domainoauth.TokenResponse, error) {
	data := url.Values{}
	data.Set("grant_type", "client_credentials")
	data.Set("client_id", c.cfg.PodioClientID)
	data.Set("client_secret", c.cfg.PodioClientSecret)
	if strings.TrimSpace(scope) != "" {
		data.Set("scope", scope)
	}
	return c.postToken(ctx, data)
}

func (c *HTTPProviderClient) postToken(ctx context.Context, data url.Values) (*domainoauth.TokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.PodioTokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &domainoauth.ProviderError{Kind: domainoauth.KindTransient, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &domainoauth.ProviderError{Kind: domainoauth.KindTransient, Err: err}
	}

	if resp.StatusCode >= 300 {
		return nil, normalizeTokenError(resp, body)
	}

	// Podio is observed to return HTML on misconfiguration even with a 2xx
	// status. Sniff before decoding instead of assuming JSON.
	if !looksLikeJSON(body) {
		return nil, &domainoauth.ProviderError{
			Kind:        domainoauth.KindMalformedResponse,
			Status:      resp.StatusCode,
			Description: "token endpoint returned a non-JSON body",
		}
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &domainoauth.ProviderError{
			Kind:   domainoauth.KindMalformedResponse,
			Status: resp.StatusCode,
			Err:    err,
		}
	}

	token := &domainoauth.TokenResponse{
		AccessToken:  stringValue(raw["access_token"]),
		RefreshToken: stringValue(raw["refresh_token"]),
		TokenType:    stringValue(raw["token_type"]),
		Scope:        stringValue(raw["scope"]),
		Raw:          raw,
	}
	if exp := raw["expires_in"]; exp != nil {
		token.ExpiresIn = int64Value(exp)
	}
	if strings.TrimSpace(token.AccessToken) == "" {
		return nil, &domainoauth.ProviderError{
			Kind:        domainoauth.KindMalformedResponse,
			Status:      resp.StatusCode,
			Description: "token response missing access_token",
		}
	}
	return token, nil
}

func normalizeTokenError(resp *http.Response, body []byte) error {
	pe := &domainoauth.ProviderError{Status: resp.StatusCode}

	if looksLikeJSON(body) {
		var errBody struct {
			Error       string `json:"error"`
			Description string `json:"error_description"`
		}
		if json.Unmarshal(body, &errBody) == nil {
			pe.Code = errBody.Error
			pe.Description = errBody.Description
		}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		pe.Kind = domainoauth.KindRateLimited
		pe.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
	case resp.StatusCode == http.StatusUnauthorized || pe.Code == "invalid_grant":
		pe.Kind = domainoauth.KindInvalidGrant
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		pe.Kind = domainoauth.KindInvalidGrant
	default:
		pe.Kind = domainoauth.KindTransient
	}
	return pe
}

// FetchUser loads the authenticated user's identity from /user/status.
func (c *HTTPProviderClient) FetchUser(ctx context.Context, accessToken string) (*domain.PortalUser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.PodioAPIBaseURL+"/user/status", nil)
	if err != nil {
		return nil, fmt.Errorf("build user request: %w", err)
	}
	req.Header.Set("Authorization", "OAuth2 "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &domainoauth.ProviderError{Kind: domainoauth.KindTransient, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &domainoauth.ProviderError{Kind: domainoauth.KindTransient, Err: err}
	}
	if resp.StatusCode >= 300 {
		return nil, normalizeTokenError(resp, body)
	}
	if !looksLikeJSON(body) {
		return nil, &domainoauth.ProviderError{
			Kind:        domainoauth.KindMalformedResponse,
			Status:      resp.StatusCode,
			Description: "user endpoint returned a non-JSON body",
		}
	}

	var raw struct {
		User struct {
			UserID int64  `json:"user_id"`
			Mail   string `json:"mail"`
		} `json:"user"`
		Profile struct {
			Name string `json:"name"`
			Mail []any  `json:"mail"`
		} `json:"profile"`
		Mailbox string `json:"mailbox"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &domainoauth.ProviderError{Kind: domainoauth.KindMalformedResponse, Status: resp.StatusCode, Err: err}
	}

	email := raw.User.Mail
	if email == "" && len(raw.Profile.Mail) > 0 {
		email = stringValue(raw.Profile.Mail[0])
	}
	return &domain.PortalUser{
		UserID:   raw.User.UserID,
		Name:     raw.Profile.Name,
		Email:    email,
		Username: raw.Mailbox,
	}, nil
}

// Forward relays a browser request to the Podio API verbatim, attaching the
// bearer token and, when present, the app-scoped token header.
func (c *HTTPProviderClient) Forward(ctx context.Context, preq ProxyRequest) (*ProxyResponse, error) {
	endpoint := preq.Endpoint
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}

	var reader io.Reader
	if len(preq.Body) > 0 {
		reader = bytes.NewReader(preq.Body)
	}
	req, err := http.NewRequestWithContext(ctx, preq.Method, c.cfg.PodioAPIBaseURL+endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("build proxy request: %w", err)
	}
	req.Header.Set("Authorization", "OAuth2 "+preq.AccessToken)
	req.Header.Set("Accept", "application/json")
	if len(preq.Body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	if preq.AppToken != "" {
		req.Header.Set("X-Podio-App", preq.AppToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &domainoauth.ProviderError{Kind: domainoauth.KindTransient, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, &domainoauth.ProviderError{Kind: domainoauth.KindTransient, Err: err}
	}

	return &ProxyResponse{
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

func looksLikeJSON(body []byte) bool {
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	return len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[')
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func stringValue(input any) string {
	switch v := input.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

func int64Value(input any) int64 {
	switch v := input.(type) {
	case float64:
		return int64(v)
	case float32:
		return int64(v)
	case int64:
		return v
	case int32:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return 0
}
