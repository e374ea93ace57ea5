package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/specport/podio-gateway/internal/adapter/podio"
	"github.com/specport/podio-gateway/internal/config"
	domainoauth "github.com/specport/podio-gateway/internal/domain/oauth"
	"github.com/specport/podio-gateway/internal/metrics"
)

// ProxyOptions mirrors the fetch-style options object the browser sends.
type ProxyOptions struct {
	Method string          `json:"method,omitempty"`
	Body   json.RawMessage `json:"body,omitempty"`
}

// ProxyInput is the browser's "call this Podio endpoint" request.
type ProxyInput struct {
	Endpoint string          `json:"endpoint"`
	Method   string          `json:"method,omitempty"`
	Body     json.RawMessage `json:"body,omitempty"`
}

// ProxyService obtains a currently-valid access token and forwards arbitrary
// Podio API calls on behalf of the browser.
type ProxyService struct {
	lifecycle *Lifecycle
	provider  podio.ProviderClient
	cfg       config.Config
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewProxyService wires the API proxy.
func NewProxyService(lifecycle *Lifecycle, provider podio.ProviderClient, cfg config.Config, m *metrics.Metrics, logger *zap.Logger) *ProxyService {
	if logger == nil {
		logger = zap.L()
	}
	return &ProxyService{lifecycle: lifecycle, provider: provider, cfg: cfg, metrics: m, logger: logger}
}

// Forward relays the request to Podio with a valid bearer token attached.
// The response status and body pass through unchanged.
func (s *ProxyService) Forward(ctx context.Context, in ProxyInput) (*podio.ProxyResponse, error) {
	endpoint := strings.TrimSpace(in.Endpoint)
	if endpoint == "" {
		return nil, domainoauth.ErrInvalidRequest
	}
	method := strings.ToUpper(strings.TrimSpace(in.Method))
	if method == "" {
		method = http.MethodGet
	}
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch:
	default:
		return nil, domainoauth.ErrInvalidRequest
	}

	token, err := s.lifecycle.EnsureValid(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := s.provider.Forward(ctx, podio.ProxyRequest{
		Method:      method,
		Endpoint:    endpoint,
		Body:        in.Body,
		AccessToken: token.Token,
		AppToken:    SelectAppToken(s.cfg.PodioAppTokens, endpoint),
	})
	if err != nil {
		return nil, fmt.Errorf("forward %s %s: %w", method, endpoint, err)
	}

	if s.metrics != nil {
		s.metrics.ProxyRequests.WithLabelValues(method, strconv.Itoa(resp.Status)).Inc()
	}
	return resp, nil
}

// SelectAppToken picks the app-scoped token whose app ID appears as a path
// segment of the forwarded endpoint. Returns "" when no configured app matches.
func SelectAppToken(appTokens map[string]string, endpoint string) string {
	if len(appTokens) == 0 {
		return ""
	}
	path := endpoint
	if idx := strings.IndexAny(path, "?#"); idx >= 0 {
		path = path[:idx]
	}
	for _, segment := range strings.Split(path, "/") {
		if segment == "" {
			continue
		}
		if token, ok := appTokens[segment]; ok {
			return token
		}
	}
	return ""
}
