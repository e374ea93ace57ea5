package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/specport/podio-gateway/internal/adapter/podio"
	"github.com/specport/podio-gateway/internal/config"
	"github.com/specport/podio-gateway/internal/domain"
	domainoauth "github.com/specport/podio-gateway/internal/domain/oauth"
	"github.com/specport/podio-gateway/internal/repository"
)

// AuthService orchestrates the authorization-code flow and token endpoints
// exposed to the browser.
type AuthService struct {
	states   repository.StateStore
	store    repository.TokenStore
	provider podio.ProviderClient
	cfg      config.Config
	logger   *zap.Logger
	now      func() time.Time
}

// NewAuthService wires the auth gateway service.
func NewAuthService(states repository.StateStore, store repository.TokenStore, provider podio.ProviderClient, cfg config.Config, logger *zap.Logger) *AuthService {
	if logger == nil {
		logger = zap.L()
	}
	return &AuthService{
		states:   states,
		store:    store,
		provider: provider,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// AuthURLOutput is the prepared authorization redirect.
type AuthURLOutput struct {
	AuthURL string `json:"auth_url"`
	State   string `json:"state"`
}

// CallbackInput captures the OAuth callback body sent by the browser.
type CallbackInput struct {
	Code        string `json:"code"`
	State       string `json:"state"`
	RedirectURI string `json:"redirect_uri,omitempty"`
}

// TokenInfo is the non-secret token metadata returned to the browser.
type TokenInfo struct {
	TokenType string    `json:"token_type"`
	Scope     string    `json:"scope,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CallbackResult is the normalized success payload of a completed login.
type CallbackResult struct {
	User      *domain.PortalUser `json:"user"`
	TokenInfo TokenInfo          `json:"token_info"`
}

// AuthorizationURL generates a state nonce, persists it, and returns the
// consent-screen URL the browser must redirect to.
func (s *AuthService) AuthorizationURL(ctx context.Context, redirectURI string) (*AuthURLOutput, error) {
	if !s.cfg.PodioConfigured() {
		return nil, domainoauth.ErrNotConfigured
	}

	redirect := strings.TrimSpace(redirectURI)
	if redirect == "" {
		redirect = s.cfg.PodioRedirectURI
	}
	if redirect == "" {
		return nil, domainoauth.ErrInvalidRequest
	}

	state, err := secureRandomString(32)
	if err != nil {
		return nil, fmt.Errorf("generate state: %w", err)
	}

	authURL, err := url.Parse(s.cfg.PodioAuthURL)
	if err != nil {
		return nil, fmt.Errorf("parse auth url: %w", err)
	}
	params := authURL.Query()
	params.Set("client_id", s.cfg.PodioClientID)
	params.Set("redirect_uri", redirect)
	params.Set("response_type", "code")
	params.Set("state", state)
	authURL.RawQuery = params.Encode()

	now := s.now().UTC()
	payload := domainoauth.State{
		State:       state,
		RedirectURI: redirect,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.cfg.StateTTL),
	}
	if err := s.states.SaveState(ctx, payload, s.cfg.StateTTL); err != nil {
		return nil, fmt.Errorf("persist state: %w", err)
	}

	return &AuthURLOutput{AuthURL: authURL.String(), State: state}, nil
}

// HandleCallback validates and consumes the state, exchanges the code, persists
// the token set, and returns the authenticated user. A state miss, expiry, or
// replay is a hard failure; the exchange is never attempted without it.
func (s *AuthService) HandleCallback(ctx context.Context, in CallbackInput) (*CallbackResult, error) {
	if !s.cfg.PodioConfigured() {
		return nil, domainoauth.ErrNotConfigured
	}
	if strings.TrimSpace(in.Code) == "" || strings.TrimSpace(in.State) == "" {
		return nil, domainoauth.ErrInvalidRequest
	}

	state, err := s.states.ConsumeState(ctx, in.State)
	if err != nil {
		return nil, fmt.Errorf("consume state: %w", err)
	}
	if state == nil || state.Expired(s.now()) {
		return nil, domainoauth.ErrInvalidState
	}

	redirect := strings.TrimSpace(in.RedirectURI)
	if redirect == "" {
		redirect = state.RedirectURI
	}
	if state.RedirectURI != "" && redirect != state.RedirectURI {
		return nil, domainoauth.ErrInvalidState
	}

	tokenResp, err := s.provider.ExchangeCode(ctx, in.Code, redirect)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	rec := domain.TokenRecord{
		ID:           domain.CurrentTokenID,
		AccessToken:  tokenResp.AccessToken,
		RefreshToken: tokenResp.RefreshToken,
		TokenType:    tokenTypeOrDefault(tokenResp.TokenType),
		Scope:        tokenResp.Scope,
		ExpiresAt:    now.Add(time.Duration(tokenResp.ExpiresIn) * time.Second),
		UpdatedAt:    now,
	}
	if err := s.store.Upsert(ctx, rec); err != nil {
		return nil, fmt.Errorf("persist token: %w", err)
	}

	user, err := s.provider.FetchUser(ctx, rec.AccessToken)
	if err != nil {
		// The token set is already durable; a failed identity lookup should
		// not force the user back through consent.
		s.logger.Warn("user lookup after exchange failed", zap.Error(err))
		user = &domain.PortalUser{}
	}

	s.logger.Info("authorization code exchanged",
		zap.Int64("user_id", user.UserID), zap.Time("expires_at", rec.ExpiresAt))

	return &CallbackResult{
		User: user,
		TokenInfo: TokenInfo{
			TokenType: rec.TokenType,
			Scope:     rec.Scope,
			ExpiresAt: rec.ExpiresAt,
		},
	}, nil
}

// Disconnect wipes the stored token set. The next request restarts from the
// authorization-code flow.
func (s *AuthService) Disconnect(ctx context.Context) error {
	if err := s.store.Clear(ctx); err != nil {
		return fmt.Errorf("disconnect: %w", err)
	}
	s.logger.Info("podio connection cleared")
	return nil
}

func tokenTypeOrDefault(tokenType string) string {
	if strings.TrimSpace(tokenType) == "" {
		return "bearer"
	}
	return tokenType
}

func secureRandomString(size int) (string, error) {
	if size <= 0 {
		size = 32
	}
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
