package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/specport/podio-gateway/internal/adapter/podio"
	"github.com/specport/podio-gateway/internal/config"
	"github.com/specport/podio-gateway/internal/domain"
	domainoauth "github.com/specport/podio-gateway/internal/domain/oauth"
)

func TestLifecycle_ValidTokenSkipsRefresh(t *testing.T) {
	h := newLifecycleHarness(t)
	h.seedToken(h.now.Add(time.Hour))

	token, err := h.lifecycle.EnsureValid(context.Background())
	require.NoError(t, err)
	require.Equal(t, "A1", token.Token)
	require.False(t, token.Refreshed)
	require.Zero(t, h.provider.refreshCalls, "no refresh expected outside the buffer window")
}

func TestLifecycle_ExpiringTokenRefreshesOnce(t *testing.T) {
	h := newLifecycleHarness(t)
	h.seedToken(h.now.Add(60 * time.Second))
	h.provider.refreshResp = &domainoauth.TokenResponse{
		AccessToken:  "A2",
		RefreshToken: "R2",
		TokenType:    "bearer",
		ExpiresIn:    3600,
	}

	token, err := h.lifecycle.EnsureValid(context.Background())
	require.NoError(t, err)
	require.Equal(t, "A2", token.Token)
	require.True(t, token.Refreshed)
	require.Equal(t, 1, h.provider.refreshCalls)

	stored := h.store.current()
	require.NotNil(t, stored)
	require.Equal(t, "A2", stored.AccessToken)
	require.Equal(t, "R2", stored.RefreshToken)
	require.Equal(t, h.now.Add(time.Hour), stored.ExpiresAt)
}

func TestLifecycle_RefreshKeepsOldRefreshTokenWhenOmitted(t *testing.T) {
	h := newLifecycleHarness(t)
	h.seedToken(h.now.Add(time.Minute))
	h.provider.refreshResp = &domainoauth.TokenResponse{AccessToken: "A2", ExpiresIn: 3600}

	_, err := h.lifecycle.EnsureValid(context.Background())
	require.NoError(t, err)
	require.Equal(t, "R1", h.store.current().RefreshToken)
}

func TestLifecycle_InvalidGrantSignalsReauthWithoutWrite(t *testing.T) {
	h := newLifecycleHarness(t)
	h.seedToken(h.now.Add(time.Minute))
	before := *h.store.current()
	h.provider.refreshErr = &domainoauth.ProviderError{
		Kind:   domainoauth.KindInvalidGrant,
		Status: 401,
		Code:   "invalid_grant",
	}

	_, err := h.lifecycle.EnsureValid(context.Background())
	require.ErrorIs(t, err, domainoauth.ErrNeedsReauth)
	require.True(t, NeedsReauth(err))
	require.Equal(t, before, *h.store.current(), "the stored record must be untouched")
	require.Zero(t, h.store.upserts)
}

func TestLifecycle_TransientFailureFallsBackToStoredToken(t *testing.T) {
	h := newLifecycleHarness(t)
	h.seedToken(h.now.Add(time.Minute))
	h.provider.refreshErr = &domainoauth.ProviderError{Kind: domainoauth.KindTransient, Err: errors.New("timeout")}

	token, err := h.lifecycle.EnsureValid(context.Background())
	require.NoError(t, err)
	require.Equal(t, "A1", token.Token)
	require.True(t, token.Stale)
	require.False(t, token.Refreshed)
}

func TestLifecycle_TransientFailureOnExpiredTokenSurfaces(t *testing.T) {
	h := newLifecycleHarness(t)
	h.seedToken(h.now.Add(-time.Minute))
	h.provider.refreshErr = &domainoauth.ProviderError{Kind: domainoauth.KindTransient, Err: errors.New("timeout")}

	_, err := h.lifecycle.EnsureValid(context.Background())
	require.Error(t, err)
	require.True(t, domainoauth.IsTransient(err))
	require.False(t, NeedsReauth(err))
}

func TestLifecycle_NoTokenWithoutScopeDirectsToAuthFlow(t *testing.T) {
	h := newLifecycleHarness(t)

	_, err := h.lifecycle.EnsureValid(context.Background())
	require.ErrorIs(t, err, domainoauth.ErrNoToken)
	require.True(t, NeedsReauth(err))
	require.Zero(t, h.provider.ccCalls)
}

func TestLifecycle_NoTokenAcquiresAppLevelGrant(t *testing.T) {
	h := newLifecycleHarness(t)
	h.cfg.ClientCredentialsScope = "global:read"
	h.rebuild()
	h.provider.ccResp = &domainoauth.TokenResponse{AccessToken: "APP1", ExpiresIn: 28800}

	token, err := h.lifecycle.EnsureValid(context.Background())
	require.NoError(t, err)
	require.Equal(t, "APP1", token.Token)
	require.True(t, token.Refreshed)
	require.Equal(t, 1, h.provider.ccCalls)
	require.Equal(t, "APP1", h.store.current().AccessToken)
}

func TestLifecycle_MissingCredentialsIsConfigurationError(t *testing.T) {
	h := newLifecycleHarness(t)
	h.cfg.PodioClientID = ""
	h.rebuild()

	_, err := h.lifecycle.EnsureValid(context.Background())
	require.ErrorIs(t, err, domainoauth.ErrNotConfigured)
	require.False(t, NeedsReauth(err))
}

// ---- Test harness and fakes ----

type lifecycleHarness struct {
	lifecycle *Lifecycle
	store     *recordingTokenStore
	provider  *scriptedProviderClient
	cfg       config.Config
	now       time.Time
}

func newLifecycleHarness(t *testing.T) *lifecycleHarness {
	t.Helper()
	h := &lifecycleHarness{
		store:    &recordingTokenStore{},
		provider: &scriptedProviderClient{},
		cfg: config.Config{
			PodioClientID:     "client",
			PodioClientSecret: "secret",
			TokenBufferWindow: 5 * time.Minute,
			RefreshTimeout:    10 * time.Second,
		},
		now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
	}
	h.rebuild()
	return h
}

func (h *lifecycleHarness) rebuild() {
	h.lifecycle = NewLifecycle(h.store, h.provider, h.cfg, nil, zap.NewNop())
	h.lifecycle.now = func() time.Time { return h.now }
}

func (h *lifecycleHarness) seedToken(expiresAt time.Time) {
	h.store.record = &domain.TokenRecord{
		ID:           domain.CurrentTokenID,
		AccessToken:  "A1",
		RefreshToken: "R1",
		TokenType:    "bearer",
		ExpiresAt:    expiresAt,
		UpdatedAt:    h.now.Add(-time.Hour),
	}
}

type recordingTokenStore struct {
	mu      sync.Mutex
	record  *domain.TokenRecord
	upserts int
}

func (s *recordingTokenStore) GetLatest(context.Context) (*domain.TokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.record == nil {
		return nil, nil
	}
	rec := *s.record
	return &rec, nil
}

func (s *recordingTokenStore) Upsert(_ context.Context, record domain.TokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts++
	s.record = &record
	return nil
}

func (s *recordingTokenStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record = nil
	return nil
}

func (s *recordingTokenStore) current() *domain.TokenRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record
}

type scriptedProviderClient struct {
	refreshResp  *domainoauth.TokenResponse
	refreshErr   error
	refreshCalls int
	ccResp       *domainoauth.TokenResponse
	ccErr        error
	ccCalls      int
}

func (f *scriptedProviderClient) ExchangeCode(context.Context, string, string) (*domainoauth.TokenResponse, error) {
	return nil, fmt.Errorf("exchange not scripted")
}

func (f *scriptedProviderClient) Refresh(context.Context, string) (*domainoauth.TokenResponse, error) {
	f.refreshCalls++
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	if f.refreshResp == nil {
		return nil, fmt.Errorf("refresh not scripted")
	}
	return f.refreshResp, nil
}

func (f *scriptedProviderClient) ClientCredentials(context.Context, string) (*domainoauth.TokenResponse, error) {
	f.ccCalls++
	if f.ccErr != nil {
		return nil, f.ccErr
	}
	if f.ccResp == nil {
		return nil, fmt.Errorf("client credentials not scripted")
	}
	return f.ccResp, nil
}

func (f *scriptedProviderClient) FetchUser(context.Context, string) (*domain.PortalUser, error) {
	return nil, fmt.Errorf("user not scripted")
}

func (f *scriptedProviderClient) Forward(context.Context, podio.ProxyRequest) (*podio.ProxyResponse, error) {
	return nil, fmt.Errorf("forward not scripted")
}
