package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/specport/podio-gateway/internal/adapter/podio"
	"github.com/specport/podio-gateway/internal/config"
	"github.com/specport/podio-gateway/internal/domain"
	domainoauth "github.com/specport/podio-gateway/internal/domain/oauth"
	"github.com/specport/podio-gateway/internal/metrics"
	"github.com/specport/podio-gateway/internal/repository"
)

// AccessToken is the result of a successful EnsureValid call.
type AccessToken struct {
	Token     string
	ExpiresAt time.Time
	// Refreshed reports whether this request triggered a refresh.
	Refreshed bool
	// Stale marks the last-resort case: refresh failed transiently and the
	// stored token was returned while still inside its lifetime.
	Stale bool
}

// Lifecycle decides whether the stored token is usable, refreshes it when it
// nears expiry, and signals reauthorization upward when automatic recovery is
// impossible. It never retries internally; repeat attempts come from repeat
// inbound requests.
type Lifecycle struct {
	store    repository.TokenStore
	provider podio.ProviderClient
	cfg      config.Config
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewLifecycle wires the token lifecycle manager.
func NewLifecycle(store repository.TokenStore, provider podio.ProviderClient, cfg config.Config, m *metrics.Metrics, logger *zap.Logger) *Lifecycle {
	if logger == nil {
		logger = zap.L()
	}
	return &Lifecycle{
		store:    store,
		provider: provider,
		cfg:      cfg,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

// EnsureValid returns an access token usable for a provider call right now.
//
// Decision ladder per request:
//   - no credentials configured        -> ErrNotConfigured
//   - no stored token                  -> client_credentials when a scope is
//     configured, otherwise ErrNoToken (caller starts the code flow)
//   - remaining > buffer window        -> stored token as-is, zero HTTP calls
//   - remaining <= buffer window       -> one refresh attempt (10s cap)
//   - refresh invalid_grant            -> ErrNeedsReauth, store untouched
//   - refresh transient failure        -> stored token while unexpired, else error
func (l *Lifecycle) EnsureValid(ctx context.Context) (*AccessToken, error) {
	if !l.cfg.PodioConfigured() {
		return nil, domainoauth.ErrNotConfigured
	}

	rec, err := l.store.GetLatest(ctx)
	if err != nil {
		return nil, fmt.Errorf("load token: %w", err)
	}
	if rec == nil {
		return l.acquireAppToken(ctx)
	}

	remaining := rec.Remaining(l.now())
	if remaining > l.cfg.TokenBufferWindow {
		return &AccessToken{Token: rec.AccessToken, ExpiresAt: rec.ExpiresAt}, nil
	}

	return l.refresh(ctx, rec, remaining)
}

func (l *Lifecycle) refresh(ctx context.Context, rec *domain.TokenRecord, remaining time.Duration) (*AccessToken, error) {
	refreshCtx, cancel := context.WithTimeout(ctx, l.cfg.RefreshTimeout)
	defer cancel()

	resp, err := l.provider.Refresh(refreshCtx, rec.RefreshToken)
	if err != nil {
		return l.handleRefreshFailure(rec, remaining, err)
	}

	updated := l.recordFromResponse(resp)
	if updated.RefreshToken == "" {
		// Podio omits refresh_token on rotationless refreshes.
		updated.RefreshToken = rec.RefreshToken
	}
	if err := l.store.Upsert(ctx, updated); err != nil {
		return nil, fmt.Errorf("persist refreshed token: %w", err)
	}

	l.observeRefresh("success")
	l.logger.Info("access token refreshed", zap.Time("expires_at", updated.ExpiresAt))
	return &AccessToken{Token: updated.AccessToken, ExpiresAt: updated.ExpiresAt, Refreshed: true}, nil
}

func (l *Lifecycle) handleRefreshFailure(rec *domain.TokenRecord, remaining time.Duration, err error) (*AccessToken, error) {
	if domainoauth.IsInvalidGrant(err) {
		// The refresh token itself is dead. Terminal; the stored record is
		// left untouched so operators can inspect it.
		l.observeRefresh("needs_reauth")
		l.logger.Warn("refresh token rejected", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", domainoauth.ErrNeedsReauth, err)
	}

	// Transient, rate limited, or malformed. Fall back to the stored access
	// token only while it is still inside its lifetime; an expired token is
	// guaranteed to fail downstream, so surface the refresh error instead.
	if remaining > 0 {
		l.observeRefresh("stale_fallback")
		l.logger.Warn("refresh failed, serving stored token until expiry",
			zap.Duration("remaining", remaining), zap.Error(err))
		return &AccessToken{Token: rec.AccessToken, ExpiresAt: rec.ExpiresAt, Stale: true}, nil
	}

	l.observeRefresh("failed")
	return nil, err
}

func (l *Lifecycle) acquireAppToken(ctx context.Context) (*AccessToken, error) {
	if l.cfg.ClientCredentialsScope == "" {
		return nil, domainoauth.ErrNoToken
	}

	resp, err := l.provider.ClientCredentials(ctx, l.cfg.ClientCredentialsScope)
	if err != nil {
		if domainoauth.IsInvalidGrant(err) {
			l.observeRefresh("needs_reauth")
			return nil, fmt.Errorf("%w: %v", domainoauth.ErrNeedsReauth, err)
		}
		return nil, err
	}

	rec := l.recordFromResponse(resp)
	if err := l.store.Upsert(ctx, rec); err != nil {
		return nil, fmt.Errorf("persist app token: %w", err)
	}
	l.observeRefresh("acquired")
	l.logger.Info("app-level token acquired", zap.Time("expires_at", rec.ExpiresAt))
	return &AccessToken{Token: rec.AccessToken, ExpiresAt: rec.ExpiresAt, Refreshed: true}, nil
}

func (l *Lifecycle) recordFromResponse(resp *domainoauth.TokenResponse) domain.TokenRecord {
	now := l.now().UTC()
	tokenType := resp.TokenType
	if tokenType == "" {
		tokenType = "bearer"
	}
	return domain.TokenRecord{
		ID:           domain.CurrentTokenID,
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		TokenType:    tokenType,
		Scope:        resp.Scope,
		ExpiresAt:    now.Add(time.Duration(resp.ExpiresIn) * time.Second),
		UpdatedAt:    now,
	}
}

func (l *Lifecycle) observeRefresh(outcome string) {
	if l.metrics != nil {
		l.metrics.TokenRefreshes.WithLabelValues(outcome).Inc()
	}
}

// NeedsReauth reports whether err carries the reauthorization signal. The
// boolean travels through HTTP as needs_reauth so the browser can redirect
// into the authorization-code flow instead of silently failing.
func NeedsReauth(err error) bool {
	return errors.Is(err, domainoauth.ErrNeedsReauth) || errors.Is(err, domainoauth.ErrNoToken)
}
