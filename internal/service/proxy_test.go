package service

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/specport/podio-gateway/internal/adapter/podio"
	"github.com/specport/podio-gateway/internal/config"
	"github.com/specport/podio-gateway/internal/domain"
	domainoauth "github.com/specport/podio-gateway/internal/domain/oauth"
)

func TestSelectAppToken(t *testing.T) {
	tokens := map[string]string{
		"12345": "token-packing",
		"67890": "token-docs",
	}

	require.Equal(t, "token-packing", SelectAppToken(tokens, "/item/app/12345/"))
	require.Equal(t, "token-docs", SelectAppToken(tokens, "/app/67890"))
	require.Equal(t, "token-packing", SelectAppToken(tokens, "/item/app/12345/filter?limit=30"))
	require.Empty(t, SelectAppToken(tokens, "/user/status"))
	require.Empty(t, SelectAppToken(nil, "/item/app/12345/"))
}

func TestProxy_ForwardAttachesTokens(t *testing.T) {
	h := newProxyHarness(t)
	h.forwarder.resp = &podio.ProxyResponse{Status: 200, ContentType: "application/json", Body: []byte(`{"items":[]}`)}

	resp, err := h.proxy.Forward(context.Background(), ProxyInput{
		Endpoint: "/item/app/12345/filter",
		Method:   "post",
		Body:     json.RawMessage(`{"limit":30}`),
	})
	require.NoError(t, err)
	require.Equal(t, 200, resp.Status)
	require.JSONEq(t, `{"items":[]}`, string(resp.Body))

	require.Equal(t, http.MethodPost, h.forwarder.got.Method)
	require.Equal(t, "/item/app/12345/filter", h.forwarder.got.Endpoint)
	require.Equal(t, "A1", h.forwarder.got.AccessToken)
	require.Equal(t, "token-packing", h.forwarder.got.AppToken)
}

func TestProxy_ForwardDefaultsToGET(t *testing.T) {
	h := newProxyHarness(t)
	h.forwarder.resp = &podio.ProxyResponse{Status: 200, Body: []byte(`{}`)}

	_, err := h.proxy.Forward(context.Background(), ProxyInput{Endpoint: "/user/status"})
	require.NoError(t, err)
	require.Equal(t, http.MethodGet, h.forwarder.got.Method)
	require.Empty(t, h.forwarder.got.AppToken)
}

func TestProxy_ForwardRejectsBadInput(t *testing.T) {
	h := newProxyHarness(t)

	_, err := h.proxy.Forward(context.Background(), ProxyInput{Endpoint: ""})
	require.ErrorIs(t, err, domainoauth.ErrInvalidRequest)

	_, err = h.proxy.Forward(context.Background(), ProxyInput{Endpoint: "/user/status", Method: "TRACE"})
	require.ErrorIs(t, err, domainoauth.ErrInvalidRequest)
}

func TestProxy_ForwardPropagatesReauth(t *testing.T) {
	h := newProxyHarness(t)
	require.NoError(t, h.store.Clear(context.Background()))

	_, err := h.proxy.Forward(context.Background(), ProxyInput{Endpoint: "/user/status"})
	require.True(t, NeedsReauth(err))
	require.Nil(t, h.forwarder.got, "nothing may be forwarded without a token")
}

// ---- Test harness and fakes ----

type proxyHarness struct {
	proxy     *ProxyService
	store     *recordingTokenStore
	forwarder *forwardingProviderClient
}

func newProxyHarness(t *testing.T) *proxyHarness {
	t.Helper()
	cfg := config.Config{
		PodioClientID:     "client",
		PodioClientSecret: "secret",
		TokenBufferWindow: 5 * time.Minute,
		RefreshTimeout:    10 * time.Second,
		PodioAppTokens:    map[string]string{"12345": "token-packing"},
	}
	store := &recordingTokenStore{record: &domain.TokenRecord{
		ID:          domain.CurrentTokenID,
		AccessToken: "A1",
		ExpiresAt:   time.Now().Add(time.Hour),
	}}
	forwarder := &forwardingProviderClient{}
	lifecycle := NewLifecycle(store, forwarder, cfg, nil, zap.NewNop())
	return &proxyHarness{
		proxy:     NewProxyService(lifecycle, forwarder, cfg, nil, zap.NewNop()),
		store:     store,
		forwarder: forwarder,
	}
}

type forwardingProviderClient struct {
	scriptedProviderClient
	resp *podio.ProxyResponse
	err  error
	got  *podio.ProxyRequest
}

func (f *forwardingProviderClient) Forward(_ context.Context, req podio.ProxyRequest) (*podio.ProxyResponse, error) {
	f.got = &req
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}
