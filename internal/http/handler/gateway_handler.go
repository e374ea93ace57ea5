package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	domainoauth "github.com/specport/podio-gateway/internal/domain/oauth"
	"github.com/specport/podio-gateway/internal/service"
)

// GatewayHandler exposes the auth gateway HTTP surface consumed by the portal.
type GatewayHandler struct {
	Auth      *service.AuthService
	Lifecycle *service.Lifecycle
	Proxy     *service.ProxyService
}

// NewGatewayHandler creates the handler set.
func NewGatewayHandler(auth *service.AuthService, lifecycle *service.Lifecycle, proxy *service.ProxyService) *GatewayHandler {
	return &GatewayHandler{Auth: auth, Lifecycle: lifecycle, Proxy: proxy}
}

// GetAuthURL returns the consent-screen URL plus the state the browser must
// replay at callback.
func (h *GatewayHandler) GetAuthURL(c *gin.Context) {
	out, err := h.Auth.AuthorizationURL(c.Request.Context(), c.Query("redirect_uri"))
	if err != nil {
		status, body := errorBody(err)
		c.JSON(status, body)
		return
	}
	c.JSON(http.StatusOK, gin.H{"authUrl": out.AuthURL, "state": out.State})
}

// OAuthCallback completes the authorization-code flow.
func (h *GatewayHandler) OAuthCallback(c *gin.Context) {
	var in service.CallbackInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success":           false,
			"error":             "invalid_request",
			"error_description": "code and state are required.",
		})
		return
	}

	result, err := h.Auth.HandleCallback(c.Request.Context(), in)
	if err != nil {
		status, body := errorBody(err)
		body["success"] = false
		c.JSON(status, body)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"user":       result.User,
		"token_info": result.TokenInfo,
	})
}

// TokenRefresh forces a lifecycle pass and reports the resulting token state.
func (h *GatewayHandler) TokenRefresh(c *gin.Context) {
	token, err := h.Lifecycle.EnsureValid(c.Request.Context())
	if err != nil {
		status, body := errorBody(err)
		c.JSON(status, body)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token": token.Token,
		"expires_at":   token.ExpiresAt,
		"refreshed":    token.Refreshed,
	})
}

// APIProxy forwards an arbitrary Podio endpoint call with a valid bearer token.
func (h *GatewayHandler) APIProxy(c *gin.Context) {
	var req struct {
		Endpoint string               `json:"endpoint"`
		Options  service.ProxyOptions `json:"options"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Endpoint) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "endpoint is required."})
		return
	}

	resp, err := h.Proxy.Forward(c.Request.Context(), service.ProxyInput{
		Endpoint: req.Endpoint,
		Method:   req.Options.Method,
		Body:     req.Options.Body,
	})
	if err != nil {
		status, body := errorBody(err)
		c.JSON(status, body)
		return
	}

	contentType := resp.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	c.Data(resp.Status, contentType, resp.Body)
}

// Disconnect wipes the stored token set.
func (h *GatewayHandler) Disconnect(c *gin.Context) {
	if err := h.Auth.Disconnect(c.Request.Context()); err != nil {
		status, body := errorBody(err)
		c.JSON(status, body)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Healthz is the liveness probe.
func (h *GatewayHandler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// errorBody maps the error taxonomy to HTTP status plus a structured JSON
// body. The browser distinguishes "re-login" (needs_reauth), "operator
// action" (needs_setup), and "try again later" from these fields, never from
// the status code alone.
func errorBody(err error) (int, gin.H) {
	logger := zap.L()

	switch {
	case errors.Is(err, domainoauth.ErrNotConfigured):
		logger.Error("podio credentials missing", zap.Error(err))
		return http.StatusInternalServerError, gin.H{
			"error":             "configuration_error",
			"error_description": "Podio credentials are not configured. Contact support.",
			"needs_setup":       true,
		}
	case errors.Is(err, domainoauth.ErrNoToken):
		return http.StatusNotFound, gin.H{
			"error":             "no_token",
			"error_description": "No Podio connection exists yet.",
			"needs_reauth":      true,
		}
	case errors.Is(err, domainoauth.ErrNeedsReauth):
		logger.Warn("reauthorization required", zap.Error(err))
		return http.StatusUnauthorized, gin.H{
			"error":             "invalid_grant",
			"error_description": "Stored credentials were rejected. Re-authorization is required.",
			"needs_reauth":      true,
		}
	case errors.Is(err, domainoauth.ErrInvalidState):
		logger.Warn("oauth state rejected", zap.Error(err))
		return http.StatusBadRequest, gin.H{
			"error":             "invalid_state",
			"error_description": "State is missing, expired, or already used.",
		}
	case errors.Is(err, domainoauth.ErrInvalidRequest):
		return http.StatusBadRequest, gin.H{
			"error":             "invalid_request",
			"error_description": err.Error(),
		}
	}

	switch domainoauth.KindOf(err) {
	case domainoauth.KindRateLimited:
		body := gin.H{
			"error":             "rate_limited",
			"error_description": "Podio is rate limiting requests. Try again later.",
		}
		if retryAfter := domainoauth.RetryAfterOf(err); retryAfter > 0 {
			body["retry_after"] = int(retryAfter.Seconds())
		}
		logger.Warn("provider rate limited", zap.Error(err))
		return http.StatusTooManyRequests, body
	case domainoauth.KindInvalidGrant:
		logger.Warn("provider rejected grant", zap.Error(err))
		return http.StatusUnauthorized, gin.H{
			"error":             "invalid_grant",
			"error_description": "Podio rejected the credential.",
			"needs_reauth":      true,
		}
	case domainoauth.KindMalformedResponse:
		logger.Error("provider returned malformed response", zap.Error(err))
		return http.StatusBadGateway, gin.H{
			"error":             "invalid_response",
			"error_description": "Podio returned an unparseable response.",
		}
	case domainoauth.KindTransient:
		logger.Warn("provider unavailable", zap.Error(err))
		return http.StatusBadGateway, gin.H{
			"error":             "provider_unavailable",
			"error_description": "Podio could not be reached. Try again.",
		}
	}

	logger.Error("gateway failure", zap.Error(err))
	return http.StatusInternalServerError, gin.H{
		"error":             "server_error",
		"error_description": "Internal server error.",
	}
}
