package http

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/specport/podio-gateway/internal/config"
	"github.com/specport/podio-gateway/internal/http/handler"
	httpmiddleware "github.com/specport/podio-gateway/internal/http/middleware"
	"github.com/specport/podio-gateway/internal/metrics"
	"github.com/specport/podio-gateway/internal/middleware"
)

// NewRouter wires Gin routes and middleware.
func NewRouter(cfg config.Config, gw *handler.GatewayHandler, m *metrics.Metrics, rateLimiter *middleware.RateLimiter) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(nil))
	if rateLimiter != nil {
		r.Use(rateLimiter.Handler())
	}
	r.Use(middleware.CORS(cfg))
	r.Use(metrics.Middleware(m))
	r.Use(otelgin.Middleware(cfg.ServiceName))

	r.GET("/get-auth-url", gw.GetAuthURL)
	r.POST("/oauth-callback", gw.OAuthCallback)
	r.POST("/token-refresh", gw.TokenRefresh)
	r.POST("/api-proxy", gw.APIProxy)
	r.POST("/disconnect", gw.Disconnect)

	r.GET("/healthz", gw.Healthz)
	if m != nil {
		r.GET("/metrics", gin.WrapH(m.Handler()))
	}

	// The portal SPA is served as static files; all auth logic stays on the
	// API routes above.
	attachUIRoutes(r, filepath.Join("ui", "dist"))

	return r
}

func attachUIRoutes(r *gin.Engine, distDir string) {
	indexPath := filepath.Join(distDir, "index.html")

	r.NoRoute(func(c *gin.Context) {
		path := c.Request.URL.Path
		if isAPIPath(path) {
			c.Status(http.StatusNotFound)
			return
		}

		if filePath, ok := safeJoin(distDir, path); ok {
			if info, err := os.Stat(filePath); err == nil && !info.IsDir() {
				c.File(filePath)
				return
			}
		}

		c.File(indexPath)
	})
}

func isAPIPath(path string) bool {
	switch {
	case strings.HasPrefix(path, "/get-auth-url"),
		strings.HasPrefix(path, "/oauth-callback"),
		strings.HasPrefix(path, "/token-refresh"),
		strings.HasPrefix(path, "/api-proxy"),
		strings.HasPrefix(path, "/disconnect"),
		strings.HasPrefix(path, "/healthz"),
		strings.HasPrefix(path, "/metrics"):
		return true
	}
	return false
}

func safeJoin(baseDir, requestPath string) (string, bool) {
	trimmed := strings.TrimPrefix(requestPath, "/")
	cleaned := filepath.Clean(trimmed)
	if cleaned == "." {
		return filepath.Join(baseDir, cleaned), true
	}
	if strings.HasPrefix(cleaned, "..") {
		return "", false
	}
	return filepath.Join(baseDir, cleaned), true
}
