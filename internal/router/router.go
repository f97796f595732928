package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/handler"
	"github.com/stemsi/exstem-session/internal/metrics"
	"github.com/stemsi/exstem-session/internal/middleware"
	"github.com/stemsi/exstem-session/internal/response"
	"github.com/stemsi/exstem-session/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Session *handler.SessionHandler
	WS      *handler.WSHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID", middleware.HeaderGuestID}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())
	router.Use(metrics.MetricsMiddleware())

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", metrics.PrometheusHandler())

	limiter := middleware.NewRateLimiter(cfg.RateLimitPerMinute)

	// ─── 1. Session Group (optional JWT, guest otherwise) ──────────────
	sessionAPI := router.Group("/api/v1/sessions")
	sessionAPI.Use(
		limiter.Middleware(),
		middleware.OptionalJWT(authService),
		middleware.NoStore(),
		middleware.Brotli(),
	)
	{
		sessionAPI.GET("/:exam_type", handlers.Session.ListSessions)
		sessionAPI.GET("/:exam_type/existing", handlers.Session.CheckExisting)
		sessionAPI.DELETE("/:exam_type", handlers.Session.DeleteSession)
	}

	// ─── 2. WebSocket Group (token via query param) ────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(limiter.Middleware(), middleware.OptionalJWT(authService))
	{
		ws.GET("/sessions/:exam_type/stream", handlers.WS.SessionStream)
	}

	// ─── 3. Developer Tooling ──────────────────────────────────────────
	adminAPI := router.Group("/api/v1/admin")
	adminAPI.Use(middleware.RequireDevTools(cfg.EnableDevAPIs))
	{
		adminAPI.DELETE("/sessions/:exam_type", handlers.Session.ClearSessions)
	}

	return router
}
