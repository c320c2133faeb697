package bootstrap

import (
	"log"
	"os"

	"github.com/Adam151997/Y-CRM-sub000/internal/config"
	"github.com/Adam151997/Y-CRM-sub000/internal/handlers"
	"github.com/Adam151997/Y-CRM-sub000/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// setupRouter configures the Gin router with all routes and middleware
func setupRouter(app *Application) *gin.Engine {
	setupGinMode()
	r := gin.New()

	r.Use(middleware.MetricsMiddleware(app.MetricsRecorder))
	r.Use(gin.Logger(), gin.Recovery())

	connHandler := handlers.NewConnectionHandler(
		app.Broker,
		app.StateManager,
		app.AuditService,
		app.Config.BaseURL,
	)
	tokenHandler := handlers.NewTokenHandler(app.Broker)
	healthHandler := handlers.NewHealthHandler(app.DB)

	// Health check endpoint
	r.GET("/healthz", healthHandler.Healthz)

	// Metrics endpoint
	if app.Config.MetricsEnabled {
		log.Printf("Prometheus metrics enabled at /metrics")
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	// Connect flow, rate-limited per client IP
	connectRoutes := r.Group("/")
	if app.Config.RateLimitEnabled {
		limiter := setupRateLimiter(app.Config)
		connectRoutes.Use(limiter)
	}
	connectRoutes.GET("/connect/:provider", connHandler.Connect)
	connectRoutes.GET("/oauth/callback/:provider", connHandler.Callback)

	// Tenant-facing connection API
	api := r.Group("/api")
	api.GET("/connections/:tenant", connHandler.ListConnections)
	api.GET("/connections/:tenant/:provider", connHandler.GetConnection)
	api.DELETE("/connections/:tenant/:provider", connHandler.Disconnect)

	// Internal service-to-service token endpoint
	internal := r.Group("/internal")
	internal.Use(middleware.InternalAuthMiddleware(app.Config.InternalAPISecret))
	internal.POST("/token", tokenHandler.Token)

	log.Printf("Server configured at %s (base URL %s)", app.Config.ServerAddr, app.Config.BaseURL)
	return r
}

// setupRateLimiter builds the rate limiting middleware, falling back to
// the memory store when Redis is unavailable
func setupRateLimiter(cfg *config.Config) gin.HandlerFunc {
	storeType := middleware.RateLimitStoreMemory
	if cfg.CacheBackend == config.CacheBackendRedis {
		storeType = middleware.RateLimitStoreRedis
	}

	limiter, err := middleware.NewRateLimiter(middleware.RateLimitConfig{
		Rate:          cfg.RateLimitRate,
		StoreType:     storeType,
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		RedisDB:       cfg.RedisDB,
	})
	if err != nil {
		log.Printf("Warning: %v; falling back to memory rate limit store", err)
		limiter, err = middleware.NewRateLimiter(middleware.RateLimitConfig{
			Rate:      cfg.RateLimitRate,
			StoreType: middleware.RateLimitStoreMemory,
		})
		if err != nil {
			log.Fatalf("Failed to create rate limiter: %v", err)
		}
	}
	return limiter
}

// setupGinMode sets release mode unless GIN_MODE says otherwise
func setupGinMode() {
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
}
