package api

import (
	"net/http"

	"github.com/core-tools/hsu-launcher/pkg/logging"

	"github.com/gin-gonic/gin"
)

type RouterOptions struct {
	Frontend FrontendOptions
	CORS     CORSConfig

	// RateLimit is applied when RequestsPerSecond is positive
	RateLimit RateLimitConfig

	// Metrics and MetricsHandler are optional
	Metrics        HTTPRecorder
	MetricsHandler http.Handler

	Debug bool
}

// NewRouter wires middleware and routes around service
func NewRouter(service AppService, options RouterOptions, logger logging.Logger) *gin.Engine {
	if !options.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestLogger(logger))
	if options.Metrics != nil {
		router.Use(Metrics(options.Metrics))
	}
	if len(options.CORS.AllowOrigins) > 0 {
		router.Use(CORS(options.CORS))
	}
	if options.RateLimit.RequestsPerSecond > 0 {
		logger.Infof("Rate limiting enabled, rps: %d, burst: %d", options.RateLimit.RequestsPerSecond, options.RateLimit.Burst)
		router.Use(GlobalRateLimit(options.RateLimit))
	}

	handlers := NewHandlers(service, options.Frontend, logger)

	api := router.Group("/api")
	{
		api.GET("/health", handlers.Health)
		api.GET("/frontend", handlers.Frontend)

		api.GET("/apps", handlers.ListApps)
		api.POST("/apps/launch", handlers.LaunchApp)
		api.POST("/apps/stop", handlers.StopApp)
		api.POST("/apps/add", handlers.AddApp)
		api.POST("/apps/update-workspace", handlers.UpdateWorkspace)
		api.GET("/apps/:id/logs", handlers.GetLogs)
		api.GET("/apps/:id/history", handlers.GetHistory)
		api.DELETE("/apps/:id", handlers.DeleteApp)
	}

	if options.MetricsHandler != nil {
		router.GET("/metrics", gin.WrapH(options.MetricsHandler))
	}

	return router
}
