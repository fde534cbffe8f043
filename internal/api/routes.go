package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xuai/navigator/internal/api/handlers"
	"github.com/xuai/navigator/internal/api/middleware"
	"github.com/xuai/navigator/internal/services"
	"github.com/xuai/navigator/pkg/config"
	"github.com/xuai/navigator/pkg/metrics"
	"github.com/xuai/navigator/pkg/types"
)

// Version reported by the health endpoints
var Version = "dev"

// ServerConfig API server dependencies. Catalog, Stats and JWTSecret are required.
type ServerConfig struct {
	Catalog      *services.CatalogService
	Stats        *services.StatsService
	Crawler      *services.CrawlerService
	Scheduler    *services.SchedulerService
	RedisService *services.RedisService
	Metrics      *metrics.Metrics
	UsersConfig  *config.UsersConfig
	JWTSecret    string
	TokenTTL     time.Duration
	// AllowedOrigins for CORS; empty allows any origin.
	AllowedOrigins []string
	// SubmissionsPerMinute per client IP on POST /submissions.
	SubmissionsPerMinute int
	Logger               *slog.Logger
}

// Server HTTP API of the directory
type Server struct {
	router            *gin.Engine
	cfg               ServerConfig
	jwtSecret         []byte
	startedAt         time.Time
	logger            *slog.Logger
	toolHandler       *handlers.ToolHandler
	categoryHandler   *handlers.CategoryHandler
	searchHandler     *handlers.SearchHandler
	submissionHandler *handlers.SubmissionHandler
	userHandler       *handlers.UserHandler
	authHandler       *handlers.AuthHandler
	statsHandler      *handlers.StatsHandler
	crawlerHandler    *handlers.CrawlerHandler
}

func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	st := cfg.Catalog.Store()

	s := &Server{
		router:            gin.New(),
		cfg:               cfg,
		jwtSecret:         []byte(cfg.JWTSecret),
		startedAt:         time.Now(),
		logger:            logger,
		toolHandler:       handlers.NewToolHandler(cfg.Catalog),
		categoryHandler:   handlers.NewCategoryHandler(cfg.Catalog),
		searchHandler:     handlers.NewSearchHandler(cfg.Catalog),
		submissionHandler: handlers.NewSubmissionHandler(cfg.Catalog),
		userHandler:       handlers.NewUserHandler(st),
		authHandler:       handlers.NewAuthHandler(st, cfg.JWTSecret, cfg.TokenTTL, cfg.UsersConfig),
		statsHandler:      handlers.NewStatsHandler(cfg.Stats, cfg.Catalog),
		crawlerHandler:    handlers.NewCrawlerHandler(cfg.Crawler, cfg.Scheduler),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(gin.Recovery())
	s.router.Use(middleware.RequestIDMiddleware())
	s.router.Use(middleware.LoggerMiddleware(s.logger))
	if s.cfg.Metrics != nil {
		s.router.Use(middleware.MetricsMiddleware(s.cfg.Metrics))
	}
	s.router.Use(middleware.CORSMiddleware(s.cfg.AllowedOrigins...))
	s.router.Use(middleware.LocaleMiddleware())

	s.router.GET("/health", s.health)
	s.router.GET("/ready", s.ready)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/categories", s.categoryHandler.List)
		v1.GET("/categories/:slug", s.categoryHandler.Get)

		tools := v1.Group("/tools")
		{
			tools.GET("", s.toolHandler.List)
			tools.GET("/featured", s.toolHandler.Featured)
			tools.GET("/latest", s.toolHandler.Latest)
			tools.GET("/:id", s.toolHandler.Get)
		}

		v1.GET("/search", s.searchHandler.Search)
		v1.GET("/search/hot", s.searchHandler.Hot)

		limiter := middleware.NewIPRateLimiter(s.cfg.SubmissionsPerMinute, 2)
		v1.POST("/submissions", middleware.RateLimitMiddleware(limiter), s.submissionHandler.Submit)

		auth := v1.Group("/auth")
		{
			auth.POST("/login", s.authHandler.Login)
			auth.GET("/me", middleware.AuthMiddleware(s.jwtSecret), s.authHandler.GetCurrentUser)
		}

		editors := middleware.RoleMiddleware(types.UserRoleAdmin, types.UserRoleContributor)
		adminOnly := middleware.RoleMiddleware(types.UserRoleAdmin)

		admin := v1.Group("/admin")
		admin.Use(middleware.AuthMiddleware(s.jwtSecret))
		{
			adminTools := admin.Group("/tools", editors)
			{
				adminTools.GET("", s.toolHandler.AdminList)
				adminTools.POST("", s.toolHandler.Create)
				adminTools.PUT("", s.toolHandler.UpdateByBody)
				adminTools.GET("/:id", s.toolHandler.AdminGet)
				adminTools.PUT("/:id", s.toolHandler.Update)
				adminTools.DELETE("/:id", adminOnly, s.toolHandler.Delete)
				adminTools.POST("/:id/approve", s.toolHandler.Approve)
			}

			categories := admin.Group("/categories", adminOnly)
			{
				categories.GET("", s.categoryHandler.AdminList)
				categories.POST("", s.categoryHandler.Create)
				categories.PUT("", s.categoryHandler.UpdateByBody)
				categories.POST("/recalculate", s.categoryHandler.Recalculate)
				categories.PUT("/:id", s.categoryHandler.Update)
				categories.DELETE("/:id", s.categoryHandler.Delete)
			}

			users := admin.Group("/users", adminOnly)
			{
				users.GET("", s.userHandler.ListUsers)
				users.POST("", s.userHandler.CreateUser)
				users.GET("/:id", s.userHandler.GetUser)
				users.PUT("/:id", s.userHandler.UpdateUser)
				users.DELETE("/:id", s.userHandler.DeleteUser)
			}

			admin.GET("/stats", adminOnly, s.statsHandler.Dashboard)
			admin.POST("/cache/clear", adminOnly, s.statsHandler.ClearCache)
			admin.POST("/search/reindex", adminOnly, s.statsHandler.Reindex)
			admin.POST("/crawler/run", adminOnly, s.crawlerHandler.Run)
			admin.GET("/crawler/status", adminOnly, s.crawlerHandler.Status)
		}
	}
}

// health liveness probe
func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, s.healthStatus("healthy", nil))
}

// ready checks the store; Redis is reported but does not fail readiness.
func (s *Server) ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{"store": "ok"}
	status, code := "ready", http.StatusOK
	if err := s.cfg.Catalog.Store().Health(ctx); err != nil {
		checks["store"] = err.Error()
		status, code = "not ready", http.StatusServiceUnavailable
	}
	if s.cfg.RedisService != nil {
		if s.cfg.RedisService.IsHealthy() {
			checks["redis"] = "ok"
		} else {
			checks["redis"] = s.cfg.RedisService.State()
		}
	}

	c.JSON(code, s.healthStatus(status, checks))
}

func (s *Server) healthStatus(status string, checks map[string]string) types.HealthStatus {
	return types.HealthStatus{
		Status:    status,
		Version:   Version,
		Uptime:    time.Since(s.startedAt).Round(time.Second).String(),
		Timestamp: time.Now().UTC(),
		Checks:    checks,
	}
}

// Run starts the HTTP server on addr.
// Run serves on addr until ctx is cancelled, then drains in-flight
// requests for up to shutdownTimeout.
func (s *Server) Run(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", addr, "version", Version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return <-errCh
}

// Router exposes the engine, e.g. for http.Server or tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}
