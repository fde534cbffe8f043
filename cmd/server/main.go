package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xuai/navigator/internal/api"
	"github.com/xuai/navigator/internal/app"
	"github.com/xuai/navigator/internal/services"
	"github.com/xuai/navigator/pkg/logging"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	var (
		migrateOnly bool
		showVersion bool
	)
	flag.IntVar(&cfg.Port, "port", cfg.Port, "API server port")
	flag.StringVar(&cfg.StoreDriver, "store", cfg.StoreDriver, "Catalog store driver (file or mysql)")
	flag.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "Directory holding categories.json, tools.json and users.json")
	flag.StringVar(&cfg.DBHost, "db-host", cfg.DBHost, "Database host")
	flag.IntVar(&cfg.DBPort, "db-port", cfg.DBPort, "Database port")
	flag.StringVar(&cfg.DBUser, "db-user", cfg.DBUser, "Database user")
	flag.StringVar(&cfg.DBPassword, "db-password", cfg.DBPassword, "Database password")
	flag.StringVar(&cfg.DBName, "db-name", cfg.DBName, "Database name")
	flag.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "Redis address (empty disables Redis)")
	flag.StringVar(&cfg.JWTSecret, "jwt-secret", cfg.JWTSecret, "JWT secret key")
	flag.StringVar(&cfg.UsersConfigPath, "users-config", cfg.UsersConfigPath, "Users config file path (YAML)")
	flag.StringVar(&cfg.CrawlerConfigPath, "crawler-config", cfg.CrawlerConfigPath, "Crawler config file path (YAML)")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	flag.BoolVar(&migrateOnly, "migrate", false, "Run database migrations and exit")
	flag.BoolVar(&showVersion, "version", false, "Show version")
	flag.Parse()

	if showVersion {
		fmt.Printf("AI Navigator %s (built: %s)\n", version, buildTime)
		os.Exit(0)
	}

	logger := logging.New(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	if migrateOnly {
		if err := runMigrations(cfg, logger); err != nil {
			logger.Error("migration failed", "error", err)
			os.Exit(1)
		}
		return
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func runMigrations(cfg *app.Config, logger *slog.Logger) error {
	if cfg.StoreDriver != app.StoreDriverMySQL {
		return fmt.Errorf("migrations need STORE_DRIVER=%s", app.StoreDriverMySQL)
	}
	cfg.AutoMigrate = true
	st, err := app.OpenStore(cfg, logger)
	if err != nil {
		return err
	}
	return st.Close()
}

func run(cfg *app.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("error closing components", "error", err)
		}
	}()

	if len(a.UsersConfig.AdminEmails) > 0 {
		logger.Info("admin users configured", "emails", a.UsersConfig.AdminEmails)
	}

	go a.Reindex(ctx)
	a.SubscribeInvalidate(ctx)

	scheduler := services.NewSchedulerService(&services.SchedulerConfig{
		JobTimeout: 30 * time.Minute,
		Location:   time.Local,
		Logger:     logger,
	})
	if err := registerJobs(scheduler, a); err != nil {
		return err
	}
	scheduler.Start()
	defer scheduler.Stop()

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	api.Version = version

	server := api.NewServer(api.ServerConfig{
		Catalog:              a.Catalog,
		Stats:                a.Stats,
		Crawler:              a.Crawler,
		Scheduler:            scheduler,
		RedisService:         a.Redis,
		Metrics:              a.Metrics,
		UsersConfig:          a.UsersConfig,
		JWTSecret:            cfg.JWTSecret,
		TokenTTL:             cfg.TokenTTL,
		AllowedOrigins:       cfg.CORSOrigins,
		SubmissionsPerMinute: cfg.SubmissionsPerMinute,
		Logger:               logger,
	})

	err = server.Run(ctx, fmt.Sprintf(":%d", cfg.Port), 10*time.Second)
	logger.Info("shutting down")
	return err
}

func registerJobs(scheduler *services.SchedulerService, a *app.App) error {
	if err := scheduler.AddJob("recalculate-tool-counts", a.Config.RecountCron, func(ctx context.Context) error {
		return a.Catalog.RecalculateToolCounts(ctx)
	}); err != nil {
		return fmt.Errorf("invalid RECOUNT_CRON: %w", err)
	}

	if a.Config.CrawlerCron == "" {
		return nil
	}
	if len(a.Crawler.Status().Providers) == 0 {
		a.Logger.Warn("CRAWLER_CRON set but no crawler provider is configured, not scheduling")
		return nil
	}
	if err := scheduler.AddJob("crawler", a.Config.CrawlerCron, func(ctx context.Context) error {
		_, err := a.Crawler.Run(ctx, "", "scheduler")
		return err
	}); err != nil {
		return fmt.Errorf("invalid CRAWLER_CRON: %w", err)
	}
	return nil
}
