package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/xuai/navigator/internal/services"
	"github.com/xuai/navigator/pkg/config"
	"github.com/xuai/navigator/pkg/database"
	"github.com/xuai/navigator/pkg/llm"
	"github.com/xuai/navigator/pkg/metrics"
	"github.com/xuai/navigator/pkg/searchindex"
	"github.com/xuai/navigator/pkg/store"
	"github.com/xuai/navigator/pkg/store/filestore"
	"github.com/xuai/navigator/pkg/store/sqlstore"
	"github.com/xuai/navigator/pkg/types"
)

// App holds the components built from a Config. Optional integrations
// are nil when not configured.
type App struct {
	Config      *Config
	Store       store.Store
	Redis       *services.RedisService
	Kafka       *services.KafkaService
	Index       *searchindex.Index
	Catalog     *services.CatalogService
	Stats       *services.StatsService
	Crawler     *services.CrawlerService
	UsersConfig *config.UsersConfig
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

// New opens the store and connects the optional integrations. Failures of
// optional integrations are logged and the integration is left out.
func New(ctx context.Context, cfg *Config, logger *slog.Logger) (*App, error) {
	a := &App{
		Config:  cfg,
		Metrics: metrics.Get(),
		Logger:  logger,
	}

	users, err := LoadUsers(cfg.UsersConfigPath)
	if err != nil {
		return nil, err
	}
	a.UsersConfig = users

	st, err := OpenStore(cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Store = st

	if err := a.EnsureAdmin(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.connectRedis()
	a.connectKafka(ctx)
	a.connectIndex(ctx)

	catalogCfg := services.CatalogConfig{
		Store:   st,
		Metrics: a.Metrics,
		Logger:  logger,
	}
	// Interfaces stay nil when the integration is absent.
	if a.Index != nil {
		catalogCfg.Index = a.Index
	}
	if a.Kafka != nil {
		catalogCfg.Events = a.Kafka
	}
	if a.Redis != nil {
		catalogCfg.Broadcaster = a.Redis
	}
	catalogCfg.Analytics = selectAnalytics(st, a.Redis, logger)
	a.Catalog = services.NewCatalogService(catalogCfg)
	a.Stats = services.NewStatsService(st, a.Catalog.Analytics())

	crawler, err := a.buildCrawler()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Crawler = crawler
	return a, nil
}

// selectAnalytics backs analytics with search_logs and visit_stats in mysql
// mode, with Redis when it is configured, and in process otherwise.
func selectAnalytics(st store.Store, rs *services.RedisService, logger *slog.Logger) services.Analytics {
	if ss, ok := st.(*sqlstore.Store); ok {
		return services.NewSQLAnalytics(ss.DB(), logger)
	}
	if rs != nil {
		return services.NewRedisAnalytics(rs.Client(), logger)
	}
	return services.NewMemoryAnalytics()
}

// LoadUsers merges users.yaml with NAVIGATOR_ADMIN_EMAILS.
func LoadUsers(path string) (*config.UsersConfig, error) {
	users, err := config.LoadUsersConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load users config: %w", err)
	}
	users.Merge(config.LoadUsersConfigFromEnv())
	return users, nil
}

// OpenStore opens the configured catalog backend.
func OpenStore(cfg *Config, logger *slog.Logger) (store.Store, error) {
	switch cfg.StoreDriver {
	case StoreDriverMySQL:
		db, err := database.New(&database.Config{
			Host:     cfg.DBHost,
			Port:     cfg.DBPort,
			User:     cfg.DBUser,
			Password: cfg.DBPassword,
			DBName:   cfg.DBName,
			Debug:    cfg.Debug,
		})
		if err != nil {
			return nil, err
		}
		if cfg.AutoMigrate {
			if err := db.RunMigrations(); err != nil {
				db.Close()
				return nil, fmt.Errorf("failed to run migrations: %w", err)
			}
			logger.Info("database migrations applied")
		}
		logger.Info("connected to database", "host", cfg.DBHost, "name", cfg.DBName)
		return sqlstore.New(db.DB, logger), nil
	default:
		st, err := filestore.New(filestore.Config{
			DataDir:  cfg.DataDir,
			CacheTTL: cfg.CacheTTL,
			Logger:   logger,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("using file store", "dir", cfg.DataDir, "cache_ttl", cfg.CacheTTL)
		return st, nil
	}
}

// EnsureAdmin creates the bootstrap admin when ADMIN_PASSWORD is set and
// neither its username nor its email is taken.
func (a *App) EnsureAdmin(ctx context.Context) error {
	cfg := a.Config
	if cfg.AdminPassword == "" {
		return nil
	}
	for _, login := range []string{cfg.AdminUsername, cfg.AdminEmail} {
		_, err := a.Store.GetUserByLogin(ctx, login)
		if err == nil {
			return nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("failed to look up bootstrap admin: %w", err)
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.AdminPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}
	u, err := a.Store.CreateUser(ctx, store.CreateUserInput{
		Username:     cfg.AdminUsername,
		Email:        cfg.AdminEmail,
		Role:         string(types.UserRoleAdmin),
		PasswordHash: string(hash),
	})
	if err != nil {
		return fmt.Errorf("failed to create bootstrap admin: %w", err)
	}
	a.Logger.Info("bootstrap admin created", "id", u.ID, "username", u.Username)
	return nil
}

func (a *App) connectRedis() {
	if a.Config.RedisAddr == "" {
		a.Logger.Info("redis disabled, analytics stay in process")
		return
	}
	rs, err := services.NewRedisService(&services.RedisServiceConfig{
		Addr:     a.Config.RedisAddr,
		Password: a.Config.RedisPassword,
		DB:       a.Config.RedisDB,
		Logger:   a.Logger,
	})
	if err != nil {
		a.Logger.Warn("failed to create redis service", "error", err)
		return
	}
	a.Redis = rs
	a.Logger.Info("redis configured", "addr", a.Config.RedisAddr)
}

func (a *App) connectKafka(ctx context.Context) {
	if len(a.Config.KafkaBrokers) == 0 {
		return
	}
	ks := services.NewKafkaService(&services.KafkaServiceConfig{
		Brokers: a.Config.KafkaBrokers,
		Topic:   a.Config.KafkaTopic,
		Logger:  a.Logger,
	})
	ensureCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := ks.EnsureTopic(ensureCtx); err != nil {
		a.Logger.Warn("failed to ensure kafka topic, relying on auto-creation", "topic", ks.Topic(), "error", err)
	}
	a.Kafka = ks
}

func (a *App) connectIndex(ctx context.Context) {
	if len(a.Config.ESAddresses) == 0 {
		return
	}
	idx, err := searchindex.New(searchindex.Config{
		Addresses: a.Config.ESAddresses,
		Username:  a.Config.ESUsername,
		Password:  a.Config.ESPassword,
		APIKey:    a.Config.ESAPIKey,
		IndexName: a.Config.ESIndex,
	}, a.Logger)
	if err != nil {
		a.Logger.Warn("search index disabled", "error", err)
		return
	}
	ensureCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := idx.EnsureIndex(ensureCtx); err != nil {
		a.Logger.Warn("search index unavailable, falling back to scan", "index", idx.Name(), "error", err)
		return
	}
	a.Index = idx
}

func (a *App) buildCrawler() (*services.CrawlerService, error) {
	crawlerCfg, err := config.LoadCrawlerConfig(a.Config.CrawlerConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load crawler config: %w", err)
	}
	resolved := crawlerCfg.Resolve(os.Getenv, a.Config.CrawlProviders)
	timeout := time.Duration(crawlerCfg.Crawler.RequestTimeout) * time.Second
	providers := llm.NewProviders(resolved, timeout, a.Logger)
	if len(providers) == 0 {
		a.Logger.Info("no crawler providers have an API key, crawling disabled")
	}

	cc := services.CrawlerConfig{
		Providers:        providers,
		MaxContentLength: crawlerCfg.Crawler.MaxContentLength,
		FallbackCategory: crawlerCfg.Crawler.FallbackCategory,
		AutoActivate:     crawlerCfg.Crawler.AutoActivate,
		Metrics:          a.Metrics,
		Logger:           a.Logger,
	}
	if a.Kafka != nil {
		cc.Events = a.Kafka
	}
	return services.NewCrawlerService(a.Catalog, cc), nil
}

// Reindex rebuilds the search index from the store when one is configured.
func (a *App) Reindex(ctx context.Context) {
	if a.Index == nil {
		return
	}
	if err := a.Catalog.Reindex(ctx); err != nil {
		a.Logger.Warn("initial reindex failed", "error", err)
	}
}

// SubscribeInvalidate drops the local cache whenever another instance
// reports a write.
func (a *App) SubscribeInvalidate(ctx context.Context) {
	if a.Redis == nil {
		return
	}
	err := a.Redis.SubscribeInvalidate(ctx, func(reason string) {
		a.Logger.Debug("cache invalidated by peer", "reason", reason)
		a.Catalog.InvalidateLocal()
	})
	if err != nil {
		a.Logger.Warn("failed to subscribe to cache invalidation", "error", err)
	}
}

// Close releases every opened component.
func (a *App) Close() error {
	var errs []error
	if a.Kafka != nil {
		errs = append(errs, a.Kafka.Close())
	}
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	return errors.Join(errs...)
}
