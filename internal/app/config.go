// Package app wires configuration and backing services shared by the
// server and crawler commands.
package app

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

const (
	StoreDriverFile  = "file"
	StoreDriverMySQL = "mysql"
)

// Config process configuration read from the environment.
type Config struct {
	// Server
	Port                 int           `env:"PORT" envDefault:"8080"`
	JWTSecret            string        `env:"JWT_SECRET" envDefault:"change-me-in-production"`
	TokenTTL             time.Duration `env:"TOKEN_TTL" envDefault:"24h"`
	CORSOrigins          []string      `env:"CORS_ORIGINS" envSeparator:","`
	SubmissionsPerMinute int           `env:"SUBMISSIONS_PER_MINUTE" envDefault:"5"`
	LogLevel             string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat            string        `env:"LOG_FORMAT" envDefault:"json"`
	Debug                bool          `env:"DEBUG" envDefault:"false"`

	// Storage
	StoreDriver string        `env:"STORE_DRIVER" envDefault:"file"`
	DataDir     string        `env:"DATA_DIR" envDefault:"./data"`
	CacheTTL    time.Duration `env:"CACHE_TTL" envDefault:"5m"`
	DBHost      string        `env:"DB_HOST" envDefault:"localhost"`
	DBPort      int           `env:"DB_PORT" envDefault:"3306"`
	DBUser      string        `env:"DB_USER" envDefault:"navigator"`
	DBPassword  string        `env:"DB_PASSWORD" envDefault:"navigator"`
	DBName      string        `env:"DB_NAME" envDefault:"navigator"`
	AutoMigrate bool          `env:"AUTO_MIGRATE" envDefault:"true"`

	// Redis (empty address disables shared analytics and cache fan-out)
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// Kafka (no brokers disables catalog events)
	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC" envDefault:"navigator.catalog"`

	// Elasticsearch (no addresses keeps search on the in-process scan)
	ESAddresses []string `env:"ES_ADDRESSES" envSeparator:","`
	ESUsername  string   `env:"ES_USERNAME"`
	ESPassword  string   `env:"ES_PASSWORD"`
	ESAPIKey    string   `env:"ES_API_KEY"`
	ESIndex     string   `env:"ES_INDEX" envDefault:"navigator-tools"`

	// Bootstrap admin created on startup when no user has this name or email
	AdminUsername string `env:"ADMIN_USERNAME" envDefault:"admin"`
	AdminEmail    string `env:"ADMIN_EMAIL" envDefault:"admin@xu-ai.com"`
	AdminPassword string `env:"ADMIN_PASSWORD"`

	// Admin roles and crawler
	UsersConfigPath   string   `env:"USERS_CONFIG_PATH" envDefault:"configs/users.yaml"`
	CrawlerConfigPath string   `env:"CRAWLER_CONFIG_PATH" envDefault:"configs/crawler.yaml"`
	CrawlProviders    []string `env:"CRAWL_PROVIDERS" envSeparator:","`
	CrawlerCron       string   `env:"CRAWLER_CRON"`
	RecountCron       string   `env:"RECOUNT_CRON" envDefault:"@daily"`
}

// LoadConfig reads an optional .env file and then the environment.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StoreDriverFile, StoreDriverMySQL:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q (want %s or %s)", c.StoreDriver, StoreDriverFile, StoreDriverMySQL)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT %d", c.Port)
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET must not be empty")
	}
	return nil
}
