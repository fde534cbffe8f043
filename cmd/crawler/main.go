// Command crawler runs one crawl against the configured catalog store and
// prints the run as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/xuai/navigator/internal/app"
	"github.com/xuai/navigator/pkg/config"
	"github.com/xuai/navigator/pkg/logging"
)

var version = "dev"

func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	var (
		contentPath string
		providers   string
		timeout     time.Duration
		showVersion bool
	)
	flag.StringVar(&contentPath, "content", os.Getenv("CRAWL_CONTENT"), "File with source text for the prompt, - for stdin")
	flag.StringVar(&providers, "providers", strings.Join(cfg.CrawlProviders, ","), "Comma-separated provider names (default: every provider with an API key)")
	flag.StringVar(&cfg.StoreDriver, "store", cfg.StoreDriver, "Catalog store driver (file or mysql)")
	flag.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "Directory holding the JSON data files")
	flag.StringVar(&cfg.CrawlerConfigPath, "crawler-config", cfg.CrawlerConfigPath, "Crawler config file path (YAML)")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	flag.DurationVar(&timeout, "timeout", 30*time.Minute, "Upper bound for the whole run")
	flag.BoolVar(&showVersion, "version", false, "Show version")
	flag.Parse()

	if showVersion {
		fmt.Printf("AI Navigator crawler %s\n", version)
		os.Exit(0)
	}

	cfg.CrawlProviders = config.SplitList(providers)
	logger := logging.New(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	if err := run(cfg, contentPath, timeout, logger); err != nil {
		logger.Error("crawl failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *app.Config, contentPath string, timeout time.Duration, logger *slog.Logger) error {
	content, err := readContent(contentPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("error closing components", "error", err)
		}
	}()

	result, runErr := a.Crawler.Run(ctx, content, "cli")
	if result != nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}
	}
	if runErr != nil {
		return runErr
	}

	// Other server instances drop their caches on this message.
	if a.Redis != nil {
		if err := a.Redis.PublishInvalidate(ctx, "crawler"); err != nil {
			logger.Warn("failed to publish cache invalidation", "error", err)
		}
	}
	return nil
}

func readContent(path string) (string, error) {
	switch path {
	case "":
		return "", nil
	case "-":
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return string(data), nil
	default:
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read content file: %w", err)
		}
		return string(data), nil
	}
}
