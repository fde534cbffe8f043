package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/xuai/navigator/pkg/llm"
	"github.com/xuai/navigator/pkg/metrics"
	"github.com/xuai/navigator/pkg/models"
	"github.com/xuai/navigator/pkg/store"
)

var (
	ErrCrawlerRunning = errors.New("crawler is already running")
	ErrNoProviders    = errors.New("no llm providers configured")
)

const (
	DefaultMaxContentLength = 15000
	truncatedMarker         = "...[内容已截断]"
)

// Crawl run states
const (
	CrawlStatusRunning   = "running"
	CrawlStatusSucceeded = "succeeded"
	CrawlStatusFailed    = "failed"
)

const extractPromptTemplate = `# Background
你是一个专业的AI工具数据生成器，负责生成和整理AI相关工具的信息。

# Objective
请生成AI工具的关键信息：
1. 工具名称 (name)
2. 工具描述 (description)，包含核心功能和使用场景
3. 工具URL (url)，必须是完整且可访问的链接
4. 工具分类 (category)，必须是下列分类之一：%s
5. 工具标签 (tags)，根据描述生成的多个关键词

# Expected Output
只返回一个JSON数组，至少包含10个工具，格式如下：
[
  {
    "name": "工具名称",
    "description": "工具描述",
    "url": "https://example.com",
    "category": "工具分类",
    "tags": ["标签1", "标签2"]
  }
]

# Content
%s
`

// CrawlRun one crawler execution
type CrawlRun struct {
	ID          string              `json:"id"`
	Status      string              `json:"status"`
	TriggeredBy string              `json:"triggeredBy"`
	Providers   []string            `json:"providers"`
	Extracted   int                 `json:"extracted"`
	Result      *store.ImportResult `json:"result,omitempty"`
	Error       string              `json:"error,omitempty"`
	StartedAt   time.Time           `json:"startedAt"`
	FinishedAt  *time.Time          `json:"finishedAt,omitempty"`
}

// CrawlStatus crawler state for the admin API
type CrawlStatus struct {
	Running   bool      `json:"running"`
	Providers []string  `json:"providers"`
	LastRun   *CrawlRun `json:"lastRun,omitempty"`
}

// CrawlerConfig crawler settings
type CrawlerConfig struct {
	Providers        []llm.Provider
	MaxContentLength int
	// FallbackCategory id, slug or name receiving tools with an unknown category.
	FallbackCategory string
	// AutoActivate publishes crawled tools without review.
	AutoActivate bool
	Events       EventPublisher
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
}

// CrawlerService asks LLM providers for AI tools and merges them into the catalog.
// Only one run executes at a time.
type CrawlerService struct {
	catalog          *CatalogService
	providers        []llm.Provider
	maxContentLength int
	fallbackCategory string
	autoActivate     bool
	events           EventPublisher
	metrics          *metrics.Metrics
	logger           *slog.Logger

	mu      sync.Mutex
	running bool
	last    *CrawlRun
}

func NewCrawlerService(catalog *CatalogService, cfg CrawlerConfig) *CrawlerService {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	events := cfg.Events
	if events == nil {
		events = NoopPublisher{}
	}
	maxLen := cfg.MaxContentLength
	if maxLen <= 0 {
		maxLen = DefaultMaxContentLength
	}
	return &CrawlerService{
		catalog:          catalog,
		providers:        cfg.Providers,
		maxContentLength: maxLen,
		fallbackCategory: cfg.FallbackCategory,
		autoActivate:     cfg.AutoActivate,
		events:           events,
		metrics:          cfg.Metrics,
		logger:           logger.With("component", "crawler"),
	}
}

func (c *CrawlerService) providerNames() []string {
	names := make([]string, 0, len(c.providers))
	for _, p := range c.providers {
		names = append(names, p.Name())
	}
	return names
}

// Status reports whether a run is in progress and the last run.
func (c *CrawlerService) Status() CrawlStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := CrawlStatus{Running: c.running, Providers: c.providerNames()}
	if c.last != nil {
		cp := *c.last
		st.LastRun = &cp
	}
	return st
}

func (c *CrawlerService) begin(triggeredBy string) (*CrawlRun, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil, ErrCrawlerRunning
	}
	if len(c.providers) == 0 {
		return nil, ErrNoProviders
	}
	c.running = true
	run := &CrawlRun{
		ID:          uuid.New().String(),
		Status:      CrawlStatusRunning,
		TriggeredBy: triggeredBy,
		Providers:   c.providerNames(),
		StartedAt:   time.Now().UTC(),
	}
	c.last = run
	return run, nil
}

func (c *CrawlerService) finish(run *CrawlRun, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().UTC()
	run.FinishedAt = &now
	if err != nil {
		run.Status = CrawlStatusFailed
		run.Error = err.Error()
	} else {
		run.Status = CrawlStatusSucceeded
	}
	c.running = false
}

// Start launches a run in the background and returns it immediately.
func (c *CrawlerService) Start(ctx context.Context, content, triggeredBy string) (*CrawlRun, error) {
	run, err := c.begin(triggeredBy)
	if err != nil {
		return nil, err
	}
	go c.execute(context.WithoutCancel(ctx), run, content)

	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *run
	return &cp, nil
}

// Run executes one crawl and waits for it.
func (c *CrawlerService) Run(ctx context.Context, content, triggeredBy string) (*CrawlRun, error) {
	run, err := c.begin(triggeredBy)
	if err != nil {
		return nil, err
	}
	err = c.execute(ctx, run, content)

	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *run
	return &cp, err
}

func (c *CrawlerService) execute(ctx context.Context, run *CrawlRun, content string) (err error) {
	start := time.Now()
	c.logger.Info("crawl started", "run_id", run.ID, "providers", run.Providers, "triggered_by", run.TriggeredBy)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("crawler panic: %v", r)
		}
		c.finish(run, err)

		var added, merged, skipped int
		if run.Result != nil {
			added, merged, skipped = run.Result.Added, run.Result.Merged, run.Result.Skipped
		}
		if c.metrics != nil {
			c.metrics.ObserveCrawl(run.Status, added, merged, skipped, time.Since(start))
		}
		if err != nil {
			c.logger.Error("crawl failed", "run_id", run.ID, "error", err)
			return
		}
		c.logger.Info("crawl finished", "run_id", run.ID, "extracted", run.Extracted,
			"added", added, "merged", merged, "skipped", skipped, "duration", time.Since(start))
		if perr := c.events.Publish(ctx, NewCatalogEvent(EventCrawlerCompleted, 0, run)); perr != nil {
			c.logger.Warn("failed to publish crawler event", "error", perr)
		}
	}()

	cats, err := c.catalog.ActiveCategories(ctx)
	if err != nil {
		return fmt.Errorf("failed to load categories: %w", err)
	}
	prompt := BuildExtractPrompt(cats, content, c.maxContentLength)

	items := c.extract(ctx, prompt)
	c.mu.Lock()
	run.Extracted = len(items)
	c.mu.Unlock()
	if len(items) == 0 {
		return errors.New("no tools extracted from any provider")
	}

	fallbackID, ferr := c.catalog.ResolveCategory(ctx, c.fallbackCategory)
	if ferr != nil {
		c.logger.Warn("fallback category not found, unknown categories will be skipped", "category", c.fallbackCategory)
	}

	res, err := c.catalog.ImportTools(ctx, items, store.ImportOptions{
		FallbackCategoryID: fallbackID,
		Activate:           c.autoActivate,
	})
	if err != nil {
		return fmt.Errorf("failed to import tools: %w", err)
	}
	c.mu.Lock()
	run.Result = res
	c.mu.Unlock()
	return nil
}

// extract asks every provider in turn and deduplicates the combined answers.
// A failing provider is logged and skipped.
func (c *CrawlerService) extract(ctx context.Context, prompt string) []store.ImportedTool {
	var all []store.ImportedTool
	for _, p := range c.providers {
		if ctx.Err() != nil {
			break
		}
		resp, err := p.Chat(ctx, prompt)
		if err != nil {
			c.logger.Warn("provider failed", "provider", p.Name(), "error", err)
			continue
		}
		if c.metrics != nil {
			c.metrics.CrawlerLLMTokens.WithLabelValues(p.Name()).Add(float64(resp.TotalTokens))
		}
		tools, err := ParseToolsResponse(resp.Content)
		if err != nil {
			c.logger.Warn("could not parse provider response", "provider", p.Name(), "error", err)
			continue
		}
		c.logger.Info("provider returned tools", "provider", p.Name(), "count", len(tools))
		all = append(all, tools...)
	}
	return DedupTools(all)
}

// BuildExtractPrompt fills the extraction prompt with the category names and
// the optional content, truncated to maxLen characters.
func BuildExtractPrompt(cats []models.Category, content string, maxLen int) string {
	names := make([]string, 0, len(cats))
	for _, c := range cats {
		names = append(names, c.Name)
	}
	if maxLen > 0 && utf8.RuneCountInString(content) > maxLen {
		content = string([]rune(content)[:maxLen]) + truncatedMarker
	}
	return fmt.Sprintf(extractPromptTemplate, strings.Join(names, "、"), content)
}

// ParseToolsResponse decodes a provider answer holding a JSON array or a single
// object, optionally wrapped in a Markdown code fence. Items without a name are dropped.
func ParseToolsResponse(content string) ([]store.ImportedTool, error) {
	content = stripCodeFence(strings.TrimSpace(content))

	var raw []map[string]any
	if strings.HasPrefix(content, "{") {
		var one map[string]any
		if err := json.Unmarshal([]byte(content), &one); err != nil {
			return nil, fmt.Errorf("invalid json object: %w", err)
		}
		raw = []map[string]any{one}
	} else if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, fmt.Errorf("invalid json array: %w", err)
	}

	out := make([]store.ImportedTool, 0, len(raw))
	for _, item := range raw {
		name := stringField(item, "name")
		if name == "" {
			continue
		}
		out = append(out, store.ImportedTool{
			Name:        name,
			Description: stringField(item, "description"),
			URL:         stringField(item, "url"),
			Category:    stringField(item, "category"),
			Tags:        stringList(item["tags"]),
		})
	}
	return out, nil
}

func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) <= 2 {
		return s
	}
	lines = lines[1:]
	if strings.HasPrefix(strings.TrimSpace(lines[len(lines)-1]), "```") {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return strings.TrimSpace(s)
}

func stringList(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// DedupTools collapses tools sharing a url, or a lowercased name when the url
// is empty. The longer description wins and tags are unioned.
func DedupTools(items []store.ImportedTool) []store.ImportedTool {
	index := make(map[string]int, len(items))
	out := make([]store.ImportedTool, 0, len(items))
	for _, item := range items {
		key := store.DedupKey(item.Name, item.URL)
		if key == "" {
			continue
		}
		i, ok := index[key]
		if !ok {
			index[key] = len(out)
			item.Tags = store.MergeTags(nil, item.Tags)
			out = append(out, item)
			continue
		}
		existing := &out[i]
		tags := store.MergeTags(existing.Tags, item.Tags)
		if utf8.RuneCountInString(item.Description) > utf8.RuneCountInString(existing.Description) {
			*existing = item
		}
		existing.Tags = tags
	}
	return out
}
