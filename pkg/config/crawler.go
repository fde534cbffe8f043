package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ProviderConfig one OpenAI-compatible chat provider as declared in yaml.
type ProviderConfig struct {
	EnvKey         string  `yaml:"env_key"`
	DefaultBaseURL string  `yaml:"default_base_url"`
	DefaultModel   string  `yaml:"default_model"`
	Temperature    float64 `yaml:"temperature"`
	MaxTokens      int     `yaml:"max_tokens"`
}

// CrawlerSection crawler tuning
type CrawlerSection struct {
	RequestTimeout   int    `yaml:"request_timeout"`
	MaxContentLength int    `yaml:"max_content_length"`
	LogLevel         string `yaml:"log_level"`
	// FallbackCategory slug or name receiving tools whose category is unknown.
	FallbackCategory string `yaml:"fallback_category"`
	AutoActivate     bool   `yaml:"auto_activate"`
}

// CrawlerConfig contents of crawler.yaml
type CrawlerConfig struct {
	Providers map[string]ProviderConfig `yaml:"providers"`
	Crawler   CrawlerSection            `yaml:"crawler"`
}

// ResolvedProvider is a provider whose API key was found in the environment.
type ResolvedProvider struct {
	Name        string
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
}

// DefaultCrawlerConfig is used when no crawler.yaml exists.
func DefaultCrawlerConfig() *CrawlerConfig {
	return &CrawlerConfig{
		Providers: map[string]ProviderConfig{
			"deepseek": {
				EnvKey:         "DEEPSEEK_API_KEY",
				DefaultBaseURL: "https://api.deepseek.com/v1",
				DefaultModel:   "deepseek-chat",
			},
			"siliconflow": {
				EnvKey:         "SILICONFLOW_API_KEY",
				DefaultBaseURL: "https://api.siliconflow.cn/v1",
				DefaultModel:   "deepseek-ai/DeepSeek-V3",
			},
			"kimi": {
				EnvKey:         "KIMI_API_KEY",
				DefaultBaseURL: "https://api.moonshot.cn/v1",
				DefaultModel:   "moonshot-v1-8k",
			},
			"doubao": {
				EnvKey:         "DOUBAO_API_KEY",
				DefaultBaseURL: "https://ark.cn-beijing.volces.com/api/v3",
				DefaultModel:   "doubao-pro-32k",
			},
		},
		Crawler: CrawlerSection{
			RequestTimeout:   120,
			MaxContentLength: 15000,
			LogLevel:         "warn",
		},
	}
}

// LoadCrawlerConfig reads crawler.yaml. A missing file yields the defaults;
// sections present in the file replace the defaults' values.
func LoadCrawlerConfig(path string) (*CrawlerConfig, error) {
	cfg := DefaultCrawlerConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	var fileCfg CrawlerConfig
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if len(fileCfg.Providers) > 0 {
		cfg.Providers = make(map[string]ProviderConfig, len(fileCfg.Providers))
		for name, p := range fileCfg.Providers {
			cfg.Providers[strings.ToLower(name)] = p
		}
	}
	if fileCfg.Crawler.RequestTimeout > 0 {
		cfg.Crawler.RequestTimeout = fileCfg.Crawler.RequestTimeout
	}
	if fileCfg.Crawler.MaxContentLength > 0 {
		cfg.Crawler.MaxContentLength = fileCfg.Crawler.MaxContentLength
	}
	if fileCfg.Crawler.LogLevel != "" {
		cfg.Crawler.LogLevel = fileCfg.Crawler.LogLevel
	}
	cfg.Crawler.FallbackCategory = fileCfg.Crawler.FallbackCategory
	cfg.Crawler.AutoActivate = fileCfg.Crawler.AutoActivate
	return cfg, nil
}

// Resolve returns the providers whose API key is set, restricted to names
// when it is non-empty, sorted by name.
func (c *CrawlerConfig) Resolve(getenv func(string) string, names []string) []ResolvedProvider {
	want := map[string]bool{}
	for _, n := range names {
		if n = strings.ToLower(strings.TrimSpace(n)); n != "" {
			want[n] = true
		}
	}

	var out []ResolvedProvider
	for name, p := range c.Providers {
		if len(want) > 0 && !want[name] {
			continue
		}
		if p.EnvKey == "" {
			continue
		}
		key := getenv(p.EnvKey)
		if key == "" {
			continue
		}
		temp := p.Temperature
		if temp == 0 {
			temp = 0.7
		}
		maxTokens := p.MaxTokens
		if maxTokens == 0 {
			maxTokens = 2000
		}
		out = append(out, ResolvedProvider{
			Name:        name,
			APIKey:      key,
			BaseURL:     p.DefaultBaseURL,
			Model:       p.DefaultModel,
			Temperature: temp,
			MaxTokens:   maxTokens,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SplitList splits a comma separated env value.
func SplitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
