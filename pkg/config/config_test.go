package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/xuai/navigator/pkg/types"
)

func TestLoadUsersConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.yaml")
	content := "admin_emails:\n  - \" Admin@Example.com \"\ncontributor_emails:\n  - writer@example.com\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadUsersConfig(path)
	if err != nil {
		t.Fatalf("failed to load: %v", err)
	}
	if !cfg.IsAdmin("admin@example.com") {
		t.Error("expected normalized admin email to match")
	}
	if !cfg.IsContributor("WRITER@example.com") {
		t.Error("expected contributor match")
	}
}

func TestLoadUsersConfigMissingFile(t *testing.T) {
	cfg, err := LoadUsersConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("missing file must not error: %v", err)
	}
	if len(cfg.AdminEmails) != 0 {
		t.Error("expected empty config")
	}
}

func TestLoadUsersConfigFromEnv(t *testing.T) {
	t.Setenv("NAVIGATOR_ADMIN_EMAILS", "a@x.com, B@x.com,,")
	t.Setenv("NAVIGATOR_CONTRIBUTOR_EMAILS", "")

	cfg := LoadUsersConfigFromEnv()
	if len(cfg.AdminEmails) != 2 || cfg.AdminEmails[1] != "b@x.com" {
		t.Errorf("unexpected admin emails: %v", cfg.AdminEmails)
	}
	if len(cfg.ContributorEmails) != 0 {
		t.Errorf("unexpected contributor emails: %v", cfg.ContributorEmails)
	}
}

func TestEffectiveRole(t *testing.T) {
	cfg := &UsersConfig{AdminEmails: []string{"boss@x.com"}, ContributorEmails: []string{"pen@x.com"}}

	tests := []struct {
		email  string
		stored types.UserRole
		want   types.UserRole
	}{
		{"boss@x.com", types.UserRoleUser, types.UserRoleAdmin},
		{"pen@x.com", types.UserRoleUser, types.UserRoleContributor},
		{"pen@x.com", types.UserRoleAdmin, types.UserRoleAdmin},
		{"nobody@x.com", types.UserRoleUser, types.UserRoleUser},
	}
	for _, tt := range tests {
		if got := cfg.EffectiveRole(tt.email, tt.stored); got != tt.want {
			t.Errorf("%s/%s: expected %s, got %s", tt.email, tt.stored, tt.want, got)
		}
	}

	var nilCfg *UsersConfig
	if got := nilCfg.EffectiveRole("boss@x.com", types.UserRoleUser); got != types.UserRoleUser {
		t.Errorf("nil config must keep stored role, got %s", got)
	}
}

func TestLoadCrawlerConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crawler.yaml")
	content := `providers:
  DeepSeek:
    env_key: TEST_DEEPSEEK_KEY
    default_base_url: https://example.com/v1
    default_model: test-model
    temperature: 0.2
crawler:
  max_content_length: 500
  fallback_category: ai-chat
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadCrawlerConfig(path)
	if err != nil {
		t.Fatalf("failed to load: %v", err)
	}
	if len(cfg.Providers) != 1 {
		t.Fatalf("expected providers from file to replace defaults, got %d", len(cfg.Providers))
	}
	if cfg.Crawler.MaxContentLength != 500 {
		t.Errorf("expected max content length 500, got %d", cfg.Crawler.MaxContentLength)
	}
	if cfg.Crawler.RequestTimeout != 120 {
		t.Errorf("expected default request timeout, got %d", cfg.Crawler.RequestTimeout)
	}
	if cfg.Crawler.FallbackCategory != "ai-chat" {
		t.Errorf("unexpected fallback category %q", cfg.Crawler.FallbackCategory)
	}

	env := map[string]string{"TEST_DEEPSEEK_KEY": "sk-test"}
	resolved := cfg.Resolve(func(k string) string { return env[k] }, nil)
	if len(resolved) != 1 {
		t.Fatalf("expected one resolved provider, got %d", len(resolved))
	}
	p := resolved[0]
	if p.Name != "deepseek" || p.APIKey != "sk-test" || p.Temperature != 0.2 || p.MaxTokens != 2000 {
		t.Errorf("unexpected provider: %+v", p)
	}
}

func TestResolveFiltersByName(t *testing.T) {
	cfg := DefaultCrawlerConfig()
	env := map[string]string{"DEEPSEEK_API_KEY": "a", "KIMI_API_KEY": "b"}
	getenv := func(k string) string { return env[k] }

	all := cfg.Resolve(getenv, nil)
	if len(all) != 2 || all[0].Name != "deepseek" || all[1].Name != "kimi" {
		t.Errorf("unexpected providers: %+v", all)
	}

	only := cfg.Resolve(getenv, SplitList(" Kimi , siliconflow"))
	if len(only) != 1 || only[0].Name != "kimi" {
		t.Errorf("unexpected filtered providers: %+v", only)
	}
}
