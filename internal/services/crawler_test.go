package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xuai/navigator/pkg/llm"
	"github.com/xuai/navigator/pkg/models"
	"github.com/xuai/navigator/pkg/store"
)

type stubProvider struct {
	name    string
	content string
	err     error
	block   chan struct{}
	prompts []string
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) Chat(ctx context.Context, prompt string) (*llm.Response, error) {
	p.prompts = append(p.prompts, prompt)
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.err != nil {
		return nil, p.err
	}
	return &llm.Response{Content: p.content, Provider: p.name, TotalTokens: 42}, nil
}

const fencedAnswer = "```json\n" + `[
  {"name": "Kimi", "description": "Moonshot assistant with a very long context window", "url": "https://kimi.moonshot.cn", "category": "AI聊天助手", "tags": ["long-context", "cn"]},
  {"name": "Jasper", "description": "Marketing copy", "url": "https://jasper.ai", "category": "ai-writing", "tags": ["marketing"]},
  {"name": "Mystery", "description": "Unknown category", "url": "https://mystery.example.com", "category": "AI炼丹工具", "tags": []},
  {"description": "no name"}
]` + "\n```"

func TestParseToolsResponse(t *testing.T) {
	tools, err := ParseToolsResponse(fencedAnswer)
	require.NoError(t, err)
	require.Len(t, tools, 3)
	assert.Equal(t, "Kimi", tools[0].Name)
	assert.Equal(t, []string{"long-context", "cn"}, tools[0].Tags)
	assert.Equal(t, "ai-writing", tools[1].Category)

	one, err := ParseToolsResponse(`{"name": " Solo ", "tags": "not-a-list"}`)
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, "Solo", one[0].Name)
	assert.Empty(t, one[0].Tags)

	_, err = ParseToolsResponse("I could not find any tools.")
	assert.Error(t, err)
}

func TestStripCodeFence(t *testing.T) {
	assert.Equal(t, "[1]", stripCodeFence("```\n[1]\n```"))
	assert.Equal(t, "[1]", stripCodeFence("```json\n[1]\n"))
	assert.Equal(t, "[1]", stripCodeFence("[1]"))
}

func TestDedupTools(t *testing.T) {
	in := []store.ImportedTool{
		{Name: "Kimi", URL: "https://kimi.moonshot.cn", Description: "short", Tags: []string{"a"}},
		{Name: "kimi chat", URL: "https://kimi.moonshot.cn", Description: "a much longer description", Tags: []string{"b", "a"}},
		{Name: "NoURL", Description: "x"},
		{Name: "nourl", Description: "xy", Tags: []string{"c"}},
		{Name: "  ", URL: ""},
	}
	out := DedupTools(in)
	require.Len(t, out, 2)

	assert.Equal(t, "kimi chat", out[0].Name)
	assert.Equal(t, "a much longer description", out[0].Description)
	assert.Equal(t, []string{"a", "b"}, out[0].Tags)

	assert.Equal(t, "nourl", out[1].Name)
	assert.Equal(t, []string{"c"}, out[1].Tags)
}

func TestBuildExtractPrompt(t *testing.T) {
	cats := []models.Category{{Name: "AI聊天助手"}, {Name: "AI写作工具"}}
	prompt := BuildExtractPrompt(cats, strings.Repeat("字", 20), 5)

	assert.Contains(t, prompt, "AI聊天助手、AI写作工具")
	assert.Contains(t, prompt, "字字字字字"+truncatedMarker)
	assert.NotContains(t, prompt, "字字字字字字")
}

func TestCrawlerRunImports(t *testing.T) {
	catalog, events := newTestCatalog(t)
	provider := &stubProvider{name: "stub", content: fencedAnswer}
	crawler := NewCrawlerService(catalog, CrawlerConfig{
		Providers:        []llm.Provider{provider},
		FallbackCategory: "ai-writing",
		Events:           events,
	})
	ctx := context.Background()

	run, err := crawler.Run(ctx, "", "test")
	require.NoError(t, err)
	assert.Equal(t, CrawlStatusSucceeded, run.Status)
	assert.Equal(t, 3, run.Extracted)
	require.NotNil(t, run.Result)
	assert.Equal(t, 1, run.Result.Merged)
	assert.Equal(t, 2, run.Result.Added)

	all, err := catalog.ListTools(ctx, ToolQuery{Status: StatusAll, Limit: 100})
	require.NoError(t, err)
	assert.Equal(t, 7, all.Pagination.Total)

	kimi, err := catalog.GetTool(ctx, 2, false)
	require.NoError(t, err)
	assert.Contains(t, kimi.Tags, "cn")
	assert.Equal(t, "Moonshot assistant with a very long context window", kimi.Description)

	pending, err := catalog.ListTools(ctx, ToolQuery{Status: StatusInactive, Limit: 100})
	require.NoError(t, err)
	assert.Equal(t, 3, pending.Pagination.Total)

	assert.Contains(t, provider.prompts[0], "AI聊天助手")
	assert.Contains(t, events.types(), EventCrawlerCompleted)

	status := crawler.Status()
	assert.False(t, status.Running)
	require.NotNil(t, status.LastRun)
	assert.Equal(t, run.ID, status.LastRun.ID)
}

func TestCrawlerRunFailsWhenNothingExtracted(t *testing.T) {
	catalog, _ := newTestCatalog(t)
	crawler := NewCrawlerService(catalog, CrawlerConfig{
		Providers: []llm.Provider{&stubProvider{name: "down", err: errors.New("503")}},
	})

	run, err := crawler.Run(context.Background(), "", "test")
	assert.Error(t, err)
	assert.Equal(t, CrawlStatusFailed, run.Status)
	assert.NotEmpty(t, run.Error)
}

func TestCrawlerNoProviders(t *testing.T) {
	catalog, _ := newTestCatalog(t)
	crawler := NewCrawlerService(catalog, CrawlerConfig{})

	_, err := crawler.Run(context.Background(), "", "test")
	assert.True(t, errors.Is(err, ErrNoProviders))
}

func TestCrawlerOneRunAtATime(t *testing.T) {
	catalog, _ := newTestCatalog(t)
	provider := &stubProvider{name: "slow", content: fencedAnswer, block: make(chan struct{})}
	crawler := NewCrawlerService(catalog, CrawlerConfig{Providers: []llm.Provider{provider}})

	run, err := crawler.Start(context.Background(), "", "admin")
	require.NoError(t, err)
	assert.Equal(t, CrawlStatusRunning, run.Status)

	_, err = crawler.Start(context.Background(), "", "admin")
	assert.True(t, errors.Is(err, ErrCrawlerRunning))

	close(provider.block)
	require.Eventually(t, func() bool { return !crawler.Status().Running }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, CrawlStatusSucceeded, crawler.Status().LastRun.Status)
}
