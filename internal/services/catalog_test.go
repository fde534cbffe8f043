package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xuai/navigator/pkg/models"
	"github.com/xuai/navigator/pkg/store"
	"github.com/xuai/navigator/pkg/store/filestore"
)

const testCategories = `[
  {"id": 1, "name": "AI聊天助手", "slug": "ai-chat", "sort": 1, "isActive": true, "toolCount": 3},
  {"id": 2, "name": "AI写作工具", "slug": "ai-writing", "sort": 2, "isActive": true, "toolCount": 1},
  {"id": 3, "name": "Old", "slug": "old", "sort": 3, "isActive": false, "toolCount": 0}
]`

const testTools = `[
  {"id": 1, "name": "ChatGPT", "description": "OpenAI assistant", "url": "https://chat.openai.com", "categoryId": 1, "rating": 4.8, "ratingCount": 1000, "isActive": true, "isFeatured": true, "tags": ["chat", "gpt"], "developer": "OpenAI"},
  {"id": 2, "name": "Kimi", "description": "Assistant with huge context", "url": "https://kimi.moonshot.cn", "categoryId": 1, "rating": 4.5, "ratingCount": 500, "isActive": true, "isFeatured": false, "tags": ["chat", "long-context"], "developer": "Moonshot"},
  {"id": 3, "name": "Notion AI", "description": "Writing inside Notion", "url": "https://notion.so", "categoryId": 2, "rating": 4.2, "ratingCount": 2000, "isActive": true, "isFeatured": true, "tags": ["writing"]},
  {"id": 4, "name": "Pending", "description": "Awaiting review", "url": "https://pending.example.com", "categoryId": 2, "rating": 0, "isActive": false, "isFeatured": false, "tags": ["writing"]},
  {"id": 5, "name": "Claude", "description": "Anthropic assistant", "url": "https://claude.ai", "categoryId": 1, "rating": 4.7, "ratingCount": 800, "isActive": true, "isFeatured": false, "tags": ["chat"], "developer": "Anthropic"}
]`

type recordingPublisher struct {
	mu     sync.Mutex
	events []CatalogEvent
}

func (p *recordingPublisher) Publish(_ context.Context, ev CatalogEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]EventType, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

type fakeIndex struct {
	ids      []int64
	err      error
	upserted []int64
	deleted  []int64
	reindex  int
}

func (f *fakeIndex) Search(context.Context, string, int) ([]int64, error) {
	return f.ids, f.err
}

func (f *fakeIndex) Upsert(_ context.Context, t *models.Tool) error {
	f.upserted = append(f.upserted, t.ID)
	return nil
}

func (f *fakeIndex) Delete(_ context.Context, id int64) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeIndex) Reindex(_ context.Context, tools []models.Tool) error {
	f.reindex += len(tools)
	return nil
}

type countingBroadcaster struct {
	reasons []string
}

func (b *countingBroadcaster) PublishInvalidate(_ context.Context, reason string) error {
	b.reasons = append(b.reasons, reason)
	return nil
}

func newTestFileStore(t *testing.T) *filestore.Store {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "categories.json"), []byte(testCategories), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tools.json"), []byte(testTools), 0o644))
	st, err := filestore.New(filestore.Config{DataDir: dir})
	require.NoError(t, err)
	return st
}

func newTestCatalog(t *testing.T) (*CatalogService, *recordingPublisher) {
	t.Helper()
	events := &recordingPublisher{}
	return NewCatalogService(CatalogConfig{Store: newTestFileStore(t), Events: events}), events
}

func toolIDs(tools []models.Tool) []int64 {
	ids := make([]int64, 0, len(tools))
	for _, t := range tools {
		ids = append(ids, t.ID)
	}
	return ids
}

func TestListToolsDefaultOrder(t *testing.T) {
	svc, _ := newTestCatalog(t)

	list, err := svc.ListTools(context.Background(), ToolQuery{})
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 3, 5, 2}, toolIDs(list.Tools))
	assert.Equal(t, 4, list.Pagination.Total)
	assert.Equal(t, 1, list.Pagination.Page)
	assert.Equal(t, DefaultPageSize, list.Pagination.Limit)
}

func TestListToolsFilters(t *testing.T) {
	svc, _ := newTestCatalog(t)
	ctx := context.Background()
	featured := true

	tests := []struct {
		name  string
		query ToolQuery
		want  []int64
	}{
		{"developer search", ToolQuery{Search: "moonshot"}, []int64{2}},
		{"tag search ignores case", ToolQuery{Search: "LONG"}, []int64{2}},
		{"category slug", ToolQuery{Category: "ai-writing"}, []int64{3}},
		{"category id with all statuses", ToolQuery{Category: "2", Status: StatusAll, SortBy: SortNewest}, []int64{4, 3}},
		{"inactive only", ToolQuery{Status: StatusInactive}, []int64{4}},
		{"featured", ToolQuery{Featured: &featured}, []int64{1, 3}},
		{"tag", ToolQuery{Tag: "GPT"}, []int64{1}},
		{"popular", ToolQuery{SortBy: SortPopular}, []int64{3, 1, 5, 2}},
		{"rating", ToolQuery{SortBy: SortRating}, []int64{1, 5, 2, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list, err := svc.ListTools(ctx, tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, toolIDs(list.Tools))
		})
	}
}

func TestListToolsPagination(t *testing.T) {
	svc, _ := newTestCatalog(t)
	ctx := context.Background()

	list, err := svc.ListTools(ctx, ToolQuery{Page: 2, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 2}, toolIDs(list.Tools))
	assert.Equal(t, 2, list.Pagination.TotalPages)

	list, err = svc.ListTools(ctx, ToolQuery{Page: 9, Limit: 2})
	require.NoError(t, err)
	assert.Empty(t, list.Tools)

	list, err = svc.ListTools(ctx, ToolQuery{Limit: 500})
	require.NoError(t, err)
	assert.Equal(t, MaxPageSize, list.Pagination.Limit)
}

func TestFeaturedAndLatest(t *testing.T) {
	svc, _ := newTestCatalog(t)
	ctx := context.Background()

	featured, err := svc.Featured(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, toolIDs(featured))

	latest, err := svc.Latest(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 3}, toolIDs(latest))
}

func TestGetToolHidesInactive(t *testing.T) {
	svc, _ := newTestCatalog(t)
	ctx := context.Background()

	_, err := svc.GetTool(ctx, 4, false)
	assert.True(t, errors.Is(err, store.ErrNotFound))

	tool, err := svc.GetTool(ctx, 4, true)
	require.NoError(t, err)
	assert.Equal(t, "Pending", tool.Name)
}

func TestRelatedRanksSharedTags(t *testing.T) {
	svc, _ := newTestCatalog(t)
	ctx := context.Background()

	tool, err := svc.GetTool(ctx, 1, false)
	require.NoError(t, err)

	related, err := svc.Related(ctx, tool, 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 2}, toolIDs(related))
}

func TestToolsByCategory(t *testing.T) {
	svc, _ := newTestCatalog(t)
	ctx := context.Background()

	cat, tools, err := svc.ToolsByCategory(ctx, "ai-chat")
	require.NoError(t, err)
	assert.Equal(t, int64(1), cat.ID)
	assert.Equal(t, []int64{1, 5, 2}, toolIDs(tools))

	_, _, err = svc.ToolsByCategory(ctx, "old")
	assert.True(t, errors.Is(err, store.ErrNotFound))

	_, _, err = svc.ToolsByCategory(ctx, "3")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestNumericCategorySlug(t *testing.T) {
	dir := t.TempDir()
	cats := `[
  {"id": 1, "name": "Chat", "slug": "ai-chat", "sort": 1, "isActive": true},
  {"id": 2, "name": "Year in review", "slug": "2024", "sort": 2, "isActive": true},
  {"id": 3, "name": "Numbered", "slug": "1", "sort": 3, "isActive": true}
]`
	tools := `[
  {"id": 1, "name": "ChatGPT", "description": "chat", "url": "https://chat.openai.com", "categoryId": 1, "isActive": true},
  {"id": 2, "name": "Recap", "description": "chat recap", "url": "https://recap.example.com", "categoryId": 2, "isActive": true},
  {"id": 3, "name": "Counter", "description": "chat counter", "url": "https://count.example.com", "categoryId": 3, "isActive": true}
]`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "categories.json"), []byte(cats), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tools.json"), []byte(tools), 0o644))
	st, err := filestore.New(filestore.Config{DataDir: dir})
	require.NoError(t, err)
	svc := NewCatalogService(CatalogConfig{Store: st})
	ctx := context.Background()

	cat, list, err := svc.ToolsByCategory(ctx, "2024")
	require.NoError(t, err)
	assert.Equal(t, int64(2), cat.ID)
	assert.Equal(t, []int64{2}, toolIDs(list))

	// an id wins over a slug with the same digits
	cat, _, err = svc.ToolsByCategory(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), cat.ID)

	got, err := svc.ListTools(ctx, ToolQuery{Category: "2024"})
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, toolIDs(got.Tools))

	res, err := svc.Search(ctx, SearchParams{Query: "chat", Category: "2024"})
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, toolIDs(res.Tools))

	got, err = svc.ListTools(ctx, ToolQuery{Category: "missing"})
	require.NoError(t, err)
	assert.Empty(t, got.Tools)

	_, _, err = svc.ToolsByCategory(ctx, "9999")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestSearchScansAndRecords(t *testing.T) {
	svc, _ := newTestCatalog(t)
	ctx := context.Background()

	res, err := svc.Search(ctx, SearchParams{Query: " Chat ", Visitor: "1.2.3.4"})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 1, res.TotalPages)
	assert.Equal(t, []int64{1, 5, 2}, toolIDs(res.Tools))

	res, err = svc.Search(ctx, SearchParams{Query: "chat", Tags: []string{"long-context"}})
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, toolIDs(res.Tools))

	hot, err := svc.HotSearches(ctx, 5)
	require.NoError(t, err)
	require.Len(t, hot, 1)
	assert.Equal(t, "chat", hot[0].Keyword)
	assert.Equal(t, int64(2), hot[0].SearchCount)
}

func TestSearchUsesIndexOrder(t *testing.T) {
	idx := &fakeIndex{ids: []int64{5, 4, 1, 99}}
	svc := NewCatalogService(CatalogConfig{Store: newTestFileStore(t), Index: idx})

	res, err := svc.Search(context.Background(), SearchParams{Query: "assistant"})
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 1}, toolIDs(res.Tools))

	res, err = svc.Search(context.Background(), SearchParams{Query: "assistant", SortBy: SortRating})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 5}, toolIDs(res.Tools))
}

func TestSearchFallsBackWhenIndexFails(t *testing.T) {
	idx := &fakeIndex{err: errors.New("cluster down")}
	svc := NewCatalogService(CatalogConfig{Store: newTestFileStore(t), Index: idx})

	res, err := svc.Search(context.Background(), SearchParams{Query: "notion"})
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, toolIDs(res.Tools))
}

func TestSubmitAndApprove(t *testing.T) {
	events := &recordingPublisher{}
	idx := &fakeIndex{}
	bc := &countingBroadcaster{}
	svc := NewCatalogService(CatalogConfig{Store: newTestFileStore(t), Events: events, Index: idx, Broadcaster: bc})
	ctx := context.Background()

	active, rating := true, 5.0
	tool, err := svc.SubmitTool(ctx, store.CreateToolInput{
		Name:        "Submitted",
		Description: "From the public form",
		URL:         "https://submitted.example.com",
		CategoryID:  2,
		IsActive:    &active,
		Rating:      &rating,
	})
	require.NoError(t, err)
	assert.False(t, tool.IsActive)
	assert.Zero(t, tool.Rating)

	cat, err := svc.GetCategory(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, cat.ToolCount)

	approved, err := svc.ApproveTool(ctx, tool.ID)
	require.NoError(t, err)
	assert.True(t, approved.IsActive)

	cat, err = svc.GetCategory(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, cat.ToolCount)

	assert.Equal(t, []EventType{EventToolSubmitted, EventToolApproved}, events.types())
	assert.Equal(t, []int64{tool.ID, tool.ID}, idx.upserted)
	assert.Len(t, bc.reasons, 2)
}

func TestDeleteToolRemovesFromIndex(t *testing.T) {
	events := &recordingPublisher{}
	idx := &fakeIndex{}
	svc := NewCatalogService(CatalogConfig{Store: newTestFileStore(t), Events: events, Index: idx})
	ctx := context.Background()

	require.NoError(t, svc.DeleteTool(ctx, 2))
	assert.Equal(t, []int64{2}, idx.deleted)
	assert.Equal(t, []EventType{EventToolDeleted}, events.types())

	_, err := svc.GetTool(ctx, 2, false)
	assert.True(t, errors.Is(err, store.ErrNotFound))

	err = svc.DeleteTool(ctx, 404)
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestCategoryMutationsPublishEvents(t *testing.T) {
	svc, events := newTestCatalog(t)
	ctx := context.Background()

	cat, err := svc.CreateCategory(ctx, store.CreateCategoryInput{Name: "AI视频工具", Slug: "ai-video"})
	require.NoError(t, err)

	name := "AI Video"
	_, err = svc.UpdateCategory(ctx, cat.ID, store.UpdateCategoryInput{Name: &name})
	require.NoError(t, err)
	require.NoError(t, svc.DeleteCategory(ctx, cat.ID))

	assert.Equal(t, []EventType{EventCategoryCreated, EventCategoryUpdated, EventCategoryDeleted}, events.types())

	active, err := svc.ActiveCategories(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 2)

	all, err := svc.AllCategories(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestResolveCategory(t *testing.T) {
	svc, _ := newTestCatalog(t)
	ctx := context.Background()

	for _, ref := range []string{"2", "ai-writing", "AI写作工具", " AI-WRITING "} {
		id, err := svc.ResolveCategory(ctx, ref)
		require.NoError(t, err, ref)
		assert.Equal(t, int64(2), id, ref)
	}

	id, err := svc.ResolveCategory(ctx, "")
	require.NoError(t, err)
	assert.Zero(t, id)

	_, err = svc.ResolveCategory(ctx, "nope")
	assert.True(t, errors.Is(err, store.ErrCategoryNotFound))
}

func TestReindex(t *testing.T) {
	idx := &fakeIndex{}
	svc := NewCatalogService(CatalogConfig{Store: newTestFileStore(t), Index: idx})

	require.NoError(t, svc.Reindex(context.Background()))
	assert.Equal(t, 5, idx.reindex)
}

func TestNormalizePage(t *testing.T) {
	page, limit := NormalizePage(0, 0)
	assert.Equal(t, 1, page)
	assert.Equal(t, DefaultPageSize, limit)

	page, limit = NormalizePage(3, 1000)
	assert.Equal(t, 3, page)
	assert.Equal(t, MaxPageSize, limit)
}
