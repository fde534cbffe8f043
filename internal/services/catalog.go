package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/xuai/navigator/pkg/metrics"
	"github.com/xuai/navigator/pkg/models"
	"github.com/xuai/navigator/pkg/store"
	"github.com/xuai/navigator/pkg/types"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
	FeaturedLimit   = 10
	LatestLimit     = 4
	RelatedLimit    = 6

	// searchIndexLimit caps how many ids the search index returns per query.
	searchIndexLimit = 1000
)

// Tool status filters
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
	StatusAll      = "all"
)

// Sort orders
const (
	SortDefault   = "default"
	SortRating    = "rating"
	SortNewest    = "newest"
	SortPopular   = "popular"
	SortRelevance = "relevance"
)

// ToolQuery list filters. Zero values mean "no filter" except Status, which
// defaults to active.
type ToolQuery struct {
	Search   string
	Category string
	Status   string
	Featured *bool
	Tag      string
	SortBy   string
	Page     int
	Limit    int
}

// ToolList one page of tools
type ToolList struct {
	Tools      []models.Tool    `json:"tools"`
	Pagination types.Pagination `json:"pagination"`
}

// SearchParams public search request
type SearchParams struct {
	Query    string
	Category string
	Tags     []string
	SortBy   string
	Page     int
	Limit    int
	Visitor  string
}

// SearchResult public search response
type SearchResult struct {
	Tools      []models.Tool `json:"tools"`
	Total      int           `json:"total"`
	Page       int           `json:"page"`
	TotalPages int           `json:"totalPages"`
	// SearchTime in milliseconds
	SearchTime int64 `json:"searchTime"`
}

// SearchIndex is a full-text index of catalog tools.
type SearchIndex interface {
	Search(ctx context.Context, query string, limit int) ([]int64, error)
	Upsert(ctx context.Context, t *models.Tool) error
	Delete(ctx context.Context, id int64) error
	Reindex(ctx context.Context, tools []models.Tool) error
}

// CacheBroadcaster tells other instances to drop their cache.
type CacheBroadcaster interface {
	PublishInvalidate(ctx context.Context, reason string) error
}

// CatalogConfig catalog service dependencies. Only Store is required.
type CatalogConfig struct {
	Store       store.Store
	Index       SearchIndex
	Events      EventPublisher
	Analytics   Analytics
	Broadcaster CacheBroadcaster
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

// CatalogService query and mutation layer over the store
type CatalogService struct {
	store       store.Store
	index       SearchIndex
	events      EventPublisher
	analytics   Analytics
	broadcaster CacheBroadcaster
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

func NewCatalogService(cfg CatalogConfig) *CatalogService {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	events := cfg.Events
	if events == nil {
		events = NoopPublisher{}
	}
	analytics := cfg.Analytics
	if analytics == nil {
		analytics = NewMemoryAnalytics()
	}
	return &CatalogService{
		store:       cfg.Store,
		index:       cfg.Index,
		events:      events,
		analytics:   analytics,
		broadcaster: cfg.Broadcaster,
		metrics:     cfg.Metrics,
		logger:      logger.With("component", "catalog"),
	}
}

// Store underlying store
func (s *CatalogService) Store() store.Store {
	return s.store
}

// Analytics recorder used for searches and views
func (s *CatalogService) Analytics() Analytics {
	return s.analytics
}

// NormalizePage clamps page and limit to their defaults and bounds.
func NormalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	return page, limit
}

func paginate(tools []models.Tool, page, limit int) []models.Tool {
	start := (page - 1) * limit
	if start >= len(tools) {
		return []models.Tool{}
	}
	end := start + limit
	if end > len(tools) {
		end = len(tools)
	}
	return tools[start:end]
}

// matchesText reports whether q occurs in the tool's name, description,
// developer or any tag, ignoring case.
func matchesText(t *models.Tool, q string) bool {
	q = strings.ToLower(q)
	if strings.Contains(strings.ToLower(t.Name), q) ||
		strings.Contains(strings.ToLower(t.Description), q) ||
		strings.Contains(strings.ToLower(t.Developer), q) {
		return true
	}
	for _, tag := range t.Tags {
		if strings.Contains(strings.ToLower(tag), q) {
			return true
		}
	}
	return false
}

// findCategoryRef returns the category a numeric id names, or else the one
// whose slug matches ref. A slug may itself be numeric.
func findCategoryRef(cats []models.Category, ref string) *models.Category {
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		for i := range cats {
			if cats[i].ID == id {
				return &cats[i]
			}
		}
	}
	for i := range cats {
		if strings.EqualFold(cats[i].Slug, ref) {
			return &cats[i]
		}
	}
	return nil
}

// categoryMatcher resolves a category filter once per query. A number that
// names no category still matches tools by raw category id.
func (s *CatalogService) categoryMatcher(ctx context.Context, ref string) (func(*models.Tool) bool, error) {
	if ref == "" {
		return func(*models.Tool) bool { return true }, nil
	}
	cats, err := s.store.ListCategories(ctx)
	if err != nil {
		return nil, err
	}
	id, perr := strconv.ParseInt(ref, 10, 64)
	if c := findCategoryRef(cats, ref); c != nil {
		id, perr = c.ID, nil
	}
	if perr != nil {
		return func(*models.Tool) bool { return false }, nil
	}
	return func(t *models.Tool) bool { return t.CategoryID == id }, nil
}

func matchesStatus(t *models.Tool, status string) bool {
	switch status {
	case StatusAll:
		return true
	case StatusInactive:
		return !t.IsActive
	default:
		return t.IsActive
	}
}

func sortTools(tools []models.Tool, sortBy string) {
	var less func(a, b *models.Tool) bool
	switch sortBy {
	case SortRelevance:
		return
	case SortRating:
		less = func(a, b *models.Tool) bool {
			if a.Rating != b.Rating {
				return a.Rating > b.Rating
			}
			return a.ID > b.ID
		}
	case SortNewest:
		less = func(a, b *models.Tool) bool { return a.ID > b.ID }
	case SortPopular:
		less = func(a, b *models.Tool) bool {
			if a.RatingCount != b.RatingCount {
				return a.RatingCount > b.RatingCount
			}
			return a.Rating > b.Rating
		}
	default:
		less = func(a, b *models.Tool) bool {
			if a.IsFeatured != b.IsFeatured {
				return a.IsFeatured
			}
			if a.Rating != b.Rating {
				return a.Rating > b.Rating
			}
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.After(b.CreatedAt)
			}
			return a.ID > b.ID
		}
	}
	sort.SliceStable(tools, func(i, j int) bool { return less(&tools[i], &tools[j]) })
}

// ListTools filters, sorts and paginates the catalog.
func (s *CatalogService) ListTools(ctx context.Context, q ToolQuery) (*ToolList, error) {
	all, err := s.store.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	inCategory, err := s.categoryMatcher(ctx, q.Category)
	if err != nil {
		return nil, err
	}
	page, limit := NormalizePage(q.Page, q.Limit)
	search := strings.TrimSpace(q.Search)

	filtered := make([]models.Tool, 0, len(all))
	for i := range all {
		t := &all[i]
		if !matchesStatus(t, q.Status) {
			continue
		}
		if !inCategory(t) {
			continue
		}
		if q.Featured != nil && t.IsFeatured != *q.Featured {
			continue
		}
		if q.Tag != "" && !t.HasTag(q.Tag) {
			continue
		}
		if search != "" && !matchesText(t, search) {
			continue
		}
		filtered = append(filtered, *t)
	}

	sortTools(filtered, q.SortBy)
	return &ToolList{
		Tools:      paginate(filtered, page, limit),
		Pagination: types.NewPagination(page, limit, len(filtered)),
	}, nil
}

// GetTool returns one tool. Inactive tools are hidden unless includeInactive.
func (s *CatalogService) GetTool(ctx context.Context, id int64, includeInactive bool) (*models.Tool, error) {
	t, err := s.store.GetTool(ctx, id)
	if err != nil {
		return nil, err
	}
	if !t.IsActive && !includeInactive {
		return nil, store.ErrNotFound
	}
	return t, nil
}

// Featured active featured tools by rating
func (s *CatalogService) Featured(ctx context.Context, limit int) ([]models.Tool, error) {
	if limit <= 0 {
		limit = FeaturedLimit
	}
	featured := true
	list, err := s.ListTools(ctx, ToolQuery{Featured: &featured, SortBy: SortRating, Limit: limit})
	if err != nil {
		return nil, err
	}
	return list.Tools, nil
}

// Latest most recently added active tools
func (s *CatalogService) Latest(ctx context.Context, limit int) ([]models.Tool, error) {
	if limit <= 0 {
		limit = LatestLimit
	}
	list, err := s.ListTools(ctx, ToolQuery{SortBy: SortNewest, Limit: limit})
	if err != nil {
		return nil, err
	}
	return list.Tools, nil
}

// Related ranks other active tools of the same category by shared tags, then rating.
func (s *CatalogService) Related(ctx context.Context, tool *models.Tool, limit int) ([]models.Tool, error) {
	if limit <= 0 {
		limit = RelatedLimit
	}
	all, err := s.store.ListTools(ctx)
	if err != nil {
		return nil, err
	}

	type scored struct {
		tool   models.Tool
		shared int
	}
	var candidates []scored
	for _, t := range all {
		if t.ID == tool.ID || !t.IsActive || t.CategoryID != tool.CategoryID {
			continue
		}
		n := 0
		for _, tag := range tool.Tags {
			if t.HasTag(tag) {
				n++
			}
		}
		candidates = append(candidates, scored{tool: t, shared: n})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].shared != candidates[j].shared {
			return candidates[i].shared > candidates[j].shared
		}
		return candidates[i].tool.Rating > candidates[j].tool.Rating
	})

	out := make([]models.Tool, 0, limit)
	for i := 0; i < len(candidates) && i < limit; i++ {
		out = append(out, candidates[i].tool)
	}
	return out, nil
}

// ToolsByCategory resolves an active category by id or slug and returns its active tools.
func (s *CatalogService) ToolsByCategory(ctx context.Context, idOrSlug string) (*models.Category, []models.Tool, error) {
	cats, err := s.store.ListCategories(ctx)
	if err != nil {
		return nil, nil, err
	}
	active := make([]models.Category, 0, len(cats))
	for _, c := range cats {
		if c.IsActive {
			active = append(active, c)
		}
	}
	cat := findCategoryRef(active, idOrSlug)
	if cat == nil {
		return nil, nil, store.ErrNotFound
	}

	all, err := s.store.ListTools(ctx)
	if err != nil {
		return nil, nil, err
	}
	tools := make([]models.Tool, 0, cat.ToolCount)
	for _, t := range all {
		if t.IsActive && t.CategoryID == cat.ID {
			tools = append(tools, t)
		}
	}
	sortTools(tools, SortDefault)
	return cat, tools, nil
}

// Search matches active tools against the query, through the search index
// when one is configured, and records the search.
func (s *CatalogService) Search(ctx context.Context, p SearchParams) (*SearchResult, error) {
	start := time.Now()
	page, limit := NormalizePage(p.Page, p.Limit)
	query := strings.TrimSpace(p.Query)

	all, err := s.store.ListTools(ctx)
	if err != nil {
		return nil, err
	}

	inCategory, err := s.categoryMatcher(ctx, p.Category)
	if err != nil {
		return nil, err
	}

	candidates, ranked := s.searchCandidates(ctx, all, query)

	matched := make([]models.Tool, 0, len(candidates))
	for i := range candidates {
		t := &candidates[i]
		if !t.IsActive {
			continue
		}
		if !inCategory(t) {
			continue
		}
		if !hasAllTags(t, p.Tags) {
			continue
		}
		matched = append(matched, *t)
	}

	sortBy := p.SortBy
	if sortBy == "" && ranked {
		sortBy = SortRelevance
	}
	sortTools(matched, sortBy)

	pg := types.NewPagination(page, limit, len(matched))
	result := &SearchResult{
		Tools:      paginate(matched, page, limit),
		Total:      len(matched),
		Page:       page,
		TotalPages: pg.TotalPages,
		SearchTime: time.Since(start).Milliseconds(),
	}

	if query != "" {
		s.analytics.RecordSearch(ctx, query, result.Total, p.Visitor)
	}
	if s.metrics != nil {
		s.metrics.ObserveSearch(result.Total)
	}
	return result, nil
}

// searchCandidates returns the tools matching query and whether they are in
// relevance order.
func (s *CatalogService) searchCandidates(ctx context.Context, all []models.Tool, query string) ([]models.Tool, bool) {
	if query == "" {
		return all, false
	}
	if s.index != nil {
		ids, err := s.index.Search(ctx, query, searchIndexLimit)
		if err == nil {
			byID := make(map[int64]*models.Tool, len(all))
			for i := range all {
				byID[all[i].ID] = &all[i]
			}
			out := make([]models.Tool, 0, len(ids))
			for _, id := range ids {
				if t, ok := byID[id]; ok {
					out = append(out, *t)
				}
			}
			return out, true
		}
		s.logger.Warn("search index unavailable, scanning catalog", "error", err)
		s.countIndexError()
	}

	out := make([]models.Tool, 0)
	for i := range all {
		if matchesText(&all[i], query) {
			out = append(out, all[i])
		}
	}
	return out, false
}

func hasAllTags(t *models.Tool, tags []string) bool {
	for _, tag := range tags {
		if tag = strings.TrimSpace(tag); tag != "" && !t.HasTag(tag) {
			return false
		}
	}
	return true
}

// HotSearches most searched keywords
func (s *CatalogService) HotSearches(ctx context.Context, limit int) ([]models.HotSearch, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.analytics.HotSearches(ctx, limit)
}

// RecordView counts a tool detail view.
func (s *CatalogService) RecordView(ctx context.Context, toolID int64, visitor string) {
	s.analytics.RecordView(ctx, toolID, visitor)
	if s.metrics != nil {
		s.metrics.ToolViews.Inc()
	}
}

// ActiveCategories active categories by sort order
func (s *CatalogService) ActiveCategories(ctx context.Context) ([]models.Category, error) {
	all, err := s.store.ListCategories(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.Category, 0, len(all))
	for _, c := range all {
		if c.IsActive {
			out = append(out, c)
		}
	}
	return out, nil
}

// AllCategories every category including inactive ones
func (s *CatalogService) AllCategories(ctx context.Context) ([]models.Category, error) {
	return s.store.ListCategories(ctx)
}

func (s *CatalogService) GetCategory(ctx context.Context, id int64) (*models.Category, error) {
	return s.store.GetCategory(ctx, id)
}

func (s *CatalogService) CreateTool(ctx context.Context, in store.CreateToolInput) (*models.Tool, error) {
	t, err := s.store.CreateTool(ctx, in)
	if err != nil {
		return nil, err
	}
	s.afterToolWrite(ctx, EventToolCreated, t)
	return t, nil
}

// SubmitTool stores a publicly submitted tool as inactive and unfeatured.
func (s *CatalogService) SubmitTool(ctx context.Context, in store.CreateToolInput) (*models.Tool, error) {
	inactive, unfeatured := false, false
	in.IsActive = &inactive
	in.IsFeatured = &unfeatured
	in.Rating = nil
	in.RatingCount = nil

	t, err := s.store.CreateTool(ctx, in)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.Submissions.Inc()
	}
	s.afterToolWrite(ctx, EventToolSubmitted, t)
	return t, nil
}

func (s *CatalogService) UpdateTool(ctx context.Context, id int64, in store.UpdateToolInput) (*models.Tool, error) {
	t, err := s.store.UpdateTool(ctx, id, in)
	if err != nil {
		return nil, err
	}
	s.afterToolWrite(ctx, EventToolUpdated, t)
	return t, nil
}

// ApproveTool activates a pending tool.
func (s *CatalogService) ApproveTool(ctx context.Context, id int64) (*models.Tool, error) {
	active := true
	t, err := s.store.UpdateTool(ctx, id, store.UpdateToolInput{IsActive: &active})
	if err != nil {
		return nil, err
	}
	s.afterToolWrite(ctx, EventToolApproved, t)
	return t, nil
}

// DeleteTool deactivates a tool.
func (s *CatalogService) DeleteTool(ctx context.Context, id int64) error {
	if err := s.store.DeleteTool(ctx, id); err != nil {
		return err
	}
	s.afterWrite(ctx, NewCatalogEvent(EventToolDeleted, id, nil))
	if s.index != nil {
		if err := s.index.Delete(ctx, id); err != nil {
			s.logger.Warn("failed to remove tool from search index", "id", id, "error", err)
			s.countIndexError()
		}
	}
	return nil
}

func (s *CatalogService) CreateCategory(ctx context.Context, in store.CreateCategoryInput) (*models.Category, error) {
	c, err := s.store.CreateCategory(ctx, in)
	if err != nil {
		return nil, err
	}
	s.afterWrite(ctx, NewCatalogEvent(EventCategoryCreated, c.ID, c))
	return c, nil
}

func (s *CatalogService) UpdateCategory(ctx context.Context, id int64, in store.UpdateCategoryInput) (*models.Category, error) {
	c, err := s.store.UpdateCategory(ctx, id, in)
	if err != nil {
		return nil, err
	}
	s.afterWrite(ctx, NewCatalogEvent(EventCategoryUpdated, c.ID, c))
	return c, nil
}

// DeleteCategory deactivates a category.
func (s *CatalogService) DeleteCategory(ctx context.Context, id int64) error {
	if err := s.store.DeleteCategory(ctx, id); err != nil {
		return err
	}
	s.afterWrite(ctx, NewCatalogEvent(EventCategoryDeleted, id, nil))
	return nil
}

func (s *CatalogService) RecalculateToolCounts(ctx context.Context) error {
	if err := s.store.RecalculateToolCounts(ctx); err != nil {
		return err
	}
	s.broadcast(ctx, "recalculate")
	return nil
}

// ImportTools merges crawled tools and refreshes the search index.
func (s *CatalogService) ImportTools(ctx context.Context, items []store.ImportedTool, opts store.ImportOptions) (*store.ImportResult, error) {
	res, err := s.store.ImportTools(ctx, items, opts)
	if err != nil {
		return nil, err
	}
	s.broadcast(ctx, "import")
	if s.index != nil && (res.Added > 0 || res.Merged > 0) {
		if err := s.Reindex(ctx); err != nil {
			s.logger.Warn("reindex after import failed", "error", err)
		}
	}
	return res, nil
}

// ResolveCategory finds a category id by numeric id, slug or name.
func (s *CatalogService) ResolveCategory(ctx context.Context, ref string) (int64, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return 0, nil
	}
	cats, err := s.store.ListCategories(ctx)
	if err != nil {
		return 0, err
	}
	id, perr := strconv.ParseInt(ref, 10, 64)
	for _, c := range cats {
		if (perr == nil && c.ID == id) || strings.EqualFold(c.Slug, ref) || strings.EqualFold(c.Name, ref) {
			return c.ID, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", store.ErrCategoryNotFound, ref)
}

// Reindex rebuilds the search index from the store.
func (s *CatalogService) Reindex(ctx context.Context) error {
	if s.index == nil {
		return nil
	}
	all, err := s.store.ListTools(ctx)
	if err != nil {
		return err
	}
	if err := s.index.Reindex(ctx, all); err != nil {
		s.countIndexError()
		return err
	}
	s.logger.Info("search index rebuilt", "tools", len(all))
	return nil
}

// ClearCache drops this instance's cache and asks peers to do the same.
func (s *CatalogService) ClearCache(ctx context.Context) {
	s.store.Invalidate()
	s.broadcast(ctx, "manual")
}

// InvalidateLocal drops only this instance's cache.
func (s *CatalogService) InvalidateLocal() {
	s.store.Invalidate()
	if s.metrics != nil {
		s.metrics.CacheReloads.Inc()
	}
}

func (s *CatalogService) afterToolWrite(ctx context.Context, evType EventType, t *models.Tool) {
	s.afterWrite(ctx, NewCatalogEvent(evType, t.ID, t))
	if s.index == nil {
		return
	}
	if err := s.index.Upsert(ctx, t); err != nil {
		s.logger.Warn("failed to index tool", "id", t.ID, "error", err)
		s.countIndexError()
	}
}

// afterWrite publishes the event and notifies peers. Failures are logged only:
// the write itself already succeeded.
func (s *CatalogService) afterWrite(ctx context.Context, ev CatalogEvent) {
	if s.metrics != nil {
		entity, action, _ := strings.Cut(string(ev.Type), ".")
		s.metrics.CatalogWrites.WithLabelValues(entity, action).Inc()
	}
	if err := s.events.Publish(ctx, ev); err != nil {
		s.logger.Warn("failed to publish catalog event", "type", ev.Type, "error", err)
	}
	s.broadcast(ctx, string(ev.Type))
}

func (s *CatalogService) broadcast(ctx context.Context, reason string) {
	if s.broadcaster == nil {
		return
	}
	if err := s.broadcaster.PublishInvalidate(ctx, reason); err != nil {
		s.logger.Debug("cache invalidate not broadcast", "reason", reason, "error", err)
	}
}

func (s *CatalogService) countIndexError() {
	if s.metrics != nil {
		s.metrics.SearchIndexErrs.Inc()
	}
}
