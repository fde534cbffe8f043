package filestore

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/xuai/navigator/pkg/models"
	"github.com/xuai/navigator/pkg/store"
)

// ListTools returns every tool in file order with its category joined.
// The joined categories are shared with the cache and must not be modified.
func (s *Store) ListTools(ctx context.Context) ([]models.Tool, error) {
	snap, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.Tool, len(snap.tools))
	copy(out, snap.tools)
	return out, nil
}

func (s *Store) GetTool(ctx context.Context, id int64) (*models.Tool, error) {
	snap, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range snap.tools {
		if t.ID == id {
			cp := t
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

// CreateTool appends a tool with id max+1 and bumps its category's
// toolCount when the tool is active.
func (s *Store) CreateTool(ctx context.Context, in store.CreateToolInput) (*models.Tool, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tools, err := s.readTools()
	if err != nil {
		return nil, err
	}
	cats, err := s.readCategories()
	if err != nil {
		return nil, err
	}

	categoryID := int64(in.CategoryID)
	cat := findCategory(cats, categoryID)
	if cat == nil {
		return nil, fmt.Errorf("%w: %d", store.ErrCategoryNotFound, categoryID)
	}

	now := s.now()
	id := nextToolID(tools)
	rt := rawTool{
		ID:          &id,
		Name:        in.Name,
		Description: in.Description,
		URL:         in.URL,
		CategoryID:  store.FlexID(categoryID),
		IsActive:    true,
		Tags:        in.Tags,
		Developer:   in.Developer,
		Logo:        in.Logo,
		Pricing:     in.Pricing,
		Platforms:   in.Platforms,
		CreatedAt:   &now,
		UpdatedAt:   &now,
	}
	if rt.Tags == nil {
		rt.Tags = []string{}
	}
	if in.Rating != nil {
		rt.Rating = *in.Rating
	}
	if in.RatingCount != nil {
		rt.RatingCount = *in.RatingCount
	}
	if in.IsActive != nil {
		rt.IsActive = *in.IsActive
	}
	if in.IsFeatured != nil {
		rt.IsFeatured = *in.IsFeatured
	}

	tools = append(tools, rt)
	if err := s.writeTools(tools); err != nil {
		return nil, err
	}
	if rt.IsActive {
		adjustToolCount(cat, 1)
		if err := s.writeCategories(cats); err != nil {
			s.Invalidate()
			return nil, err
		}
	}
	s.Invalidate()

	t := toTool(rt, now)
	c := toCategory(*cat, now)
	t.Category = &c
	return &t, nil
}

// UpdateTool applies the non-nil fields of in and keeps the toolCount of
// the old and new categories in step with the tool's active state.
func (s *Store) UpdateTool(ctx context.Context, id int64, in store.UpdateToolInput) (*models.Tool, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tools, err := s.readTools()
	if err != nil {
		return nil, err
	}
	cats, err := s.readCategories()
	if err != nil {
		return nil, err
	}

	rt := findTool(tools, id)
	if rt == nil {
		return nil, fmt.Errorf("%w: tool %d", store.ErrNotFound, id)
	}

	oldCategoryID := int64(rt.CategoryID)
	oldActive := rt.IsActive
	newCategoryID := oldCategoryID
	if in.CategoryID != nil {
		newCategoryID = int64(*in.CategoryID)
		if findCategory(cats, newCategoryID) == nil {
			return nil, fmt.Errorf("%w: %d", store.ErrCategoryNotFound, newCategoryID)
		}
	}

	if rt.ID == nil {
		assigned := nextToolID(tools)
		rt.ID = &assigned
		s.logger.Info("assigned id to tool saved without one", "name", rt.Name, "id", assigned)
	}

	applyToolUpdate(rt, in)
	rt.CategoryID = store.FlexID(newCategoryID)
	now := s.now()
	rt.UpdatedAt = &now

	moveToolCount(cats, oldCategoryID, oldActive, newCategoryID, rt.IsActive)

	if err := s.writeTools(tools); err != nil {
		return nil, err
	}
	if err := s.writeCategories(cats); err != nil {
		s.Invalidate()
		return nil, err
	}
	s.Invalidate()

	t := toTool(*rt, now)
	if c := findCategory(cats, newCategoryID); c != nil {
		joined := toCategory(*c, now)
		t.Category = &joined
	} else {
		t.Category = unknownCategory(newCategoryID, now)
	}
	return &t, nil
}

// DeleteTool deactivates the tool.
func (s *Store) DeleteTool(ctx context.Context, id int64) error {
	inactive := false
	_, err := s.UpdateTool(ctx, id, store.UpdateToolInput{IsActive: &inactive})
	return err
}

// ImportTools merges crawled tools into tools.json. A crawled tool matching
// an existing one by url or name extends it: the longer description wins
// and tags are unioned. Others are appended under the category whose name
// or slug matches, or the fallback category.
func (s *Store) ImportTools(ctx context.Context, items []store.ImportedTool, opts store.ImportOptions) (*store.ImportResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tools, err := s.readTools()
	if err != nil {
		return nil, err
	}
	cats, err := s.readCategories()
	if err != nil {
		return nil, err
	}

	// Records saved without an id get a permanent one now.
	next := nextToolID(tools)
	for i := range tools {
		if tools[i].ID == nil {
			id := next
			tools[i].ID = &id
			next++
		}
	}

	index := make(map[string]int, len(tools))
	for i := range tools {
		if key := store.DedupKey(tools[i].Name, tools[i].URL); key != "" {
			index[key] = i
		}
	}

	lookup := make(map[string]int64, len(cats)*2)
	for _, c := range cats {
		lookup[strings.ToLower(strings.TrimSpace(c.Name))] = c.ID
		lookup[strings.ToLower(strings.TrimSpace(c.Slug))] = c.ID
	}

	result := &store.ImportResult{}
	categoriesChanged := false
	now := s.now()

	for _, item := range items {
		key := store.DedupKey(item.Name, item.URL)
		name := strings.TrimSpace(item.Name)
		if key == "" || name == "" {
			result.Skipped++
			continue
		}

		if i, ok := index[key]; ok {
			existing := &tools[i]
			if utf8.RuneCountInString(item.Description) > utf8.RuneCountInString(existing.Description) {
				existing.Description = item.Description
			}
			existing.Tags = store.MergeTags(existing.Tags, item.Tags)
			existing.UpdatedAt = &now
			result.Merged++
			continue
		}

		categoryID, ok := lookup[strings.ToLower(strings.TrimSpace(item.Category))]
		if !ok {
			categoryID = opts.FallbackCategoryID
		}
		cat := findCategory(cats, categoryID)
		if cat == nil {
			s.logger.Warn("skipping imported tool with unknown category", "name", name, "category", item.Category)
			result.Skipped++
			continue
		}

		id := next
		next++
		tags := store.MergeTags(nil, item.Tags)
		tools = append(tools, rawTool{
			ID:          &id,
			Name:        name,
			Description: strings.TrimSpace(item.Description),
			URL:         strings.TrimSpace(item.URL),
			CategoryID:  store.FlexID(categoryID),
			IsActive:    opts.Activate,
			Tags:        tags,
			CreatedAt:   &now,
			UpdatedAt:   &now,
		})
		index[key] = len(tools) - 1
		if opts.Activate {
			adjustToolCount(cat, 1)
			categoriesChanged = true
		}
		result.Added++
	}

	if err := s.writeTools(tools); err != nil {
		return nil, err
	}
	if categoriesChanged {
		if err := s.writeCategories(cats); err != nil {
			s.Invalidate()
			return nil, err
		}
	}
	s.Invalidate()

	s.logger.Info("imported tools", "added", result.Added, "merged", result.Merged, "skipped", result.Skipped)
	return result, nil
}

func findTool(tools []rawTool, id int64) *rawTool {
	for i := range tools {
		if effectiveToolID(&tools[i]) == id {
			return &tools[i]
		}
	}
	return nil
}

func applyToolUpdate(rt *rawTool, in store.UpdateToolInput) {
	if in.Name != nil {
		rt.Name = *in.Name
	}
	if in.Description != nil {
		rt.Description = *in.Description
	}
	if in.URL != nil {
		rt.URL = *in.URL
	}
	if in.Rating != nil {
		rt.Rating = *in.Rating
	}
	if in.RatingCount != nil {
		rt.RatingCount = *in.RatingCount
	}
	if in.IsActive != nil {
		rt.IsActive = *in.IsActive
	}
	if in.IsFeatured != nil {
		rt.IsFeatured = *in.IsFeatured
	}
	if in.Tags != nil {
		rt.Tags = *in.Tags
	}
	if in.Developer != nil {
		rt.Developer = *in.Developer
	}
	if in.Logo != nil {
		rt.Logo = *in.Logo
	}
	if in.Pricing != nil {
		rt.Pricing = *in.Pricing
	}
	if in.Platforms != nil {
		rt.Platforms = *in.Platforms
	}
}

// moveToolCount moves one unit of toolCount between categories to reflect
// a tool going from (oldID, oldActive) to (newID, newActive). Counts never
// drop below zero.
func moveToolCount(cats []rawCategory, oldID int64, oldActive bool, newID int64, newActive bool) {
	if oldID == newID && oldActive == newActive {
		return
	}
	if oldActive {
		adjustToolCount(findCategory(cats, oldID), -1)
	}
	if newActive {
		adjustToolCount(findCategory(cats, newID), 1)
	}
}
