package filestore

import (
	"context"
	"fmt"

	"github.com/xuai/navigator/pkg/models"
	"github.com/xuai/navigator/pkg/store"
)

// ListCategories returns every category, active or not.
func (s *Store) ListCategories(ctx context.Context) ([]models.Category, error) {
	snap, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.Category, len(snap.categories))
	copy(out, snap.categories)
	return out, nil
}

func (s *Store) GetCategory(ctx context.Context, id int64) (*models.Category, error) {
	snap, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	c, ok := snap.byID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

// GetCategoryBySlug only matches active categories.
func (s *Store) GetCategoryBySlug(ctx context.Context, slug string) (*models.Category, error) {
	snap, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range snap.categories {
		if c.Slug == slug && c.IsActive {
			cp := c
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

// CreateCategory appends a category with id max+1. Sort defaults to the
// number of existing categories plus one.
func (s *Store) CreateCategory(ctx context.Context, in store.CreateCategoryInput) (*models.Category, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	cats, err := s.readCategories()
	if err != nil {
		return nil, err
	}
	for _, c := range cats {
		if c.Slug == in.Slug {
			return nil, fmt.Errorf("%w: %q", store.ErrSlugExists, in.Slug)
		}
	}

	now := s.now()
	rc := rawCategory{
		ID:          nextCategoryID(cats),
		Name:        in.Name,
		Slug:        in.Slug,
		Description: in.Description,
		Icon:        in.Icon,
		Sort:        len(cats) + 1,
		IsActive:    true,
		ToolCount:   0,
		CreatedAt:   &now,
		UpdatedAt:   &now,
	}
	if in.Sort != nil {
		rc.Sort = *in.Sort
	}
	if in.IsActive != nil {
		rc.IsActive = *in.IsActive
	}

	cats = append(cats, rc)
	if err := s.writeCategories(cats); err != nil {
		return nil, err
	}
	s.Invalidate()

	c := toCategory(rc, now)
	return &c, nil
}

// UpdateCategory applies the non-nil fields of in.
func (s *Store) UpdateCategory(ctx context.Context, id int64, in store.UpdateCategoryInput) (*models.Category, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	cats, err := s.readCategories()
	if err != nil {
		return nil, err
	}
	rc := findCategory(cats, id)
	if rc == nil {
		return nil, fmt.Errorf("%w: category %d", store.ErrNotFound, id)
	}

	if in.Slug != nil && *in.Slug != rc.Slug {
		for _, c := range cats {
			if c.ID != id && c.Slug == *in.Slug {
				return nil, fmt.Errorf("%w: %q", store.ErrSlugExists, *in.Slug)
			}
		}
	}

	if in.Name != nil {
		rc.Name = *in.Name
	}
	if in.Slug != nil {
		rc.Slug = *in.Slug
	}
	if in.Description != nil {
		rc.Description = *in.Description
	}
	if in.Icon != nil {
		rc.Icon = *in.Icon
	}
	if in.Sort != nil {
		rc.Sort = *in.Sort
	}
	if in.IsActive != nil {
		rc.IsActive = *in.IsActive
	}
	now := s.now()
	rc.UpdatedAt = &now

	if err := s.writeCategories(cats); err != nil {
		return nil, err
	}
	s.Invalidate()

	c := toCategory(*rc, now)
	return &c, nil
}

// DeleteCategory deactivates the category. Its tools are left in place.
func (s *Store) DeleteCategory(ctx context.Context, id int64) error {
	inactive := false
	_, err := s.UpdateCategory(ctx, id, store.UpdateCategoryInput{IsActive: &inactive})
	return err
}

// RecalculateToolCounts recounts active tools per category.
func (s *Store) RecalculateToolCounts(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	cats, err := s.readCategories()
	if err != nil {
		return err
	}
	tools, err := s.readTools()
	if err != nil {
		return err
	}

	counts := make(map[int64]int, len(cats))
	for _, t := range tools {
		if t.IsActive {
			counts[int64(t.CategoryID)]++
		}
	}
	for i := range cats {
		cats[i].ToolCount = counts[cats[i].ID]
	}

	if err := s.writeCategories(cats); err != nil {
		return fmt.Errorf("failed to recalculate tool counts: %w", err)
	}
	s.Invalidate()
	return nil
}
