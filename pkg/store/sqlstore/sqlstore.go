// Package sqlstore implements store.Store on a relational database via gorm.
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/xuai/navigator/pkg/models"
	"github.com/xuai/navigator/pkg/store"
	"github.com/xuai/navigator/pkg/types"
)

// UnknownCategoryName is joined onto tools whose category row is missing.
const UnknownCategoryName = "未知分类"

// Store gorm backed store.Store
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

var _ store.Store = (*Store)(nil)

// New wraps an open gorm connection.
func New(db *gorm.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger.With("component", "sqlstore")}
}

func mapNotFound(err error, notFound error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFound
	}
	return err
}

// DB underlying gorm handle, shared with the analytics tables.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Invalidate is a no-op; every read goes to the database.
func (s *Store) Invalidate() {}

func (s *Store) Health(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ===== Categories =====

func (s *Store) ListCategories(ctx context.Context) ([]models.Category, error) {
	var cats []models.Category
	if err := s.db.WithContext(ctx).Order("sort ASC, id ASC").Find(&cats).Error; err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	return cats, nil
}

func (s *Store) GetCategory(ctx context.Context, id int64) (*models.Category, error) {
	var c models.Category
	if err := s.db.WithContext(ctx).First(&c, id).Error; err != nil {
		return nil, mapNotFound(err, store.ErrNotFound)
	}
	return &c, nil
}

func (s *Store) GetCategoryBySlug(ctx context.Context, slug string) (*models.Category, error) {
	var c models.Category
	if err := s.db.WithContext(ctx).Where("slug = ? AND is_active = ?", slug, true).First(&c).Error; err != nil {
		return nil, mapNotFound(err, store.ErrNotFound)
	}
	return &c, nil
}

func (s *Store) CreateCategory(ctx context.Context, in store.CreateCategoryInput) (*models.Category, error) {
	var c models.Category
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var taken int64
		if err := tx.Model(&models.Category{}).Where("slug = ?", in.Slug).Count(&taken).Error; err != nil {
			return err
		}
		if taken > 0 {
			return fmt.Errorf("%w: %q", store.ErrSlugExists, in.Slug)
		}

		c = models.Category{
			Name:        in.Name,
			Slug:        in.Slug,
			Description: in.Description,
			Icon:        in.Icon,
			IsActive:    true,
		}
		if in.Sort != nil {
			c.Sort = *in.Sort
		} else {
			var total int64
			if err := tx.Model(&models.Category{}).Count(&total).Error; err != nil {
				return err
			}
			c.Sort = int(total) + 1
		}
		if in.IsActive != nil {
			c.IsActive = *in.IsActive
		}
		// Select forces zero values (isActive=false, sort=0) past column defaults.
		return tx.Select("*").Create(&c).Error
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) UpdateCategory(ctx context.Context, id int64, in store.UpdateCategoryInput) (*models.Category, error) {
	var c models.Category
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&c, id).Error; err != nil {
			return mapNotFound(err, fmt.Errorf("%w: category %d", store.ErrNotFound, id))
		}
		if in.Slug != nil && *in.Slug != c.Slug {
			var taken int64
			if err := tx.Model(&models.Category{}).Where("slug = ? AND id <> ?", *in.Slug, id).Count(&taken).Error; err != nil {
				return err
			}
			if taken > 0 {
				return fmt.Errorf("%w: %q", store.ErrSlugExists, *in.Slug)
			}
		}

		if in.Name != nil {
			c.Name = *in.Name
		}
		if in.Slug != nil {
			c.Slug = *in.Slug
		}
		if in.Description != nil {
			c.Description = *in.Description
		}
		if in.Icon != nil {
			c.Icon = *in.Icon
		}
		if in.Sort != nil {
			c.Sort = *in.Sort
		}
		if in.IsActive != nil {
			c.IsActive = *in.IsActive
		}
		return tx.Save(&c).Error
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) DeleteCategory(ctx context.Context, id int64) error {
	inactive := false
	_, err := s.UpdateCategory(ctx, id, store.UpdateCategoryInput{IsActive: &inactive})
	return err
}

func (s *Store) RecalculateToolCounts(ctx context.Context) error {
	err := s.db.WithContext(ctx).Exec(
		"UPDATE categories SET tool_count = (SELECT COUNT(*) FROM tools WHERE tools.category_id = categories.id AND tools.is_active = ?)",
		true,
	).Error
	if err != nil {
		return fmt.Errorf("failed to recalculate tool counts: %w", err)
	}
	return nil
}

func adjustToolCount(tx *gorm.DB, categoryID int64, delta int) error {
	expr := gorm.Expr("tool_count + ?", delta)
	if delta < 0 {
		expr = gorm.Expr("GREATEST(tool_count - ?, 0)", -delta)
	}
	return tx.Model(&models.Category{}).Where("id = ?", categoryID).UpdateColumn("tool_count", expr).Error
}

// ===== Tools =====

func joinUnknown(t *models.Tool) {
	if t.Category == nil {
		t.Category = &models.Category{ID: t.CategoryID, Name: UnknownCategoryName, IsActive: true}
	}
	if t.Tags == nil {
		t.Tags = []string{}
	}
}

func (s *Store) ListTools(ctx context.Context) ([]models.Tool, error) {
	var tools []models.Tool
	if err := s.db.WithContext(ctx).Preload("Category").Order("id ASC").Find(&tools).Error; err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}
	for i := range tools {
		joinUnknown(&tools[i])
	}
	return tools, nil
}

func (s *Store) GetTool(ctx context.Context, id int64) (*models.Tool, error) {
	var t models.Tool
	if err := s.db.WithContext(ctx).Preload("Category").First(&t, id).Error; err != nil {
		return nil, mapNotFound(err, store.ErrNotFound)
	}
	joinUnknown(&t)
	return &t, nil
}

func (s *Store) CreateTool(ctx context.Context, in store.CreateToolInput) (*models.Tool, error) {
	var t models.Tool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cat models.Category
		if err := tx.First(&cat, int64(in.CategoryID)).Error; err != nil {
			return mapNotFound(err, fmt.Errorf("%w: %d", store.ErrCategoryNotFound, in.CategoryID))
		}

		t = models.Tool{
			Name:        in.Name,
			Description: in.Description,
			URL:         in.URL,
			CategoryID:  cat.ID,
			IsActive:    true,
			Tags:        in.Tags,
			Developer:   in.Developer,
			Logo:        in.Logo,
			Pricing:     in.Pricing,
			Platforms:   in.Platforms,
		}
		if t.Tags == nil {
			t.Tags = []string{}
		}
		if in.Rating != nil {
			t.Rating = *in.Rating
		}
		if in.RatingCount != nil {
			t.RatingCount = *in.RatingCount
		}
		if in.IsActive != nil {
			t.IsActive = *in.IsActive
		}
		if in.IsFeatured != nil {
			t.IsFeatured = *in.IsFeatured
		}
		if err := tx.Omit("Category").Select("*").Create(&t).Error; err != nil {
			return err
		}
		if t.IsActive {
			if err := adjustToolCount(tx, cat.ID, 1); err != nil {
				return err
			}
			cat.ToolCount++
		}
		t.Category = &cat
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) UpdateTool(ctx context.Context, id int64, in store.UpdateToolInput) (*models.Tool, error) {
	var t models.Tool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&t, id).Error; err != nil {
			return mapNotFound(err, fmt.Errorf("%w: tool %d", store.ErrNotFound, id))
		}
		oldCategoryID, oldActive := t.CategoryID, t.IsActive

		if in.CategoryID != nil {
			var cat models.Category
			if err := tx.First(&cat, int64(*in.CategoryID)).Error; err != nil {
				return mapNotFound(err, fmt.Errorf("%w: %d", store.ErrCategoryNotFound, *in.CategoryID))
			}
			t.CategoryID = cat.ID
		}
		applyToolUpdate(&t, in)

		if err := tx.Omit("Category").Save(&t).Error; err != nil {
			return err
		}
		if oldCategoryID != t.CategoryID || oldActive != t.IsActive {
			if oldActive {
				if err := adjustToolCount(tx, oldCategoryID, -1); err != nil {
					return err
				}
			}
			if t.IsActive {
				if err := adjustToolCount(tx, t.CategoryID, 1); err != nil {
					return err
				}
			}
		}
		return tx.Preload("Category").First(&t, t.ID).Error
	})
	if err != nil {
		return nil, err
	}
	joinUnknown(&t)
	return &t, nil
}

func (s *Store) DeleteTool(ctx context.Context, id int64) error {
	inactive := false
	_, err := s.UpdateTool(ctx, id, store.UpdateToolInput{IsActive: &inactive})
	return err
}

func applyToolUpdate(t *models.Tool, in store.UpdateToolInput) {
	if in.Name != nil {
		t.Name = *in.Name
	}
	if in.Description != nil {
		t.Description = *in.Description
	}
	if in.URL != nil {
		t.URL = *in.URL
	}
	if in.Rating != nil {
		t.Rating = *in.Rating
	}
	if in.RatingCount != nil {
		t.RatingCount = *in.RatingCount
	}
	if in.IsActive != nil {
		t.IsActive = *in.IsActive
	}
	if in.IsFeatured != nil {
		t.IsFeatured = *in.IsFeatured
	}
	if in.Tags != nil {
		t.Tags = *in.Tags
	}
	if in.Developer != nil {
		t.Developer = *in.Developer
	}
	if in.Logo != nil {
		t.Logo = *in.Logo
	}
	if in.Pricing != nil {
		t.Pricing = *in.Pricing
	}
	if in.Platforms != nil {
		t.Platforms = *in.Platforms
	}
}

// ImportTools merges crawled tools with the same rules as the file store.
func (s *Store) ImportTools(ctx context.Context, items []store.ImportedTool, opts store.ImportOptions) (*store.ImportResult, error) {
	result := &store.ImportResult{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var tools []models.Tool
		if err := tx.Find(&tools).Error; err != nil {
			return err
		}
		var cats []models.Category
		if err := tx.Find(&cats).Error; err != nil {
			return err
		}

		index := make(map[string]*models.Tool, len(tools))
		for i := range tools {
			if key := store.DedupKey(tools[i].Name, tools[i].URL); key != "" {
				index[key] = &tools[i]
			}
		}
		lookup := make(map[string]int64, len(cats)*2)
		known := make(map[int64]bool, len(cats))
		for _, c := range cats {
			lookup[strings.ToLower(strings.TrimSpace(c.Name))] = c.ID
			lookup[strings.ToLower(strings.TrimSpace(c.Slug))] = c.ID
			known[c.ID] = true
		}

		for _, item := range items {
			key := store.DedupKey(item.Name, item.URL)
			name := strings.TrimSpace(item.Name)
			if key == "" || name == "" {
				result.Skipped++
				continue
			}

			if existing, ok := index[key]; ok {
				if utf8.RuneCountInString(item.Description) > utf8.RuneCountInString(existing.Description) {
					existing.Description = item.Description
				}
				existing.Tags = store.MergeTags(existing.Tags, item.Tags)
				if err := tx.Omit("Category").Save(existing).Error; err != nil {
					return err
				}
				result.Merged++
				continue
			}

			categoryID, ok := lookup[strings.ToLower(strings.TrimSpace(item.Category))]
			if !ok {
				categoryID = opts.FallbackCategoryID
			}
			if !known[categoryID] {
				result.Skipped++
				continue
			}

			t := &models.Tool{
				Name:        name,
				Description: strings.TrimSpace(item.Description),
				URL:         strings.TrimSpace(item.URL),
				CategoryID:  categoryID,
				IsActive:    opts.Activate,
				Tags:        store.MergeTags(nil, item.Tags),
			}
			if err := tx.Omit("Category").Select("*").Create(t).Error; err != nil {
				return err
			}
			if opts.Activate {
				if err := adjustToolCount(tx, categoryID, 1); err != nil {
					return err
				}
			}
			index[key] = t
			result.Added++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("imported tools", "added", result.Added, "merged", result.Merged, "skipped", result.Skipped)
	return result, nil
}

// ===== Users =====

func (s *Store) ListUsers(ctx context.Context) ([]models.User, error) {
	var users []models.User
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

func (s *Store) GetUser(ctx context.Context, id int64) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).First(&u, id).Error; err != nil {
		return nil, mapNotFound(err, store.ErrNotFound)
	}
	return &u, nil
}

func (s *Store) GetUserByLogin(ctx context.Context, login string) (*models.User, error) {
	var u models.User
	err := s.db.WithContext(ctx).
		Where("username = ? OR LOWER(email) = ?", login, strings.ToLower(login)).
		First(&u).Error
	if err != nil {
		return nil, mapNotFound(err, store.ErrNotFound)
	}
	return &u, nil
}

func checkUserUnique(tx *gorm.DB, selfID int64, username, email string) error {
	var n int64
	if err := tx.Model(&models.User{}).Where("username = ? AND id <> ?", username, selfID).Count(&n).Error; err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("%w: %q", store.ErrUsernameExists, username)
	}
	if err := tx.Model(&models.User{}).Where("LOWER(email) = ? AND id <> ?", strings.ToLower(email), selfID).Count(&n).Error; err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("%w: %q", store.ErrEmailExists, email)
	}
	return nil
}

func countActiveAdmins(tx *gorm.DB) (int64, error) {
	var n int64
	err := tx.Model(&models.User{}).Where("role = ? AND is_active = ?", string(types.UserRoleAdmin), true).Count(&n).Error
	return n, err
}

func isActiveAdmin(u *models.User) bool {
	return u.IsActive && u.Role == string(types.UserRoleAdmin)
}

func (s *Store) CreateUser(ctx context.Context, in store.CreateUserInput) (*models.User, error) {
	var u models.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := checkUserUnique(tx, 0, in.Username, in.Email); err != nil {
			return err
		}
		u = models.User{
			Username:     in.Username,
			Email:        in.Email,
			PasswordHash: in.PasswordHash,
			Role:         in.Role,
			IsActive:     true,
			Avatar:       in.Avatar,
			Bio:          in.Bio,
		}
		if in.IsActive != nil {
			u.IsActive = *in.IsActive
		}
		return tx.Select("*").Create(&u).Error
	})
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) UpdateUser(ctx context.Context, id int64, in store.UpdateUserInput) (*models.User, error) {
	var u models.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&u, id).Error; err != nil {
			return mapNotFound(err, fmt.Errorf("%w: user %d", store.ErrNotFound, id))
		}

		username, email := u.Username, u.Email
		if in.Username != nil {
			username = *in.Username
		}
		if in.Email != nil {
			email = *in.Email
		}
		if err := checkUserUnique(tx, id, username, email); err != nil {
			return err
		}

		losesAdmin := isActiveAdmin(&u) &&
			((in.Role != nil && *in.Role != string(types.UserRoleAdmin)) || (in.IsActive != nil && !*in.IsActive))
		if losesAdmin {
			n, err := countActiveAdmins(tx)
			if err != nil {
				return err
			}
			if n <= 1 {
				return store.ErrLastAdmin
			}
		}

		u.Username, u.Email = username, email
		if in.PasswordHash != nil {
			u.PasswordHash = *in.PasswordHash
		}
		if in.Role != nil {
			u.Role = *in.Role
		}
		if in.IsActive != nil {
			u.IsActive = *in.IsActive
		}
		if in.Avatar != nil {
			u.Avatar = *in.Avatar
		}
		if in.Bio != nil {
			u.Bio = *in.Bio
		}
		return tx.Save(&u).Error
	})
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) DeleteUser(ctx context.Context, id int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var u models.User
		if err := tx.First(&u, id).Error; err != nil {
			return mapNotFound(err, fmt.Errorf("%w: user %d", store.ErrNotFound, id))
		}
		if isActiveAdmin(&u) {
			n, err := countActiveAdmins(tx)
			if err != nil {
				return err
			}
			if n <= 1 {
				return store.ErrLastAdmin
			}
		}
		return tx.Delete(&models.User{}, id).Error
	})
}
