// Package store defines the persistence contract of the catalog and the
// inputs and errors shared by every backend.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/xuai/navigator/pkg/models"
)

var (
	ErrNotFound         = errors.New("record not found")
	ErrCategoryNotFound = errors.New("category not found")
	ErrSlugExists       = errors.New("category slug already exists")
	ErrUsernameExists   = errors.New("username already exists")
	ErrEmailExists      = errors.New("email already exists")
	ErrLastAdmin        = errors.New("cannot remove the last active admin")
)

// Store is implemented by the JSON file backend and the SQL backend.
type Store interface {
	// ListCategories returns every category ordered by sort, then id.
	ListCategories(ctx context.Context) ([]models.Category, error)
	GetCategory(ctx context.Context, id int64) (*models.Category, error)
	// GetCategoryBySlug only matches active categories.
	GetCategoryBySlug(ctx context.Context, slug string) (*models.Category, error)
	CreateCategory(ctx context.Context, in CreateCategoryInput) (*models.Category, error)
	UpdateCategory(ctx context.Context, id int64, in UpdateCategoryInput) (*models.Category, error)
	DeleteCategory(ctx context.Context, id int64) error

	// ListTools returns every tool with its category joined.
	ListTools(ctx context.Context) ([]models.Tool, error)
	GetTool(ctx context.Context, id int64) (*models.Tool, error)
	CreateTool(ctx context.Context, in CreateToolInput) (*models.Tool, error)
	UpdateTool(ctx context.Context, id int64, in UpdateToolInput) (*models.Tool, error)
	DeleteTool(ctx context.Context, id int64) error
	ImportTools(ctx context.Context, items []ImportedTool, opts ImportOptions) (*ImportResult, error)
	RecalculateToolCounts(ctx context.Context) error

	ListUsers(ctx context.Context) ([]models.User, error)
	GetUser(ctx context.Context, id int64) (*models.User, error)
	// GetUserByLogin matches a username or an email.
	GetUserByLogin(ctx context.Context, login string) (*models.User, error)
	CreateUser(ctx context.Context, in CreateUserInput) (*models.User, error)
	UpdateUser(ctx context.Context, id int64, in UpdateUserInput) (*models.User, error)
	DeleteUser(ctx context.Context, id int64) error

	// Invalidate drops any cached state so the next read goes to storage.
	Invalidate()
	Health(ctx context.Context) error
	Close() error
}

// FlexID decodes an id sent either as a JSON number or a numeric string.
type FlexID int64

func (f *FlexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = 0
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			*f = 0
			return nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid id %q", s)
		}
		*f = FlexID(n)
		return nil
	}
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("invalid id %s", b)
	}
	*f = FlexID(n)
	return nil
}

// CreateCategoryInput create category request
type CreateCategoryInput struct {
	Name        string `json:"name" validate:"required,min=1,max=50"`
	Slug        string `json:"slug" validate:"required,min=1,max=50,slug"`
	Description string `json:"description" validate:"max=200"`
	Icon        string `json:"icon" validate:"max=100"`
	Sort        *int   `json:"sort" validate:"omitempty,min=0"`
	IsActive    *bool  `json:"isActive"`
}

// UpdateCategoryInput partial update; nil fields are left untouched.
type UpdateCategoryInput struct {
	ID          FlexID  `json:"id"`
	Name        *string `json:"name" validate:"omitempty,min=1,max=50"`
	Slug        *string `json:"slug" validate:"omitempty,min=1,max=50,slug"`
	Description *string `json:"description" validate:"omitempty,max=200"`
	Icon        *string `json:"icon" validate:"omitempty,max=100"`
	Sort        *int    `json:"sort" validate:"omitempty,min=0"`
	IsActive    *bool   `json:"isActive"`
}

// CreateToolInput create tool request
type CreateToolInput struct {
	Name        string   `json:"name" validate:"required,min=1,max=100"`
	Description string   `json:"description" validate:"required,min=1,max=500"`
	URL         string   `json:"url" validate:"required,httpurl"`
	CategoryID  FlexID   `json:"categoryId" validate:"required"`
	Rating      *float64 `json:"rating" validate:"omitempty,min=0,max=5"`
	RatingCount *int     `json:"ratingCount" validate:"omitempty,min=0"`
	IsActive    *bool    `json:"isActive"`
	IsFeatured  *bool    `json:"isFeatured"`
	Tags        []string `json:"tags" validate:"max=10"`
	Developer   string   `json:"developer" validate:"max=100"`
	Logo        string   `json:"logo" validate:"max=200"`
	Pricing     string   `json:"pricing" validate:"max=50"`
	Platforms   []string `json:"platforms"`
}

// UpdateToolInput partial update; nil fields are left untouched.
type UpdateToolInput struct {
	ID          FlexID    `json:"id"`
	Name        *string   `json:"name" validate:"omitempty,min=1,max=100"`
	Description *string   `json:"description" validate:"omitempty,min=1,max=500"`
	URL         *string   `json:"url" validate:"omitempty,httpurl"`
	CategoryID  *FlexID   `json:"categoryId"`
	Rating      *float64  `json:"rating" validate:"omitempty,min=0,max=5"`
	RatingCount *int      `json:"ratingCount" validate:"omitempty,min=0"`
	IsActive    *bool     `json:"isActive"`
	IsFeatured  *bool     `json:"isFeatured"`
	Tags        *[]string `json:"tags" validate:"omitempty,max=10"`
	Developer   *string   `json:"developer" validate:"omitempty,max=100"`
	Logo        *string   `json:"logo" validate:"omitempty,max=200"`
	Pricing     *string   `json:"pricing" validate:"omitempty,max=50"`
	Platforms   *[]string `json:"platforms"`
}

// CreateUserInput create user request
type CreateUserInput struct {
	Username string `json:"username" validate:"required,min=3,max=50"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"omitempty,min=8"`
	Role     string `json:"role" validate:"required,oneof=admin user contributor"`
	IsActive *bool  `json:"isActive"`
	Avatar   string `json:"avatar" validate:"max=500"`
	Bio      string `json:"bio"`

	// PasswordHash is filled by the caller after hashing Password.
	PasswordHash string `json:"-"`
}

// UpdateUserInput partial update; nil fields are left untouched.
type UpdateUserInput struct {
	ID       FlexID  `json:"id"`
	Username *string `json:"username" validate:"omitempty,min=3,max=50"`
	Email    *string `json:"email" validate:"omitempty,email"`
	Password *string `json:"password" validate:"omitempty,min=8"`
	Role     *string `json:"role" validate:"omitempty,oneof=admin user contributor"`
	IsActive *bool   `json:"isActive"`
	Avatar   *string `json:"avatar" validate:"omitempty,max=500"`
	Bio      *string `json:"bio"`

	PasswordHash *string `json:"-"`
}

// ImportedTool is a crawled tool before it is mapped onto a category id.
type ImportedTool struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	URL         string   `json:"url"`
	Category    string   `json:"category"`
	Tags        []string `json:"tags"`
}

// ImportOptions controls how crawled tools land in the catalog.
type ImportOptions struct {
	// FallbackCategoryID receives tools whose category name or slug is unknown.
	// Zero means such tools are skipped.
	FallbackCategoryID int64
	// Activate publishes new tools immediately instead of leaving them pending review.
	Activate bool
}

// ImportResult summarizes an import.
type ImportResult struct {
	Added   int `json:"added"`
	Merged  int `json:"merged"`
	Skipped int `json:"skipped"`
}

// DedupKey identifies a tool by trimmed url, else lowercased trimmed name.
// An empty key means the tool cannot be identified.
func DedupKey(name, url string) string {
	if k := strings.TrimSpace(url); k != "" {
		return k
	}
	return strings.ToLower(strings.TrimSpace(name))
}

// MergeTags returns the union of a and b, keeping first-seen order.
func MergeTags(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, t := range list {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}
