// Package filestore persists the catalog as JSON files in a data directory:
// categories.json, tools.json and users.json. Reads are served from a
// snapshot cached for a TTL; every write goes back to the files, replaces
// them atomically and drops the snapshot.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/xuai/navigator/pkg/models"
	"github.com/xuai/navigator/pkg/store"
)

const (
	categoriesFile = "categories.json"
	toolsFile      = "tools.json"
	usersFile      = "users.json"

	// DefaultCacheTTL snapshot lifetime when none is configured
	DefaultCacheTTL = 5 * time.Minute

	// UnknownCategoryName is joined onto tools whose category id matches nothing.
	UnknownCategoryName = "未知分类"
)

// Config file store settings
type Config struct {
	DataDir  string
	CacheTTL time.Duration
	Logger   *slog.Logger
}

// Store JSON file backed store.Store
type Store struct {
	dir    string
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time

	mu   sync.RWMutex
	snap *snapshot

	// writeMu serializes read-modify-write cycles on the files.
	writeMu sync.Mutex
}

var _ store.Store = (*Store)(nil)

type snapshot struct {
	categories []models.Category
	byID       map[int64]*models.Category
	tools      []models.Tool
	users      []models.User
	loadedAt   time.Time
}

type rawCategory struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	Slug        string     `json:"slug"`
	Description string     `json:"description,omitempty"`
	Icon        string     `json:"icon,omitempty"`
	Sort        int        `json:"sort"`
	IsActive    bool       `json:"isActive"`
	ToolCount   int        `json:"toolCount"`
	CreatedAt   *time.Time `json:"createdAt,omitempty"`
	UpdatedAt   *time.Time `json:"updatedAt,omitempty"`
}

// rawTool mirrors tools.json. The id may be missing on crawled records.
type rawTool struct {
	ID          *int64       `json:"id,omitempty"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	URL         string       `json:"url"`
	CategoryID  store.FlexID `json:"categoryId"`
	Rating      float64      `json:"rating"`
	RatingCount int          `json:"ratingCount"`
	IsActive    bool         `json:"isActive"`
	IsFeatured  bool         `json:"isFeatured"`
	Tags        []string     `json:"tags"`
	Developer   string       `json:"developer,omitempty"`
	Logo        string       `json:"logo,omitempty"`
	Pricing     string       `json:"pricing,omitempty"`
	Platforms   []string     `json:"platforms,omitempty"`
	LaunchDate  *time.Time   `json:"launchDate,omitempty"`
	CreatedAt   *time.Time   `json:"createdAt,omitempty"`
	UpdatedAt   *time.Time   `json:"updatedAt,omitempty"`
}

type rawUser struct {
	ID           int64      `json:"id"`
	Username     string     `json:"username"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"passwordHash,omitempty"`
	Role         string     `json:"role"`
	IsActive     bool       `json:"isActive"`
	Avatar       string     `json:"avatar,omitempty"`
	Bio          string     `json:"bio,omitempty"`
	CreatedAt    *time.Time `json:"createdAt,omitempty"`
	UpdatedAt    *time.Time `json:"updatedAt,omitempty"`
}

// New creates the store, creating the data directory when missing.
func New(cfg Config) (*Store, error) {
	if cfg.DataDir == "" {
		return nil, errors.New("data dir is required")
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Store{
		dir:    cfg.DataDir,
		ttl:    ttl,
		logger: logger.With("component", "filestore"),
		now:    time.Now,
	}, nil
}

// Invalidate drops the cached snapshot.
func (s *Store) Invalidate() {
	s.mu.Lock()
	s.snap = nil
	s.mu.Unlock()
}

// Health checks the data directory is reachable.
func (s *Store) Health(ctx context.Context) error {
	info, err := os.Stat(s.dir)
	if err != nil {
		return fmt.Errorf("data dir unavailable: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("data dir %s is not a directory", s.dir)
	}
	return nil
}

func (s *Store) Close() error {
	return nil
}

// snapshot returns the cached snapshot, reloading it once the TTL expires.
// A failed reload keeps serving the previous snapshot when there is one.
func (s *Store) snapshot(ctx context.Context) (*snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := s.now()
	s.mu.RLock()
	snap := s.snap
	s.mu.RUnlock()
	if snap != nil && now.Sub(snap.loadedAt) < s.ttl {
		return snap, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap != nil && now.Sub(s.snap.loadedAt) < s.ttl {
		return s.snap, nil
	}

	fresh, err := s.load(now)
	if err != nil {
		if s.snap != nil {
			s.logger.Error("reload failed, serving stale snapshot", "error", err)
			return s.snap, nil
		}
		return nil, err
	}
	s.snap = fresh
	return fresh, nil
}

func (s *Store) load(now time.Time) (*snapshot, error) {
	rawCats, catTime, err := readJSON[rawCategory](s.path(categoriesFile))
	if err != nil {
		return nil, err
	}
	rawTools, toolTime, err := readJSON[rawTool](s.path(toolsFile))
	if err != nil {
		return nil, err
	}
	rawUsers, userTime, err := readJSON[rawUser](s.path(usersFile))
	if err != nil {
		return nil, err
	}

	snap := &snapshot{
		categories: make([]models.Category, 0, len(rawCats)),
		byID:       make(map[int64]*models.Category, len(rawCats)),
		tools:      make([]models.Tool, 0, len(rawTools)),
		users:      make([]models.User, 0, len(rawUsers)),
		loadedAt:   now,
	}

	for _, rc := range rawCats {
		snap.categories = append(snap.categories, toCategory(rc, catTime))
	}
	sortCategories(snap.categories)
	for i := range snap.categories {
		snap.byID[snap.categories[i].ID] = &snap.categories[i]
	}

	for _, rt := range rawTools {
		t := toTool(rt, toolTime)
		if rt.ID == nil {
			s.logger.Warn("tool has no id, using temporary id", "name", rt.Name, "temp_id", t.ID)
		}
		if c, ok := snap.byID[t.CategoryID]; ok {
			t.Category = c
		} else {
			t.Category = unknownCategory(t.CategoryID, catTime)
		}
		snap.tools = append(snap.tools, t)
	}

	for _, ru := range rawUsers {
		snap.users = append(snap.users, toUser(ru, userTime))
	}
	sort.Slice(snap.users, func(i, j int) bool { return snap.users[i].ID < snap.users[j].ID })

	return snap, nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name)
}

// readJSON decodes a JSON array file. A missing file is an empty list.
// The returned time is the file's modification time, used for records
// that carry no timestamps of their own.
func readJSON[T any](path string) ([]T, time.Time, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, time.Time{}, nil
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to stat %s: %w", filepath.Base(path), err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to read data file %s: %w", filepath.Base(path), err)
	}

	var out []T
	if len(data) == 0 {
		return out, info.ModTime(), nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to parse data file %s: %w", filepath.Base(path), err)
	}
	return out, info.ModTime(), nil
}

// writeJSON replaces name with v encoded as indented JSON, via a temp
// file and rename so readers never see a partial file.
func (s *Store) writeJSON(name string, v any) error {
	tmp, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", name, err)
	}
	tmpName := tmp.Name()

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := os.Rename(tmpName, s.path(name)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace %s: %w", name, err)
	}
	return nil
}

func (s *Store) readCategories() ([]rawCategory, error) {
	cats, _, err := readJSON[rawCategory](s.path(categoriesFile))
	return cats, err
}

func (s *Store) readTools() ([]rawTool, error) {
	tools, _, err := readJSON[rawTool](s.path(toolsFile))
	return tools, err
}

func (s *Store) readUsers() ([]rawUser, error) {
	users, _, err := readJSON[rawUser](s.path(usersFile))
	return users, err
}

func (s *Store) writeCategories(cats []rawCategory) error {
	if cats == nil {
		cats = []rawCategory{}
	}
	return s.writeJSON(categoriesFile, cats)
}

func (s *Store) writeTools(tools []rawTool) error {
	if tools == nil {
		tools = []rawTool{}
	}
	for i := range tools {
		if tools[i].Tags == nil {
			tools[i].Tags = []string{}
		}
	}
	return s.writeJSON(toolsFile, tools)
}

func (s *Store) writeUsers(users []rawUser) error {
	if users == nil {
		users = []rawUser{}
	}
	return s.writeJSON(usersFile, users)
}

// tempToolID derives a stable negative id for a record saved without one,
// so it never collides with assigned ids.
func tempToolID(name, url string) int64 {
	h := fnv.New32a()
	h.Write([]byte(name + url))
	id := int64(h.Sum32() & 0x7fffffff)
	if id == 0 {
		id = 1
	}
	return -id
}

func effectiveToolID(rt *rawTool) int64 {
	if rt.ID != nil {
		return *rt.ID
	}
	return tempToolID(rt.Name, rt.URL)
}

func nextToolID(tools []rawTool) int64 {
	var max int64
	for i := range tools {
		if tools[i].ID != nil && *tools[i].ID > max {
			max = *tools[i].ID
		}
	}
	return max + 1
}

func nextCategoryID(cats []rawCategory) int64 {
	var max int64
	for _, c := range cats {
		if c.ID > max {
			max = c.ID
		}
	}
	return max + 1
}

func nextUserID(users []rawUser) int64 {
	var max int64
	for _, u := range users {
		if u.ID > max {
			max = u.ID
		}
	}
	return max + 1
}

func findCategory(cats []rawCategory, id int64) *rawCategory {
	for i := range cats {
		if cats[i].ID == id {
			return &cats[i]
		}
	}
	return nil
}

func adjustToolCount(c *rawCategory, delta int) {
	if c == nil {
		return
	}
	c.ToolCount += delta
	if c.ToolCount < 0 {
		c.ToolCount = 0
	}
}

func sortCategories(cats []models.Category) {
	sort.SliceStable(cats, func(i, j int) bool {
		if cats[i].Sort != cats[j].Sort {
			return cats[i].Sort < cats[j].Sort
		}
		return cats[i].ID < cats[j].ID
	})
}

func timeOr(t *time.Time, fallback time.Time) time.Time {
	if t != nil && !t.IsZero() {
		return *t
	}
	return fallback
}

func toCategory(rc rawCategory, fileTime time.Time) models.Category {
	return models.Category{
		ID:          rc.ID,
		Name:        rc.Name,
		Slug:        rc.Slug,
		Description: rc.Description,
		Icon:        rc.Icon,
		Sort:        rc.Sort,
		IsActive:    rc.IsActive,
		ToolCount:   rc.ToolCount,
		CreatedAt:   timeOr(rc.CreatedAt, fileTime),
		UpdatedAt:   timeOr(rc.UpdatedAt, fileTime),
	}
}

func unknownCategory(id int64, fileTime time.Time) *models.Category {
	return &models.Category{
		ID:        id,
		Name:      UnknownCategoryName,
		IsActive:  true,
		CreatedAt: fileTime,
		UpdatedAt: fileTime,
	}
}

func toTool(rt rawTool, fileTime time.Time) models.Tool {
	tags := rt.Tags
	if tags == nil {
		tags = []string{}
	}
	return models.Tool{
		ID:          effectiveToolID(&rt),
		Name:        rt.Name,
		Description: rt.Description,
		URL:         rt.URL,
		CategoryID:  int64(rt.CategoryID),
		Logo:        rt.Logo,
		Rating:      rt.Rating,
		RatingCount: rt.RatingCount,
		IsActive:    rt.IsActive,
		IsFeatured:  rt.IsFeatured,
		Tags:        tags,
		Developer:   rt.Developer,
		Pricing:     rt.Pricing,
		Platforms:   rt.Platforms,
		LaunchDate:  rt.LaunchDate,
		CreatedAt:   timeOr(rt.CreatedAt, fileTime),
		UpdatedAt:   timeOr(rt.UpdatedAt, fileTime),
	}
}

func toUser(ru rawUser, fileTime time.Time) models.User {
	return models.User{
		ID:           ru.ID,
		Username:     ru.Username,
		Email:        ru.Email,
		PasswordHash: ru.PasswordHash,
		Role:         ru.Role,
		IsActive:     ru.IsActive,
		Avatar:       ru.Avatar,
		Bio:          ru.Bio,
		CreatedAt:    timeOr(ru.CreatedAt, fileTime),
		UpdatedAt:    timeOr(ru.UpdatedAt, fileTime),
	}
}
