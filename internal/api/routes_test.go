package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xuai/navigator/internal/api/handlers"
	"github.com/xuai/navigator/internal/services"
	"github.com/xuai/navigator/pkg/models"
	"github.com/xuai/navigator/pkg/store"
	"github.com/xuai/navigator/pkg/store/filestore"
	"github.com/xuai/navigator/pkg/types"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const (
	testSecret      = "test-secret"
	adminPassword   = "admin-pass-1"
	contribPassword = "contrib-pass-1"
)

const seedCategories = `[
  {"id": 1, "name": "AI聊天助手", "slug": "ai-chat", "sort": 1, "isActive": true, "toolCount": 3},
  {"id": 2, "name": "AI写作工具", "slug": "ai-writing", "sort": 2, "isActive": true, "toolCount": 1},
  {"id": 3, "name": "Old", "slug": "old", "sort": 3, "isActive": false, "toolCount": 0}
]`

const seedTools = `[
  {"id": 1, "name": "ChatGPT", "description": "OpenAI assistant", "url": "https://chat.openai.com", "categoryId": 1, "rating": 4.8, "ratingCount": 1000, "isActive": true, "isFeatured": true, "tags": ["chat", "gpt"]},
  {"id": 2, "name": "Kimi", "description": "Assistant with huge context", "url": "https://kimi.moonshot.cn", "categoryId": 1, "rating": 4.5, "isActive": true, "tags": ["chat", "long-context"]},
  {"id": 3, "name": "Notion AI", "description": "Writing inside Notion", "url": "https://notion.so", "categoryId": 2, "rating": 4.2, "isActive": true, "isFeatured": true, "tags": ["writing"]},
  {"id": 4, "name": "Pending", "description": "Awaiting review", "url": "https://pending.example.com", "categoryId": 2, "isActive": false, "tags": ["writing"]},
  {"id": 5, "name": "Claude", "description": "Anthropic assistant", "url": "https://claude.ai", "categoryId": 1, "rating": 4.7, "isActive": true, "tags": ["chat"]}
]`

type testEnv struct {
	server  *Server
	store   store.Store
	dir     string
	adminID int64
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "categories.json"), []byte(seedCategories), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tools.json"), []byte(seedTools), 0o644))

	st, err := filestore.New(filestore.Config{DataDir: dir})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	admin := createUser(t, st, "admin", "admin@example.com", adminPassword, types.UserRoleAdmin)
	createUser(t, st, "writer", "writer@example.com", contribPassword, types.UserRoleContributor)
	_, err = st.CreateUser(ctx, store.CreateUserInput{Username: "reader", Email: "reader@example.com", Role: "user"})
	require.NoError(t, err)

	catalog := services.NewCatalogService(services.CatalogConfig{Store: st})
	srv := NewServer(ServerConfig{
		Catalog:              catalog,
		Stats:                services.NewStatsService(st, catalog.Analytics()),
		JWTSecret:            testSecret,
		SubmissionsPerMinute: 60,
	})
	return &testEnv{server: srv, store: st, dir: dir, adminID: admin.ID}
}

func createUser(t *testing.T, st store.Store, username, email, password string, role types.UserRole) *models.User {
	t.Helper()
	hash, err := handlers.HashPassword(password)
	require.NoError(t, err)
	u, err := st.CreateUser(context.Background(), store.CreateUserInput{
		Username:     username,
		Email:        email,
		Role:         string(role),
		PasswordHash: hash,
	})
	require.NoError(t, err)
	return u
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept-Language", "en-US")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.server.Router().ServeHTTP(w, req)
	return w
}

func (e *testEnv) login(t *testing.T, login, password string) string {
	t.Helper()
	w := e.do(t, "POST", "/api/v1/auth/login", "", map[string]string{"login": login, "password": password})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[handlers.LoginResponse](t, w)
	return resp.Data.Token.AccessToken
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) types.APIResponse[T] {
	t.Helper()
	var resp types.APIResponse[T]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

func TestHealthAndReady(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "GET", "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, "GET", "/ready", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var status types.HealthStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, "ready", status.Status)
	assert.Equal(t, "ok", status.Checks["store"])
}

func TestReadyReportsRedisState(t *testing.T) {
	env := newTestEnv(t)
	rs, err := services.NewRedisService(&services.RedisServiceConfig{Addr: "127.0.0.1:1"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rs.Close() })

	catalog := services.NewCatalogService(services.CatalogConfig{Store: env.store})
	srv := NewServer(ServerConfig{
		Catalog:      catalog,
		Stats:        services.NewStatsService(env.store, catalog.Analytics()),
		RedisService: rs,
		JWTSecret:    testSecret,
	})

	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest("GET", "/ready", nil))
	require.Equal(t, http.StatusOK, w.Code, "redis does not gate readiness")
	var status types.HealthStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Contains(t, []string{"disconnected", "reconnecting"}, status.Checks["redis"])
}

func TestPublicCategories(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "GET", "/api/v1/categories", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	cats := decode[[]models.Category](t, w)
	require.Len(t, cats.Data, 2)
	assert.Equal(t, "ai-chat", cats.Data[0].Slug)

	w = env.do(t, "GET", "/api/v1/categories/ai-chat", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := decode[handlers.CategoryTools](t, w)
	assert.Equal(t, int64(1), page.Data.Category.ID)
	assert.Len(t, page.Data.Tools, 3)

	w = env.do(t, "GET", "/api/v1/categories/old", "", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	resp := decode[any](t, w)
	assert.Equal(t, types.ErrCodeNotFound, resp.Error.Code)
	assert.Equal(t, "Category not found", resp.Error.Message)
}

func TestPublicTools(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "GET", "/api/v1/tools?limit=2", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[services.ToolList](t, w)
	assert.Equal(t, 4, list.Data.Pagination.Total)
	assert.Equal(t, 2, list.Data.Pagination.TotalPages)
	require.Len(t, list.Data.Tools, 2)
	assert.Equal(t, int64(1), list.Data.Tools[0].ID)

	w = env.do(t, "GET", "/api/v1/tools?status=all", "", nil)
	assert.Equal(t, 4, decode[services.ToolList](t, w).Data.Pagination.Total, "public list ignores status")

	w = env.do(t, "GET", "/api/v1/tools?id=3", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Notion AI", decode[models.Tool](t, w).Data.Name)

	w = env.do(t, "GET", "/api/v1/tools/1", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	detail := decode[handlers.ToolDetail](t, w)
	assert.Equal(t, "ChatGPT", detail.Data.Tool.Name)
	require.Len(t, detail.Data.Related, 2)
	assert.Equal(t, int64(5), detail.Data.Related[0].ID)

	w = env.do(t, "GET", "/api/v1/tools/featured", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.Tool](t, w).Data, 2)

	w = env.do(t, "GET", "/api/v1/tools/latest", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	latest := decode[[]models.Tool](t, w).Data
	require.NotEmpty(t, latest)
	assert.Equal(t, int64(5), latest[0].ID)

	assert.Equal(t, http.StatusNotFound, env.do(t, "GET", "/api/v1/tools/4", "", nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, "GET", "/api/v1/tools/999", "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, "GET", "/api/v1/tools/abc", "", nil).Code)
}

func TestSearchAndHot(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "GET", "/api/v1/search?q=chat", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	res := decode[services.SearchResult](t, w)
	assert.Equal(t, 3, res.Data.Total)

	w = env.do(t, "GET", "/api/v1/search?q=chat&tags=gpt", "", nil)
	assert.Equal(t, 1, decode[services.SearchResult](t, w).Data.Total)

	w = env.do(t, "GET", "/api/v1/search/hot", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	hot := decode[[]models.HotSearch](t, w).Data
	require.NotEmpty(t, hot)
	assert.Equal(t, "chat", hot[0].Keyword)
	assert.Equal(t, int64(2), hot[0].SearchCount)
}

func TestSubmissionAndApproval(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "POST", "/api/v1/submissions", "", map[string]any{
		"name":        "Perplexity",
		"description": "Answer engine",
		"url":         "https://perplexity.ai",
		"categoryId":  "1",
		"isActive":    true,
		"rating":      5,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	submitted := decode[models.Tool](t, w).Data
	assert.False(t, submitted.IsActive)
	assert.Zero(t, submitted.Rating)
	assert.Equal(t, http.StatusNotFound, env.do(t, "GET", "/api/v1/tools/6", "", nil).Code)

	token := env.login(t, "writer", contribPassword)
	w = env.do(t, "GET", "/api/v1/admin/tools?status=inactive", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, decode[services.ToolList](t, w).Data.Pagination.Total)

	w = env.do(t, "POST", "/api/v1/admin/tools/6/approve", token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, decode[models.Tool](t, w).Data.IsActive)
	assert.Equal(t, http.StatusOK, env.do(t, "GET", "/api/v1/tools/6", "", nil).Code)
}

func TestToolsStoredWithoutID(t *testing.T) {
	env := newTestEnv(t)

	tools := strings.TrimSuffix(strings.TrimSpace(seedTools), "]") + `,
  {"name": "Orphan", "description": "Saved without id", "url": "https://orphan.example.com", "categoryId": 2, "isActive": true, "tags": ["writing"]},
  {"name": "Stray", "description": "Also saved without id", "url": "https://stray.example.com", "categoryId": "2", "isActive": true, "tags": ["writing"]}
]`
	require.NoError(t, os.WriteFile(filepath.Join(env.dir, "tools.json"), []byte(tools), 0o644))
	env.store.Invalidate()

	w := env.do(t, "GET", "/api/v1/tools?limit=50", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	ids := map[string]int64{}
	for _, tool := range decode[services.ToolList](t, w).Data.Tools {
		ids[tool.Name] = tool.ID
	}
	orphanID, strayID := ids["Orphan"], ids["Stray"]
	require.Negative(t, orphanID)
	require.Negative(t, strayID)

	orphanPath := "/api/v1/tools/" + strconv.FormatInt(orphanID, 10)
	w = env.do(t, "GET", orphanPath, "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Orphan", decode[handlers.ToolDetail](t, w).Data.Tool.Name)

	token := env.login(t, "admin", adminPassword)
	w = env.do(t, "GET", "/api/v1/admin/tools/"+strconv.FormatInt(orphanID, 10), token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// The first update gives the record a permanent id.
	w = env.do(t, "PUT", "/api/v1/admin/tools/"+strconv.FormatInt(orphanID, 10), token, map[string]any{"description": "Now stored with an id"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	updated := decode[models.Tool](t, w).Data
	assert.Equal(t, int64(6), updated.ID)
	assert.Equal(t, http.StatusOK, env.do(t, "GET", "/api/v1/tools/6", "", nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, "GET", orphanPath, "", nil).Code)

	w = env.do(t, "PUT", "/api/v1/admin/tools", token, map[string]any{"id": strayID, "description": "Updated by body"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, int64(7), decode[models.Tool](t, w).Data.ID)

	assert.Equal(t, http.StatusBadRequest, env.do(t, "GET", "/api/v1/tools/0", "", nil).Code)
	w = env.do(t, "PUT", "/api/v1/admin/tools", token, map[string]any{"description": "No id"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, types.ErrCodeMissingField, decode[any](t, w).Error.Code)
}

func TestSubmissionValidation(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "POST", "/api/v1/submissions", "", map[string]any{
		"name":        "Bad",
		"description": "bad url",
		"url":         "ftp://bad.example.com",
		"categoryId":  1,
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	resp := decode[any](t, w)
	assert.Equal(t, types.ErrCodeValidationFailed, resp.Error.Code)
	assert.Contains(t, resp.Error.Details, "url")

	w = env.do(t, "POST", "/api/v1/submissions", "", map[string]any{
		"name":        "Lost",
		"description": "unknown category",
		"url":         "https://lost.example.com",
		"categoryId":  99,
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, types.ErrCodeCategoryMissing, decode[any](t, w).Error.Code)
}

func TestAdminAuthorization(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, http.StatusUnauthorized, env.do(t, "GET", "/api/v1/admin/tools", "", nil).Code)

	writer := env.login(t, "writer@example.com", contribPassword)
	assert.Equal(t, http.StatusOK, env.do(t, "GET", "/api/v1/admin/tools", writer, nil).Code)
	assert.Equal(t, http.StatusForbidden, env.do(t, "GET", "/api/v1/admin/users", writer, nil).Code)
	assert.Equal(t, http.StatusForbidden, env.do(t, "DELETE", "/api/v1/admin/tools/1", writer, nil).Code)

	w := env.do(t, "POST", "/api/v1/admin/tools", writer, map[string]any{
		"name":        "Gemini",
		"description": "Google assistant",
		"url":         "https://gemini.google.com",
		"categoryId":  1,
		"tags":        []string{"chat"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.True(t, decode[models.Tool](t, w).Data.IsActive)
}

func TestLoginAndMe(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "POST", "/api/v1/auth/login", "", map[string]string{"login": "admin", "password": "wrong-password"})
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, types.ErrCodeInvalidCredential, decode[any](t, w).Error.Code)

	w = env.do(t, "POST", "/api/v1/auth/login", "", map[string]string{"login": "reader", "password": "anything-at-all"})
	assert.Equal(t, http.StatusUnauthorized, w.Code, "users without a password cannot log in")

	token := env.login(t, "ADMIN@example.com", adminPassword)
	w = env.do(t, "GET", "/api/v1/auth/me", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	me := decode[types.CurrentUser](t, w).Data
	assert.Equal(t, "admin", me.Username)
	assert.Equal(t, types.UserRoleAdmin, me.Role)
}

func TestAdminCategories(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "admin", adminPassword)

	w := env.do(t, "GET", "/api/v1/admin/categories", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.Category](t, w).Data, 3)

	w = env.do(t, "POST", "/api/v1/admin/categories", token, map[string]any{"name": "Video", "slug": "AI Video"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode[any](t, w).Error.Details, "slug")

	w = env.do(t, "POST", "/api/v1/admin/categories", token, map[string]any{"name": "Chat again", "slug": "ai-chat"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, types.ErrCodeAlreadyExists, decode[any](t, w).Error.Code)

	w = env.do(t, "PUT", "/api/v1/admin/categories", token, map[string]any{"id": "2", "name": "AI Writing"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "AI Writing", decode[models.Category](t, w).Data.Name)

	w = env.do(t, "PUT", "/api/v1/admin/categories", token, map[string]any{"name": "No id"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, types.ErrCodeMissingField, decode[any](t, w).Error.Code)

	w = env.do(t, "POST", "/api/v1/admin/categories/recalculate", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	for _, c := range decode[[]models.Category](t, w).Data {
		if c.ID == 2 {
			assert.Equal(t, 1, c.ToolCount)
		}
	}
}

func TestAdminUsers(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "admin", adminPassword)

	w := env.do(t, "GET", "/api/v1/admin/users?role=contributor", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[handlers.UserList](t, w).Data
	require.Len(t, list.Users, 1)
	assert.Equal(t, "writer", list.Users[0].Username)
	assert.NotContains(t, w.Body.String(), "passwordHash")

	w = env.do(t, "GET", "/api/v1/admin/users?search=EXAMPLE&limit=2", token, nil)
	list = decode[handlers.UserList](t, w).Data
	assert.Equal(t, 3, list.Pagination.Total)
	assert.Len(t, list.Users, 2)

	w = env.do(t, "POST", "/api/v1/admin/users", token, map[string]any{"username": "nopass", "email": "nopass@example.com", "role": "user"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode[any](t, w).Error.Details, "password")

	w = env.do(t, "POST", "/api/v1/admin/users", token, map[string]any{"username": "writer", "email": "other@example.com", "role": "user", "password": "long-enough"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, types.ErrCodeAlreadyExists, decode[any](t, w).Error.Code)

	w = env.do(t, "POST", "/api/v1/admin/users", token, map[string]any{"username": "editor", "email": "editor@example.com", "role": "contributor", "password": "long-enough"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	env.login(t, "editor", "long-enough")

	adminPath := "/api/v1/admin/users/" + jsonID(env.adminID)
	w = env.do(t, "PUT", adminPath, token, map[string]any{"role": "user"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, types.ErrCodeLastAdmin, decode[any](t, w).Error.Code)

	w = env.do(t, "DELETE", adminPath, token, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, types.ErrCodeInvalidState, decode[any](t, w).Error.Code)

	assert.Equal(t, http.StatusNotFound, env.do(t, "DELETE", "/api/v1/admin/users/999", token, nil).Code)
}

func TestAdminStatsAndCrawler(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "admin", adminPassword)

	w := env.do(t, "GET", "/api/v1/admin/stats", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode[models.DashboardStats](t, w).Data
	assert.Equal(t, 5, stats.TotalTools)
	assert.Equal(t, 4, stats.ActiveTools)
	assert.Equal(t, 3, stats.TotalUsers)

	assert.Equal(t, http.StatusOK, env.do(t, "POST", "/api/v1/admin/cache/clear", token, nil).Code)

	w = env.do(t, "GET", "/api/v1/admin/crawler/status", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[handlers.CrawlerStatusResponse](t, w).Data.Running)

	w = env.do(t, "POST", "/api/v1/admin/crawler/run", token, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, types.ErrCodeInvalidState, decode[any](t, w).Error.Code)
}

func jsonID(id int64) string {
	raw, _ := json.Marshal(id)
	return string(raw)
}
