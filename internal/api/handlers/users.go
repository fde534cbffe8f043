package handlers

import (
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/xuai/navigator/internal/api/middleware"
	"github.com/xuai/navigator/internal/services"
	"github.com/xuai/navigator/pkg/models"
	"github.com/xuai/navigator/pkg/store"
	"github.com/xuai/navigator/pkg/types"
)

// UserHandler admin user management
type UserHandler struct {
	store store.Store
}

func NewUserHandler(st store.Store) *UserHandler {
	return &UserHandler{store: st}
}

// UserList one page of users
type UserList struct {
	Users      []models.User    `json:"users"`
	Pagination types.Pagination `json:"pagination"`
}

// HashPassword bcrypt-hashes a plain password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// ListUsers GET /api/v1/admin/users?role=&isActive=&search=&page=&limit=
func (h *UserHandler) ListUsers(c *gin.Context) {
	users, err := h.store.ListUsers(c.Request.Context())
	if err != nil {
		respondError(c, err, "")
		return
	}

	role := c.Query("role")
	active := parseBoolQuery(c, "isActive")
	search := strings.ToLower(strings.TrimSpace(c.Query("search")))

	filtered := make([]models.User, 0, len(users))
	for _, u := range users {
		if role != "" && u.Role != role {
			continue
		}
		if active != nil && u.IsActive != *active {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(u.Username), search) &&
			!strings.Contains(strings.ToLower(u.Email), search) {
			continue
		}
		filtered = append(filtered, u)
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].CreatedAt.After(filtered[j].CreatedAt)
	})

	page, limit := services.NormalizePage(parseIntDefault(c.Query("page"), 1), parseIntDefault(c.Query("limit"), services.DefaultPageSize))
	start := (page - 1) * limit
	if start > len(filtered) {
		start = len(filtered)
	}
	end := start + limit
	if end > len(filtered) {
		end = len(filtered)
	}

	middleware.SuccessResponse(c, UserList{
		Users:      filtered[start:end],
		Pagination: types.NewPagination(page, limit, len(filtered)),
	})
}

// GetUser GET /api/v1/admin/users/:id
func (h *UserHandler) GetUser(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	user, err := h.store.GetUser(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, "user.not_found")
		return
	}
	middleware.SuccessResponse(c, user)
}

// CreateUser POST /api/v1/admin/users
func (h *UserHandler) CreateUser(c *gin.Context) {
	var in store.CreateUserInput
	if !bindJSON(c, &in) {
		return
	}
	if in.Password == "" {
		requiredField(c, "password")
		return
	}
	hash, err := HashPassword(in.Password)
	if err != nil {
		respondError(c, err, "")
		return
	}
	in.PasswordHash, in.Password = hash, ""

	user, err := h.store.CreateUser(c.Request.Context(), in)
	if err != nil {
		respondError(c, err, "")
		return
	}
	middleware.StatusResponseWithMessage(c, http.StatusCreated, user, middleware.T(c, "user.created"))
}

// UpdateUser PUT /api/v1/admin/users/:id
func (h *UserHandler) UpdateUser(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var in store.UpdateUserInput
	if !bindJSON(c, &in) {
		return
	}
	if in.Password != nil && *in.Password != "" {
		hash, err := HashPassword(*in.Password)
		if err != nil {
			respondError(c, err, "")
			return
		}
		in.PasswordHash = &hash
	}
	in.Password = nil

	user, err := h.store.UpdateUser(c.Request.Context(), id, in)
	if err != nil {
		respondError(c, err, "user.not_found")
		return
	}
	middleware.SuccessResponseWithMessage(c, user, middleware.T(c, "user.updated"))
}

// DeleteUser DELETE /api/v1/admin/users/:id
func (h *UserHandler) DeleteUser(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if middleware.GetUserID(c) == strconv.FormatInt(id, 10) {
		middleware.ErrorResponseWithCode(c, http.StatusBadRequest, types.ErrCodeInvalidState, middleware.T(c, "user.cannot_delete_self"))
		return
	}
	if err := h.store.DeleteUser(c.Request.Context(), id); err != nil {
		respondError(c, err, "user.not_found")
		return
	}
	middleware.SuccessResponseWithMessage[any](c, nil, middleware.T(c, "user.deleted"))
}
