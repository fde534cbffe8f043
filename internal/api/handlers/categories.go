package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xuai/navigator/internal/api/middleware"
	"github.com/xuai/navigator/internal/services"
	"github.com/xuai/navigator/pkg/models"
	"github.com/xuai/navigator/pkg/store"
	"github.com/xuai/navigator/pkg/types"
)

// CategoryHandler public and admin category endpoints
type CategoryHandler struct {
	catalog *services.CatalogService
}

func NewCategoryHandler(catalog *services.CatalogService) *CategoryHandler {
	return &CategoryHandler{catalog: catalog}
}

// CategoryTools a category page
type CategoryTools struct {
	Category *models.Category `json:"category"`
	Tools    []models.Tool    `json:"tools"`
}

// List GET /api/v1/categories
func (h *CategoryHandler) List(c *gin.Context) {
	cats, err := h.catalog.ActiveCategories(c.Request.Context())
	if err != nil {
		respondError(c, err, "")
		return
	}
	middleware.SuccessResponse(c, cats)
}

// Get GET /api/v1/categories/:slug
// Accepts a slug or a numeric id.
func (h *CategoryHandler) Get(c *gin.Context) {
	cat, tools, err := h.catalog.ToolsByCategory(c.Request.Context(), c.Param("slug"))
	if err != nil {
		respondError(c, err, "category.not_found")
		return
	}
	middleware.SuccessResponse(c, CategoryTools{Category: cat, Tools: tools})
}

// AdminList GET /api/v1/admin/categories
func (h *CategoryHandler) AdminList(c *gin.Context) {
	cats, err := h.catalog.AllCategories(c.Request.Context())
	if err != nil {
		respondError(c, err, "")
		return
	}
	middleware.SuccessResponse(c, cats)
}

// Create POST /api/v1/admin/categories
func (h *CategoryHandler) Create(c *gin.Context) {
	var in store.CreateCategoryInput
	if !bindJSON(c, &in) {
		return
	}
	cat, err := h.catalog.CreateCategory(c.Request.Context(), in)
	if err != nil {
		respondError(c, err, "")
		return
	}
	middleware.StatusResponseWithMessage(c, http.StatusCreated, cat, middleware.T(c, "category.created"))
}

// Update PUT /api/v1/admin/categories/:id
func (h *CategoryHandler) Update(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var in store.UpdateCategoryInput
	if !bindJSON(c, &in) {
		return
	}
	h.update(c, id, in)
}

// UpdateByBody PUT /api/v1/admin/categories
// Legacy form carrying the id in the body.
func (h *CategoryHandler) UpdateByBody(c *gin.Context) {
	var in store.UpdateCategoryInput
	if !bindJSON(c, &in) {
		return
	}
	if in.ID <= 0 {
		middleware.ErrorResponseWithCode(c, http.StatusBadRequest, types.ErrCodeMissingField, middleware.T(c, "category.id_required"))
		return
	}
	h.update(c, int64(in.ID), in)
}

func (h *CategoryHandler) update(c *gin.Context, id int64, in store.UpdateCategoryInput) {
	cat, err := h.catalog.UpdateCategory(c.Request.Context(), id, in)
	if err != nil {
		respondError(c, err, "category.not_found")
		return
	}
	middleware.SuccessResponseWithMessage(c, cat, middleware.T(c, "category.updated"))
}

// Delete DELETE /api/v1/admin/categories/:id
// Categories are deactivated, not removed.
func (h *CategoryHandler) Delete(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.catalog.DeleteCategory(c.Request.Context(), id); err != nil {
		respondError(c, err, "category.not_found")
		return
	}
	middleware.SuccessResponseWithMessage[any](c, nil, middleware.T(c, "category.deleted"))
}

// Recalculate POST /api/v1/admin/categories/recalculate
func (h *CategoryHandler) Recalculate(c *gin.Context) {
	ctx := c.Request.Context()
	if err := h.catalog.RecalculateToolCounts(ctx); err != nil {
		respondError(c, err, "")
		return
	}
	cats, err := h.catalog.AllCategories(ctx)
	if err != nil {
		respondError(c, err, "")
		return
	}
	middleware.SuccessResponseWithMessage(c, cats, middleware.T(c, "category.recalculated"))
}
