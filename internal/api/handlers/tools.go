package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/xuai/navigator/internal/api/middleware"
	"github.com/xuai/navigator/internal/services"
	"github.com/xuai/navigator/pkg/models"
	"github.com/xuai/navigator/pkg/store"
	"github.com/xuai/navigator/pkg/types"
)

// ToolHandler public and admin tool endpoints
type ToolHandler struct {
	catalog *services.CatalogService
}

func NewToolHandler(catalog *services.CatalogService) *ToolHandler {
	return &ToolHandler{catalog: catalog}
}

// ToolDetail tool with its related tools
type ToolDetail struct {
	Tool    *models.Tool  `json:"tool"`
	Related []models.Tool `json:"related"`
}

func toolQuery(c *gin.Context, defaultStatus string) services.ToolQuery {
	return services.ToolQuery{
		Search:   c.Query("search"),
		Category: c.Query("category"),
		Status:   c.DefaultQuery("status", defaultStatus),
		Featured: parseBoolQuery(c, "featured"),
		Tag:      c.Query("tag"),
		SortBy:   c.Query("sortBy"),
		Page:     parseIntDefault(c.Query("page"), 1),
		Limit:    parseIntDefault(c.Query("limit"), services.DefaultPageSize),
	}
}

// List GET /api/v1/tools
// Active tools only. ?id= returns a single tool.
func (h *ToolHandler) List(c *gin.Context) {
	if raw := c.Query("id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			middleware.ErrorResponseWithCode(c, http.StatusBadRequest, types.ErrCodeBadRequest, middleware.T(c, "error.invalid_id"))
			return
		}
		tool, err := h.catalog.GetTool(c.Request.Context(), id, false)
		if err != nil {
			respondError(c, err, "tool.not_found")
			return
		}
		middleware.SuccessResponse(c, tool)
		return
	}

	q := toolQuery(c, services.StatusActive)
	q.Status = services.StatusActive
	list, err := h.catalog.ListTools(c.Request.Context(), q)
	if err != nil {
		respondError(c, err, "")
		return
	}
	middleware.SuccessResponse(c, list)
}

// Get GET /api/v1/tools/:id
func (h *ToolHandler) Get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	tool, err := h.catalog.GetTool(ctx, id, false)
	if err != nil {
		respondError(c, err, "tool.not_found")
		return
	}
	related, err := h.catalog.Related(ctx, tool, services.RelatedLimit)
	if err != nil {
		respondError(c, err, "")
		return
	}
	h.catalog.RecordView(ctx, tool.ID, c.ClientIP())

	middleware.SuccessResponse(c, ToolDetail{Tool: tool, Related: related})
}

// Featured GET /api/v1/tools/featured
func (h *ToolHandler) Featured(c *gin.Context) {
	tools, err := h.catalog.Featured(c.Request.Context(), parseIntDefault(c.Query("limit"), services.FeaturedLimit))
	if err != nil {
		respondError(c, err, "")
		return
	}
	middleware.SuccessResponse(c, tools)
}

// Latest GET /api/v1/tools/latest
func (h *ToolHandler) Latest(c *gin.Context) {
	tools, err := h.catalog.Latest(c.Request.Context(), parseIntDefault(c.Query("limit"), services.LatestLimit))
	if err != nil {
		respondError(c, err, "")
		return
	}
	middleware.SuccessResponse(c, tools)
}

// AdminList GET /api/v1/admin/tools
// Same filters as List; status defaults to all.
func (h *ToolHandler) AdminList(c *gin.Context) {
	list, err := h.catalog.ListTools(c.Request.Context(), toolQuery(c, services.StatusAll))
	if err != nil {
		respondError(c, err, "")
		return
	}
	middleware.SuccessResponse(c, list)
}

// AdminGet GET /api/v1/admin/tools/:id
func (h *ToolHandler) AdminGet(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	tool, err := h.catalog.GetTool(c.Request.Context(), id, true)
	if err != nil {
		respondError(c, err, "tool.not_found")
		return
	}
	middleware.SuccessResponse(c, tool)
}

// Create POST /api/v1/admin/tools
func (h *ToolHandler) Create(c *gin.Context) {
	var in store.CreateToolInput
	if !bindJSON(c, &in) {
		return
	}
	tool, err := h.catalog.CreateTool(c.Request.Context(), in)
	if err != nil {
		respondError(c, err, "")
		return
	}
	middleware.StatusResponseWithMessage(c, http.StatusCreated, tool, middleware.T(c, "tool.created"))
}

// Update PUT /api/v1/admin/tools/:id
func (h *ToolHandler) Update(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var in store.UpdateToolInput
	if !bindJSON(c, &in) {
		return
	}
	h.update(c, id, in)
}

// UpdateByBody PUT /api/v1/admin/tools
// Legacy form carrying the id in the body.
func (h *ToolHandler) UpdateByBody(c *gin.Context) {
	var in store.UpdateToolInput
	if !bindJSON(c, &in) {
		return
	}
	if in.ID == 0 {
		middleware.ErrorResponseWithCode(c, http.StatusBadRequest, types.ErrCodeMissingField, middleware.T(c, "tool.id_required"))
		return
	}
	h.update(c, int64(in.ID), in)
}

func (h *ToolHandler) update(c *gin.Context, id int64, in store.UpdateToolInput) {
	tool, err := h.catalog.UpdateTool(c.Request.Context(), id, in)
	if err != nil {
		respondError(c, err, "tool.not_found")
		return
	}
	middleware.SuccessResponseWithMessage(c, tool, middleware.T(c, "tool.updated"))
}

// Delete DELETE /api/v1/admin/tools/:id
// Tools are deactivated, not removed.
func (h *ToolHandler) Delete(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.catalog.DeleteTool(c.Request.Context(), id); err != nil {
		respondError(c, err, "tool.not_found")
		return
	}
	middleware.SuccessResponseWithMessage[any](c, nil, middleware.T(c, "tool.deleted"))
}

// Approve POST /api/v1/admin/tools/:id/approve
func (h *ToolHandler) Approve(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	tool, err := h.catalog.ApproveTool(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, "tool.not_found")
		return
	}
	middleware.SuccessResponseWithMessage(c, tool, middleware.T(c, "tool.approved"))
}
