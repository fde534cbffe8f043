package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/xuai/navigator/internal/api/middleware"
	"github.com/xuai/navigator/internal/services"
	"github.com/xuai/navigator/pkg/config"
)

// SearchHandler public search endpoints
type SearchHandler struct {
	catalog *services.CatalogService
}

func NewSearchHandler(catalog *services.CatalogService) *SearchHandler {
	return &SearchHandler{catalog: catalog}
}

// Search GET /api/v1/search?q=&category=&tags=&sortBy=&page=&limit=
func (h *SearchHandler) Search(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		query = c.Query("search")
	}
	result, err := h.catalog.Search(c.Request.Context(), services.SearchParams{
		Query:    query,
		Category: c.Query("category"),
		Tags:     config.SplitList(c.Query("tags")),
		SortBy:   c.Query("sortBy"),
		Page:     parseIntDefault(c.Query("page"), 1),
		Limit:    parseIntDefault(c.Query("limit"), services.DefaultPageSize),
		Visitor:  c.ClientIP(),
	})
	if err != nil {
		respondError(c, err, "")
		return
	}
	middleware.SuccessResponse(c, result)
}

// Hot GET /api/v1/search/hot
func (h *SearchHandler) Hot(c *gin.Context) {
	hot, err := h.catalog.HotSearches(c.Request.Context(), parseIntDefault(c.Query("limit"), 10))
	if err != nil {
		respondError(c, err, "")
		return
	}
	middleware.SuccessResponse(c, hot)
}
