package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/xuai/navigator/internal/api/middleware"
	"github.com/xuai/navigator/internal/services"
)

// StatsHandler dashboard and maintenance endpoints
type StatsHandler struct {
	stats   *services.StatsService
	catalog *services.CatalogService
}

func NewStatsHandler(stats *services.StatsService, catalog *services.CatalogService) *StatsHandler {
	return &StatsHandler{stats: stats, catalog: catalog}
}

// Dashboard GET /api/v1/admin/stats
func (h *StatsHandler) Dashboard(c *gin.Context) {
	stats, err := h.stats.Dashboard(c.Request.Context())
	if err != nil {
		respondError(c, err, "")
		return
	}
	middleware.SuccessResponse(c, stats)
}

// ClearCache POST /api/v1/admin/cache/clear
func (h *StatsHandler) ClearCache(c *gin.Context) {
	h.catalog.ClearCache(c.Request.Context())
	middleware.SuccessResponseWithMessage[any](c, nil, middleware.T(c, "cache.cleared"))
}

// Reindex POST /api/v1/admin/search/reindex
func (h *StatsHandler) Reindex(c *gin.Context) {
	if err := h.catalog.Reindex(c.Request.Context()); err != nil {
		respondError(c, err, "")
		return
	}
	middleware.SuccessResponseWithMessage[any](c, nil, middleware.T(c, "search.reindexed"))
}
