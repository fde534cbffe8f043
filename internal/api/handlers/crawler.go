package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xuai/navigator/internal/api/middleware"
	"github.com/xuai/navigator/internal/services"
	"github.com/xuai/navigator/pkg/types"
)

// CrawlerHandler on-demand crawler runs. crawler may be nil when no provider is configured.
type CrawlerHandler struct {
	crawler   *services.CrawlerService
	scheduler *services.SchedulerService
}

func NewCrawlerHandler(crawler *services.CrawlerService, scheduler *services.SchedulerService) *CrawlerHandler {
	return &CrawlerHandler{crawler: crawler, scheduler: scheduler}
}

// RunCrawlerRequest optional page content to extract from
type RunCrawlerRequest struct {
	Content string `json:"content"`
}

// CrawlerStatusResponse crawler state and its schedules
type CrawlerStatusResponse struct {
	services.CrawlStatus
	Schedules []services.ScheduleInfo `json:"schedules"`
}

// Run POST /api/v1/admin/crawler/run
func (h *CrawlerHandler) Run(c *gin.Context) {
	if h.crawler == nil {
		middleware.ErrorResponseWithCode(c, http.StatusBadRequest, types.ErrCodeInvalidState, middleware.T(c, "crawler.disabled"))
		return
	}

	var req RunCrawlerRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			middleware.ErrorResponseWithCode(c, http.StatusBadRequest, types.ErrCodeInvalidJSON, middleware.T(c, "error.invalid_json"))
			return
		}
	}

	triggeredBy := middleware.GetUserEmail(c)
	if triggeredBy == "" {
		triggeredBy = "admin"
	}
	run, err := h.crawler.Start(c.Request.Context(), req.Content, triggeredBy)
	switch {
	case errors.Is(err, services.ErrCrawlerRunning):
		middleware.ErrorResponseWithCode(c, http.StatusConflict, types.ErrCodeCrawlerRunning, middleware.T(c, "crawler.running"))
		return
	case errors.Is(err, services.ErrNoProviders):
		middleware.ErrorResponseWithCode(c, http.StatusBadRequest, types.ErrCodeInvalidState, middleware.T(c, "crawler.disabled"))
		return
	case err != nil:
		respondError(c, err, "")
		return
	}
	middleware.StatusResponseWithMessage(c, http.StatusAccepted, run, middleware.T(c, "crawler.started"))
}

// Status GET /api/v1/admin/crawler/status
func (h *CrawlerHandler) Status(c *gin.Context) {
	resp := CrawlerStatusResponse{Schedules: []services.ScheduleInfo{}}
	if h.crawler != nil {
		resp.CrawlStatus = h.crawler.Status()
	}
	if h.scheduler != nil {
		resp.Schedules = h.scheduler.ListJobs()
	}
	middleware.SuccessResponse(c, resp)
}
