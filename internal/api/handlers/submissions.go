package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xuai/navigator/internal/api/middleware"
	"github.com/xuai/navigator/internal/services"
	"github.com/xuai/navigator/pkg/store"
)

// SubmissionHandler public tool submissions
type SubmissionHandler struct {
	catalog *services.CatalogService
}

func NewSubmissionHandler(catalog *services.CatalogService) *SubmissionHandler {
	return &SubmissionHandler{catalog: catalog}
}

// Submit POST /api/v1/submissions
// The tool is stored inactive until an admin approves it.
func (h *SubmissionHandler) Submit(c *gin.Context) {
	var in store.CreateToolInput
	if !bindJSON(c, &in) {
		return
	}
	tool, err := h.catalog.SubmitTool(c.Request.Context(), in)
	if err != nil {
		respondError(c, err, "")
		return
	}
	middleware.StatusResponseWithMessage(c, http.StatusCreated, tool, middleware.T(c, "tool.submitted"))
}
