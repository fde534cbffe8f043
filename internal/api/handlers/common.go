package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/xuai/navigator/internal/api/middleware"
	"github.com/xuai/navigator/pkg/store"
	"github.com/xuai/navigator/pkg/types"
	"github.com/xuai/navigator/pkg/validation"
)

// parseIntDefault parses s, falling back to def when s is empty or invalid.
func parseIntDefault(s string, def int) int {
	if v, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
		return v
	}
	return def
}

// parseBoolQuery reads an optional boolean query parameter.
func parseBoolQuery(c *gin.Context, key string) *bool {
	raw, ok := c.GetQuery(key)
	if !ok || raw == "" {
		return nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil
	}
	return &v
}

// pathID parses the :id path parameter, answering 400 when it is not a
// non-zero integer. Tools stored without an id are listed under a negative
// temporary id, so negative values are accepted.
func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		middleware.ErrorResponseWithCode(c, http.StatusBadRequest, types.ErrCodeBadRequest, middleware.T(c, "error.invalid_id"))
		return 0, false
	}
	return id, true
}

// bindJSON decodes the body into dst and runs the catalog validation rules.
func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		middleware.ErrorResponseWithCode(c, http.StatusBadRequest, types.ErrCodeInvalidJSON, middleware.T(c, "error.invalid_json"))
		return false
	}
	if err := validation.Default().Struct(dst); err != nil {
		respondError(c, err, "")
		return false
	}
	return true
}

// respondError maps service and store errors onto the error envelope.
// notFoundKey names the message used for store.ErrNotFound.
func respondError(c *gin.Context, err error, notFoundKey string) {
	var verrs *validation.Errors
	switch {
	case errors.As(err, &verrs):
		middleware.ErrorResponseWithDetails(c, http.StatusBadRequest, types.ErrCodeValidationFailed,
			middleware.T(c, "error.validation_failed"), verrs.Details(middleware.Translator(c)))
	case errors.Is(err, store.ErrCategoryNotFound):
		middleware.ErrorResponseWithCode(c, http.StatusBadRequest, types.ErrCodeCategoryMissing, middleware.T(c, "category.missing_for_tool"))
	case errors.Is(err, store.ErrNotFound):
		if notFoundKey == "" {
			notFoundKey = "error.internal"
		}
		middleware.ErrorResponseWithCode(c, http.StatusNotFound, types.ErrCodeNotFound, middleware.T(c, notFoundKey))
	case errors.Is(err, store.ErrSlugExists):
		middleware.ErrorResponseWithCode(c, http.StatusBadRequest, types.ErrCodeAlreadyExists, middleware.T(c, "category.slug_exists"))
	case errors.Is(err, store.ErrUsernameExists):
		middleware.ErrorResponseWithCode(c, http.StatusBadRequest, types.ErrCodeAlreadyExists, middleware.T(c, "user.username_exists"))
	case errors.Is(err, store.ErrEmailExists):
		middleware.ErrorResponseWithCode(c, http.StatusBadRequest, types.ErrCodeAlreadyExists, middleware.T(c, "user.email_exists"))
	case errors.Is(err, store.ErrLastAdmin):
		middleware.ErrorResponseWithCode(c, http.StatusBadRequest, types.ErrCodeLastAdmin, middleware.T(c, "user.last_admin"))
	default:
		_ = c.Error(err)
		middleware.ErrorResponseWithCode(c, http.StatusInternalServerError, types.ErrCodeInternalError, middleware.T(c, "error.internal"))
	}
}

// requiredField reports a single missing field the way validation failures are reported.
func requiredField(c *gin.Context, field string) {
	respondError(c, &validation.Errors{Fields: []validation.FieldError{{Field: field, Tag: "required"}}}, "")
}
