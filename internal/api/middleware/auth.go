package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/xuai/navigator/pkg/types"
)

// Context keys set by the middleware chain.
const (
	RequestIDKey = "request_id"
	UserIDKey    = "user_id"
	UserEmailKey = "user_email"
	UserRoleKey  = "user_role"
)

// GetRequestID extracts request ID from gin context
func GetRequestID(c *gin.Context) string {
	if id, ok := c.Get(RequestIDKey); ok {
		if s, ok := id.(string); ok {
			return s
		}
	}
	return ""
}

// GetUserID returns the authenticated user's id, or "" for anonymous requests.
func GetUserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}

// GetUserEmail returns the authenticated user's email.
func GetUserEmail(c *gin.Context) string {
	return c.GetString(UserEmailKey)
}

// GetUserRole returns the role carried by the token.
func GetUserRole(c *gin.Context) types.UserRole {
	return types.UserRole(c.GetString(UserRoleKey))
}

// ErrorResponse sends a localized internal error.
func ErrorResponse(c *gin.Context, status int, message string) {
	ErrorResponseWithCode(c, status, types.ErrCodeInternalError, message)
}

// ErrorResponseWithCode sends error response with error code and request_id
func ErrorResponseWithCode(c *gin.Context, status int, code types.ErrorCode, message string) {
	c.JSON(status, types.APIResponse[any]{
		Success:   false,
		Error:     types.NewAPIError(code, message),
		RequestID: GetRequestID(c),
	})
}

// ErrorResponseWithDetails sends error response with error code, details and request_id
func ErrorResponseWithDetails(c *gin.Context, status int, code types.ErrorCode, message string, details map[string]string) {
	c.JSON(status, types.APIResponse[any]{
		Success:   false,
		Error:     types.NewAPIErrorWithDetails(code, message, details),
		RequestID: GetRequestID(c),
	})
}

// SuccessResponse sends success response with request_id
func SuccessResponse[T any](c *gin.Context, data T) {
	c.JSON(http.StatusOK, types.APIResponse[T]{
		Success:   true,
		Data:      data,
		RequestID: GetRequestID(c),
	})
}

// SuccessResponseWithMessage sends success response with message and request_id
func SuccessResponseWithMessage[T any](c *gin.Context, data T, message string) {
	StatusResponseWithMessage(c, http.StatusOK, data, message)
}

// StatusResponseWithMessage is SuccessResponseWithMessage with a custom status, e.g. 201.
func StatusResponseWithMessage[T any](c *gin.Context, status int, data T, message string) {
	c.JSON(status, types.APIResponse[T]{
		Success:   true,
		Data:      data,
		Message:   message,
		RequestID: GetRequestID(c),
	})
}

// AuthMiddleware validates the HS256 bearer token and stores its claims.
func AuthMiddleware(jwtSecret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			ErrorResponseWithCode(c, http.StatusUnauthorized, types.ErrCodeUnauthorized, T(c, "auth.missing_header"))
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			ErrorResponseWithCode(c, http.StatusUnauthorized, types.ErrCodeUnauthorized, T(c, "auth.invalid_header"))
			c.Abort()
			return
		}

		token, err := jwt.Parse(parts[1], func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return jwtSecret, nil
		})
		if err != nil || !token.Valid {
			ErrorResponseWithCode(c, http.StatusUnauthorized, types.ErrCodeInvalidToken, T(c, "auth.invalid_token"))
			c.Abort()
			return
		}

		if claims, ok := token.Claims.(jwt.MapClaims); ok {
			sub, _ := claims.GetSubject()
			email, _ := claims["email"].(string)
			role, _ := claims["role"].(string)
			c.Set(UserIDKey, sub)
			c.Set(UserEmailKey, email)
			c.Set(UserRoleKey, role)
		}

		c.Next()
	}
}

// RoleMiddleware lets through only the listed roles.
func RoleMiddleware(allowedRoles ...types.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := GetUserRole(c)
		if role == "" {
			ErrorResponseWithCode(c, http.StatusForbidden, types.ErrCodeForbidden, T(c, "auth.forbidden"))
			c.Abort()
			return
		}

		for _, allowed := range allowedRoles {
			if role == allowed {
				c.Next()
				return
			}
		}

		ErrorResponseWithCode(c, http.StatusForbidden, types.ErrCodeInsufficientPerms, T(c, "auth.insufficient"))
		c.Abort()
	}
}

// CORSMiddleware allows the configured origins, or any origin when none are set.
func CORSMiddleware(allowedOrigins ...string) gin.HandlerFunc {
	allowAll := len(allowedOrigins) == 0
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[strings.TrimRight(o, "/")] = struct{}{}
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		h := c.Writer.Header()
		switch {
		case allowAll:
			h.Set("Access-Control-Allow-Origin", "*")
		case origin != "":
			if _, ok := allowed[origin]; ok {
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Credentials", "true")
				h.Add("Vary", "Origin")
			}
		}
		h.Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Accept-Language, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		h.Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE, PATCH")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// RequestIDMiddleware reuses an incoming X-Request-ID or generates one.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		c.Set(RequestIDKey, requestID)
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}
