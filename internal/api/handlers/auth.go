package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/xuai/navigator/internal/api/middleware"
	"github.com/xuai/navigator/pkg/config"
	"github.com/xuai/navigator/pkg/models"
	"github.com/xuai/navigator/pkg/store"
	"github.com/xuai/navigator/pkg/types"
)

// DefaultTokenTTL lifetime of issued tokens
const DefaultTokenTTL = 24 * time.Hour

// AuthHandler password login for the back office
type AuthHandler struct {
	store       store.Store
	jwtSecret   []byte
	tokenTTL    time.Duration
	usersConfig *config.UsersConfig
	now         func() time.Time
}

func NewAuthHandler(st store.Store, jwtSecret string, tokenTTL time.Duration, usersConfig *config.UsersConfig) *AuthHandler {
	if tokenTTL <= 0 {
		tokenTTL = DefaultTokenTTL
	}
	return &AuthHandler{
		store:       st,
		jwtSecret:   []byte(jwtSecret),
		tokenTTL:    tokenTTL,
		usersConfig: usersConfig,
		now:         time.Now,
	}
}

// LoginResponse token plus the logged-in user
type LoginResponse struct {
	Token types.AuthToken   `json:"token"`
	User  types.CurrentUser `json:"user"`
}

// Login POST /api/v1/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req types.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.ErrorResponseWithCode(c, http.StatusBadRequest, types.ErrCodeInvalidJSON, middleware.T(c, "error.invalid_json"))
		return
	}

	user, err := h.store.GetUserByLogin(c.Request.Context(), req.Login)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.invalidCredentials(c)
			return
		}
		respondError(c, err, "")
		return
	}
	if user.PasswordHash == "" || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		h.invalidCredentials(c)
		return
	}
	if !user.IsActive {
		middleware.ErrorResponseWithCode(c, http.StatusForbidden, types.ErrCodeForbidden, middleware.T(c, "user.inactive"))
		return
	}

	current := h.currentUser(user)
	token, err := h.generateToken(current)
	if err != nil {
		respondError(c, err, "")
		return
	}
	middleware.SuccessResponse(c, LoginResponse{Token: *token, User: current})
}

func (h *AuthHandler) invalidCredentials(c *gin.Context) {
	middleware.ErrorResponseWithCode(c, http.StatusUnauthorized, types.ErrCodeInvalidCredential, middleware.T(c, "auth.invalid_credentials"))
}

// currentUser applies the role granted by the configured email lists.
func (h *AuthHandler) currentUser(u *models.User) types.CurrentUser {
	return types.CurrentUser{
		ID:       strconv.FormatInt(u.ID, 10),
		Username: u.Username,
		Email:    u.Email,
		Role:     h.usersConfig.EffectiveRole(u.Email, types.UserRole(u.Role)),
	}
}

func (h *AuthHandler) generateToken(u types.CurrentUser) (*types.AuthToken, error) {
	now := h.now()
	expiresAt := now.Add(h.tokenTTL)

	claims := jwt.MapClaims{
		"sub":   u.ID,
		"email": u.Email,
		"role":  string(u.Role),
		"exp":   expiresAt.Unix(),
		"iat":   now.Unix(),
	}

	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(h.jwtSecret)
	if err != nil {
		return nil, err
	}

	return &types.AuthToken{
		AccessToken: tokenString,
		TokenType:   "Bearer",
		ExpiresIn:   int(h.tokenTTL.Seconds()),
		ExpiresAt:   expiresAt,
	}, nil
}

// GetCurrentUser GET /api/v1/auth/me
func (h *AuthHandler) GetCurrentUser(c *gin.Context) {
	id, err := strconv.ParseInt(middleware.GetUserID(c), 10, 64)
	if err != nil {
		middleware.ErrorResponseWithCode(c, http.StatusUnauthorized, types.ErrCodeInvalidToken, middleware.T(c, "auth.invalid_token"))
		return
	}

	user, err := h.store.GetUser(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, "user.not_found")
		return
	}
	middleware.SuccessResponse(c, h.currentUser(user))
}
