package auth

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/egida/backend/internal/email"
	"github.com/egida/backend/internal/models"
	"github.com/egida/backend/pkg/database"
	"github.com/egida/backend/pkg/response"
	"github.com/egida/backend/pkg/utils"
)

// RegisterRequest is the body for POST /auth/register.
type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
}

// LoginRequest is the body for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
	Client   string `json:"client"`
}

// RefreshRequest is the body for POST /auth/refresh and /auth/logout.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// ResetRequest is the body for POST /auth/password-reset/request.
type ResetRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// ResetConfirmRequest is the body for POST /auth/password-reset/confirm.
type ResetConfirmRequest struct {
	Token    string `json:"token" binding:"required"`
	Password string `json:"password" binding:"required,min=8"`
}

// TokenResponse is the auth response with access and refresh tokens.
type TokenResponse struct {
	AccessToken  string            `json:"access_token"`
	RefreshToken string            `json:"refresh_token"`
	User         models.UserPublic `json:"user"`
}

// Handler handles auth HTTP endpoints.
type Handler struct {
	repo               *Repository
	jwt                *JWTService
	mailer             *email.Service
	logger             *zap.Logger
	baseURL            string
	refreshExpireHours int
	resetExpire        time.Duration
}

// NewHandler creates an auth handler.
func NewHandler(repo *Repository, jwt *JWTService, mailer *email.Service, logger *zap.Logger, baseURL string, refreshExpireHours int) *Handler {
	return &Handler{
		repo:               repo,
		jwt:                jwt,
		mailer:             mailer,
		logger:             logger,
		baseURL:            baseURL,
		refreshExpireHours: refreshExpireHours,
		resetExpire:        24 * time.Hour,
	}
}

func (h *Handler) issueTokens(c *gin.Context, user *models.User, client string) (*TokenResponse, error) {
	access, err := h.jwt.Generate(user.ID, user.Email)
	if err != nil {
		return nil, err
	}
	refresh, err := utils.NewToken(32)
	if err != nil {
		return nil, err
	}
	expires := time.Now().Add(time.Duration(h.refreshExpireHours) * time.Hour)
	if err := h.repo.CreateRefreshToken(c.Request.Context(), user.ID, utils.HashToken(refresh), client, expires); err != nil {
		return nil, err
	}
	return &TokenResponse{AccessToken: access, RefreshToken: refresh, User: user.ToPublic()}, nil
}

// Register handles POST /auth/register.
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	hash, err := utils.HashPassword(req.Password)
	if errors.Is(err, utils.ErrPasswordTooLong) {
		response.BadRequest(c, "password exceeds 72 bytes")
		return
	}
	if err != nil {
		response.Internal(c, "failed to hash password")
		return
	}

	user, err := h.repo.Create(c.Request.Context(), req.Email, hash)
	if err != nil {
		if database.IsUniqueViolation(err) {
			response.Conflict(c, "email already registered")
			return
		}
		h.logger.Error("create user", zap.Error(err))
		response.Internal(c, "failed to create user")
		return
	}

	tokens, err := h.issueTokens(c, user, "")
	if err != nil {
		response.Internal(c, "failed to generate token")
		return
	}
	response.Created(c, tokens)
}

// Login handles POST /auth/login.
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	user, err := h.repo.GetByEmail(c.Request.Context(), req.Email)
	if err != nil || !user.IsActive || !utils.CheckPassword(req.Password, user.Password) {
		response.Unauthorized(c, "invalid email or password")
		return
	}

	tokens, err := h.issueTokens(c, user, req.Client)
	if err != nil {
		response.Internal(c, "failed to generate token")
		return
	}
	c.JSON(http.StatusOK, response.Body{Success: true, Data: tokens})
}

// Refresh handles POST /auth/refresh. The presented token is rotated:
// revoked and replaced by a fresh one in the same response.
func (h *Handler) Refresh(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	hash := utils.HashToken(req.RefreshToken)
	row, err := h.repo.GetRefreshToken(c.Request.Context(), hash)
	if err != nil || row.Revoked || time.Now().After(row.ExpiresAt) {
		response.Unauthorized(c, "invalid or expired refresh token")
		return
	}

	user, err := h.repo.GetByID(c.Request.Context(), row.UserID)
	if err != nil || !user.IsActive {
		response.Unauthorized(c, "invalid or expired refresh token")
		return
	}

	if err := h.repo.RevokeRefreshToken(c.Request.Context(), hash); err != nil {
		h.logger.Error("revoke refresh token", zap.Error(err))
		response.Internal(c, "failed to rotate token")
		return
	}

	tokens, err := h.issueTokens(c, user, row.Client)
	if err != nil {
		response.Internal(c, "failed to generate token")
		return
	}
	c.JSON(http.StatusOK, response.Body{Success: true, Data: tokens})
}

// Logout handles POST /auth/logout. Revokes the presented refresh token.
func (h *Handler) Logout(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if err := h.repo.RevokeRefreshToken(c.Request.Context(), utils.HashToken(req.RefreshToken)); err != nil {
		h.logger.Error("logout", zap.Error(err))
		response.Internal(c, "failed to logout")
		return
	}
	response.NoContent(c)
}

// Me handles GET /auth/me.
func (h *Handler) Me(c *gin.Context) {
	v, ok := c.Get("user_id")
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	userID, ok := v.(uuid.UUID)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	user, err := h.repo.GetByID(c.Request.Context(), userID)
	if err != nil {
		response.NotFound(c, "user not found")
		return
	}
	c.JSON(http.StatusOK, response.Body{Success: true, Data: user.ToPublic()})
}

// RequestPasswordReset handles POST /auth/password-reset/request.
// Always returns 204 so the endpoint cannot be used to probe for accounts.
func (h *Handler) RequestPasswordReset(c *gin.Context) {
	var req ResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	user, err := h.repo.GetByEmail(c.Request.Context(), req.Email)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			h.logger.Error("password reset lookup", zap.Error(err))
		}
		response.NoContent(c)
		return
	}

	token, err := utils.NewToken(32)
	if err != nil {
		h.logger.Error("generate reset token", zap.Error(err))
		response.Internal(c, "failed to create reset token")
		return
	}
	expires := time.Now().Add(h.resetExpire)
	if err := h.repo.CreatePasswordResetToken(c.Request.Context(), user.ID, utils.HashToken(token), expires); err != nil {
		h.logger.Error("create reset token", zap.Error(err))
		response.Internal(c, "failed to create reset token")
		return
	}

	link := fmt.Sprintf("%s/reset-password?token=%s", h.baseURL, token)
	if err := h.mailer.SendPasswordReset(user.Email, link); err != nil {
		h.logger.Warn("send reset email", zap.Error(err))
	}
	response.NoContent(c)
}

// ConfirmPasswordReset handles POST /auth/password-reset/confirm.
func (h *Handler) ConfirmPasswordReset(c *gin.Context) {
	var req ResetConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	hash := utils.HashToken(req.Token)
	row, err := h.repo.GetPasswordResetToken(c.Request.Context(), hash)
	if err != nil || row.Used || time.Now().After(row.ExpiresAt) {
		response.BadRequest(c, "invalid or expired reset token")
		return
	}

	pwHash, err := utils.HashPassword(req.Password)
	if errors.Is(err, utils.ErrPasswordTooLong) {
		response.BadRequest(c, "password exceeds 72 bytes")
		return
	}
	if err != nil {
		response.Internal(c, "failed to hash password")
		return
	}
	if err := h.repo.UpdatePassword(c.Request.Context(), row.UserID, pwHash); err != nil {
		h.logger.Error("update password", zap.Error(err))
		response.Internal(c, "failed to update password")
		return
	}
	if err := h.repo.MarkPasswordResetUsed(c.Request.Context(), hash); err != nil {
		h.logger.Error("mark reset used", zap.Error(err))
	}
	// All sessions end when the password changes.
	if err := h.repo.RevokeUserRefreshTokens(c.Request.Context(), row.UserID); err != nil {
		h.logger.Error("revoke sessions", zap.Error(err))
	}
	response.NoContent(c)
}
