package invites

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/egida/backend/internal/middleware"
	"github.com/egida/backend/pkg/response"
)

// CreateRequest is the body for POST /organizations/:id/invites.
type CreateRequest struct {
	Email    string      `json:"email" binding:"required,email"`
	Role     string      `json:"role" binding:"required"`
	GroupIDs []uuid.UUID `json:"group_ids"`
}

// AcceptRequest is the body for POST /invites/accept.
type AcceptRequest struct {
	Token string `json:"token" binding:"required"`
}

// Handler handles invite HTTP endpoints.
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates an invites handler.
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Create handles POST /organizations/:id/invites.
func (h *Handler) Create(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	orgID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid id")
		return
	}
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	res, err := h.service.Create(c.Request.Context(), userID, orgID, req.Email, req.Role, req.GroupIDs)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, res)
}

// List handles GET /organizations/:id/invites.
func (h *Handler) List(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	orgID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid id")
		return
	}
	list, err := h.service.List(c.Request.Context(), userID, orgID)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Body{Success: true, Data: list})
}

// Revoke handles POST /invites/:id/revoke.
func (h *Handler) Revoke(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	inviteID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid id")
		return
	}
	if err := h.service.Revoke(c.Request.Context(), userID, inviteID); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Accept handles POST /invites/accept.
func (h *Handler) Accept(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	emailVal, _ := c.Get(middleware.ContextUserEmail)
	email, _ := emailVal.(string)

	var req AcceptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	inv, err := h.service.Accept(c.Request.Context(), userID, email, req.Token)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Body{Success: true, Data: inv})
}
