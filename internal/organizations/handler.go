package organizations

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/egida/backend/internal/middleware"
	"github.com/egida/backend/pkg/response"
)

// CreateRequest is the body for POST /organizations.
type CreateRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

// UpdateRequest is the body for PUT /organizations/:id.
type UpdateRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

// RoleRequest is the body for PUT /organizations/:id/members/:userID/role.
type RoleRequest struct {
	Role string `json:"role" binding:"required"`
}

// Handler handles organization HTTP endpoints.
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates an organizations handler.
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func callerID(c *gin.Context) (uuid.UUID, bool) {
	id, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
	}
	return id, ok
}

func pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.BadRequest(c, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

// Create handles POST /organizations.
func (h *Handler) Create(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	org, err := h.service.Create(c.Request.Context(), userID, req.Name, req.Description)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, org)
}

// List handles GET /organizations.
func (h *Handler) List(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	orgs, err := h.service.List(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("list organizations", zap.Error(err))
		response.Internal(c, "failed to list organizations")
		return
	}
	c.JSON(http.StatusOK, response.Body{Success: true, Data: orgs})
}

// Get handles GET /organizations/:id.
func (h *Handler) Get(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	orgID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	org, err := h.service.Get(c.Request.Context(), userID, orgID)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Body{Success: true, Data: org})
}

// Update handles PUT /organizations/:id.
func (h *Handler) Update(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	orgID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	org, err := h.service.Update(c.Request.Context(), userID, orgID, req.Name, req.Description)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Body{Success: true, Data: org})
}

// Delete handles DELETE /organizations/:id.
func (h *Handler) Delete(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	orgID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	if err := h.service.Delete(c.Request.Context(), userID, orgID); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Members handles GET /organizations/:id/members.
func (h *Handler) Members(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	orgID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	members, err := h.service.Members(c.Request.Context(), userID, orgID)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Body{Success: true, Data: members})
}

// ChangeRole handles PUT /organizations/:id/members/:userID/role.
func (h *Handler) ChangeRole(c *gin.Context) {
	actorID, ok := callerID(c)
	if !ok {
		return
	}
	orgID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	targetID, ok := pathUUID(c, "userID")
	if !ok {
		return
	}
	var req RoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if err := h.service.ChangeRole(c.Request.Context(), actorID, orgID, targetID, req.Role); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// RemoveMember handles DELETE /organizations/:id/members/:userID.
func (h *Handler) RemoveMember(c *gin.Context) {
	actorID, ok := callerID(c)
	if !ok {
		return
	}
	orgID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	targetID, ok := pathUUID(c, "userID")
	if !ok {
		return
	}
	if err := h.service.RemoveMember(c.Request.Context(), actorID, orgID, targetID); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
