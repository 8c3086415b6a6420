package groups

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/egida/backend/internal/middleware"
	"github.com/egida/backend/internal/models"
	"github.com/egida/backend/internal/organizations"
	"github.com/egida/backend/pkg/response"
)

// CreateRequest is the body for POST /organizations/:id/groups.
type CreateRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	Color       string `json:"color"`
}

// UpdateRequest is the body for PUT /groups/:id.
type UpdateRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	Color       string `json:"color"`
}

// MemberRequest is the body for POST /groups/:id/members.
type MemberRequest struct {
	UserID uuid.UUID `json:"user_id" binding:"required"`
}

// Handler handles group HTTP endpoints.
type Handler struct {
	repo   *Repository
	orgs   *organizations.Service
	logger *zap.Logger
}

// NewHandler creates a groups handler.
func NewHandler(repo *Repository, orgs *organizations.Service, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, orgs: orgs, logger: logger}
}

// group loads a group and checks the caller holds minRole in its organization.
func (h *Handler) group(c *gin.Context, minRole string) (*models.Group, bool) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return nil, false
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid id")
		return nil, false
	}
	g, err := h.repo.Get(c.Request.Context(), id)
	if errors.Is(err, pgx.ErrNoRows) {
		response.NotFound(c, "group not found")
		return nil, false
	}
	if err != nil {
		h.logger.Error("get group", zap.Error(err))
		response.Internal(c, "failed to load group")
		return nil, false
	}
	if _, err := h.orgs.RequireRole(c.Request.Context(), g.OrganizationID, userID, minRole); err != nil {
		response.Error(c, err)
		return nil, false
	}
	return g, true
}

// Create handles POST /organizations/:id/groups. Requires admin.
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
	if _, err := h.orgs.RequireRole(c.Request.Context(), orgID, userID, models.OrgRoleAdmin); err != nil {
		response.Error(c, err)
		return
	}
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	g := &models.Group{
		OrganizationID: orgID,
		Name:           req.Name,
		Description:    req.Description,
		Color:          req.Color,
	}
	if err := h.repo.Create(c.Request.Context(), g); err != nil {
		h.logger.Error("create group", zap.Error(err))
		response.Internal(c, "failed to create group")
		return
	}
	response.Created(c, g)
}

// List handles GET /organizations/:id/groups. Any member.
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
	if _, err := h.orgs.RequireRole(c.Request.Context(), orgID, userID, models.OrgRoleMember); err != nil {
		response.Error(c, err)
		return
	}
	list, err := h.repo.ListByOrg(c.Request.Context(), orgID)
	if err != nil {
		h.logger.Error("list groups", zap.Error(err))
		response.Internal(c, "failed to list groups")
		return
	}
	c.JSON(http.StatusOK, response.Body{Success: true, Data: list})
}

// Update handles PUT /groups/:id. Requires admin.
func (h *Handler) Update(c *gin.Context) {
	g, ok := h.group(c, models.OrgRoleAdmin)
	if !ok {
		return
	}
	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	updated, err := h.repo.Update(c.Request.Context(), g.ID, req.Name, req.Description, req.Color)
	if err != nil {
		h.logger.Error("update group", zap.Error(err))
		response.Internal(c, "failed to update group")
		return
	}
	c.JSON(http.StatusOK, response.Body{Success: true, Data: updated})
}

// Delete handles DELETE /groups/:id. Requires admin.
func (h *Handler) Delete(c *gin.Context) {
	g, ok := h.group(c, models.OrgRoleAdmin)
	if !ok {
		return
	}
	if err := h.repo.Delete(c.Request.Context(), g.ID); err != nil {
		h.logger.Error("delete group", zap.Error(err))
		response.Internal(c, "failed to delete group")
		return
	}
	response.NoContent(c)
}

// AddMember handles POST /groups/:id/members. Requires admin; the target
// must already belong to the organization.
func (h *Handler) AddMember(c *gin.Context) {
	g, ok := h.group(c, models.OrgRoleAdmin)
	if !ok {
		return
	}
	var req MemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if _, err := h.orgs.RequireRole(c.Request.Context(), g.OrganizationID, req.UserID, models.OrgRoleMember); err != nil {
		response.BadRequest(c, "user is not a member of this organization")
		return
	}
	if err := h.repo.AddMember(c.Request.Context(), g.ID, g.OrganizationID, req.UserID); err != nil {
		h.logger.Error("add group member", zap.Error(err))
		response.Internal(c, "failed to add member")
		return
	}
	response.NoContent(c)
}

// RemoveMember handles DELETE /groups/:id/members/:userID. Requires admin.
func (h *Handler) RemoveMember(c *gin.Context) {
	g, ok := h.group(c, models.OrgRoleAdmin)
	if !ok {
		return
	}
	targetID, err := uuid.Parse(c.Param("userID"))
	if err != nil {
		response.BadRequest(c, "invalid userID")
		return
	}
	if err := h.repo.RemoveMember(c.Request.Context(), g.ID, targetID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			response.NotFound(c, "membership not found")
			return
		}
		h.logger.Error("remove group member", zap.Error(err))
		response.Internal(c, "failed to remove member")
		return
	}
	response.NoContent(c)
}

// Members handles GET /groups/:id/members. Any member of the organization.
func (h *Handler) Members(c *gin.Context) {
	g, ok := h.group(c, models.OrgRoleMember)
	if !ok {
		return
	}
	list, err := h.repo.ListMembers(c.Request.Context(), g.ID)
	if err != nil {
		h.logger.Error("list group members", zap.Error(err))
		response.Internal(c, "failed to list members")
		return
	}
	c.JSON(http.StatusOK, response.Body{Success: true, Data: list})
}
