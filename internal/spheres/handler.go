package spheres

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/egida/backend/internal/groups"
	"github.com/egida/backend/internal/middleware"
	"github.com/egida/backend/internal/models"
	"github.com/egida/backend/internal/organizations"
	"github.com/egida/backend/pkg/response"
)

// DefaultRadius is assigned when a sphere is created without geometry.
const DefaultRadius = 0.22

// Sphere geometry lives in the unit square, so every coordinate and radius
// is bounded to [0,1].

// CreateRequest is the body for POST /organizations/:id/spheres.
type CreateRequest struct {
	Name        string      `json:"name" binding:"required"`
	Description string      `json:"description"`
	Color       string      `json:"color"`
	CenterX     *float64    `json:"center_x" binding:"omitempty,gte=0,lte=1"`
	CenterY     *float64    `json:"center_y" binding:"omitempty,gte=0,lte=1"`
	Radius      *float64    `json:"radius" binding:"omitempty,gte=0,lte=1"`
	GroupIDs    []uuid.UUID `json:"group_ids"`
}

// UpdateRequest is the body for PUT /spheres/:id.
type UpdateRequest struct {
	Name        string      `json:"name" binding:"required"`
	Description string      `json:"description"`
	Color       string      `json:"color"`
	CenterX     *float64    `json:"center_x" binding:"omitempty,gte=0,lte=1"`
	CenterY     *float64    `json:"center_y" binding:"omitempty,gte=0,lte=1"`
	Radius      *float64    `json:"radius" binding:"omitempty,gte=0,lte=1"`
	GroupIDs    []uuid.UUID `json:"group_ids"`
}

// LayoutRequest is the body for PUT /organizations/:id/spheres/layout.
type LayoutRequest struct {
	Spheres []LayoutItem `json:"spheres" binding:"required,dive"`
}

// Handler handles sphere HTTP endpoints.
type Handler struct {
	repo   *Repository
	groups *groups.Repository
	orgs   *organizations.Service
	logger *zap.Logger
}

// NewHandler creates a spheres handler.
func NewHandler(repo *Repository, groupsRepo *groups.Repository, orgs *organizations.Service, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, groups: groupsRepo, orgs: orgs, logger: logger}
}

func (h *Handler) orgScope(c *gin.Context, minRole string) (uuid.UUID, bool) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return uuid.Nil, false
	}
	orgID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid id")
		return uuid.Nil, false
	}
	if _, err := h.orgs.RequireRole(c.Request.Context(), orgID, userID, minRole); err != nil {
		response.Error(c, err)
		return uuid.Nil, false
	}
	return orgID, true
}

// sphere loads a sphere and checks the caller holds minRole in its organization.
func (h *Handler) sphere(c *gin.Context, minRole string) (*models.Sphere, bool) {
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
	s, err := h.repo.Get(c.Request.Context(), id)
	if errors.Is(err, pgx.ErrNoRows) {
		response.NotFound(c, "sphere not found")
		return nil, false
	}
	if err != nil {
		h.logger.Error("get sphere", zap.Error(err))
		response.Internal(c, "failed to load sphere")
		return nil, false
	}
	if _, err := h.orgs.RequireRole(c.Request.Context(), s.OrganizationID, userID, minRole); err != nil {
		response.Error(c, err)
		return nil, false
	}
	return s, true
}

// validGroupIDs keeps only group IDs that exist in the organization and
// rejects the request when any ID points elsewhere.
func (h *Handler) validGroupIDs(c *gin.Context, orgID uuid.UUID, ids []uuid.UUID) ([]uuid.UUID, bool) {
	if len(ids) == 0 {
		return nil, true
	}
	existing, err := h.groups.ExistingIDs(c.Request.Context(), orgID, ids)
	if err != nil {
		h.logger.Error("check group ids", zap.Error(err))
		response.Internal(c, "failed to validate groups")
		return nil, false
	}
	if len(existing) != len(ids) {
		response.BadRequest(c, "one or more groups do not belong to this organization")
		return nil, false
	}
	return existing, true
}

// Create handles POST /organizations/:id/spheres. Requires admin.
func (h *Handler) Create(c *gin.Context) {
	orgID, ok := h.orgScope(c, models.OrgRoleAdmin)
	if !ok {
		return
	}
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	groupIDs, ok := h.validGroupIDs(c, orgID, req.GroupIDs)
	if !ok {
		return
	}
	radius := req.Radius
	if radius == nil {
		r := DefaultRadius
		radius = &r
	}
	s := &models.Sphere{
		OrganizationID: orgID,
		Name:           req.Name,
		Description:    req.Description,
		Color:          req.Color,
		CenterX:        req.CenterX,
		CenterY:        req.CenterY,
		Radius:         radius,
		GroupIDs:       groupIDs,
	}
	if err := h.repo.Create(c.Request.Context(), s); err != nil {
		h.logger.Error("create sphere", zap.Error(err))
		response.Internal(c, "failed to create sphere")
		return
	}
	response.Created(c, s)
}

// List handles GET /organizations/:id/spheres. Any member.
func (h *Handler) List(c *gin.Context) {
	orgID, ok := h.orgScope(c, models.OrgRoleMember)
	if !ok {
		return
	}
	list, err := h.repo.ListByOrg(c.Request.Context(), orgID)
	if err != nil {
		h.logger.Error("list spheres", zap.Error(err))
		response.Internal(c, "failed to list spheres")
		return
	}
	c.JSON(http.StatusOK, response.Body{Success: true, Data: list})
}

// Get handles GET /spheres/:id. Any member.
func (h *Handler) Get(c *gin.Context) {
	s, ok := h.sphere(c, models.OrgRoleMember)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, response.Body{Success: true, Data: s})
}

// Update handles PUT /spheres/:id. Requires admin.
func (h *Handler) Update(c *gin.Context) {
	s, ok := h.sphere(c, models.OrgRoleAdmin)
	if !ok {
		return
	}
	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	groupIDs, ok := h.validGroupIDs(c, s.OrganizationID, req.GroupIDs)
	if !ok {
		return
	}
	s.Name = req.Name
	s.Description = req.Description
	s.Color = req.Color
	if req.CenterX != nil {
		s.CenterX = req.CenterX
	}
	if req.CenterY != nil {
		s.CenterY = req.CenterY
	}
	if req.Radius != nil {
		s.Radius = req.Radius
	}
	s.GroupIDs = groupIDs
	if err := h.repo.Update(c.Request.Context(), s); err != nil {
		h.logger.Error("update sphere", zap.Error(err))
		response.Internal(c, "failed to update sphere")
		return
	}
	c.JSON(http.StatusOK, response.Body{Success: true, Data: s})
}

// UpdateLayout handles PUT /organizations/:id/spheres/layout. Requires admin.
func (h *Handler) UpdateLayout(c *gin.Context) {
	orgID, ok := h.orgScope(c, models.OrgRoleAdmin)
	if !ok {
		return
	}
	var req LayoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if err := h.repo.UpdateLayout(c.Request.Context(), orgID, req.Spheres); err != nil {
		h.logger.Error("update sphere layout", zap.Error(err))
		response.Internal(c, "failed to update layout")
		return
	}
	response.NoContent(c)
}

// Delete handles DELETE /spheres/:id. Requires admin. Nodes and edges in
// the sphere go with it.
func (h *Handler) Delete(c *gin.Context) {
	s, ok := h.sphere(c, models.OrgRoleAdmin)
	if !ok {
		return
	}
	if err := h.repo.Delete(c.Request.Context(), s.ID); err != nil {
		h.logger.Error("delete sphere", zap.Error(err))
		response.Internal(c, "failed to delete sphere")
		return
	}
	response.NoContent(c)
}
