package audit

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/egida/backend/internal/middleware"
	"github.com/egida/backend/internal/models"
	"github.com/egida/backend/pkg/response"
)

// Authorizer checks organization membership before the log is exposed.
type Authorizer interface {
	RequireRole(ctx context.Context, orgID, userID uuid.UUID, minRole string) (*models.OrganizationMember, error)
}

// Handler serves the organization activity log.
type Handler struct {
	repo   *Repository
	authz  Authorizer
	logger *zap.Logger
}

func NewHandler(repo *Repository, authz Authorizer, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, authz: authz, logger: logger}
}

// List returns recent audit entries for an organization. Admin only.
func (h *Handler) List(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "authentication required")
		return
	}
	orgID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid organization id")
		return
	}
	if _, err := h.authz.RequireRole(c.Request.Context(), orgID, userID, models.OrgRoleAdmin); err != nil {
		response.Error(c, err)
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	entries, err := h.repo.List(c.Request.Context(), orgID, limit)
	if err != nil {
		h.logger.Error("list audit log", zap.Error(err))
		response.Internal(c, "failed to list audit log")
		return
	}
	response.OK(c, entries)
}
