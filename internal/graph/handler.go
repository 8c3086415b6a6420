package graph

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/egida/backend/internal/middleware"
	"github.com/egida/backend/pkg/response"
)

// Handler handles graph HTTP endpoints.
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates a graph handler.
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) caller(c *gin.Context) (uuid.UUID, bool) {
	id, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
	}
	return id, ok
}

func (h *Handler) pathID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.BadRequest(c, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

// optional ?sphere_id= filter.
func sphereFilter(c *gin.Context) (*uuid.UUID, bool) {
	raw := c.Query("sphere_id")
	if raw == "" {
		return nil, true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		response.BadRequest(c, "invalid sphere_id")
		return nil, false
	}
	return &id, true
}

func nodeFilter(c *gin.Context) (NodeFilter, bool) {
	sphereID, ok := sphereFilter(c)
	if !ok {
		return NodeFilter{}, false
	}
	return NodeFilter{
		SphereID: sphereID,
		NodeType: c.Query("node_type"),
		Status:   c.Query("status"),
		Search:   c.Query("search"),
	}, true
}

func edgeFilter(c *gin.Context) (EdgeFilter, bool) {
	sphereID, ok := sphereFilter(c)
	if !ok {
		return EdgeFilter{}, false
	}
	return EdgeFilter{
		SphereID:     sphereID,
		RelationType: c.Query("relation_type"),
	}, true
}

// CreateNode handles POST /organizations/:id/graph/nodes.
func (h *Handler) CreateNode(c *gin.Context) {
	userID, ok := h.caller(c)
	if !ok {
		return
	}
	orgID, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	body, err := c.GetRawData()
	if err != nil {
		response.BadRequest(c, "failed to read body")
		return
	}
	payload, err := DecodeNodePayload(body)
	if err != nil {
		response.Error(c, err)
		return
	}
	node, err := h.service.CreateNode(c.Request.Context(), userID, orgID, payload)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, node)
}

// UpdateNode handles PATCH /graph/nodes/:id.
func (h *Handler) UpdateNode(c *gin.Context) {
	userID, ok := h.caller(c)
	if !ok {
		return
	}
	nodeID, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	body, err := c.GetRawData()
	if err != nil {
		response.BadRequest(c, "failed to read body")
		return
	}
	payload, err := DecodeNodePayload(body)
	if err != nil {
		response.Error(c, err)
		return
	}
	node, err := h.service.UpdateNode(c.Request.Context(), userID, nodeID, payload)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Body{Success: true, Data: node})
}

// GetNode handles GET /graph/nodes/:id.
func (h *Handler) GetNode(c *gin.Context) {
	userID, ok := h.caller(c)
	if !ok {
		return
	}
	nodeID, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	node, err := h.service.GetNode(c.Request.Context(), userID, nodeID)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Body{Success: true, Data: node})
}

// DeleteNode handles DELETE /graph/nodes/:id.
func (h *Handler) DeleteNode(c *gin.Context) {
	userID, ok := h.caller(c)
	if !ok {
		return
	}
	nodeID, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	if err := h.service.DeleteNode(c.Request.Context(), userID, nodeID); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// ListNodes handles GET /organizations/:id/graph/nodes.
func (h *Handler) ListNodes(c *gin.Context) {
	userID, ok := h.caller(c)
	if !ok {
		return
	}
	orgID, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	filter, ok := nodeFilter(c)
	if !ok {
		return
	}
	nodes, err := h.service.ListNodes(c.Request.Context(), userID, orgID, filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Body{Success: true, Data: nodes})
}

// SearchNodes handles GET /organizations/:id/graph/search?q=term.
func (h *Handler) SearchNodes(c *gin.Context) {
	userID, ok := h.caller(c)
	if !ok {
		return
	}
	orgID, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	nodes, err := h.service.SearchNodes(c.Request.Context(), userID, orgID, c.Query("q"))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Body{Success: true, Data: nodes})
}

// CreateEdge handles POST /organizations/:id/graph/edges.
func (h *Handler) CreateEdge(c *gin.Context) {
	userID, ok := h.caller(c)
	if !ok {
		return
	}
	orgID, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	body, err := c.GetRawData()
	if err != nil {
		response.BadRequest(c, "failed to read body")
		return
	}
	payload, err := DecodeEdgePayload(body)
	if err != nil {
		response.Error(c, err)
		return
	}
	edge, err := h.service.CreateEdge(c.Request.Context(), userID, orgID, payload)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, edge)
}

// UpdateEdge handles PATCH /graph/edges/:id.
func (h *Handler) UpdateEdge(c *gin.Context) {
	userID, ok := h.caller(c)
	if !ok {
		return
	}
	edgeID, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	body, err := c.GetRawData()
	if err != nil {
		response.BadRequest(c, "failed to read body")
		return
	}
	payload, err := DecodeEdgePayload(body)
	if err != nil {
		response.Error(c, err)
		return
	}
	edge, err := h.service.UpdateEdge(c.Request.Context(), userID, edgeID, payload)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Body{Success: true, Data: edge})
}

// DeleteEdge handles DELETE /graph/edges/:id.
func (h *Handler) DeleteEdge(c *gin.Context) {
	userID, ok := h.caller(c)
	if !ok {
		return
	}
	edgeID, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	if err := h.service.DeleteEdge(c.Request.Context(), userID, edgeID); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// ListEdges handles GET /organizations/:id/graph/edges.
func (h *Handler) ListEdges(c *gin.Context) {
	userID, ok := h.caller(c)
	if !ok {
		return
	}
	orgID, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	filter, ok := edgeFilter(c)
	if !ok {
		return
	}
	edges, err := h.service.ListEdges(c.Request.Context(), userID, orgID, filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Body{Success: true, Data: edges})
}

// Export handles GET /organizations/:id/graph/export.
func (h *Handler) Export(c *gin.Context) {
	userID, ok := h.caller(c)
	if !ok {
		return
	}
	orgID, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	data, err := h.service.Export(c.Request.Context(), userID, orgID)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Body{Success: true, Data: data})
}

// Import handles POST /organizations/:id/graph/import.
func (h *Handler) Import(c *gin.Context) {
	userID, ok := h.caller(c)
	if !ok {
		return
	}
	orgID, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	body, err := c.GetRawData()
	if err != nil {
		response.BadRequest(c, "failed to read body")
		return
	}
	result, err := h.service.Import(c.Request.Context(), userID, orgID, body)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Body{Success: true, Data: result})
}

// MapView handles GET /organizations/:id/map.
func (h *Handler) MapView(c *gin.Context) {
	userID, ok := h.caller(c)
	if !ok {
		return
	}
	orgID, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	data, err := h.service.MapView(c.Request.Context(), userID, orgID)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Body{Success: true, Data: data})
}
