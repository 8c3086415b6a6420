package models

import (
	"time"

	"github.com/google/uuid"
)

// Node type and status enumerations.
var (
	NodeTypes    = map[string]bool{"api": true, "event": true, "service": true, "ui": true, "store": true, "task": true}
	NodeStatuses = map[string]bool{"active": true, "archived": true}
	EdgeTypes    = map[string]bool{"uses": true, "produces": true, "consumes": true, "depends": true}
)

// Defaults applied when a payload omits the field entirely.
const (
	DefaultNodeType   = "service"
	DefaultNodeStatus = "active"
	DefaultEdgeType   = "depends"
)

// Node statuses.
const (
	NodeStatusActive   = "active"
	NodeStatusArchived = "archived"
)

// Position is a normalized 2D layout coordinate. Missing coordinates default
// to 0.5 at normalization time, so a persisted node always has both set.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Node is a typed graph entity belonging to exactly one sphere.
type Node struct {
	ID        uuid.UUID      `json:"id"`
	SphereID  uuid.UUID      `json:"sphere_id"`
	Label     string         `json:"label"`
	NodeType  string         `json:"node_type"`
	Status    string         `json:"status"`
	Summary   string         `json:"summary,omitempty"`
	Position  Position       `json:"position"`
	Metadata  map[string]any `json:"metadata"`
	Links     []string       `json:"links"`
	Owners    []string       `json:"owners"`
	CreatedAt time.Time      `json:"created_at"`
}

// Edge is a typed directed relation between two nodes of the same
// organization, homed in a sphere (the source node's by default).
// Deleting either endpoint node cascades to the edge.
type Edge struct {
	ID           uuid.UUID      `json:"id"`
	SphereID     uuid.UUID      `json:"sphere_id"`
	SourceNodeID uuid.UUID      `json:"source_node_id"`
	TargetNodeID uuid.UUID      `json:"target_node_id"`
	RelationType string         `json:"relation_type"`
	Metadata     map[string]any `json:"metadata"`
	CreatedAt    time.Time      `json:"created_at"`
}
