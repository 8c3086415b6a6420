package models

import (
	"time"

	"github.com/google/uuid"
)

// Sphere is a visual cluster of nodes and edges with 2D layout metadata.
// Layout coordinates are normalized to [0,1]; nil means "not placed yet".
// Deleting a sphere cascades to its nodes and edges.
type Sphere struct {
	ID             uuid.UUID   `json:"id"`
	OrganizationID uuid.UUID   `json:"organization_id"`
	Name           string      `json:"name"`
	Description    string      `json:"description,omitempty"`
	Color          string      `json:"color,omitempty"`
	CenterX        *float64    `json:"center_x,omitempty"`
	CenterY        *float64    `json:"center_y,omitempty"`
	Radius         *float64    `json:"radius,omitempty"`
	GroupIDs       []uuid.UUID `json:"group_ids"`
	CreatedAt      time.Time   `json:"created_at"`
}
