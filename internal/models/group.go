package models

import (
	"time"

	"github.com/google/uuid"
)

// Group is a named team inside an organization. Groups can be linked to
// spheres and hold their own memberships.
type Group struct {
	ID             uuid.UUID `json:"id"`
	OrganizationID uuid.UUID `json:"organization_id"`
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	Color          string    `json:"color,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// GroupMembership links a user to a group. The pair (group_id, user_id) is
// unique; the user must already belong to the group's organization.
type GroupMembership struct {
	ID             uuid.UUID `json:"id"`
	GroupID        uuid.UUID `json:"group_id"`
	OrganizationID uuid.UUID `json:"organization_id"`
	UserID         uuid.UUID `json:"user_id"`
	CreatedAt      time.Time `json:"created_at"`
}
