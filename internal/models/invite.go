package models

import (
	"time"

	"github.com/google/uuid"
)

// InviteStatus values. An invite starts pending and transitions exactly once
// to accepted, revoked or expired; all three are terminal.
const (
	InviteStatusPending  = "pending"
	InviteStatusAccepted = "accepted"
	InviteStatusRevoked  = "revoked"
	InviteStatusExpired  = "expired"
)

// OrganizationInvite is a time-boxed, single-use invitation into an
// organization. Only the sha256 digest of the invite token is persisted.
type OrganizationInvite struct {
	ID             uuid.UUID   `json:"id"`
	OrganizationID uuid.UUID   `json:"organization_id"`
	InvitedByID    *uuid.UUID  `json:"invited_by_id,omitempty"`
	AcceptedByID   *uuid.UUID  `json:"accepted_by_id,omitempty"`
	Email          string      `json:"email"`
	Role           string      `json:"role"`
	GroupIDs       []uuid.UUID `json:"group_ids"`
	TokenHash      string      `json:"-"`
	Status         string      `json:"status"`
	CreatedAt      time.Time   `json:"created_at"`
	ExpiresAt      time.Time   `json:"expires_at"`
	AcceptedAt     *time.Time  `json:"accepted_at,omitempty"`
}
