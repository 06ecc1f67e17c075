package models

import (
	"time"

	"github.com/fieldsafe/fieldsafe/internal/authz"
)

// Invitation statuses. Stored explicitly so a revoked invitation remains
// distinguishable from an accepted one in audit queries.
const (
	InviteStatusPending  = "pending"
	InviteStatusAccepted = "accepted"
	InviteStatusRevoked  = "revoked"
)

// Invitation binds an email to a future (organization, role) assignment.
// Expiry is a read-time condition derived from ExpiresAt, not a stored state.
type Invitation struct {
	BaseModel

	Email          string     `gorm:"not null;index:idx_invitations_email_org" json:"email"`
	OrganizationID string     `gorm:"type:uuid;not null;index:idx_invitations_email_org" json:"organization_id"`
	Role           authz.Role `gorm:"not null" json:"role"`
	InvitedBy      string     `gorm:"not null" json:"invited_by"`

	// TokenHash stores the SHA-256 digest of the raw token; the raw token is
	// only ever returned to the caller at creation time.
	TokenHash string `gorm:"uniqueIndex;not null" json:"-"`

	Status     string     `gorm:"not null;default:pending;index" json:"status"`
	ExpiresAt  time.Time  `gorm:"index" json:"expires_at"`
	AcceptedAt *time.Time `json:"accepted_at"`
	RevokedAt  *time.Time `json:"revoked_at"`

	Organization *Organization `json:"organization,omitempty"`
}

// IsPending reports whether the invitation can still be claimed at the given
// instant.
func (i *Invitation) IsPending(now time.Time) bool {
	return i.Status == InviteStatusPending && i.ExpiresAt.After(now)
}
