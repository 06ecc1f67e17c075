package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Activity action types written by the tenancy core.
const (
	ActivityOrganizationCreated = "organization_created"
	ActivityOrganizationUpdated = "organization_updated"
	ActivityUserInvited         = "user_invited"
	ActivityUserUpdated         = "user_updated"
	ActivityUserDeactivated     = "user_deactivated"
	ActivityInvitationAccepted  = "invitation_accepted"
	ActivityInvitationRevoked   = "invitation_revoked"
	ActivityInspectionCreated   = "inspection_created"
	ActivityActionItemCreated   = "action_item_created"
	ActivityTemplateCreated     = "template_created"
)

// ActivityLog is an append-only audit record. Rows are never updated or
// deleted outside of retention cleanup.
type ActivityLog struct {
	ID             string  `gorm:"primaryKey;type:uuid" json:"id"`
	UserID         *string `gorm:"index" json:"user_id"`
	User           *User   `gorm:"foreignKey:UserID" json:"user,omitempty"`
	OrganizationID *string `gorm:"type:uuid;index" json:"organization_id"`

	Action      string `gorm:"not null;index" json:"action"`
	Description string `json:"description"`
	TargetType  string `gorm:"index" json:"target_type"`
	TargetID    string `json:"target_id"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

func (a *ActivityLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}
