package models

import (
	"time"

	"gorm.io/datatypes"
)

// Inspection statuses.
const (
	InspectionStatusDraft      = "draft"
	InspectionStatusInProgress = "in_progress"
	InspectionStatusCompleted  = "completed"
)

// Inspection is the minimal shape of a workplace-safety inspection needed by
// the authorization layer: an organization column for scoping and a creator
// plus collaborators for the ownership predicate. Checklist content, media
// and AI analysis live with their own modules.
type Inspection struct {
	BaseModel

	OrganizationID string `gorm:"type:uuid;not null;index" json:"organization_id"`
	CreatedBy      string `gorm:"not null;index" json:"created_by"`

	Title        string         `gorm:"not null" json:"title"`
	Status       string         `gorm:"not null;default:draft;index" json:"status"`
	Location     string         `json:"location"`
	Summary      datatypes.JSON `json:"summary"`
	ScheduledFor *time.Time     `json:"scheduled_for"`

	Organization  *Organization            `json:"organization,omitempty"`
	Collaborators []InspectionCollaborator `gorm:"foreignKey:InspectionID" json:"collaborators,omitempty"`
	ActionItems   []ActionItem             `gorm:"foreignKey:InspectionID" json:"action_items,omitempty"`
}

// InspectionCollaborator grants a user shared access to an inspection they
// did not create.
type InspectionCollaborator struct {
	InspectionID string    `gorm:"primaryKey;type:uuid" json:"inspection_id"`
	UserID       string    `gorm:"primaryKey" json:"user_id"`
	IsActive     bool      `gorm:"default:true" json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}

// TableName keeps the join table name stable for the ownership subquery.
func (InspectionCollaborator) TableName() string { return "inspection_collaborators" }
