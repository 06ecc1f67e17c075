package models

import "gorm.io/datatypes"

// ChecklistTemplate is a reusable inspection checklist. Visibility follows a
// simpler predicate than the hierarchy walk: public templates, templates of
// the viewer's organization, and templates the viewer created.
type ChecklistTemplate struct {
	BaseModel

	Name           string  `gorm:"not null" json:"name"`
	Category       string  `json:"category"`
	OrganizationID *string `gorm:"type:uuid;index" json:"organization_id"`
	CreatedBy      string  `gorm:"not null;index" json:"created_by"`
	IsPublic       bool    `gorm:"default:false;index" json:"is_public"`

	Items datatypes.JSON `json:"items"`

	Organization *Organization `json:"organization,omitempty"`
}
