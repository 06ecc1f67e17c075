package models

import "time"

// Action item severities and statuses.
const (
	ActionItemSeverityLow      = "low"
	ActionItemSeverityMedium   = "medium"
	ActionItemSeverityHigh     = "high"
	ActionItemSeverityCritical = "critical"

	ActionItemStatusOpen       = "open"
	ActionItemStatusInProgress = "in_progress"
	ActionItemStatusResolved   = "resolved"
)

// ActionItem is a remediation task derived from an inspection finding. It
// carries its own organization column so list queries scope without joining.
type ActionItem struct {
	BaseModel

	InspectionID   string `gorm:"type:uuid;not null;index" json:"inspection_id"`
	OrganizationID string `gorm:"type:uuid;not null;index" json:"organization_id"`
	CreatedBy      string `gorm:"not null;index" json:"created_by"`

	Description string     `gorm:"not null" json:"description"`
	Severity    string     `gorm:"not null;default:medium" json:"severity"`
	Status      string     `gorm:"not null;default:open;index" json:"status"`
	AssignedTo  *string    `json:"assigned_to"`
	DueDate     *time.Time `json:"due_date"`

	Inspection *Inspection `json:"inspection,omitempty"`
}
