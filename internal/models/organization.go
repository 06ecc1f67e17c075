package models

import "gorm.io/datatypes"

// Organization types describe the commercial shape of a tenant.
const (
	OrgTypeCompany     = "company"
	OrgTypeConsultancy = "consultancy"
	OrgTypeClient      = "client"
)

// Organization levels place a tenant in the two-level hierarchy. A subsidiary
// always has a parent; master and company level organizations may not.
const (
	OrgLevelMaster     = "master"
	OrgLevelCompany    = "company"
	OrgLevelSubsidiary = "subsidiary"
)

// Organization represents a tenant or sub-tenant owning users and inspections.
type Organization struct {
	BaseModel

	Name string `gorm:"not null" json:"name"`
	Type string `gorm:"not null;default:company" json:"type"`

	OrganizationLevel    string  `gorm:"not null;default:company;index" json:"organization_level"`
	ParentOrganizationID *string `gorm:"type:uuid;index" json:"parent_organization_id"`

	// Profile holds free-text company fields (registration number, industry
	// sector, risk level, address). Opaque to the authorization logic.
	Profile datatypes.JSON `json:"profile"`

	SubscriptionPlan string `gorm:"default:basic" json:"subscription_plan"`
	MaxUsers         int    `gorm:"default:10" json:"max_users"`
	MaxSubsidiaries  int    `gorm:"default:5" json:"max_subsidiaries"`

	IsActive bool `gorm:"default:true;index" json:"is_active"`

	Parent       *Organization  `gorm:"foreignKey:ParentOrganizationID" json:"parent,omitempty"`
	Subsidiaries []Organization `gorm:"foreignKey:ParentOrganizationID" json:"subsidiaries,omitempty"`
	Users        []User         `gorm:"foreignKey:OrganizationID" json:"users,omitempty"`
}

// IsSubsidiary reports whether the organization sits on the second level of
// the hierarchy.
func (o *Organization) IsSubsidiary() bool {
	return o.OrganizationLevel == OrgLevelSubsidiary
}
