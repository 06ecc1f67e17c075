package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/fieldsafe/fieldsafe/internal/authz"
)

// User is the stored profile of an authenticated principal. The primary key
// is the external identity id supplied by the authentication layer; locally
// provisioned accounts fall back to a generated UUID.
type User struct {
	ID    string `gorm:"primaryKey" json:"id"`
	Email string `gorm:"uniqueIndex;not null" json:"email"`
	Name  string `json:"name"`
	Phone string `json:"phone"`

	Role authz.Role `gorm:"not null;default:inspector;index" json:"role"`

	OrganizationID *string       `gorm:"type:uuid;index" json:"organization_id"`
	Organization   *Organization `json:"organization,omitempty"`

	// ManagedOrganizationID is set if and only if Role is org_admin; it names
	// the root of the subtree the user administers.
	ManagedOrganizationID *string       `gorm:"type:uuid" json:"managed_organization_id"`
	ManagedOrganization   *Organization `gorm:"foreignKey:ManagedOrganizationID" json:"managed_organization,omitempty"`

	CanManageUsers         bool `gorm:"default:false" json:"can_manage_users"`
	CanCreateOrganizations bool `gorm:"default:false" json:"can_create_organizations"`

	IsActive bool `gorm:"default:true" json:"is_active"`

	// PasswordHash is populated only for accounts that set a password during
	// invitation acceptance; externally federated identities leave it empty.
	PasswordHash string `json:"-"`

	LastLoginAt *time.Time `json:"last_login_at"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate generates an id for locally provisioned accounts.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

// Actor converts the stored row into the principal shape the scoping engine
// consumes.
func (u *User) Actor() authz.Actor {
	return authz.Actor{
		ID:                     u.ID,
		Role:                   u.Role,
		OrganizationID:         u.OrganizationID,
		ManagedOrganizationID:  u.ManagedOrganizationID,
		CanManageUsers:         u.CanManageUsers,
		CanCreateOrganizations: u.CanCreateOrganizations,
	}
}
