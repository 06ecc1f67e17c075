package authz

import "strings"

// Role identifies one of the closed set of platform roles. The set is not
// user-extensible and roles carry no numeric rank: comparisons are always by
// explicit case so near-miss orderings cannot creep in.
type Role string

const (
	RoleSystemAdmin Role = "system_admin"
	RoleOrgAdmin    Role = "org_admin"
	RoleManager     Role = "manager"
	RoleInspector   Role = "inspector"
	RoleClient      Role = "client"
)

// Roles lists every valid role.
func Roles() []Role {
	return []Role{RoleSystemAdmin, RoleOrgAdmin, RoleManager, RoleInspector, RoleClient}
}

// ParseRole normalises and validates a role string.
func ParseRole(value string) (Role, bool) {
	role := Role(strings.ToLower(strings.TrimSpace(value)))
	return role, role.Valid()
}

// Valid reports whether the role belongs to the closed set.
func (r Role) Valid() bool {
	switch r {
	case RoleSystemAdmin, RoleOrgAdmin, RoleManager, RoleInspector, RoleClient:
		return true
	}
	return false
}

// IsAdministrative reports whether the role carries organization-management
// authority (full ownership filters do not apply to these roles).
func (r Role) IsAdministrative() bool {
	return r == RoleSystemAdmin || r == RoleOrgAdmin
}

// GrantableBy reports whether an actor with the given role may assign r to
// another user. Org admins can never hand out admin roles; everyone below
// admin level cannot grant anything.
func (r Role) GrantableBy(actor Role) bool {
	switch actor {
	case RoleSystemAdmin:
		return r.Valid()
	case RoleOrgAdmin:
		return r.Valid() && r != RoleSystemAdmin && r != RoleOrgAdmin
	}
	return false
}

// Capability names a fixed ability implied by a role.
type Capability string

const (
	CapManageSystem        Capability = "system.manage"
	CapManageOrganizations Capability = "organizations.manage"
	CapManageUsers         Capability = "users.manage"
	CapInviteUsers         Capability = "users.invite"
	CapManageInspections   Capability = "inspections.manage"
	CapCreateInspections   Capability = "inspections.create"
	CapViewInspections     Capability = "inspections.view"
	CapViewReports         Capability = "reports.view"
)

// Capabilities returns the fixed capability set implied by the role.
func (r Role) Capabilities() []Capability {
	switch r {
	case RoleSystemAdmin:
		return []Capability{
			CapManageSystem,
			CapManageOrganizations,
			CapManageUsers,
			CapInviteUsers,
			CapManageInspections,
			CapCreateInspections,
			CapViewInspections,
			CapViewReports,
		}
	case RoleOrgAdmin:
		return []Capability{
			CapManageOrganizations,
			CapManageUsers,
			CapInviteUsers,
			CapManageInspections,
			CapCreateInspections,
			CapViewInspections,
			CapViewReports,
		}
	case RoleManager:
		return []Capability{
			CapManageInspections,
			CapCreateInspections,
			CapViewInspections,
			CapViewReports,
		}
	case RoleInspector:
		return []Capability{
			CapCreateInspections,
			CapViewInspections,
		}
	case RoleClient:
		return []Capability{
			CapViewInspections,
			CapViewReports,
		}
	}
	return nil
}

// Has reports whether the role implies the capability.
func (r Role) Has(cap Capability) bool {
	for _, c := range r.Capabilities() {
		if c == cap {
			return true
		}
	}
	return false
}
