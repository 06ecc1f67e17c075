package authz

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseRole(t *testing.T) {
	role, ok := ParseRole("  System_Admin ")
	require.True(t, ok)
	require.Equal(t, RoleSystemAdmin, role)

	_, ok = ParseRole("superuser")
	require.False(t, ok)

	_, ok = ParseRole("")
	require.False(t, ok)
}

func TestRoleGrantableBy(t *testing.T) {
	// System admins grant anything valid.
	for _, role := range Roles() {
		require.True(t, role.GrantableBy(RoleSystemAdmin), string(role))
	}

	// Org admins grant only non-administrative roles.
	require.True(t, RoleManager.GrantableBy(RoleOrgAdmin))
	require.True(t, RoleInspector.GrantableBy(RoleOrgAdmin))
	require.True(t, RoleClient.GrantableBy(RoleOrgAdmin))
	require.False(t, RoleOrgAdmin.GrantableBy(RoleOrgAdmin))
	require.False(t, RoleSystemAdmin.GrantableBy(RoleOrgAdmin))

	// Nobody below admin level grants roles at all.
	require.False(t, RoleInspector.GrantableBy(RoleManager))
	require.False(t, RoleClient.GrantableBy(RoleInspector))

	require.False(t, Role("superuser").GrantableBy(RoleSystemAdmin))
}

func TestRoleCapabilities(t *testing.T) {
	require.True(t, RoleSystemAdmin.Has(CapManageSystem))
	require.False(t, RoleOrgAdmin.Has(CapManageSystem))
	require.True(t, RoleOrgAdmin.Has(CapInviteUsers))
	require.True(t, RoleInspector.Has(CapCreateInspections))
	require.False(t, RoleInspector.Has(CapViewReports))
	require.True(t, RoleClient.Has(CapViewReports))
	require.False(t, RoleClient.Has(CapCreateInspections))
	require.Nil(t, Role("superuser").Capabilities())
}

func TestIsAdministrative(t *testing.T) {
	require.True(t, RoleSystemAdmin.IsAdministrative())
	require.True(t, RoleOrgAdmin.IsAdministrative())
	require.False(t, RoleManager.IsAdministrative())
	require.False(t, RoleInspector.IsAdministrative())
	require.False(t, RoleClient.IsAdministrative())
}
