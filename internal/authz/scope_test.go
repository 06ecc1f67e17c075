package authz

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type scopeTestOrg struct {
	ID                   string `gorm:"primaryKey"`
	Name                 string
	ParentOrganizationID *string
}

func (scopeTestOrg) TableName() string { return "organizations" }

func openScopeTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&scopeTestOrg{}))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	return db
}

func seedScopeHierarchy(t *testing.T, db *gorm.DB) (parent, childA, childB, other string) {
	t.Helper()

	require.NoError(t, db.Create(&scopeTestOrg{ID: "org-parent", Name: "Parent"}).Error)
	p := "org-parent"
	require.NoError(t, db.Create(&scopeTestOrg{ID: "org-a", Name: "Child A", ParentOrganizationID: &p}).Error)
	require.NoError(t, db.Create(&scopeTestOrg{ID: "org-b", Name: "Child B", ParentOrganizationID: &p}).Error)
	require.NoError(t, db.Create(&scopeTestOrg{ID: "org-other", Name: "Other"}).Error)
	return "org-parent", "org-a", "org-b", "org-other"
}

func TestOrganizationScopeByRole(t *testing.T) {
	db := openScopeTestDB(t)
	parent, childA, childB, other := seedScopeHierarchy(t, db)

	resolver, err := NewResolver(db)
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("system admin sees everything", func(t *testing.T) {
		scope, err := resolver.OrganizationScope(ctx, Actor{ID: "u1", Role: RoleSystemAdmin})
		require.NoError(t, err)
		require.True(t, scope.All)
		require.True(t, scope.Contains(other))
	})

	t.Run("org admin sees managed subtree", func(t *testing.T) {
		scope, err := resolver.OrganizationScope(ctx, Actor{
			ID:                    "u2",
			Role:                  RoleOrgAdmin,
			OrganizationID:        &parent,
			ManagedOrganizationID: &parent,
		})
		require.NoError(t, err)
		require.False(t, scope.All)
		require.ElementsMatch(t, []string{parent, childA, childB}, scope.OrganizationIDs)
		require.False(t, scope.Contains(other))
	})

	t.Run("member sees only home organization", func(t *testing.T) {
		scope, err := resolver.OrganizationScope(ctx, Actor{
			ID:             "u3",
			Role:           RoleInspector,
			OrganizationID: &childA,
		})
		require.NoError(t, err)
		require.Equal(t, []string{childA}, scope.OrganizationIDs)
	})

	t.Run("unaffiliated actor fails closed", func(t *testing.T) {
		scope, err := resolver.OrganizationScope(ctx, Actor{ID: "u4", Role: RoleManager})
		require.NoError(t, err)
		require.True(t, scope.IsEmpty())
	})

	t.Run("org admin without managed org falls back to home org", func(t *testing.T) {
		scope, err := resolver.OrganizationScope(ctx, Actor{
			ID:             "u5",
			Role:           RoleOrgAdmin,
			OrganizationID: &childA,
		})
		require.NoError(t, err)
		require.Equal(t, []string{childA}, scope.OrganizationIDs)
	})

	t.Run("invalid role fails closed", func(t *testing.T) {
		scope, err := resolver.OrganizationScope(ctx, Actor{ID: "u6", Role: Role("superuser"), OrganizationID: &childA})
		require.NoError(t, err)
		require.True(t, scope.IsEmpty())
	})
}

func TestResolveIntersectsExplicitID(t *testing.T) {
	db := openScopeTestDB(t)
	parent, childA, _, other := seedScopeHierarchy(t, db)

	resolver, err := NewResolver(db)
	require.NoError(t, err)
	ctx := context.Background()

	admin := Actor{ID: "u1", Role: RoleOrgAdmin, OrganizationID: &parent, ManagedOrganizationID: &parent}

	// Inside the subtree: narrowed to the single organization.
	scope, err := resolver.Resolve(ctx, admin, childA)
	require.NoError(t, err)
	require.Equal(t, []string{childA}, scope.OrganizationIDs)

	// Outside the subtree: the request never widens the scope.
	scope, err = resolver.Resolve(ctx, admin, other)
	require.NoError(t, err)
	require.True(t, scope.IsEmpty())

	// No explicit id leaves the base scope untouched.
	scope, err = resolver.Resolve(ctx, admin, "")
	require.NoError(t, err)
	require.Len(t, scope.OrganizationIDs, 3)

	// A system admin narrowed to one organization gets exactly that one.
	scope, err = resolver.Resolve(ctx, Actor{ID: "u2", Role: RoleSystemAdmin}, other)
	require.NoError(t, err)
	require.False(t, scope.All)
	require.Equal(t, []string{other}, scope.OrganizationIDs)
}

func TestCanAccessOrganization(t *testing.T) {
	db := openScopeTestDB(t)
	parent, childA, _, other := seedScopeHierarchy(t, db)

	resolver, err := NewResolver(db)
	require.NoError(t, err)
	ctx := context.Background()

	admin := Actor{ID: "u1", Role: RoleOrgAdmin, OrganizationID: &parent, ManagedOrganizationID: &parent}

	ok, err := resolver.CanAccessOrganization(ctx, admin, childA)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = resolver.CanAccessOrganization(ctx, admin, other)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = resolver.CanAccessOrganization(ctx, admin, "")
	require.NoError(t, err)
	require.False(t, ok)
}
