package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fieldsafe/fieldsafe/internal/authz"
	"github.com/fieldsafe/fieldsafe/internal/models"
	apperrors "github.com/fieldsafe/fieldsafe/pkg/errors"
)

func TestOrganizationServiceCreateHierarchy(t *testing.T) {
	db := openServicesTestDB(t)
	activitySvc, err := NewActivityService(db)
	require.NoError(t, err)
	orgSvc, err := NewOrganizationService(db, activitySvc)
	require.NoError(t, err)

	ctx := context.Background()
	sysAdmin := seedUser(t, db, "root@fieldsafe.test", authz.RoleSystemAdmin, nil)

	parent, err := orgSvc.Create(ctx, sysAdmin.Actor(), CreateOrganizationInput{
		Name:            "Acme Holdings",
		MaxSubsidiaries: 1,
	})
	require.NoError(t, err)
	require.Equal(t, models.OrgLevelCompany, parent.OrganizationLevel)
	require.Nil(t, parent.ParentOrganizationID)

	orgAdmin := seedUser(t, db, "admin@acme.test", authz.RoleOrgAdmin, &parent.ID)

	// An org admin's creations attach under their own root, no matter what
	// parent the request names.
	other := seedOrganization(t, db, "Unrelated Corp", nil)
	sub, err := orgSvc.Create(ctx, orgAdmin.Actor(), CreateOrganizationInput{
		Name:                 "Acme North",
		ParentOrganizationID: other.ID,
	})
	require.NoError(t, err)
	require.Equal(t, models.OrgLevelSubsidiary, sub.OrganizationLevel)
	require.NotNil(t, sub.ParentOrganizationID)
	require.Equal(t, parent.ID, *sub.ParentOrganizationID)

	// Parent allows a single subsidiary; the second one must be refused.
	_, err = orgSvc.Create(ctx, sysAdmin.Actor(), CreateOrganizationInput{
		Name:                 "Acme South",
		ParentOrganizationID: parent.ID,
	})
	require.ErrorIs(t, err, ErrSubsidiaryLimit)

	// Two levels only: a subsidiary cannot parent another organization.
	_, err = orgSvc.Create(ctx, sysAdmin.Actor(), CreateOrganizationInput{
		Name:                 "Acme Deep",
		ParentOrganizationID: sub.ID,
	})
	require.ErrorIs(t, err, ErrHierarchyDepth)

	inspector := seedUser(t, db, "field@acme.test", authz.RoleInspector, &parent.ID)
	_, err = orgSvc.Create(ctx, inspector.Actor(), CreateOrganizationInput{Name: "Rogue"})
	require.ErrorIs(t, err, apperrors.ErrPermissionDenied)
}

func TestOrganizationServiceScopedReads(t *testing.T) {
	db := openServicesTestDB(t)
	activitySvc, err := NewActivityService(db)
	require.NoError(t, err)
	orgSvc, err := NewOrganizationService(db, activitySvc)
	require.NoError(t, err)

	ctx := context.Background()

	acme := seedOrganization(t, db, "Acme", nil)
	acmeSub := seedOrganization(t, db, "Acme Sub", &acme.ID)
	globex := seedOrganization(t, db, "Globex", nil)

	sysAdmin := seedUser(t, db, "root@fieldsafe.test", authz.RoleSystemAdmin, nil)
	orgAdmin := seedUser(t, db, "admin@acme.test", authz.RoleOrgAdmin, &acme.ID)
	inspector := seedUser(t, db, "field@acme.test", authz.RoleInspector, &acmeSub.ID)

	all, err := orgSvc.List(ctx, sysAdmin.Actor(), ListOrganizationsOptions{})
	require.NoError(t, err)
	require.Len(t, all, 3)

	managed, err := orgSvc.List(ctx, orgAdmin.Actor(), ListOrganizationsOptions{})
	require.NoError(t, err)
	require.Len(t, managed, 2)

	own, err := orgSvc.List(ctx, inspector.Actor(), ListOrganizationsOptions{})
	require.NoError(t, err)
	require.Len(t, own, 1)
	require.Equal(t, acmeSub.ID, own[0].ID)

	// An explicit organization filter narrows the scope; it never widens it.
	none, err := orgSvc.List(ctx, inspector.Actor(), ListOrganizationsOptions{OrganizationID: globex.ID})
	require.NoError(t, err)
	require.Empty(t, none)

	_, err = orgSvc.GetByID(ctx, orgAdmin.Actor(), globex.ID)
	require.ErrorIs(t, err, ErrOrganizationNotFound)

	// Deactivated organizations disappear for everyone but system admins.
	require.NoError(t, orgSvc.SetActive(ctx, sysAdmin.Actor(), acmeSub.ID, false))

	_, err = orgSvc.GetByID(ctx, orgAdmin.Actor(), acmeSub.ID)
	require.ErrorIs(t, err, ErrOrganizationNotFound)

	stillVisible, err := orgSvc.GetByID(ctx, sysAdmin.Actor(), acmeSub.ID)
	require.NoError(t, err)
	require.False(t, stillVisible.IsActive)
}

func TestOrganizationServiceUpdateAuthorization(t *testing.T) {
	db := openServicesTestDB(t)
	activitySvc, err := NewActivityService(db)
	require.NoError(t, err)
	orgSvc, err := NewOrganizationService(db, activitySvc)
	require.NoError(t, err)

	ctx := context.Background()

	acme := seedOrganization(t, db, "Acme", nil)
	acmeSub := seedOrganization(t, db, "Acme Sub", &acme.ID)
	globex := seedOrganization(t, db, "Globex", nil)

	orgAdmin := seedUser(t, db, "admin@acme.test", authz.RoleOrgAdmin, &acme.ID)

	newName := "Acme North"
	updated, err := orgSvc.Update(ctx, orgAdmin.Actor(), acmeSub.ID, UpdateOrganizationInput{Name: &newName})
	require.NoError(t, err)
	require.Equal(t, newName, updated.Name)

	_, err = orgSvc.Update(ctx, orgAdmin.Actor(), globex.ID, UpdateOrganizationInput{Name: &newName})
	require.Error(t, err)

	// Only system admins may flip activation.
	err = orgSvc.SetActive(ctx, orgAdmin.Actor(), acmeSub.ID, false)
	require.ErrorIs(t, err, apperrors.ErrPermissionDenied)
}
