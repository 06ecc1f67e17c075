package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fieldsafe/fieldsafe/internal/authz"
	"github.com/fieldsafe/fieldsafe/internal/models"
	"github.com/fieldsafe/fieldsafe/pkg/crypto"
	apperrors "github.com/fieldsafe/fieldsafe/pkg/errors"
)

func TestUserServiceFirstUserBecomesSystemAdmin(t *testing.T) {
	db := openServicesTestDB(t)
	activitySvc, err := NewActivityService(db)
	require.NoError(t, err)
	userSvc, err := NewUserService(db, activitySvc)
	require.NoError(t, err)

	ctx := context.Background()

	first, err := userSvc.GetOrProvision(ctx, Identity{ID: "ext-1", Email: "founder@fieldsafe.test", Name: "Founder"})
	require.NoError(t, err)
	require.Equal(t, authz.RoleSystemAdmin, first.User.Role)
	require.True(t, first.User.CanManageUsers)
	require.NotNil(t, first.User.LastLoginAt)

	second, err := userSvc.GetOrProvision(ctx, Identity{ID: "ext-2", Email: "walkin@fieldsafe.test"})
	require.NoError(t, err)
	require.Equal(t, authz.RoleInspector, second.User.Role)
	require.Nil(t, second.User.OrganizationID)

	// Provisioning is idempotent: a repeat login only touches last_login_at.
	again, err := userSvc.GetOrProvision(ctx, Identity{ID: "ext-2", Email: "walkin@fieldsafe.test"})
	require.NoError(t, err)
	require.Equal(t, second.User.ID, again.User.ID)
	require.Equal(t, authz.RoleInspector, again.User.Role)

	var total int64
	require.NoError(t, db.Model(&models.User{}).Count(&total).Error)
	require.EqualValues(t, 2, total)
}

func TestUserServiceBootstrapEmailPromotion(t *testing.T) {
	db := openServicesTestDB(t)
	activitySvc, err := NewActivityService(db)
	require.NoError(t, err)
	userSvc, err := NewUserService(db, activitySvc, WithBootstrapAdminEmail("ops@fieldsafe.test"))
	require.NoError(t, err)

	ctx := context.Background()

	// Fill the directory so the first-user rule does not apply.
	seedUser(t, db, "existing@fieldsafe.test", authz.RoleInspector, nil)

	boot, err := userSvc.GetOrProvision(ctx, Identity{ID: "ext-ops", Email: "Ops@FieldSafe.test"})
	require.NoError(t, err)
	require.Equal(t, authz.RoleSystemAdmin, boot.User.Role)

	// Someone demoted between logins gets re-promoted on the next login.
	require.NoError(t, db.Model(&models.User{}).
		Where("id = ?", boot.User.ID).
		Update("role", authz.RoleInspector).Error)

	boot, err = userSvc.GetOrProvision(ctx, Identity{ID: "ext-ops", Email: "ops@fieldsafe.test"})
	require.NoError(t, err)
	require.Equal(t, authz.RoleSystemAdmin, boot.User.Role)
}

func TestUserServiceProvisionClaimsInvitation(t *testing.T) {
	db := openServicesTestDB(t)
	activitySvc, err := NewActivityService(db)
	require.NoError(t, err)
	userSvc, err := NewUserService(db, activitySvc)
	require.NoError(t, err)

	ctx := context.Background()
	org := seedOrganization(t, db, "Acme", nil)
	seedUser(t, db, "admin@acme.test", authz.RoleOrgAdmin, &org.ID)

	invite := &models.Invitation{
		Email:          "new.manager@acme.test",
		OrganizationID: org.ID,
		Role:           authz.RoleManager,
		InvitedBy:      "someone",
		TokenHash:      crypto.HashToken("claim-test-token"),
		Status:         models.InviteStatusPending,
		ExpiresAt:      time.Now().Add(time.Hour),
	}
	require.NoError(t, db.Create(invite).Error)

	provisioned, err := userSvc.GetOrProvision(ctx, Identity{ID: "ext-mgr", Email: "New.Manager@acme.test", Name: "New Manager"})
	require.NoError(t, err)
	require.Equal(t, authz.RoleManager, provisioned.User.Role)
	require.NotNil(t, provisioned.User.OrganizationID)
	require.Equal(t, org.ID, *provisioned.User.OrganizationID)
	require.NotNil(t, provisioned.Organization)

	var stored models.Invitation
	require.NoError(t, db.First(&stored, "id = ?", invite.ID).Error)
	require.Equal(t, models.InviteStatusAccepted, stored.Status)
	require.NotNil(t, stored.AcceptedAt)
}

func TestUserServiceProvisionEmailConflictKeepsInvitationPending(t *testing.T) {
	db := openServicesTestDB(t)
	activitySvc, err := NewActivityService(db)
	require.NoError(t, err)
	userSvc, err := NewUserService(db, activitySvc)
	require.NoError(t, err)

	ctx := context.Background()
	org := seedOrganization(t, db, "Acme", nil)

	// The email already belongs to an account under another external id.
	existing := seedUser(t, db, "person@acme.test", authz.RoleInspector, nil)

	invite := &models.Invitation{
		Email:          "person@acme.test",
		OrganizationID: org.ID,
		Role:           authz.RoleManager,
		InvitedBy:      "someone",
		TokenHash:      crypto.HashToken("conflict-test-token"),
		Status:         models.InviteStatusPending,
		ExpiresAt:      time.Now().Add(time.Hour),
	}
	require.NoError(t, db.Create(invite).Error)

	// The insert hits the email uniqueness constraint, so the claim must
	// roll back with it: the existing account comes back unchanged and
	// the invitation survives for an explicit acceptance later.
	provisioned, err := userSvc.GetOrProvision(ctx, Identity{ID: "ext-next", Email: "person@acme.test"})
	require.NoError(t, err)
	require.Equal(t, existing.ID, provisioned.User.ID)
	require.Equal(t, authz.RoleInspector, provisioned.User.Role)

	var stored models.Invitation
	require.NoError(t, db.First(&stored, "id = ?", invite.ID).Error)
	require.Equal(t, models.InviteStatusPending, stored.Status)
	require.Nil(t, stored.AcceptedAt)

	var total int64
	require.NoError(t, db.Model(&models.User{}).Where("email = ?", "person@acme.test").Count(&total).Error)
	require.EqualValues(t, 1, total)
}

func TestUserServiceUpdateRoleEscalationBlocked(t *testing.T) {
	db := openServicesTestDB(t)
	activitySvc, err := NewActivityService(db)
	require.NoError(t, err)
	userSvc, err := NewUserService(db, activitySvc)
	require.NoError(t, err)

	ctx := context.Background()
	org := seedOrganization(t, db, "Acme", nil)
	orgAdmin := seedUser(t, db, "admin@acme.test", authz.RoleOrgAdmin, &org.ID)
	inspector := seedUser(t, db, "field@acme.test", authz.RoleInspector, &org.ID)

	managerRole := authz.RoleManager
	updated, err := userSvc.Update(ctx, orgAdmin.Actor(), inspector.ID, UpdateUserInput{Role: &managerRole})
	require.NoError(t, err)
	require.Equal(t, authz.RoleManager, updated.Role)

	adminRole := authz.RoleSystemAdmin
	_, err = userSvc.Update(ctx, orgAdmin.Actor(), inspector.ID, UpdateUserInput{Role: &adminRole})
	require.ErrorIs(t, err, ErrRoleEscalation)

	// Users outside the admin's subtree are unreachable.
	globex := seedOrganization(t, db, "Globex", nil)
	outsider := seedUser(t, db, "field@globex.test", authz.RoleInspector, &globex.ID)
	_, err = userSvc.Update(ctx, orgAdmin.Actor(), outsider.ID, UpdateUserInput{Role: &managerRole})
	require.Error(t, err)
}

func TestUserServiceDeactivateRules(t *testing.T) {
	db := openServicesTestDB(t)
	activitySvc, err := NewActivityService(db)
	require.NoError(t, err)
	userSvc, err := NewUserService(db, activitySvc)
	require.NoError(t, err)

	ctx := context.Background()
	org := seedOrganization(t, db, "Acme", nil)
	sysAdmin := seedUser(t, db, "root@fieldsafe.test", authz.RoleSystemAdmin, nil)
	orgAdmin := seedUser(t, db, "admin@acme.test", authz.RoleOrgAdmin, &org.ID)
	inspector := seedUser(t, db, "field@acme.test", authz.RoleInspector, &org.ID)

	err = userSvc.Deactivate(ctx, sysAdmin.Actor(), sysAdmin.ID)
	require.ErrorIs(t, err, ErrSelfDeactivation)

	err = userSvc.Deactivate(ctx, orgAdmin.Actor(), inspector.ID)
	require.ErrorIs(t, err, apperrors.ErrPermissionDenied)

	require.NoError(t, userSvc.Deactivate(ctx, sysAdmin.Actor(), inspector.ID))

	var stored models.User
	require.NoError(t, db.First(&stored, "id = ?", inspector.ID).Error)
	require.False(t, stored.IsActive)
}

func TestUserServiceListScoped(t *testing.T) {
	db := openServicesTestDB(t)
	activitySvc, err := NewActivityService(db)
	require.NoError(t, err)
	userSvc, err := NewUserService(db, activitySvc)
	require.NoError(t, err)

	ctx := context.Background()
	acme := seedOrganization(t, db, "Acme", nil)
	acmeSub := seedOrganization(t, db, "Acme Sub", &acme.ID)
	globex := seedOrganization(t, db, "Globex", nil)

	orgAdmin := seedUser(t, db, "admin@acme.test", authz.RoleOrgAdmin, &acme.ID)
	seedUser(t, db, "field1@acme.test", authz.RoleInspector, &acme.ID)
	seedUser(t, db, "field2@acme.test", authz.RoleInspector, &acmeSub.ID)
	seedUser(t, db, "field@globex.test", authz.RoleInspector, &globex.ID)

	users, total, err := userSvc.List(ctx, orgAdmin.Actor(), ListUsersOptions{})
	require.NoError(t, err)
	require.EqualValues(t, 3, total)
	require.Len(t, users, 3)

	// Narrowing to an out-of-scope organization yields nothing rather than
	// leaking the other tenant's directory.
	users, total, err = userSvc.List(ctx, orgAdmin.Actor(), ListUsersOptions{OrganizationID: globex.ID})
	require.NoError(t, err)
	require.EqualValues(t, 0, total)
	require.Empty(t, users)
}
