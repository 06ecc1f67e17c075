package services

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/fieldsafe/fieldsafe/internal/authz"
	"github.com/fieldsafe/fieldsafe/internal/models"
)

func openServicesTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&models.Organization{},
		&models.User{},
		&models.Invitation{},
		&models.ActivityLog{},
		&models.Inspection{},
		&models.InspectionCollaborator{},
		&models.ActionItem{},
		&models.ChecklistTemplate{},
	))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	return db
}

func seedOrganization(t *testing.T, db *gorm.DB, name string, parentID *string) *models.Organization {
	t.Helper()

	org := &models.Organization{
		Name:                 name,
		Type:                 models.OrgTypeCompany,
		OrganizationLevel:    models.OrgLevelCompany,
		ParentOrganizationID: parentID,
		MaxUsers:             10,
		MaxSubsidiaries:      5,
		IsActive:             true,
	}
	if parentID != nil {
		org.OrganizationLevel = models.OrgLevelSubsidiary
	}
	require.NoError(t, db.Create(org).Error)
	return org
}

func seedUser(t *testing.T, db *gorm.DB, email string, role authz.Role, orgID *string) *models.User {
	t.Helper()

	user := &models.User{
		Email:          email,
		Name:           email,
		Role:           role,
		OrganizationID: orgID,
		IsActive:       true,
	}
	if role == authz.RoleOrgAdmin {
		user.ManagedOrganizationID = orgID
		user.CanManageUsers = true
		user.CanCreateOrganizations = true
	}
	require.NoError(t, db.Create(user).Error)
	return user
}
