package maintenance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/fieldsafe/fieldsafe/internal/models"
	"github.com/fieldsafe/fieldsafe/internal/services"
)

func openMaintenanceTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Organization{},
		&models.User{},
		&models.Invitation{},
		&models.ActivityLog{},
	))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	return db
}

func TestCleanerRunOnce(t *testing.T) {
	db := openMaintenanceTestDB(t)

	activitySvc, err := services.NewActivityService(db)
	require.NoError(t, err)
	inviteSvc, err := services.NewInviteService(db, activitySvc, nil)
	require.NoError(t, err)

	stale := models.ActivityLog{Action: "old_event"}
	require.NoError(t, db.Create(&stale).Error)
	require.NoError(t, db.Model(&models.ActivityLog{}).
		Where("id = ?", stale.ID).
		Update("created_at", time.Now().AddDate(0, 0, -40)).Error)
	require.NoError(t, db.Create(&models.ActivityLog{Action: "recent_event"}).Error)

	expired := models.Invitation{
		Email:          "old@fieldsafe.test",
		OrganizationID: "org-1",
		Role:           "inspector",
		InvitedBy:      "someone",
		TokenHash:      "hash-old",
		Status:         models.InviteStatusPending,
		ExpiresAt:      time.Now().Add(-30 * 24 * time.Hour),
	}
	require.NoError(t, db.Create(&expired).Error)
	fresh := models.Invitation{
		Email:          "fresh@fieldsafe.test",
		OrganizationID: "org-1",
		Role:           "inspector",
		InvitedBy:      "someone",
		TokenHash:      "hash-fresh",
		Status:         models.InviteStatusPending,
		ExpiresAt:      time.Now().Add(24 * time.Hour),
	}
	require.NoError(t, db.Create(&fresh).Error)

	cleaner := NewCleaner(activitySvc, inviteSvc,
		WithActivityRetentionDays(30),
		WithInviteRetention(7*24*time.Hour),
	)
	require.NoError(t, cleaner.RunOnce(context.Background()))

	var activityCount int64
	require.NoError(t, db.Model(&models.ActivityLog{}).Count(&activityCount).Error)
	require.EqualValues(t, 1, activityCount)

	var inviteCount int64
	require.NoError(t, db.Model(&models.Invitation{}).Count(&inviteCount).Error)
	require.EqualValues(t, 1, inviteCount)

	var survivor models.Invitation
	require.NoError(t, db.First(&survivor).Error)
	require.Equal(t, "fresh@fieldsafe.test", survivor.Email)
}

func TestCleanerStartStop(t *testing.T) {
	db := openMaintenanceTestDB(t)

	activitySvc, err := services.NewActivityService(db)
	require.NoError(t, err)
	inviteSvc, err := services.NewInviteService(db, activitySvc, nil)
	require.NoError(t, err)

	cleaner := NewCleaner(activitySvc, inviteSvc)
	require.NoError(t, cleaner.Start())

	done := cleaner.Stop()
	select {
	case <-done.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("cleaner did not stop in time")
	}
}
