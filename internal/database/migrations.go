package database

import (
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/fieldsafe/fieldsafe/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Organization{},
		&models.User{},
		&models.Invitation{},
		&models.ActivityLog{},
		&models.Inspection{},
		&models.InspectionCollaborator{},
		&models.ActionItem{},
		&models.ChecklistTemplate{},
	)
}

// SeedData populates the default public checklist templates shipped with the
// platform. Seeding is idempotent.
func SeedData(db *gorm.DB) error {
	templates := []models.ChecklistTemplate{
		{
			BaseModel: models.BaseModel{ID: "tpl-general-safety"},
			Name:      "General Workplace Safety",
			Category:  "general",
			CreatedBy: "system",
			IsPublic:  true,
			Items:     datatypes.JSON([]byte(`["Emergency exits unobstructed","Fire extinguishers inspected","First-aid kit stocked"]`)),
		},
		{
			BaseModel: models.BaseModel{ID: "tpl-ppe"},
			Name:      "Personal Protective Equipment",
			Category:  "ppe",
			CreatedBy: "system",
			IsPublic:  true,
			Items:     datatypes.JSON([]byte(`["Helmets available and intact","Safety goggles in use","Hearing protection provided"]`)),
		},
	}

	for _, tpl := range templates {
		if err := db.Where(models.ChecklistTemplate{BaseModel: models.BaseModel{ID: tpl.ID}}).
			Attrs(tpl).
			FirstOrCreate(&models.ChecklistTemplate{}).Error; err != nil {
			return err
		}
	}

	return nil
}
