package config

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
	"p9e.in/incubator/models"
)

func Migrations(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "20250110_create_core_tables",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&models.User{}, &models.Team{}, &models.Project{},
					&models.InventoryItem{}, &models.InventoryAssignment{},
					&models.ConsumptionLog{}, &models.InventoryTransaction{})
			},
		},
		{
			ID: "20250110_create_request_tables",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&models.MaterialRequest{}, &models.RequestItem{},
					&models.RequestApproval{}, &models.RequestHistory{},
					&models.RequestComment{}, &models.RequestSequence{})
			},
		},
		{
			ID: "20250112_create_notification_tables",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&models.Notification{})
			},
		},
		{
			ID: "20250203_request_status_index",
			Migrate: func(tx *gorm.DB) error {
				// Composite index for the reviewer inbox: open requests by team.
				return tx.Exec("CREATE INDEX IF NOT EXISTS idx_requests_team_status ON material_requests (team_id, status)").Error
			},
		},
	})
	return m.Migrate()
}
