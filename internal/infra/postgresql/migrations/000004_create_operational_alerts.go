package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/webhook-retry/internal/repository"
	"gorm.io/gorm"
)

func createOperationalAlertsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000004_create_operational_alerts",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.AlertModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_operational_alerts_org_created ON operational_alerts (org_id, created_at)`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.AlertModel{})
		},
	}
}
