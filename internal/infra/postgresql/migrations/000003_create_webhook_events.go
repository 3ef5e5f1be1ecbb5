package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/webhook-retry/internal/repository"
	"gorm.io/gorm"
)

func createWebhookEventsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_webhook_events",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.WebhookEventModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_webhook_events_webhook_id ON webhook_events (webhook_id, created_at)`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.WebhookEventModel{})
		},
	}
}
