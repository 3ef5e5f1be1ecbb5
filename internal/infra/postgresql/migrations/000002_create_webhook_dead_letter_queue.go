package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/webhook-retry/internal/repository"
	"gorm.io/gorm"
)

func createDeadLetterQueueTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_webhook_dead_letter_queue",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.DeadLetterModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_dead_letter_review_created ON webhook_dead_letter_queue (created_at) WHERE requires_manual_review = true`,
				`CREATE INDEX IF NOT EXISTS idx_dead_letter_org_id ON webhook_dead_letter_queue (org_id) WHERE org_id IS NOT NULL`,
				`CREATE INDEX IF NOT EXISTS idx_dead_letter_webhook_id ON webhook_dead_letter_queue (webhook_id)`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.DeadLetterModel{})
		},
	}
}
