package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/webhook-retry/internal/repository"
	"gorm.io/gorm"
)

func createRetryQueueTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_webhook_retry_queue",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.RetryAttemptModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_retry_queue_webhook_attempt ON webhook_retry_queue (webhook_id, attempt_number)`,
				`CREATE INDEX IF NOT EXISTS idx_retry_queue_pending_due ON webhook_retry_queue (scheduled_at) WHERE status = 'pending'`,
				`CREATE INDEX IF NOT EXISTS idx_retry_queue_created_status ON webhook_retry_queue (created_at, status)`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.RetryAttemptModel{})
		},
	}
}
