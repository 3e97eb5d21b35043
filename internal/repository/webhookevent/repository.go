package repository

import (
	"context"

	"github.com/botbridge/whatsapp-bridge-service/internal/domain"
	"gorm.io/gorm"
)

type Repository interface {
	Append(ctx context.Context, event *domain.WebhookEvent) error
	MarkProcessed(ctx context.Context, eventID int64, errText string) error
}

type repo struct {
	db *gorm.DB
}

func NewWebhookEventRepository(db *gorm.DB) Repository {
	return &repo{db: db}
}

// Append writes the audit row before any processing side effect so a
// crash mid-processing leaves evidence for reprocessing.
func (r *repo) Append(ctx context.Context, event *domain.WebhookEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

// MarkProcessed records the processing outcome. The row stays processed
// even when errText is non-empty; the webhook endpoint acknowledged the
// delivery either way.
func (r *repo) MarkProcessed(ctx context.Context, eventID int64, errText string) error {
	return r.db.WithContext(ctx).
		Model(&domain.WebhookEvent{}).
		Where("id = ?", eventID).
		Updates(map[string]any{"processed": true, "error": errText}).Error
}
