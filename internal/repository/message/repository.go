package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/botbridge/whatsapp-bridge-service/internal/cache"
	"github.com/botbridge/whatsapp-bridge-service/internal/domain"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repository interface {
	Create(ctx context.Context, msg *domain.Message) (created bool, err error)
	ListByConversation(ctx context.Context, conversationID string, limit int) ([]domain.Message, error)
	CacheSentMessage(ctx context.Context, providerMessageID string, sentTime time.Time) error
}

type repo struct {
	db    *gorm.DB
	cache cache.Cache
}

func NewMessageRepository(db *gorm.DB, cache cache.Cache) Repository {
	return &repo{db: db, cache: cache}
}

// Create appends a message. The insert is conflict-safe on the provider
// message id, so a redelivered webhook carrying the same provider
// message inserts nothing and Create reports created=false.
func (r *repo) Create(ctx context.Context, msg *domain.Message) (bool, error) {
	if msg.ProviderMessageID == "" {
		// some payload variants omit the provider key id; a synthetic id
		// keeps the unique index meaningful
		msg.ProviderMessageID = uuid.NewString()
	}

	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider_message_id"}},
			DoNothing: true,
		}).
		Create(msg)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ListByConversation returns messages ordered by creation time, oldest
// first; the auto-increment id breaks timestamp ties in insertion order.
func (r *repo) ListByConversation(ctx context.Context, conversationID string, limit int) ([]domain.Message, error) {
	var messages []domain.Message
	q := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&messages).Error
	return messages, err
}

// CacheSentMessage writes outbound send attributes to cache
func (r *repo) CacheSentMessage(ctx context.Context, providerMessageID string, sentTime time.Time) error {
	key := fmt.Sprintf("sent_msg:%s", providerMessageID)

	value := map[string]any{
		"messageId": providerMessageID,
		"sentAt":    sentTime,
	}

	jsonVal, _ := json.Marshal(value)
	// Expire after 24 hours to keep memory clean
	return r.cache.Set(ctx, key, string(jsonVal), 24*time.Hour)
}
