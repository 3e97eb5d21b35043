package repository

import (
	"context"
	"time"

	"github.com/botbridge/whatsapp-bridge-service/internal/domain"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repository interface {
	FindOrCreate(ctx context.Context, botID, phoneNumber, name, remoteJID string) (*domain.Conversation, error)
	TouchLastMessage(ctx context.Context, conversationID string, at time.Time) error
}

type repo struct {
	db *gorm.DB
}

func NewConversationRepository(db *gorm.DB) Repository {
	return &repo{db: db}
}

// FindOrCreate returns the conversation for (bot, phone), creating it on
// first contact. The insert uses ON CONFLICT DO NOTHING against the
// ux_bot_phone unique index and re-reads on conflict, so concurrent
// first-contact deliveries across processes resolve to a single row.
func (r *repo) FindOrCreate(ctx context.Context, botID, phoneNumber, name, remoteJID string) (*domain.Conversation, error) {
	conv := &domain.Conversation{
		ID:          uuid.NewString(),
		BotID:       botID,
		PhoneNumber: phoneNumber,
		Name:        name,
		Status:      domain.ConversationActive,
		RemoteJID:   remoteJID,
	}

	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "bot_id"}, {Name: "phone_number"}},
			DoNothing: true,
		}).
		Create(conv)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected > 0 {
		return conv, nil
	}

	// lost the race or the row already existed: read the winner
	var existing domain.Conversation
	if err := r.db.WithContext(ctx).
		Where("bot_id = ? AND phone_number = ?", botID, phoneNumber).
		First(&existing).Error; err != nil {
		return nil, err
	}
	return &existing, nil
}

// TouchLastMessage advances last_message_at. Callers invoke it only
// after the associated message row is durably written.
func (r *repo) TouchLastMessage(ctx context.Context, conversationID string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("id = ?", conversationID).
		Updates(map[string]any{"last_message_at": at, "updated_at": at}).Error
}
