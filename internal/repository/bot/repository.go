package repository

import (
	"context"
	"errors"
	"time"

	"github.com/botbridge/whatsapp-bridge-service/internal/domain"
	"gorm.io/gorm"
)

type Repository interface {
	Get(ctx context.Context, botID string) (*domain.BotInstance, error)
	GetByInstanceName(ctx context.Context, instanceName string) (*domain.BotInstance, error)
	Save(ctx context.Context, bot *domain.BotInstance) error
}

type repo struct {
	db *gorm.DB
}

func NewBotRepository(db *gorm.DB) Repository {
	return &repo{db: db}
}

// Get loads the pairing record for a bot. Returns domain.ErrBotNotFound
// when the bot has never requested a pairing.
func (r *repo) Get(ctx context.Context, botID string) (*domain.BotInstance, error) {
	var bot domain.BotInstance
	if err := r.db.WithContext(ctx).Where("id = ?", botID).First(&bot).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrBotNotFound
		}
		return nil, err
	}
	return &bot, nil
}

// GetByInstanceName resolves the owning bot of a provider instance.
// Returns domain.ErrUnknownInstance when no bot owns the name, which is
// expected for webhooks that arrive after a delete.
func (r *repo) GetByInstanceName(ctx context.Context, instanceName string) (*domain.BotInstance, error) {
	var bot domain.BotInstance
	if err := r.db.WithContext(ctx).Where("instance_name = ?", instanceName).First(&bot).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrUnknownInstance
		}
		return nil, err
	}
	return &bot, nil
}

// Save upserts the full pairing record.
func (r *repo) Save(ctx context.Context, bot *domain.BotInstance) error {
	now := time.Now().UTC()
	bot.UpdatedAt = &now
	return r.db.WithContext(ctx).Save(bot).Error
}
