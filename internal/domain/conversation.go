package domain

import (
	"time"
)

type ConversationStatus string

const (
	ConversationActive   ConversationStatus = "active"
	ConversationArchived ConversationStatus = "archived"
	ConversationBlocked  ConversationStatus = "blocked"
)

// Conversation is a durable thread between one bot and one external
// WhatsApp user. At most one row exists per (bot, phone number) pair,
// enforced by the composite unique index.
type Conversation struct {
	ID            string             `gorm:"type:varchar(36);primaryKey" json:"id"`
	BotID         string             `gorm:"type:varchar(64);not null;uniqueIndex:ux_bot_phone,priority:1" json:"bot_id"`
	PhoneNumber   string             `gorm:"type:varchar(20);not null;uniqueIndex:ux_bot_phone,priority:2" json:"phone_number"`
	Name          string             `gorm:"type:varchar(128)" json:"name"`
	Status        ConversationStatus `gorm:"type:varchar(16);not null;default:active" json:"status"`
	RemoteJID     string             `gorm:"type:varchar(128)" json:"remote_jid"`
	LastMessageAt *time.Time         `json:"last_message_at"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     *time.Time         `json:"updated_at"`
}
