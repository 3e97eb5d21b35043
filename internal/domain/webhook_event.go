package domain

import (
	"time"
)

// WebhookEvent is the audit/idempotency record of one raw provider
// callback. A row is written before any processing side effect and
// updated with the outcome afterwards; rows are never deleted here.
type WebhookEvent struct {
	ID              int64     `gorm:"primaryKey" json:"id"`
	Event           string    `gorm:"type:varchar(64);not null" json:"event"`
	InstanceName    string    `gorm:"type:varchar(64);index" json:"instance_name"`
	ProviderEventID string    `gorm:"type:varchar(128);index" json:"provider_event_id"`
	Payload         string    `gorm:"type:text" json:"payload"`
	Processed       bool      `gorm:"not null;default:false" json:"processed"`
	Error           string    `gorm:"type:text" json:"error"`
	CreatedAt       time.Time `json:"created_at"`
}
