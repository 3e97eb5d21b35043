package domain

import (
	"time"
)

type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
)

// BotInstance holds one bot's pairing with the WhatsApp gateway.
// QRCode is populated only while connecting; PhoneNumber and ProfileName
// only while connected. The instance name index is partial: wiped records
// all carry the empty string and must not collide with each other.
type BotInstance struct {
	ID           string           `gorm:"type:varchar(64);primaryKey" json:"id"`
	InstanceName string           `gorm:"type:varchar(64);uniqueIndex:ux_bot_instance_name,where:instance_name <> ''" json:"instance_name"`
	Status       ConnectionStatus `gorm:"type:varchar(16);not null;default:disconnected" json:"status"`
	QRCode       string           `gorm:"type:text" json:"qr_code"`
	PhoneNumber  string           `gorm:"type:varchar(20)" json:"phone_number"`
	ProfileName  string           `gorm:"type:varchar(128)" json:"profile_name"`
	ConnectedAt  *time.Time       `json:"connected_at"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    *time.Time       `json:"updated_at"`
}

// ClearPairing resets every provider-assigned field. Used on explicit
// disconnect and delete.
func (b *BotInstance) ClearPairing() {
	b.InstanceName = ""
	b.Status = StatusDisconnected
	b.QRCode = ""
	b.PhoneNumber = ""
	b.ProfileName = ""
	b.ConnectedAt = nil
}
