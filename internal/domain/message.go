package domain

import (
	"time"
)

type SenderKind string

const (
	SenderUser SenderKind = "user"
	SenderBot  SenderKind = "bot"
)

// MediaMeta describes the structured part of a non-text message. Kind is
// empty for plain text messages; the remaining fields are populated per
// media kind (URL/MIME/size for image, audio, video; filename for
// documents; latitude/longitude/name for locations; name/phone for
// contact cards).
type MediaMeta struct {
	Kind      string  `gorm:"type:varchar(16)" json:"kind,omitempty"`
	URL       string  `gorm:"type:text" json:"url,omitempty"`
	MimeType  string  `gorm:"type:varchar(128)" json:"mime_type,omitempty"`
	Size      int64   `json:"size,omitempty"`
	Filename  string  `gorm:"type:varchar(256)" json:"filename,omitempty"`
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
	Name      string  `gorm:"type:varchar(128)" json:"name,omitempty"`
	Phone     string  `gorm:"type:varchar(20)" json:"phone,omitempty"`
}

// Message is one inbound or outbound item in a Conversation. Rows are
// immutable once written; ProviderMessageID is unique so duplicate
// webhook deliveries cannot insert the same message twice. ID is the
// insertion-ordered sequence used to break timestamp ties.
type Message struct {
	ID                int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	ConversationID    string     `gorm:"type:varchar(36);not null;index" json:"conversation_id"`
	Sender            SenderKind `gorm:"type:varchar(8);not null" json:"sender"`
	Content           string     `gorm:"type:text;not null" json:"content"`
	ProviderMessageID string     `gorm:"type:varchar(128);uniqueIndex" json:"provider_message_id"`
	ProviderType      string     `gorm:"type:varchar(32)" json:"provider_type"`
	Timestamp         time.Time  `json:"timestamp"`
	Media             MediaMeta  `gorm:"embedded;embeddedPrefix:media_" json:"media"`
	CreatedAt         time.Time  `json:"created_at"`
}
