package database

import (
	"time"

	"github.com/google/uuid"
)

// ShareToken grants access to a file without vault authentication. The token
// value is a high-entropy opaque string, never the row id. Expiry and
// exhaustion are computed at access time; rows are kept for history.
type ShareToken struct {
	ID            uuid.UUID  `gorm:"type:uuid;primaryKey;default:(gen_random_uuid())" json:"id"`
	FileID        uuid.UUID  `gorm:"index;not null" json:"fileId"`
	File          *File      `json:"-"`
	OwnerID       string     `gorm:"index;not null" json:"ownerId"`
	Token         string     `gorm:"uniqueIndex;size:64;not null" json:"token"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
	MaxDownloads  *int64     `json:"maxDownloads,omitempty"`
	DownloadCount int64      `gorm:"not null;default:0" json:"downloadCount"`
	IsActive      bool       `gorm:"not null;default:true" json:"isActive"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// DirectShare hands a file to one recipient. A file can be shared to the
// same recipient only once; lifecycle is a plain read flag.
type DirectShare struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey;default:(gen_random_uuid())" json:"id"`
	FileID     uuid.UUID `gorm:"index:,unique,composite:file_recipient" json:"fileId"`
	File       *File     `json:"file,omitempty"`
	FromUserID string    `gorm:"not null" json:"fromUserId"`
	ToUserID   string    `gorm:"index:,unique,composite:file_recipient" json:"toUserId"`
	Message    string    `json:"message,omitempty"`
	IsRead     bool      `gorm:"not null;default:false" json:"isRead"`
	CreatedAt  time.Time `json:"createdAt"`
}
