package database

import (
	"time"

	"github.com/google/uuid"
)

// File is a per-upload ownership record. Many files may reference one blob,
// owned by the same or different users.
type File struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey;default:(gen_random_uuid())" json:"id"`
	OwnerID     string    `gorm:"index;not null" json:"ownerId"`
	DisplayName string    `gorm:"not null" json:"displayName"`
	ContentHash string    `gorm:"index;not null" json:"contentHash"`
	Blob        *Blob     `gorm:"foreignKey:ContentHash;references:ContentHash" json:"blob,omitempty"`
	// FolderID is an opaque reference owned by the folder subsystem,
	// stored but never interpreted here.
	FolderID  string    `json:"folderId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
