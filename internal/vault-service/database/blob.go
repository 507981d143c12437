package database

import "time"

// Blob is the dedup index: exactly one row per distinct content hash.
// Rows are immutable after creation; the storage key is derived from the
// hash, so concurrent first uploads of the same content target the same key.
type Blob struct {
	ContentHash string    `gorm:"primaryKey;size:64" json:"contentHash"`
	ByteSize    int64     `gorm:"not null" json:"byteSize"`
	MimeType    string    `json:"mimeType"`
	StorageKind string    `gorm:"not null" json:"-"`
	StorageKey  string    `gorm:"not null" json:"-"`
	CreatedAt   time.Time `json:"createdAt"`
}
