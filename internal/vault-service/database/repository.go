package database

import (
	"errors"

	"github.com/google/uuid"
	sqliteGo "github.com/mattn/go-sqlite3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrRecordNotFound = gorm.ErrRecordNotFound
	ErrDuplicate      = errors.New("duplicate record")
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// CreateBlobIfAbsent is the conditional insert of the dedup index. It returns
// applied=false with the winner's row when another upload committed the same
// content hash first; losing the insert is ordinary control flow, not an error.
func (r *Repository) CreateBlobIfAbsent(b *Blob) (bool, *Blob, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "content_hash"}},
		DoNothing: true,
	}).Create(b)
	if tx.Error != nil {
		return false, nil, tx.Error
	}
	if tx.RowsAffected == 1 {
		return true, b, nil
	}
	existing, err := r.BlobByHash(b.ContentHash)
	return false, existing, err
}

func (r *Repository) BlobByHash(hash string) (*Blob, error) {
	b := &Blob{}
	return b, r.db.First(b, &Blob{ContentHash: hash}).Error
}

// BlobRefCount counts the files still referencing a blob, across all owners.
func (r *Repository) BlobRefCount(hash string) (int64, error) {
	var n int64
	err := r.db.Model(&File{}).Where("content_hash = ?", hash).Count(&n).Error
	return n, err
}

// OrphanedBlobs lists blobs with no referencing file. Nothing reclaims them;
// the query exists so an operator can see what the deferred-deletion
// trade-off is currently costing.
func (r *Repository) OrphanedBlobs() ([]*Blob, error) {
	var res []*Blob
	tx := r.db.
		Model(&Blob{}).
		Joins("left join files on files.content_hash = blobs.content_hash").
		Where("files.id is null").
		Find(&res)
	return res, tx.Error
}

func (r *Repository) CreateFile(ownerID, name, contentHash, folderID string) (*File, error) {
	f := &File{
		OwnerID:     ownerID,
		DisplayName: name,
		ContentHash: contentHash,
		FolderID:    folderID,
	}
	return f, r.db.Create(f).Error
}

func (r *Repository) FileByID(id uuid.UUID) (*File, error) {
	f := &File{}
	return f, r.db.Preload("Blob").First(f, "id = ?", id).Error
}

func (r *Repository) FilesByOwner(ownerID string) ([]*File, error) {
	var res []*File
	tx := r.db.
		Preload("Blob").
		Where(&File{OwnerID: ownerID}).
		Order("created_at desc").
		Find(&res)
	return res, tx.Error
}

func (r *Repository) RemoveFile(id uuid.UUID) error {
	tx := r.db.Delete(&File{}, "id = ?", id)
	if tx.Error == nil && tx.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return tx.Error
}

// OwnsContent reports whether the user already owns a file with this content
// hash. Re-uploads of owned content are quota-neutral.
func (r *Repository) OwnsContent(ownerID, hash string) (bool, error) {
	var n int64
	err := r.db.Model(&File{}).
		Where(&File{OwnerID: ownerID, ContentHash: hash}).
		Count(&n).Error
	return n > 0, err
}

// UsedBytes computes logical usage: the sum of byte sizes over the distinct
// content hashes the user owns. Two files of the same content count once;
// content another user stored first still counts at full size.
func (r *Repository) UsedBytes(ownerID string) (int64, error) {
	owned := r.db.Model(&File{}).
		Distinct("files.content_hash", "blobs.byte_size").
		Joins("join blobs on blobs.content_hash = files.content_hash").
		Where("files.owner_id = ?", ownerID)
	var used int64
	err := r.db.Table("(?) as owned", owned).
		Select("coalesce(sum(owned.byte_size), 0)").
		Scan(&used).Error
	return used, err
}

func (r *Repository) CreateShareToken(t *ShareToken) error {
	return r.db.Create(t).Error
}

func (r *Repository) ShareTokenByValue(token string) (*ShareToken, error) {
	t := &ShareToken{}
	return t, r.db.
		Preload("File").
		Preload("File.Blob").
		First(t, &ShareToken{Token: token}).Error
}

// ConsumeDownload atomically claims one download: a single conditional UPDATE
// gated on the counter, never a read-then-write. Returns applied=false when
// the token is revoked or the limit is already reached, so two concurrent
// redeemers of a one-shot token get exactly one success.
func (r *Repository) ConsumeDownload(id uuid.UUID) (bool, error) {
	tx := r.db.Model(&ShareToken{}).
		Where("id = ? and is_active = ?", id, true).
		Where("max_downloads is null or download_count < max_downloads").
		UpdateColumn("download_count", gorm.Expr("download_count + 1"))
	return tx.RowsAffected == 1, tx.Error
}

func (r *Repository) DeactivateShareToken(id uuid.UUID, ownerID string) (bool, error) {
	tx := r.db.Model(&ShareToken{}).
		Where("id = ? and owner_id = ?", id, ownerID).
		Update("is_active", false)
	return tx.RowsAffected == 1, tx.Error
}

func (r *Repository) CreateDirectShare(s *DirectShare) error {
	err := r.db.Create(s).Error
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (r *Repository) DirectSharesForUser(toUserID string) ([]*DirectShare, error) {
	var res []*DirectShare
	tx := r.db.
		Preload("File").
		Where(&DirectShare{ToUserID: toUserID}).
		Order("created_at desc").
		Find(&res)
	return res, tx.Error
}

func (r *Repository) MarkDirectShareRead(id uuid.UUID, toUserID string) (bool, error) {
	tx := r.db.Model(&DirectShare{}).
		Where("id = ? and to_user_id = ?", id, toUserID).
		Update("is_read", true)
	return tx.RowsAffected == 1, tx.Error
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqliteGo.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code == sqliteGo.ErrConstraint
}
