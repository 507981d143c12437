package vault

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/filevault/vault/internal/vault-service/database"
	"github.com/filevault/vault/internal/vault-service/ingest"
	"github.com/filevault/vault/internal/vault-service/storage"
)

const sniffLen = 512

// Registry is the metadata store the engine runs against.
type Registry interface {
	CreateBlobIfAbsent(b *database.Blob) (bool, *database.Blob, error)
	BlobByHash(hash string) (*database.Blob, error)
	BlobRefCount(hash string) (int64, error)
	OrphanedBlobs() ([]*database.Blob, error)

	CreateFile(ownerID, name, contentHash, folderID string) (*database.File, error)
	FileByID(id uuid.UUID) (*database.File, error)
	FilesByOwner(ownerID string) ([]*database.File, error)
	RemoveFile(id uuid.UUID) error

	OwnsContent(ownerID, hash string) (bool, error)
	UsedBytes(ownerID string) (int64, error)

	CreateShareToken(t *database.ShareToken) error
	ShareTokenByValue(token string) (*database.ShareToken, error)
	ConsumeDownload(id uuid.UUID) (bool, error)
	DeactivateShareToken(id uuid.UUID, ownerID string) (bool, error)

	CreateDirectShare(s *database.DirectShare) error
	DirectSharesForUser(toUserID string) ([]*database.DirectShare, error)
	MarkDirectShareRead(id uuid.UUID, toUserID string) (bool, error)
}

// Service is the content-addressable storage engine: hashing, dedup, quota,
// sharing. All new blob bytes go to the primary backend; reads follow the
// ref recorded on the blob row.
type Service struct {
	reg     Registry
	primary storage.Backend
	router  *storage.Router
	sniff   MimeSniffer
	events  Sink
	limit   int64
	l       *log.Entry
}

func NewService(reg Registry, primary storage.Backend, router *storage.Router,
	sniff MimeSniffer, events Sink, limitBytes int64, l *log.Entry) *Service {
	return &Service{
		reg:     reg,
		primary: primary,
		router:  router,
		sniff:   sniff,
		events:  events,
		limit:   limitBytes,
		l:       l,
	}
}

// UploadFile stages the stream, checks the logical quota, commits the blob on
// a dedup miss and records the ownership row. Bytes are durable in the
// backend before the blob row exists, and the blob row exists before the file
// row references it.
func (s *Service) UploadFile(ctx context.Context, userID string, r io.Reader,
	name string, declaredSize int64, declaredMime, folderID string) (*database.File, error) {
	l := s.l.WithFields(log.Fields{"user_id": userID, "name": name, "declared_size": declaredSize})

	staged, err := ingest.Stage(r, declaredSize, l)
	if err != nil {
		if errors.Is(err, ingest.ErrSizeMismatch) {
			return nil, &ValidationError{Reason: "size mismatch", Err: err}
		}
		return nil, err
	}
	defer staged.Cleanup()
	l = l.WithField("content_hash", staged.ContentHash)

	head, err := staged.Head(sniffLen)
	if err != nil {
		return nil, err
	}
	mime, err := s.sniff.Sniff(head, declaredMime)
	if err != nil {
		return nil, &ValidationError{Reason: "content type rejected", Err: err}
	}

	if err := s.checkQuota(userID, staged); err != nil {
		return nil, err
	}

	blob, deduped, err := s.upsertBlob(ctx, staged, mime)
	if err != nil {
		return nil, err
	}

	file, err := s.reg.CreateFile(userID, name, blob.ContentHash, folderID)
	if err != nil {
		l.WithError(err).Error("can't save file record")
		return nil, err
	}

	eventName := EventUploaded
	if deduped {
		eventName = EventDeduped
	}
	s.events.Publish(Event{
		Name:        eventName,
		UserID:      userID,
		FileID:      file.ID.String(),
		ContentHash: blob.ContentHash,
		Size:        blob.ByteSize,
		At:          time.Now(),
	})
	l.WithField("deduped", deduped).Info("file uploaded")
	return file, nil
}

// checkQuota approves or denies against logical usage: the sum of distinct
// content sizes the user owns. Re-uploading owned content is neutral;
// content someone else stored still charges full size. The snapshot read
// makes this a soft quota under heavy concurrent uploads by one user.
func (s *Service) checkQuota(userID string, staged *ingest.Staged) error {
	owns, err := s.reg.OwnsContent(userID, staged.ContentHash)
	if err != nil {
		return err
	}
	if owns {
		return nil
	}
	used, err := s.reg.UsedBytes(userID)
	if err != nil {
		return err
	}
	if used+staged.Size > s.limit {
		s.events.Publish(Event{
			Name:        EventQuotaDenied,
			UserID:      userID,
			ContentHash: staged.ContentHash,
			Size:        staged.Size,
			At:          time.Now(),
		})
		return &QuotaExceededError{UsedBytes: used, LimitBytes: s.limit, IncomingBytes: staged.Size}
	}
	return nil
}

// upsertBlob is the dedup engine. A hit returns the existing row without any
// backend write. On a miss the bytes go to a content-derived key first, then
// the row is inserted conditionally; losing that insert means a concurrent
// identical upload won, and its row is returned instead.
func (s *Service) upsertBlob(ctx context.Context, staged *ingest.Staged, mime string) (*database.Blob, bool, error) {
	if b, err := s.reg.BlobByHash(staged.ContentHash); err == nil {
		return b, true, nil
	} else if !errors.Is(err, database.ErrRecordNotFound) {
		return nil, false, err
	}

	key := storage.KeyForHash(staged.ContentHash)
	src, err := staged.Open()
	if err != nil {
		return nil, false, err
	}
	defer func() {
		_ = src.Close()
	}()
	if err := s.primary.Put(ctx, key, src, staged.Size); err != nil {
		return nil, false, &StorageError{Op: "put", Key: key, Err: err}
	}

	applied, b, err := s.reg.CreateBlobIfAbsent(&database.Blob{
		ContentHash: staged.ContentHash,
		ByteSize:    staged.Size,
		MimeType:    mime,
		StorageKind: string(storage.KindObject),
		StorageKey:  key,
	})
	if err != nil {
		return nil, false, err
	}
	return b, !applied, nil
}

// DeleteFile removes the ownership row. Blob rows and bytes stay even at zero
// references; other owners of the same content are never affected.
func (s *Service) DeleteFile(ctx context.Context, userID string, fileID uuid.UUID) error {
	f, err := s.reg.FileByID(fileID)
	if errors.Is(err, database.ErrRecordNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if f.OwnerID != userID {
		return ErrForbidden
	}
	if err := s.reg.RemoveFile(f.ID); err != nil {
		return err
	}

	var size int64
	if f.Blob != nil {
		size = f.Blob.ByteSize
	}
	s.events.Publish(Event{
		Name:        EventDeleted,
		UserID:      userID,
		FileID:      f.ID.String(),
		ContentHash: f.ContentHash,
		Size:        size,
		At:          time.Now(),
	})
	return nil
}

// OpenFile streams a file back to its owner.
func (s *Service) OpenFile(ctx context.Context, userID string, fileID uuid.UUID) (*database.File, io.ReadCloser, error) {
	f, err := s.reg.FileByID(fileID)
	if errors.Is(err, database.ErrRecordNotFound) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	if f.OwnerID != userID {
		return nil, nil, ErrForbidden
	}
	rc, err := s.openBlob(ctx, f)
	if err != nil {
		return nil, nil, err
	}
	return f, rc, nil
}

func (s *Service) openBlob(ctx context.Context, f *database.File) (io.ReadCloser, error) {
	if f.Blob == nil {
		return nil, ErrNotFound
	}
	rc, err := s.router.Get(ctx, storage.Ref{
		Kind: storage.Kind(f.Blob.StorageKind),
		Key:  f.Blob.StorageKey,
	})
	if err != nil {
		return nil, &StorageError{Op: "get", Key: f.Blob.StorageKey, Err: err}
	}
	return rc, nil
}

func (s *Service) ListFiles(userID string) ([]*database.File, error) {
	return s.reg.FilesByOwner(userID)
}

// Quota reports the point-in-time logical usage against the per-user limit.
func (s *Service) Quota(userID string) (used, limit int64, err error) {
	used, err = s.reg.UsedBytes(userID)
	return used, s.limit, err
}

// OrphanedBlobs surfaces blobs no file references anymore. Nothing deletes
// them; whether that is a cheap trade-off or a leak is a stakeholder call.
func (s *Service) OrphanedBlobs() ([]*database.Blob, error) {
	return s.reg.OrphanedBlobs()
}
