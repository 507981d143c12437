package vault

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/filevault/vault/internal/vault-service/database"
)

const tokenBytes = 32

// newTokenValue returns a URL-safe opaque credential. Row ids are never
// exposed as tokens; guessing one means guessing 256 random bits.
func newTokenValue() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// IssuePublicShare creates an expiring, download-limited public token for a
// file the user owns. Nil expiry or limit means that dimension is unbounded.
func (s *Service) IssuePublicShare(userID string, fileID uuid.UUID,
	expiresAt *time.Time, maxDownloads *int64) (*database.ShareToken, error) {
	f, err := s.ownedFile(userID, fileID)
	if err != nil {
		return nil, err
	}

	value, err := newTokenValue()
	if err != nil {
		return nil, err
	}
	t := &database.ShareToken{
		FileID:       f.ID,
		OwnerID:      userID,
		Token:        value,
		ExpiresAt:    expiresAt,
		MaxDownloads: maxDownloads,
		IsActive:     true,
	}
	if err := s.reg.CreateShareToken(t); err != nil {
		return nil, err
	}

	s.events.Publish(Event{
		Name:        EventShared,
		UserID:      userID,
		FileID:      f.ID.String(),
		ContentHash: f.ContentHash,
		At:          time.Now(),
	})
	return t, nil
}

// RevokeShare deactivates a token the user issued. The row stays for history.
func (s *Service) RevokeShare(userID string, shareID uuid.UUID) error {
	applied, err := s.reg.DeactivateShareToken(shareID, userID)
	if err != nil {
		return err
	}
	if !applied {
		return ErrNotFound
	}
	return nil
}

// RedeemPublicShare walks the token state machine: only an active, unexpired,
// unexhausted token streams bytes. The download is claimed with a store-level
// conditional increment before any byte leaves, so a one-shot token held by
// two concurrent redeemers pays out exactly once. Expiry and exhaustion are
// computed here, at access time; no sweeper exists.
func (s *Service) RedeemPublicShare(ctx context.Context, token, accessorIP, accessorUA string) (*database.File, io.ReadCloser, error) {
	t, err := s.reg.ShareTokenByValue(token)
	if errors.Is(err, database.ErrRecordNotFound) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	// revoked tokens look like unknown ones to outsiders
	if !t.IsActive {
		return nil, nil, ErrNotFound
	}
	if t.File == nil {
		return nil, nil, ErrNotFound
	}
	if t.ExpiresAt != nil && time.Now().After(*t.ExpiresAt) {
		return nil, nil, ErrExpired
	}

	applied, err := s.reg.ConsumeDownload(t.ID)
	if err != nil {
		return nil, nil, err
	}
	if !applied {
		return nil, nil, ErrExhausted
	}

	rc, err := s.openBlob(ctx, t.File)
	if err != nil {
		return nil, nil, err
	}

	s.l.WithFields(log.Fields{
		"token_id":    t.ID,
		"file_id":     t.FileID,
		"accessor_ip": accessorIP,
		"accessor_ua": accessorUA,
	}).Info("public share redeemed")
	s.events.Publish(Event{
		Name:        EventDownloaded,
		UserID:      t.OwnerID,
		FileID:      t.FileID.String(),
		ContentHash: t.File.ContentHash,
		Size:        blobSize(t.File),
		At:          time.Now(),
	})
	return t.File, rc, nil
}

// ShareWithUser hands a file to one recipient. Sharing the same file to the
// same recipient twice is a conflict, not an update.
func (s *Service) ShareWithUser(fromUserID string, fileID uuid.UUID, toUserID, message string) (*database.DirectShare, error) {
	if toUserID == "" || toUserID == fromUserID {
		return nil, &ValidationError{Reason: "invalid recipient"}
	}
	f, err := s.ownedFile(fromUserID, fileID)
	if err != nil {
		return nil, err
	}

	ds := &database.DirectShare{
		FileID:     f.ID,
		FromUserID: fromUserID,
		ToUserID:   toUserID,
		Message:    message,
	}
	if err := s.reg.CreateDirectShare(ds); err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			return nil, ErrConflict
		}
		return nil, err
	}

	s.events.Publish(Event{
		Name:        EventShared,
		UserID:      fromUserID,
		FileID:      f.ID.String(),
		ContentHash: f.ContentHash,
		At:          time.Now(),
	})
	return ds, nil
}

// SharesReceived lists the user's direct-share inbox.
func (s *Service) SharesReceived(userID string) ([]*database.DirectShare, error) {
	return s.reg.DirectSharesForUser(userID)
}

// MarkShareRead flips the recipient-side read flag.
func (s *Service) MarkShareRead(userID string, shareID uuid.UUID) error {
	applied, err := s.reg.MarkDirectShareRead(shareID, userID)
	if err != nil {
		return err
	}
	if !applied {
		return ErrNotFound
	}
	return nil
}

func (s *Service) ownedFile(userID string, fileID uuid.UUID) (*database.File, error) {
	f, err := s.reg.FileByID(fileID)
	if errors.Is(err, database.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if f.OwnerID != userID {
		return nil, ErrForbidden
	}
	return f, nil
}

func blobSize(f *database.File) int64 {
	if f.Blob == nil {
		return 0
	}
	return f.Blob.ByteSize
}
