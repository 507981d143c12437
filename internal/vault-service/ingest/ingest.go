// Package ingest stages upload streams: bytes are spooled to a temp file
// while the content digest is computed, so the payload is never held in
// memory and nothing touches a storage backend until the full declared size
// arrived. A dropped connection surfaces here as a read error, before any
// blob or metadata row exists.
package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
)

var (
	ErrSizeMismatch = errors.New("uploaded byte count does not match declared size")
	ErrCantSpool    = errors.New("can't spool upload stream")
)

// Staged is a fully received upload: digest and actual size are known, the
// bytes sit in a spool file that can be replayed into a backend.
type Staged struct {
	ContentHash string
	Size        int64

	path string
}

// Stage consumes r until EOF, hashing as it copies. The digest depends only
// on the bytes, never on the upload path.
func Stage(r io.Reader, declaredSize int64, l *log.Entry) (*Staged, error) {
	spool, err := os.CreateTemp("", "vault-upload-*")
	if err != nil {
		l.WithError(err).Error(ErrCantSpool)
		return nil, ErrCantSpool
	}

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(spool, h), r)
	if err != nil {
		discard(spool, l)
		l.WithError(err).Error(ErrCantSpool)
		return nil, fmt.Errorf("%w: %s", ErrCantSpool, err)
	}
	if n != declaredSize {
		discard(spool, l)
		return nil, fmt.Errorf("%w: declared %d, read %d", ErrSizeMismatch, declaredSize, n)
	}
	if err := spool.Close(); err != nil {
		_ = os.Remove(spool.Name())
		l.WithError(err).Error(ErrCantSpool)
		return nil, ErrCantSpool
	}

	return &Staged{
		ContentHash: hex.EncodeToString(h.Sum(nil)),
		Size:        n,
		path:        spool.Name(),
	}, nil
}

// Open replays the staged bytes from the start. It may be called more than
// once; each reader is independent.
func (s *Staged) Open() (io.ReadCloser, error) {
	return os.Open(s.path)
}

// Head returns up to n leading bytes for content sniffing.
func (s *Staged) Head(n int) ([]byte, error) {
	f, err := s.Open()
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()
	head := make([]byte, n)
	read, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return head[:read], nil
}

// Cleanup removes the spool file. Always call it, also after a successful
// commit.
func (s *Staged) Cleanup() {
	_ = os.Remove(s.path)
}

func discard(spool *os.File, l *log.Entry) {
	if err := spool.Close(); err != nil {
		l.WithError(err).Error("can't close spool file")
	}
	if err := os.Remove(spool.Name()); err != nil {
		l.WithError(err).Error("can't remove spool file")
	}
}
