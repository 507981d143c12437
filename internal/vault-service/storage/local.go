package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"

	log "github.com/sirupsen/logrus"
)

var (
	ErrCantCreateStorage = errors.New("can't create blob storage dir")
	ErrCantCreateBlobDir = errors.New("can't create blob dir")
	ErrCantCreateBlob    = errors.New("can't create blob file")
	ErrCantWriteBlob     = errors.New("can't write blob file")
	ErrShortBlob         = errors.New("blob byte count does not match declared size")
)

// Local is the filesystem backend, kept for records created before object
// storage existed. Writes land in a staging file and are renamed into place
// only after the full declared size arrived, so a dropped upload never leaves
// a readable partial blob.
type Local struct {
	path string
	l    *log.Entry
}

func NewLocal(basePath string, l *log.Entry) (*Local, error) {
	storagePath := path.Join(basePath, "blobs")
	if err := os.MkdirAll(storagePath, fs.ModePerm); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCantCreateStorage, err)
	}
	return &Local{path: storagePath, l: l.WithField("storage_base_path", storagePath)}, nil
}

func (s *Local) Put(_ context.Context, key string, r io.Reader, size int64) error {
	blobPath := path.Join(s.path, key)
	blobDir := path.Dir(blobPath)
	if err := os.MkdirAll(blobDir, fs.ModePerm); err != nil {
		s.l.
			WithField("blob_dir", blobDir).
			WithError(err).
			Error(ErrCantCreateBlobDir)
		return ErrCantCreateBlobDir
	}

	stage, err := os.CreateTemp(blobDir, path.Base(blobPath)+".*.part")
	if err != nil {
		s.l.WithField("blob_path", blobPath).WithError(err).Error(ErrCantCreateBlob)
		return ErrCantCreateBlob
	}
	defer func() {
		_ = stage.Close()
		_ = os.Remove(stage.Name())
	}()

	n, err := io.Copy(stage, r)
	if err != nil {
		s.l.WithError(err).Error(ErrCantWriteBlob)
		return ErrCantWriteBlob
	}
	if n != size {
		s.l.WithFields(log.Fields{"declared": size, "written": n}).Error(ErrShortBlob)
		return ErrShortBlob
	}
	if err := stage.Close(); err != nil {
		s.l.WithError(err).Error(ErrCantWriteBlob)
		return ErrCantWriteBlob
	}
	if err := os.Rename(stage.Name(), blobPath); err != nil {
		s.l.WithError(err).Error(ErrCantWriteBlob)
		return ErrCantWriteBlob
	}
	return nil
}

func (s *Local) Get(_ context.Context, key string) (io.ReadCloser, error) {
	blobPath := path.Join(s.path, key)
	f, err := os.Open(blobPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		s.l.WithField("blob_path", blobPath).WithError(err).Error("can't open blob")
		return nil, err
	}
	return f, nil
}

func (s *Local) Delete(_ context.Context, key string) error {
	blobPath := path.Join(s.path, key)
	if err := os.Remove(blobPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		s.l.WithField("blob_path", blobPath).WithError(err).Error("can't remove blob")
		return err
	}
	return nil
}
