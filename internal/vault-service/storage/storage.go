package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
)

var (
	ErrNotFound    = errors.New("object not found")
	ErrUnknownKind = errors.New("unknown storage kind")
)

// Backend stores blob bytes by key. Implementations must stream in both
// directions; whole objects are never buffered in memory.
type Backend interface {
	Put(ctx context.Context, key string, r io.Reader, size int64) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

type Kind string

const (
	// KindObject is the primary object-storage backend. All new blobs land here.
	KindObject Kind = "object"
	// KindLocal is the filesystem backend for records created before object
	// storage existed.
	KindLocal Kind = "local"
)

// Ref names where a blob's bytes live. The backend serving a read is a
// property of the record carrying the Ref, never a global flag.
type Ref struct {
	Kind Kind
	Key  string
}

// KeyForHash derives the storage key from the content hash, so two uploads of
// the same new content always target the same key and a lost dedup race costs
// at most one redundant idempotent write.
func KeyForHash(hash string) string {
	if len(hash) < 2 {
		return "blobs/" + hash
	}
	return "blobs/" + hash[:2] + "/" + hash
}

// Router resolves Refs to the backend holding their bytes.
type Router struct {
	object Backend
	local  Backend
}

func NewRouter(object, local Backend) *Router {
	return &Router{object: object, local: local}
}

func (r *Router) backend(ref Ref) (Backend, error) {
	switch ref.Kind {
	case KindObject:
		return r.object, nil
	case KindLocal:
		return r.local, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, ref.Kind)
	}
}

func (r *Router) Get(ctx context.Context, ref Ref) (io.ReadCloser, error) {
	b, err := r.backend(ref)
	if err != nil {
		return nil, err
	}
	return b.Get(ctx, ref.Key)
}

func (r *Router) Delete(ctx context.Context, ref Ref) error {
	b, err := r.backend(ref)
	if err != nil {
		return err
	}
	return b.Delete(ctx, ref.Key)
}
