package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func getLogger() *log.Logger {
	l := log.New()
	l.SetLevel(log.FatalLevel)
	return l
}

type readerWithError struct{}

func (readerWithError) Read(_ []byte) (n int, err error) {
	return 0, errors.New("test error")
}

func TestLocal_Put(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		r       io.Reader
		size    int64
		wantErr error
		want    string
	}{
		{name: "success",
			key:  "blobs/ab/abcd",
			r:    strings.NewReader("payload"),
			size: 7,
			want: "payload"},
		{name: "short stream",
			key:     "blobs/ab/short",
			r:       strings.NewReader("pay"),
			size:    7,
			wantErr: ErrShortBlob},
		{name: "reader fails",
			key:     "blobs/ab/broken",
			r:       readerWithError{},
			size:    7,
			wantErr: ErrCantWriteBlob},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewLocal(t.TempDir(), getLogger().WithField("test", tt.name))
			if err != nil {
				t.Fatalf("can't init storage: %s", err)
			}
			err = s.Put(context.Background(), tt.key, tt.r, tt.size)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("unexpected error:\n%s", cmp.Diff(tt.wantErr, err, cmpopts.EquateErrors()))
			}
			if tt.wantErr == nil {
				got, err := os.ReadFile(path.Join(s.path, tt.key))
				assert.NoError(t, err)
				assert.Equal(t, tt.want, string(got))
				return
			}
			// a failed put must not leave a readable blob or stage file behind
			if _, err := os.Stat(path.Join(s.path, tt.key)); !errors.Is(err, os.ErrNotExist) {
				t.Errorf("partial blob left behind: %v", err)
			}
			leftovers, _ := os.ReadDir(path.Dir(path.Join(s.path, tt.key)))
			assert.Empty(t, leftovers)
		})
	}
}

func TestLocal_GetDelete(t *testing.T) {
	s, err := NewLocal(t.TempDir(), getLogger().WithField("test", "get"))
	if err != nil {
		t.Fatalf("can't init storage: %s", err)
	}
	ctx := context.Background()
	key := KeyForHash("abcd1234")
	if err := s.Put(ctx, key, strings.NewReader("now you see me"), 14); err != nil {
		t.Fatalf("can't prepare test: %s", err)
	}

	t.Run("get", func(t *testing.T) {
		r, err := s.Get(ctx, key)
		assert.NoError(t, err)
		got, err := io.ReadAll(r)
		assert.NoError(t, err)
		assert.NoError(t, r.Close())
		assert.Equal(t, "now you see me", string(got))
	})

	t.Run("get missing", func(t *testing.T) {
		_, err := s.Get(ctx, KeyForHash("ffff"))
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("delete", func(t *testing.T) {
		assert.NoError(t, s.Delete(ctx, key))
		_, err := s.Get(ctx, key)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, s.Delete(ctx, key), ErrNotFound)
	})
}

func TestKeyForHash(t *testing.T) {
	tests := []struct {
		hash string
		want string
	}{
		{hash: "abcdef", want: "blobs/ab/abcdef"},
		{hash: "a", want: "blobs/a"},
	}
	for _, tt := range tests {
		t.Run(tt.hash, func(t *testing.T) {
			assert.Equal(t, tt.want, KeyForHash(tt.hash))
		})
	}
}
