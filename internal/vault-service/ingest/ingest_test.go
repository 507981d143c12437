package ingest

import (
	"errors"
	"io"
	"os"
	"strings"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getLogger() *log.Entry {
	l := log.New()
	l.SetLevel(log.FatalLevel)
	return log.NewEntry(l)
}

type readerWithError struct{}

func (readerWithError) Read(_ []byte) (int, error) {
	return 0, errors.New("connection dropped")
}

func TestStage(t *testing.T) {
	tests := []struct {
		name     string
		r        io.Reader
		declared int64
		wantErr  error
		wantHash string
		wantSize int64
	}{
		{name: "success",
			r:        strings.NewReader("hello world"),
			declared: 11,
			// sha256 of "hello world"
			wantHash: "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9",
			wantSize: 11},
		{name: "declared too large",
			r:        strings.NewReader("hello"),
			declared: 11,
			wantErr:  ErrSizeMismatch},
		{name: "declared too small",
			r:        strings.NewReader("hello world and then some"),
			declared: 11,
			wantErr:  ErrSizeMismatch},
		{name: "dropped connection",
			r:        readerWithError{},
			declared: 11,
			wantErr:  ErrCantSpool},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			staged, err := Stage(tt.r, tt.declared, getLogger())
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			defer staged.Cleanup()
			assert.Equal(t, tt.wantHash, staged.ContentHash)
			assert.Equal(t, tt.wantSize, staged.Size)
		})
	}
}

func TestStage_Deterministic(t *testing.T) {
	a, err := Stage(strings.NewReader("same bytes"), 10, getLogger())
	require.NoError(t, err)
	defer a.Cleanup()
	b, err := Stage(strings.NewReader("same bytes"), 10, getLogger())
	require.NoError(t, err)
	defer b.Cleanup()

	assert.Equal(t, a.ContentHash, b.ContentHash)
}

func TestStaged_OpenReplay(t *testing.T) {
	staged, err := Stage(strings.NewReader("replay me"), 9, getLogger())
	require.NoError(t, err)
	defer staged.Cleanup()

	for i := 0; i < 2; i++ {
		r, err := staged.Open()
		require.NoError(t, err)
		got, err := io.ReadAll(r)
		require.NoError(t, err)
		require.NoError(t, r.Close())
		assert.Equal(t, "replay me", string(got))
	}
}

func TestStaged_Head(t *testing.T) {
	staged, err := Stage(strings.NewReader("tiny"), 4, getLogger())
	require.NoError(t, err)
	defer staged.Cleanup()

	head, err := staged.Head(512)
	require.NoError(t, err)
	assert.Equal(t, "tiny", string(head))
}

func TestStaged_Cleanup(t *testing.T) {
	staged, err := Stage(strings.NewReader("bye"), 3, getLogger())
	require.NoError(t, err)
	staged.Cleanup()

	_, err = staged.Open()
	assert.True(t, os.IsNotExist(err))
}
