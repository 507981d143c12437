package vault

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestService_IssuePublicShare(t *testing.T) {
	f := newFixture(t, 1<<20)
	file := f.upload(t, "alice", "doc.txt", "share me")

	tok, err := f.svc.IssuePublicShare("alice", file.ID, nil, nil)
	require.NoError(t, err)

	t.Run("token is opaque and URL-safe", func(t *testing.T) {
		assert.NotEqual(t, tok.ID.String(), tok.Token)
		raw, err := base64.RawURLEncoding.DecodeString(tok.Token)
		require.NoError(t, err)
		assert.Len(t, raw, tokenBytes)
	})

	t.Run("wrong owner", func(t *testing.T) {
		_, err := f.svc.IssuePublicShare("mallory", file.ID, nil, nil)
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("unknown file", func(t *testing.T) {
		_, err := f.svc.IssuePublicShare("alice", uuid.New(), nil, nil)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestService_RedeemPublicShare(t *testing.T) {
	f := newFixture(t, 1<<20)
	content := "redeemable bytes"
	file := f.upload(t, "alice", "doc.txt", content)

	max := int64(2)
	tok, err := f.svc.IssuePublicShare("alice", file.ID, nil, &max)
	require.NoError(t, err)

	t.Run("success streams the original bytes", func(t *testing.T) {
		got, rc, err := f.svc.RedeemPublicShare(context.Background(), tok.Token, "203.0.113.7", "curl/8")
		require.NoError(t, err)
		defer rc.Close()

		body, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Equal(t, content, string(body))

		sum := sha256.Sum256(body)
		assert.Equal(t, got.ContentHash, hex.EncodeToString(sum[:]))
	})

	t.Run("unknown token", func(t *testing.T) {
		_, _, err := f.svc.RedeemPublicShare(context.Background(), "no-such-token", "", "")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("exhausted after the limit", func(t *testing.T) {
		_, rc, err := f.svc.RedeemPublicShare(context.Background(), tok.Token, "", "")
		require.NoError(t, err)
		require.NoError(t, rc.Close())

		_, _, err = f.svc.RedeemPublicShare(context.Background(), tok.Token, "", "")
		assert.ErrorIs(t, err, ErrExhausted)
	})

	t.Run("revoked token looks unknown", func(t *testing.T) {
		revocable, err := f.svc.IssuePublicShare("alice", file.ID, nil, nil)
		require.NoError(t, err)
		require.NoError(t, f.svc.RevokeShare("alice", revocable.ID))

		_, _, err = f.svc.RedeemPublicShare(context.Background(), revocable.Token, "", "")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("revoking someone else's token fails", func(t *testing.T) {
		other, err := f.svc.IssuePublicShare("alice", file.ID, nil, nil)
		require.NoError(t, err)
		assert.ErrorIs(t, f.svc.RevokeShare("mallory", other.ID), ErrNotFound)
	})
}

func TestService_RedeemExpiredShare(t *testing.T) {
	f := newFixture(t, 1<<20)
	file := f.upload(t, "alice", "doc.txt", "stale")

	past := time.Now().Add(-time.Second)
	max := int64(5)
	tok, err := f.svc.IssuePublicShare("alice", file.ID, &past, &max)
	require.NoError(t, err)

	// headroom on the counter does not matter once expired
	_, _, err = f.svc.RedeemPublicShare(context.Background(), tok.Token, "", "")
	assert.ErrorIs(t, err, ErrExpired)
}

func TestService_RedeemDeletedFile(t *testing.T) {
	f := newFixture(t, 1<<20)
	file := f.upload(t, "alice", "doc.txt", "going away")
	tok, err := f.svc.IssuePublicShare("alice", file.ID, nil, nil)
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteFile(context.Background(), "alice", file.ID))

	_, _, err = f.svc.RedeemPublicShare(context.Background(), tok.Token, "", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestService_RedeemRace(t *testing.T) {
	f := newFixture(t, 1<<20)
	file := f.upload(t, "alice", "doc.txt", "one shot")

	one := int64(1)
	tok, err := f.svc.IssuePublicShare("alice", file.ID, nil, &one)
	require.NoError(t, err)

	const redeemers = 2
	outcomes := make([]error, redeemers)
	eg := &errgroup.Group{}
	eg.SetLimit(redeemers)
	for i := 0; i < redeemers; i++ {
		i := i
		eg.Go(func() error {
			_, rc, err := f.svc.RedeemPublicShare(context.Background(), tok.Token, "", "")
			outcomes[i] = err
			if err == nil {
				_ = rc.Close()
			}
			return nil
		})
	}
	require.NoError(t, eg.Wait())

	wins, exhausted := 0, 0
	for _, err := range outcomes {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrExhausted):
			exhausted++
		default:
			t.Errorf("unexpected outcome: %v", err)
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, exhausted)
}

func TestService_ShareWithUser(t *testing.T) {
	f := newFixture(t, 1<<20)
	file := f.upload(t, "alice", "doc.txt", "direct")

	ds, err := f.svc.ShareWithUser("alice", file.ID, "bob", "have a look")
	require.NoError(t, err)
	assert.False(t, ds.IsRead)

	t.Run("sharing twice to the same recipient conflicts", func(t *testing.T) {
		_, err := f.svc.ShareWithUser("alice", file.ID, "bob", "again")
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("sharing with yourself is invalid", func(t *testing.T) {
		_, err := f.svc.ShareWithUser("alice", file.ID, "alice", "")
		var ve *ValidationError
		assert.ErrorAs(t, err, &ve)
	})

	t.Run("only the owner can share", func(t *testing.T) {
		_, err := f.svc.ShareWithUser("mallory", file.ID, "carol", "")
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("inbox and read flag", func(t *testing.T) {
		inbox, err := f.svc.SharesReceived("bob")
		require.NoError(t, err)
		require.Len(t, inbox, 1)
		assert.Equal(t, "have a look", inbox[0].Message)

		assert.ErrorIs(t, f.svc.MarkShareRead("mallory", inbox[0].ID), ErrNotFound)
		require.NoError(t, f.svc.MarkShareRead("bob", inbox[0].ID))

		inbox, err = f.svc.SharesReceived("bob")
		require.NoError(t, err)
		require.Len(t, inbox, 1)
		assert.True(t, inbox[0].IsRead)
	})
}
