package local

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shadowrealms_backend/internal/model"
	"shadowrealms_backend/pkg/storage"
)

func newStore(t *testing.T, quota int64) *Store {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "nested", "subscribers.json"), quota)
}

func TestAddAndList(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, 0)

	subs, err := s.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, subs)

	sub := &model.Subscriber{Email: "a@b.co"}
	require.NoError(t, s.Add(ctx, sub))
	assert.NotEmpty(t, sub.ID)
	assert.False(t, sub.SubscribedAt.IsZero())
	assert.Equal(t, model.StatusActive, sub.Status)

	subs, err = s.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, sub.ID, subs[0].ID)
	assert.Equal(t, "a@b.co", subs[0].Email)
}

func TestPersistsAcrossInstances(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "subscribers.json")

	require.NoError(t, New(path, 0).Add(ctx, &model.Subscriber{Email: "a@b.co"}))

	subs, err := New(path, 0).ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, subs, 1)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"version":1`)
}

func TestDuplicate(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, 0)

	require.NoError(t, s.Add(ctx, &model.Subscriber{Email: "a@b.co"}))
	assert.ErrorIs(t, s.Add(ctx, &model.Subscriber{Email: "a@b.co"}), storage.ErrDuplicate)
}

func TestQuotaExceeded(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, 300)

	require.NoError(t, s.Add(ctx, &model.Subscriber{Email: "a@b.co"}))

	err := s.Add(ctx, &model.Subscriber{Email: strings.Repeat("x", 300) + "@b.co"})
	assert.ErrorIs(t, err, storage.ErrQuotaExceeded)

	// the rejected write leaves the document untouched
	subs, err := s.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, subs, 1)
}

func TestRemoveAll(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, 0)

	require.NoError(t, s.RemoveAll(ctx))
	require.NoError(t, s.Add(ctx, &model.Subscriber{Email: "a@b.co"}))
	require.NoError(t, s.RemoveAll(ctx))

	subs, err := s.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, subs)

	size, err := s.Size()
	require.NoError(t, err)
	assert.Zero(t, size)
}

func TestUnsubscribeAndDelete(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, 0)

	a := &model.Subscriber{Email: "a@b.co"}
	b := &model.Subscriber{Email: "b@b.co"}
	require.NoError(t, s.Add(ctx, a))
	require.NoError(t, s.Add(ctx, b))

	require.NoError(t, s.Unsubscribe(ctx, "a@b.co"))
	assert.ErrorIs(t, s.Unsubscribe(ctx, "a@b.co"), storage.ErrNotFound)

	// an unsubscribed address can be captured again
	require.NoError(t, s.Add(ctx, &model.Subscriber{Email: "a@b.co"}))

	require.NoError(t, s.Delete(ctx, b.ID))
	subs, err := s.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, subs, 2)
	for _, sub := range subs {
		assert.NotEqual(t, b.ID, sub.ID)
	}
}

func TestCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := newStore(t, 0)
	assert.ErrorIs(t, s.Add(ctx, &model.Subscriber{Email: "a@b.co"}), context.Canceled)
}

func TestCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subscribers.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := New(path, 0).ListAll(context.Background())
	assert.Error(t, err)
}
