package jsonfile

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/colonyops/crew/internal/core/lease"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLeaseStore(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "locks")
	s := NewLeaseStore(dir)

	_, err := s.Get(ctx, "bot:default")
	require.ErrorIs(t, err, lease.ErrNotFound)

	list, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	l := lease.Lease{Name: "bot:default", Holder: "host:42", ClaimedAt: now, HeartbeatAt: now, PID: 42}
	require.NoError(t, s.Put(ctx, l))

	assert.FileExists(t, filepath.Join(dir, "bot-default.json"))
	assert.NoFileExists(t, filepath.Join(dir, "bot-default.json.tmp"))

	got, err := s.Get(ctx, "bot:default")
	require.NoError(t, err)
	assert.True(t, got.HeartbeatAt.Equal(now))
	assert.Equal(t, 42, got.PID)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{"), 0o644))

	list, err = s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "bot:default", list[0].Name)
	assert.Equal(t, "broken", list[1].Name)
	assert.Error(t, list[1].Validate())

	require.NoError(t, s.Delete(ctx, "bot:default"))
	require.NoError(t, s.Delete(ctx, "bot:default"))

	_, err = s.Get(ctx, "bot:default")
	assert.ErrorIs(t, err, lease.ErrNotFound)
}

func TestLeaseStore_GetUndecodable(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := NewLeaseStore(dir)

	require.NoError(t, os.WriteFile(s.Path("bot:default"), []byte("{not json"), 0o644))

	got, err := s.Get(ctx, "bot:default")
	require.NoError(t, err)
	assert.Equal(t, "bot:default", got.Name)
	assert.Error(t, got.Validate())

	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	m := lease.Manager{TTL: time.Minute, Now: func() time.Time { return now }}
	res, err := m.Acquire(ctx, s, "bot:default", "host:7", 7)
	require.NoError(t, err)
	require.NotNil(t, res.Replaced)
	assert.Equal(t, "host:7", res.Lease.Holder)
}

func TestLeaseStore_WithManager(t *testing.T) {
	ctx := context.Background()
	s := NewLeaseStore(t.TempDir())

	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	m := lease.Manager{TTL: time.Minute, Now: func() time.Time { return now }}

	_, err := m.Acquire(ctx, s, "bot:x", "a", 1)
	require.NoError(t, err)

	_, err = m.Acquire(ctx, s, "bot:x", "b", 2)
	var held *lease.HeldError
	require.ErrorAs(t, err, &held)
	assert.Equal(t, "a", held.Holder)

	now = now.Add(2 * time.Minute)
	res, err := m.Acquire(ctx, s, "bot:x", "b", 2)
	require.NoError(t, err)
	require.NotNil(t, res.Replaced)
	assert.Equal(t, "a", res.Replaced.Holder)
}
