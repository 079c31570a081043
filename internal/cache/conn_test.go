package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomhq/loom/internal/storage"
)

func openHandle(t *testing.T, alias string) *storage.Handle {
	t.Helper()
	a := storage.NewAdapter(nil)
	h, err := a.Open(alias, storage.Config{DSN: filepath.Join(t.TempDir(), alias+".db")})
	require.NoError(t, err)
	return h
}

func TestConnTier_AcquireAbsent(t *testing.T) {
	c := New(4, nil)

	entry, err := c.Connections().Acquire("main", "run-1")
	require.NoError(t, err)
	assert.Nil(t, entry, "absent alias should return nil, not error")
}

func TestConnTier_RegisterAndReuse(t *testing.T) {
	c := New(4, nil)
	h := openHandle(t, "main")

	entry := &ConnEntry{Alias: "main", Handle: h, TxActive: true, Owner: "run-1"}
	require.NoError(t, c.Connections().Register(entry))

	got, err := c.Connections().Acquire("main", "run-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Same(t, h, got.Handle, "same run must receive the identical handle")
	assert.False(t, got.OpenedAt.IsZero(), "Register stamps OpenedAt")
}

func TestConnTier_AliasBusyAcrossRuns(t *testing.T) {
	c := New(4, nil)
	h := openHandle(t, "main")
	require.NoError(t, c.Connections().Register(&ConnEntry{Alias: "main", Handle: h, Owner: "run-1"}))

	_, err := c.Connections().Acquire("main", "run-2")
	assert.ErrorIs(t, err, ErrAliasBusy)

	h2 := openHandle(t, "other")
	err = c.Connections().Register(&ConnEntry{Alias: "main", Handle: h2, Owner: "run-2"})
	assert.ErrorIs(t, err, ErrAliasBusy)
	require.NoError(t, h2.Close())
}

func TestConnTier_DisjointAliasesConcurrently(t *testing.T) {
	c := New(4, nil)
	h1 := openHandle(t, "a")
	h2 := openHandle(t, "b")

	require.NoError(t, c.Connections().Register(&ConnEntry{Alias: "a", Handle: h1, Owner: "run-1"}))
	require.NoError(t, c.Connections().Register(&ConnEntry{Alias: "b", Handle: h2, Owner: "run-2"}))

	// Each run releases only its own entries.
	assert.Equal(t, 1, c.Connections().ReleaseOwned("run-1"))
	has, err := c.Has(TierConnection, "b")
	require.NoError(t, err)
	assert.True(t, has, "run-2's entry must survive run-1's cleanup")

	assert.Equal(t, 1, c.Connections().ReleaseOwned("run-2"))
}

func TestConnTier_ReleaseOwnedClosesHandles(t *testing.T) {
	c := New(4, nil)
	h := openHandle(t, "main")
	require.NoError(t, h.Begin(context.Background()))
	require.NoError(t, c.Connections().Register(&ConnEntry{Alias: "main", Handle: h, TxActive: true, Owner: "run-1"}))

	removed := c.Connections().ReleaseOwned("run-1")
	assert.Equal(t, 1, removed)

	// Handle is closed: further use fails.
	err := h.Begin(context.Background())
	assert.ErrorIs(t, err, storage.ErrClosed)
}

func TestConnTier_ClearToleratesCloseFailures(t *testing.T) {
	c := New(4, nil)
	h := openHandle(t, "main")
	// Close early so the tier's own close hits the idempotent path; cleanup
	// must still remove the entry without raising.
	require.NoError(t, h.Close())
	require.NoError(t, c.Connections().Register(&ConnEntry{Alias: "main", Handle: h, Owner: "run-1"}))

	removed, err := c.Clear(TierConnection, "")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestConnTier_ClearEmptyIsIdempotent(t *testing.T) {
	c := New(4, nil)

	for i := 0; i < 3; i++ {
		removed, err := c.Clear(TierConnection, "")
		require.NoError(t, err)
		assert.Equal(t, 0, removed)
	}
}

func TestConnTier_SetRequiresConnEntry(t *testing.T) {
	c := New(4, nil)

	err := c.Set(TierConnection, "main", "not a conn entry", time.Time{})
	require.Error(t, err)

	h := openHandle(t, "main")
	t.Cleanup(func() { h.Close() })
	err = c.Set(TierConnection, "main", &ConnEntry{Alias: "main", Handle: h, Owner: "run-1"}, time.Time{})
	require.NoError(t, err)

	v, ok, err := c.Get(TierConnection, "main", time.Time{})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Same(t, h, v.(*ConnEntry).Handle)
}
