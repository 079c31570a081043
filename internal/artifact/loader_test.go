package artifact

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomhq/loom/internal/cache"
)

func newTestLoader(t *testing.T, dir string) (*Loader, *cache.Cache) {
	t.Helper()
	r, err := NewResolver(dir)
	require.NoError(t, err)
	c := cache.New(8, nil)
	return NewLoader(r, c, nil), c
}

func stampFile(t *testing.T, path string, sec int) {
	t.Helper()
	ts := time.Date(2024, 6, 1, 12, 0, sec, 0, time.UTC)
	require.NoError(t, os.Chtimes(path, ts, ts))
}

func TestLoader_SecondLoadServedFromCache(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.yaml", "v: 1")
	stampFile(t, path, 1)

	l, c := newTestLoader(t, dir)

	first, err := l.Load("a")
	require.NoError(t, err)
	second, err := l.Load("a")
	require.NoError(t, err)

	assert.Same(t, first, second, "unchanged artifact must be served from cache")

	stats, err := c.Stats(cache.TierSystem)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestLoader_EditedArtifactReloads(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.yaml", "v: 1")
	stampFile(t, path, 1)

	l, c := newTestLoader(t, dir)

	first, err := l.Load("a")
	require.NoError(t, err)

	writeFile(t, dir, "a.yaml", "v: 2")
	stampFile(t, path, 2)

	second, err := l.Load("a")
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, []byte("v: 2"), second.Data)

	stats, err := c.Stats(cache.TierSystem)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Invalidations)
}

func TestLoader_PinAttachesOrigin(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "init.sql", "CREATE TABLE t (v TEXT);")

	l, c := newTestLoader(t, dir)

	blob, err := l.Pin("schema", "init")
	require.NoError(t, err)

	entry, ok := c.Pinned("schema")
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "init.sql"), entry.OriginPath)
	assert.Equal(t, "schema", entry.LogicalType)
	assert.Same(t, blob, entry.Value.(*Blob))
}

func TestLoader_Missing(t *testing.T) {
	l, _ := newTestLoader(t, t.TempDir())

	_, err := l.Load("ghost")
	var le *LoadError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, ErrCodeNotFound, le.Code)
}
