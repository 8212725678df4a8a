package media

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/leeineian/morphbot/proc"
	"github.com/leeineian/morphbot/sys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newIndexedCache(t *testing.T) *FileCache {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, sys.InitDatabase(context.Background(), filepath.Join(root, "db", "test.db")))
	t.Cleanup(sys.CloseDatabase)

	c, err := NewFileCache(filepath.Join(root, "audio"))
	require.NoError(t, err)
	return c
}

func TestFileCache_PathSanitizesID(t *testing.T) {
	c, err := NewFileCache(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(c.Dir(), "a_b_c.opus"), c.Path("a/b.c"))
}

func TestFileCache_StoreAndResolve(t *testing.T) {
	c := newIndexedCache(t)
	ctx := context.Background()
	track := &proc.Track{
		ID:       "dQw4w9WgXcQ",
		Title:    "Never Gonna Give You Up (Official Video)",
		Duration: 213 * time.Second,
		Meta:     &proc.TrackMeta{Channel: "Rick Astley"},
	}

	_, ok := c.Resolve(track.ID)
	assert.False(t, ok)

	path, err := c.Store(ctx, track, strings.NewReader("opus-bytes"))
	require.NoError(t, err)
	assert.Equal(t, c.Path(track.ID), path)

	got, ok := c.Resolve(track.ID)
	require.True(t, ok)
	assert.Equal(t, path, got)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "opus-bytes", string(data))

	row, err := sys.GetTrack(ctx, track.ID)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "never gonna give you up", row.SearchKey)
	assert.Equal(t, "Rick Astley", row.Channel)
	assert.Equal(t, 213*time.Second, row.Duration)
}

func TestFileCache_StoreRejectsEmptyStream(t *testing.T) {
	c := newIndexedCache(t)
	_, err := c.Store(context.Background(), &proc.Track{ID: "aaaaaaaaaaa"}, strings.NewReader(""))
	require.Error(t, err)

	_, ok := c.Resolve("aaaaaaaaaaa")
	assert.False(t, ok)

	entries, err := os.ReadDir(c.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries, "no partial files left behind")
}

func TestFileCache_StoreHonorsCanceledContext(t *testing.T) {
	c := newIndexedCache(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Store(ctx, &proc.Track{ID: "aaaaaaaaaaa"}, strings.NewReader("data"))
	assert.ErrorIs(t, err, context.Canceled)
	_, ok := c.Resolve("aaaaaaaaaaa")
	assert.False(t, ok)
}

func TestFileCache_FindByQuery(t *testing.T) {
	c := newIndexedCache(t)
	ctx := context.Background()

	_, err := c.Store(ctx, &proc.Track{ID: "bbbbbbbbbbb", Title: "Beyoncé - Halo (Official Video)"}, strings.NewReader("x"))
	require.NoError(t, err)

	found, ok := c.FindByQuery(ctx, "beyonce halo lyrics")
	require.True(t, ok)
	assert.Equal(t, "bbbbbbbbbbb", found.ID)
	assert.Equal(t, c.Path("bbbbbbbbbbb"), found.Path)

	found, ok = c.FindByQuery(ctx, "Beyonce")
	require.True(t, ok, "prefix match")
	assert.Equal(t, "bbbbbbbbbbb", found.ID)

	_, ok = c.FindByQuery(ctx, "halo")
	assert.False(t, ok)

	require.NoError(t, os.Remove(c.Path("bbbbbbbbbbb")))
	_, ok = c.FindByQuery(ctx, "beyonce halo")
	assert.False(t, ok, "indexed but file gone")
}

func TestFileCache_Validate(t *testing.T) {
	c := newIndexedCache(t)
	ctx := context.Background()

	_, err := c.Store(ctx, &proc.Track{ID: "aaaaaaaaaaa", Title: "Kept"}, strings.NewReader("x"))
	require.NoError(t, err)
	require.NoError(t, sys.UpsertTrack(ctx, &sys.CachedTrack{VideoID: "ccccccccccc", Title: "Gone", File: "ccccccccccc.opus", SearchKey: "gone"}))
	require.NoError(t, os.WriteFile(filepath.Join(c.Dir(), "zzzzzzzzzzz.opus"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(c.Dir(), "yyyyyyyyyyy.opus.123.part"), []byte("x"), 0644))

	rep, err := c.Validate(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Indexed)
	assert.Equal(t, 2, rep.Files)
	assert.Equal(t, []string{"zzzzzzzzzzz.opus"}, rep.Orphaned)
	assert.Equal(t, []string{"ccccccccccc"}, rep.Missing)
	assert.Equal(t, []string{"yyyyyyyyyyy.opus.123.part"}, rep.Partial)

	_, err = c.Validate(ctx, true)
	require.NoError(t, err)

	rep, err = c.Validate(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Indexed)
	assert.Equal(t, 1, rep.Files)
	assert.Empty(t, rep.Orphaned)
	assert.Empty(t, rep.Missing)
	assert.Empty(t, rep.Partial)

	_, ok := c.Resolve("aaaaaaaaaaa")
	assert.True(t, ok)
}

func TestFileCache_ValidateNeedsDatabase(t *testing.T) {
	c, err := NewFileCache(t.TempDir())
	require.NoError(t, err)
	_, err = c.Validate(context.Background(), false)
	assert.Error(t, err)
}
