package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/leeineian/morphbot/proc"
	"github.com/leeineian/morphbot/sys"
)

const (
	cacheExt   = ".opus"
	partialExt = ".part"
)

var unsafeIDChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// FileCache keeps one audio file per track id in a flat directory, indexed in the tracks
// table so plain-text queries can find it again.
type FileCache struct {
	dir string
}

func NewFileCache(dir string) (*FileCache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &FileCache{dir: dir}, nil
}

func (c *FileCache) Dir() string { return c.dir }

func (c *FileCache) Path(id string) string {
	return filepath.Join(c.dir, unsafeIDChars.ReplaceAllString(id, "_")+cacheExt)
}

func (c *FileCache) Resolve(id string) (string, bool) {
	path := c.Path(id)
	st, err := os.Stat(path)
	if err != nil || st.Size() == 0 {
		return "", false
	}
	return path, true
}

// Store copies r into the cache, renaming into place only once the copy completed.
func (c *FileCache) Store(ctx context.Context, t *proc.Track, r io.Reader) (string, error) {
	path := c.Path(t.ID)
	tmp, err := os.CreateTemp(c.dir, filepath.Base(path)+".*"+partialExt)
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, r)
	if err == nil && n == 0 {
		err = errors.New("empty stream")
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", err
	}

	c.index(ctx, t, path)
	return path, nil
}

func (c *FileCache) index(ctx context.Context, t *proc.Track, path string) {
	if sys.DB == nil {
		return
	}
	key := proc.SearchKey(t.Title)
	err := sys.UpsertTrack(ctx, &sys.CachedTrack{
		VideoID:   t.ID,
		Title:     t.Title,
		Channel:   t.Channel(),
		Duration:  t.Duration,
		File:      filepath.Base(path),
		SearchKey: key,
	})
	if err != nil {
		sys.LogCache(sys.MsgCacheIndexFail, t.ID, err)
		return
	}
	sys.LogCache(sys.MsgCacheIndexed, t.ID, key)
}

// FindByQuery looks a free-text query up in the index and returns the cached track when its
// file is still present.
func (c *FileCache) FindByQuery(ctx context.Context, query string) (*proc.Track, bool) {
	if sys.DB == nil {
		return nil, false
	}
	ct, err := sys.FindTrackBySearchKey(ctx, proc.SearchKey(query))
	if err != nil || ct == nil {
		return nil, false
	}
	path, ok := c.Resolve(ct.VideoID)
	if !ok {
		return nil, false
	}
	sys.LogCache(sys.MsgCacheHit, query, ct.VideoID)
	return &proc.Track{
		ID:       ct.VideoID,
		Title:    ct.Title,
		Duration: ct.Duration,
		Path:     path,
		Meta:     &proc.TrackMeta{Channel: ct.Channel, Thumbnail: ThumbnailURL(ct.VideoID)},
	}, true
}

// ===========================
// Validation
// ===========================

type CacheReport struct {
	Indexed  int
	Files    int
	Orphaned []string
	Missing  []string
	Partial  []string
}

// Validate compares the directory with the index. With fix set, orphaned and partial files
// are deleted and rows pointing at missing files are dropped.
func (c *FileCache) Validate(ctx context.Context, fix bool) (*CacheReport, error) {
	if sys.DB == nil {
		return nil, errors.New("database not initialized")
	}
	rows, err := sys.AllTracks(ctx)
	if err != nil {
		return nil, fmt.Errorf("load index: %w", err)
	}
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, fmt.Errorf("read cache dir: %w", err)
	}

	rep := &CacheReport{Indexed: len(rows)}
	indexed := make(map[string]bool, len(rows))
	for _, row := range rows {
		file := row.File
		if file == "" {
			file = filepath.Base(c.Path(row.VideoID))
		}
		indexed[file] = true
		if _, ok := c.Resolve(row.VideoID); !ok {
			sys.LogCache(sys.MsgCacheMissing, row.VideoID, file)
			rep.Missing = append(rep.Missing, row.VideoID)
			if fix {
				if err := sys.DeleteTrack(ctx, row.VideoID); err != nil {
					return rep, err
				}
				sys.LogCache(sys.MsgCacheRemoved, row.VideoID)
			}
		}
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		switch {
		case strings.HasSuffix(name, partialExt):
			rep.Partial = append(rep.Partial, name)
		case strings.HasSuffix(name, cacheExt):
			rep.Files++
			if indexed[name] {
				continue
			}
			sys.LogCache(sys.MsgCacheOrphan, name)
			rep.Orphaned = append(rep.Orphaned, name)
		default:
			continue
		}
		if fix && !indexed[name] {
			if err := os.Remove(filepath.Join(c.dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
				return rep, err
			}
			sys.LogCache(sys.MsgCacheRemoved, name)
		}
	}

	sys.LogCache(sys.MsgCacheReport, rep.Indexed, rep.Files, len(rep.Orphaned), len(rep.Missing), len(rep.Partial))
	return rep, nil
}
