package media

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/leeineian/morphbot/proc"
	"github.com/leeineian/morphbot/sys"
)

var ErrPlaylistURL = errors.New("link is a playlist")

// Catalog turns what a user typed into a track: cached titles first, then links, then search.
type Catalog struct {
	cache *FileCache
	ytdlp *YTDLP
}

func NewCatalog(cache *FileCache, y *YTDLP) *Catalog {
	return &Catalog{cache: cache, ytdlp: y}
}

func (c *Catalog) Lookup(ctx context.Context, query string) (*proc.Track, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: empty query", proc.ErrResolutionFailed)
	}

	if id := ExtractVideoID(query); id != "" {
		t := &proc.Track{ID: id, Meta: &proc.TrackMeta{Thumbnail: ThumbnailURL(id)}}
		if IsURL(query) {
			t.URL = query
		}
		c.fillFromIndex(ctx, t)
		return t, nil
	}

	if IsURL(query) {
		if IsPlaylistURL(query) {
			return nil, ErrPlaylistURL
		}
		return c.ytdlp.Info(ctx, query)
	}

	if c.cache != nil {
		if t, ok := c.cache.FindByQuery(ctx, query); ok {
			return t, nil
		}
	}

	tracks, err := searchMusic(ctx, query)
	if err != nil || len(tracks) == 0 {
		if err != nil {
			sys.LogDebug(sys.MsgSearchFailed, "ytmusic", query, err)
		}
		tracks, err = searchVideos(ctx, query)
		if err != nil {
			sys.LogDebug(sys.MsgSearchFailed, "youtube", query, err)
			return nil, fmt.Errorf("%w: %v", proc.ErrResolutionFailed, err)
		}
	}
	if len(tracks) == 0 {
		return nil, fmt.Errorf("%w: nothing found for %q", proc.ErrResolutionFailed, query)
	}
	return tracks[0], nil
}

func (c *Catalog) fillFromIndex(ctx context.Context, t *proc.Track) {
	if sys.DB == nil {
		return
	}
	ct, err := sys.GetTrack(ctx, t.ID)
	if err != nil || ct == nil {
		return
	}
	t.Title, t.Duration, t.Meta.Channel = ct.Title, ct.Duration, ct.Channel
}

// Playlist lists up to limit tracks of a playlist link.
func (c *Catalog) Playlist(ctx context.Context, u string, limit int) ([]*proc.Track, error) {
	if !IsURL(u) {
		return nil, fmt.Errorf("%w: not a link", proc.ErrResolutionFailed)
	}
	tracks, err := c.ytdlp.Playlist(ctx, u, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", proc.ErrResolutionFailed, err)
	}
	return tracks, nil
}
