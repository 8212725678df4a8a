package media

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/leeineian/morphbot/proc"
	"github.com/leeineian/morphbot/sys"
	"github.com/ppalone/ytsearch"
	"github.com/raitonoberu/ytmusic"
	"golang.org/x/sync/singleflight"
)

var errNoResults = errors.New("no results")

// ===========================
// Resolver
// ===========================

// SearchResolver maps free text to a video id, trying YouTube Music songs before plain
// YouTube since song results are the studio version more often.
type SearchResolver struct{}

func NewSearchResolver() *SearchResolver {
	return &SearchResolver{}
}

func (r *SearchResolver) Resolve(ctx context.Context, query string) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", proc.ErrResolutionFailed
	}
	if id := ExtractVideoID(query); id != "" {
		return id, nil
	}

	if tracks, err := searchMusic(ctx, query); err == nil && len(tracks) > 0 {
		return tracks[0].ID, nil
	} else if err != nil {
		sys.LogDebug(sys.MsgSearchFailed, "ytmusic", query, err)
	}

	videos, err := searchVideos(ctx, query)
	if err != nil {
		sys.LogDebug(sys.MsgSearchFailed, "youtube", query, err)
		return "", fmt.Errorf("%w: %v", proc.ErrResolutionFailed, err)
	}
	if len(videos) == 0 {
		return "", fmt.Errorf("%w: %q", proc.ErrResolutionFailed, query)
	}
	return videos[0].ID, nil
}

// searchVideos runs a plain YouTube search.
func searchVideos(ctx context.Context, query string) ([]*proc.Track, error) {
	res, err := ytsearch.NewClient(nil).Search(ctx, query)
	if err != nil {
		return nil, err
	}
	out := make([]*proc.Track, 0, len(res.Results))
	for _, v := range res.Results {
		if v.VideoID == "" {
			continue
		}
		out = append(out, &proc.Track{
			ID:       v.VideoID,
			Title:    v.Title,
			Duration: parseClock(v.Duration),
			Meta:     &proc.TrackMeta{Channel: v.Channel, Thumbnail: ThumbnailURL(v.VideoID)},
		})
	}
	return out, nil
}

// searchMusic runs a YouTube Music song search. The client has no context support, so a
// canceled ctx only stops waiting for it.
func searchMusic(ctx context.Context, query string) ([]*proc.Track, error) {
	type result struct {
		tracks []*proc.Track
		err    error
	}
	ch := make(chan result, 1)
	go func() {
		r, err := ytmusic.TrackSearch(query).Next()
		if err != nil {
			ch <- result{err: err}
			return
		}
		var out []*proc.Track
		for _, v := range r.Tracks {
			if v.VideoID == "" {
				continue
			}
			artist := ""
			if len(v.Artists) > 0 {
				artist = v.Artists[0].Name
			}
			out = append(out, &proc.Track{
				ID:    v.VideoID,
				Title: v.Title,
				URL:   MusicURL(v.VideoID),
				Meta:  &proc.TrackMeta{Channel: artist, Thumbnail: ThumbnailURL(v.VideoID)},
			})
		}
		ch <- result{tracks: out}
	}()

	select {
	case r := <-ch:
		return r.tracks, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// parseClock reads "3:20" or "1:05:20".
func parseClock(s string) time.Duration {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0
	}
	var total int
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0
		}
		total = total*60 + n
	}
	return time.Duration(total) * time.Second
}

// ===========================
// Recommendation Fallbacks
// ===========================

// SearchProvider recommends by searching "title artist". Results are unranked, so the
// selector runs them through its similarity filters.
type SearchProvider struct{}

func (SearchProvider) Name() string { return proc.ProvenanceSearch.String() }

func (SearchProvider) Recommend(ctx context.Context, seed *proc.Track, limit int) ([]proc.Candidate, error) {
	query := strings.TrimSpace(seed.Title + " " + seed.Channel())
	if query == "" {
		return nil, errNoResults
	}
	videos, err := searchVideos(ctx, query)
	if err != nil {
		return nil, err
	}
	return candidates(videos, seed.ID, limit), nil
}

// ArtistProvider recommends other songs by the seed's artist from YouTube Music.
type ArtistProvider struct{}

func (ArtistProvider) Name() string { return "ytmusic-artist" }

func (ArtistProvider) Recommend(ctx context.Context, seed *proc.Track, limit int) ([]proc.Candidate, error) {
	artist := strings.TrimSpace(strings.TrimSuffix(seed.Channel(), " - Topic"))
	if artist == "" {
		return nil, errNoResults
	}
	tracks, err := searchMusic(ctx, artist)
	if err != nil {
		return nil, err
	}
	return candidates(tracks, seed.ID, limit), nil
}

func candidates(tracks []*proc.Track, seedID string, limit int) []proc.Candidate {
	out := make([]proc.Candidate, 0, limit)
	for _, t := range tracks {
		if len(out) >= limit {
			break
		}
		if t.ID == seedID {
			continue
		}
		out = append(out, proc.Candidate{
			ID:         t.ID,
			Title:      t.Title,
			Artist:     t.Channel(),
			Duration:   t.Duration,
			Provenance: proc.ProvenanceSearch,
		})
	}
	return out
}

// ===========================
// Autocomplete
// ===========================

type SearchResult struct {
	Title string
	URL   string
}

type cachedSearch struct {
	results   []SearchResult
	expiresAt time.Time
}

// Searcher serves autocomplete from both YouTube Music and YouTube. A leading prefix picks
// which source is listed first.
type Searcher struct {
	ytPrefix  string
	ytmPrefix string

	mu    sync.RWMutex
	items map[string]cachedSearch
}

func NewSearcher(ytPrefix, ytmPrefix string) *Searcher {
	return &Searcher{ytPrefix: ytPrefix, ytmPrefix: ytmPrefix, items: make(map[string]cachedSearch)}
}

func (s *Searcher) Search(ctx context.Context, q string) []SearchResult {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil
	}
	s.mu.RLock()
	if item, ok := s.items[q]; ok && time.Now().Before(item.expiresAt) {
		s.mu.RUnlock()
		return item.results
	}
	s.mu.RUnlock()

	youtubeFirst, query := s.splitPrefix(q)
	ctx, cancel := context.WithTimeout(ctx, 2300*time.Millisecond)
	defer cancel()

	var (
		wg      sync.WaitGroup
		yt, ytm []*proc.Track
	)
	wg.Add(2)
	sys.SafeGo(func() {
		defer wg.Done()
		ytm, _ = searchMusic(ctx, query)
	})
	sys.SafeGo(func() {
		defer wg.Done()
		yt, _ = searchVideos(ctx, query)
	})
	wg.Wait()

	var fin []SearchResult
	if youtubeFirst {
		fin = s.merge(yt, ytm)
	} else {
		fin = s.merge(ytm, yt)
	}
	if len(fin) > 0 {
		s.mu.Lock()
		s.items[q] = cachedSearch{results: fin, expiresAt: time.Now().Add(time.Hour)}
		s.mu.Unlock()
	}
	return fin
}

func (s *Searcher) splitPrefix(q string) (bool, string) {
	upper := strings.ToUpper(q)
	if s.ytPrefix != "" && strings.HasPrefix(upper, strings.ToUpper(s.ytPrefix)) {
		return true, strings.TrimSpace(q[len(s.ytPrefix):])
	}
	if s.ytmPrefix != "" && strings.HasPrefix(upper, strings.ToUpper(s.ytmPrefix)) {
		return false, strings.TrimSpace(q[len(s.ytmPrefix):])
	}
	return false, q
}

func (s *Searcher) merge(lists ...[]*proc.Track) []SearchResult {
	seen := make(map[string]bool)
	var out []SearchResult
	for _, list := range lists {
		for _, t := range list {
			if seen[t.ID] || len(out) >= 25 {
				continue
			}
			seen[t.ID] = true

			prefix, u := s.ytPrefix+" ", WatchURL(t.ID)
			if t.URL != "" {
				prefix, u = s.ytmPrefix+" ", t.URL
			}
			suffix := ""
			if t.Channel() != "" {
				suffix = " - " + t.Channel()
			}
			out = append(out, SearchResult{Title: sys.TruncateWithPreserve(t.Title, 100, prefix, suffix), URL: u})
		}
	}
	return out
}

// ===========================
// Metadata
// ===========================

// Metadata answers lookups from the track index first, then a YouTube search for the id,
// then yt-dlp. Concurrent lookups for one id share a single request.
type Metadata struct {
	ytdlp *YTDLP
	group singleflight.Group
}

func NewMetadata(y *YTDLP) *Metadata {
	return &Metadata{ytdlp: y}
}

func (m *Metadata) Lookup(ctx context.Context, id string) (*proc.TrackInfo, error) {
	v, err, _ := m.group.Do(id, func() (any, error) {
		return m.lookup(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	info := *v.(*proc.TrackInfo)
	return &info, nil
}

func (m *Metadata) lookup(ctx context.Context, id string) (*proc.TrackInfo, error) {
	if sys.DB != nil {
		if ct, err := sys.GetTrack(ctx, id); err == nil && ct != nil && ct.Title != "" {
			return &proc.TrackInfo{Title: ct.Title, Channel: ct.Channel, Duration: ct.Duration, Thumbnail: ThumbnailURL(id)}, nil
		}
	}

	if IsVideoID(id) {
		if videos, err := searchVideos(ctx, id); err == nil {
			for _, v := range videos {
				if v.ID == id {
					return &proc.TrackInfo{Title: v.Title, Channel: v.Channel(), Duration: v.Duration, Thumbnail: v.Meta.Thumbnail}, nil
				}
			}
		}
	}

	if m.ytdlp == nil {
		return nil, fmt.Errorf("%w: no metadata for %s", proc.ErrResolutionFailed, id)
	}
	return m.ytdlp.Lookup(ctx, id)
}
