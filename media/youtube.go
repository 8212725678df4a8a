package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/kkdai/youtube/v2"
	"github.com/leeineian/morphbot/proc"
	"github.com/leeineian/morphbot/sys"
)

// YouTubeFetcher pulls audio straight from the player API without spawning a process.
type YouTubeFetcher struct {
	client youtube.Client
}

func NewYouTubeFetcher(proxy string) *YouTubeFetcher {
	f := &YouTubeFetcher{}
	if proxy != "" {
		if u, err := url.Parse(proxy); err == nil {
			f.client.HTTPClient = &http.Client{Transport: &http.Transport{Proxy: http.ProxyURL(u)}}
		}
	}
	return f
}

func (f *YouTubeFetcher) Fetch(ctx context.Context, t *proc.Track) (io.ReadCloser, error) {
	id := ExtractVideoID(t.ID)
	if id == "" {
		id = ExtractVideoID(t.URL)
	}
	if id == "" {
		return nil, fmt.Errorf("not a youtube video: %s", t.Source())
	}

	video, err := f.client.GetVideoContext(ctx, WatchURL(id))
	if err != nil {
		return nil, err
	}
	format := bestAudio(video.Formats)
	if format == nil {
		return nil, errors.New("no audio formats")
	}
	rc, _, err := f.client.GetStreamContext(ctx, video, format)
	if err != nil {
		return nil, err
	}
	return rc, nil
}

// bestAudio prefers itag 251 (Opus in WebM), then any Opus, then the highest ranked audio.
func bestAudio(all youtube.FormatList) *youtube.Format {
	formats := all.WithAudioChannels().Type("audio")
	for i := range formats {
		if formats[i].ItagNo == 251 {
			return &formats[i]
		}
	}
	for i := range formats {
		if strings.Contains(formats[i].MimeType, "opus") {
			return &formats[i]
		}
	}
	if len(formats) == 0 {
		return nil
	}
	formats.Sort()
	return &formats[0]
}

// ===========================
// Fallback Chain
// ===========================

type namedFetcher struct {
	name string
	proc.AudioFetcher
}

// FallbackFetcher tries each fetcher in order until one yields a stream.
type FallbackFetcher struct {
	chain []namedFetcher
}

func NewFallbackFetcher() *FallbackFetcher {
	return &FallbackFetcher{}
}

func (f *FallbackFetcher) Add(name string, fetcher proc.AudioFetcher) *FallbackFetcher {
	f.chain = append(f.chain, namedFetcher{name: name, AudioFetcher: fetcher})
	return f
}

func (f *FallbackFetcher) Fetch(ctx context.Context, t *proc.Track) (io.ReadCloser, error) {
	var errs []error
	for i, nf := range f.chain {
		rc, err := nf.Fetch(ctx, t)
		if err == nil {
			return rc, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		errs = append(errs, fmt.Errorf("%s: %w", nf.name, err))
		if i+1 < len(f.chain) {
			sys.LogDownload(sys.MsgDownloadFallback, t.Source(), f.chain[i+1].name, err)
		}
	}
	if len(errs) == 0 {
		return nil, errors.New("no fetchers configured")
	}
	return nil, errors.Join(errs...)
}
