package media

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/leeineian/morphbot/proc"
	"github.com/lrstanley/go-ytdlp"
)

// ===========================
// yt-dlp
// ===========================

// YTDLP wraps the yt-dlp binary for streaming, metadata and playlist extraction.
type YTDLP struct {
	proxy string

	jsOnce sync.Once
	jsArgs []string
}

func NewYTDLP(proxy string) *YTDLP {
	return &YTDLP{proxy: proxy}
}

func (y *YTDLP) command() *ytdlp.Command {
	cmd := ytdlp.New().
		Quiet().
		NoWarnings().
		IgnoreConfig()
	if y.proxy != "" {
		cmd.Proxy(y.proxy)
	}
	return cmd
}

// args carries the flags every invocation shares, plus a JS runtime when one is installed.
func (y *YTDLP) args(extra ...string) []string {
	y.jsOnce.Do(func() {
		for _, rt := range []string{"node", "deno", "quickjs"} {
			if path, err := exec.LookPath(rt); err == nil {
				y.jsArgs = []string{"--js-runtimes", rt + ":" + path}
				break
			}
		}
	})
	out := append([]string(nil), y.jsArgs...)
	out = append(out,
		"--extractor-args", "youtube:player_client=android,web",
		"--socket-timeout", "30",
		"--retries", "10",
	)
	return append(out, extra...)
}

// sourceURL is what yt-dlp is pointed at: music.youtube.com links are rewritten since the
// regular player serves the same ids with fewer restrictions.
func sourceURL(t *proc.Track) string {
	u := t.URL
	if u == "" {
		u = WatchURL(t.ID)
	}
	return strings.Replace(u, "music.youtube.com", "www.youtube.com", 1)
}

// ===========================
// Streaming
// ===========================

// Fetch starts yt-dlp writing the best audio stream to stdout. It returns once the first
// bytes arrive, so extractor errors surface here instead of mid-playback.
func (y *YTDLP) Fetch(ctx context.Context, t *proc.Track) (io.ReadCloser, error) {
	ctx, cancel := context.WithCancel(ctx)
	cmd := y.command().
		Format("bestaudio[ext=webm]/bestaudio[ext=m4a]/bestaudio/best").
		Output("-").
		NoSimulate().
		NoPart().
		NoPlaylist().
		NoCheckCertificates().
		BuildCommand(ctx, y.args(sourceURL(t))...)

	pr, pw := io.Pipe()
	ps := &processStream{cancel: cancel, pipe: pr}
	cmd.Stdout = pw
	cmd.Stderr = &ps.stderr
	cmd.Env = append(os.Environ(), "PYTHONUNBUFFERED=1")
	if y.proxy != "" {
		cmd.Env = append(cmd.Env, "http_proxy="+y.proxy, "https_proxy="+y.proxy, "all_proxy="+y.proxy)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, err
	}
	go func() {
		err := cmd.Wait()
		_ = pw.CloseWithError(ps.exitError(err))
	}()

	ps.r = bufio.NewReaderSize(pr, 64*1024)
	if _, err := ps.r.Peek(1); err != nil {
		_ = ps.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("yt-dlp produced no audio: %w", err)
	}
	return ps, nil
}

// processStream is stdout of a running yt-dlp. Close kills the process.
type processStream struct {
	r      *bufio.Reader
	pipe   *io.PipeReader
	cancel context.CancelFunc
	stderr bytes.Buffer
}

func (p *processStream) Read(b []byte) (int, error) {
	return p.r.Read(b)
}

func (p *processStream) Close() error {
	p.cancel()
	return p.pipe.Close()
}

// exitError runs after Wait, so stderr is complete. A clean exit, or one caused by the
// reader hanging up, yields nil so the pipe reports io.EOF.
func (p *processStream) exitError(err error) error {
	if err == nil {
		return nil
	}
	stderr := strings.TrimSpace(p.stderr.String())

	msg := strings.ToLower(err.Error() + stderr)
	if strings.Contains(msg, "broken pipe") || strings.Contains(msg, "signal: killed") {
		return nil
	}
	stderr = lastLine(stderr)
	if stderr != "" {
		return fmt.Errorf("yt-dlp: %w: %s", err, stderr)
	}
	return fmt.Errorf("yt-dlp: %w", err)
}

// ===========================
// Metadata
// ===========================

// Info looks up a single video or page without downloading it.
func (y *YTDLP) Info(ctx context.Context, u string) (*proc.Track, error) {
	res, err := y.command().
		Print("%(id)s\t%(title)s\t%(uploader)s\t%(duration)s\t%(thumbnail)s").
		NoSimulate().
		NoPlaylist().
		Run(ctx, y.args("--skip-download", u)...)
	if err != nil {
		if res != nil && strings.Contains(strings.ToLower(res.Stderr), "drm") {
			return nil, fmt.Errorf("%w: DRM protected: %v", proc.ErrResolutionFailed, err)
		}
		return nil, fmt.Errorf("%w: %v", proc.ErrResolutionFailed, err)
	}

	for _, line := range strings.Split(strings.TrimSpace(res.Stdout), "\n") {
		if t := parseEntry(line); t != nil {
			if IsURL(u) {
				t.URL = u
			}
			return t, nil
		}
	}
	return nil, fmt.Errorf("%w: no metadata for %s", proc.ErrResolutionFailed, u)
}

// Lookup implements proc.MetadataProvider for video ids.
func (y *YTDLP) Lookup(ctx context.Context, id string) (*proc.TrackInfo, error) {
	t, err := y.Info(ctx, WatchURL(id))
	if err != nil {
		return nil, err
	}
	return &proc.TrackInfo{Title: t.Title, Channel: t.Channel(), Duration: t.Duration, Thumbnail: t.Meta.Thumbnail}, nil
}

// parseEntry reads one "id\ttitle\tuploader\tduration[\tthumbnail]" line.
func parseEntry(line string) *proc.Track {
	ps := strings.Split(strings.TrimSpace(line), "\t")
	if len(ps) < 4 || ps[0] == "" || ps[0] == "NA" {
		return nil
	}
	t := &proc.Track{
		ID:    ps[0],
		Title: cleanNA(ps[1]),
		Meta:  &proc.TrackMeta{Channel: cleanNA(ps[2])},
	}
	if d, err := time.ParseDuration(strings.TrimSuffix(ps[3], ".0") + "s"); err == nil {
		t.Duration = d
	}
	if len(ps) >= 5 {
		t.Meta.Thumbnail = cleanNA(ps[4])
	}
	if t.Meta.Thumbnail == "" {
		t.Meta.Thumbnail = ThumbnailURL(t.ID)
	}
	return t
}

func cleanNA(s string) string {
	s = strings.TrimSpace(s)
	if s == "NA" {
		return ""
	}
	return s
}

// ===========================
// Playlists & Mixes
// ===========================

// Playlist lists up to limit entries of a playlist without resolving each one.
func (y *YTDLP) Playlist(ctx context.Context, u string, limit int) ([]*proc.Track, error) {
	cmd := y.command().
		FlatPlaylist().
		Print("%(id)s\t%(title)s\t%(uploader)s\t%(duration)s\tNA\t%(url)s").
		PlaylistItems(fmt.Sprintf("1-%d", limit)).
		BuildCommand(ctx, y.args(u, "--yes-playlist")...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("yt-dlp playlist failed: %w, stderr: %s", err, strings.TrimSpace(stderr.String()))
	}

	youtube := isYouTubeURL(u)
	var out []*proc.Track
	for _, line := range strings.Split(stdout.String(), "\n") {
		t := parseEntry(line)
		if t == nil {
			continue
		}
		// Ids from other extractors are not watch ids; keep the entry page as the source.
		if ps := strings.Split(line, "\t"); !youtube && len(ps) >= 6 {
			t.URL = cleanNA(ps[5])
		}
		out = append(out, t)
	}
	return out, nil
}

func isYouTubeURL(u string) bool {
	if !IsURL(u) {
		return false
	}
	lower := strings.ToLower(u)
	return strings.Contains(lower, "youtube.com") || strings.Contains(lower, "youtu.be")
}

// MixProvider recommends from the radio or mix playlist YouTube builds around the seed.
// Both are ranked by YouTube, so their candidates count as vetted.
type MixProvider struct {
	ytdlp      *YTDLP
	provenance proc.Provenance
}

func NewRadioProvider(y *YTDLP) *MixProvider {
	return &MixProvider{ytdlp: y, provenance: proc.ProvenanceYTMusicRadio}
}

func NewMixProvider(y *YTDLP) *MixProvider {
	return &MixProvider{ytdlp: y, provenance: proc.ProvenanceYouTubeMix}
}

func (m *MixProvider) Name() string { return m.provenance.String() }

func (m *MixProvider) Recommend(ctx context.Context, seed *proc.Track, limit int) ([]proc.Candidate, error) {
	id := ExtractVideoID(seed.ID)
	if id == "" {
		id = ExtractVideoID(seed.URL)
	}
	if id == "" {
		return nil, errors.New("seed is not a youtube video")
	}

	u := MixURL(id)
	if m.provenance == proc.ProvenanceYTMusicRadio {
		u = RadioURL(id)
	}
	entries, err := m.ytdlp.Playlist(ctx, u, limit+1)
	if err != nil {
		return nil, err
	}

	out := make([]proc.Candidate, 0, len(entries))
	for _, e := range entries {
		if e.ID == id {
			continue
		}
		out = append(out, proc.Candidate{
			ID:         e.ID,
			Title:      e.Title,
			Artist:     e.Channel(),
			Duration:   e.Duration,
			Provenance: m.provenance,
		})
	}
	return out, nil
}
