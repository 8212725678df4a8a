package media

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/bogem/id3v2/v2"
	"github.com/leeineian/morphbot/proc"
	"github.com/leeineian/morphbot/sys"
)

var unsafeFileChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]+`)

// MP3 is a finished download. Remove deletes it and its scratch directory.
type MP3 struct {
	Path string
	Name string
	dir  string
}

func (m *MP3) Remove() error {
	return os.RemoveAll(m.dir)
}

// Downloader turns tracks into tagged mp3 attachments.
type Downloader struct {
	ytdlp  *YTDLP
	http   *http.Client
	tmpDir string
}

func NewDownloader(y *YTDLP) *Downloader {
	return &Downloader{ytdlp: y, http: &http.Client{Timeout: 10 * time.Second}}
}

func (d *Downloader) Download(ctx context.Context, t *proc.Track) (*MP3, error) {
	dir, err := os.MkdirTemp(d.tmpDir, "mp3-")
	if err != nil {
		return nil, err
	}
	mp3, err := d.download(ctx, t, dir)
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}
	return mp3, nil
}

func (d *Downloader) download(ctx context.Context, t *proc.Track, dir string) (*MP3, error) {
	cmd := d.ytdlp.command().
		NoPlaylist().
		NoPart().
		Output(filepath.Join(dir, "audio.%(ext)s")).
		BuildCommand(ctx, d.ytdlp.args("-x", "--audio-format", "mp3", "--audio-quality", "0", sourceURL(t))...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: yt-dlp: %v: %s", proc.ErrFetchFailed, err, lastLine(stderr.String()))
	}

	path := filepath.Join(dir, "audio.mp3")
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: no mp3 produced", proc.ErrFetchFailed)
	}

	var cover []byte
	if thumb := thumbnail(t); thumb != "" {
		if c, err := d.fetchCover(ctx, thumb); err == nil {
			cover = c
		} else {
			sys.LogWarn(sys.MsgDownloadCoverFail, t.ID, err)
		}
	}
	if err := WriteTags(path, t, cover); err != nil {
		return nil, err
	}

	name := FileName(t)
	sys.LogDownload(sys.MsgDownloadMP3, t.ID, name)
	return &MP3{Path: path, Name: name, dir: dir}, nil
}

func (d *Downloader) fetchCover(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 5<<20))
}

// WriteTags sets title, artist and source URL, plus the cover when one is given.
func WriteTags(path string, t *proc.Track, cover []byte) error {
	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		tag, err = id3v2.Open(path, id3v2.Options{Parse: false})
		if err != nil {
			return fmt.Errorf("open %s: %w", path, err)
		}
	}
	defer tag.Close()

	tag.SetDefaultEncoding(id3v2.EncodingUTF8)
	tag.SetTitle(t.Title)
	tag.SetArtist(t.Channel())
	if u := t.URL; u != "" || IsVideoID(t.ID) {
		if u == "" {
			u = WatchURL(t.ID)
		}
		tag.AddTextFrame(tag.CommonID("WOAS"), id3v2.EncodingUTF8, u)
	}

	if len(cover) > 0 {
		mime := "image/jpeg"
		if bytes.HasPrefix(cover, []byte{0x89, 'P', 'N', 'G'}) {
			mime = "image/png"
		}
		tag.DeleteFrames(tag.CommonID("APIC"))
		tag.AddAttachedPicture(id3v2.PictureFrame{
			Encoding:    id3v2.EncodingUTF8,
			MimeType:    mime,
			PictureType: id3v2.PTFrontCover,
			Description: "Cover",
			Picture:     cover,
		})
	}

	if err := tag.Save(); err != nil {
		return fmt.Errorf("save tags: %w", err)
	}
	return nil
}

// FileName is "Artist - Title.mp3" with characters filesystems reject removed.
func FileName(t *proc.Track) string {
	name := t.Title
	if name == "" {
		name = t.ID
	}
	if ch := t.Channel(); ch != "" {
		name = ch + " - " + name
	}
	name = strings.TrimSpace(unsafeFileChars.ReplaceAllString(name, ""))
	if name == "" {
		name = "audio"
	}
	return sys.Truncate(name, 120) + ".mp3"
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndex(s, "\n"); i >= 0 {
		return s[i+1:]
	}
	return s
}
