package media

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/morphbot/proc"
	"github.com/leeineian/morphbot/sys"
	"golang.org/x/time/rate"
)

const (
	colorFailure = 0xED4245
	colorNotice  = 0x5865F2
)

// ChatNotifier posts session notices as V2 containers. Each channel has its own limiter so
// a burst of failures cannot trip the per-channel rate limit.
type ChatNotifier struct {
	client *bot.Client

	mu       sync.Mutex
	limiters map[snowflake.ID]*rate.Limiter
}

func NewChatNotifier(client *bot.Client) *ChatNotifier {
	return &ChatNotifier{client: client, limiters: make(map[snowflake.ID]*rate.Limiter)}
}

func (c *ChatNotifier) limiter(channelID snowflake.ID) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[channelID]
	if !ok {
		l = rate.NewLimiter(rate.Every(1200*time.Millisecond), 4)
		c.limiters[channelID] = l
	}
	return l
}

func (c *ChatNotifier) Send(ctx context.Context, channelID snowflake.ID, n proc.Notice) (proc.MessageRef, error) {
	if err := c.limiter(channelID).Wait(ctx); err != nil {
		return proc.MessageRef{}, err
	}
	msg, err := sys.SendContainerV2(c.client, channelID, RenderNotice(n))
	if err != nil {
		return proc.MessageRef{}, err
	}
	return proc.MessageRef{ChannelID: channelID, MessageID: msg.ID}, nil
}

func (c *ChatNotifier) Edit(ctx context.Context, ref proc.MessageRef, n proc.Notice) error {
	if err := c.limiter(ref.ChannelID).Wait(ctx); err != nil {
		return err
	}
	_, err := sys.EditContainerV2(c.client, ref.ChannelID, ref.MessageID, RenderNotice(n))
	return err
}

// ===========================
// Rendering
// ===========================

func RenderNotice(n proc.Notice) sys.Container {
	switch n.Kind {
	case proc.NoticeNowPlaying:
		head := "**Now Playing:**"
		if n.Loop {
			head = "**Now Playing (Looping):**"
		}
		content := head + "\n" + TrackLine(n.Track)
		if n.Track != nil && n.Track.Duration > 0 {
			content += fmt.Sprintf("\n`%s`", sys.FormatDuration(n.Track.Duration))
		}
		if thumb := thumbnail(n.Track); thumb != "" {
			return sys.NewV2Container(sys.NewSection(content, sys.NewThumbnail(thumb)))
		}
		return sys.NewV2Container(sys.NewTextDisplay(content))

	case proc.NoticeQueueEnded:
		return sys.NewV2Container(sys.NewTextDisplay("Queue ended. Add more with `/voice play`."))

	case proc.NoticeTrackFailed:
		content := "⚠️ Skipped " + TrackLine(n.Track)
		if n.Count > 0 {
			content += fmt.Sprintf(" after %d failed attempts", n.Count)
		}
		if n.Err != nil {
			content += "\n-# " + sys.Truncate(n.Err.Error(), 300)
		}
		return sys.NewV2Container(sys.NewTextDisplay(content)).WithAccent(colorFailure)

	case proc.NoticeAutoplay:
		content := fmt.Sprintf("**Autoplay:** queued %d track(s)", n.Count)
		if n.Track != nil {
			content += " after " + TrackLine(n.Track)
		}
		return sys.NewV2Container(sys.NewTextDisplay(content)).WithAccent(colorNotice)

	case proc.NoticeImported:
		return sys.NewV2Container(sys.NewTextDisplay(fmt.Sprintf("📥 Imported **%d** track(s) from the playlist.", n.Count)))

	case proc.NoticeDisconnected:
		return sys.NewV2Container(sys.NewTextDisplay("🛑 Disconnected from voice. The queue was cleared."))

	case proc.NoticeMuted:
		return sys.NewV2Container(sys.NewTextDisplay("🔇 I was server muted, so playback is paused. Unmute me to continue."))
	}
	return sys.NewV2Container(sys.NewTextDisplay("Unknown notice."))
}

// TrackLine renders "[title](url) · channel", dropping whatever is unknown.
func TrackLine(t *proc.Track) string {
	if t == nil {
		return "_unknown track_"
	}
	title := t.Title
	if title == "" {
		title = t.ID
	}
	title = escapeLinkText(sys.Truncate(title, 200))

	u := t.URL
	if u == "" && IsVideoID(t.ID) {
		u = WatchURL(t.ID)
	}
	line := title
	if IsURL(u) {
		line = "[" + title + "](" + u + ")"
	}
	if ch := t.Channel(); ch != "" {
		line += " · " + ch
	}
	return line
}

func escapeLinkText(s string) string {
	return strings.NewReplacer("[", "(", "]", ")").Replace(s)
}

func thumbnail(t *proc.Track) string {
	if t == nil {
		return ""
	}
	if t.Meta != nil && t.Meta.Thumbnail != "" {
		return t.Meta.Thumbnail
	}
	return ThumbnailURL(t.ID)
}
