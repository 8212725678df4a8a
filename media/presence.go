package media

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/gateway"
	"github.com/leeineian/morphbot/sys"
)

type sessionCounter interface {
	Count() int
}

// Presence rotates the bot's "Listening to" line through playback stats.
type Presence struct {
	client   *bot.Client
	sessions sessionCounter
	last     string
}

func NewPresence(client *bot.Client, sessions sessionCounter) *Presence {
	return &Presence{client: client, sessions: sessions}
}

func rotationInterval() time.Duration {
	return time.Duration(15+rand.IntN(46)) * time.Second
}

// Run updates the presence until ctx is done.
func (p *Presence) Run(ctx context.Context) {
	for {
		next := rotationInterval()
		p.update(ctx, next)
		select {
		case <-time.After(next):
		case <-ctx.Done():
			return
		}
	}
}

func (p *Presence) update(ctx context.Context, next time.Duration) {
	text := pickStatus(p.statuses(ctx), p.last)
	p.last = text

	err := p.client.SetPresence(ctx,
		gateway.WithOnlineStatus(discord.OnlineStatusOnline),
		gateway.WithListeningActivity(text),
	)
	if err != nil {
		sys.LogPresence(sys.MsgPresenceFail, err)
		return
	}
	sys.LogPresence(sys.MsgPresenceRotated, text, next)
}

func (p *Presence) statuses(ctx context.Context) []string {
	var out []string
	if n := p.sessions.Count(); n > 0 {
		out = append(out, fmt.Sprintf("music in %d server(s)", n))
	}
	if sys.DB != nil {
		if n, err := sys.CountTracks(ctx); err == nil && n > 0 {
			out = append(out, fmt.Sprintf("%d cached track(s)", n))
		}
	}
	if p.client != nil && p.client.Gateway != nil {
		if ping := p.client.Gateway.Latency(); ping > 0 {
			out = append(out, fmt.Sprintf("ping %dms", ping.Milliseconds()))
		}
	}
	up := time.Since(sys.StartupTime)
	out = append(out, fmt.Sprintf("uptime %dh %dm", int(up.Hours()), int(up.Minutes())%60))
	return out
}

// pickStatus avoids repeating last unless it is the only choice.
func pickStatus(options []string, last string) string {
	var fresh []string
	for _, s := range options {
		if s != last {
			fresh = append(fresh, s)
		}
	}
	if len(fresh) == 0 {
		if len(options) == 0 {
			return "/voice play"
		}
		return options[0]
	}
	return fresh[rand.IntN(len(fresh))]
}
