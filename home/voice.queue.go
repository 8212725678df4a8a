package home

import (
	"fmt"
	"strings"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/leeineian/morphbot/media"
	"github.com/leeineian/morphbot/proc"
	"github.com/leeineian/morphbot/sys"
)

const queuePageSize = 10

func handleVoiceQueue(event *events.ApplicationCommandInteractionCreate, _ discord.SlashCommandInteractionData) {
	_ = event.DeferCreateMessage(true)
	s := session(event)
	if s == nil {
		return
	}
	replyContainer(event, renderQueue(s.Snapshot()))
}

func renderQueue(snap proc.Snapshot) sys.Container {
	var components []any

	// Time until the first pending track starts; negative once any length is unknown.
	wait := time.Duration(-1)
	if cur := snap.Current; cur != nil {
		head := "**Now Playing:**"
		if snap.Status == proc.SinkPaused {
			head = "**Paused:**"
		}
		line := media.TrackLine(cur)
		if cur.Duration > 0 {
			line += fmt.Sprintf("\n`%s / %s`", sys.FormatDuration(snap.Elapsed), sys.FormatDuration(cur.Duration))
			if !snap.Loop {
				wait = max(cur.Duration-snap.Elapsed, 0)
			}
		}
		components = append(components, sys.NewTextDisplay(head+"\n"+line))
		components = append(components, sys.NewSeparator(true))
	} else {
		wait = 0
	}

	components = append(components, sys.NewTextDisplay("**Queue:**"))
	if len(snap.Pending) == 0 {
		empty := "_Empty_"
		if snap.Autoplay {
			empty = "_Empty (Autoplay Ready)_"
		}
		components = append(components, sys.NewTextDisplay(empty))
	} else {
		var list strings.Builder
		for i, t := range snap.Pending {
			if i >= queuePageSize {
				fmt.Fprintf(&list, "\n*...and %d more*", len(snap.Pending)-queuePageSize)
				break
			}
			fmt.Fprintf(&list, "`%d.` %s `%s`", i+1, media.TrackLine(t), sys.FormatDuration(t.Duration))
			if wait >= 0 {
				fmt.Fprintf(&list, " · starts in %s", sys.FormatSpan(wait))
			}
			list.WriteString("\n")
			if wait >= 0 && t.Duration > 0 {
				wait += t.Duration
			} else {
				wait = -1
			}
		}
		components = append(components, sys.NewTextDisplay(strings.TrimRight(list.String(), "\n")))
	}

	var flags []string
	if snap.Loop {
		flags = append(flags, "🔁 Loop")
	}
	if snap.Autoplay {
		flags = append(flags, "📻 Autoplay")
	}
	if len(flags) > 0 {
		components = append(components, sys.NewSeparator(false))
		components = append(components, sys.NewTextDisplay("-# "+strings.Join(flags, " · ")))
	}
	return sys.NewV2Container(components...)
}
