package home

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/leeineian/morphbot/media"
	"github.com/leeineian/morphbot/proc"
	"github.com/leeineian/morphbot/sys"
)

func handleVoicePlay(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	query := data.String("query")
	mode, _ := data.OptString("queue")
	now := mode == "now"

	// Instant Defer
	_ = event.DeferCreateMessage(false)

	channelID, ok := userVoiceChannel(event)
	if !ok {
		reply(event, "You must be in a voice channel to play music.")
		return
	}
	guildID := *event.GuildID()

	ctx, cancel := context.WithTimeout(sys.AppContext, 30*time.Second)
	defer cancel()

	track, err := svc.Catalog.Lookup(ctx, query)
	if errors.Is(err, media.ErrPlaylistURL) {
		startImport(event, query, channelID)
		return
	}
	if err != nil {
		sys.LogVoice(sys.MsgVoiceLookupFail, query, err)
		reply(event, "Could not find a matching song.")
		return
	}
	track.Requester = event.User().ID

	s := svc.Voice.Prepare(guildID)
	s.SetTextChannel(event.Channel().ID())
	if loop, ok := data.OptBool("loop"); ok {
		s.SetLoop(loop)
	}

	if now {
		err = svc.Voice.PlayNow(ctx, guildID, track, channelID)
	} else {
		err = svc.Voice.Enqueue(ctx, guildID, track, channelID)
	}
	switch {
	case errors.Is(err, proc.ErrDuplicate):
		reply(event, "That track is already queued.")
		return
	case errors.Is(err, proc.ErrNotConnected):
		reply(event, "Failed to join your voice channel.")
		return
	case err != nil:
		sys.LogVoice(sys.MsgVoicePlayFail, err)
		reply(event, "Failed to start player: "+err.Error())
		return
	}

	// Set after queuing so an empty queue does not trigger recommendations for the old seed.
	if autoplay, ok := data.OptBool("autoplay"); ok {
		s.SetAutoplay(autoplay)
	}
	replyContainer(event, playResponse(s.Snapshot(), track, now))
}

// playResponse says where the track landed and which modes are on.
func playResponse(snap proc.Snapshot, t *proc.Track, now bool) sys.Container {
	prefix := "🎶 Playing:"
	if pos := queuePosition(snap, t.ID); !now && pos != 0 {
		prefix = "✅ Added to queue:"
		if pos > 0 {
			prefix = fmt.Sprintf("✅ Added to queue at position %d:", pos)
		}
	}

	content := prefix + " " + media.TrackLine(t)
	var flags []string
	if snap.Autoplay {
		flags = append(flags, "Autoplay")
	}
	if snap.Loop {
		flags = append(flags, "Looping")
	}
	if len(flags) > 0 {
		content += " (" + strings.Join(flags, ", ") + ": Enabled)"
	}

	thumb := ""
	if t.Meta != nil {
		thumb = t.Meta.Thumbnail
	}
	if thumb == "" {
		thumb = media.ThumbnailURL(t.ID)
	}
	if thumb != "" {
		return sys.NewV2Container(sys.NewSection(content, sys.NewThumbnail(thumb)))
	}
	return sys.NewV2Container(sys.NewTextDisplay(content))
}

// queuePosition is 0 when id is current, 1-based in pending, or -1 when absent.
func queuePosition(snap proc.Snapshot, id string) int {
	if snap.Current != nil && snap.Current.ID == id {
		return 0
	}
	for i, t := range snap.Pending {
		if t.ID == id {
			return i + 1
		}
	}
	return -1
}

func handleVoiceAutocomplete(event *events.AutocompleteInteractionCreate) {
	focused := event.Data.Focused()
	if focused.Name != "query" || svc == nil {
		_ = event.AutocompleteResult(nil)
		return
	}
	query := focused.String()
	if query == "" {
		_ = event.AutocompleteResult(nil)
		return
	}

	results := svc.Searcher.Search(sys.AppContext, query)
	choices := make([]discord.AutocompleteChoice, 0, len(results))
	for _, r := range results {
		name := sys.Truncate(r.Title, 100)
		// Values over 100 characters are rejected; fall back to the title, which searches again.
		val := r.URL
		if len(val) > 100 {
			val = sys.Truncate(r.Title, 100)
		}
		choices = append(choices, discord.AutocompleteChoiceString{
			Name:  name,
			Value: val,
		})
	}
	_ = event.AutocompleteResult(choices)
}
