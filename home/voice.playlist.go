package home

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/morphbot/media"
	"github.com/leeineian/morphbot/proc"
	"github.com/leeineian/morphbot/sys"
)

func handleVoicePlaylist(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	u := data.String("url")
	_ = event.DeferCreateMessage(false)

	channelID, ok := userVoiceChannel(event)
	if !ok {
		reply(event, "You must be in a voice channel to import a playlist.")
		return
	}
	if !media.IsURL(u) {
		reply(event, "That is not a link.")
		return
	}
	startImport(event, u, channelID)
}

// startImport extracts the playlist, answers with its size and feeds it into the session in
// the background at the import pace.
func startImport(event *events.ApplicationCommandInteractionCreate, u string, channelID snowflake.ID) {
	guildID := *event.GuildID()

	ctx, cancel := context.WithTimeout(sys.AppContext, time.Minute)
	tracks, err := svc.Catalog.Playlist(ctx, u, svc.PlaylistLimit)
	cancel()
	if err != nil {
		sys.LogPlaylist(sys.MsgPlaylistExtractFail, u, err)
		reply(event, "Could not read that playlist.")
		return
	}
	if len(tracks) == 0 {
		reply(event, "That playlist is empty.")
		return
	}
	requester := event.User().ID
	for _, t := range tracks {
		t.Requester = requester
	}

	s := svc.Voice.Prepare(guildID)
	s.SetTextChannel(event.Channel().ID())

	pace := ""
	if delay := svc.Voice.Options().ImportDelay; delay > 0 && len(tracks) > 1 {
		pace = fmt.Sprintf(" One track joins the queue every %s.", sys.FormatSpan(delay))
	}
	reply(event, fmt.Sprintf("📥 Importing **%d** track(s).%s", len(tracks), pace))

	sys.SafeGo(func() {
		added, err := svc.Voice.Importer().Import(sys.AppContext, guildID, tracks, channelID)
		if err != nil && !errors.Is(err, proc.ErrSessionVanished) && !errors.Is(err, context.Canceled) {
			sys.LogPlaylist(sys.MsgPlaylistStopped, guildID, added, err)
		}
	})
}
