package home

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/leeineian/morphbot/media"
	"github.com/leeineian/morphbot/sys"
)

// Attachments above this are rejected by Discord for unboosted servers.
const maxUploadSize = 10 << 20

func handleVoiceDownload(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	query := data.String("query")
	_ = event.DeferCreateMessage(false)

	ctx, cancel := context.WithTimeout(sys.AppContext, 5*time.Minute)
	defer cancel()

	track, err := svc.Catalog.Lookup(ctx, query)
	if errors.Is(err, media.ErrPlaylistURL) {
		reply(event, "Playlists cannot be downloaded, pick a single track.")
		return
	}
	if err != nil {
		reply(event, "Could not find a matching song.")
		return
	}

	mp3, err := svc.Downloader.Download(ctx, track)
	if err != nil {
		sys.LogDownload(sys.MsgDownloadCmdFail, track.Source(), err)
		reply(event, "Download failed.")
		return
	}
	defer func() { _ = mp3.Remove() }()

	st, err := os.Stat(mp3.Path)
	if err != nil {
		reply(event, "Download failed.")
		return
	}
	if st.Size() > maxUploadSize {
		reply(event, fmt.Sprintf("The file is too large to upload (%.1f MB).", float64(st.Size())/(1<<20)))
		return
	}

	f, err := os.Open(mp3.Path)
	if err != nil {
		reply(event, "Download failed.")
		return
	}
	defer f.Close()

	_, err = event.Client().Rest.UpdateInteractionResponse(event.ApplicationID(), event.Token(), discord.NewMessageUpdateBuilder().
		SetContent("📥 "+media.TrackLine(track)).
		AddFiles(discord.NewFile(mp3.Name, "", f)).
		Build())
	if err != nil {
		sys.LogDownload(sys.MsgDownloadUploadFail, mp3.Name, err)
	}
}
