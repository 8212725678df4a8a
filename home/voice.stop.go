package home

import (
	"context"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/leeineian/morphbot/sys"
)

func handleVoiceStop(event *events.ApplicationCommandInteractionCreate, _ discord.SlashCommandInteractionData) {
	_ = event.DeferCreateMessage(false)
	ctx, cancel := context.WithTimeout(sys.AppContext, 10*time.Second)
	defer cancel()
	if !svc.Voice.Reset(ctx, *event.GuildID(), true) {
		reply(event, "Not playing anything.")
		return
	}
	reply(event, "🛑 Stopped and disconnected.")
}

func handleVoiceReset(event *events.ApplicationCommandInteractionCreate) {
	_ = event.DeferCreateMessage(true)
	if svc == nil || event.GuildID() == nil {
		return
	}
	ctx, cancel := context.WithTimeout(sys.AppContext, 10*time.Second)
	defer cancel()
	if !svc.Voice.Reset(ctx, *event.GuildID(), true) {
		reply(event, "There was no session to reset.")
		return
	}
	reply(event, "♻️ Voice session reset.")
}
