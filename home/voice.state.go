package home

import (
	"context"
	"iter"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/morphbot/sys"
)

// Members leaving in a burst (a channel move) settle before the alone check runs.
const aloneCheckDelay = time.Second

func handleVoiceStateUpdate(event *events.GuildVoiceStateUpdate) {
	if svc == nil {
		return
	}
	state := event.VoiceState
	guildID := state.GuildID
	client := event.Client()

	if state.UserID == client.ID() {
		if state.ChannelID == nil {
			if svc.Voice.HandleDisconnect(context.Background(), guildID) {
				sys.LogVoice(sys.MsgVoiceKicked, guildID)
			}
			return
		}
		if svc.Voice.Get(guildID) != nil {
			sys.LogVoice(sys.MsgVoiceMuted, guildID, state.GuildMute)
			svc.Voice.SetMuted(guildID, state.GuildMute)
		}
		return
	}

	s := svc.Voice.Get(guildID)
	if s == nil || s.VoiceChannel() == 0 {
		return
	}
	time.AfterFunc(aloneCheckDelay, func() {
		channelID := s.VoiceChannel()
		if channelID == 0 || svc.Voice.Get(guildID) != s {
			return
		}
		if svc.Voice.CheckIfAlone(context.Background(), guildID, countHumans(client, guildID, channelID)) {
			sys.LogVoice(sys.MsgVoiceAlone, guildID)
		}
	})
}

// countHumans counts the non-bot members in channelID.
func countHumans(client *bot.Client, guildID, channelID snowflake.ID) int {
	isBot := func(id snowflake.ID) bool {
		m, ok := client.Caches.Member(guildID, id)
		return ok && m.User.Bot
	}
	return countListeners(client.Caches.VoiceStates(guildID), channelID, client.ID(), isBot)
}

// countListeners counts voice states in channelID that are neither us nor bots. Deafened
// members still count.
func countListeners(states iter.Seq[discord.VoiceState], channelID, selfID snowflake.ID, isBot func(snowflake.ID) bool) int {
	n := 0
	for state := range states {
		if state.ChannelID == nil || *state.ChannelID != channelID || state.UserID == selfID {
			continue
		}
		if !isBot(state.UserID) {
			n++
		}
	}
	return n
}
