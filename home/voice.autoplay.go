package home

import (
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
)

func handleVoiceLoop(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	enabled := data.Bool("enabled")
	_ = event.DeferCreateMessage(false)
	s := session(event)
	if s == nil {
		return
	}
	s.SetLoop(enabled)
	reply(event, "🔁 Looping has been **"+onOff(enabled)+"**.")
}

func handleVoiceAutoplay(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	enabled := data.Bool("enabled")
	_ = event.DeferCreateMessage(false)

	if _, ok := userVoiceChannel(event); !ok {
		reply(event, "You must be in a voice channel to configure autoplay.")
		return
	}
	s := svc.Voice.Prepare(*event.GuildID())
	s.SetTextChannel(event.Channel().ID())
	s.SetAutoplay(enabled)
	reply(event, "📻 Autoplay has been **"+onOff(enabled)+"**.")
}

func onOff(on bool) string {
	if on {
		return "enabled"
	}
	return "disabled"
}
