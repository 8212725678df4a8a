package home

import (
	"fmt"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/leeineian/morphbot/media"
)

func handleVoiceSkip(event *events.ApplicationCommandInteractionCreate, _ discord.SlashCommandInteractionData) {
	_ = event.DeferCreateMessage(false)
	s := session(event)
	if s == nil {
		return
	}
	cur := s.Snapshot().Current
	if cur == nil || !s.Skip() {
		reply(event, "Nothing to skip.")
		return
	}
	reply(event, "⏭️ Skipped: "+media.TrackLine(cur))
}

func handleVoicePause(event *events.ApplicationCommandInteractionCreate, _ discord.SlashCommandInteractionData) {
	_ = event.DeferCreateMessage(false)
	s := session(event)
	if s == nil {
		return
	}
	if !s.Pause() {
		reply(event, "Nothing is playing.")
		return
	}
	reply(event, "⏸️ Paused.")
}

func handleVoiceResume(event *events.ApplicationCommandInteractionCreate, _ discord.SlashCommandInteractionData) {
	_ = event.DeferCreateMessage(false)
	s := session(event)
	if s == nil {
		return
	}
	if !s.Resume() {
		reply(event, "Playback is not paused.")
		return
	}
	reply(event, "▶️ Resumed.")
}

func handleVoiceRemove(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	pos := data.Int("position")
	_ = event.DeferCreateMessage(false)
	s := session(event)
	if s == nil {
		return
	}
	t, ok := s.Remove(pos - 1)
	if !ok {
		reply(event, fmt.Sprintf("There is no track at position %d.", pos))
		return
	}
	reply(event, "🗑️ Removed: "+media.TrackLine(t))
}

func handleVoiceClear(event *events.ApplicationCommandInteractionCreate, _ discord.SlashCommandInteractionData) {
	_ = event.DeferCreateMessage(false)
	s := session(event)
	if s == nil {
		return
	}
	reply(event, fmt.Sprintf("🧹 Cleared %d track(s).", s.Clear()))
}
