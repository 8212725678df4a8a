package home

import (
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/omit"
	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/morphbot/media"
	"github.com/leeineian/morphbot/proc"
	"github.com/leeineian/morphbot/sys"
)

// Services is what the voice commands drive. Setup must run before the gateway opens.
type Services struct {
	Voice         *proc.VoiceSystem
	Catalog       *media.Catalog
	Searcher      *media.Searcher
	Downloader    *media.Downloader
	PlaylistLimit int
}

var svc *Services

func Setup(s *Services) {
	if s.PlaylistLimit <= 0 {
		s.PlaylistLimit = 100
	}
	svc = s
}

func init() {
	adminPerm := discord.PermissionAdministrator

	sys.RegisterCommand(discord.SlashCommandCreate{
		Name:        "voice",
		Description: "Voice System",
		Contexts: []discord.InteractionContextType{
			discord.InteractionContextTypeGuild,
		},
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionSubCommand{
				Name:        "play",
				Description: "Play a song, link or cached title",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionString{
						Name:         "query",
						Description:  "The URL or song name to play",
						Required:     true,
						Autocomplete: true,
					},
					discord.ApplicationCommandOptionString{
						Name:        "queue",
						Description: "Play now or add to the end (default: end)",
						Required:    false,
						Choices: []discord.ApplicationCommandOptionChoiceString{
							{Name: "Now", Value: "now"},
							{Name: "End", Value: "end"},
						},
					},
					discord.ApplicationCommandOptionBool{
						Name:        "autoplay",
						Description: "Enable or disable autoplay after this song",
						Required:    false,
					},
					discord.ApplicationCommandOptionBool{
						Name:        "loop",
						Description: "Loop the playback",
						Required:    false,
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "playlist",
				Description: "Queue a playlist, one track at a time",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionString{
						Name:        "url",
						Description: "Playlist link",
						Required:    true,
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "skip",
				Description: "Skip the current track",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "pause",
				Description: "Pause playback",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "resume",
				Description: "Resume playback",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "queue",
				Description: "Show the queue",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "remove",
				Description: "Remove a queued track",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionInt{
						Name:        "position",
						Description: "Position in the queue",
						Required:    true,
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "clear",
				Description: "Clear the queue without stopping the current track",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "loop",
				Description: "Loop the current track",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionBool{
						Name:        "enabled",
						Description: "On or off",
						Required:    true,
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "autoplay",
				Description: "Queue recommendations when the queue runs dry",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionBool{
						Name:        "enabled",
						Description: "On or off",
						Required:    true,
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "download",
				Description: "Download a song as a tagged mp3",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionString{
						Name:         "query",
						Description:  "The URL or song name",
						Required:     true,
						Autocomplete: true,
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "sleep",
				Description: "Leave at a set time",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionString{
						Name:        "when",
						Description: "e.g. \"in 30 minutes\", \"11pm\" or \"45m\"; leave empty to cancel",
						Required:    false,
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "stop",
				Description: "Stop audio and leave",
			},
		},
	}, func(event *events.ApplicationCommandInteractionCreate) {
		data := event.SlashCommandInteractionData()
		if data.SubCommandName == nil || svc == nil || event.GuildID() == nil {
			return
		}

		switch *data.SubCommandName {
		case "play":
			handleVoicePlay(event, data)
		case "playlist":
			handleVoicePlaylist(event, data)
		case "skip":
			handleVoiceSkip(event, data)
		case "pause":
			handleVoicePause(event, data)
		case "resume":
			handleVoiceResume(event, data)
		case "queue":
			handleVoiceQueue(event, data)
		case "remove":
			handleVoiceRemove(event, data)
		case "clear":
			handleVoiceClear(event, data)
		case "loop":
			handleVoiceLoop(event, data)
		case "autoplay":
			handleVoiceAutoplay(event, data)
		case "download":
			handleVoiceDownload(event, data)
		case "sleep":
			handleVoiceSleep(event, data)
		case "stop":
			handleVoiceStop(event, data)
		}
	})

	sys.RegisterCommand(discord.SlashCommandCreate{
		Name:                     "voice-reset",
		Description:              "Force-reset this server's voice session (Admin Only)",
		DefaultMemberPermissions: omit.New(&adminPerm),
		Contexts: []discord.InteractionContextType{
			discord.InteractionContextTypeGuild,
		},
	}, handleVoiceReset)

	sys.RegisterAutocompleteHandler("voice", handleVoiceAutocomplete)
	sys.RegisterVoiceStateUpdateHandler(handleVoiceStateUpdate)
}

// ===========================
// Helpers
// ===========================

func reply(event *events.ApplicationCommandInteractionCreate, content string) {
	if err := sys.EditInteractionContainerV2(event.Client(), event.Token(), sys.NewV2Container(sys.NewTextDisplay(content))); err != nil {
		sys.LogVoice(sys.MsgLoaderRespondFail, err)
	}
}

func replyContainer(event *events.ApplicationCommandInteractionCreate, c sys.Container) {
	if err := sys.EditInteractionContainerV2(event.Client(), event.Token(), c); err != nil {
		sys.LogVoice(sys.MsgLoaderRespondFail, err)
	}
}

// userVoiceChannel is the voice channel the invoking member sits in.
func userVoiceChannel(event *events.ApplicationCommandInteractionCreate) (snowflake.ID, bool) {
	if event.Member() == nil {
		return 0, false
	}
	state, ok := event.Client().Caches.VoiceState(*event.GuildID(), event.User().ID)
	if !ok || state.ChannelID == nil {
		return 0, false
	}
	return *state.ChannelID, true
}

// session returns the live session or answers "Not playing anything." and returns nil.
func session(event *events.ApplicationCommandInteractionCreate) *proc.VoiceSession {
	s := svc.Voice.Get(*event.GuildID())
	if s == nil {
		reply(event, "Not playing anything.")
	}
	return s
}
