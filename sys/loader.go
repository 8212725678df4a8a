package sys

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/disgoorg/disgo"
	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/cache"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/disgo/gateway"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/disgo/voice"
	"github.com/disgoorg/godave/golibdave"
	"github.com/disgoorg/snowflake/v2"
)

// SafeGo runs f in a new goroutine and logs any panic instead of crashing.
func SafeGo(f func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				LogError(MsgLoaderPanicRecovered, r)
				fmt.Printf("%s\n", debug.Stack())
			}
		}()
		f()
	}()
}

// --- Global State & Setup ---

var AppContext = context.Background()
var StartupTime = time.Now()

var (
	handlerMu                sync.RWMutex
	commands                 = []discord.ApplicationCommandCreate{}
	commandHandlers          = map[string]func(event *events.ApplicationCommandInteractionCreate){}
	autocompleteHandlers     = map[string]func(event *events.AutocompleteInteractionCreate){}
	voiceStateUpdateHandlers []func(event *events.GuildVoiceStateUpdate)
	onClientReadyCallbacks   []func(ctx context.Context, client *bot.Client)
	shutdownHooks            []func(ctx context.Context)
)

func SetAppContext(ctx context.Context) {
	AppContext = ctx
}

// CreateClient builds the disgo client with voice (DAVE) support and the handler fan-out.
func CreateClient(ctx context.Context, cfg *Config) (*bot.Client, error) {
	return disgo.New(cfg.Token,
		bot.WithGatewayConfigOpts(
			gateway.WithIntents(
				gateway.IntentGuilds,
				gateway.IntentGuildMembers,
				gateway.IntentGuildVoiceStates,
			),
			gateway.WithPresenceOpts(
				gateway.WithPlayingActivity("/voice play"),
				gateway.WithOnlineStatus(discord.OnlineStatusOnline),
			),
		),
		bot.WithCacheConfigOpts(
			cache.WithCaches(cache.FlagGuilds, cache.FlagMembers, cache.FlagChannels, cache.FlagVoiceStates),
		),
		bot.WithVoiceManagerConfigOpts(
			voice.WithDaveSessionCreateFunc(golibdave.NewSession),
		),
		bot.WithEventListenerFunc(onApplicationCommandInteraction),
		bot.WithEventListenerFunc(onAutocompleteInteraction),
		bot.WithEventListenerFunc(onVoiceStateUpdate),
		bot.WithEventListenerFunc(onReady),
		bot.WithLogger(slog.Default()),
		bot.WithRestClientConfigOpts(
			rest.WithHTTPClient(&http.Client{
				Timeout: 60 * time.Second,
				Transport: &http.Transport{
					MaxIdleConns:        100,
					MaxIdleConnsPerHost: 50,
					IdleConnTimeout:     90 * time.Second,
				},
			}),
		),
	)
}

// --- Command & Handler Registration ---

func RegisterCommand(cmd discord.SlashCommandCreate, handler func(event *events.ApplicationCommandInteractionCreate)) {
	handlerMu.Lock()
	defer handlerMu.Unlock()
	commands = append(commands, cmd)
	commandHandlers[cmd.CommandName()] = handler
}

func RegisterAutocompleteHandler(cmdName string, handler func(event *events.AutocompleteInteractionCreate)) {
	handlerMu.Lock()
	defer handlerMu.Unlock()
	autocompleteHandlers[cmdName] = handler
}

func RegisterVoiceStateUpdateHandler(handler func(event *events.GuildVoiceStateUpdate)) {
	handlerMu.Lock()
	defer handlerMu.Unlock()
	voiceStateUpdateHandlers = append(voiceStateUpdateHandlers, handler)
}

func OnClientReady(cb func(ctx context.Context, client *bot.Client)) {
	handlerMu.Lock()
	defer handlerMu.Unlock()
	onClientReadyCallbacks = append(onClientReadyCallbacks, cb)
}

// OnShutdown registers cleanup that runs, in reverse order, from RunShutdownHooks.
func OnShutdown(fn func(ctx context.Context)) {
	handlerMu.Lock()
	defer handlerMu.Unlock()
	shutdownHooks = append(shutdownHooks, fn)
}

func RunShutdownHooks(ctx context.Context) {
	handlerMu.RLock()
	hooks := append([]func(ctx context.Context){}, shutdownHooks...)
	handlerMu.RUnlock()
	for i := len(hooks) - 1; i >= 0; i-- {
		hooks[i](ctx)
	}
}

// --- Command Syncing ---

func calculateCommandHash(cmds []discord.ApplicationCommandCreate) string {
	data, err := json.Marshal(cmds)
	if err != nil {
		return ""
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// RegisterCommands pushes the command table to Discord unless it is unchanged since the last run.
func RegisterCommands(client *bot.Client, guildIDStr string) error {
	ctx := context.Background()

	mode := "guild"
	if guildIDStr == "" {
		mode = "global"
	}
	LogInfo(MsgLoaderSyncCommands, strings.ToUpper(mode))

	handlerMu.RLock()
	cmds := append([]discord.ApplicationCommandCreate{}, commands...)
	handlerMu.RUnlock()

	hash := calculateCommandHash(cmds)
	lastHash, _ := GetBotConfig(ctx, "last_cmd_hash")
	lastMode, _ := GetBotConfig(ctx, "last_reg_mode")
	lastGuild, _ := GetBotConfig(ctx, "last_guild_id")
	if hash != "" && hash == lastHash && mode == lastMode && guildIDStr == lastGuild {
		LogInfo(MsgLoaderUpToDate, hash[:8])
		return nil
	}

	var created []discord.ApplicationCommand
	var err error
	if mode == "global" {
		created, err = client.Rest.SetGlobalCommands(client.ApplicationID, cmds)
	} else {
		guildID, perr := snowflake.Parse(guildIDStr)
		if perr != nil {
			return fmt.Errorf("invalid GUILD_ID: %w", perr)
		}
		created, err = client.Rest.SetGuildCommands(client.ApplicationID, guildID, cmds)
	}
	if err != nil {
		return err
	}
	for _, cmd := range created {
		LogInfo(MsgLoaderRegistered, cmd.Name())
	}

	_ = SetBotConfig(ctx, "last_reg_mode", mode)
	_ = SetBotConfig(ctx, "last_guild_id", guildIDStr)
	if hash != "" {
		_ = SetBotConfig(ctx, "last_cmd_hash", hash)
	}
	return nil
}

// --- Event Handlers ---

func onReady(event *events.Ready) {
	client := event.Client()
	LogInfo(MsgBotReady, event.User.Username, event.User.ID.String(), os.Getpid(), time.Since(StartupTime).Milliseconds())

	handlerMu.RLock()
	cbs := append([]func(ctx context.Context, client *bot.Client){}, onClientReadyCallbacks...)
	handlerMu.RUnlock()
	for _, cb := range cbs {
		cb(AppContext, client)
	}
}

func onApplicationCommandInteraction(event *events.ApplicationCommandInteractionCreate) {
	handlerMu.RLock()
	h, ok := commandHandlers[event.Data.CommandName()]
	handlerMu.RUnlock()
	if ok {
		SafeGo(func() { h(event) })
	}
}

func onAutocompleteInteraction(event *events.AutocompleteInteractionCreate) {
	handlerMu.RLock()
	h, ok := autocompleteHandlers[event.Data.CommandName]
	handlerMu.RUnlock()
	if ok {
		SafeGo(func() { h(event) })
	}
}

func onVoiceStateUpdate(event *events.GuildVoiceStateUpdate) {
	handlerMu.RLock()
	hs := append([]func(event *events.GuildVoiceStateUpdate){}, voiceStateUpdateHandlers...)
	handlerMu.RUnlock()
	for _, h := range hs {
		SafeGo(func() { h(event) })
	}
}
