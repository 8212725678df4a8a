package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/leeineian/morphbot/home"
	"github.com/leeineian/morphbot/media"
	"github.com/leeineian/morphbot/proc"
	"github.com/leeineian/morphbot/sys"
)

func main() {
	// LogFatal panics so deferred cleanup still runs.
	defer func() {
		if r := recover(); r != nil {
			if msg, ok := r.(string); ok {
				fmt.Fprintf(os.Stderr, "\n[FATAL] %s\n", msg)
				os.Exit(1)
			}
			panic(r)
		}
	}()

	silent := flag.Bool("silent", false, "Disable all log output")
	skipReg := flag.Bool("skip-reg", false, "Skip command registration")
	validateCache := flag.Bool("validate-cache", false, "Compare the audio cache with its index and exit")
	fixCache := flag.Bool("fix-cache", false, "With -validate-cache, delete orphaned files and stale rows")
	flag.Parse()

	sys.InitLogger(*silent, true)

	cfg, err := sys.LoadConfig()
	if err != nil {
		sys.LogFatal(sys.MsgGenericError, err)
	}

	if *validateCache {
		if err := checkCache(cfg, *fixCache); err != nil {
			sys.LogFatal(sys.MsgGenericError, err)
		}
		return
	}

	sys.LogInfo(sys.MsgBotStarting, sys.GetProjectName())

	release, err := acquirePIDLock(".bot.pid")
	if err != nil {
		sys.LogFatal(sys.MsgBotPIDLockFail, err)
	}
	defer release()

	if err := run(cfg, *silent, *skipReg); err != nil {
		sys.LogFatal(sys.MsgGenericError, err)
	}
}

func run(cfg *sys.Config, silent bool, skipReg bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()

	sys.SetAppContext(ctx)

	if err := sys.InitDatabase(ctx, cfg.DatabasePath); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer sys.CloseDatabase()

	client, err := sys.CreateClient(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create Discord client: %w", err)
	}
	defer client.Close(context.Background())

	cache, err := media.NewFileCache(cfg.AudioCacheDir)
	if err != nil {
		return fmt.Errorf("failed to prepare audio cache: %w", err)
	}
	ytdlp := media.NewYTDLP(cfg.YoutubeProxy)

	vs := proc.NewVoiceSystem(proc.Options{
		MaxConcurrency:  cfg.DownloadConcurrency,
		IdleTimeout:     cfg.Voice.IdleTimeout,
		AutoplayTarget:  cfg.Voice.AutoplayTarget,
		ImportDelay:     cfg.Voice.ImportDelay,
		FallbackTimeout: cfg.Voice.FallbackTimeout,
		MaxFailures:     cfg.Voice.MaxFailures,
	}, proc.Deps{
		Fetcher: media.NewFallbackFetcher().
			Add("yt-dlp", ytdlp).
			Add("youtube", media.NewYouTubeFetcher(cfg.YoutubeProxy)),
		Cache:    cache,
		Metadata: media.NewMetadata(ytdlp),
		Providers: []proc.RecommendationProvider{
			media.NewRadioProvider(ytdlp),
			media.NewMixProvider(ytdlp),
			media.SearchProvider{},
			media.ArtistProvider{},
		},
		Resolver: media.NewSearchResolver(),
		Sinks:    media.NewSinkFactory(client),
		Notifier: media.NewChatNotifier(client),
	})
	sys.OnShutdown(vs.Shutdown)

	if cfg.Presence {
		var once sync.Once
		sys.OnClientReady(func(ctx context.Context, c *bot.Client) {
			once.Do(func() { sys.SafeGo(func() { media.NewPresence(c, vs).Run(ctx) }) })
		})
	}

	home.Setup(&home.Services{
		Voice:      vs,
		Catalog:    media.NewCatalog(cache, ytdlp),
		Searcher:   media.NewSearcher(cfg.Voice.YoutubePrefix, cfg.Voice.YTMusicPrefix),
		Downloader: media.NewDownloader(ytdlp),
	})

	if !skipReg {
		if err := sys.RegisterCommands(client, cfg.GuildID); err != nil {
			sys.LogError(sys.MsgLoaderRegisterFail, err)
		}
	} else {
		sys.LogInfo(sys.MsgLoaderSkipRegister)
	}

	if err := client.OpenGateway(ctx); err != nil {
		return fmt.Errorf("failed to open gateway: %w", err)
	}

	<-ctx.Done()
	if !silent {
		fmt.Println()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	sys.RunShutdownHooks(shutdownCtx)

	if botUser, ok := client.Caches.SelfUser(); ok {
		sys.LogInfo(sys.MsgBotShutdown, botUser.Username)
	} else {
		sys.LogInfo(sys.MsgBotShutdown, sys.GetProjectName())
	}
	return nil
}

func checkCache(cfg *sys.Config, fix bool) error {
	ctx := context.Background()
	if err := sys.InitDatabase(ctx, cfg.DatabasePath); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer sys.CloseDatabase()

	cache, err := media.NewFileCache(cfg.AudioCacheDir)
	if err != nil {
		return err
	}
	rep, err := cache.Validate(ctx, fix)
	if err != nil {
		return err
	}
	if !fix && len(rep.Orphaned)+len(rep.Missing)+len(rep.Partial) > 0 {
		sys.LogInfo(sys.MsgCacheFixHint)
	}
	return nil
}
