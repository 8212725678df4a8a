package sys

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

// --- Globals & Styles ---

var (
	infoColor  = color.New()
	warnColor  = color.New(color.FgYellow)
	errorColor = color.New(color.FgRed)
	fatalColor = color.New(color.FgRed, color.Bold)
	debugColor = color.New(color.FgHiBlack)

	databaseColor = color.New()
	voiceColor    = color.New(color.FgMagenta)
	downloadColor = color.New(color.FgBlue)
	autoplayColor = color.New(color.FgCyan)
	playlistColor = color.New(color.FgGreen)
	cacheColor    = color.New(color.FgHiBlue)
	presenceColor = color.New(color.FgHiMagenta)

	DefaultTimeFormat = "15:04:05"
	IsSilent          = false
	LogToFile         = false
	Logger            *slog.Logger

	logFile *os.File
	logMu   sync.Mutex
)

func init() {
	InitLogger(false, false)
}

// InitLogger installs the colored handler as the slog default.
func InitLogger(silent bool, saveToFile bool) {
	logMu.Lock()
	defer logMu.Unlock()

	IsSilent = silent
	LogToFile = saveToFile
	level := slog.LevelInfo
	if strings.ToLower(os.Getenv("DEBUG")) == "true" {
		level = slog.LevelDebug
	}

	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}

	var writer io.Writer = os.Stdout
	if LogToFile {
		logName := GetProjectName() + ".log"
		if exePath, err := os.Executable(); err == nil {
			logName = filepath.Base(exePath) + ".log"
		}

		f, err := os.OpenFile(logName, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open %s: %v\n", logName, err)
		} else {
			logFile = f
			writer = io.MultiWriter(os.Stdout, NewStripANSIWriter(f))
		}
	}

	Logger = slog.New(NewBotLogHandler(writer, &BotLogHandlerOptions{
		Silent: IsSilent,
		Level:  level,
	}))
	slog.SetDefault(Logger)
}

func SetSilentMode(silent bool) {
	InitLogger(silent, LogToFile)
}

// --- Public Logging API ---

func LogInfo(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...))
}

func LogWarn(format string, v ...any) {
	slog.Warn(fmt.Sprintf(format, v...))
}

func LogError(format string, v ...any) {
	slog.Error(fmt.Sprintf(format, v...))
}

// LogFatal logs and panics so deferred cleanup in main still runs.
func LogFatal(format string, v ...any) {
	msg := fmt.Sprintf(format, v...)
	slog.Log(context.Background(), slog.LevelError+4, msg)
	panic(msg)
}

func LogDebug(format string, v ...any) {
	slog.Debug(fmt.Sprintf(format, v...))
}

// Component Loggers

func LogDatabase(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), slog.String("component", "database"))
}

func LogVoice(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), slog.String("component", "voice"))
}

func LogDownload(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), slog.String("component", "download"))
}

func LogAutoplay(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), slog.String("component", "autoplay"))
}

func LogPlaylist(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), slog.String("component", "playlist"))
}

func LogCache(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), slog.String("component", "cache"))
}

func LogPresence(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), slog.String("component", "presence"))
}

// --- Log Handler Implementation ---

type BotLogHandlerOptions struct {
	Silent bool
	Level  slog.Leveler
}

type BotLogHandler struct {
	w    io.Writer
	opts *BotLogHandlerOptions
	mu   *sync.Mutex
}

func NewBotLogHandler(w io.Writer, opts *BotLogHandlerOptions) *BotLogHandler {
	if opts == nil {
		opts = &BotLogHandlerOptions{Level: slog.LevelInfo}
	}
	return &BotLogHandler{
		w:    w,
		opts: opts,
		mu:   &sync.Mutex{},
	}
}

func (h *BotLogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if h.opts.Silent {
		return false
	}
	return level >= h.opts.Level.Level()
}

func (h *BotLogHandler) Handle(ctx context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.opts.Silent {
		return nil
	}

	var levelStr string
	var levelColor *color.Color

	switch {
	case r.Level >= slog.LevelError+4:
		levelStr, levelColor = "FATAL", fatalColor
	case r.Level >= slog.LevelError:
		levelStr, levelColor = "ERROR", errorColor
	case r.Level >= slog.LevelWarn:
		levelStr, levelColor = "WARN", warnColor
	case r.Level >= slog.LevelInfo:
		levelStr, levelColor = "INFO", infoColor
	default:
		levelStr, levelColor = "DEBUG", debugColor
	}

	component := ""
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "component" {
			component = strings.ToUpper(a.Value.String())
			return false
		}
		return true
	})

	fmt.Fprintf(h.w, "%s", time.Now().Format(DefaultTimeFormat))

	if component != "" {
		if levelStr != "INFO" {
			fmt.Fprintf(h.w, " %s", levelColor.Sprintf("[%s]", levelStr))
		}
		fmt.Fprintf(h.w, " %s\n", getComponentColor(component).Sprintf("[%s] %s", component, r.Message))
		return nil
	}

	displayMsg := fmt.Sprintf("[%s] %s", levelStr, r.Message)
	if levelStr == "INFO" && strings.HasPrefix(r.Message, "[") {
		if idx := strings.Index(r.Message, "]"); idx > 0 && idx < 20 {
			displayMsg = r.Message
		}
	}
	fmt.Fprintf(h.w, " %s\n", levelColor.Sprint(displayMsg))
	return nil
}

func (h *BotLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler { return h }
func (h *BotLogHandler) WithGroup(name string) slog.Handler       { return h }

func getComponentColor(name string) *color.Color {
	switch name {
	case "DATABASE":
		return databaseColor
	case "VOICE":
		return voiceColor
	case "DOWNLOAD":
		return downloadColor
	case "AUTOPLAY":
		return autoplayColor
	case "PLAYLIST":
		return playlistColor
	case "CACHE":
		return cacheColor
	case "PRESENCE":
		return presenceColor
	default:
		return color.New(color.FgCyan)
	}
}

// --- ANSI Stripper ---

type StripANSIWriter struct {
	w  io.Writer
	re *regexp.Regexp
}

func NewStripANSIWriter(w io.Writer) *StripANSIWriter {
	return &StripANSIWriter{
		w:  w,
		re: regexp.MustCompile(`\x1b\[[0-9;]*m`),
	}
}

func (s *StripANSIWriter) Write(p []byte) (n int, err error) {
	_, err = s.w.Write(s.re.ReplaceAll(p, nil))
	return len(p), err
}

// --- Message Constants ---

const (
	// --- Lifecycle ---
	MsgBotStarting        = "Starting %s..."
	MsgBotReady           = "Logged in as %s (%s) | PID %d | ready in %dms"
	MsgBotShutdown        = "%s shut down cleanly."
	MsgBotPIDLockFail     = "Failed to lock PID file: %v"
	MsgBotKillingOld      = "Killing running instance... (PID: %d)"
	MsgBotOldTerminated   = "Old instance terminated."
	MsgBotOldStubborn     = "Old process %d is stubborn. Sending SIGKILL..."
	MsgConfigMissingToken = "DISCORD_TOKEN is not set"
	MsgConfigFailedToLoad = "failed to load config: %w"
	MsgGenericError       = "%v"

	// --- Loader ---
	MsgLoaderPanicRecovered = "Recovered from panic: %v"
	MsgLoaderSyncCommands   = "Syncing commands (%s)..."
	MsgLoaderUpToDate       = "Commands are up to date. (Hash: %s)"
	MsgLoaderRegistered     = "Registered command: %s"
	MsgLoaderRegisterFail   = "Failed to register commands: %v"
	MsgLoaderSkipRegister   = "Skipping command registration as requested."
	MsgLoaderRespondFail    = "Failed to respond: %v"

	// --- Database ---
	MsgDBOpened        = "Database ready at %s"
	MsgDBPragmaFail    = "failed to apply pragma %q: %w"
	MsgDBSchemaFail    = "failed to create schema: %w"
	MsgDBTrackSaveFail = "failed to save track %s: %w"

	// --- Voice ---
	MsgVoiceSessionCreated = "Session created for guild %s"
	MsgVoiceSessionReset   = "Session reset for guild %s (self: %t)"
	MsgVoiceNowPlaying     = "Now playing in guild %s: %s"
	MsgVoiceQueueEnded     = "Queue ended in guild %s"
	MsgVoiceTrackFailed    = "Playback failed in guild %s for %s (%d/%d): %v"
	MsgVoiceTrackEvicted   = "Evicting %s in guild %s after %d failures"
	MsgVoiceIdleTeardown   = "Idle timeout reached in guild %s"
	MsgVoiceFallback       = "Fallback timer advanced guild %s past %s"
	MsgVoiceConnectFail    = "Failed to connect to voice in guild %s: %v"
	MsgVoiceNotifyFail     = "Notification failed in guild %s: %v"
	MsgVoiceConnected      = "Joined channel %s in guild %s"
	MsgVoiceTranscodeFail  = "Transcoder failed in guild %s for %s: %v"
	MsgVoiceStatusFail     = "Failed to update status for %s: %v (retrying...)"
	MsgVoiceKicked         = "Bot disconnected by external event in guild %s"
	MsgVoiceMuted          = "Server mute changed in guild %s (muted: %t)"
	MsgVoiceSleepTimer     = "Sleep timer ended the session in guild %s"
	MsgVoiceAlone          = "Left guild %s, no listeners remained"
	MsgVoiceSinkPanic      = "Recovered from panic in SetOpusFrameProvider: %v"
	MsgVoiceLookupFail     = "Lookup failed for %q: %v"
	MsgVoicePlayFail       = "Playback error: %v"
	MsgVoiceAdvanceStuck   = "Advance gave up in guild %s with %d track(s) still queued"
	MsgVoiceSleepParseInit = "Failed to initialize time parser: %v"

	// --- Download ---
	MsgDownloadStarted    = "Fetching %s for guild %s (%d/%d active)"
	MsgDownloadFinished   = "Cached %s for guild %s"
	MsgDownloadFailed     = "Fetch failed for %s in guild %s: %v"
	MsgDownloadStale      = "Discarding stale fetch result for %s in guild %s"
	MsgDownloadFallback   = "Fetch of %s failed, trying %s: %v"
	MsgDownloadMP3        = "Prepared mp3 %s (%s)"
	MsgDownloadCoverFail  = "Cover art download failed for %s: %v"
	MsgDownloadCmdFail    = "Download failed for %s: %v"
	MsgDownloadUploadFail = "Upload failed for %s: %v"

	// --- Cache ---
	MsgCacheIndexed   = "Indexed %s as %q"
	MsgCacheIndexFail = "Failed to index %s: %v"
	MsgCacheHit       = "Cache hit for %q: %s"
	MsgCacheOrphan    = "Orphaned file %s"
	MsgCacheMissing   = "Index row %s points to missing file %s"
	MsgCacheRemoved   = "Removed %s"
	MsgCacheReport    = "Cache check: %d indexed, %d files, %d orphaned, %d missing, %d partial"
	MsgCacheFixHint   = "Run again with -fix-cache to clean up."

	// --- Presence ---
	MsgPresenceRotated = "Presence set to %q (next in %v)"
	MsgPresenceFail    = "Failed to update presence: %v"

	// --- Search ---
	MsgSearchFailed = "Search %s failed for %q: %v"

	// --- Autoplay ---
	MsgAutoplayProviderFail = "Provider %s unavailable: %v"
	MsgAutoplayAdded        = "Added %d recommendation(s) to guild %s"
	MsgAutoplayNone         = "No recommendations for %s"
	MsgAutoplayDropped      = "Dropping %q: %v"

	// --- Playlist ---
	MsgPlaylistStarted     = "Importing %d track(s) into guild %s"
	MsgPlaylistAborted     = "Import aborted for guild %s after %d track(s)"
	MsgPlaylistDone        = "Imported %d track(s) into guild %s"
	MsgPlaylistExtractFail = "Extraction failed for %s: %v"
	MsgPlaylistStopped     = "Import into guild %s stopped after %d: %v"
)
