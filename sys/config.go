package sys

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// VoiceConfig holds the playback tuning knobs (VOICE_* variables).
type VoiceConfig struct {
	IdleTimeout     time.Duration `env:"IDLE_TIMEOUT" envDefault:"5m"`
	AutoplayTarget  int           `env:"AUTOPLAY_TARGET" envDefault:"2"`
	ImportDelay     time.Duration `env:"IMPORT_DELAY" envDefault:"40s"`
	FallbackTimeout time.Duration `env:"FALLBACK_TIMEOUT" envDefault:"5s"`
	MaxFailures     int           `env:"MAX_FAILURES" envDefault:"3"`
	YoutubePrefix   string        `env:"YT_PREFIX" envDefault:"[YT]"`
	YTMusicPrefix   string        `env:"YTM_PREFIX" envDefault:"[YTM]"`
}

type Config struct {
	Token               string      `env:"DISCORD_TOKEN"`
	GuildID             string      `env:"GUILD_ID"`
	DatabasePath        string      `env:"DATABASE_PATH"`
	Silent              bool        `env:"SILENT"`
	AudioCacheDir       string      `env:"AUDIO_CACHE_DIR" envDefault:"music_cache_opus"`
	YoutubeProxy        string      `env:"YOUTUBE_PROXY"`
	DownloadConcurrency int         `env:"DOWNLOAD_CONCURRENCY" envDefault:"4"`
	Presence            bool        `env:"PRESENCE" envDefault:"true"`
	Voice               VoiceConfig `envPrefix:"VOICE_"`
}

var GlobalConfig *Config

// LoadConfig reads .env (if present) and the process environment.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf(MsgConfigFailedToLoad, err)
	}

	if cfg.DatabasePath == "" {
		folder := "."
		if info, err := os.Stat("data"); err == nil && info.IsDir() {
			folder = "./data"
		}
		cfg.DatabasePath = filepath.Join(folder, GetProjectName()+".db")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Silent {
		SetSilentMode(true)
	}

	GlobalConfig = &cfg
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Token == "" {
		return errors.New(MsgConfigMissingToken)
	}
	if c.GuildID != "" && (len(c.GuildID) < 17 || len(c.GuildID) > 20) {
		return fmt.Errorf("invalid GUILD_ID: must be a valid Snowflake")
	}
	if c.DownloadConcurrency < 1 {
		return fmt.Errorf("invalid DOWNLOAD_CONCURRENCY: %d", c.DownloadConcurrency)
	}
	if c.Voice.MaxFailures < 1 {
		return fmt.Errorf("invalid VOICE_MAX_FAILURES: %d", c.Voice.MaxFailures)
	}
	return nil
}

func GetProjectName() string {
	exePath, err := os.Executable()
	projectName := "bot"
	if err == nil {
		projectName = strings.TrimSuffix(filepath.Base(exePath), ".exe")

		if projectName == "main" || strings.HasPrefix(projectName, "go_build_") {
			if modData, err := os.ReadFile("go.mod"); err == nil {
				lines := strings.Split(string(modData), "\n")
				if len(lines) > 0 && strings.HasPrefix(lines[0], "module ") {
					parts := strings.Split(lines[0], "/")
					projectName = strings.TrimSpace(parts[len(parts)-1])
				}
			}
		}
	}
	return projectName
}
