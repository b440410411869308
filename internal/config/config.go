package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	DownloadDir       string        `envconfig:"DOWNLOAD_DIR" default:"downloads"`
	KeepDownloadedFor time.Duration `envconfig:"KEEP_DOWNLOADED_FOR" default:"24h"`
	CleanupInterval   time.Duration `envconfig:"CLEANUP_INTERVAL" default:"10m"`
	LogLevel          string        `envconfig:"LOG_LEVEL" default:"INFO"`
	DiscordWebhookURL string        `envconfig:"DISCORD_WEBHOOK_URL"`
	DBPath            string        `envconfig:"DB_PATH" default:"downloads.db"`
	MaxParallel       int           `envconfig:"MAX_PARALLEL" default:"3"`
	CORSOrigins       []string      `envconfig:"CORS_ORIGINS" default:"*"`

	// Nested structs are prefixed with their field name: YTDLP_*, REDIS_*, TELEMETRY_*, WEB_*.
	YtDlp struct {
		Path           string        `split_words:"true" default:"yt-dlp"`
		FfmpegLocation string        `split_words:"true"`
		Retries        int           `split_words:"true" default:"5"`
		SocketTimeout  time.Duration `split_words:"true" default:"30s"`
		OutputTemplate string        `split_words:"true" default:"%(title)s (%(id)s).%(ext)s"`
	}

	Redis struct {
		Addr     string `split_words:"true"`
		Password string `split_words:"true"`
	}

	Telemetry struct {
		Enabled      bool   `split_words:"true" default:"true"`
		ServiceName  string `split_words:"true" default:"media_downloader"`
		OtlpEndpoint string `split_words:"true"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:8000"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"0s"`
		IdleTimeout     time.Duration `split_words:"true" default:"60s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.DownloadDir) == "" {
		return fmt.Errorf("DOWNLOAD_DIR must not be empty")
	}

	if c.MaxParallel < 1 {
		return fmt.Errorf("MAX_PARALLEL must be at least 1, got %d", c.MaxParallel)
	}

	if c.YtDlp.Retries < 0 {
		return fmt.Errorf("YTDLP_RETRIES must not be negative, got %d", c.YtDlp.Retries)
	}

	if c.YtDlp.SocketTimeout <= 0 {
		return fmt.Errorf("YTDLP_SOCKET_TIMEOUT must be positive, got %s", c.YtDlp.SocketTimeout)
	}

	// artifacts are served by base name, so every file must land directly in DOWNLOAD_DIR
	if strings.TrimSpace(c.YtDlp.OutputTemplate) == "" || strings.ContainsAny(c.YtDlp.OutputTemplate, `/\`) {
		return fmt.Errorf("YTDLP_OUTPUT_TEMPLATE must name a file inside DOWNLOAD_DIR without path separators, got %q", c.YtDlp.OutputTemplate)
	}

	if c.CleanupInterval <= 0 {
		return fmt.Errorf("CLEANUP_INTERVAL must be positive, got %s", c.CleanupInterval)
	}

	return nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
