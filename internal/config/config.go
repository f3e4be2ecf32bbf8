// Package config loads the reader configuration from flags, environment
// variables, a config file and defaults, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	domainerrors "github.com/listenupapp/listenup-reader/internal/errors"
	"github.com/listenupapp/listenup-reader/internal/tts"
	"github.com/listenupapp/listenup-reader/internal/validation"
)

// EnvPrefix prefixes every environment variable, e.g. LISTENUP_READER_SERVER_PORT.
const EnvPrefix = "LISTENUP_READER"

// Config holds the application configuration.
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Logger      LoggerConfig      `mapstructure:"logger"`
	Data        DataConfig        `mapstructure:"data"`
	Server      ServerConfig      `mapstructure:"server"`
	Reader      ReaderConfig      `mapstructure:"reader"`
	Source      SourceConfig      `mapstructure:"source"`
	Translation TranslationConfig `mapstructure:"translation"`
	TTS         TTSConfig         `mapstructure:"tts"`
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Environment string `mapstructure:"environment" validate:"oneof=development staging production"`
}

// LoggerConfig holds logging configuration.
type LoggerConfig struct {
	Level     string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format    string `mapstructure:"format" validate:"oneof=auto json text pretty"`
	AddSource bool   `mapstructure:"add_source"`
}

// DataConfig locates the on-disk state.
type DataConfig struct {
	Dir string `mapstructure:"dir"`
	// ImportDir is watched for EPUB files to add to the library. Empty
	// disables the watcher.
	ImportDir string `mapstructure:"import_dir"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port" validate:"gte=1,lte=65535"`
	// WriteTimeout of zero keeps event streams open indefinitely.
	ReadTimeout       time.Duration `mapstructure:"read_timeout" validate:"gte=0"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout" validate:"gte=0"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout" validate:"gte=0"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
	AllowedOrigins    []string      `mapstructure:"allowed_origins"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" validate:"gte=0"`
	Burst             int           `mapstructure:"burst" validate:"gte=0"`
}

// ReaderConfig tunes the reader sessions.
type ReaderConfig struct {
	HalfBuffer         int `mapstructure:"half_buffer" validate:"gte=1,lte=50"`
	TranslationWorkers int `mapstructure:"translation_workers" validate:"gte=1,lte=32"`
	MaxSessions        int `mapstructure:"max_sessions" validate:"gte=0"`
}

// SourceConfig configures chapter fetching.
type SourceConfig struct {
	UserAgent         string        `mapstructure:"user_agent"`
	Timeout           time.Duration `mapstructure:"timeout" validate:"gt=0"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" validate:"gte=0"`
	Burst             int           `mapstructure:"burst" validate:"gte=0"`
	CacheEnabled      bool          `mapstructure:"cache_enabled"`
	CacheTTL          time.Duration `mapstructure:"cache_ttl" validate:"gte=0"`
}

// TranslationConfig configures the translation backend. An empty Endpoint
// disables translation.
type TranslationConfig struct {
	Endpoint          string        `mapstructure:"endpoint" validate:"omitempty,url"`
	APIKey            string        `mapstructure:"api_key"`
	Enabled           bool          `mapstructure:"enabled"`
	Source            string        `mapstructure:"source" validate:"omitempty,langtag"`
	Target            string        `mapstructure:"target" validate:"omitempty,langtag"`
	Timeout           time.Duration `mapstructure:"timeout" validate:"gt=0"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" validate:"gte=0"`
}

// TTSConfig configures the synthesizer command.
type TTSConfig struct {
	Command string   `mapstructure:"command" validate:"required"`
	Args    []string `mapstructure:"args"`
	Voice   string   `mapstructure:"voice"`
	Speed   float64  `mapstructure:"speed" validate:"gt=0,lte=4"`
	Pitch   float64  `mapstructure:"pitch" validate:"gt=0,lte=2"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabasePath is the SQLite library database.
func (d DataConfig) DatabasePath() string { return filepath.Join(d.Dir, "library.db") }

// CachePath is the chapter body cache directory.
func (d DataConfig) CachePath() string { return filepath.Join(d.Dir, "cache") }

// TranslationCachePath is the translation cache database.
func (d DataConfig) TranslationCachePath() string { return filepath.Join(d.Dir, "translations.db") }

// LockPath guards the data directory against a second server.
func (d DataConfig) LockPath() string { return filepath.Join(d.Dir, "reader.lock") }

// Settings returns the initial speech settings.
func (t TTSConfig) Settings() tts.Settings {
	return tts.Settings{Voice: t.Voice, Speed: t.Speed, Pitch: t.Pitch}
}

// SetDefaults registers every key with its default so that environment
// variables are picked up for all of them.
func SetDefaults(v *viper.Viper) {
	speech := tts.DefaultSettings()

	v.SetDefault("app.environment", "development")
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "auto")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("data.dir", "")
	v.SetDefault("data.import_dir", "")

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8484)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", time.Duration(0))
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.requests_per_second", 20.0)
	v.SetDefault("server.burst", 40)

	v.SetDefault("reader.half_buffer", 2)
	v.SetDefault("reader.translation_workers", 4)
	v.SetDefault("reader.max_sessions", 8)

	v.SetDefault("source.user_agent", "")
	v.SetDefault("source.timeout", 30*time.Second)
	v.SetDefault("source.requests_per_second", 1.0)
	v.SetDefault("source.burst", 2)
	v.SetDefault("source.cache_enabled", true)
	v.SetDefault("source.cache_ttl", 7*24*time.Hour)

	v.SetDefault("translation.endpoint", "")
	v.SetDefault("translation.api_key", "")
	v.SetDefault("translation.enabled", false)
	v.SetDefault("translation.source", "")
	v.SetDefault("translation.target", "")
	v.SetDefault("translation.timeout", 30*time.Second)
	v.SetDefault("translation.requests_per_second", 5.0)

	v.SetDefault("tts.command", "espeak-ng")
	v.SetDefault("tts.args", tts.DefaultProcessArgs())
	v.SetDefault("tts.voice", speech.Voice)
	v.SetDefault("tts.speed", speech.Speed)
	v.SetDefault("tts.pitch", speech.Pitch)
}

// RegisterFlags adds the command-line overrides to fs and binds them to v.
func RegisterFlags(v *viper.Viper, fs *pflag.FlagSet) {
	fs.String("env", "", "Environment (development, staging, production)")
	fs.String("log-level", "", "Log level (debug, info, warn, error)")
	fs.String("log-format", "", "Log format (auto, json, text, pretty)")
	fs.String("data-dir", "", "Directory for the library database and caches")
	fs.String("import-dir", "", "Directory watched for EPUB files to import")
	fs.String("host", "", "HTTP listen host")
	fs.Int("port", 0, "HTTP listen port")
	fs.String("translation-endpoint", "", "LibreTranslate-compatible endpoint")
	fs.String("tts-command", "", "Speech synthesizer command")

	bind := map[string]string{
		"env":                  "app.environment",
		"log-level":            "logger.level",
		"log-format":           "logger.format",
		"data-dir":             "data.dir",
		"import-dir":           "data.import_dir",
		"host":                 "server.host",
		"port":                 "server.port",
		"translation-endpoint": "translation.endpoint",
		"tts-command":          "tts.command",
	}
	for flag, key := range bind {
		// Lookup cannot fail for a flag defined above.
		_ = v.BindPFlag(key, fs.Lookup(flag))
	}
}

// Load reads the configuration. configFile may be empty, in which case
// config.yaml is looked up in the working directory and the user config
// directory; a missing file is not an error.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "listenup-reader"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.Logger.Level = strings.ToLower(cfg.Logger.Level)
	if err := cfg.expandDataDir(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks that all config values are present and valid.
func (c *Config) Validate() error {
	if err := validation.New().Validate(c); err != nil {
		return describe(err)
	}

	if c.Data.Dir == "" {
		return errors.New("data directory cannot be empty after expansion")
	}
	if c.Translation.Enabled {
		if c.Translation.Endpoint == "" {
			return errors.New("translation is enabled but no endpoint is configured")
		}
		if c.Translation.Source == "" || c.Translation.Target == "" {
			return errors.New("translation is enabled but the language pair is incomplete")
		}
	}
	return nil
}

// describe flattens validation details into the error text, since config
// errors are read by people rather than clients.
func describe(err error) error {
	var domainErr *domainerrors.Error
	if !errors.As(err, &domainErr) {
		return err
	}
	fields, ok := domainErr.Details.(map[string]string)
	if !ok || len(fields) == 0 {
		return err
	}
	names := slices.Sorted(maps.Keys(fields))
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = name + " " + fields[name]
	}
	return fmt.Errorf("%w: %s", err, strings.Join(parts, "; "))
}

// EnsureDirectories creates the data directory and the import directory
// when one is configured.
func (c *Config) EnsureDirectories() error {
	if err := os.MkdirAll(c.Data.Dir, 0o750); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	if c.Data.ImportDir != "" {
		if err := os.MkdirAll(c.Data.ImportDir, 0o750); err != nil {
			return fmt.Errorf("create import directory: %w", err)
		}
	}
	return nil
}

func (c *Config) expandDataDir() error {
	def := ""
	if dir, err := os.UserHomeDir(); err == nil {
		def = filepath.Join(dir, ".local", "share", "listenup-reader")
	}
	expanded, err := expandPath(c.Data.Dir, def)
	if err != nil {
		return err
	}
	c.Data.Dir = expanded

	importDir, err := expandPath(c.Data.ImportDir, "")
	if err != nil {
		return err
	}
	c.Data.ImportDir = importDir
	return nil
}

// expandPath expands ~ and makes the path absolute.
// If path is empty, defaultPath is returned unchanged.
func expandPath(path, defaultPath string) (string, error) {
	if path == "" {
		return defaultPath, nil
	}

	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}

	if !filepath.IsAbs(path) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("failed to get absolute path: %w", err)
		}
		path = absPath
	}

	return filepath.Clean(path), nil
}
