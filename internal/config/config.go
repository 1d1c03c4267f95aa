package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/pflag"
)

// Config holds application configuration.
type Config struct {
	Port         int
	Secret       string
	FFmpegPath   string
	TailLines    int
	Retention    time.Duration
	JournalPath  string
	ReplyURL     string
	ReplyTimeout time.Duration
}

// DefaultJournalPath returns the default journal path using XDG_CACHE_HOME.
func DefaultJournalPath() string {
	cacheDir := os.Getenv("XDG_CACHE_HOME")
	if cacheDir == "" {
		home, _ := os.UserHomeDir()
		cacheDir = filepath.Join(home, ".cache")
	}
	return filepath.Join(cacheDir, "streamrelay", "journal.db")
}

// DefaultConfigPath returns the config file path, honouring
// STREAMRELAY_CONFIG and XDG_CONFIG_HOME.
func DefaultConfigPath() string {
	if p := os.Getenv("STREAMRELAY_CONFIG"); p != "" {
		return p
	}
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "streamrelay", "config.toml")
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Port:         8080,
		FFmpegPath:   "ffmpeg",
		TailLines:    20,
		Retention:    10 * time.Minute,
		JournalPath:  DefaultJournalPath(),
		ReplyTimeout: 5 * time.Second,
	}
}

// LoadFile overlays the TOML file at path onto cfg. A missing file is not
// an error.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	var raw fileConfig
	md, err := toml.Decode(string(data), &raw)
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("parse %s: unknown key %q", path, undecoded[0].String())
	}
	return raw.apply(cfg)
}

// fileConfig mirrors Config with durations as strings ("30s", "10m").
type fileConfig struct {
	Port         *int    `toml:"port"`
	Secret       *string `toml:"secret"`
	FFmpegPath   *string `toml:"ffmpeg_path"`
	TailLines    *int    `toml:"tail_lines"`
	Retention    *string `toml:"retention"`
	JournalPath  *string `toml:"journal_path"`
	ReplyURL     *string `toml:"reply_url"`
	ReplyTimeout *string `toml:"reply_timeout"`
}

func (f fileConfig) apply(cfg *Config) error {
	if f.Port != nil {
		cfg.Port = *f.Port
	}
	if f.Secret != nil {
		cfg.Secret = *f.Secret
	}
	if f.FFmpegPath != nil {
		cfg.FFmpegPath = *f.FFmpegPath
	}
	if f.TailLines != nil {
		cfg.TailLines = *f.TailLines
	}
	if f.JournalPath != nil {
		cfg.JournalPath = *f.JournalPath
	}
	if f.ReplyURL != nil {
		cfg.ReplyURL = *f.ReplyURL
	}
	if f.Retention != nil {
		d, err := time.ParseDuration(*f.Retention)
		if err != nil {
			return fmt.Errorf("retention: %w", err)
		}
		cfg.Retention = d
	}
	if f.ReplyTimeout != nil {
		d, err := time.ParseDuration(*f.ReplyTimeout)
		if err != nil {
			return fmt.Errorf("reply_timeout: %w", err)
		}
		cfg.ReplyTimeout = d
	}
	return nil
}

// ApplyEnv overlays STREAMRELAY_* environment variables onto cfg.
func ApplyEnv(cfg *Config) {
	if port := os.Getenv("STREAMRELAY_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Port = p
		}
	}
	if secret := os.Getenv("STREAMRELAY_SECRET"); secret != "" {
		cfg.Secret = secret
	}
	if ffmpeg := os.Getenv("STREAMRELAY_FFMPEG"); ffmpeg != "" {
		cfg.FFmpegPath = ffmpeg
	}
	if journal, ok := os.LookupEnv("STREAMRELAY_JOURNAL"); ok {
		cfg.JournalPath = journal
	}
	if reply := os.Getenv("STREAMRELAY_REPLY_URL"); reply != "" {
		cfg.ReplyURL = reply
	}
	if retention := os.Getenv("STREAMRELAY_RETENTION"); retention != "" {
		if d, err := time.ParseDuration(retention); err == nil {
			cfg.Retention = d
		}
	}
	if tail := os.Getenv("STREAMRELAY_TAIL_LINES"); tail != "" {
		if n, err := strconv.Atoi(tail); err == nil {
			cfg.TailLines = n
		}
	}
	if timeout := os.Getenv("STREAMRELAY_REPLY_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			cfg.ReplyTimeout = d
		}
	}
}

// RegisterFlags binds cfg fields to fs. Flag defaults are the current
// values of cfg, so file and env settings must be applied first.
func RegisterFlags(fs *pflag.FlagSet, cfg *Config) {
	fs.IntVar(&cfg.Port, "port", cfg.Port, "HTTP server port")
	fs.StringVar(&cfg.Secret, "secret", cfg.Secret, "Shared secret for request signatures (empty disables)")
	fs.StringVar(&cfg.FFmpegPath, "ffmpeg", cfg.FFmpegPath, "ffmpeg binary")
	fs.IntVar(&cfg.TailLines, "tail-lines", cfg.TailLines, "Output lines kept for failure reports")
	fs.DurationVar(&cfg.Retention, "retention", cfg.Retention, "How long finished jobs stay queryable")
	fs.StringVar(&cfg.JournalPath, "journal", cfg.JournalPath, "SQLite event journal path (empty disables)")
	fs.StringVar(&cfg.ReplyURL, "reply-url", cfg.ReplyURL, "Webhook receiving lifecycle notifications")
	fs.DurationVar(&cfg.ReplyTimeout, "reply-timeout", cfg.ReplyTimeout, "Timeout for reply webhook calls")
}

// Prepare builds Config from defaults, the config file and env, in
// increasing precedence, and binds it to fs so that flags parsed later
// override all three.
func Prepare(fs *pflag.FlagSet) (*Config, error) {
	cfg := Defaults()
	if err := LoadFile(DefaultConfigPath(), cfg); err != nil {
		return nil, err
	}
	ApplyEnv(cfg)
	RegisterFlags(fs, cfg)
	return cfg, nil
}

// Load is Prepare followed by parsing args into fs.
func Load(fs *pflag.FlagSet, args []string) (*Config, error) {
	cfg, err := Prepare(fs)
	if err != nil {
		return nil, err
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return cfg, nil
}
