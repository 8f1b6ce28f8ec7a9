package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.rentchat/config.toml.
type Config struct {
	DefaultInstance string       `toml:"default_instance"`
	HTTP            HTTPConfig   `toml:"http"`
	Store           StoreConfig  `toml:"store"`
	Auth            AuthConfig   `toml:"auth"`
	Chat            ChatConfig   `toml:"chat"`
	Upload          UploadConfig `toml:"upload"`
	Redis           RedisConfig  `toml:"redis"`
	NATS            NATSConfig   `toml:"nats"`
}

// HTTPConfig configures the REST and realtime listener.
type HTTPConfig struct {
	Addr           string   `toml:"addr"`
	PublicURL      string   `toml:"public_url"`
	AllowedOrigins []string `toml:"allowed_origins"`
}

// StoreConfig locates the message database. Path defaults to chat.db in the
// instance directory; nodes linked by [nats] must all set it to the same file.
type StoreConfig struct {
	Path string `toml:"path"`
}

// AuthConfig holds the shared bearer token secret.
type AuthConfig struct {
	Secret string   `toml:"secret"`
	TTL    Duration `toml:"ttl"`
}

// ChatConfig tunes the realtime router.
type ChatConfig struct {
	SendQueue    int      `toml:"send_queue"`
	PingInterval Duration `toml:"ping_interval"`
	WriteTimeout Duration `toml:"write_timeout"`
	MaxFrameSize int64    `toml:"max_frame_size"`
}

// UploadConfig bounds image uploads. Dir defaults to the instance upload dir.
type UploadConfig struct {
	Dir      string `toml:"dir"`
	MaxBytes int64  `toml:"max_bytes"`
}

// RedisConfig enables presence mirroring when Addr is set.
type RedisConfig struct {
	Addr     string   `toml:"addr"`
	Password string   `toml:"password"`
	DB       int      `toml:"db"`
	TTL      Duration `toml:"ttl"`
}

// NATSConfig enables the cross-node relay when URL is set.
type NATSConfig struct {
	URL     string `toml:"url"`
	Subject string `toml:"subject"`
}

// ErrRelayNeedsSharedStore is returned by Validate when the relay is enabled
// without an explicit shared store.
var ErrRelayNeedsSharedStore = errors.New("[nats] url requires [store] path shared by every linked node")

// Validate rejects combinations chatd cannot serve consistently.
func (c *Config) Validate() error {
	if c.NATS.URL != "" && c.Store.Path == "" {
		return ErrRelayNeedsSharedStore
	}
	return nil
}

// Duration is a time.Duration that decodes from TOML strings like "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns a config with every field set to its default.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":5000"
	}
	if c.HTTP.PublicURL == "" {
		c.HTTP.PublicURL = "http://localhost:5000"
	}
	if c.Auth.TTL.Duration == 0 {
		c.Auth.TTL.Duration = 24 * time.Hour
	}
	if c.Chat.SendQueue <= 0 {
		c.Chat.SendQueue = 256
	}
	if c.Chat.PingInterval.Duration == 0 {
		c.Chat.PingInterval.Duration = 25 * time.Second
	}
	if c.Chat.WriteTimeout.Duration == 0 {
		c.Chat.WriteTimeout.Duration = 10 * time.Second
	}
	if c.Chat.MaxFrameSize <= 0 {
		c.Chat.MaxFrameSize = 64 << 10
	}
	if c.Upload.MaxBytes <= 0 {
		c.Upload.MaxBytes = 5 << 20
	}
	if c.Redis.TTL.Duration == 0 {
		c.Redis.TTL.Duration = 24 * time.Hour
	}
	if c.NATS.Subject == "" {
		c.NATS.Subject = "rentchat.room"
	}
}

// Load reads config from the given path and fills in defaults.
// Returns an error if the file is missing or malformed.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// LoadOrDefault is Load, falling back to Default when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
