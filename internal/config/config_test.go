package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg := Default()
	cfg.DefaultInstance = "shop"
	cfg.Auth.Secret = "s3cret"
	cfg.NATS.URL = "nats://127.0.0.1:4222"
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultInstance != "shop" {
		t.Errorf("DefaultInstance = %q, want shop", loaded.DefaultInstance)
	}
	if loaded.Auth.Secret != "s3cret" {
		t.Errorf("Auth.Secret = %q, want s3cret", loaded.Auth.Secret)
	}
	if loaded.NATS.URL != "nats://127.0.0.1:4222" {
		t.Errorf("NATS.URL = %q", loaded.NATS.URL)
	}
	if loaded.Chat.PingInterval.Duration != 25*time.Second {
		t.Errorf("PingInterval = %v, want 25s", loaded.Chat.PingInterval)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := "[http]\naddr = \":9000\"\n\n[chat]\nping_interval = \"5s\"\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.HTTP.Addr != ":9000" {
		t.Errorf("HTTP.Addr = %q, want :9000", cfg.HTTP.Addr)
	}
	if cfg.Chat.PingInterval.Duration != 5*time.Second {
		t.Errorf("PingInterval = %v, want 5s", cfg.Chat.PingInterval)
	}
	if cfg.Chat.SendQueue != 256 {
		t.Errorf("SendQueue = %d, want default 256", cfg.Chat.SendQueue)
	}
	if cfg.Upload.MaxBytes != 5<<20 {
		t.Errorf("Upload.MaxBytes = %d, want 5MiB", cfg.Upload.MaxBytes)
	}
}

func TestLoadMissing(t *testing.T) {
	if _, err := Load("/nonexistent/config.toml"); err == nil {
		t.Error("Load() expected error for missing file")
	}
	cfg, err := LoadOrDefault("/nonexistent/config.toml")
	if err != nil {
		t.Fatalf("LoadOrDefault() error = %v", err)
	}
	if cfg.HTTP.Addr != ":5000" {
		t.Errorf("HTTP.Addr = %q, want default", cfg.HTTP.Addr)
	}
}

func TestLoadBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[auth]\nttl = \"forever\"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load() expected error for bad duration")
	}
}

func TestSavePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	if err := Save(path, Default()); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}

func TestValidateRelayNeedsSharedStore(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config Validate() = %v", err)
	}

	cfg.NATS.URL = "nats://127.0.0.1:4222"
	if err := cfg.Validate(); !errors.Is(err, ErrRelayNeedsSharedStore) {
		t.Errorf("relay without store path: Validate() = %v", err)
	}

	cfg.Store.Path = "/srv/rentchat/chat.db"
	if err := cfg.Validate(); err != nil {
		t.Errorf("relay with shared store: Validate() = %v", err)
	}
}
