// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jeranaias/palaver/internal/storage"
)

// TestConfig_Default tests that Default() returns a valid config with defaults.
func TestConfig_Default(t *testing.T) {
	cfg := Default()

	if cfg.DefaultModel != "gpt-4o" {
		t.Errorf("DefaultModel = %q, want gpt-4o", cfg.DefaultModel)
	}
	if cfg.Gateway.BaseURL != "https://api.puter.com" {
		t.Errorf("Gateway.BaseURL = %q", cfg.Gateway.BaseURL)
	}
	if cfg.Chat.TurnTimeout != 0 {
		t.Error("turn timeout should be off by default")
	}
	if cfg.Storage.Backend != storage.BackendFile {
		t.Errorf("Storage.Backend = %q, want file", cfg.Storage.Backend)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

// TestConfig_Validate tests configuration validation.
func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		field   string
		wantErr bool
	}{
		{"valid default config", func(c *Config) {}, "", false},
		{"empty model", func(c *Config) { c.DefaultModel = " " }, "default_model", true},
		{"bad gateway url", func(c *Config) { c.Gateway.BaseURL = "not a url" }, "gateway.base_url", true},
		{"gateway ftp scheme", func(c *Config) { c.Gateway.BaseURL = "ftp://x.y" }, "gateway.base_url", true},
		{"negative rps", func(c *Config) { c.Gateway.RequestsPerSecond = -1 }, "gateway.requests_per_second", true},
		{"too many retries", func(c *Config) { c.Gateway.MaxRetries = 11 }, "gateway.max_retries", true},
		{"negative turn timeout", func(c *Config) { c.Chat.TurnTimeout = Duration(-time.Second) }, "chat.turn_timeout", true},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "postgres" }, "storage.backend", true},
		{"redis without addr", func(c *Config) {
			c.Storage.Backend = storage.BackendRedis
			c.Storage.RedisAddr = ""
		}, "storage.redis_addr", true},
		{"encrypt without env", func(c *Config) {
			c.Storage.Encrypt = true
			c.Storage.PassphraseEnv = ""
		}, "storage.passphrase_env", true},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "log.level", true},
		{"sqlite backend", func(c *Config) { c.Storage.Backend = storage.BackendSQLite }, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr {
				return
			}
			var verrs ValidateErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("error should be ValidateErrors, got %T", err)
			}
			if verrs[0].Field != tt.field {
				t.Errorf("field = %q, want %q", verrs[0].Field, tt.field)
			}
		})
	}
}

func TestValidateErrors_CollectsAll(t *testing.T) {
	cfg := Default()
	cfg.Storage.Backend = "nope"
	cfg.Log.Level = "nope"

	err := cfg.Validate()
	var verrs ValidateErrors
	if !errors.As(err, &verrs) || len(verrs) != 2 {
		t.Fatalf("want 2 validation errors, got %v", err)
	}
	if !strings.Contains(err.Error(), "; ") {
		t.Errorf("errors should be joined: %q", err.Error())
	}
}

func TestLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
default_model = "claude-3-5-sonnet"

[gateway]
requests_per_second = 2.5
timeout = "15s"

[chat]
turn_timeout = "2m"

[storage]
backend = "sqlite"

[log]
level = "debug"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath() error = %v", err)
	}

	if cfg.DefaultModel != "claude-3-5-sonnet" {
		t.Errorf("DefaultModel = %q", cfg.DefaultModel)
	}
	if cfg.Gateway.RequestsPerSecond != 2.5 {
		t.Errorf("RequestsPerSecond = %v", cfg.Gateway.RequestsPerSecond)
	}
	if cfg.Gateway.Timeout.D() != 15*time.Second {
		t.Errorf("Gateway.Timeout = %v", cfg.Gateway.Timeout.D())
	}
	if cfg.Chat.TurnTimeout.D() != 2*time.Minute {
		t.Errorf("TurnTimeout = %v", cfg.Chat.TurnTimeout.D())
	}
	if cfg.Storage.Backend != storage.BackendSQLite {
		t.Errorf("Backend = %q", cfg.Storage.Backend)
	}
	// Missing values are filled from defaults.
	if cfg.Gateway.BaseURL != "https://api.puter.com" {
		t.Errorf("BaseURL not defaulted: %q", cfg.Gateway.BaseURL)
	}
	if cfg.Chat.ErrorMessage == "" {
		t.Error("ErrorMessage not defaulted")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("permissions = %o, want 0600", info.Mode().Perm())
	}
}

func TestLoadTOML_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	os.WriteFile(path, []byte("[storage]\nbackend = \"tape\"\n"), 0600)

	if _, err := LoadFromPath(path); err == nil {
		t.Fatal("invalid backend should fail to load")
	}

	os.WriteFile(path, []byte("this is = = not toml"), 0600)
	if _, err := LoadFromPath(path); err == nil {
		t.Fatal("malformed TOML should fail to load")
	}
}

func TestLoadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	os.WriteFile(path, []byte(`{"default_model":"gpt-4o-mini","chat":{"turn_timeout":"45s"}}`), 0600)

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath() error = %v", err)
	}
	if cfg.DefaultModel != "gpt-4o-mini" {
		t.Errorf("DefaultModel = %q", cfg.DefaultModel)
	}
	if cfg.Chat.TurnTimeout.D() != 45*time.Second {
		t.Errorf("TurnTimeout = %v", cfg.Chat.TurnTimeout.D())
	}
}

func TestLoad_FallsBackToDefaults(t *testing.T) {
	t.Setenv("PALAVER_HOME", t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DefaultModel != "gpt-4o" {
		t.Errorf("DefaultModel = %q", cfg.DefaultModel)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	home := t.TempDir()
	t.Setenv("PALAVER_HOME", home)

	cfg := Default()
	cfg.DefaultModel = "deepseek-chat"
	cfg.Chat.TurnTimeout = Duration(90 * time.Second)
	cfg.Storage.Backend = storage.BackendRedis
	cfg.Storage.RedisDB = 3
	if err := Save(cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	path := filepath.Join(home, "config.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `turn_timeout = "1m30s"`) {
		t.Errorf("durations should be written as strings:\n%s", data)
	}

	loaded, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultModel != "deepseek-chat" || loaded.Storage.RedisDB != 3 {
		t.Errorf("round trip lost values: %+v", loaded)
	}
	if loaded.Chat.TurnTimeout.D() != 90*time.Second {
		t.Errorf("TurnTimeout = %v", loaded.Chat.TurnTimeout.D())
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("PALAVER_MODEL", "gemini-2.0-flash")
	t.Setenv("PALAVER_TURN_TIMEOUT", "30")
	t.Setenv("PALAVER_STORAGE", "SQLITE")
	t.Setenv("PALAVER_SERVER_TOKEN", "s3cret")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	if cfg.DefaultModel != "gemini-2.0-flash" {
		t.Errorf("DefaultModel = %q", cfg.DefaultModel)
	}
	if cfg.Chat.TurnTimeout.D() != 30*time.Second {
		t.Errorf("bare integer should be seconds, got %v", cfg.Chat.TurnTimeout.D())
	}
	if cfg.Storage.Backend != "sqlite" {
		t.Errorf("Backend = %q", cfg.Storage.Backend)
	}
	if cfg.Server.Token != "s3cret" {
		t.Error("server token override not applied")
	}
}

func TestStorageOptions(t *testing.T) {
	dir := t.TempDir()
	cfg := Default()
	cfg.Storage.Dir = dir

	opts, err := cfg.StorageOptions()
	if err != nil {
		t.Fatal(err)
	}
	if opts.Dir != dir || opts.Passphrase != "" {
		t.Errorf("unexpected options: %+v", opts)
	}

	cfg.Storage.Encrypt = true
	cfg.Storage.PassphraseEnv = "PALAVER_TEST_PASS"
	t.Setenv("PALAVER_TEST_PASS", "")
	if _, err := cfg.StorageOptions(); err == nil {
		t.Error("encrypt without passphrase should fail")
	}

	t.Setenv("PALAVER_TEST_PASS", "hunter2")
	opts, err = cfg.StorageOptions()
	if err != nil {
		t.Fatal(err)
	}
	if opts.Passphrase != "hunter2" {
		t.Errorf("Passphrase = %q", opts.Passphrase)
	}
}

// TestConfig_GetSet tests Get and Set methods with dot notation.
func TestConfig_GetSet(t *testing.T) {
	cfg := Default()

	val, err := cfg.Get("storage.backend")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if val != "file" {
		t.Errorf("Get('storage.backend') = %v, want 'file'", val)
	}

	if err := cfg.Set("chat.turn_timeout", "5m"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if cfg.Chat.TurnTimeout.D() != 5*time.Minute {
		t.Errorf("TurnTimeout = %v", cfg.Chat.TurnTimeout.D())
	}
	if err := cfg.Set("gateway.requests_per_second", "4"); err != nil {
		t.Fatal(err)
	}
	if cfg.Gateway.RequestsPerSecond != 4 {
		t.Errorf("RequestsPerSecond = %v", cfg.Gateway.RequestsPerSecond)
	}
	if err := cfg.Set("storage.sqlite_path", "/tmp/x.db"); err != nil {
		t.Fatal(err)
	}
	if cfg.Storage.SQLitePath != "/tmp/x.db" {
		t.Errorf("SQLitePath = %q", cfg.Storage.SQLitePath)
	}

	if _, err := cfg.Get("invalid.key"); err == nil {
		t.Error("Get() with invalid key should return error")
	}
	if err := cfg.Set("storage.redis_db", "many"); err == nil {
		t.Error("Set() with a non-integer should fail")
	}
}

func TestGetAllKeysResolve(t *testing.T) {
	cfg := Default()
	for _, key := range GetAllKeys() {
		if _, err := cfg.Get(key); err != nil {
			t.Errorf("key %q does not resolve: %v", key, err)
		}
	}
}

func TestConfig_StringRedactsSecrets(t *testing.T) {
	cfg := Default()
	cfg.Server.Token = "tok-123"
	cfg.Storage.RedisPassword = "pw-456"

	s := cfg.String()
	if strings.Contains(s, "tok-123") || strings.Contains(s, "pw-456") {
		t.Errorf("secrets leaked:\n%s", s)
	}
	if cfg.Server.Token != "tok-123" {
		t.Error("String must not modify the original")
	}
}
