// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"encoding"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/palaver/internal/logger"
	"github.com/jeranaias/palaver/internal/storage"
	"github.com/jeranaias/palaver/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete palaver configuration.
type Config struct {
	// Model selected at startup; must be a hosted catalogue ID or, with a
	// self-hosted server, any model the server exposes.
	DefaultModel string `toml:"default_model" json:"default_model"`

	Gateway   GatewayConfig   `toml:"gateway" json:"gateway"`
	OpenWebUI OpenWebUIConfig `toml:"openwebui" json:"openwebui"`
	Chat      ChatConfig      `toml:"chat" json:"chat"`
	Storage   StorageConfig   `toml:"storage" json:"storage"`
	Log       LogConfig       `toml:"log" json:"log"`
	Server    ServerConfig    `toml:"server" json:"server"`
}

// GatewayConfig configures the hosted gateway backend.
type GatewayConfig struct {
	BaseURL           string   `toml:"base_url" json:"base_url"`
	Timeout           Duration `toml:"timeout" json:"timeout"`
	RequestsPerSecond float64  `toml:"requests_per_second" json:"requests_per_second"`
	Burst             int      `toml:"burst" json:"burst"`
	MaxRetries        int      `toml:"max_retries" json:"max_retries"`
}

// OpenWebUIConfig configures the self-hosted backend. The server URL and
// token live in the credential store, not here.
type OpenWebUIConfig struct {
	Timeout Duration `toml:"timeout" json:"timeout"`
}

// ChatConfig configures the turn orchestrator.
type ChatConfig struct {
	// TurnTimeout bounds one backend call; zero disables the deadline.
	TurnTimeout  Duration `toml:"turn_timeout" json:"turn_timeout"`
	ErrorMessage string   `toml:"error_message" json:"error_message"`
}

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	Backend       string `toml:"backend" json:"backend"`
	Dir           string `toml:"dir" json:"dir"`
	SQLitePath    string `toml:"sqlite_path" json:"sqlite_path"`
	RedisAddr     string `toml:"redis_addr" json:"redis_addr"`
	RedisPassword string `toml:"redis_password" json:"redis_password"`
	RedisDB       int    `toml:"redis_db" json:"redis_db"`
	RedisPrefix   string `toml:"redis_prefix" json:"redis_prefix"`

	// Encrypt turns on AES-GCM encryption of stored values. The passphrase
	// is read from the environment variable named by PassphraseEnv.
	Encrypt       bool   `toml:"encrypt" json:"encrypt"`
	PassphraseEnv string `toml:"passphrase_env" json:"passphrase_env"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `toml:"level" json:"level"`
	Pretty bool   `toml:"pretty" json:"pretty"`
	File   string `toml:"file" json:"file"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr    string `toml:"addr" json:"addr"`
	Token   string `toml:"token" json:"token"`
	Metrics bool   `toml:"metrics" json:"metrics"`

	// RequestsPerSecond limits each client IP; 0 disables limiting.
	RequestsPerSecond float64 `toml:"requests_per_second" json:"requests_per_second"`
	Burst             int     `toml:"burst" json:"burst"`
}

// =============================================================================
// DURATION
// =============================================================================

// Duration is a time.Duration that reads and writes as a string ("30s").
type Duration time.Duration

// D returns the value as a time.Duration.
func (d Duration) D() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. A bare integer is read
// as seconds.
func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" {
		*d = 0
		return nil
	}
	if secs, err := strconv.Atoi(s); err == nil {
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		DefaultModel: "gpt-4o",
		Gateway: GatewayConfig{
			BaseURL: "https://api.puter.com",
			Timeout: Duration(60 * time.Second),
			Burst:   1,
		},
		OpenWebUI: OpenWebUIConfig{
			Timeout: Duration(60 * time.Second),
		},
		Chat: ChatConfig{
			ErrorMessage: "Sorry, an error occurred. Please try again.",
		},
		Storage: StorageConfig{
			Backend:       storage.BackendFile,
			RedisAddr:     "localhost:6379",
			RedisPrefix:   storage.DefaultRedisPrefix,
			PassphraseEnv: "PALAVER_PASSPHRASE",
		},
		Log: LogConfig{
			Level: "info",
		},
		Server: ServerConfig{
			Addr:              "127.0.0.1:8420",
			Metrics:           true,
			RequestsPerSecond: 10,
			Burst:             20,
		},
	}
}

// =============================================================================
// PATHS
// =============================================================================

// ConfigDir returns the palaver home directory: $PALAVER_HOME or
// ~/.palaver.
func ConfigDir() (string, error) {
	if dir := os.Getenv("PALAVER_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".palaver"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0700)
}

// ensureSecurePermissions tightens a config file to 0600; it may hold a
// Redis password or the API token.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the config file(s).
// Tries TOML first, then JSON, and falls back to defaults.
// Environment overrides are applied last.
func Load() (*Config, error) {
	for _, pathFn := range []func() (string, error){ConfigPathTOML, ConfigPathJSON} {
		path, err := pathFn()
		if err != nil {
			continue
		}
		if _, statErr := os.Stat(path); statErr == nil {
			return LoadFromPath(path)
		}
	}

	cfg := Default()
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file with full
// validation. Files ending in .json are read as JSON, anything else as TOML.
func LoadFromPath(path string) (*Config, error) {
	cfg := &Config{}

	if strings.HasSuffix(path, ".json") {
		if err := LoadJSON(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load JSON config from %s: %w", path, err)
		}
	} else {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
		}
	}

	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes a TOML file into cfg and fills missing values.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		log := logger.L()
		log.Warn().Err(err).Str("path", path).Msg("could not ensure secure config permissions")
	}

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		log := logger.L()
		log.Warn().Strs("keys", keys).Str("path", path).Msg("unknown config keys ignored")
	}
	fillDefaults(cfg)
	return nil
}

// LoadJSON decodes a JSON file into cfg and fills missing values.
func LoadJSON(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		log := logger.L()
		log.Warn().Err(err).Str("path", path).Msg("could not ensure secure config permissions")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	fillDefaults(cfg)
	return nil
}

// fillDefaults fills in any missing values with defaults. Booleans and
// zero-meaning-off numbers are left alone.
func fillDefaults(cfg *Config) {
	defaults := Default()

	if cfg.DefaultModel == "" {
		cfg.DefaultModel = defaults.DefaultModel
	}

	if cfg.Gateway.BaseURL == "" {
		cfg.Gateway.BaseURL = defaults.Gateway.BaseURL
	}
	if cfg.Gateway.Timeout == 0 {
		cfg.Gateway.Timeout = defaults.Gateway.Timeout
	}
	if cfg.Gateway.Burst == 0 {
		cfg.Gateway.Burst = defaults.Gateway.Burst
	}

	if cfg.OpenWebUI.Timeout == 0 {
		cfg.OpenWebUI.Timeout = defaults.OpenWebUI.Timeout
	}

	if cfg.Chat.ErrorMessage == "" {
		cfg.Chat.ErrorMessage = defaults.Chat.ErrorMessage
	}

	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = defaults.Storage.Backend
	}
	if cfg.Storage.RedisAddr == "" {
		cfg.Storage.RedisAddr = defaults.Storage.RedisAddr
	}
	if cfg.Storage.RedisPrefix == "" {
		cfg.Storage.RedisPrefix = defaults.Storage.RedisPrefix
	}
	if cfg.Storage.PassphraseEnv == "" {
		cfg.Storage.PassphraseEnv = defaults.Storage.PassphraseEnv
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = defaults.Log.Level
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaults.Server.Addr
	}
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML writes the configuration to a TOML file with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("# palaver configuration file\n")
	buf.WriteString("# Durations are Go duration strings (\"30s\", \"2m\"); 0 disables.\n\n")

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// SaveJSON writes the configuration to a JSON file with 0600 permissions.
func SaveJSON(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns ValidateErrors listing
// every problem found.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if strings.TrimSpace(c.DefaultModel) == "" {
		add("default_model", "must not be empty")
	}

	// Gateway
	if u, err := url.Parse(c.Gateway.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		add("gateway.base_url", "invalid URL '%s'", c.Gateway.BaseURL)
	} else if u.Scheme != "http" && u.Scheme != "https" {
		add("gateway.base_url", "scheme must be http or https, got '%s'", u.Scheme)
	}
	if c.Gateway.Timeout < 0 {
		add("gateway.timeout", "cannot be negative")
	}
	if c.Gateway.RequestsPerSecond < 0 {
		add("gateway.requests_per_second", "cannot be negative")
	}
	if c.Gateway.Burst < 0 {
		add("gateway.burst", "cannot be negative")
	}
	if c.Gateway.MaxRetries < 0 || c.Gateway.MaxRetries > 10 {
		add("gateway.max_retries", "must be between 0 and 10, got %d", c.Gateway.MaxRetries)
	}

	// Open-WebUI
	if c.OpenWebUI.Timeout < 0 {
		add("openwebui.timeout", "cannot be negative")
	}

	// Chat
	if c.Chat.TurnTimeout < 0 {
		add("chat.turn_timeout", "cannot be negative")
	}

	// Storage
	switch c.Storage.Backend {
	case storage.BackendFile, storage.BackendSQLite:
	case storage.BackendRedis:
		if c.Storage.RedisAddr == "" {
			add("storage.redis_addr", "required when backend is redis")
		}
		if c.Storage.RedisDB < 0 {
			add("storage.redis_db", "cannot be negative")
		}
	default:
		add("storage.backend", "invalid backend '%s', must be one of: file, sqlite, redis", c.Storage.Backend)
	}
	if c.Storage.Encrypt && c.Storage.PassphraseEnv == "" {
		add("storage.passphrase_env", "required when encrypt is true")
	}

	// Log
	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true, "warn": true, "warning": true,
		"error": true, "off": true, "disabled": true, "none": true,
	}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		add("log.level", "invalid level '%s', must be one of: trace, debug, info, warn, error, off", c.Log.Level)
	}

	// Server
	if c.Server.Addr == "" {
		add("server.addr", "must not be empty")
	}
	if c.Server.RequestsPerSecond < 0 {
		add("server.requests_per_second", "must not be negative")
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - PALAVER_MODEL: overrides default_model
//   - PALAVER_GATEWAY_URL: overrides gateway.base_url
//   - PALAVER_TURN_TIMEOUT: overrides chat.turn_timeout
//   - PALAVER_STORAGE: overrides storage.backend
//   - PALAVER_STORAGE_DIR: overrides storage.dir
//   - PALAVER_REDIS_ADDR: overrides storage.redis_addr
//   - PALAVER_REDIS_PASSWORD: overrides storage.redis_password
//   - PALAVER_LOG_LEVEL: overrides log.level
//   - PALAVER_SERVER_ADDR: overrides server.addr
//   - PALAVER_SERVER_TOKEN: overrides server.token
func (c *Config) ApplyEnvOverrides() {
	if model := os.Getenv("PALAVER_MODEL"); model != "" {
		c.DefaultModel = model
	}
	if u := os.Getenv("PALAVER_GATEWAY_URL"); u != "" {
		c.Gateway.BaseURL = u
	}
	if d := os.Getenv("PALAVER_TURN_TIMEOUT"); d != "" {
		var parsed Duration
		if err := parsed.UnmarshalText([]byte(d)); err == nil {
			c.Chat.TurnTimeout = parsed
		}
	}
	if backend := os.Getenv("PALAVER_STORAGE"); backend != "" {
		c.Storage.Backend = strings.ToLower(backend)
	}
	if dir := os.Getenv("PALAVER_STORAGE_DIR"); dir != "" {
		c.Storage.Dir = dir
	}
	if addr := os.Getenv("PALAVER_REDIS_ADDR"); addr != "" {
		c.Storage.RedisAddr = addr
	}
	if pw := os.Getenv("PALAVER_REDIS_PASSWORD"); pw != "" {
		c.Storage.RedisPassword = pw
	}
	if level := os.Getenv("PALAVER_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	if addr := os.Getenv("PALAVER_SERVER_ADDR"); addr != "" {
		c.Server.Addr = addr
	}
	if token := os.Getenv("PALAVER_SERVER_TOKEN"); token != "" {
		c.Server.Token = token
	}
}

// =============================================================================
// DERIVED SETTINGS
// =============================================================================

// StorageDir returns the directory for persisted state: storage.dir, or the
// config directory when unset.
func (c *Config) StorageDir() (string, error) {
	if c.Storage.Dir != "" {
		return c.Storage.Dir, nil
	}
	return ConfigDir()
}

// Passphrase returns the storage encryption passphrase, or "" when
// encryption is off.
func (c *Config) Passphrase() (string, error) {
	if !c.Storage.Encrypt {
		return "", nil
	}
	pass := os.Getenv(c.Storage.PassphraseEnv)
	if pass == "" {
		return "", fmt.Errorf("storage.encrypt is set but $%s is empty", c.Storage.PassphraseEnv)
	}
	return pass, nil
}

// StorageOptions builds the options for storage.Open.
func (c *Config) StorageOptions() (storage.Options, error) {
	dir, err := c.StorageDir()
	if err != nil {
		return storage.Options{}, err
	}
	pass, err := c.Passphrase()
	if err != nil {
		return storage.Options{}, err
	}
	return storage.Options{
		Backend:       c.Storage.Backend,
		Dir:           dir,
		SQLitePath:    c.Storage.SQLitePath,
		RedisAddr:     c.Storage.RedisAddr,
		RedisPassword: c.Storage.RedisPassword,
		RedisDB:       c.Storage.RedisDB,
		RedisPrefix:   c.Storage.RedisPrefix,
		Passphrase:    pass,
	}, nil
}

// LoggerConfig builds the logger configuration. The caller owns any file
// opened for log.file.
func (c *Config) LoggerConfig() (logger.Config, error) {
	cfg := logger.Config{Level: c.Log.Level, Pretty: c.Log.Pretty}
	if c.Log.File != "" {
		f, err := logger.OpenFile(c.Log.File)
		if err != nil {
			return logger.Config{}, err
		}
		cfg.Output = f
	}
	return cfg, nil
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value using dot notation (e.g., "chat.turn_timeout").
func (c *Config) Get(key string) (any, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set sets a configuration value using dot notation. String values are
// converted to the field's type.
func (c *Config) Set(key string, value any) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("cannot set field: %s", key)
	}
	return setFieldValue(field, value)
}

func (c *Config) lookup(key string) (reflect.Value, error) {
	if key == "" {
		return reflect.Value{}, errors.New("empty key")
	}
	parts := strings.Split(key, ".")

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		fieldName := normalizeFieldName(part)
		field := v.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, fieldName)
		})
		if !field.IsValid() {
			return reflect.Value{}, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			return field, nil
		}
		if field.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("field '%s' is not a struct", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return reflect.Value{}, fmt.Errorf("invalid key: %s", key)
}

// normalizeFieldName converts a snake_case or kebab-case name to its Go field equivalent.
func normalizeFieldName(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-'
	})

	var result strings.Builder
	for _, part := range parts {
		if len(part) > 0 {
			result.WriteString(strings.ToUpper(string(part[0])))
			result.WriteString(strings.ToLower(part[1:]))
		}
	}
	return result.String()
}

// setFieldValue sets a reflect.Value from an interface value with type conversion.
func setFieldValue(field reflect.Value, value any) error {
	if strVal, ok := value.(string); ok {
		if u, ok := field.Addr().Interface().(encoding.TextUnmarshaler); ok {
			return u.UnmarshalText([]byte(strVal))
		}
		switch field.Kind() {
		case reflect.String:
			field.SetString(strVal)
			return nil
		case reflect.Int, reflect.Int64:
			intVal, err := strconv.ParseInt(strVal, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %v", err)
			}
			field.SetInt(intVal)
			return nil
		case reflect.Float64:
			floatVal, err := strconv.ParseFloat(strVal, 64)
			if err != nil {
				return fmt.Errorf("invalid float value: %v", err)
			}
			field.SetFloat(floatVal)
			return nil
		case reflect.Bool:
			lower := strings.ToLower(strVal)
			field.SetBool(lower == "1" || lower == "true" || lower == "yes")
			return nil
		}
	}

	val := reflect.ValueOf(value)
	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}
	if val.Type().ConvertibleTo(field.Type()) {
		field.Set(val.Convert(field.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// GetAllKeys returns all configuration keys in dot notation.
func GetAllKeys() []string {
	return []string{
		"default_model",
		"gateway.base_url",
		"gateway.timeout",
		"gateway.requests_per_second",
		"gateway.burst",
		"gateway.max_retries",
		"openwebui.timeout",
		"chat.turn_timeout",
		"chat.error_message",
		"storage.backend",
		"storage.dir",
		"storage.sqlite_path",
		"storage.redis_addr",
		"storage.redis_password",
		"storage.redis_db",
		"storage.redis_prefix",
		"storage.encrypt",
		"storage.passphrase_env",
		"log.level",
		"log.pretty",
		"log.file",
		"server.addr",
		"server.token",
		"server.metrics",
		"server.requests_per_second",
		"server.burst",
	}
}

// =============================================================================
// UTILITY
// =============================================================================

// Clone returns a copy of the configuration. Config holds no reference
// types, so a value copy is deep.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// String renders the config as TOML with secrets redacted.
func (c *Config) String() string {
	safe := c.Clone()
	if safe.Storage.RedisPassword != "" {
		safe.Storage.RedisPassword = "[REDACTED]"
	}
	if safe.Server.Token != "" {
		safe.Server.Token = "[REDACTED]"
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(safe); err != nil {
		return fmt.Sprintf("<config: %v>", err)
	}
	return buf.String()
}
