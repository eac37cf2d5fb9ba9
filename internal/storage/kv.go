// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides key/value persistence and the conversation
// repository for palaver.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// =============================================================================
// KEYS
// =============================================================================

// Well-known storage keys.
const (
	KeyHostedToken     = "puter_token"
	KeySelfHostedToken = "open_webui_token"
	KeyServerURL       = "server_url"
	KeyTheme           = "theme"
	KeyConversations   = "conversations"
)

// =============================================================================
// KV INTERFACE
// =============================================================================

// KV is a string key/value store. Get reports whether the key was present;
// a missing key is not an error.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNotFound is returned when a required key does not exist.
	ErrNotFound = &StorageError{Message: "key not found"}

	// ErrDecryptionFailed indicates a stored value could not be decrypted
	// (wrong passphrase or tampered data).
	ErrDecryptionFailed = errors.New("decryption failed: authentication tag mismatch")

	// ErrInvalidCiphertext indicates an encrypted value is malformed.
	ErrInvalidCiphertext = errors.New("invalid ciphertext format")
)

// StorageError represents a storage-related error.
// It implements the error interface and can be compared using errors.Is.
type StorageError struct {
	Message string
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return e.Message
}

// Is implements errors.Is support for comparing storage errors.
func (e *StorageError) Is(target error) bool {
	t, ok := target.(*StorageError)
	if !ok {
		return false
	}
	return e.Message == t.Message
}

// =============================================================================
// BACKEND SELECTION
// =============================================================================

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Options selects and configures a KV backend.
type Options struct {
	Backend string

	// Dir holds the file backend's state file and the default SQLite path.
	Dir string

	// SQLitePath overrides the database location for the sqlite backend.
	SQLitePath string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	// Passphrase enables value encryption when non-empty.
	Passphrase string
}

// StateFile is the file backend's path for the given directory.
func StateFile(dir string) string {
	return filepath.Join(dir, "state.json")
}

// Open returns the configured backend, wrapped in SecureKV when a
// passphrase is set.
func Open(ctx context.Context, opts Options) (KV, error) {
	var (
		kv  KV
		err error
	)

	switch strings.ToLower(opts.Backend) {
	case "", BackendFile:
		kv, err = NewFileKV(StateFile(opts.Dir))
	case BackendSQLite:
		path := opts.SQLitePath
		if path == "" {
			path = filepath.Join(opts.Dir, "palaver.db")
		}
		kv, err = NewSQLiteKV(ctx, path)
	case BackendRedis:
		kv, err = NewRedisKV(ctx, RedisOptions{
			Addr:     opts.RedisAddr,
			Password: opts.RedisPassword,
			DB:       opts.RedisDB,
			Prefix:   opts.RedisPrefix,
		})
	default:
		return nil, fmt.Errorf("unknown storage backend %q", opts.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s storage: %w", opts.Backend, err)
	}

	if opts.Passphrase == "" {
		return kv, nil
	}
	secure, err := NewSecureKV(ctx, kv, opts.Passphrase)
	if err != nil {
		kv.Close()
		return nil, err
	}
	return secure, nil
}
