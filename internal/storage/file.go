// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/jeranaias/palaver/internal/util"
)

// =============================================================================
// FILE BACKEND
// =============================================================================

// FileKV keeps all keys in one JSON object on disk. Every read goes to the
// file so values written by another process are seen immediately; writes
// replace the file atomically.
type FileKV struct {
	mu   sync.Mutex
	path string
}

// NewFileKV creates a file-backed store at path. The file is created on the
// first write.
func NewFileKV(path string) (*FileKV, error) {
	if path == "" {
		return nil, errors.New("file storage path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &FileKV{path: path}, nil
}

// Path returns the backing file path.
func (f *FileKV) Path() string {
	return f.path
}

// Get implements KV.
func (f *FileKV) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := f.load()
	if err != nil {
		return "", false, err
	}
	v, ok := data[key]
	return v, ok, nil
}

// Set implements KV.
func (f *FileKV) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := f.load()
	if err != nil {
		return err
	}
	data[key] = value
	return f.store(data)
}

// Delete implements KV.
func (f *FileKV) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := f.load()
	if err != nil {
		return err
	}
	if _, ok := data[key]; !ok {
		return nil
	}
	delete(data, key)
	return f.store(data)
}

// Close implements KV.
func (f *FileKV) Close() error {
	return nil
}

func (f *FileKV) load() (map[string]string, error) {
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", f.path, err)
	}
	if len(raw) == 0 {
		return map[string]string{}, nil
	}

	data := map[string]string{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", f.path, err)
	}
	return data, nil
}

func (f *FileKV) store(data map[string]string) error {
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode storage: %w", err)
	}
	// RELIABILITY: tokens live in this file, keep it owner-only
	return util.AtomicWriteFile(f.path, raw, 0600)
}
