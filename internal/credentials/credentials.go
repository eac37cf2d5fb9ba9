// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package credentials holds the authentication state the turn orchestrator
// reads before every send: backend tokens, the self-hosted server URL, and
// whether the self-hosted backend is authenticated.
package credentials

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/jeranaias/palaver/internal/storage"
)

// =============================================================================
// SNAPSHOT
// =============================================================================

// Snapshot is a point-in-time copy of the credential state.
type Snapshot struct {
	HostedToken               string
	SelfHostedToken           string
	ServerURL                 string
	IsHostedAuthenticated     bool
	IsSelfHostedAuthenticated bool
}

// Provider exposes the current credential state.
type Provider interface {
	Snapshot() Snapshot
}

// Static is a fixed Provider.
type Static Snapshot

// Snapshot implements Provider.
func (s Static) Snapshot() Snapshot {
	return Snapshot(s)
}

// =============================================================================
// MANAGER
// =============================================================================

// Manager keeps credentials in memory and mirrors every change into a KV
// store. Hydrate restores the state saved by a previous run.
type Manager struct {
	mu   sync.RWMutex
	kv   storage.KV
	snap Snapshot
	log  zerolog.Logger
}

// NewManager creates a manager backed by kv. Call Hydrate to load the
// persisted state.
func NewManager(kv storage.KV, log zerolog.Logger) *Manager {
	return &Manager{kv: kv, log: log}
}

// Snapshot implements Provider.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snap
}

// Hydrate loads tokens and the server URL from storage. A backend counts as
// authenticated when its token is present.
func (m *Manager) Hydrate(ctx context.Context) error {
	hosted, err := m.get(ctx, storage.KeyHostedToken)
	if err != nil {
		return err
	}
	self, err := m.get(ctx, storage.KeySelfHostedToken)
	if err != nil {
		return err
	}
	serverURL, err := m.get(ctx, storage.KeyServerURL)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.snap = Snapshot{
		HostedToken:               hosted,
		SelfHostedToken:           self,
		ServerURL:                 serverURL,
		IsHostedAuthenticated:     hosted != "",
		IsSelfHostedAuthenticated: self != "",
	}
	m.mu.Unlock()

	m.log.Debug().
		Bool("hosted", hosted != "").
		Bool("selfhosted", self != "").
		Str("server_url", serverURL).
		Msg("credentials hydrated")
	return nil
}

func (m *Manager) get(ctx context.Context, key string) (string, error) {
	v, _, err := m.kv.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("failed to load %s: %w", key, err)
	}
	return v, nil
}

// SetHostedAuth stores the hosted gateway token.
func (m *Manager) SetHostedAuth(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("hosted token is empty")
	}
	if err := m.kv.Set(ctx, storage.KeyHostedToken, token); err != nil {
		return err
	}
	m.update(func(s *Snapshot) {
		s.HostedToken = token
		s.IsHostedAuthenticated = true
	})
	return nil
}

// ClearHostedAuth removes the hosted gateway token.
func (m *Manager) ClearHostedAuth(ctx context.Context) error {
	if err := m.kv.Delete(ctx, storage.KeyHostedToken); err != nil {
		return err
	}
	m.update(func(s *Snapshot) {
		s.HostedToken = ""
		s.IsHostedAuthenticated = false
	})
	return nil
}

// SetSelfHostedAuth stores the self-hosted token and server URL together
// and marks the self-hosted backend authenticated.
func (m *Manager) SetSelfHostedAuth(ctx context.Context, serverURL, token string) error {
	serverURL = NormalizeServerURL(serverURL)
	token = strings.TrimSpace(token)
	if serverURL == "" || token == "" {
		return fmt.Errorf("server URL and token are both required")
	}
	if err := m.kv.Set(ctx, storage.KeyServerURL, serverURL); err != nil {
		return err
	}
	if err := m.kv.Set(ctx, storage.KeySelfHostedToken, token); err != nil {
		return err
	}
	m.update(func(s *Snapshot) {
		s.ServerURL = serverURL
		s.SelfHostedToken = token
		s.IsSelfHostedAuthenticated = true
	})
	return nil
}

// ClearSelfHostedAuth removes the self-hosted token. The server URL is kept
// so the next sign-in can reuse it.
func (m *Manager) ClearSelfHostedAuth(ctx context.Context) error {
	if err := m.kv.Delete(ctx, storage.KeySelfHostedToken); err != nil {
		return err
	}
	m.update(func(s *Snapshot) {
		s.SelfHostedToken = ""
		s.IsSelfHostedAuthenticated = false
	})
	return nil
}

// SetServerURL stores the self-hosted server URL.
func (m *Manager) SetServerURL(ctx context.Context, serverURL string) error {
	serverURL = NormalizeServerURL(serverURL)
	if err := m.kv.Set(ctx, storage.KeyServerURL, serverURL); err != nil {
		return err
	}
	m.update(func(s *Snapshot) { s.ServerURL = serverURL })
	return nil
}

// ClearServerURL removes the self-hosted server URL.
func (m *Manager) ClearServerURL(ctx context.Context) error {
	if err := m.kv.Delete(ctx, storage.KeyServerURL); err != nil {
		return err
	}
	m.update(func(s *Snapshot) { s.ServerURL = "" })
	return nil
}

func (m *Manager) update(fn func(*Snapshot)) {
	m.mu.Lock()
	fn(&m.snap)
	m.mu.Unlock()
}

// NormalizeServerURL trims whitespace and trailing slashes.
func NormalizeServerURL(u string) string {
	return strings.TrimRight(strings.TrimSpace(u), "/")
}
