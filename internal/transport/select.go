// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transport

import (
	"github.com/jeranaias/palaver/internal/credentials"
)

// =============================================================================
// ADAPTER SELECTION
// =============================================================================

// Kind identifies which backend an Adapter talks to.
type Kind string

const (
	// KindHosted is the hosted multi-model gateway (streaming).
	KindHosted Kind = "hosted"

	// KindSelfHosted is a self-hosted OpenAI-compatible server (non-streaming).
	KindSelfHosted Kind = "selfhosted"
)

// String returns the kind name used in logs and metric labels.
func (k Kind) String() string {
	return string(k)
}

// Adapter is a handle on one backend. Exactly one of Chatter or Streamer is
// used by the orchestrator: Streamer when it is set, Chatter otherwise.
type Adapter struct {
	Kind     Kind
	Chatter  Chatter
	Streamer Streamer
}

// Streaming reports whether the adapter delivers incremental fragments.
func (a Adapter) Streaming() bool {
	return a.Streamer != nil
}

// Factory builds adapters for a given set of credentials.
type Factory interface {
	Hosted(token string) Adapter
	SelfHosted(serverURL, token string) Adapter
}

// FactoryFuncs adapts a pair of constructor functions to Factory.
type FactoryFuncs struct {
	HostedFunc     func(token string) Adapter
	SelfHostedFunc func(serverURL, token string) Adapter
}

// Hosted implements Factory.
func (f FactoryFuncs) Hosted(token string) Adapter {
	return f.HostedFunc(token)
}

// SelfHosted implements Factory.
func (f FactoryFuncs) SelfHosted(serverURL, token string) Adapter {
	return f.SelfHostedFunc(serverURL, token)
}

// UseSelfHosted reports whether a credential snapshot routes turns to the
// self-hosted server: it must be marked authenticated and carry both a
// server URL and a token.
func UseSelfHosted(snap credentials.Snapshot) bool {
	return snap.IsSelfHostedAuthenticated && snap.ServerURL != "" && snap.SelfHostedToken != ""
}

// Select picks the adapter for one turn. It has no side effects and is
// evaluated on every send, so credential changes apply to the next turn.
func Select(snap credentials.Snapshot, f Factory) Adapter {
	if UseSelfHosted(snap) {
		return f.SelfHosted(snap.ServerURL, snap.SelfHostedToken)
	}
	return f.Hosted(snap.HostedToken)
}
