// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transport

import (
	"testing"

	"github.com/jeranaias/palaver/internal/credentials"
	"github.com/jeranaias/palaver/internal/model"
)

type recordingFactory struct {
	hostedToken string
	serverURL   string
	selfToken   string
}

func (f *recordingFactory) Hosted(token string) Adapter {
	f.hostedToken = token
	return Adapter{Kind: KindHosted}
}

func (f *recordingFactory) SelfHosted(serverURL, token string) Adapter {
	f.serverURL = serverURL
	f.selfToken = token
	return Adapter{Kind: KindSelfHosted}
}

func TestSelect(t *testing.T) {
	tests := []struct {
		name string
		snap credentials.Snapshot
		want Kind
	}{
		{
			name: "no credentials",
			snap: credentials.Snapshot{},
			want: KindHosted,
		},
		{
			name: "hosted token only",
			snap: credentials.Snapshot{HostedToken: "h"},
			want: KindHosted,
		},
		{
			name: "self-hosted fully configured",
			snap: credentials.Snapshot{
				IsSelfHostedAuthenticated: true,
				ServerURL:                 "http://x",
				SelfHostedToken:           "t",
			},
			want: KindSelfHosted,
		},
		{
			name: "authenticated without url",
			snap: credentials.Snapshot{IsSelfHostedAuthenticated: true, SelfHostedToken: "t"},
			want: KindHosted,
		},
		{
			name: "authenticated without token",
			snap: credentials.Snapshot{IsSelfHostedAuthenticated: true, ServerURL: "http://x"},
			want: KindHosted,
		},
		{
			name: "url and token but not authenticated",
			snap: credentials.Snapshot{ServerURL: "http://x", SelfHostedToken: "t"},
			want: KindHosted,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := &recordingFactory{}
			got := Select(tc.snap, f)
			if got.Kind != tc.want {
				t.Errorf("Select() kind = %s, want %s", got.Kind, tc.want)
			}
		})
	}
}

func TestSelect_PassesCredentials(t *testing.T) {
	f := &recordingFactory{}
	Select(credentials.Snapshot{
		IsSelfHostedAuthenticated: true,
		ServerURL:                 "http://owui:8080",
		SelfHostedToken:           "tok",
		HostedToken:               "hosted",
	}, f)
	if f.serverURL != "http://owui:8080" || f.selfToken != "tok" {
		t.Errorf("self-hosted factory got (%q, %q)", f.serverURL, f.selfToken)
	}
	if f.hostedToken != "" {
		t.Errorf("hosted factory should not be called, got token %q", f.hostedToken)
	}

	f = &recordingFactory{}
	Select(credentials.Snapshot{HostedToken: "hosted"}, f)
	if f.hostedToken != "hosted" {
		t.Errorf("hosted factory got token %q, want hosted", f.hostedToken)
	}
}

func TestFromModel(t *testing.T) {
	msgs := []model.Message{
		model.NewUserMessage("hi"),
		model.NewMessage(model.RoleAssistant, "hello"),
	}
	got := FromModel(msgs)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Role != "user" || got[0].Content != "hi" {
		t.Errorf("got[0] = %+v", got[0])
	}
	if got[1].Role != "assistant" || got[1].Content != "hello" {
		t.Errorf("got[1] = %+v", got[1])
	}
}

func TestChatResponse_Content(t *testing.T) {
	var nilResp *ChatResponse
	if nilResp.Content() != "" {
		t.Errorf("nil response content should be empty")
	}
	resp := &ChatResponse{Choices: []Choice{{Message: Message{Role: "assistant", Content: "x"}}}}
	if resp.Content() != "x" {
		t.Errorf("Content() = %q, want x", resp.Content())
	}
}
