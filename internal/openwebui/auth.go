// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package openwebui

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// =============================================================================
// AUTH TYPES
// =============================================================================

// User is an Open-WebUI account.
type User struct {
	ID              string `json:"id"`
	Email           string `json:"email"`
	Name            string `json:"name"`
	Role            string `json:"role"`
	ProfileImageURL string `json:"profile_image_url,omitempty"`
}

// AuthResult is the outcome of a sign-in or sign-up.
type AuthResult struct {
	Token     string `json:"token"`
	TokenType string `json:"token_type"`
	User      User   `json:"-"`
}

// authResponse is the flat body returned by the signin and signup endpoints.
type authResponse struct {
	Token     string `json:"token"`
	TokenType string `json:"token_type"`
	User
}

// =============================================================================
// AUTH CLIENT
// =============================================================================

// SignIn exchanges email and password for a token.
func (c *Client) SignIn(ctx context.Context, email, password string) (*AuthResult, error) {
	return c.authPost(ctx, "/api/v1/auths/signin", map[string]string{
		"email":    email,
		"password": password,
	})
}

// SignUp creates an account and returns its token.
func (c *Client) SignUp(ctx context.Context, name, email, password string) (*AuthResult, error) {
	return c.authPost(ctx, "/api/v1/auths/signup", map[string]string{
		"name":     name,
		"email":    email,
		"password": password,
	})
}

// CurrentUser returns the account behind token.
func (c *Client) CurrentUser(ctx context.Context, token string) (*User, error) {
	body, err := c.get(ctx, "/api/v1/auths/", token)
	if err != nil {
		return nil, err
	}
	var user User
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, fmt.Errorf("failed to parse user: %w", err)
	}
	return &user, nil
}

// ValidateToken returns the account behind token, or nil when the token is
// rejected or the server cannot be reached.
func (c *Client) ValidateToken(ctx context.Context, token string) *User {
	user, err := c.CurrentUser(ctx, token)
	if err != nil {
		c.log.Debug().Err(err).Msg("open-webui token validation failed")
		return nil
	}
	return user
}

func (c *Client) authPost(ctx context.Context, path string, payload map[string]string) (*AuthResult, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var resp authResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse auth response: %w", err)
	}
	if resp.Token == "" {
		return nil, fmt.Errorf("auth response did not include a token")
	}
	return &AuthResult{Token: resp.Token, TokenType: resp.TokenType, User: resp.User}, nil
}
