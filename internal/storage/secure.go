// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// =============================================================================
// CONSTANTS
// =============================================================================

// EncryptedPrefix marks a value as encrypted (format: ENC:base64(nonce|ciphertext|tag))
const EncryptedPrefix = "ENC:"

// NonceSize is the size of the nonce/IV for AES-GCM (12 bytes / 96 bits)
const NonceSize = 12

// KeySize is the size of the AES-256 key (32 bytes / 256 bits)
const KeySize = 32

// SaltSize is the size of the salt for key derivation (32 bytes)
const SaltSize = 32

// PBKDF2Iterations is the number of iterations for PBKDF2 key derivation.
const PBKDF2Iterations = 600000

// saltKey holds the base64 salt alongside the encrypted values.
const saltKey = "__palaver_salt"

// =============================================================================
// SECURE KV
// =============================================================================

// SecureKV encrypts values with AES-256-GCM before handing them to an inner
// KV. Keys are stored in the clear. Values written before encryption was
// enabled are returned as-is.
type SecureKV struct {
	inner KV
	aead  cipher.AEAD
}

// NewSecureKV derives the key from passphrase and a salt persisted in inner.
func NewSecureKV(ctx context.Context, inner KV, passphrase string) (*SecureKV, error) {
	return newSecureKV(ctx, inner, passphrase, PBKDF2Iterations)
}

func newSecureKV(ctx context.Context, inner KV, passphrase string, iterations int) (*SecureKV, error) {
	if passphrase == "" {
		return nil, errors.New("encryption passphrase is empty")
	}

	salt, err := loadOrCreateSalt(ctx, inner)
	if err != nil {
		return nil, err
	}

	key := pbkdf2.Key([]byte(passphrase), salt, iterations, KeySize, sha256.New)
	defer zeroBytes(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &SecureKV{inner: inner, aead: aead}, nil
}

func loadOrCreateSalt(ctx context.Context, inner KV) ([]byte, error) {
	encoded, ok, err := inner.Get(ctx, saltKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read salt: %w", err)
	}
	if ok {
		salt, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("stored salt is corrupt: %w", err)
		}
		return salt, nil
	}

	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	if err := inner.Set(ctx, saltKey, base64.StdEncoding.EncodeToString(salt)); err != nil {
		return nil, fmt.Errorf("failed to store salt: %w", err)
	}
	return salt, nil
}

// Get implements KV.
func (s *SecureKV) Get(ctx context.Context, key string) (string, bool, error) {
	v, ok, err := s.inner.Get(ctx, key)
	if err != nil || !ok {
		return v, ok, err
	}
	plain, err := s.decrypt(v)
	if err != nil {
		return "", false, fmt.Errorf("key %q: %w", key, err)
	}
	return plain, true, nil
}

// Set implements KV.
func (s *SecureKV) Set(ctx context.Context, key, value string) error {
	enc, err := s.encrypt(value)
	if err != nil {
		return err
	}
	return s.inner.Set(ctx, key, enc)
}

// Delete implements KV.
func (s *SecureKV) Delete(ctx context.Context, key string) error {
	return s.inner.Delete(ctx, key)
}

// Close implements KV.
func (s *SecureKV) Close() error {
	return s.inner.Close()
}

// Inner returns the wrapped store.
func (s *SecureKV) Inner() KV {
	return s.inner
}

func (s *SecureKV) encrypt(plaintext string) (string, error) {
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return EncryptedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

func (s *SecureKV) decrypt(value string) (string, error) {
	if !IsEncrypted(value) {
		return value, nil
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, EncryptedPrefix))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}
	if len(data) < NonceSize {
		return "", ErrInvalidCiphertext
	}

	plain, err := s.aead.Open(nil, data[:NonceSize], data[NonceSize:], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plain), nil
}

// IsEncrypted checks if a string value is encrypted (has ENC: prefix).
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, EncryptedPrefix)
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
