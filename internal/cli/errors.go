// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// errors.go - Error classification and display for palaver commands.
//
// Commands always return errors; Execute decides how to show them and
// which exit code to use.

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/jeranaias/palaver/internal/chat"
	"github.com/jeranaias/palaver/internal/config"
	"github.com/jeranaias/palaver/internal/gateway"
	"github.com/jeranaias/palaver/internal/openwebui"
	"github.com/jeranaias/palaver/internal/storage"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	ExitSuccess       = 0
	ExitGeneralError  = 1
	ExitUsageError    = 2
	ExitConfigError   = 3
	ExitAuthError     = 4
	ExitNetworkError  = 5
	ExitStorageError  = 6
	ExitNotFoundError = 7
	ExitTimeoutError  = 8
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// CommandError pins an exit code (and optionally a hint) to an error.
type CommandError struct {
	Code int
	Hint string
	Err  error
}

func (e *CommandError) Error() string {
	return e.Err.Error()
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// NotFoundError is returned when a named resource does not exist.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrNotFound builds a NotFoundError.
func ErrNotFound(resource, id string) error {
	return &NotFoundError{Resource: resource, ID: id}
}

// usageError marks bad arguments.
func usageError(format string, args ...any) error {
	return &CommandError{Code: ExitUsageError, Err: fmt.Errorf(format, args...)}
}

// =============================================================================
// CLASSIFICATION
// =============================================================================

// GetExitCode maps an error to a process exit code.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var cmdErr *CommandError
	if errors.As(err, &cmdErr) && cmdErr.Code != 0 {
		return cmdErr.Code
	}
	var nf *NotFoundError
	if errors.As(err, &nf) {
		return ExitNotFoundError
	}
	if isAuthError(err) {
		return ExitAuthError
	}

	var verrs config.ValidateErrors
	if errors.As(err, &verrs) {
		return ExitConfigError
	}
	if errors.Is(err, storage.ErrDecryptionFailed) {
		return ExitStorageError
	}
	if errors.Is(err, chat.ErrEmptyMessage) {
		return ExitUsageError
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ExitTimeoutError
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ExitNetworkError
	}
	return ExitGeneralError
}

func isAuthError(err error) bool {
	if errors.Is(err, gateway.ErrAuthFailed) {
		return true
	}
	var apiErr *openwebui.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden
	}
	return false
}

// hintFor suggests the next step for common failures.
func hintFor(err error) string {
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) && cmdErr.Hint != "" {
		return cmdErr.Hint
	}
	switch GetExitCode(err) {
	case ExitAuthError:
		return "sign in again with 'palaver auth hosted <token>' or 'palaver auth login <server> <email>'"
	case ExitConfigError:
		return "check the file shown by 'palaver config path', or run 'palaver config init'"
	case ExitStorageError:
		return "storage is encrypted; export the passphrase variable named by storage.passphrase_env"
	case ExitNetworkError:
		return "check the server URL and your network connection"
	}
	return ""
}

// DisplayError prints err (and a hint when one applies) to w.
func DisplayError(w io.Writer, err error) {
	fmt.Fprintf(w, "%s %s\n", ErrorStyle.Render("Error:"), strings.TrimSpace(err.Error()))
	if hint := hintFor(err); hint != "" {
		fmt.Fprintf(w, "%s %s\n", DimStyle.Render("Hint:"), hint)
	}
}
