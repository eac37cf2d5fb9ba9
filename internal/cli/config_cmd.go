// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// config_cmd.go - View and modify the configuration file.
//
// Subcommands:
//
//	show (default)      Display the effective configuration
//	init [--force]      Write a config file with the defaults
//	path                Show the config file location
//	get <key>           Print one value
//	set <key> <value>   Change one value
//	keys                List every key
//
// Examples:
//
//	palaver config set chat.turn_timeout 2m
//	palaver config set storage.backend sqlite
//	palaver config get gateway.base_url
//
// Secrets (server.token, storage.redis_password) are redacted by show
// and get.

package cli

import (
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/jeranaias/palaver/internal/config"
)

var secretKeys = []string{"server.token", "storage.redis_password"}

func (r *runner) configCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.configShow(cmd)
		},
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Display the effective configuration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return r.configShow(cmd)
			},
		},
		r.configInitCommand(),
		r.configPathCommand(),
		r.configGetCommand(),
		r.configSetCommand(),
		r.configKeysCommand(),
	)
	return cmd
}

func (r *runner) configShow(cmd *cobra.Command) error {
	cfg, err := loadConfig(r.opts.ConfigPath)
	if err != nil {
		return &CommandError{Code: ExitConfigError, Err: err}
	}
	if r.opts.JSON {
		view := make(map[string]any, len(config.GetAllKeys()))
		for _, key := range config.GetAllKeys() {
			v, err := cfg.Get(key)
			if err != nil {
				return err
			}
			view[key] = redact(key, v)
		}
		return NewJSONResponse(cmd.CommandPath(), view).Write(r.out)
	}
	r.printf("%s", cfg.String())
	return nil
}

func (r *runner) configPath() (string, error) {
	if r.opts.ConfigPath != "" {
		return r.opts.ConfigPath, nil
	}
	return config.ConfigPathTOML()
}

func (r *runner) configInitCommand() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with the defaults",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := r.configPath()
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); err == nil && !force {
				return &CommandError{
					Code: ExitUsageError,
					Err:  fmt.Errorf("%s already exists", path),
					Hint: "Use --force to overwrite it",
				}
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			if err := r.saveConfig(config.Default()); err != nil {
				return err
			}
			return r.emit(cmd, map[string]string{"path": path}, func() {
				r.printf("%s %s\n", SuccessStyle.Render("Wrote"), path)
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func (r *runner) configPathCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show the config file location",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := r.configPath()
			if err != nil {
				return err
			}
			_, statErr := os.Stat(path)
			return r.emit(cmd, map[string]any{"path": path, "exists": statErr == nil}, func() {
				r.printf("%s\n", path)
			})
		},
	}
}

func (r *runner) configGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print one configuration value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(r.opts.ConfigPath)
			if err != nil {
				return &CommandError{Code: ExitConfigError, Err: err}
			}
			v, err := cfg.Get(args[0])
			if err != nil {
				return &CommandError{Code: ExitUsageError, Err: err, Hint: "Run 'palaver config keys' to list keys"}
			}
			v = redact(args[0], v)
			return r.emit(cmd, map[string]any{"key": args[0], "value": v}, func() {
				r.printf("%v\n", v)
			})
		},
	}
}

func (r *runner) configSetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Change one configuration value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(r.opts.ConfigPath)
			if err != nil {
				return &CommandError{Code: ExitConfigError, Err: err}
			}
			key, value := args[0], args[1]
			if err := cfg.Set(key, value); err != nil {
				return &CommandError{Code: ExitUsageError, Err: err, Hint: "Run 'palaver config keys' to list keys"}
			}
			if err := cfg.Validate(); err != nil {
				return &CommandError{Code: ExitConfigError, Err: err}
			}
			if err := r.saveConfig(cfg); err != nil {
				return err
			}
			return r.emit(cmd, map[string]string{"key": key}, func() {
				r.printf("%s %s\n", SuccessStyle.Render("Set"), key)
			})
		},
	}
}

func (r *runner) configKeysCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "keys",
		Short: "List configuration keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			keys := config.GetAllKeys()
			return r.emit(cmd, keys, func() {
				for _, k := range keys {
					r.printf("%s\n", k)
				}
			})
		},
	}
}

func redact(key string, v any) any {
	if s, ok := v.(string); ok && s != "" && slices.Contains(secretKeys, key) {
		return "[REDACTED]"
	}
	return v
}
