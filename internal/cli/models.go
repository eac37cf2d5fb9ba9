// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// models.go - List and choose models.
//
// Examples:
//
//	palaver models list
//	palaver models list --remote      Ask the active backend
//	palaver models use claude-3-5-sonnet

package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/palaver/internal/config"
	"github.com/jeranaias/palaver/internal/model"
)

type modelsView struct {
	Backend  string        `json:"backend"`
	Selected string        `json:"selected"`
	Models   []model.Model `json:"models"`
}

func (r *runner) modelsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List and select models",
	}
	cmd.AddCommand(r.modelsListCommand(), r.modelsUseCommand())
	return cmd
}

func (r *runner) modelsListCommand() *cobra.Command {
	var remote bool
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List the models you can chat with",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.withApp(cmd.Context(), func(ctx context.Context, app *App) error {
				models := app.Store.AvailableModels()
				if remote {
					list, err := app.ListModels(ctx)
					if err != nil {
						return fmt.Errorf("list models: %w", err)
					}
					models = list
				}
				v := modelsView{
					Backend:  app.Backend().String(),
					Selected: app.Store.SelectedModel().ID,
					Models:   models,
				}
				return r.emit(cmd, v, func() {
					r.info("%s %s\n", TitleStyle.Render("Models"), DimStyle.Render("("+v.Backend+")"))
					for _, m := range v.Models {
						marker := " "
						if m.ID == v.Selected {
							marker = selectedMarker
						}
						r.printf("%s %-32s %s\n", marker, m.ID, DimStyle.Render(m.DisplayName()))
					}
				})
			})
		},
	}
	cmd.Flags().BoolVar(&remote, "remote", false, "fetch the list from the active backend")
	return cmd
}

// modelsUseCommand stores the default model in the config file. Selection
// inside a running session is not persisted; this is the durable choice.
func (r *runner) modelsUseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "use <id>",
		Short: "Set the default model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(r.opts.ConfigPath)
			if err != nil {
				return &CommandError{Code: ExitConfigError, Err: err}
			}
			id := args[0]
			if _, ok := model.FindModel(model.HostedCatalogue(), id); !ok {
				r.info("%s %s is not in the hosted catalogue; it will only work on a self-hosted server\n",
					WarningStyle.Render("Note:"), id)
			}
			cfg.DefaultModel = id
			if err := r.saveConfig(cfg); err != nil {
				return err
			}
			return r.emit(cmd, map[string]string{"default_model": id}, func() {
				r.printf("%s %s\n", SuccessStyle.Render("Default model:"), id)
			})
		},
	}
}

// saveConfig writes cfg back to --config, or to the default location.
func (r *runner) saveConfig(cfg *config.Config) error {
	var err error
	switch path := r.opts.ConfigPath; {
	case path == "":
		err = config.Save(cfg)
	case strings.HasSuffix(path, ".json"):
		err = config.SaveJSON(cfg, path)
	default:
		err = config.SaveTOML(cfg, path)
	}
	if err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	return nil
}
