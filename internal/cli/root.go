// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information (overridden at build time with -ldflags).
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// =============================================================================
// ROOT COMMAND
// =============================================================================

// runner carries the global flags and I/O into every command.
type runner struct {
	opts Options
	in   io.Reader
	out  io.Writer
	err  io.Writer
}

// NewRootCommand builds the palaver command tree. Tests pass a Factory in
// opts to replace the network backends.
func NewRootCommand(opts Options) *cobra.Command {
	r := &runner{opts: opts, in: os.Stdin, out: os.Stdout, err: os.Stderr}

	root := &cobra.Command{
		Use:   "palaver",
		Short: "Chat with hosted and self-hosted language models",
		Long: `palaver is a terminal chat client. Conversations are kept locally and
every message is answered by the hosted gateway, or by your Open-WebUI
server once you have signed in to one.

Run without a command to start an interactive chat.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			r.in = cmd.InOrStdin()
			r.out = cmd.OutOrStdout()
			r.err = cmd.ErrOrStderr()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.runChat(cmd.Context(), "")
		},
	}
	root.SetVersionTemplate("palaver {{.Version}}\n")

	pf := root.PersistentFlags()
	pf.StringVar(&r.opts.ConfigPath, "config", opts.ConfigPath, "config file (default $PALAVER_HOME/config.toml)")
	pf.StringVarP(&r.opts.Model, "model", "m", opts.Model, "model id for this run")
	pf.StringVar(&r.opts.LogLevel, "log-level", opts.LogLevel, "log level: trace, debug, info, warn, error, off")
	pf.BoolVar(&r.opts.JSON, "json", opts.JSON, "print machine-readable JSON")
	pf.BoolVarP(&r.opts.Quiet, "quiet", "q", opts.Quiet, "print only the essentials")

	root.AddCommand(
		r.chatCommand(),
		r.askCommand(),
		r.serveCommand(),
		r.conversationsCommand(),
		r.modelsCommand(),
		r.authCommand(),
		r.configCommand(),
		r.versionCommand(),
	)
	return root
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCommand(Options{})
	cmd, err := root.ExecuteContextC(ctx)
	if err == nil {
		return ExitSuccess
	}

	jsonMode, _ := root.PersistentFlags().GetBool("json")
	if jsonMode {
		_ = NewJSONErrorResponse(cmd.CommandPath(), err).Write(os.Stdout)
	} else {
		DisplayError(os.Stderr, err)
	}
	if errors.Is(err, context.Canceled) {
		return ExitGeneralError
	}
	return GetExitCode(err)
}

// =============================================================================
// SHARED PLUMBING
// =============================================================================

// withApp opens the app for the duration of fn.
func (r *runner) withApp(ctx context.Context, fn func(ctx context.Context, app *App) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	app, err := OpenApp(ctx, r.opts)
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(ctx, app)
}

// emit prints data as JSON under --json, or runs human otherwise.
func (r *runner) emit(cmd *cobra.Command, data any, human func()) error {
	if r.opts.JSON {
		return NewJSONResponse(cmd.CommandPath(), data).Write(r.out)
	}
	human()
	return nil
}

func (r *runner) printf(format string, args ...any) {
	fmt.Fprintf(r.out, format, args...)
}

// info prints to stderr unless --quiet or --json is set.
func (r *runner) info(format string, args ...any) {
	if r.opts.Quiet || r.opts.JSON {
		return
	}
	fmt.Fprintf(r.err, format, args...)
}

// =============================================================================
// VERSION
// =============================================================================

type versionInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

func (r *runner) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v := versionInfo{
				Version:   Version,
				GitCommit: GitCommit,
				BuildDate: BuildDate,
				GoVersion: runtime.Version(),
				Platform:  runtime.GOOS + "/" + runtime.GOARCH,
			}
			return r.emit(cmd, v, func() {
				r.printf("%s %s\n", TitleStyle.Render("palaver"), v.Version)
				r.printf("%s\n", RenderKV("Commit:", v.GitCommit))
				r.printf("%s\n", RenderKV("Built:", v.BuildDate))
				r.printf("%s\n", RenderKV("Go:", v.GoVersion))
				r.printf("%s\n", RenderKV("Platform:", v.Platform))
			})
		},
	}
}
