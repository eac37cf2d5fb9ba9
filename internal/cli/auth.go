// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// auth.go - Sign in to the hosted gateway or a self-hosted server.
//
// Examples:
//
//	palaver auth hosted <token>
//	palaver auth login https://chat.example.com me@example.com
//	palaver auth login https://chat.example.com me@example.com --signup --name Me
//	palaver auth token https://chat.example.com <api token>
//	palaver auth logout selfhosted
//	palaver auth server https://chat.example.com
//	palaver auth server --clear
//	palaver auth status --verify
//
// Once signed in to a self-hosted server every message goes there; sign
// out of it to fall back to the hosted gateway.

package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/palaver/internal/credentials"
	"github.com/jeranaias/palaver/internal/openwebui"
)

func (r *runner) authCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage backend credentials",
	}
	cmd.AddCommand(
		r.authHostedCommand(),
		r.authLoginCommand(),
		r.authTokenCommand(),
		r.authLogoutCommand(),
		r.authServerCommand(),
		r.authStatusCommand(),
	)
	return cmd
}

func (r *runner) authHostedCommand() *cobra.Command {
	var verify bool
	cmd := &cobra.Command{
		Use:   "hosted <token>",
		Short: "Store the hosted gateway token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.withApp(cmd.Context(), func(ctx context.Context, app *App) error {
				token := strings.TrimSpace(args[0])
				user := ""
				if verify {
					u, err := app.GatewayClient(token).WhoAmI(ctx)
					if err != nil {
						return fmt.Errorf("verify token: %w", err)
					}
					user = u.Username
				}
				if err := app.Creds.SetHostedAuth(ctx, token); err != nil {
					return err
				}
				return r.emit(cmd, map[string]string{"backend": "hosted", "user": user}, func() {
					r.printf("%s hosted gateway token saved", SuccessStyle.Render("OK"))
					if user != "" {
						r.printf(" (%s)", user)
					}
					r.printf("\n")
				})
			})
		},
	}
	cmd.Flags().BoolVar(&verify, "verify", true, "check the token with the gateway before saving")
	return cmd
}

func (r *runner) authLoginCommand() *cobra.Command {
	var (
		signup        bool
		name          string
		passwordStdin bool
	)
	cmd := &cobra.Command{
		Use:   "login <server> <email>",
		Short: "Sign in to an Open-WebUI server",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			server := credentials.NormalizeServerURL(args[0])
			email := strings.TrimSpace(args[1])
			if server == "" || email == "" {
				return usageError("server and email are required")
			}
			if signup && strings.TrimSpace(name) == "" {
				return usageError("--name is required with --signup")
			}

			prompt := "Password: "
			if passwordStdin {
				prompt = ""
			}
			password, err := readPassword(r.err, r.in, prompt)
			if err != nil {
				return err
			}
			if password == "" {
				return usageError("password is empty")
			}

			return r.withApp(cmd.Context(), func(ctx context.Context, app *App) error {
				client := app.OpenWebUIClient(server, "")
				signIn := client.SignIn
				if signup {
					signIn = func(ctx context.Context, email, password string) (*openwebui.AuthResult, error) {
						return client.SignUp(ctx, name, email, password)
					}
				}
				res, err := signIn(ctx, email, password)
				if err != nil {
					return &CommandError{Code: ExitAuthError, Err: fmt.Errorf("sign in to %s: %w", server, err)}
				}
				if err := app.Creds.SetSelfHostedAuth(ctx, server, res.Token); err != nil {
					return err
				}
				return r.emit(cmd, map[string]string{
					"backend": "selfhosted",
					"server":  server,
					"user":    res.User.Email,
					"role":    res.User.Role,
				}, func() {
					r.printf("%s signed in to %s as %s\n", SuccessStyle.Render("OK"), server, res.User.Email)
					if res.User.Role == "pending" {
						r.info("%s the account is pending approval by an administrator\n", WarningStyle.Render("Note:"))
					}
				})
			})
		},
	}
	cmd.Flags().BoolVar(&signup, "signup", false, "create the account first")
	cmd.Flags().StringVar(&name, "name", "", "display name for --signup")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "read the password from stdin")
	return cmd
}

func (r *runner) authTokenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "token <server> <token>",
		Short: "Use an existing Open-WebUI API token",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			server := credentials.NormalizeServerURL(args[0])
			token := strings.TrimSpace(args[1])
			return r.withApp(cmd.Context(), func(ctx context.Context, app *App) error {
				user := app.OpenWebUIClient(server, token).ValidateToken(ctx, token)
				if user == nil {
					return &CommandError{Code: ExitAuthError, Err: fmt.Errorf("%s rejected the token", server)}
				}
				if err := app.Creds.SetSelfHostedAuth(ctx, server, token); err != nil {
					return err
				}
				return r.emit(cmd, map[string]string{"backend": "selfhosted", "server": server, "user": user.Email}, func() {
					r.printf("%s using %s as %s\n", SuccessStyle.Render("OK"), server, user.Email)
				})
			})
		},
	}
}

func (r *runner) authLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:       "logout [hosted|selfhosted|all]",
		Short:     "Forget stored credentials",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"hosted", "selfhosted", "all"},
		RunE: func(cmd *cobra.Command, args []string) error {
			which := "all"
			if len(args) == 1 {
				which = args[0]
			}
			return r.withApp(cmd.Context(), func(ctx context.Context, app *App) error {
				if which == "hosted" || which == "all" {
					if err := app.Creds.ClearHostedAuth(ctx); err != nil {
						return err
					}
				}
				if which == "selfhosted" || which == "all" {
					if err := app.Creds.ClearSelfHostedAuth(ctx); err != nil {
						return err
					}
				}
				return r.emit(cmd, map[string]string{"logged_out": which}, func() {
					r.printf("%s signed out (%s)\n", SuccessStyle.Render("OK"), which)
				})
			})
		},
	}
}

func (r *runner) authServerCommand() *cobra.Command {
	var forget bool
	cmd := &cobra.Command{
		Use:   "server [url]",
		Short: "Show, set or forget the self-hosted server URL",
		Long: `Show, set or forget the self-hosted server URL.

The URL is kept after "auth logout" so the next "auth login" can reuse it.
Clearing it also stops messages going to the self-hosted server.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if forget && len(args) == 1 {
				return usageError("give a URL or --clear, not both")
			}
			return r.withApp(cmd.Context(), func(ctx context.Context, app *App) error {
				switch {
				case forget:
					if err := app.Creds.ClearServerURL(ctx); err != nil {
						return err
					}
				case len(args) == 1:
					server := credentials.NormalizeServerURL(args[0])
					if server == "" {
						return usageError("server URL is empty")
					}
					if err := app.Creds.SetServerURL(ctx, server); err != nil {
						return err
					}
				}
				server := app.Creds.Snapshot().ServerURL
				return r.emit(cmd, map[string]string{"server_url": server}, func() {
					if server == "" {
						r.printf("%s\n", DimStyle.Render("No self-hosted server configured."))
						return
					}
					r.printf("%s\n", RenderKV("Server:", server))
				})
			})
		},
	}
	cmd.Flags().BoolVar(&forget, "clear", false, "forget the server URL")
	return cmd
}

type authStatus struct {
	Backend             string `json:"backend"`
	HostedSignedIn      bool   `json:"hosted_signed_in"`
	SelfHostedSignedIn  bool   `json:"selfhosted_signed_in"`
	ServerURL           string `json:"server_url,omitempty"`
	HostedUser          string `json:"hosted_user,omitempty"`
	SelfHostedUser      string `json:"selfhosted_user,omitempty"`
	VerificationFailure string `json:"verification_failure,omitempty"`
}

func (r *runner) authStatusCommand() *cobra.Command {
	var verify bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show which backend messages go to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.withApp(cmd.Context(), func(ctx context.Context, app *App) error {
				snap := app.Creds.Snapshot()
				st := authStatus{
					Backend:            app.Backend().String(),
					HostedSignedIn:     snap.IsHostedAuthenticated,
					SelfHostedSignedIn: snap.IsSelfHostedAuthenticated,
					ServerURL:          snap.ServerURL,
				}
				if verify {
					r.verifyStatus(ctx, app, snap, &st)
				}
				return r.emit(cmd, st, func() {
					r.printf("%s\n", TitleStyle.Render("Credentials"))
					r.printf("%s\n", RenderKV("Active backend:", st.Backend))
					r.printf("%s %s\n", RenderKV("Hosted:", signedIn(st.HostedSignedIn, st.HostedUser)), RenderStatus(yesNo(st.HostedSignedIn)))
					r.printf("%s %s\n", RenderKV("Self-hosted:", signedIn(st.SelfHostedSignedIn, st.SelfHostedUser)), RenderStatus(yesNo(st.SelfHostedSignedIn)))
					if st.ServerURL != "" {
						r.printf("%s\n", RenderKV("Server:", st.ServerURL))
					}
					if st.VerificationFailure != "" {
						r.printf("%s %s\n", WarningStyle.Render("Verification:"), st.VerificationFailure)
					}
				})
			})
		},
	}
	cmd.Flags().BoolVar(&verify, "verify", false, "check stored tokens against the servers")
	return cmd
}

func (r *runner) verifyStatus(ctx context.Context, app *App, snap credentials.Snapshot, st *authStatus) {
	var failures []string
	if snap.IsHostedAuthenticated {
		if u, err := app.GatewayClient(snap.HostedToken).WhoAmI(ctx); err != nil {
			failures = append(failures, "hosted: "+err.Error())
		} else {
			st.HostedUser = u.Username
		}
	}
	if snap.IsSelfHostedAuthenticated {
		c := app.OpenWebUIClient(snap.ServerURL, snap.SelfHostedToken)
		if u := c.ValidateToken(ctx, snap.SelfHostedToken); u == nil {
			failures = append(failures, "self-hosted: token rejected")
		} else {
			st.SelfHostedUser = u.Email
		}
	}
	st.VerificationFailure = strings.Join(failures, "; ")
}

func signedIn(ok bool, user string) string {
	switch {
	case !ok:
		return "signed out"
	case user != "":
		return "signed in as " + user
	default:
		return "signed in"
	}
}

func yesNo(b bool) string {
	if b {
		return "ok"
	}
	return "no"
}
