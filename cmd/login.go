package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/kintoadm/internal/auth"
	"github.com/fakeyudi/kintoadm/internal/callback"
	"github.com/fakeyudi/kintoadm/internal/prompt"
)

// loginTimeout bounds how long an OpenID login waits for the browser.
const loginTimeout = 5 * time.Minute

var (
	loginServer   string
	loginAuthType string
	loginUser     string
	loginPassword string
	loginToken    string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate against a Kinto server",
	Long: `Authenticate against a Kinto server and remember the session.

Missing values are asked interactively. Password methods are basicauth,
accounts and ldap. OpenID logins ("openid-<provider>") open a loopback
callback server and print the URL to visit; pass --token to reuse a token
obtained elsewhere.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		given := prompt.Answers{
			Server:   firstNonEmpty(loginServer, cfg.Server),
			AuthType: firstNonEmpty(loginAuthType, cfg.AuthType),
			Username: loginUser,
			Password: loginPassword,
		}
		if loginToken != "" && given.AuthType == "" {
			given.AuthType = auth.MethodOpenID
		}

		answers, err := prompt.New(cmd.InOrStdin(), cmd.OutOrStdout()).Login(given, servers.List())
		if err != nil {
			return err
		}

		creds, err := credentialsFor(cmd.Context(), cmd, answers)
		if err != nil {
			return err
		}

		if err := manager.Setup(cmd.Context(), creds); err != nil {
			return err
		}
		sess := manager.Snapshot()
		who := auth.Display(sess.Auth)
		if sess.ServerInfo != nil && sess.ServerInfo.User != nil {
			who = sess.ServerInfo.User.ID
		}
		cmd.Printf("Logged in to %s as %s\n", sess.Auth.ServerURL(), who)
		return nil
	},
}

// credentialsFor turns the login answers into credentials, running the
// browser flow for token methods without a --token.
func credentialsFor(ctx context.Context, cmd *cobra.Command, a prompt.Answers) (auth.Credentials, error) {
	method, provider := auth.SplitAuthType(a.AuthType)
	switch method {
	case auth.MethodAnonymous:
		return auth.Anonymous{Server: a.Server}, nil
	case auth.MethodBasicAuth, auth.MethodAccounts, auth.MethodLDAP:
		return auth.Basic{Server: a.Server, Type: method, Username: a.Username, Password: a.Password}, nil
	case auth.MethodOpenID, auth.MethodPortier, auth.MethodFxA:
		if loginToken != "" {
			if method == auth.MethodOpenID && provider == "" {
				return nil, auth.ErrMissingProvider
			}
			return auth.Token{Server: a.Server, Type: method, Provider: provider, TokenType: "Bearer", Token: loginToken}, nil
		}
		if method != auth.MethodOpenID {
			return nil, fmt.Errorf("%w: %s requires --token", auth.ErrUnsupportedAuthType, method)
		}
		if provider == "" {
			return nil, auth.ErrMissingProvider
		}
		return openIDLogin(ctx, cmd, a)
	default:
		return nil, fmt.Errorf("%w: %q", auth.ErrUnsupportedAuthType, a.AuthType)
	}
}

func openIDLogin(ctx context.Context, cmd *cobra.Command, a prompt.Answers) (auth.Credentials, error) {
	srv, err := callback.Listen(cfg.CallbackAddr, bus, logger)
	if err != nil {
		return nil, err
	}
	defer srv.Close()

	payload, err := auth.EncodePayload(auth.Payload{Server: a.Server, AuthType: a.AuthType})
	if err != nil {
		return nil, err
	}
	_, provider := auth.SplitAuthType(a.AuthType)
	loginURL := auth.LoginURL(a.Server, provider, srv.CallbackURL(payload))

	cmd.Println("Open this URL in your browser to log in:")
	cmd.Println()
	cmd.Println("  " + loginURL)
	cmd.Println()
	cmd.Println("Waiting for the login to complete…")

	ctx, cancel := context.WithTimeout(ctx, loginTimeout)
	defer cancel()
	res, err := srv.Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("openid login: %w", err)
	}
	if err := checkCallbackServer(res, a.Server); err != nil {
		logger.Warn().Str("server", a.Server).Str("payload_server", res.Payload.Server).Msg("OpenID callback for another server rejected")
		return nil, err
	}
	logger.Info().Str("server", res.Payload.Server).Str("redirect", res.Redirect).Msg("OpenID callback received")
	return res.Credentials, nil
}

// checkCallbackServer rejects a callback whose payload or token belongs to a
// server other than the one the login was started for.
func checkCallbackServer(res callback.Result, server string) error {
	if res.Payload.Server != server {
		return fmt.Errorf("openid login: callback is for %q, not %q", res.Payload.Server, server)
	}
	if res.Credentials.Server != server {
		return fmt.Errorf("openid login: token is for %q, not %q", res.Credentials.Server, server)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the current session",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := manager.Logout(); err != nil {
			return err
		}
		cmd.Println("Logged out.")
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVar(&loginServer, "server", "", "server URL, e.g. https://kinto.example.com/v1")
	loginCmd.Flags().StringVar(&loginAuthType, "auth", "", "auth type: anonymous, basicauth, accounts, ldap or openid-<provider>")
	loginCmd.Flags().StringVarP(&loginUser, "user", "u", "", "username for password methods")
	loginCmd.Flags().StringVarP(&loginPassword, "password", "p", "", "password for password methods")
	loginCmd.Flags().StringVar(&loginToken, "token", "", "bearer token for openid, portier or fxa")
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
}
