package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/florianilch/realmauth/internal/auth"
	"github.com/florianilch/realmauth/internal/autherr"
)

func loginCommand(environ func() []string) *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "log in and store the resulting tokens",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "manual",
				Usage: "print the login URL instead of opening a browser",
			},
			&cli.StringFlag{
				Name:  "code",
				Usage: "exchange an authorization code obtained elsewhere (see authorize-url)",
			},
			&cli.StringFlag{
				Name:  "redirect-uri",
				Usage: "redirect URI the --code was issued for",
			},
			&cli.StringFlag{
				Name:  "code-verifier",
				Usage: "PKCE verifier the --code was requested with, as printed by authorize-url",
			},
			&cli.StringSliceFlag{
				Name:  "app",
				Usage: "open the login URL with this command instead of the default browser",
			},
			&cli.BoolFlag{
				Name:  "wait",
				Usage: "wait for --app to exit",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "interactive login timeout, overrides auth.interactive_timeout",
			},
			&cli.BoolFlag{
				Name:  "password-stdin",
				Usage: "read the password from stdin",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "print the stored account as JSON",
			},
		},
		Action: withSession(environ, loginAction),
	}
}

func loginAction(ctx context.Context, cmd *cli.Command, s *session) error {
	opts := auth.LoginOptions{
		Manual:       cmd.Bool("manual"),
		RedirectURI:  cmd.String("redirect-uri"),
		CodeVerifier: cmd.String("code-verifier"),
		App:          cmd.StringSlice("app"),
		Wait:         cmd.Bool("wait"),
		Timeout:      cmd.Duration("timeout"),
		OnURL: func(url string) {
			_, _ = fmt.Fprintf(s.err, "Opening %s\n", url)
		},
	}
	if cmd.IsSet("code") {
		opts.Code = auth.String(cmd.String("code"))
	}

	if s.cfg.Auth.Username != "" && s.cfg.Auth.Password == "" {
		password, err := readPassword(cmd, s)
		if err != nil {
			return err
		}
		opts.Password = password
	}

	res, err := s.app.Auth().Login(ctx, opts)
	if err != nil {
		return err
	}

	if res.Pending != nil {
		_, _ = fmt.Fprintf(s.out, "Open this URL to log in:\n\n  %s\n\n", res.Pending.URL)
		res, err = res.Pending.Wait(ctx)
		if err != nil {
			return err
		}
	}

	if cmd.Bool("json") {
		return printJSON(s.out, res.Record)
	}
	_, err = fmt.Fprintf(s.out, "Logged in as %s\n", describeAccount(res.Account, res.Email))
	return err
}

func authorizeURLCommand(environ func() []string) *cli.Command {
	return &cli.Command{
		Name:  "authorize-url",
		Usage: "print a PKCE authorize URL and its verifier, for a later login --code",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "redirect-uri",
				Usage:    "redirect URI registered for the client",
				Required: true,
			},
		},
		Action: withSession(environ, func(ctx context.Context, cmd *cli.Command, s *session) error {
			authenticator, err := s.app.Auth().Authenticator(ctx, auth.LoginOptions{})
			if err != nil {
				return err
			}
			pkce, ok := authenticator.(*auth.PKCE)
			if !ok {
				return autherr.InvalidArgument("Authorize URLs require the PKCE authenticator, configured: %s", authenticator.Name())
			}

			redirectURI := cmd.String("redirect-uri")
			return printJSON(s.out, struct {
				URL          string `json:"url"`
				CodeVerifier string `json:"code_verifier"`
				RedirectURI  string `json:"redirect_uri"`
			}{pkce.AuthCodeURL(redirectURI), pkce.Verifier(), redirectURI})
		}),
	}
}

// readPassword reads the password from stdin, prompting without echo when
// stdin is a terminal.
func readPassword(cmd *cli.Command, s *session) (string, error) {
	stdin := cmd.Root().Reader
	if stdin == nil {
		stdin = os.Stdin
	}

	if f, ok := stdin.(*os.File); ok && !cmd.Bool("password-stdin") && term.IsTerminal(int(f.Fd())) {
		_, _ = fmt.Fprintf(s.err, "Password for %s: ", s.cfg.Auth.Username)
		password, err := term.ReadPassword(int(f.Fd()))
		_, _ = fmt.Fprintln(s.err)
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return string(password), nil
	}

	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func describeAccount(account, email string) string {
	if email == "" || email == account {
		return account
	}
	return fmt.Sprintf("%s <%s>", account, email)
}
