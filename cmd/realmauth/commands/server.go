package commands

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/florianilch/realmauth/internal/auth"
)

func serverInfoCommand(environ func() []string) *cli.Command {
	return &cli.Command{
		Name:  "server-info",
		Usage: "print the provider's OpenID configuration",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "url",
				Usage: "OpenID configuration URL, overrides base URL and realm",
			},
		},
		Action: withSession(environ, func(ctx context.Context, cmd *cli.Command, s *session) error {
			info, err := s.app.Auth().ServerInfo(ctx, auth.ServerInfoOptions{URL: cmd.String("url")})
			if err != nil {
				return err
			}
			return printJSON(s.out, info)
		}),
	}
}

func userInfoCommand(environ func() []string) *cli.Command {
	return &cli.Command{
		Name:  "userinfo",
		Usage: "print the claims the provider returns for the stored account",
		Action: withSession(environ, func(ctx context.Context, cmd *cli.Command, s *session) error {
			claims, err := s.app.Auth().UserInfo(ctx, auth.LoginOptions{})
			if err != nil {
				return err
			}
			return printJSON(s.out, claims)
		}),
	}
}

func configCommand(environ func() []string) *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "print the effective configuration with secrets redacted",
		Action: withSession(environ, func(ctx context.Context, cmd *cli.Command, s *session) error {
			cfg := *s.cfg
			cfg.Auth.ClientSecret = redact(cfg.Auth.ClientSecret)
			cfg.Auth.Password = redact(cfg.Auth.Password)

			return printJSON(s.out, struct {
				Config        any    `json:"config"`
				StoreLocation string `json:"store_location"`
			}{&cfg, s.app.StoreLocation()})
		}),
	}
}

func redact(secret string) string {
	if secret == "" {
		return ""
	}
	return "********"
}
