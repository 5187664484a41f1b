package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/florianilch/realmauth/internal/auth"
	"github.com/florianilch/realmauth/internal/autherr"
)

func tokenCommand(environ func() []string) *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "print a valid access token, refreshing it when needed",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "refresh",
				Usage: "refresh even if the current token is still valid",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "print the token set as JSON",
			},
		},
		Action: withSession(environ, func(ctx context.Context, cmd *cli.Command, s *session) error {
			set, err := s.app.Auth().GetToken(ctx, auth.LoginOptions{}, cmd.Bool("refresh"))
			if err != nil {
				return err
			}
			if cmd.Bool("json") {
				return printJSON(s.out, set.OAuth2Token())
			}
			_, err = fmt.Fprintln(s.out, set.AccessToken)
			return err
		}),
	}
}

func accountCommand(environ func() []string) *cli.Command {
	return &cli.Command{
		Name:      "account",
		Usage:     "show the stored account for the configured client, or the named one",
		ArgsUsage: "[account]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "hash",
				Usage: "look the account up by its hash",
			},
		},
		Action: withSession(environ, func(ctx context.Context, cmd *cli.Command, s *session) error {
			rec, err := s.app.Auth().GetAccount(ctx, auth.AccountQuery{
				AccountName: cmd.Args().First(),
				Hash:        cmd.String("hash"),
			})
			if err != nil {
				return err
			}
			if rec == nil {
				return autherr.New(autherr.CodeInvalidToken, "Login required")
			}
			return printJSON(s.out, rec)
		}),
	}
}

func listCommand(environ func() []string) *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "list stored accounts",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "json",
				Usage: "print as JSON",
			},
		},
		Action: withSession(environ, func(ctx context.Context, cmd *cli.Command, s *session) error {
			records, err := s.app.Auth().List(ctx)
			if err != nil {
				return err
			}
			if cmd.Bool("json") {
				return printJSON(s.out, records)
			}
			if len(records) == 0 {
				_, err := fmt.Fprintln(s.out, "No accounts")
				return err
			}
			renderAccounts(s.out, records)
			return nil
		}),
	}
}

func revokeCommand(environ func() []string) *cli.Command {
	return &cli.Command{
		Name:      "revoke",
		Usage:     "remove stored accounts and end their provider sessions",
		ArgsUsage: "[account...]",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "all",
				Usage: "revoke every stored account",
			},
			&cli.StringFlag{
				Name:  "base-url",
				Usage: "only revoke accounts of this provider",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "print the revoked accounts as JSON",
			},
		},
		Action: withSession(environ, func(ctx context.Context, cmd *cli.Command, s *session) error {
			revoked, err := s.app.Auth().Revoke(ctx, auth.RevokeOptions{
				Accounts: cmd.Args().Slice(),
				All:      cmd.Bool("all"),
				BaseURL:  cmd.String("base-url"),
			})
			if err != nil {
				return err
			}
			if cmd.Bool("json") {
				return printJSON(s.out, revoked)
			}
			if len(revoked) == 0 {
				_, err := fmt.Fprintln(s.out, "No accounts revoked")
				return err
			}
			for _, rec := range revoked {
				if _, err := fmt.Fprintf(s.out, "Revoked %s (%s)\n", rec.Name, rec.BaseURL); err != nil {
					return err
				}
			}
			return nil
		}),
	}
}
