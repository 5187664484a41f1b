package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/florianilch/realmauth/internal/app"
	"github.com/florianilch/realmauth/internal/observability"
)

// Execute runs the root command with the given context and arguments.
func Execute(ctx context.Context, args []string) error {
	return newRootCommand(os.Environ).Run(ctx, args)
}

func newRootCommand(environ func() []string) *cli.Command {
	return &cli.Command{
		Name:  "realmauth",
		Usage: "OAuth2/OIDC credentials for Keycloak realms",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config file",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level (debug|info|warn|error)",
				Value: slog.LevelInfo.String(),
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "log format (text|json)",
				Value: string(app.DefaultConfigLogFormat),
			},
			&cli.StringFlag{
				Name:  "log-exporter",
				Usage: "OpenTelemetry log exporter (none|stdout|otlp-http|otlp-grpc)",
				Value: string(app.DefaultConfigLogExporter),
			},
			&cli.StringFlag{
				Name:  "auth--env",
				Usage: "environment (dev|preprod|prod)",
				Value: app.DefaultConfigEnv,
			},
			&cli.StringFlag{
				Name:  "auth--base-url",
				Usage: "identity provider base URL, overrides the environment",
			},
			&cli.StringFlag{
				Name:  "auth--realm",
				Usage: "realm, overrides the environment",
			},
			&cli.StringFlag{
				Name:  "auth--client-id",
				Usage: "client id",
			},
			&cli.StringFlag{
				Name:  "auth--client-secret",
				Usage: "client secret (client credentials grant)",
			},
			&cli.StringFlag{
				Name:  "auth--secret-file",
				Usage: "PEM private key for signed JWT client authentication",
			},
			&cli.StringFlag{
				Name:  "auth--username",
				Usage: "username (password grant)",
			},
			&cli.StringFlag{
				Name:  "auth--password",
				Usage: "password (password grant), prompted when a username is given without one",
			},
			&cli.DurationFlag{
				Name:  "auth--refresh-threshold",
				Usage: "refresh tokens this long before they expire",
			},
			&cli.DurationFlag{
				Name:  "auth--interactive-timeout",
				Usage: "how long to wait for the browser login",
				Value: app.DefaultConfigInteractiveTimeout,
			},
			&cli.BoolFlag{
				Name:  "auth--discovery",
				Usage: "take endpoints from the provider's OpenID configuration",
			},
			&cli.StringFlag{
				Name:  "store--type",
				Usage: "token store (auto|keyring|file|memory|none)",
				Value: string(app.DefaultConfigStoreType),
			},
			&cli.StringFlag{
				Name:  "store--file",
				Usage: "token file for file storage",
			},
		},
		Commands: []*cli.Command{
			loginCommand(environ),
			authorizeURLCommand(environ),
			tokenCommand(environ),
			accountCommand(environ),
			listCommand(environ),
			revokeCommand(environ),
			serverInfoCommand(environ),
			userInfoCommand(environ),
			configCommand(environ),
		},
	}
}

// session is what every command action works with.
type session struct {
	cfg *app.Config
	app *app.App
	out io.Writer
	err io.Writer
}

type actionFunc func(ctx context.Context, cmd *cli.Command, s *session) error

// withSession loads the configuration, sets up logging and the application for
// the duration of fn.
func withSession(environ func() []string, fn actionFunc) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) (err error) {
		cfg, err := loadConfig(cmd.String("config"), cmd, environ)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		s := &session{cfg: cfg, out: writerOr(cmd.Root().Writer, os.Stdout), err: writerOr(cmd.Root().ErrWriter, os.Stderr)}

		// Set up observability before creating app
		shutdown, err := observability.Instrument(ctx, cfg.LogLevel, string(cfg.LogFormat), string(cfg.LogExporter),
			observability.WithOutput(s.err))
		if err != nil {
			return fmt.Errorf("failed to set up observability layer: %w", err)
		}

		s.app, err = app.New(cfg)
		if err != nil {
			return errors.Join(fmt.Errorf("failed to create app: %w", err), shutdown(ctx))
		}
		s.app.OnShutdown(shutdown)
		defer func() {
			if closeErr := s.app.Close(ctx); closeErr != nil {
				err = errors.Join(err, closeErr)
			}
		}()

		slog.DebugContext(ctx, "configured", "store", s.app.StoreLocation(), "env", cfg.Auth.Env)
		return fn(ctx, cmd, s)
	}
}

func writerOr(w, fallback io.Writer) io.Writer {
	if w == nil {
		return fallback
	}
	return w
}
