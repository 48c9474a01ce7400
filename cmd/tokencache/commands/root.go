package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/florianilch/tokencache/internal/app"
	"github.com/florianilch/tokencache/internal/observability"
)

// Execute runs the root command with the given context and arguments.
func Execute(ctx context.Context, args []string) error {
	return newRootCommand(os.Environ).Run(ctx, args)
}

func newRootCommand(environFunc func() []string) *cli.Command {
	return &cli.Command{
		Name:  "tokencache",
		Usage: "Inspect and maintain the shared token cache",
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
				Usage: "log format (text|json|otel|otlp-http|otlp-grpc)",
				Value: string(app.DefaultConfigLogFormat),
			},
			&cli.StringFlag{
				Name:  "storage--kind",
				Usage: "secure store (encrypted_file|keychain|secret_service|plaintext_file)",
				Value: string(app.DefaultConfigStorageKind),
			},
			&cli.StringFlag{
				Name:  "storage--cache-dir",
				Usage: "directory holding the cache and its companion files",
			},
			&cli.StringFlag{
				Name:  "storage--cache-file-name",
				Usage: "cache file name",
				Value: app.DefaultConfigCacheFileName,
			},
			&cli.BoolFlag{
				Name:  "storage--unprotected",
				Usage: "allow storing tokens unencrypted (plaintext_file only)",
			},
			&cli.DurationFlag{
				Name:  "lock--poll-interval",
				Usage: "interval between lock attempts",
				Value: app.DefaultConfigLockPollInterval,
			},
			&cli.IntFlag{
				Name:  "lock--max-attempts",
				Usage: "lock attempts before giving up",
				Value: app.DefaultConfigLockMaxAttempts,
			},
			&cli.StringFlag{
				Name:  "oauth--token-url",
				Usage: "OAuth token endpoint used to refresh expired tokens",
			},
			&cli.StringFlag{
				Name:  "oauth--scopes",
				Usage: "comma or space separated scopes requested on refresh",
			},
			&cli.BoolFlag{
				Name:  "verify",
				Usage: "probe the store before use",
				Value: true,
			},
		},
		Commands: []*cli.Command{
			verifyCommand(environFunc),
			showCommand(environFunc),
			writeCommand(environFunc),
			clearCommand(environFunc),
			tokenCommand(environFunc),
		},
	}
}

// actionFunc is a command body that runs against a configured App.
type actionFunc func(ctx context.Context, cmd *cli.Command, application *app.App) error

// withApp loads the config, sets up logging and builds the App before running fn.
// The persistence probe runs first unless disabled or skipProbe is set.
func withApp(environFunc func() []string, skipProbe bool, fn actionFunc) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		cfg, err := loadConfig(cmd.String("config"), cmd, environFunc)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		// Set up observability before creating app
		shutdown, err := observability.Instrument(ctx, cfg.LogLevel, string(cfg.LogFormat), observability.WithWriter(cmd.Root().ErrWriter))
		if err != nil {
			return fmt.Errorf("failed to set up observability layer: %w", err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				fmt.Fprintln(cmd.Root().ErrWriter, "failed to flush logs:", err)
			}
		}()

		application, err := app.New(cfg)
		if err != nil {
			return fmt.Errorf("failed to create app: %w", err)
		}
		defer application.Close()

		if !skipProbe && cfg.ShouldVerify() {
			if err := application.Verify(ctx); err != nil {
				return fmt.Errorf("token cache unavailable: %w", err)
			}
		}

		return fn(ctx, cmd, application)
	}
}
