package commands

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/oauth2"
	"golang.org/x/term"

	"github.com/florianilch/tokencache/internal/app"
)

func verifyCommand(environFunc func() []string) *cli.Command {
	return &cli.Command{
		Name:  "verify",
		Usage: "check that the configured store can persist data",
		Action: withApp(environFunc, true, func(ctx context.Context, cmd *cli.Command, application *app.App) error {
			if err := application.Verify(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.Root().Writer, "persistence available: %s\n", application.Location())
			return nil
		}),
	}
}

func showCommand(environFunc func() []string) *cli.Command {
	return &cli.Command{
		Name:  "show",
		Usage: "list cached tokens",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "raw",
				Usage: "hex dump the stored blob",
			},
		},
		Action: withApp(environFunc, false, func(ctx context.Context, cmd *cli.Command, application *app.App) error {
			snap, err := application.Snapshot(ctx)
			if err != nil {
				return err
			}

			w := cmd.Root().Writer
			fmt.Fprintf(w, "location: %s\n", application.Location())
			version := string(snap.Version)
			if snap.Version.IsZero() {
				version = "(empty)"
			}
			fmt.Fprintf(w, "version:  %s\n", version)
			if snap.Discarded {
				fmt.Fprintln(w, "warning:  stored cache was unreadable and has been ignored")
			}

			if cmd.Bool("raw") {
				fmt.Fprint(w, hex.Dump(snap.Raw))
				return nil
			}

			tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tTYPE\tEXPIRES IN\tREFRESHABLE")
			now := time.Now()
			for _, name := range sortedNames(snap.Tokens) {
				tok := snap.Tokens[name]
				fmt.Fprintf(tw, "%s\t%s\t%s\t%t\n", name, tok.Type(), app.ExpiresIn(tok, now), tok.RefreshToken != "")
			}
			return tw.Flush()
		}),
	}
}

func writeCommand(environFunc func() []string) *cli.Command {
	return &cli.Command{
		Name:      "write",
		Usage:     "store a token read from stdin or a terminal prompt",
		ArgsUsage: "[name]",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "refresh-token",
				Usage: "treat the input as a refresh token",
			},
			&cli.StringFlag{
				Name:  "token-type",
				Usage: "token type",
				Value: "Bearer",
			},
			&cli.DurationFlag{
				Name:  "expires-in",
				Usage: "access token lifetime (0 for no expiry)",
			},
		},
		Action: withApp(environFunc, false, func(ctx context.Context, cmd *cli.Command, application *app.App) error {
			name := tokenName(cmd)
			label := "Access token"
			if cmd.Bool("refresh-token") {
				label = "Refresh token"
			}

			secret, err := readSecret(cmd.Root().Reader, cmd.Root().ErrWriter, label)
			if err != nil {
				return err
			}

			tok := &oauth2.Token{TokenType: cmd.String("token-type")}
			if cmd.Bool("refresh-token") {
				tok.RefreshToken = secret
			} else {
				tok.AccessToken = secret
				if d := cmd.Duration("expires-in"); d > 0 {
					tok.Expiry = time.Now().Add(d)
				}
			}

			version, err := application.PutToken(ctx, name, tok)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.Root().Writer, "stored %q (version %s)\n", name, version)
			return nil
		}),
	}
}

func clearCommand(environFunc func() []string) *cli.Command {
	return &cli.Command{
		Name:      "clear",
		Usage:     "remove one token, or the whole cache when no name is given",
		ArgsUsage: "[name]",
		Action: withApp(environFunc, true, func(ctx context.Context, cmd *cli.Command, application *app.App) error {
			if name := cmd.Args().First(); name != "" {
				if _, err := application.DeleteToken(ctx, name); err != nil {
					return err
				}
				fmt.Fprintf(cmd.Root().Writer, "removed %q\n", name)
				return nil
			}
			if err := application.Clear(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.Root().Writer, "cache cleared")
			return nil
		}),
	}
}

func tokenCommand(environFunc func() []string) *cli.Command {
	return &cli.Command{
		Name:      "token",
		Usage:     "print a valid access token, refreshing it if needed",
		ArgsUsage: "[name]",
		Action: withApp(environFunc, false, func(ctx context.Context, cmd *cli.Command, application *app.App) error {
			src, err := application.TokenSource(tokenName(cmd))
			if err != nil {
				return err
			}
			defer src.Close()

			tok, err := src.TokenContext(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.Root().Writer, tok.AccessToken)
			return nil
		}),
	}
}

func sortedNames(tokens map[string]*oauth2.Token) []string {
	return slices.Sorted(maps.Keys(tokens))
}

func tokenName(cmd *cli.Command) string {
	if name := cmd.Args().First(); name != "" {
		return name
	}
	return app.DefaultConfigTokenName
}

// readSecret prompts without echo when r is a terminal and reads all of r otherwise.
func readSecret(r io.Reader, prompt io.Writer, label string) (string, error) {
	if f, ok := r.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprintf(prompt, "%s: ", label)
		secret, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", label, err)
		}
		return checkSecret(secret, label)
	}

	secret, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", label, err)
	}
	return checkSecret(secret, label)
}

func checkSecret(secret []byte, label string) (string, error) {
	secret = bytes.TrimSpace(secret)
	if len(secret) == 0 {
		return "", errors.New(label + " must not be empty")
	}
	return string(secret), nil
}
