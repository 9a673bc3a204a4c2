package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/bytedance/sonic"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"feedsync/internal/app"
	"feedsync/internal/config"
	"feedsync/internal/identity"
	"feedsync/internal/logging"
)

func main() {
	if err := run(); err != nil {
		log.Printf("Error: %v", err)
		os.Exit(1)
	}
}

func run() error {
	cmd := &cli.Command{
		Name:  "feedclient",
		Usage: "Local synchronisation client for the social feed",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a TOML config file",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Override the configured log level",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Serve the local API and keep watched feed pages fresh",
				Action: func(ctx context.Context, c *cli.Command) error {
					ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
					defer stop()

					a, err := setup(ctx, c)
					if err != nil {
						return err
					}
					defer a.Cleanup()

					return a.Serve(ctx)
				},
			},
			{
				Name:  "feed",
				Usage: "Print one assembled feed page as JSON",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "offset", Value: 0, Usage: "Index of the first post"},
					&cli.IntFlag{Name: "limit", Usage: "Posts per page (default: configured page size)"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					a, err := setup(ctx, c)
					if err != nil {
						return err
					}
					defer a.Cleanup()

					view, err := a.Feed.Feed(ctx, int(c.Int("offset")), int(c.Int("limit")), true)
					if err != nil {
						return fmt.Errorf("load feed: %w", err)
					}
					return printJSON(view)
				},
			},
			{
				Name:  "whoami",
				Usage: "Print the signed-in identity and whether it has a profile",
				Action: func(ctx context.Context, c *cli.Command) error {
					a, err := setup(ctx, c)
					if err != nil {
						return err
					}
					defer a.Cleanup()

					id, u, err := a.Users.Me(ctx)
					if err != nil {
						return fmt.Errorf("resolve identity: %w", err)
					}
					return printJSON(map[string]any{
						"fingerprint": identity.Fingerprint(id),
						"registered":  u != nil,
						"user":        u,
					})
				},
			},
		},
	}

	return cmd.Run(context.Background(), os.Args)
}

func setup(ctx context.Context, c *cli.Command) (*app.App, error) {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if lvl := c.String("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	if !cfg.EnvFileLoaded {
		logger.Debug("No .env file found, using environment variables")
	}

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize application: %w", err)
	}
	logger.Info("Application initialized", zap.String("gateway", cfg.Gateway.URL))
	return a, nil
}

func printJSON(v any) error {
	out, err := sonic.ConfigDefault.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(os.Stdout, string(out))
	return err
}
