package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"termgate/internal/config"
	"termgate/internal/provider/factory"
	"termgate/internal/router"
	"termgate/internal/server"
)

const serveUsage = `Usage:
  termgate serve --config <path> [--port <port>]

Flags:
  --config string   Path to YAML configuration file (required)
  --port   int      Override server port from configuration`

func serve(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, serveUsage)
	}

	var cfgPath string
	var overridePort int
	fs.StringVar(&cfgPath, "config", "", "path to configuration file")
	fs.IntVar(&overridePort, "port", 0, "override server port")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("parse serve flags: %w", err)
	}

	if cfgPath == "" {
		return errors.New("serve command requires --config <path>")
	}

	// Optional .env, loaded before the config so ${VAR} references resolve.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to load .env file", "err", err)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	if overridePort != 0 {
		if overridePort <= 0 || overridePort > 65535 {
			return fmt.Errorf("port override %d must be a valid TCP port", overridePort)
		}
		cfg.Server.Port = overridePort
	}

	components, err := factory.Build(cfg)
	if err != nil {
		return err
	}

	rt := router.New(components.Gemini, components.OpenRouter, router.Defaults{
		GeminiModel:     cfg.Chat.Gemini.DefaultModel,
		OpenRouterModel: cfg.Chat.OpenRouter.DefaultModel,
		ProbeCandidates: cfg.Probe.Candidates,
	})

	srv, err := server.New(cfg, rt, components.Gemini, components.Images, components.ProxyClient)
	if err != nil {
		return err
	}

	return srv.Run(ctx)
}
