package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/samcharles93/nnaccel/internal/logger"
	"github.com/urfave/cli/v3"
)

func main() {
	app := &cli.Command{
		Name:   "nnaccel",
		Usage:  "Neural network accelerator runtime",
		Flags:  globalFlags(),
		Before: setup,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cli.ShowAppHelp(cmd)
		},
		Commands: []*cli.Command{
			validateCmd(),
			kernelsCmd(),
			probeCmd(),
			runCmd(),
			serveCmd(),
			versionCmd(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads the config file and installs the logger every command reads
// from its context.
func setup(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	path := configFile
	if path == "" {
		path = configPath()
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		return ctx, err
	}
	settings = cfg
	applyLoggingConfig(cmd, cfg)

	format, err := logger.ParseFormat(logFormat)
	if err != nil {
		return ctx, err
	}
	level := logger.ParseLevel(logLevel)
	if debug {
		level = slog.LevelDebug
	}
	return logger.WithContext(ctx, logger.ForFormat(format, os.Stderr, level)), nil
}
