package main

import "github.com/urfave/cli/v3"

var (
	configFile  string
	logLevel    string
	logFormat   string
	debug       bool
	mode        string
	deviceIndex int64
	simulate    bool
	noDevice    bool
)

func globalFlags() []cli.Flag {
	return append([]cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Usage:       "path to config.yaml (default ~/.config/nnaccel/config.yaml)",
			Sources:     cli.EnvVars(envConfig),
			Destination: &configFile,
		},
	}, loggingFlags()...)
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

func modeFlag() cli.Flag {
	return &cli.StringFlag{
		Name:        "mode",
		Usage:       "acceleration mode (auto, generic, sse4, avx1, avx2, hardware)",
		Value:       "auto",
		Destination: &mode,
	}
}

func deviceFlags() []cli.Flag {
	return []cli.Flag{
		&cli.Int64Flag{
			Name:        "device",
			Aliases:     []string{"d"},
			Usage:       "accelerator device index",
			Destination: &deviceIndex,
		},
		&cli.BoolFlag{
			Name:        "sim",
			Usage:       "use the in-process simulated accelerator",
			Destination: &simulate,
		},
		&cli.BoolFlag{
			Name:        "no-device",
			Usage:       "never open a device; run on the host only",
			Destination: &noDevice,
		},
	}
}
