package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		slog.Error("recordimport failed", "error", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	configFlag := &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to the input file (JSON or YAML)",
		Value:   "INPUT.json",
		EnvVars: []string{"RECORDIMPORT_CONFIG"},
	}
	historyFlag := &cli.StringFlag{
		Name:  "history",
		Usage: "Path to the run history database (overrides historyPath)",
	}
	debugFlag := &cli.BoolFlag{
		Name:    "debug",
		Aliases: []string{"dry-run"},
		Usage:   "Log records instead of writing them",
	}
	outputFlag := &cli.StringFlag{
		Name:    "output",
		Aliases: []string{"o"},
		Usage:   "Write final stats to this file (.json, .yaml)",
	}

	return &cli.App{
		Name:  "recordimport",
		Usage: "Import records from inline lists, key-value stores and datasets into a collection",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Run one import",
				Action: runCommand,
				Flags:  []cli.Flag{configFlag, historyFlag, debugFlag, outputFlag},
			},
			{
				Name:   "schedule",
				Usage:  "Run imports on a cron schedule until interrupted",
				Action: scheduleCommand,
				Flags: []cli.Flag{
					configFlag, historyFlag, debugFlag,
					&cli.StringFlag{
						Name:  "schedule",
						Usage: "Cron expression (overrides schedule from the input)",
					},
				},
			},
			{
				Name:   "watch",
				Usage:  "Re-run the import whenever the input file changes",
				Action: watchCommand,
				Flags: []cli.Flag{
					configFlag, historyFlag, debugFlag,
					&cli.BoolFlag{
						Name:  "initial",
						Usage: "Run once before watching",
						Value: true,
					},
				},
			},
			{
				Name:   "history",
				Usage:  "List recent import runs",
				Action: historyCommand,
				Flags: []cli.Flag{
					configFlag, historyFlag,
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Number of runs to show",
						Value: 20,
					},
					&cli.StringFlag{
						Name:  "format",
						Usage: "Output format (table, json, yaml)",
						Value: "table",
					},
				},
			},
		},
	}
}

func setupLogger(c *cli.Context) error {
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	return nil
}
