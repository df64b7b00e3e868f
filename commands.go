package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"recordimport/internal/config"
	"recordimport/internal/etl"
	"recordimport/internal/service"
	"recordimport/internal/storage"
)

// shutdownTimeout bounds how long a stopping trigger waits for the run in
// flight.
const shutdownTimeout = 30 * time.Second

// cmdEnv is what every command needs: the input, the history database and
// the service over both.
type cmdEnv struct {
	cfg *config.Config
	db  *storage.DB
	svc *service.ImportService
}

func (r *cmdEnv) Close() {
	if r.db != nil {
		r.db.Close()
	}
}

func newCmdEnv(c *cli.Context) (*cmdEnv, error) {
	path := c.String("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	env := &cmdEnv{cfg: cfg}
	opts := service.Options{
		ConfigPath: path,
		DryRun:     c.Bool("debug"),
		Logger:     slog.Default(),
	}
	if historyPath := historyPath(c, cfg); historyPath != "" {
		db, err := storage.New(historyPath)
		if err != nil {
			return nil, fmt.Errorf("open history: %w", err)
		}
		env.db = db
		opts.History = storage.NewRunStore(db)
	}
	env.svc = service.NewImportService(opts)
	return env, nil
}

func historyPath(c *cli.Context, cfg *config.Config) string {
	if p := c.String("history"); p != "" {
		return p
	}
	if cfg != nil {
		return cfg.HistoryPath
	}
	return ""
}

func signalContext(c *cli.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
}

// ── run ────────────────────────────────────────────────────

func runCommand(c *cli.Context) error {
	ctx, stop := signalContext(c)
	defer stop()

	env, err := newCmdEnv(c)
	if err != nil {
		return err
	}
	defer env.Close()

	res, runErr := env.svc.Run(ctx, service.TriggerManual)
	if res != nil {
		fmt.Fprintln(c.App.Writer, res.Stats.String())
		if err := writeOutput(c, env.cfg, res.Stats); err != nil {
			return err
		}
	}
	return runErr
}

func writeOutput(c *cli.Context, cfg *config.Config, stats etl.ImportStats) error {
	path := c.String("output")
	if path == "" {
		path = cfg.OutputFile
	}
	if path == "" {
		return nil
	}
	return service.WriteStats(path, stats)
}

// ── schedule / watch ───────────────────────────────────────

func scheduleCommand(c *cli.Context) error {
	ctx, stop := signalContext(c)
	defer stop()

	env, err := newCmdEnv(c)
	if err != nil {
		return err
	}
	defer env.Close()

	expr := c.String("schedule")
	if expr == "" {
		expr = env.cfg.Schedule
	}
	if expr == "" {
		return fmt.Errorf("%w: no schedule given", etl.ErrConfig)
	}
	if err := env.svc.Schedule(ctx, expr); err != nil {
		return err
	}
	<-ctx.Done()
	shutdown(env.svc)
	return nil
}

func watchCommand(c *cli.Context) error {
	ctx, stop := signalContext(c)
	defer stop()

	env, err := newCmdEnv(c)
	if err != nil {
		return err
	}
	defer env.Close()

	if c.Bool("initial") {
		if res, err := env.svc.Run(ctx, service.TriggerManual); err != nil {
			slog.Error("initial import failed", "error", err)
		} else {
			fmt.Fprintln(c.App.Writer, res.Stats.String())
		}
	}
	if err := env.svc.Watch(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	shutdown(env.svc)
	return nil
}

func shutdown(svc *service.ImportService) {
	slog.Info("shutting down")
	svc.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	svc.WaitRunning(ctx)
}

// ── history ────────────────────────────────────────────────

func historyCommand(c *cli.Context) error {
	path := c.String("history")
	if path == "" {
		cfg, err := config.Load(c.String("config"))
		if err != nil {
			return err
		}
		path = cfg.HistoryPath
	}
	db, err := storage.New(path)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer db.Close()

	runs, err := storage.NewRunStore(db).ListRuns(c.Context, c.Int("limit"))
	if err != nil {
		return err
	}
	return printRuns(c, runs)
}

func printRuns(c *cli.Context, runs []storage.RunLog) error {
	w := c.App.Writer
	switch c.String("format") {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	case "yaml":
		return yaml.NewEncoder(w).Encode(runs)
	case "table":
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "STARTED\tTRIGGER\tCOLLECTION\tSTATUS\tIMPORTED\tUPDATED\tFAILED\tDURATION\tERROR")
		for _, r := range runs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
				r.StartedAt.Local().Format(time.DateTime), r.Trigger, r.Collection, status(r),
				r.Stats.Imported, r.Stats.Updated, r.Stats.Failed,
				time.Duration(r.DurationMs)*time.Millisecond, r.Error)
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unknown format %q", c.String("format"))
	}
}

func status(r storage.RunLog) string {
	if r.DryRun {
		return r.Status + " (dry run)"
	}
	return r.Status
}
