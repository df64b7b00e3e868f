package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"

	"recordimport/internal/config"
	"recordimport/internal/dbclient"
	"recordimport/internal/etl"
	"recordimport/internal/etl/sources"
	"recordimport/internal/platform"
	"recordimport/internal/script"
	"recordimport/internal/storage"
)

// ErrAlreadyRunning is returned when an import of the same input is in flight.
var ErrAlreadyRunning = errors.New("import already running")

// Run triggers recorded in the history.
const (
	TriggerManual   = "manual"
	TriggerSchedule = "schedule"
	TriggerWatch    = "watch"
)

// watchDebounce coalesces bursts of file events into one run.
const watchDebounce = 500 * time.Millisecond

// StoreOpener opens the target collection.
type StoreOpener func(ctx context.Context, url, collection string, logger *slog.Logger) (dbclient.Store, error)

// Options configures an ImportService.
type Options struct {
	// ConfigPath is the input file, re-read on every run.
	ConfigPath string
	// DryRun forces debug mode regardless of the input.
	DryRun bool

	History *storage.RunStore // nil disables run history
	Emitter EventEmitter
	Logger  *slog.Logger

	// OpenStore defaults to dbclient.Open.
	OpenStore StoreOpener
	// Clients builds the platform clients; defaults to the REST client.
	Clients func(cfg *config.Config) sources.Clients
}

// ─────────────────────────────────────────────────────────────
// Import Service
// ─────────────────────────────────────────────────────────────

// ImportService runs imports of one input file on demand, on a cron
// schedule or when the file changes.
type ImportService struct {
	opts    Options
	logger  *slog.Logger
	emitter EventEmitter
	running runGuard

	mu          sync.Mutex
	watchCancel context.CancelFunc
	watcher     *fsnotify.Watcher
	cronSched   *cron.Cron
}

// NewImportService creates an ImportService ready for use.
func NewImportService(opts Options) *ImportService {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	emitter := opts.Emitter
	if emitter == nil {
		emitter = LogEmitter{Logger: logger}
	}
	if opts.OpenStore == nil {
		opts.OpenStore = func(ctx context.Context, url, collection string, logger *slog.Logger) (dbclient.Store, error) {
			return dbclient.Open(ctx, url, collection, logger)
		}
	}
	if opts.Clients == nil {
		opts.Clients = func(cfg *config.Config) sources.Clients {
			c := platform.New(cfg.Platform.URL, cfg.Platform.Token)
			return sources.Clients{Datasets: c, KeyValues: c}
		}
	}
	return &ImportService{opts: opts, logger: logger, emitter: emitter}
}

// ── Run ────────────────────────────────────────────────────

// Run loads the input and executes one import. The run is persisted and
// announced whether it succeeds or not.
func (s *ImportService) Run(ctx context.Context, trigger string) (*etl.ImportResult, error) {
	key := s.opts.ConfigPath
	if !s.running.TryLock(key) {
		return nil, ErrAlreadyRunning
	}
	defer s.running.Unlock(key)

	if trigger == "" {
		trigger = TriggerManual
	}
	started := time.Now()
	cfg, result, err := s.run(ctx)
	if result == nil {
		result = &etl.ImportResult{Status: "error", Duration: time.Since(started)}
		if err != nil {
			result.Error = err.Error()
		}
	}
	s.record(ctx, trigger, started, cfg, result)

	if err != nil {
		s.emitter.Emit(ctx, EventImportFailed, result)
		return result, err
	}
	s.emitter.Emit(ctx, EventImportCompleted, result)
	return result, nil
}

func (s *ImportService) run(ctx context.Context) (*config.Config, *etl.ImportResult, error) {
	cfg, err := config.Load(s.opts.ConfigPath)
	if err != nil {
		return nil, nil, err
	}
	if s.opts.DryRun {
		cfg.Debug = true
	}
	if err := cfg.Validate(); err != nil {
		return cfg, nil, err
	}

	engine := &etl.Engine{
		Sources: sources.NewRegistry(withLogger(s.opts.Clients(cfg), s.logger)),
		Logger:  s.logger,
	}
	if cfg.TransformSource != "" {
		mod, err := script.Load(cfg.TransformSource, script.Options{
			Name:    transformName(cfg),
			Timeout: cfg.TransformTimeout,
			Logger:  s.logger,
		})
		if err != nil {
			return cfg, nil, err
		}
		if mod.HasTransform() {
			engine.Transform = mod
		}
		engine.Hooks = mod
	}
	if engine.Steps, err = etl.BuildSteps(cfg.Transforms); err != nil {
		return cfg, nil, err
	}

	if !cfg.Debug {
		store, err := s.opts.OpenStore(ctx, cfg.TargetStoreURL, cfg.CollectionName, s.logger)
		if err != nil {
			return cfg, nil, err
		}
		defer store.Close()
		engine.Store = store
	}

	job := &etl.ImportJob{
		ID:             fmt.Sprintf("%s@%s", cfg.CollectionName, time.Now().UTC().Format(time.RFC3339)),
		Collection:     cfg.CollectionName,
		Sources:        cfg.Descriptors(),
		UniqueKeys:     cfg.UniqueKeys,
		TimestampField: cfg.TimestampField,
		DryRun:         cfg.Debug,
		WriteDelay:     cfg.WriteDelay,
	}
	result, err := engine.Run(ctx, job)
	return cfg, result, err
}

// record persists the run log. History failures are logged, not returned.
func (s *ImportService) record(ctx context.Context, trigger string, started time.Time, cfg *config.Config, res *etl.ImportResult) {
	if s.opts.History == nil {
		return
	}
	runLog := &storage.RunLog{
		ConfigPath: s.opts.ConfigPath,
		Trigger:    trigger,
		StartedAt:  started,
		FinishedAt: time.Now(),
		Status:     res.Status,
		Stats:      res.Stats,
		Read:       res.RecordsRead,
		Dropped:    res.Dropped,
		DurationMs: res.Duration.Milliseconds(),
		Error:      res.Error,
	}
	if cfg != nil {
		runLog.Collection = cfg.CollectionName
		runLog.DryRun = cfg.Debug
	}
	// Persist even when the run was cancelled.
	if err := s.opts.History.CreateRun(context.WithoutCancel(ctx), runLog); err != nil {
		s.logger.Warn("cannot record import run", "error", err)
	}
}

// History returns the latest runs, newest first.
func (s *ImportService) History(ctx context.Context, limit int) ([]storage.RunLog, error) {
	if s.opts.History == nil {
		return nil, nil
	}
	return s.opts.History.ListRuns(ctx, limit)
}

// ── Triggers (cron + file watch) ──────────────────────────

// Schedule runs the import on the cron expression expr until Stop.
func (s *ImportService) Schedule(ctx context.Context, expr string) error {
	c := cron.New()
	if _, err := c.AddFunc(expr, func() { s.trigger(ctx, TriggerSchedule) }); err != nil {
		return fmt.Errorf("%w: invalid schedule %q: %w", etl.ErrConfig, expr, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cronSched != nil {
		s.cronSched.Stop()
	}
	c.Start()
	s.cronSched = c
	s.logger.Info("import scheduled", "schedule", expr)
	return nil
}

// Watch re-runs the import whenever the input file or its transform file
// changes, until Stop.
func (s *ImportService) Watch(ctx context.Context) error {
	if s.opts.ConfigPath == "" {
		return fmt.Errorf("%w: watch needs an input file", etl.ErrConfig)
	}
	paths := []string{s.opts.ConfigPath}
	if cfg, err := config.Load(s.opts.ConfigPath); err == nil && cfg.TransformFile != "" {
		tf := cfg.TransformFile
		if !filepath.IsAbs(tf) {
			tf = filepath.Join(filepath.Dir(s.opts.ConfigPath), tf)
		}
		paths = append(paths, tf)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	watched := make(map[string]bool)
	watchedDirs := make(map[string]bool)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			watcher.Close()
			return fmt.Errorf("bad path %q: %w", p, err)
		}
		watched[abs] = true
		// Watch the directory so editors that replace the file are seen.
		dir := filepath.Dir(abs)
		if watchedDirs[dir] {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return fmt.Errorf("watch dir %q: %w", dir, err)
		}
		watchedDirs[dir] = true
	}

	watchCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.stopWatcherLocked()
	s.watcher = watcher
	s.watchCancel = cancel
	s.mu.Unlock()

	go func() {
		var timer *time.Timer
		for {
			select {
			case <-watchCtx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				abs, _ := filepath.Abs(event.Name)
				if !watched[abs] {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(watchDebounce, func() {
					s.logger.Info("input changed", "path", abs)
					s.trigger(watchCtx, TriggerWatch)
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("watcher error", "error", err)
			}
		}
	}()

	s.logger.Info("watching input", "files", len(watched))
	return nil
}

// trigger runs an import from a background trigger and logs the outcome.
func (s *ImportService) trigger(ctx context.Context, trigger string) {
	if ctx.Err() != nil {
		return
	}
	res, err := s.Run(ctx, trigger)
	switch {
	case errors.Is(err, ErrAlreadyRunning):
		s.logger.Warn("import skipped: previous run still in progress", "trigger", trigger)
	case err != nil:
		s.logger.Error("import failed", "trigger", trigger, "error", err)
	default:
		s.logger.Info(res.Stats.String(), "trigger", trigger)
	}
}

// WaitRunning blocks until the running import finishes or ctx is done.
// Used for graceful shutdown.
func (s *ImportService) WaitRunning(ctx context.Context) {
	s.running.WaitAll(ctx)
}

// Stop tears down the watcher and the scheduler.
func (s *ImportService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopWatcherLocked()
	if s.cronSched != nil {
		s.cronSched.Stop()
		s.cronSched = nil
	}
}

func (s *ImportService) stopWatcherLocked() {
	if s.watchCancel != nil {
		s.watchCancel()
		s.watchCancel = nil
	}
	if s.watcher != nil {
		s.watcher.Close()
		s.watcher = nil
	}
}

func withLogger(c sources.Clients, logger *slog.Logger) sources.Clients {
	if c.Logger == nil {
		c.Logger = logger
	}
	return c
}

func transformName(cfg *config.Config) string {
	if cfg.TransformFile != "" && cfg.TransformSource != "" {
		return filepath.Base(cfg.TransformFile)
	}
	return "transform.js"
}
