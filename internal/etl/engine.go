package etl

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ── ImportJob ──────────────────────────────────────────────
// Orchestrates: sources → transform stage → sink, one record at a time.

// ImportJob holds the configuration for a single import run.
type ImportJob struct {
	ID             string             `json:"id"`
	Collection     string             `json:"collection"`
	Sources        []SourceDescriptor `json:"sources"`
	UniqueKeys     []string           `json:"uniqueKeys,omitempty"`
	TimestampField string             `json:"timestampField,omitempty"`
	DryRun         bool               `json:"dryRun"`
	WriteDelay     time.Duration      `json:"writeDelay"`
}

// ImportResult is the outcome of running an import job.
type ImportResult struct {
	JobID       string        `json:"jobId"`
	Status      string        `json:"status"` // "success" | "error"
	Stats       ImportStats   `json:"stats"`
	RecordsRead int64         `json:"recordsRead"`
	Dropped     int64         `json:"dropped"`
	Duration    time.Duration `json:"duration"`
	Error       string        `json:"error,omitempty"`
}

// State is the engine's position in a run.
type State string

const (
	StateIdle         State = "idle"
	StateInitializing State = "initializing"
	StateImporting    State = "importing"
	StateFinalizing   State = "finalizing"
	StateDone         State = "done"
	StateFailed       State = "failed"
)

// ── Engine ─────────────────────────────────────────────────

// Engine runs import jobs. It is single-threaded: a record is transformed,
// written and paced before the next one is read.
type Engine struct {
	Sources   *Registry
	Store     Store
	Transform Transformer   // nil means identity
	Steps     []Transformer // declarative steps applied after Transform
	Hooks     Hooks         // nil means no hooks
	Logger    *slog.Logger

	mu    sync.Mutex
	state State
}

// State reports the current run state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == "" {
		return StateIdle
	}
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
	e.logger().Debug("import state", "state", s)
}

// Run executes an import job end-to-end. On a fatal error it returns the
// partial result together with the error.
func (e *Engine) Run(ctx context.Context, job *ImportJob) (*ImportResult, error) {
	start := time.Now()
	stats := &Stats{}
	result := &ImportResult{JobID: job.ID}
	log := e.logger().With("job", job.ID)

	fail := func(err error) (*ImportResult, error) {
		e.setState(StateFailed)
		result.Status = "error"
		result.Error = err.Error()
		result.Stats = stats.Snapshot()
		result.Duration = time.Since(start)
		log.Error("import failed", "error", err, "stats", result.Stats)
		return result, err
	}

	// 1. Initializing: validate input and resolve readers.
	e.setState(StateInitializing)
	if len(job.Sources) == 0 {
		return fail(fmt.Errorf("%w: no sources configured", ErrConfig))
	}
	if e.Sources == nil {
		return fail(fmt.Errorf("%w: no source registry", ErrConfig))
	}
	descs := SortDescriptors(job.Sources)
	readers := make([]Source, len(descs))
	for i, d := range descs {
		src, err := e.Sources.Get(d.Kind)
		if err != nil {
			return fail(fmt.Errorf("%w: %w", ErrConfig, err))
		}
		readers[i] = src
	}
	if !job.DryRun && e.Store == nil {
		return fail(fmt.Errorf("%w: no target store", ErrConfig))
	}

	stage := NewStage(e.Transform, e.Steps...)
	hooks := e.Hooks
	if hooks == nil {
		hooks = NoHooks
	}
	if err := hooks.BeforeImport(ctx); err != nil {
		return fail(fmt.Errorf("%w: beforeImport: %w", ErrHook, err))
	}

	// 2. Importing: drain every source fully, in order.
	e.setState(StateImporting)
	sink := &Sink{
		Store:          e.Store,
		Stats:          stats,
		UniqueKeys:     job.UniqueKeys,
		TimestampField: job.TimestampField,
		WriteDelay:     job.WriteDelay,
		Logger:         log,
	}
	for i, d := range descs {
		log.Info("importing source", "source", d.Label())
		for rec, err := range readers[i].Read(ctx, d) {
			if err != nil {
				return fail(fmt.Errorf("%w: %s: %w", ErrSource, d.Label(), err))
			}
			if err := ctx.Err(); err != nil {
				return fail(fmt.Errorf("import interrupted: %w", err))
			}
			result.RecordsRead++
			if rec.Data == nil {
				log.Warn("cannot import record: not an object", "source", d.Label())
				if !job.DryRun {
					stats.Record(OutcomeFailed)
				}
				continue
			}

			out, keep, err := stage.Apply(ctx, rec)
			if err != nil {
				log.Warn("cannot transform record", "source", d.Label(), "record", rec.String(), "error", err)
				if !job.DryRun {
					stats.Record(OutcomeFailed)
				}
				continue
			}
			if !keep {
				result.Dropped++
				continue
			}
			if job.DryRun {
				log.Info("dry run: record not written", "source", d.Label(), "record", out.String())
				continue
			}
			sink.Write(ctx, out)
		}
	}

	// 3. Finalizing.
	e.setState(StateFinalizing)
	if err := hooks.AfterImport(ctx); err != nil {
		return fail(fmt.Errorf("%w: afterImport: %w", ErrHook, err))
	}

	result.Status = "success"
	result.Stats = stats.Snapshot()
	result.Duration = time.Since(start)
	e.setState(StateDone)
	log.Info(result.Stats.String(), "read", result.RecordsRead, "dropped", result.Dropped, "duration", result.Duration)
	return result, nil
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}
