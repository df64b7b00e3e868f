package etl

import (
	"fmt"
	"log/slog"
	"sync/atomic"
)

// Outcome is the result of writing one record to the sink.
type Outcome string

const (
	OutcomeImported Outcome = "imported"
	OutcomeUpdated  Outcome = "updated"
	OutcomeFailed   Outcome = "failed"
)

// ImportStats is the counter triple reported at the end of a run.
type ImportStats struct {
	Imported int64 `json:"imported" yaml:"imported"`
	Updated  int64 `json:"updated" yaml:"updated"`
	Failed   int64 `json:"failed" yaml:"failed"`
}

// Total is the number of records that reached the sink.
func (s ImportStats) Total() int64 { return s.Imported + s.Updated + s.Failed }

// String is the human-readable summary line.
func (s ImportStats) String() string {
	return fmt.Sprintf("Import stats: imported: %d updated: %d failed: %d", s.Imported, s.Updated, s.Failed)
}

// LogValue implements slog.LogValuer for structured logging.
func (s ImportStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int64("imported", s.Imported),
		slog.Int64("updated", s.Updated),
		slog.Int64("failed", s.Failed),
	)
}

// Stats accumulates outcomes. Counters only grow; Snapshot may be read
// from another goroutine while an import is running.
type Stats struct {
	imported atomic.Int64
	updated  atomic.Int64
	failed   atomic.Int64
}

// Record increments exactly one counter.
func (s *Stats) Record(o Outcome) {
	switch o {
	case OutcomeImported:
		s.imported.Add(1)
	case OutcomeUpdated:
		s.updated.Add(1)
	case OutcomeFailed:
		s.failed.Add(1)
	default:
		panic(fmt.Sprintf("etl: unknown outcome %q", o))
	}
}

// Snapshot returns the current counters.
func (s *Stats) Snapshot() ImportStats {
	return ImportStats{
		Imported: s.imported.Load(),
		Updated:  s.updated.Load(),
		Failed:   s.failed.Load(),
	}
}
