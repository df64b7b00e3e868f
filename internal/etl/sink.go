package etl

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"time"
)

// ── Store ──────────────────────────────────────────────────
// The target collection. Backends live in internal/dbclient.

// Store is the minimal contract the sink needs from the target collection.
type Store interface {
	// FindOne returns one entry matching every field of filter, or nil.
	FindOne(ctx context.Context, filter map[string]any) (*StoredRecord, error)

	// UpdateOne replaces all non-identifier fields of the entry with id.
	UpdateOne(ctx context.Context, id any, fields map[string]any) error

	// InsertOne adds a new entry and returns its store-assigned id.
	InsertOne(ctx context.Context, fields map[string]any) (any, error)
}

// ── Sink ───────────────────────────────────────────────────
// Decides insert vs. update per record and isolates failures.

// DefaultWriteDelay is the pause after every write attempt.
const DefaultWriteDelay = 100 * time.Millisecond

// Sink writes transformed records into a Store with optional upsert
// semantics on UniqueKeys.
type Sink struct {
	Store          Store
	Stats          *Stats
	UniqueKeys     []string
	TimestampField string

	// WriteDelay paces writes against the store. Zero disables pacing.
	WriteDelay time.Duration

	Logger *slog.Logger
	Now    func() time.Time
}

// Write stores r and records the outcome. Failures are logged and counted,
// never returned. A record missing any unique-key field counts as failed.
// The timestamp is set on a copy, so r itself is left untouched.
func (s *Sink) Write(ctx context.Context, r Record) Outcome {
	outcome, err := s.write(ctx, r)
	if err != nil {
		outcome = OutcomeFailed
		s.logger().Warn("cannot import record", "record", r.String(), "error", err)
	}
	s.Stats.Record(outcome)
	s.pace(ctx)
	return outcome
}

func (s *Sink) write(ctx context.Context, r Record) (Outcome, error) {
	if r.Data == nil {
		return OutcomeFailed, fmt.Errorf("%w: empty record", ErrRecord)
	}
	if s.TimestampField != "" {
		r = Record{Data: maps.Clone(r.Data)}
		r.Data[s.TimestampField] = s.now()
	}

	if len(s.UniqueKeys) == 0 {
		return s.insert(ctx, r)
	}

	filter, missing := r.Pick(s.UniqueKeys)
	if missing != "" {
		return OutcomeFailed, fmt.Errorf("%w: missing unique key field %q", ErrRecord, missing)
	}
	existing, err := s.Store.FindOne(ctx, filter)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("find existing: %w", err)
	}
	if existing == nil {
		return s.insert(ctx, r)
	}
	if err := s.Store.UpdateOne(ctx, existing.ID, r.Data); err != nil {
		return OutcomeFailed, fmt.Errorf("update %v: %w", existing.ID, err)
	}
	return OutcomeUpdated, nil
}

func (s *Sink) insert(ctx context.Context, r Record) (Outcome, error) {
	if _, err := s.Store.InsertOne(ctx, r.Data); err != nil {
		return OutcomeFailed, fmt.Errorf("insert: %w", err)
	}
	return OutcomeImported, nil
}

// pace blocks for WriteDelay or until ctx is done.
func (s *Sink) pace(ctx context.Context) {
	if s.WriteDelay <= 0 {
		return
	}
	t := time.NewTimer(s.WriteDelay)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func (s *Sink) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *Sink) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
