package service

import (
	"context"
	"log/slog"
	"sync"
)

// Events emitted after every run.
const (
	EventImportCompleted = "import:completed"
	EventImportFailed    = "import:failed"
)

// EventEmitter receives run notifications.
type EventEmitter interface {
	Emit(ctx context.Context, event string, data any)
}

// LogEmitter writes events to a structured logger.
type LogEmitter struct {
	Logger *slog.Logger
}

func (l LogEmitter) Emit(ctx context.Context, event string, data any) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.DebugContext(ctx, "event", "event", event, "data", data)
}

// MockEmitter is a test-friendly EventEmitter that records all calls.
type MockEmitter struct {
	mu     sync.Mutex
	Events []EmittedEvent
}

// EmittedEvent holds a single recorded emission for test assertions.
type EmittedEvent struct {
	Event string
	Data  any
}

func (m *MockEmitter) Emit(_ context.Context, event string, data any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, EmittedEvent{Event: event, Data: data})
}

// Snapshot returns a copy of the recorded events.
func (m *MockEmitter) Snapshot() []EmittedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]EmittedEvent(nil), m.Events...)
}
