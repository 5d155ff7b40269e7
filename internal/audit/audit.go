// Package audit attributes graph mutations made on behalf of user commands.
// The engine treats the sink as fire-and-forget: recording must never block
// or fail a mutation that already happened.
package audit

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Entry is one attributed mutation.
type Entry struct {
	// Sender is who issued the command.
	Sender string
	// TaskID is the mutated task.
	TaskID string
	// Field names what changed (priority, status, dependency).
	Field string
	// OldValue and NewValue capture the change.
	OldValue string
	NewValue string
	// Reason is the command text or derived explanation.
	Reason string
	// Timestamp is when the mutation happened.
	Timestamp time.Time
}

// Sink receives attributed mutations.
type Sink interface {
	Record(e Entry)
}

// Logger is a Sink that writes structured audit events through zap.
type Logger struct {
	logger *zap.Logger
}

// NewLogger creates a zap-backed sink.
func NewLogger(logger *zap.Logger) *Logger {
	return &Logger{logger: logger.Named("audit")}
}

// Record writes the entry as a structured event.
func (l *Logger) Record(e Entry) {
	l.logger.Info("priority_change",
		zap.String("sender", e.Sender),
		zap.String("task_id", e.TaskID),
		zap.String("field", e.Field),
		zap.String("old", e.OldValue),
		zap.String("new", e.NewValue),
		zap.String("reason", e.Reason),
		zap.Time("at", e.Timestamp))
}

// Memory is a Sink that retains entries in memory, for tests.
type Memory struct {
	mu      sync.Mutex
	entries []Entry
}

// NewMemory creates an in-memory sink.
func NewMemory() *Memory {
	return &Memory{}
}

// Record retains the entry.
func (m *Memory) Record(e Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
}

// Entries returns a copy of everything recorded so far.
func (m *Memory) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}
