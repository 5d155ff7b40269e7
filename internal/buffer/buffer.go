// Package buffer implements the intent window buffer. Rapid-fire messages
// from one sender are accumulated and released as a single batch for joint
// dependency analysis once the window elapses.
package buffer

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Message is one inbound request held in a sender's pending list.
type Message struct {
	// Sender identifies who sent the message.
	Sender string
	// Text is the raw request.
	Text string
	// ReceivedAt is when the message entered the buffer.
	ReceivedAt time.Time
}

// Buffer accumulates messages per sender and releases a batch once the
// oldest pending message is at least window old. It is an injectable
// instance, never package-level state.
type Buffer struct {
	// window is the quiet period before a batch is released.
	window time.Duration
	// cap bounds the pending list per sender. On overflow the oldest
	// messages are dropped so only the most recent cap remain.
	cap int
	// now is the clock, injectable for tests.
	now func() time.Time
	// dropped counts messages discarded by the overflow policy.
	dropped atomic.Uint64

	logger *zap.Logger

	// mu guards senders. Each sender carries its own lock so concurrent
	// senders never serialize against each other.
	mu      sync.Mutex
	senders map[string]*senderState
}

// senderState is one sender's pending list.
type senderState struct {
	mu      sync.Mutex
	pending []Message
}

// Option configures a Buffer.
type Option func(*Buffer)

// WithClock overrides the buffer's clock (for tests).
func WithClock(now func() time.Time) Option {
	return func(b *Buffer) { b.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(b *Buffer) { b.logger = logger }
}

// New creates a buffer with the given window and per-sender cap.
func New(window time.Duration, capacity int, opts ...Option) *Buffer {
	b := &Buffer{
		window:  window,
		cap:     capacity,
		now:     time.Now,
		logger:  zap.NewNop(),
		senders: make(map[string]*senderState),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Add appends a message to the sender's pending list. If the oldest pending
// message has aged past the window, the entire pending list is returned as
// a batch and cleared; otherwise nil is returned and collection continues.
// The check and the flush happen inside one per-sender critical section, so
// two concurrent Adds cannot both emit the same batch.
func (b *Buffer) Add(sender, text string) []Message {
	state := b.state(sender)

	state.mu.Lock()
	defer state.mu.Unlock()

	now := b.now()
	state.pending = append(state.pending, Message{
		Sender:     sender,
		Text:       text,
		ReceivedAt: now,
	})

	// Overflow policy: drop oldest, keep the most recent cap messages.
	// Drops are counted and logged rather than silent.
	if over := len(state.pending) - b.cap; over > 0 {
		state.pending = state.pending[over:]
		total := b.dropped.Add(uint64(over))
		b.logger.Warn("intent buffer overflow, dropped oldest messages",
			zap.String("sender", sender),
			zap.Int("dropped", over),
			zap.Uint64("total_dropped", total))
	}

	if now.Sub(state.pending[0].ReceivedAt) < b.window {
		return nil
	}

	batch := state.pending
	state.pending = nil
	b.logger.Debug("intent window closed, releasing batch",
		zap.String("sender", sender),
		zap.Int("size", len(batch)))
	return batch
}

// Sweep releases every sender's pending list whose window has elapsed.
// It exists for callers that poll on a timer: Add only flushes when a new
// message arrives, so a sender that goes quiet needs the sweep to release
// their final batch.
func (b *Buffer) Sweep() [][]Message {
	b.mu.Lock()
	states := make([]*senderState, 0, len(b.senders))
	for _, s := range b.senders {
		states = append(states, s)
	}
	b.mu.Unlock()

	var batches [][]Message
	for _, state := range states {
		state.mu.Lock()
		if len(state.pending) > 0 && b.now().Sub(state.pending[0].ReceivedAt) >= b.window {
			batch := state.pending
			state.pending = nil
			batches = append(batches, batch)
			b.logger.Debug("intent window closed, releasing batch",
				zap.String("sender", batch[0].Sender),
				zap.Int("size", len(batch)))
		}
		state.mu.Unlock()
	}
	return batches
}

// Pending returns the number of messages currently buffered for a sender.
func (b *Buffer) Pending(sender string) int {
	state := b.state(sender)
	state.mu.Lock()
	defer state.mu.Unlock()
	return len(state.pending)
}

// Dropped returns the total number of messages discarded by the overflow
// policy across all senders.
func (b *Buffer) Dropped() uint64 {
	return b.dropped.Load()
}

// state returns the sender's pending list, creating it on first use.
func (b *Buffer) state(sender string) *senderState {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.senders[sender]
	if !ok {
		s = &senderState{}
		b.senders[sender] = s
	}
	return s
}
