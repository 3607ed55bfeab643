package util

import "sync"

const subscriberQueue = 256

// LogBus fans engine output lines out to live subscribers while keeping
// a bounded replay buffer of the most recent lines for late readers.
type LogBus struct {
	mu        sync.Mutex
	lines     []string
	capacity  int
	listeners map[chan string]struct{}
}

func NewLogBus(capacity int) *LogBus {
	if capacity <= 0 {
		capacity = 100
	}
	return &LogBus{
		lines:     make([]string, 0, capacity),
		capacity:  capacity,
		listeners: make(map[chan string]struct{}),
	}
}

// Publish appends a line to the replay buffer and delivers it to every
// subscriber. A subscriber with a full queue drops the line rather than
// blocking the producer, which reads directly off the process pipes.
func (b *LogBus) Publish(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lines = append(b.lines, line)
	if excess := len(b.lines) - b.capacity; excess > 0 {
		b.lines = b.lines[excess:]
	}

	for ch := range b.listeners {
		select {
		case ch <- line:
		default:
		}
	}
}

// Snapshot returns a copy of the replay buffer, oldest line first.
func (b *LogBus) Snapshot() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.lines...)
}

func (b *LogBus) Subscribe() chan string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan string, subscriberQueue)
	b.listeners[ch] = struct{}{}
	return ch
}

// Unsubscribe detaches and closes the channel. Calling it twice with
// the same channel is safe.
func (b *LogBus) Unsubscribe(ch chan string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.listeners[ch]; ok {
		delete(b.listeners, ch)
		close(ch)
	}
}
