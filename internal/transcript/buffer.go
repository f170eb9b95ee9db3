package transcript

import (
	"sync"
	"time"
)

// Snapshot is a consistent view of a buffer at one instant.
type Snapshot struct {
	Text       string
	LastUpdate time.Time
}

// Buffer accumulates lecturer transcript text for one session.
// FUNCTIONAL DISCOVERY: Text and timestamp change under the same lock, so a
// sweep never pairs fresh text with a stale idle time.
type Buffer struct {
	mu         sync.Mutex
	text       string
	lastUpdate time.Time
	now        func() time.Time
}

// NewBuffer creates an empty buffer; now defaults to time.Now.
func NewBuffer(now func() time.Time) *Buffer {
	if now == nil {
		now = time.Now
	}
	return &Buffer{now: now}
}

// Append adds chunk and marks the buffer as just updated. It returns the
// new length.
func (b *Buffer) Append(chunk string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.text += chunk
	b.lastUpdate = b.now()
	return len(b.text)
}

// Snapshot returns text and last-update time together.
func (b *Buffer) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{Text: b.text, LastUpdate: b.lastUpdate}
}

// Len returns the buffered length in bytes.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.text)
}

// Consume drops the first n bytes after a successful generation and restarts
// the idle clock. Text appended after the snapshot was taken survives.
func (b *Buffer) Consume(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n >= len(b.text) {
		b.text = ""
	} else if n > 0 {
		b.text = b.text[n:]
	}
	b.lastUpdate = b.now()
}

// ShouldFire reports whether a buffer is idle long enough and large enough
// for a generation attempt.
func ShouldFire(now, lastUpdate time.Time, length int, interval time.Duration, minLength int) bool {
	return length >= minLength && now.Sub(lastUpdate) >= interval
}
