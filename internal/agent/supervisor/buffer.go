package supervisor

import (
	"sync"
	"time"
)

// OutputLine is one line the agent wrote to stdout or stderr.
type OutputLine struct {
	Timestamp time.Time `json:"timestamp"`
	PID       int       `json:"pid"`
	Stream    string    `json:"stream"`
	Content   string    `json:"content"`
}

// OutputBuffer keeps the most recent agent output in a ring.
type OutputBuffer struct {
	mu    sync.RWMutex
	lines []OutputLine
	head  int
	count int
}

// NewOutputBuffer creates a buffer holding up to size lines.
func NewOutputBuffer(size int) *OutputBuffer {
	if size <= 0 {
		size = 1
	}
	return &OutputBuffer{lines: make([]OutputLine, size)}
}

// Add appends a line, evicting the oldest when full.
func (b *OutputBuffer) Add(line OutputLine) {
	b.mu.Lock()
	defer b.mu.Unlock()

	size := len(b.lines)
	idx := (b.head + b.count) % size
	if b.count < size {
		b.count++
	} else {
		b.head = (b.head + 1) % size
	}
	b.lines[idx] = line
}

// Last returns up to n of the newest lines, oldest first. n <= 0 returns all.
func (b *OutputBuffer) Last(n int) []OutputLine {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if n <= 0 || n > b.count {
		n = b.count
	}
	out := make([]OutputLine, n)
	start := b.count - n
	for i := 0; i < n; i++ {
		out[i] = b.lines[(b.head+start+i)%len(b.lines)]
	}
	return out
}

// Count returns the number of buffered lines.
func (b *OutputBuffer) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// Clear drops every buffered line.
func (b *OutputBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.head = 0
	b.count = 0
}
