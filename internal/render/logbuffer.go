package render

import (
	"sync"
	"time"
)

// LogBuffer keeps the most recent lines of a render for display. It is
// separate from the job ledger logs and drops the oldest line when full.
type LogBuffer struct {
	mu    sync.Mutex
	lines []string
	start int
	size  int
	now   func() time.Time
}

func NewLogBuffer(size int) *LogBuffer {
	if size <= 0 {
		size = 200
	}
	return &LogBuffer{lines: make([]string, 0, size), size: size, now: time.Now}
}

func (b *LogBuffer) Add(msg string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	line := b.now().UTC().Format("15:04:05") + " " + msg
	if len(b.lines) < b.size {
		b.lines = append(b.lines, line)
		return
	}
	b.lines[b.start] = line
	b.start = (b.start + 1) % b.size
}

// Lines returns the buffered lines oldest first.
func (b *LogBuffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]string, 0, len(b.lines))
	out = append(out, b.lines[b.start:]...)
	out = append(out, b.lines[:b.start]...)
	return out
}
