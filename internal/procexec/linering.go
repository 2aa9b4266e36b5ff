package procexec

import "sync"

// LineRing keeps the most recent lines of output up to a fixed capacity.
type LineRing struct {
	mu    sync.RWMutex
	lines []string
	head  int
	count int
}

// NewLineRing creates a ring holding at most capacity lines.
func NewLineRing(capacity int) *LineRing {
	if capacity < 1 {
		capacity = 50
	}
	return &LineRing{lines: make([]string, capacity)}
}

// Add appends a line, evicting the oldest when full.
func (r *LineRing) Add(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines[r.head] = line
	r.head = (r.head + 1) % len(r.lines)
	if r.count < len(r.lines) {
		r.count++
	}
}

// Len reports how many lines are held.
func (r *LineRing) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Lines returns the held lines oldest first.
func (r *LineRing) Lines() []string {
	return r.LastN(-1)
}

// LastN returns up to n of the newest lines in chronological order. A
// negative n returns everything held.
func (r *LineRing) LastN(n int) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if n < 0 || n > r.count {
		n = r.count
	}
	out := make([]string, 0, n)
	size := len(r.lines)
	start := (r.head - n + size) % size
	for i := 0; i < n; i++ {
		out = append(out, r.lines[(start+i)%size])
	}
	return out
}
