// Package tailbuf keeps the most recent lines of a stream in a bounded
// buffer. snaprun uses it to show the tail of a failing run's captured
// output without holding the whole file in memory.
package tailbuf

import (
	"bufio"
	"os"
	"sync"
)

// Buf is a bounded ring of the most recently pushed lines. Safe for
// concurrent use.
type Buf struct {
	mu    sync.Mutex
	lines []string
	max   int
}

// New creates a Buf holding at most max lines.
func New(max int) *Buf {
	return &Buf{max: max}
}

// Push appends a line, evicting the oldest when over capacity.
func (b *Buf) Push(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = append(b.lines, line)
	if len(b.lines) > b.max {
		b.lines = b.lines[len(b.lines)-b.max:]
	}
}

// Lines returns a snapshot of the buffered lines, oldest first.
func (b *Buf) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.lines))
	copy(out, b.lines)
	return out
}

// LastLines returns up to max final lines of the file at path.
func LastLines(path string, max int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	b := New(max)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		b.Push(sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return b.Lines(), nil
}
