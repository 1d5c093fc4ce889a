// Package logbuf keeps the last N lines of text, used to tail daemon
// capture files without loading them whole.
package logbuf

import (
	"bufio"
	"fmt"
	"os"
)

// Ring stores the most recent lines appended to it, oldest first on read.
type Ring struct {
	lines []string
	size  int
	pos   int
	full  bool
}

// New creates a ring that retains the last n lines. n must be positive.
func New(n int) *Ring {
	if n <= 0 {
		n = 1
	}
	return &Ring{
		lines: make([]string, n),
		size:  n,
	}
}

// Append adds one line, evicting the oldest when the ring is full.
func (r *Ring) Append(line string) {
	r.lines[r.pos] = line
	r.pos = (r.pos + 1) % r.size
	if r.pos == 0 {
		r.full = true
	}
}

// Lines returns the retained lines in append order.
func (r *Ring) Lines() []string {
	if !r.full {
		out := make([]string, r.pos)
		copy(out, r.lines[:r.pos])
		return out
	}

	out := make([]string, r.size)
	copy(out, r.lines[r.pos:])
	copy(out[r.size-r.pos:], r.lines[:r.pos])
	return out
}

// Len reports how many lines are currently retained.
func (r *Ring) Len() int {
	if r.full {
		return r.size
	}
	return r.pos
}

// TailFile returns the last n lines of the file at path. A trailing
// unterminated line counts; the writing process may not have flushed a
// newline yet.
func TailFile(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ring := New(n)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		ring.Append(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning %s: %w", path, err)
	}

	return ring.Lines(), nil
}
