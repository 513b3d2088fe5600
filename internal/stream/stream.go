// Package stream splits Docker's multiplexed attach stream into capped
// stdout and stderr buffers.
package stream

import (
	"bytes"
	"io"
	"sync"

	"github.com/docker/docker/pkg/stdcopy"
)

const DefaultLimit = 1 << 20

// Capture collects the two channels of one attach stream. It is safe to
// read from while Copy is still running.
type Capture struct {
	stdout *cappedBuffer
	stderr *cappedBuffer
}

// NewCapture keeps at most limit bytes per channel. A limit <= 0 uses
// DefaultLimit.
func NewCapture(limit int) *Capture {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Capture{
		stdout: &cappedBuffer{limit: limit},
		stderr: &cappedBuffer{limit: limit},
	}
}

// Copy demultiplexes r until EOF or a read error. Frames past the cap are
// still consumed so the container never blocks on a full pipe.
func (c *Capture) Copy(r io.Reader) error {
	_, err := stdcopy.StdCopy(c.stdout, c.stderr, r)
	return err
}

func (c *Capture) Stdout() string { return c.stdout.String() }

func (c *Capture) Stderr() string { return c.stderr.String() }

// Truncated reports whether either channel hit the cap.
func (c *Capture) Truncated() bool {
	return c.stdout.Truncated() || c.stderr.Truncated()
}

type cappedBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	room := b.limit - b.buf.Len()
	if room < len(p) {
		b.truncated = true
		if room > 0 {
			b.buf.Write(p[:room])
		}
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *cappedBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}
