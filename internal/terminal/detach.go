// Package terminal provides interactive console attachment.
package terminal

import (
	"io"
	"sync"
	"time"
)

const (
	// DetachChar is Ctrl+] (0x1D).
	DetachChar = 0x1D

	// DetachCount is the number of consecutive detach chars needed.
	DetachCount = 2

	// DetachTimeout is the maximum time between detach key presses.
	DetachTimeout = 500 * time.Millisecond
)

// DetachReader wraps the local terminal's input stream and watches for the
// detach sequence: DetachCount presses of Ctrl+] within DetachTimeout of
// each other. On detection it closes the Detached channel and ends the
// stream with io.EOF, so the attach loop can hand the terminal back.
type DetachReader struct {
	r        io.Reader
	detached chan struct{}
	once     sync.Once

	mu      sync.Mutex
	pending int
	lastHit time.Time
}

// NewDetachReader creates a DetachReader wrapping the given reader.
func NewDetachReader(r io.Reader) *DetachReader {
	return &DetachReader{
		r:        r,
		detached: make(chan struct{}),
	}
}

// Detached returns a channel that is closed when the detach sequence is seen.
func (d *DetachReader) Detached() <-chan struct{} {
	return d.detached
}

// Read passes bytes through, withholding detach chars until it is clear
// whether they start the detach sequence. A lone Ctrl+] followed by other
// input is delivered to the guest; a completed sequence ends the stream.
func (d *DetachReader) Read(p []byte) (int, error) {
	n, err := d.r.Read(p)
	if n == 0 {
		return n, err
	}

	out := make([]byte, 0, n+DetachCount)
	detachedNow := false
	for _, b := range p[:n] {
		if b == DetachChar {
			if d.hit() {
				d.once.Do(func() { close(d.detached) })
				detachedNow = true
				break
			}
			continue
		}
		// Flush any withheld detach chars that did not form a sequence.
		for i := d.reset(); i > 0; i-- {
			out = append(out, DetachChar)
		}
		out = append(out, b)
	}

	m := copy(p, out)
	switch {
	case detachedNow && m == 0:
		return 0, io.EOF
	case detachedNow:
		return m, nil
	case m == 0:
		// Everything read is being withheld; ask the caller to retry.
		return 0, nil
	}
	return m, err
}

// hit records a detach char press and reports whether the sequence is
// complete.
func (d *DetachReader) hit() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if d.pending > 0 && now.Sub(d.lastHit) > DetachTimeout {
		d.pending = 0
	}
	d.pending++
	d.lastHit = now
	return d.pending >= DetachCount
}

// reset clears and returns the count of withheld detach chars.
func (d *DetachReader) reset() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := d.pending
	d.pending = 0
	return n
}
