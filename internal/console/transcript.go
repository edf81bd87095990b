// Package console drives a guest serial console without any structured
// channel to the guest. Keystrokes are written to the console input and the
// only observable signal is the transcript: an append-only file capturing
// everything the guest renders. Waits are polling loops over that file.
package console

import (
	"fmt"
	"os"
)

// Transcript is the captured output of a console session. It tracks a read
// offset so earlier output is never matched twice: the single writer is the
// session tee, the single reader is the wait loop.
type Transcript struct {
	path   string
	offset int64
}

// NewTranscript returns a transcript reader for the given file.
func NewTranscript(path string) *Transcript {
	return &Transcript{path: path}
}

// Path returns the transcript file path.
func (t *Transcript) Path() string {
	return t.path
}

// Offset returns the current read offset.
func (t *Transcript) Offset() int64 {
	return t.offset
}

// Tail returns everything appended since the current offset. A transcript
// file that does not exist yet reads as empty.
func (t *Transcript) Tail() ([]byte, error) {
	f, err := os.Open(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat transcript: %w", err)
	}
	if info.Size() <= t.offset {
		return nil, nil
	}

	buf := make([]byte, info.Size()-t.offset)
	if _, err := f.ReadAt(buf, t.offset); err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}
	return buf, nil
}

// Advance moves the offset forward by n bytes, past a matched expectation.
func (t *Transcript) Advance(n int64) {
	t.offset += n
}
