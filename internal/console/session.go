package console

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Session is a live console session: the guest's serial input plus a tee
// goroutine appending every console byte to the transcript file. A session
// is created when the VM starts and is owned by exactly one caller for the
// duration of a provisioning run.
type Session struct {
	name       string
	in         io.Writer
	transcript *Transcript

	g     *errgroup.Group
	alive atomic.Bool
}

// Open starts a session named name over the given console handles,
// recording output to transcriptPath. Any previous transcript content is
// discarded: the transcript belongs to this run alone.
func Open(name string, in io.Writer, out io.Reader, transcriptPath string) (*Session, error) {
	f, err := os.OpenFile(transcriptPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("create transcript: %w", err)
	}

	s := &Session{
		name:       name,
		in:         in,
		transcript: NewTranscript(transcriptPath),
	}
	s.alive.Store(true)

	s.g = &errgroup.Group{}
	s.g.Go(func() error {
		_, copyErr := io.Copy(f, out)
		s.alive.Store(false)
		if closeErr := f.Close(); copyErr == nil {
			copyErr = closeErr
		}
		return copyErr
	})

	return s, nil
}

// Name returns the session identifier.
func (s *Session) Name() string {
	return s.name
}

// Transcript returns the session's transcript reader.
func (s *Session) Transcript() *Transcript {
	return s.transcript
}

// Alive reports whether console output is still being captured. It turns
// false once the guest's console stream ends (VM exited or console closed).
func (s *Session) Alive() bool {
	return s.alive.Load()
}

// SendKeys writes text verbatim into the console input. There is no
// acknowledgment: the effect becomes observable only through the transcript,
// once the guest has processed the keystrokes.
func (s *Session) SendKeys(text string) error {
	if _, err := io.WriteString(s.in, text); err != nil {
		return fmt.Errorf("console: send keys: %w", err)
	}
	return nil
}

// WaitFor polls the transcript until pattern matches, sleeping interval
// between checks. The offset is advanced past the match, and the consumed
// region is returned. The context deadline bounds the wait: an expectation
// that never appears fails with ErrWaitTimeout instead of hanging until the
// CI job is killed.
func (s *Session) WaitFor(ctx context.Context, pattern string, interval time.Duration) (string, error) {
	return s.wait(ctx, NewPattern(pattern).Match, pattern, interval)
}

// wait runs the generic poll loop over a match function.
func (s *Session) wait(ctx context.Context, match func([]byte) (int, bool), what string, interval time.Duration) (string, error) {
	for {
		wasAlive := s.Alive()

		tail, err := s.transcript.Tail()
		if err != nil {
			return "", err
		}
		if end, ok := match(tail); ok {
			s.transcript.Advance(int64(end))
			return string(tail[:end]), nil
		}

		// The tee had already finished before this read, so no further
		// output can arrive and the expectation can never match.
		if !wasAlive {
			return "", fmt.Errorf("%w: %q", ErrSessionClosed, what)
		}

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %q: %v", ErrWaitTimeout, what, ctx.Err())
		case <-time.After(interval):
		}
	}
}

// Close waits for the tee goroutine to finish. The console handles must be
// closed (or the VM exited) first, or Close blocks.
func (s *Session) Close() error {
	if err := s.g.Wait(); err != nil {
		return fmt.Errorf("console: transcript tee: %w", err)
	}
	return nil
}
