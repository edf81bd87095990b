package console

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testInterval = 5 * time.Millisecond

// synthetic console: whatever the test writes to guestOut appears in the
// transcript; whatever the session sends lands in input.
type fakeConsole struct {
	input    bytes.Buffer
	mu       sync.Mutex
	guestOut *io.PipeWriter
}

func (f *fakeConsole) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.input.Write(p)
}

func (f *fakeConsole) sent() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.input.String()
}

func newTestSession(t *testing.T) (*Session, *fakeConsole) {
	t.Helper()

	pr, pw := io.Pipe()
	fc := &fakeConsole{guestOut: pw}

	path := filepath.Join(t.TempDir(), "console.log")
	s, err := Open("test", fc, pr, path)
	require.NoError(t, err)

	t.Cleanup(func() {
		pw.Close()
		_ = s.Close()
	})

	return s, fc
}

func TestWaitForReturnsWhenPatternAppears(t *testing.T) {
	s, fc := newTestSession(t)

	go func() {
		io.WriteString(fc.guestOut, "Booting kernel...\r\n")
		time.Sleep(10 * time.Millisecond)
		io.WriteString(fc.guestOut, "\r\nlogin: ")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	matched, err := s.WaitFor(ctx, "login:", testInterval)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(matched, "login:"))
}

func TestWaitForTimesOutWhenPatternNeverAppears(t *testing.T) {
	s, fc := newTestSession(t)

	go func() {
		for i := 0; i < 5; i++ {
			io.WriteString(fc.guestOut, "noise\r\n")
			time.Sleep(5 * time.Millisecond)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := s.WaitFor(ctx, "never-appears", testInterval)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrWaitTimeout))
}

func TestWaitForDoesNotRematchConsumedOutput(t *testing.T) {
	s, fc := newTestSession(t)

	io.WriteString(fc.guestOut, "New Password:")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := s.WaitFor(ctx, "New Password:", testInterval)
	require.NoError(t, err)

	// Second wait must require a second occurrence, not re-match the first.
	shortCtx, shortCancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer shortCancel()
	_, err = s.WaitFor(shortCtx, "New Password:", testInterval)
	require.Error(t, err)

	go func() {
		time.Sleep(10 * time.Millisecond)
		io.WriteString(fc.guestOut, "\r\nRetype New Password:")
	}()
	_, err = s.WaitFor(ctx, "New Password:", testInterval)
	require.NoError(t, err)
}

func TestWaitForFailsWhenSessionDies(t *testing.T) {
	s, fc := newTestSession(t)

	io.WriteString(fc.guestOut, "goodbye\r\n")
	fc.guestOut.Close()
	require.NoError(t, s.Close())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := s.WaitFor(ctx, "never", testInterval)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSessionClosed))
}

func TestSendKeysWritesVerbatim(t *testing.T) {
	s, fc := newTestSession(t)

	require.NoError(t, s.SendKeys("root\n"))
	require.NoError(t, s.SendKeys("\n\n"))

	assert.Equal(t, "root\n\n\n", fc.sent())
}

func TestRunAndWaitCompletesOnTokenOutput(t *testing.T) {
	s, fc := newTestSession(t)

	// Guest shell simulation: echo the input line back, then produce the
	// token on its own line once the "command" finishes.
	go func() {
		for fc.sent() == "" {
			time.Sleep(time.Millisecond)
		}
		line := strings.TrimSuffix(fc.sent(), "\n")
		io.WriteString(fc.guestOut, "# "+line+"\r\n")

		// token is the last word of the sent line
		fields := strings.Fields(line)
		token := fields[len(fields)-1]
		io.WriteString(fc.guestOut, "some command output\r\n")
		io.WriteString(fc.guestOut, token+"\r\n")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := s.RunAndWait(ctx, "service sshd start", testInterval)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(fc.sent(), "service sshd start ; echo "))
}

func TestRunAndWaitIgnoresEchoedToken(t *testing.T) {
	s, fc := newTestSession(t)

	// Guest echoes the input line (token included) but never completes the
	// command: RunAndWait must not be satisfied by the echo.
	go func() {
		for fc.sent() == "" {
			time.Sleep(time.Millisecond)
		}
		line := strings.TrimSuffix(fc.sent(), "\n")
		io.WriteString(fc.guestOut, "# "+line+"\r\n")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	err := s.RunAndWait(ctx, "sleep 1000", testInterval)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrWaitTimeout))
}

func TestTranscriptTailAndAdvance(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "log")

	tr := NewTranscript(path)

	// Missing file reads as empty.
	tail, err := tr.Tail()
	require.NoError(t, err)
	assert.Empty(t, tail)

	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0644))

	tail, err = tr.Tail()
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(tail))

	tr.Advance(6)
	tail, err = tr.Tail()
	require.NoError(t, err)
	assert.Equal(t, "world", string(tail))
	assert.Equal(t, int64(6), tr.Offset())
}
