package console

import (
	"context"
	"crypto/rand"
	"fmt"
	"time"
)

const (
	tokenAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	tokenLength   = 16
)

// newToken returns a random alphanumeric completion token.
func newToken() (string, error) {
	buf := make([]byte, tokenLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("console: generate token: %w", err)
	}
	for i, b := range buf {
		buf[i] = tokenAlphabet[int(b)%len(tokenAlphabet)]
	}
	return string(buf), nil
}

// RunAndWait sends a shell command and blocks until the guest shell has
// finished running it. Completion is detected by appending an echo of a
// fresh random token and waiting for the token's *output* occurrence in the
// transcript. The command's own exit status is not observable on a dumb
// terminal; only completion is.
func (s *Session) RunAndWait(ctx context.Context, command string, interval time.Duration) error {
	token, err := newToken()
	if err != nil {
		return err
	}

	if err := s.SendKeys(command + " ; echo " + token + "\n"); err != nil {
		return err
	}

	match := func(b []byte) (int, bool) { return matchToken(b, token) }
	if _, err := s.wait(ctx, match, command, interval); err != nil {
		return fmt.Errorf("console: run %q: %w", command, err)
	}
	return nil
}

// matchToken finds the token's output occurrence: a newline immediately
// followed by the token, tolerating one stray byte the terminal renderer
// sometimes inserts in between. The token also appears in the echoed input
// line, but there it is preceded by "echo " rather than a newline, so that
// occurrence is rejected.
func matchToken(b []byte, token string) (end int, ok bool) {
	tok := []byte(token)
	for i := 0; i+len(tok) <= len(b); i++ {
		if string(b[i:i+len(tok)]) != token {
			continue
		}
		if i >= 1 && isNewline(b[i-1]) {
			return i + len(tok), true
		}
		if i >= 2 && isNewline(b[i-2]) {
			return i + len(tok), true
		}
	}
	return 0, false
}

func isNewline(b byte) bool {
	return b == '\n' || b == '\r'
}
