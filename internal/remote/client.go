// Package remote runs commands in the provisioned guest over SSH. Once the
// console phase has brought sshd up, everything else goes through here.
package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/crypto/ssh"
)

const (
	dialAttempts = 10
	dialBackoff  = 5 * time.Second
)

// Client is an SSH connection to the guest.
type Client struct {
	addr   string
	client *ssh.Client
}

// Dial connects to the guest at host:port as user, retrying while sshd
// inside the guest finishes starting up. Key auth is tried first, then an
// empty password, matching a guest whose root password has been cleared.
func Dial(ctx context.Context, host string, port int, user string, signer ssh.Signer) (*Client, error) {
	var auth []ssh.AuthMethod
	if signer != nil {
		auth = append(auth, ssh.PublicKeys(signer))
	}
	auth = append(auth, ssh.Password(""))

	cfg := &ssh.ClientConfig{
		User: user,
		Auth: auth,
		// The guest is a throwaway local VM; its host key changes on
		// every full provision.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         10 * time.Second,
	}

	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))

	var lastErr error
	for attempt := 1; attempt <= dialAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		client, err := ssh.Dial("tcp", addr, cfg)
		if err == nil {
			log.Debug("ssh connected", "addr", addr, "attempt", attempt)
			return &Client{addr: addr, client: client}, nil
		}
		lastErr = err
		log.Debug("ssh not ready", "addr", addr, "attempt", attempt, "err", err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(dialBackoff):
		}
	}
	return nil, fmt.Errorf("ssh to %s failed after %d attempts: %w", addr, dialAttempts, lastErr)
}

// Run executes a command in the guest, streaming its output to the given
// writers. A nil writer discards that stream.
func (c *Client) Run(ctx context.Context, command string, stdout, stderr io.Writer) error {
	session, err := c.client.NewSession()
	if err != nil {
		return fmt.Errorf("open ssh session: %w", err)
	}
	defer session.Close()

	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	session.Stdout = stdout
	session.Stderr = stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("run %q: %w", command, err)
		}
		return nil
	case <-ctx.Done():
		session.Close()
		return ctx.Err()
	}
}

// Output executes a command and returns its combined output.
func (c *Client) Output(ctx context.Context, command string) (string, error) {
	var buf bytes.Buffer
	err := c.Run(ctx, command, &buf, &buf)
	return buf.String(), err
}

// RunInteractive executes a command with the local stdio attached, for the
// exec subcommand.
func (c *Client) RunInteractive(command string) error {
	session, err := c.client.NewSession()
	if err != nil {
		return fmt.Errorf("open ssh session: %w", err)
	}
	defer session.Close()

	session.Stdin = os.Stdin
	session.Stdout = os.Stdout
	session.Stderr = os.Stderr

	if err := session.Run(command); err != nil {
		return fmt.Errorf("run %q: %w", command, err)
	}
	return nil
}

// Close closes the SSH connection.
func (c *Client) Close() error {
	return c.client.Close()
}
