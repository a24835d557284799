// Package sshclient opens administrative SSH sessions on network devices and
// sends configuration text as a sequence of commands.
package sshclient

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

// Credentials authenticate one invocation against every target device. The
// value is passed explicitly into every call rather than held as ambient
// state.
type Credentials struct {
	Username string
	Password string
}

type Client struct {
	cfg Config
}

func New(cfg Config) *Client {
	return &Client{cfg: cfg}
}

// Push opens a session to host, enters configuration mode and applies
// configText line by line. The full session transcript is returned even on
// failure so the operator can see how far the device got.
func (c *Client) Push(ctx context.Context, host string, creds Credentials, configText string) (string, error) {
	lines := []string{"terminal length 0", "configure terminal"}
	for _, l := range strings.Split(configText, "\n") {
		if strings.TrimSpace(l) == "" {
			continue
		}
		lines = append(lines, l)
	}
	lines = append(lines, "end", "exit")

	transcript, err := c.runShell(ctx, host, creds, lines)
	if err != nil {
		return transcript, err
	}
	if line, rejected := findRejection(transcript); rejected {
		return transcript, &RejectError{Host: host, Line: line, Transcript: transcript}
	}
	return transcript, nil
}

// Show runs a single exec-mode command, e.g. "show running-config" for
// change-validation snapshots.
func (c *Client) Show(ctx context.Context, host string, creds Credentials, command string) (string, error) {
	client, err := c.dial(ctx, host, creds)
	if err != nil {
		return "", err
	}
	defer client.Close()

	sess, err := client.NewSession()
	if err != nil {
		return "", classifyConnError(host, err)
	}
	defer sess.Close()

	type result struct {
		out []byte
		err error
	}
	done := make(chan result, 1)

	go func() {
		out, err := sess.CombinedOutput(command)
		done <- result{out: out, err: err}
	}()

	select {
	case <-ctx.Done():
		_ = sess.Signal(ssh.SIGKILL)
		return "", classifyConnError(host, ctx.Err())
	case r := <-done:
		if r.err != nil {
			return string(r.out), fmt.Errorf("%w: %s: %v", ErrConnection, host, r.err)
		}
		return string(r.out), nil
	}
}

// runShell requests a pty, starts an interactive shell and feeds lines to it
// in order. Network operating systems commonly disable exec-mode command
// channels, so configuration has to go through the shell.
func (c *Client) runShell(ctx context.Context, host string, creds Credentials, lines []string) (string, error) {
	client, err := c.dial(ctx, host, creds)
	if err != nil {
		return "", err
	}
	defer client.Close()

	sess, err := client.NewSession()
	if err != nil {
		return "", classifyConnError(host, err)
	}
	defer sess.Close()

	modes := ssh.TerminalModes{
		ssh.ECHO:          0,
		ssh.TTY_OP_ISPEED: 115200,
		ssh.TTY_OP_OSPEED: 115200,
	}
	if err := sess.RequestPty("vt100", 80, 200, modes); err != nil {
		return "", classifyConnError(host, err)
	}

	stdin, err := sess.StdinPipe()
	if err != nil {
		return "", classifyConnError(host, err)
	}

	var out bytes.Buffer
	sess.Stdout = &out
	sess.Stderr = &out

	if err := sess.Shell(); err != nil {
		return "", classifyConnError(host, err)
	}

	for _, line := range lines {
		if _, err := fmt.Fprintln(stdin, line); err != nil {
			return out.String(), fmt.Errorf("%w: %s: writing command: %v", ErrConnection, host, err)
		}
	}
	_ = stdin.Close()

	done := make(chan error, 1)
	go func() { done <- sess.Wait() }()

	select {
	case <-ctx.Done():
		_ = sess.Signal(ssh.SIGKILL)
		return out.String(), classifyConnError(host, ctx.Err())
	case err := <-done:
		// The shell exits nonzero on some platforms after "exit"; the
		// transcript scan decides whether commands were accepted.
		if _, ok := err.(*ssh.ExitError); err != nil && !ok {
			return out.String(), fmt.Errorf("%w: %s: %v", ErrConnection, host, err)
		}
		return out.String(), nil
	}
}

// dial opens an authenticated client connection with the configured timeout
// applied to both the TCP dial and the SSH handshake.
func (c *Client) dial(ctx context.Context, host string, creds Credentials) (*ssh.Client, error) {
	if creds.Username == "" {
		return nil, fmt.Errorf("%w: %s: ssh username is empty", ErrAuthentication, host)
	}
	if creds.Password == "" {
		return nil, fmt.Errorf("%w: %s: ssh password is empty", ErrAuthentication, host)
	}

	addr := net.JoinHostPort(host, fmt.Sprintf("%d", c.cfg.Port))

	sshCfg := &ssh.ClientConfig{
		User:            creds.Username,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         c.cfg.Timeout,
		Auth: []ssh.AuthMethod{
			ssh.Password(creds.Password),
			ssh.KeyboardInteractive(func(_user, _instruction string, questions []string, _echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range questions {
					answers[i] = creds.Password
				}
				return answers, nil
			}),
		},
	}

	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, classifyConnError(host, err)
	}

	// The ssh handshake can hang without deadlines on the underlying conn.
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(c.cfg.Timeout))
	}

	cconn, chans, reqs, err := ssh.NewClientConn(conn, addr, sshCfg)
	if err != nil {
		conn.Close()
		return nil, classifyConnError(host, err)
	}

	// Handshake done; let session reads run to the per-attempt context.
	_ = conn.SetDeadline(time.Time{})
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	return ssh.NewClient(cconn, chans, reqs), nil
}
