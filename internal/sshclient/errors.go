package sshclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors classifying how a device push failed.
var (
	ErrAuthentication  = errors.New("authentication failed")
	ErrConnection      = errors.New("connection failed")
	ErrCommandRejected = errors.New("command rejected by device")
)

// RejectError reports a configuration line the device refused. The full
// session transcript is preserved for the operator.
type RejectError struct {
	Host       string
	Line       string
	Transcript string
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("device %s rejected command: %s", e.Host, e.Line)
}

func (e *RejectError) Unwrap() error { return ErrCommandRejected }

// classifyConnError maps a dial/handshake failure onto the error taxonomy.
// The ssh package reports bad credentials as part of the handshake error
// string, so that is what we have to inspect.
func classifyConnError(host string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %s: %v", ErrConnection, host, err)
	}
	msg := err.Error()
	if strings.Contains(msg, "unable to authenticate") ||
		strings.Contains(msg, "permission denied") ||
		strings.Contains(msg, "password rejected") {
		return fmt.Errorf("%w: %s: %v", ErrAuthentication, host, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrConnection, host, err)
}

// rejectMarkers are output prefixes network operating systems use to flag a
// refused configuration line.
var rejectMarkers = []string{
	"% ",
	"%Error",
	"ERROR:",
	"syntax error",
}

// findRejection scans a session transcript for device error markers and
// returns the first offending line.
func findRejection(transcript string) (string, bool) {
	for _, line := range strings.Split(transcript, "\n") {
		trimmed := strings.TrimSpace(line)
		for _, marker := range rejectMarkers {
			if strings.HasPrefix(trimmed, marker) {
				return trimmed, true
			}
		}
	}
	return "", false
}
