package ssh

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	gossh "golang.org/x/crypto/ssh"
)

// TransportError wraps transport failures with classification flags so
// callers can decide between retrying and resetting the connection.
type TransportError struct {
	Op          string
	Err         error
	IsTemporary bool
	IsAuthError bool
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("ssh %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Temporary reports whether the failure is worth retrying on the same
// connection.
func (e *TransportError) Temporary() bool {
	return e.IsTemporary
}

// newTransportError classifies err for the given operation.
func newTransportError(op string, err error) *TransportError {
	return &TransportError{
		Op:          op,
		Err:         err,
		IsTemporary: isTemporaryError(err),
		IsAuthError: isAuthError(err),
	}
}

// isTemporaryError reports whether err looks transient.
func isTemporaryError(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := err.Error()
	for _, s := range []string{
		"connection refused",
		"connection reset",
		"no route to host",
		"network is unreachable",
		"i/o timeout",
		"handshake failed: EOF",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// isAuthError reports whether err indicates an authentication failure.
func isAuthError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "unable to authenticate") ||
		strings.Contains(msg, "permission denied") ||
		strings.Contains(msg, "no supported methods remain")
}

// isConnectionLost reports whether err means the underlying connection
// is gone and a fresh dial is needed.
func isConnectionLost(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var exitErr *gossh.ExitError
	if errors.As(err, &exitErr) {
		return false
	}
	var exitMissing *gossh.ExitMissingError
	if errors.As(err, &exitMissing) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	msg := err.Error()
	for _, s := range []string{
		"connection reset",
		"broken pipe",
		"use of closed network connection",
		"ssh: disconnect",
		"rejected: connect failed",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
