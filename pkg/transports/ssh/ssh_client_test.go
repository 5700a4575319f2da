package ssh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/groundworkhq/groundwork/pkg/engine"
)

func TestNewClientValidatesConfig(t *testing.T) {
	cfg := ConfigForHost(&engine.Host{Name: "web-1", Address: "", User: "deploy"}, DefaultOptions())

	if _, err := NewClient(cfg, zerolog.Nop()); err == nil {
		t.Error("expected error for empty host, got nil")
	}
}

func TestClientConnectRefused(t *testing.T) {
	// Reserve a port and close it so the dial is refused.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	keyPath := writeTestKey(t)
	cfg := ConfigForHost(&engine.Host{
		Name:          "web-1",
		Address:       "127.0.0.1",
		Port:          port,
		User:          "deploy",
		CredentialRef: "file:" + keyPath,
	}, DefaultOptions())
	cfg.StrictHostKeyChecking = false
	cfg.ConnectTimeout = 2 * time.Second

	c, err := NewClient(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	err = c.Connect(context.Background())
	if err == nil {
		t.Fatal("expected connect to fail")
	}

	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %T", err)
	}
	if !te.Temporary() {
		t.Error("expected refused connection to be temporary")
	}
	if c.Connected() {
		t.Error("expected client to be disconnected after failure")
	}
}

func TestClientExecuteWithoutConnection(t *testing.T) {
	keyPath := writeTestKey(t)
	cfg := ConfigForHost(&engine.Host{
		Name:          "web-1",
		Address:       "127.0.0.1",
		User:          "deploy",
		CredentialRef: "file:" + keyPath,
	}, DefaultOptions())

	c, err := NewClient(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	if _, _, err := c.Execute(context.Background(), "/tmp/gw-agent"); err == nil {
		t.Error("expected error when not connected, got nil")
	}
	if err := c.HealthCheck(context.Background()); err == nil {
		t.Error("expected health check to fail when not connected")
	}
	if err := c.Cleanup(context.Background(), "/tmp/gw-agent"); err != nil {
		t.Errorf("expected cleanup on disconnected client to be a no-op, got %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("expected close on disconnected client to be a no-op, got %v", err)
	}
}

func TestTransportErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		temporary bool
		auth      bool
	}{
		{
			name:      "connection refused",
			err:       fmt.Errorf("dial tcp: connection refused"),
			temporary: true,
		},
		{
			name:      "no route",
			err:       fmt.Errorf("dial tcp: no route to host"),
			temporary: true,
		},
		{
			name: "auth failure",
			err:  fmt.Errorf("ssh: unable to authenticate, attempted methods [publickey]"),
			auth: true,
		},
		{
			name: "permission denied",
			err:  fmt.Errorf("permission denied (publickey)"),
			auth: true,
		},
		{
			name: "plain failure",
			err:  fmt.Errorf("something else broke"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			te := newTransportError("connect", tt.err)
			if te.Temporary() != tt.temporary {
				t.Errorf("expected temporary=%v for %v", tt.temporary, tt.err)
			}
			if te.IsAuthError != tt.auth {
				t.Errorf("expected auth=%v for %v", tt.auth, tt.err)
			}
			if !errors.Is(te, tt.err) {
				t.Error("expected Unwrap to expose the cause")
			}
		})
	}
}

func TestIsConnectionLost(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "eof", err: io.EOF, want: true},
		{name: "wrapped eof", err: fmt.Errorf("decode: %w", io.EOF), want: true},
		{name: "closed network", err: net.ErrClosed, want: true},
		{name: "broken pipe", err: fmt.Errorf("write: broken pipe"), want: true},
		{name: "ssh disconnect", err: fmt.Errorf("ssh: disconnect, reason 2"), want: true},
		{name: "ordinary failure", err: fmt.Errorf("exit status 1"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isConnectionLost(tt.err); got != tt.want {
				t.Errorf("isConnectionLost(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestShellQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "/tmp/gw-agent", want: "'/tmp/gw-agent'"},
		{in: "path with spaces", want: "'path with spaces'"},
		{in: "o'brien", want: `'o'\''brien'`},
	}

	for _, tt := range tests {
		if got := shellQuote(tt.in); got != tt.want {
			t.Errorf("shellQuote(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
