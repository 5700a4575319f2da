package handlers

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/groundworkhq/groundwork/pkg/agent/protocol"
)

func TestExecArgv(t *testing.T) {
	tests := []struct {
		name   string
		params *protocol.ExecParams
		want   []string
	}{
		{
			name:   "shell command",
			params: &protocol.ExecParams{Command: "echo hello | wc -c"},
			want:   []string{"/bin/sh", "-c", "echo hello | wc -c"},
		},
		{
			name:   "custom shell",
			params: &protocol.ExecParams{Command: "echo hi", Shell: "/bin/bash"},
			want:   []string{"/bin/bash", "-c", "echo hi"},
		},
		{
			name:   "direct argv",
			params: &protocol.ExecParams{Command: "systemctl", Args: []string{"status", "nginx"}},
			want:   []string{"systemctl", "status", "nginx"},
		},
		{
			name:   "become wraps with sudo",
			params: &protocol.ExecParams{Command: "systemctl", Args: []string{"restart", "nginx"}, Become: true},
			want:   []string{"sudo", "-n", "systemctl", "restart", "nginx"},
		},
		{
			name:   "become shell command",
			params: &protocol.ExecParams{Command: "whoami", Become: true},
			want:   []string{"sudo", "-n", "/bin/sh", "-c", "whoami"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := execArgv(tt.params); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("execArgv() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExecHandler(t *testing.T) {
	h := &ExecHandler{}
	ctx := context.Background()

	t.Run("captures stdout", func(t *testing.T) {
		result, err := h.Handle(ctx, &protocol.ExecParams{
			Command:    "echo hello",
			CaptureOut: true,
		}, nil)
		if err != nil {
			t.Fatalf("Handle() error = %v", err)
		}
		if result.ExitCode != 0 {
			t.Errorf("exit code = %d, want 0", result.ExitCode)
		}
		if got := strings.TrimSpace(result.Stdout); got != "hello" {
			t.Errorf("stdout = %q, want %q", got, "hello")
		}
	})

	t.Run("captures stderr", func(t *testing.T) {
		result, err := h.Handle(ctx, &protocol.ExecParams{
			Command:    "echo oops >&2",
			CaptureErr: true,
		}, nil)
		if err != nil {
			t.Fatalf("Handle() error = %v", err)
		}
		if got := strings.TrimSpace(result.Stderr); got != "oops" {
			t.Errorf("stderr = %q, want %q", got, "oops")
		}
	})

	t.Run("non-zero exit is a result, not an error", func(t *testing.T) {
		result, err := h.Handle(ctx, &protocol.ExecParams{
			Command: "exit 3",
		}, nil)
		if err != nil {
			t.Fatalf("Handle() error = %v", err)
		}
		if result.ExitCode != 3 {
			t.Errorf("exit code = %d, want 3", result.ExitCode)
		}
	})

	t.Run("environment is passed through", func(t *testing.T) {
		result, err := h.Handle(ctx, &protocol.ExecParams{
			Command:    "echo $GREETING",
			Env:        map[string]string{"GREETING": "bonjour"},
			CaptureOut: true,
		}, nil)
		if err != nil {
			t.Fatalf("Handle() error = %v", err)
		}
		if got := strings.TrimSpace(result.Stdout); got != "bonjour" {
			t.Errorf("stdout = %q, want %q", got, "bonjour")
		}
	})

	t.Run("workdir is honored", func(t *testing.T) {
		dir := t.TempDir()
		result, err := h.Handle(ctx, &protocol.ExecParams{
			Command:    "pwd",
			WorkDir:    dir,
			CaptureOut: true,
		}, nil)
		if err != nil {
			t.Fatalf("Handle() error = %v", err)
		}
		if got := strings.TrimSpace(result.Stdout); got != dir {
			t.Errorf("stdout = %q, want %q", got, dir)
		}
	})

	t.Run("missing command", func(t *testing.T) {
		if _, err := h.Handle(ctx, &protocol.ExecParams{}, nil); err == nil {
			t.Error("Handle() expected error for empty command")
		}
	})
}
