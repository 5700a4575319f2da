package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/groundworkhq/groundwork/pkg/agent/protocol"
)

// defaultShell interprets exec commands given without an argv.
const defaultShell = "/bin/sh"

// ExecHandler runs arbitrary commands on the host.
type ExecHandler struct{}

// Handle executes the command and captures its output. A non-zero exit
// status is reported in the result, not as an error.
func (h *ExecHandler) Handle(ctx context.Context, params *protocol.ExecParams, eventCh chan<- *protocol.EventMessage) (*protocol.ExecResult, error) {
	if params.Command == "" {
		return nil, fmt.Errorf("command is required")
	}

	argv := execArgv(params)

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if params.WorkDir != "" {
		cmd.Dir = params.WorkDir
	}
	if len(params.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range params.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}

	var stdout, stderr bytes.Buffer
	if params.CaptureOut {
		cmd.Stdout = &stdout
	}
	if params.CaptureErr {
		cmd.Stderr = &stderr
	}

	start := time.Now()
	err := cmd.Run()

	result := &protocol.ExecResult{
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		DurationMS: time.Since(start).Milliseconds(),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return nil, fmt.Errorf("failed to run command: %w", err)
	}
	return result, nil
}

// execArgv builds the argv for an exec command. With Args set the
// command runs directly; without, the shell interprets it with -c.
func execArgv(params *protocol.ExecParams) []string {
	var argv []string
	if len(params.Args) > 0 {
		argv = append([]string{params.Command}, params.Args...)
	} else {
		shell := params.Shell
		if shell == "" {
			shell = defaultShell
		}
		argv = []string{shell, "-c", params.Command}
	}
	return becomeArgv(params.Become, argv)
}
