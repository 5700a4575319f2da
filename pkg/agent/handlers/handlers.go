// Package handlers implements the command handlers gw-agent dispatches
// to. Handlers are idempotent where the operation allows it: they probe
// current state first and report Changed=false with an already-present
// style action when nothing needs doing.
package handlers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/groundworkhq/groundwork/pkg/agent/protocol"
)

// emit sends a progress event without blocking. Events are dropped when
// the channel is full; the command ID is filled in by the dispatch loop.
func emit(eventCh chan<- *protocol.EventMessage, level, message string) {
	if eventCh == nil {
		return
	}
	select {
	case eventCh <- &protocol.EventMessage{Level: level, Message: message}:
	default:
	}
}

// becomeArgv prefixes argv with a non-interactive sudo. The agent never
// feeds a password; privilege elevation requires a NOPASSWD rule.
func becomeArgv(become bool, argv []string) []string {
	if !become {
		return argv
	}
	return append([]string{"sudo", "-n"}, argv...)
}

// runCmd runs argv and returns its trimmed combined output. A non-zero
// exit status is returned as an error carrying the output.
func runCmd(ctx context.Context, become bool, argv ...string) (string, error) {
	argv = becomeArgv(become, argv)

	var buf bytes.Buffer
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	err := cmd.Run()
	out := strings.TrimSpace(buf.String())
	if err != nil {
		if out != "" {
			return out, fmt.Errorf("%s: %w: %s", argv[0], err, out)
		}
		return out, fmt.Errorf("%s: %w", argv[0], err)
	}
	return out, nil
}

// copyFile copies src to dst preserving the source mode.
func copyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
