// The gw-agent binary executes commands received as newline-delimited
// JSON over stdin/stdout. It is uploaded per session, runs as a
// single static process, and self-deletes on exit.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/groundworkhq/groundwork/pkg/agent/handlers"
	"github.com/groundworkhq/groundwork/pkg/agent/protocol"
)

const (
	version = "1.0.0"
	// ttl caps a session; an idle or stuck controller does not keep
	// the agent resident.
	ttl = 10 * time.Minute
)

var commandTypes = []protocol.CommandType{
	protocol.CommandTypeExec,
	protocol.CommandTypeFileWrite,
	protocol.CommandTypeFileRead,
	protocol.CommandTypePkgEnsure,
	protocol.CommandTypeServiceEnsure,
	protocol.CommandTypeUserEnsure,
	protocol.CommandTypeFactsGather,
}

type agent struct {
	encoder      *protocol.Encoder
	decoder      *protocol.Decoder
	execPath     string
	commandCount int
}

func main() {
	a := &agent{
		encoder: protocol.NewEncoder(os.Stdout),
		decoder: protocol.NewDecoder(os.Stdin),
	}

	var err error
	a.execPath, err = os.Executable()
	if err != nil {
		a.fatal("INIT_FAILED", fmt.Sprintf("failed to resolve executable path: %v", err))
	}

	if err := a.sendReady(); err != nil {
		a.fatal("READY_FAILED", fmt.Sprintf("failed to send READY: %v", err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), ttl)
	defer cancel()

	reason, exitCode := a.loop(ctx)
	a.exit(reason, exitCode)
}

func (a *agent) sendReady() error {
	caps := make(map[string]bool, len(commandTypes))
	for _, ct := range commandTypes {
		caps[string(ct)] = true
	}
	return a.encoder.EncodeReady(&protocol.ReadyMessage{
		Version:  version,
		Platform: runtime.GOOS,
		Arch:     runtime.GOARCH,
		PID:      os.Getpid(),
		Caps:     caps,
		Metadata: map[string]string{"ttl": ttl.String()},
	})
}

// loop processes commands until stdin closes, the TTL expires, or the
// stream breaks.
func (a *agent) loop(ctx context.Context) (reason string, exitCode int) {
	for {
		select {
		case <-ctx.Done():
			return "ttl_expired", 0
		default:
		}

		if err := a.processNextCommand(ctx); err != nil {
			if errors.Is(err, io.EOF) {
				return "stdin_closed", 0
			}
			return "protocol_error", 1
		}
	}
}

func (a *agent) processNextCommand(ctx context.Context) error {
	cmd, err := a.decoder.DecodeCommand()
	if err != nil {
		return err
	}
	a.commandCount++

	cmdCtx, cancel := context.WithTimeout(ctx, time.Duration(cmd.Timeout)*time.Second)
	defer cancel()

	// Progress events are drained by a single goroutine so frames never
	// interleave; the final DONE or ERROR is written only after the
	// channel is drained.
	eventCh := make(chan *protocol.EventMessage, 16)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for evt := range eventCh {
			if evt.CommandID == "" {
				evt.CommandID = cmd.ID
			}
			a.encoder.EncodeEvent(evt)
		}
	}()

	start := time.Now()
	result, handleErr := a.dispatch(cmdCtx, cmd, eventCh)
	duration := time.Since(start).Seconds()

	close(eventCh)
	<-drained

	if handleErr != nil {
		return a.encoder.EncodeError(commandError(cmd, cmdCtx, handleErr))
	}
	return a.encoder.EncodeDone(&protocol.DoneMessage{
		CommandID: cmd.ID,
		Result:    result,
		Duration:  duration,
	})
}

func (a *agent) dispatch(ctx context.Context, cmd *protocol.CommandMessage, eventCh chan<- *protocol.EventMessage) (json.RawMessage, error) {
	switch cmd.Type {
	case protocol.CommandTypeExec:
		return handle(ctx, cmd, eventCh, (&handlers.ExecHandler{}).Handle)
	case protocol.CommandTypeFileWrite:
		return handle(ctx, cmd, eventCh, (&handlers.FileWriteHandler{}).Handle)
	case protocol.CommandTypeFileRead:
		return handle(ctx, cmd, eventCh, (&handlers.FileReadHandler{}).Handle)
	case protocol.CommandTypePkgEnsure:
		return handle(ctx, cmd, eventCh, (&handlers.PkgEnsureHandler{}).Handle)
	case protocol.CommandTypeServiceEnsure:
		return handle(ctx, cmd, eventCh, (&handlers.ServiceEnsureHandler{}).Handle)
	case protocol.CommandTypeUserEnsure:
		return handle(ctx, cmd, eventCh, (&handlers.UserEnsureHandler{}).Handle)
	case protocol.CommandTypeFactsGather:
		return handle(ctx, cmd, eventCh, (&handlers.FactsGatherHandler{}).Handle)
	default:
		return nil, fmt.Errorf("unsupported command type: %s", cmd.Type)
	}
}

// handle parses the params, runs the handler, and marshals its result.
func handle[P, R any](ctx context.Context, cmd *protocol.CommandMessage, eventCh chan<- *protocol.EventMessage, fn func(context.Context, *P, chan<- *protocol.EventMessage) (*R, error)) (json.RawMessage, error) {
	var params P
	if err := protocol.ParseParams(cmd.Params, &params); err != nil {
		return nil, err
	}
	result, err := fn(ctx, &params, eventCh)
	if err != nil {
		return nil, err
	}
	return json.Marshal(result)
}

// commandError maps a handler failure onto the wire. Timeouts are
// retryable.
func commandError(cmd *protocol.CommandMessage, ctx context.Context, err error) *protocol.ErrorMessage {
	msg := &protocol.ErrorMessage{
		CommandID: cmd.ID,
		Code:      failureCode(cmd.Type),
		Message:   err.Error(),
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		msg.Code = "TIMEOUT"
		msg.Retryable = true
	}
	return msg
}

func failureCode(t protocol.CommandType) string {
	return strings.ToUpper(strings.ReplaceAll(string(t), ".", "_")) + "_FAILED"
}

func (a *agent) exit(reason string, exitCode int) {
	exitMsg := &protocol.ExitMessage{
		Reason:        reason,
		ExitCode:      exitCode,
		CommandsTotal: a.commandCount,
	}
	if err := os.Remove(a.execPath); err == nil {
		exitMsg.SelfDeleted = true
	}
	a.encoder.EncodeExit(exitMsg)
	os.Exit(exitCode)
}

func (a *agent) fatal(code, message string) {
	a.encoder.EncodeError(&protocol.ErrorMessage{Code: code, Message: message})
	os.Exit(1)
}
