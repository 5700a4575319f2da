package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/groundworkhq/groundwork/pkg/agent/protocol"
)

// fakeTransport runs a scripted agent on in-memory pipes.
type fakeTransport struct {
	script   func(dec *protocol.Decoder, enc *protocol.Encoder)
	uploaded []string
	cleaned  []string
}

func (t *fakeTransport) Upload(ctx context.Context, localPath, remotePath string) error {
	t.uploaded = append(t.uploaded, remotePath)
	return nil
}

func (t *fakeTransport) Execute(ctx context.Context, remotePath string) (io.WriteCloser, io.ReadCloser, error) {
	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()
	go func() {
		defer stdoutW.Close()
		t.script(protocol.NewDecoder(stdinR), protocol.NewEncoder(stdoutW))
	}()
	return stdinW, stdoutR, nil
}

func (t *fakeTransport) Cleanup(ctx context.Context, remotePath string) error {
	t.cleaned = append(t.cleaned, remotePath)
	return nil
}

func startedClient(t *testing.T, script func(dec *protocol.Decoder, enc *protocol.Encoder)) (*Client, *fakeTransport) {
	t.Helper()

	transport := &fakeTransport{script: script}
	c, err := NewClient(Config{
		Transport: transport,
		AgentPath: "/usr/local/libexec/gw-agent",
	})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	return c, transport
}

func TestClientStart(t *testing.T) {
	c, transport := startedClient(t, func(dec *protocol.Decoder, enc *protocol.Encoder) {
		enc.EncodeReady(&protocol.ReadyMessage{
			Version: "1.0.0",
			PID:     77,
			Caps:    map[string]bool{"exec": true, "facts.gather": true},
		})
	})
	defer c.Close(context.Background())

	ready := c.Ready()
	if ready == nil || ready.Version != "1.0.0" {
		t.Fatalf("Ready() = %+v", ready)
	}
	if !c.Supports("exec") {
		t.Error("Supports(exec) = false")
	}
	if c.Supports("disk.format") {
		t.Error("Supports(disk.format) = true")
	}
	if len(transport.uploaded) != 1 || transport.uploaded[0] != DefaultRemotePath {
		t.Errorf("uploaded = %v", transport.uploaded)
	}
}

func TestClientStartRejectsNonReady(t *testing.T) {
	transport := &fakeTransport{script: func(dec *protocol.Decoder, enc *protocol.Encoder) {
		enc.EncodeEvent(&protocol.EventMessage{CommandID: "cmd-0", Message: "surprise"})
	}}
	c, err := NewClient(Config{Transport: transport, AgentPath: "/x"})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if err := c.Start(context.Background()); err == nil {
		t.Error("Start() expected error for non-READY first message")
	}
}

func TestClientExecuteWithEvents(t *testing.T) {
	c, _ := startedClient(t, func(dec *protocol.Decoder, enc *protocol.Encoder) {
		enc.EncodeReady(&protocol.ReadyMessage{Version: "1.0.0"})

		cmd, err := dec.DecodeCommand()
		if err != nil {
			return
		}
		enc.EncodeEvent(&protocol.EventMessage{CommandID: cmd.ID, Message: "installing"})
		enc.EncodeEvent(&protocol.EventMessage{CommandID: cmd.ID, Message: "installed"})
		enc.EncodeDone(&protocol.DoneMessage{
			CommandID: cmd.ID,
			Result:    json.RawMessage(`{"changed":true,"action":"installed"}`),
			Duration:  0.2,
		})
	})
	defer c.Close(context.Background())

	cmd, err := NewCommand(protocol.CommandTypePkgEnsure, &protocol.PkgEnsureParams{
		Name:  "nginx",
		State: "present",
	}, 30*time.Second)
	if err != nil {
		t.Fatalf("NewCommand() error = %v", err)
	}

	eventCh := make(chan *protocol.EventMessage, 10)
	done, err := c.ExecuteWithEvents(context.Background(), cmd, eventCh)
	if err != nil {
		t.Fatalf("ExecuteWithEvents() error = %v", err)
	}
	if done.CommandID != cmd.ID {
		t.Errorf("done command ID = %q, want %q", done.CommandID, cmd.ID)
	}

	var result protocol.PkgEnsureResult
	if err := protocol.ParseParams(done.Result, &result); err != nil {
		t.Fatalf("ParseParams() error = %v", err)
	}
	if !result.Changed || result.Action != "installed" {
		t.Errorf("result = %+v", result)
	}

	close(eventCh)
	var messages []string
	for evt := range eventCh {
		messages = append(messages, evt.Message)
	}
	if len(messages) != 2 || messages[0] != "installing" {
		t.Errorf("events = %v", messages)
	}
}

func TestClientExecuteError(t *testing.T) {
	c, _ := startedClient(t, func(dec *protocol.Decoder, enc *protocol.Encoder) {
		enc.EncodeReady(&protocol.ReadyMessage{Version: "1.0.0"})

		cmd, err := dec.DecodeCommand()
		if err != nil {
			return
		}
		enc.EncodeError(&protocol.ErrorMessage{
			CommandID: cmd.ID,
			Code:      "PKG_FAILED",
			Message:   "repository unreachable",
			Retryable: true,
		})
	})
	defer c.Close(context.Background())

	cmd, err := NewCommand(protocol.CommandTypePkgEnsure, &protocol.PkgEnsureParams{
		Name:  "nginx",
		State: "present",
	}, time.Minute)
	if err != nil {
		t.Fatalf("NewCommand() error = %v", err)
	}

	_, err = c.Execute(context.Background(), cmd)
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("Execute() error = %v, want CommandError", err)
	}
	if cmdErr.Code != "PKG_FAILED" || !cmdErr.Retryable {
		t.Errorf("CommandError = %+v", cmdErr)
	}
}

func TestClientClose(t *testing.T) {
	c, transport := startedClient(t, func(dec *protocol.Decoder, enc *protocol.Encoder) {
		enc.EncodeReady(&protocol.ReadyMessage{Version: "1.0.0"})
	})

	if err := c.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if len(transport.cleaned) != 1 {
		t.Errorf("cleanup calls = %v", transport.cleaned)
	}
	// Closing twice is fine.
	if err := c.Close(context.Background()); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if _, err := c.Execute(context.Background(), &protocol.CommandMessage{}); err == nil {
		t.Error("Execute() after Close should fail")
	}
}

func TestNewCommand(t *testing.T) {
	cmd, err := NewCommand(protocol.CommandTypeExec, &protocol.ExecParams{Command: "uptime"}, 1500*time.Millisecond)
	if err != nil {
		t.Fatalf("NewCommand() error = %v", err)
	}
	if cmd.ID == "" {
		t.Error("command ID is empty")
	}
	if cmd.Timeout != 2 {
		t.Errorf("timeout = %d, want rounded up to 2", cmd.Timeout)
	}
	if err := cmd.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}

	cmd, err = NewCommand(protocol.CommandTypeFactsGather, &protocol.FactsGatherParams{}, 0)
	if err != nil {
		t.Fatalf("NewCommand() error = %v", err)
	}
	if cmd.Timeout != int(DefaultCommandTimeout/time.Second) {
		t.Errorf("default timeout = %d", cmd.Timeout)
	}
	if len(cmd.Params) == 0 {
		t.Error("params should marshal to a non-empty object")
	}
}
