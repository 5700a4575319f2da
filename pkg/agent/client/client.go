// Package client drives a remote gw-agent over a transport: it uploads
// the agent binary, starts it, and exchanges protocol messages with it
// until the session closes.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/groundworkhq/groundwork/pkg/agent/protocol"
)

// DefaultRemotePath is where the agent binary lands on the target.
const DefaultRemotePath = "/tmp/gw-agent"

// DefaultStartupTimeout bounds the wait for the agent's READY banner.
const DefaultStartupTimeout = 10 * time.Second

// DefaultCommandTimeout applies when a command is built without one.
const DefaultCommandTimeout = 5 * time.Minute

// Transport uploads and runs the agent on a target host.
type Transport interface {
	// Upload copies the agent binary to the remote path.
	Upload(ctx context.Context, localPath, remotePath string) error
	// Execute starts the agent and returns its stdin and stdout.
	Execute(ctx context.Context, remotePath string) (stdin io.WriteCloser, stdout io.ReadCloser, err error)
	// Cleanup removes the agent binary. The agent self-deletes on a
	// clean exit, so a missing file is not an error.
	Cleanup(ctx context.Context, remotePath string) error
}

// Config configures a Client.
type Config struct {
	Transport      Transport
	AgentPath      string // local path of the agent binary
	RemotePath     string
	StartupTimeout time.Duration
}

// Client manages one agent session on one host.
type Client struct {
	cfg     Config
	encoder *protocol.Encoder
	decoder *protocol.Decoder
	stdin   io.WriteCloser
	stdout  io.ReadCloser
	ready   *protocol.ReadyMessage

	mu     sync.Mutex
	closed bool
}

// CommandError is a failure the agent reported for a command.
type CommandError struct {
	CommandID  string
	Code       string
	Message    string
	Retryable  bool
	RetryAfter time.Duration
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ErrAgentExited reports that the agent terminated while a command was
// in flight.
var ErrAgentExited = errors.New("agent exited")

// NewClient validates the configuration and applies defaults.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if cfg.AgentPath == "" {
		return nil, fmt.Errorf("agent path is required")
	}
	if cfg.RemotePath == "" {
		cfg.RemotePath = DefaultRemotePath
	}
	if cfg.StartupTimeout <= 0 {
		cfg.StartupTimeout = DefaultStartupTimeout
	}
	return &Client{cfg: cfg}, nil
}

// Start uploads the agent, launches it, and waits for its READY banner.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("client is closed")
	}

	if err := c.cfg.Transport.Upload(ctx, c.cfg.AgentPath, c.cfg.RemotePath); err != nil {
		return fmt.Errorf("failed to upload agent: %w", err)
	}

	stdin, stdout, err := c.cfg.Transport.Execute(ctx, c.cfg.RemotePath)
	if err != nil {
		return fmt.Errorf("failed to start agent: %w", err)
	}
	c.stdin = stdin
	c.stdout = stdout
	c.encoder = protocol.NewEncoder(stdin)
	c.decoder = protocol.NewDecoder(stdout)

	readyCtx, cancel := context.WithTimeout(ctx, c.cfg.StartupTimeout)
	defer cancel()

	readyCh := make(chan *protocol.ReadyMessage, 1)
	errCh := make(chan error, 1)
	go func() {
		msg, err := c.decoder.Decode()
		if err != nil {
			errCh <- err
			return
		}
		if msg.Type != protocol.MessageTypeReady {
			errCh <- fmt.Errorf("expected READY, got %s", msg.Type)
			return
		}
		var ready protocol.ReadyMessage
		if err := protocol.ParseParams(msg.Data, &ready); err != nil {
			errCh <- err
			return
		}
		readyCh <- &ready
	}()

	select {
	case <-readyCtx.Done():
		return fmt.Errorf("timed out waiting for agent READY")
	case err := <-errCh:
		return fmt.Errorf("failed to receive READY: %w", err)
	case ready := <-readyCh:
		c.ready = ready
		return nil
	}
}

// Execute sends a command and waits for its DONE, discarding events.
func (c *Client) Execute(ctx context.Context, cmd *protocol.CommandMessage) (*protocol.DoneMessage, error) {
	return c.ExecuteWithEvents(ctx, cmd, nil)
}

// ExecuteWithEvents sends a command, forwards its progress events to
// eventCh when non-nil, and waits for its DONE or ERROR.
func (c *Client) ExecuteWithEvents(ctx context.Context, cmd *protocol.CommandMessage, eventCh chan<- *protocol.EventMessage) (*protocol.DoneMessage, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("client is closed")
	}
	encoder, decoder := c.encoder, c.decoder
	c.mu.Unlock()

	if encoder == nil {
		return nil, fmt.Errorf("client is not started")
	}
	if err := encoder.EncodeCommand(cmd); err != nil {
		return nil, fmt.Errorf("failed to send command: %w", err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		msg, err := decoder.Decode()
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}

		switch msg.Type {
		case protocol.MessageTypeEvent:
			var event protocol.EventMessage
			if err := protocol.ParseParams(msg.Data, &event); err != nil {
				return nil, fmt.Errorf("failed to parse event: %w", err)
			}
			if eventCh != nil {
				eventCh <- &event
			}

		case protocol.MessageTypeDone:
			var done protocol.DoneMessage
			if err := protocol.ParseParams(msg.Data, &done); err != nil {
				return nil, fmt.Errorf("failed to parse done: %w", err)
			}
			if done.CommandID != cmd.ID {
				return nil, fmt.Errorf("command ID mismatch: sent %s, got %s", cmd.ID, done.CommandID)
			}
			return &done, nil

		case protocol.MessageTypeError:
			var errMsg protocol.ErrorMessage
			if err := protocol.ParseParams(msg.Data, &errMsg); err != nil {
				return nil, fmt.Errorf("failed to parse error: %w", err)
			}
			if errMsg.CommandID != "" && errMsg.CommandID != cmd.ID {
				return nil, fmt.Errorf("command ID mismatch: sent %s, got %s", cmd.ID, errMsg.CommandID)
			}
			return nil, &CommandError{
				CommandID:  errMsg.CommandID,
				Code:       errMsg.Code,
				Message:    errMsg.Message,
				Retryable:  errMsg.Retryable,
				RetryAfter: time.Duration(errMsg.RetryAfter) * time.Second,
			}

		case protocol.MessageTypeExit:
			return nil, ErrAgentExited

		default:
			return nil, fmt.Errorf("unexpected message type: %s", msg.Type)
		}
	}
}

// Ready returns the agent's READY banner, nil before Start.
func (c *Client) Ready() *protocol.ReadyMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// Supports reports whether the agent advertises the capability.
func (c *Client) Supports(cap string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready != nil && c.ready.Caps[cap]
}

// Close shuts the session down and removes the remote binary.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	// Closing stdin signals the agent to exit.
	if c.stdin != nil {
		if err := c.stdin.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close stdin: %w", err))
		}
	}
	if c.stdout != nil {
		if err := c.stdout.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close stdout: %w", err))
		}
	}
	// The agent self-deletes on clean exit; cleanup failures are moot.
	_ = c.cfg.Transport.Cleanup(ctx, c.cfg.RemotePath)

	return errors.Join(errs...)
}

// NewCommand builds a command message with a fresh ID and marshaled
// params. Timeouts round up to whole seconds.
func NewCommand(cmdType protocol.CommandType, params interface{}, timeout time.Duration) (*protocol.CommandMessage, error) {
	payload, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params: %w", err)
	}
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	secs := int((timeout + time.Second - 1) / time.Second)

	return &protocol.CommandMessage{
		ID:      uuid.NewString(),
		Type:    cmdType,
		Timeout: secs,
		Params:  payload,
	}, nil
}
