package ssh

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/groundworkhq/groundwork/pkg/agent/client"
	"github.com/groundworkhq/groundwork/pkg/agent/protocol"
	"github.com/groundworkhq/groundwork/pkg/engine"
)

// agentSession is one live agent on one host.
type agentSession interface {
	Execute(ctx context.Context, cmd *protocol.CommandMessage) (*protocol.DoneMessage, error)
	Close(ctx context.Context) error
}

// Executor runs task actions over SSH through the remote agent. It
// caches one connection per host and implements engine.TaskExecutor.
type Executor struct {
	opts   Options
	logger zerolog.Logger

	mu       sync.Mutex
	sessions map[string]agentSession

	// dial establishes the per-host session. Replaceable in tests.
	dial func(ctx context.Context, host *engine.Host) (agentSession, error)

	// probe performs a raw connectivity probe. Replaceable in tests.
	probe func(ctx context.Context, addr string) error
}

// NewExecutor creates an executor. opts.AgentPath must name the local
// agent binary to upload.
func NewExecutor(opts Options, logger zerolog.Logger) (*Executor, error) {
	if opts.AgentPath == "" {
		return nil, fmt.Errorf("agent path is required")
	}
	e := &Executor{
		opts:     opts,
		logger:   logger.With().Str("component", "ssh-executor").Logger(),
		sessions: make(map[string]agentSession),
	}
	e.dial = e.dialHost
	e.probe = probeTCP
	return e, nil
}

// hostSession bundles the SSH connection with the agent running over it.
type hostSession struct {
	ssh   *Client
	agent *client.Client
}

func (s *hostSession) Execute(ctx context.Context, cmd *protocol.CommandMessage) (*protocol.DoneMessage, error) {
	return s.agent.Execute(ctx, cmd)
}

func (s *hostSession) Close(ctx context.Context) error {
	var errs []error
	if err := s.agent.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := s.ssh.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// dialHost connects, uploads the agent, and waits for its banner.
func (e *Executor) dialHost(ctx context.Context, host *engine.Host) (agentSession, error) {
	cfg := ConfigForHost(host, e.opts)

	sshClient, err := NewClient(cfg, e.logger)
	if err != nil {
		return nil, err
	}
	if err := sshClient.Connect(ctx); err != nil {
		return nil, err
	}

	agentClient, err := client.NewClient(client.Config{
		Transport:  sshClient,
		AgentPath:  e.opts.AgentPath,
		RemotePath: e.opts.RemoteAgentPath,
	})
	if err != nil {
		_ = sshClient.Close()
		return nil, err
	}
	if err := agentClient.Start(ctx); err != nil {
		_ = sshClient.Close()
		return nil, err
	}

	e.logger.Debug().Str("host", host.Name).Msg("agent session established")
	return &hostSession{ssh: sshClient, agent: agentClient}, nil
}

// session returns the cached session for a host, dialing on first use.
func (e *Executor) session(ctx context.Context, host *engine.Host) (agentSession, error) {
	e.mu.Lock()
	if s, ok := e.sessions[host.Name]; ok {
		e.mu.Unlock()
		return s, nil
	}
	e.mu.Unlock()

	s, err := e.dial(ctx, host)
	if err != nil {
		return nil, classifyDialError(err, host)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if existing, ok := e.sessions[host.Name]; ok {
		// Lost the dial race, keep the existing session.
		go func() { _ = s.Close(context.Background()) }()
		return existing, nil
	}
	e.sessions[host.Name] = s
	return s, nil
}

// Execute performs one action invocation on the host.
func (e *Executor) Execute(ctx context.Context, host *engine.Host, inv engine.ActionInvocation) (*engine.ActionResult, error) {
	s, err := e.session(ctx, host)
	if err != nil {
		return nil, err
	}

	cmd, err := buildCommand(host, inv, e.opts.CommandTimeout)
	if err != nil {
		return nil, engine.NewPermanentError("invalid action invocation", err).
			WithCode(engine.ErrCodeValidation).
			WithHost(host.Name).
			WithTask(inv.Task)
	}

	timeout := inv.Timeout
	if timeout <= 0 {
		timeout = e.opts.CommandTimeout
	}
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done, err := s.Execute(cmdCtx, cmd)
	if err != nil {
		return nil, e.classifyExecError(err, host, inv)
	}

	return parseActionResult(inv, done)
}

// buildCommand maps an action invocation to an agent command.
func buildCommand(host *engine.Host, inv engine.ActionInvocation, defaultTimeout time.Duration) (*protocol.CommandMessage, error) {
	cmdType := protocol.CommandType(inv.Action)
	if err := cmdType.Validate(); err != nil {
		return nil, err
	}

	params := make(map[string]interface{}, len(inv.Params)+1)
	for k, v := range inv.Params {
		params[k] = v
	}
	if inv.Become || host.Become {
		params["become"] = true
	}

	timeout := inv.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	cmd, err := client.NewCommand(cmdType, params, timeout)
	if err != nil {
		return nil, err
	}
	cmd.Metadata = map[string]string{"task": inv.Task}
	return cmd, nil
}

// parseActionResult maps an agent DONE message to an action result.
func parseActionResult(inv engine.ActionInvocation, done *protocol.DoneMessage) (*engine.ActionResult, error) {
	switch protocol.CommandType(inv.Action) {
	case protocol.CommandTypeExec:
		var res protocol.ExecResult
		if err := json.Unmarshal(done.Result, &res); err != nil {
			return nil, engine.NewPermanentError("failed to decode exec result", err).
				WithCode(engine.ErrCodeOperationFailed).
				WithTask(inv.Task)
		}
		if res.ExitCode != 0 {
			return nil, engine.NewPermanentError(
				fmt.Sprintf("command exited %d", res.ExitCode), nil).
				WithCode(engine.ErrCodeOperationFailed).
				WithTask(inv.Task).
				WithDetail("exit_code", res.ExitCode).
				WithDetail("stderr", res.Stderr)
		}
		return &engine.ActionResult{
			Changed: true,
			Output:  strings.TrimRight(res.Stdout, "\n"),
		}, nil

	case protocol.CommandTypeFactsGather:
		var res protocol.FactsGatherResult
		if err := json.Unmarshal(done.Result, &res); err != nil {
			return nil, engine.NewPermanentError("failed to decode facts", err).
				WithCode(engine.ErrCodeOperationFailed).
				WithTask(inv.Task)
		}
		return &engine.ActionResult{Changed: false, Data: res.Facts}, nil

	default:
		var data map[string]interface{}
		if len(done.Result) > 0 {
			if err := json.Unmarshal(done.Result, &data); err != nil {
				return nil, engine.NewPermanentError("failed to decode action result", err).
					WithCode(engine.ErrCodeOperationFailed).
					WithTask(inv.Task)
			}
		}
		result := &engine.ActionResult{Data: data}
		if changed, ok := data["changed"].(bool); ok {
			result.Changed = changed
		}
		if action, ok := data["action"].(string); ok {
			result.Output = action
		}
		return result, nil
	}
}

// Check evaluates an idempotency contract. Any one satisfied clause
// satisfies the contract.
func (e *Executor) Check(ctx context.Context, host *engine.Host, contract engine.IdempotencyContract) (bool, error) {
	if contract.Empty() {
		return false, nil
	}

	if contract.Creates != "" {
		ok, err := e.runCheck(ctx, host, fmt.Sprintf("test -e %s", shellQuote(contract.Creates)))
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	if contract.Removes != "" {
		ok, err := e.runCheck(ctx, host, fmt.Sprintf("test ! -e %s", shellQuote(contract.Removes)))
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	if contract.Unless != "" {
		ok, err := e.runCheck(ctx, host, contract.Unless)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// runCheck executes a shell probe on the host. A zero exit status means
// the probe holds.
func (e *Executor) runCheck(ctx context.Context, host *engine.Host, command string) (bool, error) {
	s, err := e.session(ctx, host)
	if err != nil {
		return false, err
	}

	cmd, err := client.NewCommand(protocol.CommandTypeExec, protocol.ExecParams{
		Command:    command,
		Shell:      "/bin/sh",
		CaptureOut: false,
		CaptureErr: false,
	}, e.opts.CommandTimeout)
	if err != nil {
		return false, err
	}

	done, err := s.Execute(ctx, cmd)
	if err != nil {
		return false, e.classifyExecError(err, host, engine.ActionInvocation{Action: string(protocol.CommandTypeExec)})
	}

	var res protocol.ExecResult
	if err := json.Unmarshal(done.Result, &res); err != nil {
		return false, fmt.Errorf("failed to decode check result: %w", err)
	}
	return res.ExitCode == 0, nil
}

// Probe performs a single TCP connectivity probe to the host.
func (e *Executor) Probe(ctx context.Context, host *engine.Host) error {
	port := host.Port
	if port == 0 {
		port = DefaultPort
	}
	addr := net.JoinHostPort(host.Address, fmt.Sprintf("%d", port))
	if err := e.probe(ctx, addr); err != nil {
		return engine.NewTransientError("host unreachable", err).
			WithCode(engine.ErrCodeConnectionLost).
			WithHost(host.Name)
	}
	return nil
}

func probeTCP(ctx context.Context, addr string) error {
	d := net.Dialer{Timeout: 5 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return conn.Close()
}

// Reset drops the cached connection to the host. The next action dials
// fresh.
func (e *Executor) Reset(ctx context.Context, host *engine.Host) error {
	e.mu.Lock()
	s, ok := e.sessions[host.Name]
	delete(e.sessions, host.Name)
	e.mu.Unlock()

	if !ok {
		return nil
	}
	e.logger.Debug().Str("host", host.Name).Msg("resetting connection")
	_ = s.Close(ctx)
	return nil
}

// Close releases all connections held by the executor.
func (e *Executor) Close(ctx context.Context) error {
	e.mu.Lock()
	sessions := e.sessions
	e.sessions = make(map[string]agentSession)
	e.mu.Unlock()

	var errs []error
	for name, s := range sessions {
		if err := s.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// classifyDialError maps a connection failure to an engine error.
func classifyDialError(err error, host *engine.Host) error {
	var te *TransportError
	if errors.As(err, &te) && te.IsAuthError {
		return engine.NewPermanentError("authentication failed", err).
			WithCode(engine.ErrCodeConnectionLost).
			WithHost(host.Name)
	}
	return engine.NewTransientError("failed to connect", err).
		WithCode(engine.ErrCodeConnectionLost).
		WithHost(host.Name)
}

// classifyExecError maps a command failure to an engine error so the
// runner can decide between retry, reset, and abort.
func (e *Executor) classifyExecError(err error, host *engine.Host, inv engine.ActionInvocation) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return engine.NewTransientError("action timed out", err).
			WithCode(engine.ErrCodeTimeout).
			WithHost(host.Name).
			WithTask(inv.Task)

	case errors.Is(err, context.Canceled):
		return engine.NewPermanentError("action cancelled", err).
			WithCode(engine.ErrCodeCancelled).
			WithHost(host.Name).
			WithTask(inv.Task)

	case errors.Is(err, client.ErrAgentExited), isConnectionLost(err):
		return engine.NewTransientError("connection to host lost", err).
			WithCode(engine.ErrCodeConnectionLost).
			WithHost(host.Name).
			WithTask(inv.Task)
	}

	var ce *client.CommandError
	if errors.As(err, &ce) {
		if ce.Retryable {
			return engine.NewTransientError(ce.Message, err).
				WithCode(engine.ErrCodeOperationFailed).
				WithHost(host.Name).
				WithTask(inv.Task).
				WithDetail("agent_code", ce.Code)
		}
		return engine.NewPermanentError(ce.Message, err).
			WithCode(engine.ErrCodeOperationFailed).
			WithHost(host.Name).
			WithTask(inv.Task).
			WithDetail("agent_code", ce.Code)
	}

	var te *TransportError
	if errors.As(err, &te) {
		return engine.NewTransientError("transport failure", err).
			WithCode(engine.ErrCodeConnectionLost).
			WithHost(host.Name).
			WithTask(inv.Task)
	}

	return engine.NewPermanentError("action failed", err).
		WithCode(engine.ErrCodeOperationFailed).
		WithHost(host.Name).
		WithTask(inv.Task)
}
