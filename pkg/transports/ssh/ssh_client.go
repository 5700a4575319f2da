package ssh

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	gossh "golang.org/x/crypto/ssh"
)

// Client is one SSH connection to one host. It carries remote command
// execution, SFTP transfers, and the stdio transport the agent client
// runs over.
type Client struct {
	config *Config
	logger zerolog.Logger

	mu        sync.Mutex
	sshClient *gossh.Client
	connected bool
	stopKeep  chan struct{}
}

// NewClient creates a client for the given host configuration. The
// connection is established by Connect.
func NewClient(config *Config, logger zerolog.Logger) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ssh config: %w", err)
	}
	return &Client{
		config: config,
		logger: logger.With().Str("component", "ssh").Str("host", config.Host).Logger(),
	}, nil
}

// Connect establishes the SSH connection. It is a no-op when already
// connected.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	clientConfig, err := c.config.BuildClientConfig()
	if err != nil {
		return newTransportError("connect", err)
	}

	addr := c.config.Address()
	c.logger.Debug().Str("addr", addr).Str("user", c.config.User).Msg("connecting")

	type dialResult struct {
		client *gossh.Client
		err    error
	}
	resultCh := make(chan dialResult, 1)
	go func() {
		client, err := gossh.Dial("tcp", addr, clientConfig)
		resultCh <- dialResult{client: client, err: err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if r := <-resultCh; r.client != nil {
				r.client.Close()
			}
		}()
		return newTransportError("connect", ctx.Err())
	case r := <-resultCh:
		if r.err != nil {
			return newTransportError("connect", r.err)
		}
		c.sshClient = r.client
		c.connected = true
	}

	if c.config.KeepAliveInterval > 0 {
		c.stopKeep = make(chan struct{})
		go c.keepAlive(c.stopKeep)
	}

	c.logger.Debug().Str("addr", addr).Msg("connected")
	return nil
}

// keepAlive sends periodic keep-alive requests and tears the connection
// down after repeated failures.
func (c *Client) keepAlive(stop chan struct{}) {
	ticker := time.NewTicker(c.config.KeepAliveInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			client := c.getClient()
			if client == nil {
				return
			}
			_, _, err := client.SendRequest("keepalive@openssh.com", true, nil)
			if err != nil {
				failures++
				c.logger.Warn().Err(err).Int("failures", failures).Msg("keep-alive failed")
				if failures >= c.config.MaxKeepAliveRetries {
					c.logger.Error().Msg("keep-alive limit reached, closing connection")
					_ = c.Close()
					return
				}
			} else {
				failures = 0
			}
		}
	}
}

// getClient returns the underlying SSH client, or nil when disconnected.
func (c *Client) getClient() *gossh.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return nil
	}
	return c.sshClient
}

// Connected reports whether the client holds a live connection.
func (c *Client) Connected() bool {
	return c.getClient() != nil
}

// HealthCheck verifies the connection by running a trivial command.
func (c *Client) HealthCheck(ctx context.Context) error {
	client := c.getClient()
	if client == nil {
		return newTransportError("health", fmt.Errorf("not connected"))
	}

	session, err := client.NewSession()
	if err != nil {
		return newTransportError("health", err)
	}
	defer session.Close()

	done := make(chan error, 1)
	go func() { done <- session.Run("true") }()

	select {
	case <-ctx.Done():
		return newTransportError("health", ctx.Err())
	case err := <-done:
		if err != nil {
			return newTransportError("health", err)
		}
		return nil
	}
}

// Execute starts the uploaded agent binary and returns its stdio pipes.
// Part of the agent transport contract.
func (c *Client) Execute(ctx context.Context, remotePath string) (io.WriteCloser, io.ReadCloser, error) {
	client := c.getClient()
	if client == nil {
		return nil, nil, newTransportError("execute", fmt.Errorf("not connected"))
	}

	session, err := client.NewSession()
	if err != nil {
		return nil, nil, newTransportError("execute", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, nil, newTransportError("execute", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, nil, newTransportError("execute", err)
	}

	if err := session.Start(remotePath); err != nil {
		session.Close()
		return nil, nil, newTransportError("execute", err)
	}

	go func() {
		// Reap the session once the agent exits or the run is cancelled.
		waitDone := make(chan struct{})
		go func() {
			_ = session.Wait()
			close(waitDone)
		}()
		select {
		case <-ctx.Done():
			session.Close()
			<-waitDone
		case <-waitDone:
		}
	}()

	return stdin, &sessionReader{ReadCloser: io.NopCloser(stdout), session: session}, nil
}

// Cleanup removes the remote agent binary. A missing file is fine, the
// agent self-deletes on clean shutdown.
func (c *Client) Cleanup(ctx context.Context, remotePath string) error {
	client := c.getClient()
	if client == nil {
		return nil
	}

	session, err := client.NewSession()
	if err != nil {
		return newTransportError("cleanup", err)
	}
	defer session.Close()

	done := make(chan error, 1)
	go func() { done <- session.Run(fmt.Sprintf("rm -f %s", shellQuote(remotePath))) }()

	select {
	case <-ctx.Done():
		return newTransportError("cleanup", ctx.Err())
	case err := <-done:
		if err != nil {
			return newTransportError("cleanup", err)
		}
		return nil
	}
}

// Close terminates the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil
	}
	if c.stopKeep != nil {
		close(c.stopKeep)
		c.stopKeep = nil
	}
	err := c.sshClient.Close()
	c.sshClient = nil
	c.connected = false
	if err != nil {
		return newTransportError("close", err)
	}
	return nil
}

// sessionReader closes the SSH session together with the stdout pipe so
// the remote process is reaped when the agent client shuts down.
type sessionReader struct {
	io.ReadCloser
	session *gossh.Session
}

func (r *sessionReader) Close() error {
	err := r.ReadCloser.Close()
	_ = r.session.Close()
	return err
}

// shellQuote single-quotes an argument for a remote shell.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
