// Package protocol defines the message types and codec for the
// newline-delimited JSON stream spoken between gw and a remote
// gw-agent over stdin/stdout.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies the kind of a protocol message.
type MessageType string

const (
	// MessageTypeReady is sent by the agent once after startup.
	MessageTypeReady MessageType = "READY"
	// MessageTypeCommand carries a command from the controller to the agent.
	MessageTypeCommand MessageType = "CMD"
	// MessageTypeEvent carries a progress event from the agent.
	MessageTypeEvent MessageType = "EVENT"
	// MessageTypeDone reports successful command completion.
	MessageTypeDone MessageType = "DONE"
	// MessageTypeError reports command failure.
	MessageTypeError MessageType = "ERROR"
	// MessageTypeExit is the agent's final message before terminating.
	MessageTypeExit MessageType = "EXIT"
)

// Validate checks that the message type is known.
func (t MessageType) Validate() error {
	switch t {
	case MessageTypeReady, MessageTypeCommand, MessageTypeEvent,
		MessageTypeDone, MessageTypeError, MessageTypeExit:
		return nil
	default:
		return fmt.Errorf("unknown message type: %q", t)
	}
}

// Message is the envelope for every line on the wire.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// CommandType identifies the operation a command requests.
type CommandType string

const (
	CommandTypeExec          CommandType = "exec"
	CommandTypeFileWrite     CommandType = "file.write"
	CommandTypeFileRead      CommandType = "file.read"
	CommandTypePkgEnsure     CommandType = "pkg.ensure"
	CommandTypeServiceEnsure CommandType = "service.ensure"
	CommandTypeUserEnsure    CommandType = "user.ensure"
	CommandTypeFactsGather   CommandType = "facts.gather"
)

// Validate checks that the command type is known.
func (t CommandType) Validate() error {
	switch t {
	case CommandTypeExec, CommandTypeFileWrite, CommandTypeFileRead,
		CommandTypePkgEnsure, CommandTypeServiceEnsure,
		CommandTypeUserEnsure, CommandTypeFactsGather:
		return nil
	default:
		return fmt.Errorf("unknown command type: %q", t)
	}
}

// CommandMessage is the payload of a CMD envelope.
type CommandMessage struct {
	ID             string            `json:"id"`
	Type           CommandType       `json:"type"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	Timeout        int               `json:"timeout"` // seconds
	Params         json.RawMessage   `json:"params"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Validate checks the command for required fields.
func (c *CommandMessage) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("command ID is required")
	}
	if err := c.Type.Validate(); err != nil {
		return err
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("command timeout must be positive, got %d", c.Timeout)
	}
	if len(c.Params) == 0 {
		return fmt.Errorf("command params are required")
	}
	return nil
}

// ReadyMessage is the payload of the READY envelope the agent emits on start.
type ReadyMessage struct {
	Version  string            `json:"version"`
	Platform string            `json:"platform"`
	Arch     string            `json:"arch"`
	PID      int               `json:"pid"`
	Caps     map[string]bool   `json:"capabilities"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Event levels.
const (
	EventLevelDebug = "debug"
	EventLevelInfo  = "info"
	EventLevelWarn  = "warn"
)

// ProgressInfo reports progress of a long-running command.
type ProgressInfo struct {
	Current int64  `json:"current"`
	Total   int64  `json:"total"`
	Unit    string `json:"unit,omitempty"`
}

// EventMessage is the payload of an EVENT envelope.
type EventMessage struct {
	CommandID string            `json:"command_id"`
	Level     string            `json:"level,omitempty"`
	Message   string            `json:"message"`
	Progress  *ProgressInfo     `json:"progress,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Validate checks the event for required fields. An empty level
// defaults to info.
func (e *EventMessage) Validate() error {
	if e.CommandID == "" {
		return fmt.Errorf("event command_id is required")
	}
	switch e.Level {
	case "", EventLevelDebug, EventLevelInfo, EventLevelWarn:
		return nil
	default:
		return fmt.Errorf("unknown event level: %q", e.Level)
	}
}

// DoneMessage is the payload of a DONE envelope.
type DoneMessage struct {
	CommandID string            `json:"command_id"`
	Result    json.RawMessage   `json:"result,omitempty"`
	Duration  float64           `json:"duration"` // seconds
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// ErrorMessage is the payload of an ERROR envelope.
type ErrorMessage struct {
	CommandID  string            `json:"command_id,omitempty"`
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Details    map[string]string `json:"details,omitempty"`
	Retryable  bool              `json:"retryable"`
	RetryAfter int               `json:"retry_after,omitempty"` // seconds
}

// ExitMessage is the payload of the final EXIT envelope.
type ExitMessage struct {
	Reason        string `json:"reason"`
	ExitCode      int    `json:"exit_code"`
	SelfDeleted   bool   `json:"self_deleted"`
	CommandsTotal int    `json:"commands_total"`
}

// ExecParams are the parameters for an exec command. With Args set the
// command is run directly; without, it is passed to the shell with -c.
type ExecParams struct {
	Command    string            `json:"command"`
	Args       []string          `json:"args,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
	WorkDir    string            `json:"workdir,omitempty"`
	Shell      string            `json:"shell,omitempty"` // default /bin/sh
	Become     bool              `json:"become,omitempty"`
	CaptureOut bool              `json:"capture_out,omitempty"`
	CaptureErr bool              `json:"capture_err,omitempty"`
}

// ExecResult is the result of an exec command. A non-zero exit code is
// reported here rather than as a protocol error.
type ExecResult struct {
	ExitCode   int    `json:"exit_code"`
	Stdout     string `json:"stdout,omitempty"`
	Stderr     string `json:"stderr,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// FileWriteParams are the parameters for a file.write command.
type FileWriteParams struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Mode    string `json:"mode,omitempty"` // octal, e.g. "0644"
	Owner   string `json:"owner,omitempty"`
	Group   string `json:"group,omitempty"`
	Create  bool   `json:"create,omitempty"` // create parent directories
	Backup  bool   `json:"backup,omitempty"`
}

// FileWriteResult is the result of a file.write command.
type FileWriteResult struct {
	Changed    bool   `json:"changed"`
	Action     string `json:"action"` // created, updated, already-present
	BackupPath string `json:"backup_path,omitempty"`
	Checksum   string `json:"checksum"`
	Size       int64  `json:"size"`
}

// FileReadParams are the parameters for a file.read command.
type FileReadParams struct {
	Path     string `json:"path"`
	MaxBytes int64  `json:"max_bytes,omitempty"` // default 10 MB
}

// FileReadResult is the result of a file.read command.
type FileReadResult struct {
	Content   string `json:"content"`
	Size      int64  `json:"size"`
	Mode      string `json:"mode"`
	UID       int    `json:"uid"`
	GID       int    `json:"gid"`
	Checksum  string `json:"checksum"`
	Truncated bool   `json:"truncated"`
}

// PkgEnsureParams are the parameters for a pkg.ensure command.
type PkgEnsureParams struct {
	Name    string `json:"name"`
	State   string `json:"state"` // present, absent, latest
	Version string `json:"version,omitempty"`
	Manager string `json:"manager,omitempty"` // apt, dnf, yum, zypper; detected when empty
	Become  bool   `json:"become,omitempty"`
}

// PkgEnsureResult is the result of a pkg.ensure command.
type PkgEnsureResult struct {
	Changed         bool   `json:"changed"`
	Action          string `json:"action"` // installed, removed, upgraded, already-present, already-absent
	Version         string `json:"version,omitempty"`
	PreviousVersion string `json:"previous_version,omitempty"`
	Manager         string `json:"manager"`
}

// ServiceEnsureParams are the parameters for a service.ensure command.
// State controls the run state; Enabled, when set, controls boot
// enablement independently.
type ServiceEnsureParams struct {
	Name    string `json:"name"`
	State   string `json:"state,omitempty"` // started, stopped, restarted, reloaded
	Enabled *bool  `json:"enabled,omitempty"`
	Become  bool   `json:"become,omitempty"`
}

// ServiceEnsureResult is the result of a service.ensure command.
type ServiceEnsureResult struct {
	Changed     bool     `json:"changed"`
	Actions     []string `json:"actions,omitempty"`
	ActiveState string   `json:"active_state"`
	Enabled     bool     `json:"enabled"`
}

// UserEnsureParams are the parameters for a user.ensure command.
// Group membership changes only take effect on new login sessions, so
// task lists pair this action with reset_connection.
type UserEnsureParams struct {
	Name       string   `json:"name"`
	State      string   `json:"state"` // present, absent
	UID        int      `json:"uid,omitempty"`
	Groups     []string `json:"groups,omitempty"` // supplementary groups
	Append     bool     `json:"append,omitempty"` // add to Groups instead of replacing
	Shell      string   `json:"shell,omitempty"`
	Home       string   `json:"home,omitempty"`
	CreateHome bool     `json:"create_home,omitempty"`
	System     bool     `json:"system,omitempty"`
	Become     bool     `json:"become,omitempty"`
}

// UserEnsureResult is the result of a user.ensure command.
type UserEnsureResult struct {
	Changed bool   `json:"changed"`
	Action  string `json:"action"` // created, modified, removed, already-present, already-absent
	UID     int    `json:"uid,omitempty"`
	GID     int    `json:"gid,omitempty"`
}

// FactsGatherParams are the parameters for a facts.gather command.
type FactsGatherParams struct {
	// Subsets limits collection to the named fact groups (os, memory,
	// cpu, network). Empty collects everything.
	Subsets []string `json:"subsets,omitempty"`
}

// FactsGatherResult is the result of a facts.gather command. Facts are
// grouped into nested maps keyed by subset name.
type FactsGatherResult struct {
	Facts map[string]interface{} `json:"facts"`
}
