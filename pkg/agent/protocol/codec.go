package protocol

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// maxFrameSize bounds a single protocol line. Large file.write payloads
// must fit in one frame.
const maxFrameSize = 10 * 1024 * 1024

// Encoder writes protocol messages to a stream, one JSON envelope per
// line, flushing after every message.
type Encoder struct {
	w *bufio.Writer
}

// NewEncoder creates an encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: bufio.NewWriter(w)}
}

// Encode marshals data into an envelope of the given type and writes it.
func (e *Encoder) Encode(msgType MessageType, data interface{}) error {
	if err := msgType.Validate(); err != nil {
		return fmt.Errorf("invalid message type: %w", err)
	}

	var payload []byte
	if data != nil {
		var err error
		payload, err = json.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to marshal %s payload: %w", msgType, err)
		}
	}

	frame, err := json.Marshal(Message{
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Data:      payload,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if _, err := e.w.Write(frame); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := e.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write frame delimiter: %w", err)
	}
	return e.w.Flush()
}

// EncodeReady sends a READY message.
func (e *Encoder) EncodeReady(ready *ReadyMessage) error {
	return e.Encode(MessageTypeReady, ready)
}

// EncodeCommand validates and sends a CMD message.
func (e *Encoder) EncodeCommand(cmd *CommandMessage) error {
	if err := cmd.Validate(); err != nil {
		return fmt.Errorf("invalid command: %w", err)
	}
	return e.Encode(MessageTypeCommand, cmd)
}

// EncodeEvent validates and sends an EVENT message.
func (e *Encoder) EncodeEvent(event *EventMessage) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}
	return e.Encode(MessageTypeEvent, event)
}

// EncodeDone sends a DONE message.
func (e *Encoder) EncodeDone(done *DoneMessage) error {
	return e.Encode(MessageTypeDone, done)
}

// EncodeError sends an ERROR message.
func (e *Encoder) EncodeError(errMsg *ErrorMessage) error {
	return e.Encode(MessageTypeError, errMsg)
}

// EncodeExit sends an EXIT message.
func (e *Encoder) EncodeExit(exit *ExitMessage) error {
	return e.Encode(MessageTypeExit, exit)
}

// Decoder reads protocol messages from a stream, one envelope per line.
type Decoder struct {
	sc *bufio.Scanner
}

// NewDecoder creates a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxFrameSize)
	return &Decoder{sc: sc}
}

// Decode reads the next message. It returns io.EOF when the stream ends
// cleanly.
func (d *Decoder) Decode() (*Message, error) {
	if !d.sc.Scan() {
		if err := d.sc.Err(); err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		return nil, io.EOF
	}

	line := d.sc.Bytes()
	if len(line) == 0 {
		return nil, fmt.Errorf("empty frame")
	}

	var msg Message
	if err := json.Unmarshal(line, &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	if err := msg.Type.Validate(); err != nil {
		return nil, fmt.Errorf("invalid message: %w", err)
	}
	return &msg, nil
}

// DecodeCommand reads the next message and requires it to be a valid CMD.
func (d *Decoder) DecodeCommand() (*CommandMessage, error) {
	msg, err := d.Decode()
	if err != nil {
		return nil, err
	}
	if msg.Type != MessageTypeCommand {
		return nil, fmt.Errorf("expected CMD message, got %s", msg.Type)
	}

	var cmd CommandMessage
	if err := json.Unmarshal(msg.Data, &cmd); err != nil {
		return nil, fmt.Errorf("failed to unmarshal command: %w", err)
	}
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("invalid command: %w", err)
	}
	return &cmd, nil
}

// ParseParams unmarshals command parameters into a typed params struct.
func ParseParams(params json.RawMessage, target interface{}) error {
	if err := json.Unmarshal(params, target); err != nil {
		return fmt.Errorf("failed to parse params: %w", err)
	}
	return nil
}
