package bridge

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/seantiz/impactsweep/internal/backend"
)

// MaxMessageSize is the maximum allowed frame payload (16 MiB). Field output
// subsets for a node set are small; anything larger is a protocol error.
const MaxMessageSize = 16 << 20

// Kernel→host message types.
const (
	MsgTypeLog    = "log"
	MsgTypeResult = "result"
)

// Error codes the kernel reports for missing entities.
const (
	CodeNotFound        = "not_found"
	CodeNodeSetNotFound = "node_set_not_found"
	CodeFieldNotFound   = "field_not_found"
)

// Request is the envelope for every host→kernel frame. ID correlates the
// request with its result; it is never reused within a session.
type Request struct {
	ID   string          `json:"id"`
	Op   string          `json:"op"`
	Args json.RawMessage `json:"args,omitempty"`
}

// Message is the envelope for every kernel→host frame. While a request runs the
// kernel may send any number of Type="log" frames. Each request is answered by
// exactly one Type="result" frame carrying its ID.
type Message struct {
	Type   string          `json:"type"`
	Line   string          `json:"line,omitempty"`
	ID     string          `json:"id,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RemoteError    `json:"error,omitempty"`
}

// RemoteError is an operation failure reported by the kernel.
type RemoteError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *RemoteError) Error() string {
	if e.Code == "" {
		return "engine: " + e.Message
	}
	return fmt.Sprintf("engine: %s: %s", e.Code, e.Message)
}

// Unwrap maps well-known codes onto the backend sentinels so callers can use
// errors.Is without knowing about the bridge.
func (e *RemoteError) Unwrap() error {
	switch e.Code {
	case CodeNotFound:
		return backend.ErrNotFound
	case CodeNodeSetNotFound:
		return backend.ErrNodeSetNotFound
	case CodeFieldNotFound:
		return backend.ErrFieldNotFound
	default:
		return nil
	}
}

// errFrameTooLarge is returned by ReadMessage before allocating an oversized
// payload.
var errFrameTooLarge = errors.New("frame exceeds maximum size")

// WriteMessage writes a length-prefixed JSON message to w.
// The frame format is: 4-byte big-endian length prefix followed by the JSON payload.
// The prefix and payload go out in one Write so a frame is never interleaved.
func WriteMessage(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if len(data) > MaxMessageSize {
		return fmt.Errorf("write message: %w (%d bytes)", errFrameTooLarge, len(data))
	}

	frame := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(frame, uint32(len(data)))
	copy(frame[4:], data)

	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadMessage reads a length-prefixed JSON message from r and decodes it into v.
func ReadMessage(r io.Reader, v any) error {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return fmt.Errorf("read length prefix: %w", err)
	}

	if length > MaxMessageSize {
		return fmt.Errorf("read message: %w (%d bytes)", errFrameTooLarge, length)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return fmt.Errorf("read payload: %w", err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal message: %w", err)
	}
	return nil
}
