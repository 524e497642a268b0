// Package protocol defines the messages exchanged between the pngtools host
// process and an interpreter driver over the bridge Unix Domain Socket.
package protocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/valyala/bytebufferpool"
)

// SocketEnv names the environment variable carrying the bridge socket path
// to the driver.
const SocketEnv = "PNGTOOLS_BRIDGE_SOCKET"

// SocketName is the file name of the bridge socket inside its directory.
const SocketName = "bridge.sock"

// MaxMessageSize bounds a single message payload.
const MaxMessageSize = 10 * 1024 * 1024

// Operations understood by the driver.
const (
	OpImport     = "import"
	OpGetAttr    = "getattr"
	OpCall       = "call"
	OpCallMethod = "call_method"
	OpClose      = "close"
)

// Request is sent from the host to the driver.
type Request struct {
	ID     uint64 `json:"id"`
	Op     string `json:"op"`
	Handle uint64 `json:"handle,omitempty"`
	Name   string `json:"name,omitempty"`
}

// Exception describes an error raised inside the interpreter.
type Exception struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Value is an interpreter value returned by a method call.
// Data holds the JSON encoding of the value when it has one.
type Value struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"value,omitempty"`
	Repr string          `json:"repr"`
}

// Response answers a Request with the same ID.
type Response struct {
	ID     uint64     `json:"id"`
	OK     bool       `json:"ok"`
	Handle uint64     `json:"handle,omitempty"`
	Value  *Value     `json:"value,omitempty"`
	Error  *Exception `json:"error,omitempty"`
}

// WriteRequest serializes a Request as a length-prefixed JSON message.
func WriteRequest(w io.Writer, req *Request) error {
	return writeMessage(w, req)
}

// ReadRequest reads a length-prefixed JSON Request from the reader.
func ReadRequest(r io.Reader) (*Request, error) {
	var req Request
	if err := readMessage(r, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// WriteResponse serializes a Response as a length-prefixed JSON message.
func WriteResponse(w io.Writer, resp *Response) error {
	return writeMessage(w, resp)
}

// ReadResponse reads a length-prefixed JSON Response from the reader.
func ReadResponse(r io.Reader) (*Response, error) {
	var resp Response
	if err := readMessage(r, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// writeMessage emits [4-byte big-endian length][JSON payload] in a single write.
func writeMessage(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if len(data) > MaxMessageSize {
		return fmt.Errorf("message too large: %d bytes", len(data))
	}

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(data)))
	buf.Write(header[:])
	buf.Write(data)

	if _, err := w.Write(buf.B); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

func readMessage(r io.Reader, v any) error {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return fmt.Errorf("read length: %w", err)
	}

	if length > MaxMessageSize {
		return fmt.Errorf("message too large: %d bytes", length)
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
