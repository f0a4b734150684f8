// Package ipc carries engine requests between a text service and a
// conversion engine running in another process.
//
// The protocol is designed for:
//   - Request/response pairs correlated by request ID
//   - Compact CBOR payloads by default, JSON when the header says so
//   - JSON payloads validated against a schema before they are decoded
//   - Protocol versioning for compatibility
package ipc

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Protocol version for compatibility checking
const (
	ProtocolVersion = 1
	ProtocolMagic   = 0x49535943 // "ISYC"
)

// MaxPayloadSize bounds a single message payload.
const MaxPayloadSize = 4 * 1024 * 1024

// MessageType identifies the type of IPC message
type MessageType uint16

const (
	// Control messages (0x00xx)
	MsgPing         MessageType = 0x0001
	MsgPong         MessageType = 0x0002
	MsgHandshake    MessageType = 0x0003
	MsgHandshakeAck MessageType = 0x0004
	MsgError        MessageType = 0x0005

	// Engine requests (0x01xx)
	MsgSendKey     MessageType = 0x0100
	MsgSendCommand MessageType = 0x0101
	MsgOutput      MessageType = 0x0102
)

func (t MessageType) String() string {
	switch t {
	case MsgPing:
		return "ping"
	case MsgPong:
		return "pong"
	case MsgHandshake:
		return "handshake"
	case MsgHandshakeAck:
		return "handshake_ack"
	case MsgError:
		return "error"
	case MsgSendKey:
		return "send_key"
	case MsgSendCommand:
		return "send_command"
	case MsgOutput:
		return "output"
	default:
		return fmt.Sprintf("msg(0x%04x)", uint16(t))
	}
}

// Header is the fixed-size message header (16 bytes)
type Header struct {
	Magic     uint32      // Protocol magic number
	Version   uint8       // Protocol version
	Flags     uint8       // Message flags
	Type      MessageType // Message type
	RequestID uint32      // Request ID for correlation
	Length    uint32      // Payload length (not including header)
}

// HeaderSize is the size of the header in bytes
const HeaderSize = 16

// Header flags
const (
	// FlagJSON marks a JSON payload; without it the payload is CBOR.
	FlagJSON uint8 = 0x04
)

// Message wraps a header and payload
type Message struct {
	Header  Header
	Payload []byte
}

// NewMessage creates a new message with the given type and payload
func NewMessage(msgType MessageType, requestID uint32, flags uint8, payload []byte) *Message {
	return &Message{
		Header: Header{
			Magic:     ProtocolMagic,
			Version:   ProtocolVersion,
			Flags:     flags,
			Type:      msgType,
			RequestID: requestID,
			Length:    uint32(len(payload)),
		},
		Payload: payload,
	}
}

// Write writes the header to a writer
func (h *Header) Write(w io.Writer) error {
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	buf[4] = h.Version
	buf[5] = h.Flags
	binary.BigEndian.PutUint16(buf[6:8], uint16(h.Type))
	binary.BigEndian.PutUint32(buf[8:12], h.RequestID)
	binary.BigEndian.PutUint32(buf[12:16], h.Length)
	_, err := w.Write(buf)
	return err
}

// ReadHeader reads a header from a reader
func ReadHeader(r io.Reader) (*Header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}

	h := &Header{
		Magic:     binary.BigEndian.Uint32(buf[0:4]),
		Version:   buf[4],
		Flags:     buf[5],
		Type:      MessageType(binary.BigEndian.Uint16(buf[6:8])),
		RequestID: binary.BigEndian.Uint32(buf[8:12]),
		Length:    binary.BigEndian.Uint32(buf[12:16]),
	}

	if h.Magic != ProtocolMagic {
		return nil, fmt.Errorf("invalid magic number: %x", h.Magic)
	}

	if h.Version > ProtocolVersion {
		return nil, fmt.Errorf("unsupported protocol version: %d", h.Version)
	}

	return h, nil
}

// Write writes the message to a writer
func (m *Message) Write(w io.Writer) error {
	m.Header.Length = uint32(len(m.Payload))
	if err := m.Header.Write(w); err != nil {
		return err
	}
	if len(m.Payload) > 0 {
		_, err := w.Write(m.Payload)
		return err
	}
	return nil
}

// ReadMessage reads a complete message from a reader
func ReadMessage(r io.Reader) (*Message, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}

	m := &Message{Header: *h}
	if h.Length > 0 {
		if h.Length > MaxPayloadSize {
			return nil, fmt.Errorf("payload too large: %d bytes", h.Length)
		}
		m.Payload = make([]byte, h.Length)
		if _, err := io.ReadFull(r, m.Payload); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// HandshakeRequest is sent by the client to initiate connection
type HandshakeRequest struct {
	ClientName      string `json:"client_name" cbor:"1,keyasint"`
	ClientVersion   string `json:"client_version" cbor:"2,keyasint"`
	ProtocolVersion uint8  `json:"protocol_version" cbor:"3,keyasint"`
}

// HandshakeResponse is sent by the server to acknowledge connection
type HandshakeResponse struct {
	ServerVersion   string `json:"server_version" cbor:"1,keyasint"`
	ProtocolVersion uint8  `json:"protocol_version" cbor:"2,keyasint"`
	SessionID       string `json:"session_id" cbor:"3,keyasint"`
}

// ErrorResponse is sent when an operation fails
type ErrorResponse struct {
	Code    int    `json:"code" cbor:"1,keyasint"`
	Message string `json:"message" cbor:"2,keyasint"`
}

// Error codes
const (
	ErrUnknown          = 1
	ErrInvalidRequest   = 2
	ErrPermissionDenied = 4
	ErrInternalError    = 5
	ErrNotInitialized   = 7
)

// RemoteError is an ErrorResponse returned to a client.
type RemoteError struct {
	Code    int
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("engine server error %d: %s", e.Code, e.Message)
}
