package ipc

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageFraming(t *testing.T) {
	var buf bytes.Buffer
	msg := NewMessage(MsgSendKey, 42, FlagJSON, []byte(`{"rune":97}`))
	require.NoError(t, msg.Write(&buf))
	assert.Equal(t, HeaderSize+len(msg.Payload), buf.Len())

	got, err := ReadMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, MsgSendKey, got.Header.Type)
	assert.Equal(t, uint32(42), got.Header.RequestID)
	assert.Equal(t, FlagJSON, got.Header.Flags)
	assert.Equal(t, msg.Payload, got.Payload)
}

func TestEmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewMessage(MsgPing, 1, 0, nil).Write(&buf))
	assert.Equal(t, HeaderSize, buf.Len())

	got, err := ReadMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, MsgPing, got.Header.Type)
	assert.Empty(t, got.Payload)
}

func TestReadHeaderRejects(t *testing.T) {
	t.Run("magic", func(t *testing.T) {
		var buf bytes.Buffer
		msg := NewMessage(MsgPing, 1, 0, nil)
		msg.Header.Magic = 0xdeadbeef
		require.NoError(t, msg.Write(&buf))
		_, err := ReadMessage(&buf)
		assert.ErrorContains(t, err, "invalid magic")
	})

	t.Run("version", func(t *testing.T) {
		var buf bytes.Buffer
		msg := NewMessage(MsgPing, 1, 0, nil)
		msg.Header.Version = ProtocolVersion + 1
		require.NoError(t, msg.Write(&buf))
		_, err := ReadMessage(&buf)
		assert.ErrorContains(t, err, "unsupported protocol version")
	})

	t.Run("oversized", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, NewMessage(MsgOutput, 1, 0, nil).Write(&buf))
		raw := buf.Bytes()
		binary.BigEndian.PutUint32(raw[12:16], MaxPayloadSize+1)
		_, err := ReadMessage(bytes.NewReader(raw))
		assert.ErrorContains(t, err, "payload too large")
	})

	t.Run("truncated", func(t *testing.T) {
		_, err := ReadMessage(bytes.NewReader([]byte{0x49, 0x53}))
		assert.Error(t, err)
	})
}

func TestMessageTypeString(t *testing.T) {
	assert.Equal(t, "send_key", MsgSendKey.String())
	assert.Equal(t, "msg(0x0fff)", MessageType(0x0fff).String())
}
