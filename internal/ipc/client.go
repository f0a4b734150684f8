package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"imesync/internal/engine"
)

// Common errors
var (
	ErrConnectionLost    = errors.New("connection to engine lost")
	ErrTimeout           = errors.New("request timeout")
	ErrEngineNotRunning  = errors.New("engine is not running")
	ErrClientClosed      = errors.New("client closed")
	ErrUnexpectedMessage = errors.New("unexpected response type")
)

// Client is an engine.Client that forwards requests to an engine server.
// A lost connection is redialed by the next request.
type Client struct {
	mu        sync.Mutex
	conn      net.Conn
	sessionID string
	version   string

	codec  Codec
	config ClientConfig

	pendingMu sync.Mutex
	pending   map[uint32]pendingRequest
	nextReqID atomic.Uint32

	writeMu sync.Mutex
	closed  atomic.Bool
	wg      sync.WaitGroup
}

var _ engine.Client = (*Client)(nil)

type pendingRequest struct {
	conn net.Conn
	ch   chan *Message
}

// ClientConfig configures the engine client
type ClientConfig struct {
	SocketPath     string
	ClientName     string
	ClientVersion  string
	Codec          string
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
}

// DefaultClientConfig returns the defaults for a socket under dir.
func DefaultClientConfig(dir string) ClientConfig {
	return ClientConfig{
		SocketPath:     filepath.Join(dir, "engine.sock"),
		ClientName:     "imesync",
		ClientVersion:  "0.1.0",
		Codec:          "cbor",
		ConnectTimeout: 2 * time.Second,
		RequestTimeout: time.Second,
	}
}

// Dial connects to the engine server and performs the handshake.
func Dial(ctx context.Context, cfg ClientConfig) (*Client, error) {
	codec, err := CodecByName(cfg.Codec)
	if err != nil {
		return nil, err
	}
	c := &Client{
		codec:   codec,
		config:  cfg,
		pending: make(map[uint32]pendingRequest),
	}
	if _, err := c.connection(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// SessionID returns the session ID assigned by the server
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// ServerVersion returns the version the server reported at handshake.
func (c *Client) ServerVersion() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

// IsConnected returns whether the client holds a live connection
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// SendKey implements engine.Client.
func (c *Client) SendKey(ctx context.Context, key engine.KeyEvent) (*engine.Output, error) {
	return c.engineRequest(ctx, MsgSendKey, &key)
}

// SendCommand implements engine.Client.
func (c *Client) SendCommand(ctx context.Context, cmd engine.Command) (*engine.Output, error) {
	return c.engineRequest(ctx, MsgSendCommand, &cmd)
}

func (c *Client) engineRequest(ctx context.Context, t MessageType, v any) (*engine.Output, error) {
	if c.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.RequestTimeout)
		defer cancel()
	}
	nc, err := c.connection(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := c.roundTrip(ctx, nc, t, v)
	if err != nil {
		return nil, err
	}
	if resp.Header.Type != MsgOutput {
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedMessage, resp.Header.Type)
	}
	var out engine.Output
	if err := codecFor(resp.Header.Flags).Unmarshal(resp.Payload, &out); err != nil {
		return nil, fmt.Errorf("decode output: %w", err)
	}
	return &out, nil
}

// Close closes the connection to the engine
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
	}
	return nil
}

// connection returns the live connection, dialing if there is none.
func (c *Client) connection(ctx context.Context) (net.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return nil, ErrClientClosed
	}
	if c.conn != nil {
		return c.conn, nil
	}

	dialer := net.Dialer{Timeout: c.config.ConnectTimeout}
	nc, err := dialer.DialContext(ctx, "unix", c.config.SocketPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrEngineNotRunning
		}
		return nil, fmt.Errorf("connect: %w", err)
	}

	c.wg.Add(1)
	go c.readLoop(nc)

	resp, err := c.roundTrip(ctx, nc, MsgHandshake, &HandshakeRequest{
		ClientName:      c.config.ClientName,
		ClientVersion:   c.config.ClientVersion,
		ProtocolVersion: ProtocolVersion,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("handshake: %w", err)
	}
	if resp.Header.Type != MsgHandshakeAck {
		nc.Close()
		return nil, fmt.Errorf("handshake: %w: %s", ErrUnexpectedMessage, resp.Header.Type)
	}
	var ack HandshakeResponse
	if err := codecFor(resp.Header.Flags).Unmarshal(resp.Payload, &ack); err != nil {
		nc.Close()
		return nil, fmt.Errorf("handshake: %w", err)
	}

	c.conn = nc
	c.sessionID = ack.SessionID
	c.version = ack.ServerVersion
	return nc, nil
}

// roundTrip sends a request on nc and waits for the response with the same
// request ID. An error response is returned as *RemoteError.
func (c *Client) roundTrip(ctx context.Context, nc net.Conn, t MessageType, v any) (*Message, error) {
	payload, err := c.codec.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	reqID := c.nextReqID.Add(1)
	ch := make(chan *Message, 1)
	c.pendingMu.Lock()
	c.pending[reqID] = pendingRequest{conn: nc, ch: ch}
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, reqID)
		c.pendingMu.Unlock()
	}()

	if err := c.write(nc, NewMessage(t, reqID, c.codec.Flags(), payload)); err != nil {
		// readLoop sees the closed conn and drops it.
		nc.Close()
		return nil, fmt.Errorf("write message: %w", err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrConnectionLost
		}
		if resp.Header.Type == MsgError {
			var er ErrorResponse
			if err := codecFor(resp.Header.Flags).Unmarshal(resp.Payload, &er); err != nil {
				return nil, &RemoteError{Code: ErrUnknown, Message: err.Error()}
			}
			return nil, &RemoteError{Code: er.Code, Message: er.Message}
		}
		return resp, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", ErrTimeout, t)
		}
		return nil, ctx.Err()
	}
}

func (c *Client) write(nc net.Conn, msg *Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	nc.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return msg.Write(nc)
}

// readLoop delivers responses read from nc until it fails.
func (c *Client) readLoop(nc net.Conn) {
	defer c.wg.Done()
	defer c.drop(nc)

	for {
		msg, err := ReadMessage(nc)
		if err != nil {
			return
		}

		switch msg.Header.Type {
		case MsgPing:
			c.write(nc, NewMessage(MsgPong, msg.Header.RequestID, msg.Header.Flags, nil))
		case MsgPong:
		default:
			c.pendingMu.Lock()
			if p, ok := c.pending[msg.Header.RequestID]; ok && p.conn == nc {
				select {
				case p.ch <- msg:
				default:
				}
			}
			c.pendingMu.Unlock()
		}
	}
}

// drop forgets nc and fails the requests waiting on it.
func (c *Client) drop(nc net.Conn) {
	nc.Close()

	// Waiters first: a handshake in progress holds mu.
	c.pendingMu.Lock()
	for id, p := range c.pending {
		if p.conn == nc {
			close(p.ch)
			delete(c.pending, id)
		}
	}
	c.pendingMu.Unlock()

	c.mu.Lock()
	if c.conn == nc {
		c.conn = nil
	}
	c.mu.Unlock()
}
