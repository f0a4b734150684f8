package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"imesync/internal/engine"
)

// Server exposes an engine to text services over a Unix socket.
type Server struct {
	mu        sync.RWMutex
	listener  net.Listener
	cfg       ServerConfig
	backend   engine.Client
	clients   map[string]*conn
	logger    *slog.Logger
	startedAt time.Time

	// The backend sees one request at a time.
	backendMu sync.Mutex

	// Shutdown coordination
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool

	nextSession atomic.Uint64
}

// conn is one connected text service.
type conn struct {
	mu           sync.Mutex
	ID           string
	nc           net.Conn
	Name         string
	Version      string
	ConnectedAt  time.Time
	LastActivity time.Time

	writeMu sync.Mutex
}

// ServerConfig configures the engine server
type ServerConfig struct {
	SocketPath     string
	Version        string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxConnections int
	// RequireSameUser rejects peers running as another user.
	RequireSameUser bool
}

// DefaultServerConfig returns the defaults for a socket under dir.
func DefaultServerConfig(dir string) ServerConfig {
	return ServerConfig{
		SocketPath:      filepath.Join(dir, "engine.sock"),
		Version:         "0.1.0",
		ReadTimeout:     60 * time.Second,
		WriteTimeout:    10 * time.Second,
		MaxConnections:  16,
		RequireSameUser: true,
	}
}

// NewServer creates a server that answers requests with backend.
func NewServer(cfg ServerConfig, backend engine.Client, logger *slog.Logger) (*Server, error) {
	if cfg.SocketPath == "" {
		return nil, errors.New("ipc: socket path is required")
	}
	if backend == nil {
		return nil, errors.New("ipc: backend is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultServerConfig("")
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = def.MaxConnections
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		cfg:     cfg,
		backend: backend,
		clients: make(map[string]*conn),
		logger:  logger.With("component", "ipc", "socket", cfg.SocketPath),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start begins listening for connections
func (s *Server) Start() error {
	socketDir := filepath.Dir(s.cfg.SocketPath)
	if err := os.MkdirAll(socketDir, 0700); err != nil {
		return fmt.Errorf("create socket directory: %w", err)
	}

	if IsSocketListening(s.cfg.SocketPath) {
		return fmt.Errorf("socket already in use: %s", s.cfg.SocketPath)
	}
	if err := CleanupSocket(s.cfg.SocketPath); err != nil {
		return fmt.Errorf("remove stale socket: %w", err)
	}

	listener, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("listen on socket: %w", err)
	}

	// Owner only
	if err := os.Chmod(s.cfg.SocketPath, 0600); err != nil {
		listener.Close()
		return fmt.Errorf("set socket permissions: %w", err)
	}

	s.listener = listener
	s.startedAt = time.Now()
	s.running.Store(true)

	s.wg.Add(1)
	go s.acceptLoop()

	s.logger.Info("engine server listening")
	return nil
}

// Serve starts the server and blocks until ctx is done, then stops it.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
	case <-s.ctx.Done():
	}
	return s.Stop()
}

// Stop gracefully shuts down the server
func (s *Server) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	s.cancel()

	if s.listener != nil {
		s.listener.Close()
	}

	s.mu.Lock()
	for _, c := range s.clients {
		c.nc.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.logger.Warn("engine server shutdown timed out")
	}

	os.Remove(s.cfg.SocketPath)
	s.logger.Info("engine server stopped", "uptime", time.Since(s.startedAt).Round(time.Second))
	return nil
}

// SocketPath returns the socket path
func (s *Server) SocketPath() string {
	return s.cfg.SocketPath
}

// ClientCount returns the number of connected clients
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		nc, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("accept failed", "error", err)
			continue
		}

		if s.cfg.RequireSameUser {
			ok, err := VerifyPeerIsCurrentUser(nc)
			if err != nil || !ok {
				s.logger.Warn("rejected peer", "error", err)
				nc.Close()
				continue
			}
		}

		s.mu.RLock()
		count := len(s.clients)
		s.mu.RUnlock()

		if count >= s.cfg.MaxConnections {
			s.logger.Warn("connection limit reached", "limit", s.cfg.MaxConnections)
			nc.Close()
			continue
		}

		now := time.Now()
		c := &conn{
			ID:           fmt.Sprintf("session-%d-%d", os.Getpid(), s.nextSession.Add(1)),
			nc:           nc,
			ConnectedAt:  now,
			LastActivity: now,
		}

		s.mu.Lock()
		s.clients[c.ID] = c
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleConnection(c)
	}
}

func (s *Server) handleConnection(c *conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.clients, c.ID)
		s.mu.Unlock()
		c.nc.Close()
		s.logger.Debug("client disconnected", "session", c.ID)
	}()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		c.nc.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))

		msg, err := ReadMessage(c.nc)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				s.sendPing(c)
				continue
			}
			s.logger.Debug("read failed", "session", c.ID, "error", err)
			return
		}

		c.mu.Lock()
		c.LastActivity = time.Now()
		c.mu.Unlock()

		response := s.processMessage(c, msg)
		if response != nil {
			if err := s.sendMessage(c, response); err != nil {
				return
			}
		}
	}
}

// processMessage answers one message in the codec the request used.
func (s *Server) processMessage(c *conn, msg *Message) *Message {
	codec := codecFor(msg.Header.Flags)
	id := msg.Header.RequestID

	switch msg.Header.Type {
	case MsgPing:
		return NewMessage(MsgPong, id, codec.Flags(), nil)

	case MsgPong:
		return nil

	case MsgHandshake:
		var req HandshakeRequest
		if err := codec.Unmarshal(msg.Payload, &req); err != nil {
			return s.errorMessage(codec, id, ErrInvalidRequest, "invalid handshake")
		}
		if req.ProtocolVersion > ProtocolVersion {
			return s.errorMessage(codec, id, ErrInvalidRequest, fmt.Sprintf("unsupported protocol version %d", req.ProtocolVersion))
		}
		c.mu.Lock()
		c.Name = req.ClientName
		c.Version = req.ClientVersion
		c.mu.Unlock()
		s.logger.Debug("handshake", "session", c.ID, "client", req.ClientName, "codec", codec.Name())
		return s.reply(codec, MsgHandshakeAck, id, &HandshakeResponse{
			ServerVersion:   s.cfg.Version,
			ProtocolVersion: ProtocolVersion,
			SessionID:       c.ID,
		})

	case MsgSendKey:
		var key engine.KeyEvent
		if err := codec.Unmarshal(msg.Payload, &key); err != nil {
			return s.errorMessage(codec, id, ErrInvalidRequest, err.Error())
		}
		return s.callBackend(codec, id, func(ctx context.Context) (*engine.Output, error) {
			return s.backend.SendKey(ctx, key)
		})

	case MsgSendCommand:
		var cmd engine.Command
		if err := codec.Unmarshal(msg.Payload, &cmd); err != nil {
			return s.errorMessage(codec, id, ErrInvalidRequest, err.Error())
		}
		return s.callBackend(codec, id, func(ctx context.Context) (*engine.Output, error) {
			return s.backend.SendCommand(ctx, cmd)
		})

	default:
		return s.errorMessage(codec, id, ErrInvalidRequest, "unexpected message "+msg.Header.Type.String())
	}
}

func (s *Server) callBackend(codec Codec, id uint32, call func(context.Context) (*engine.Output, error)) *Message {
	s.backendMu.Lock()
	out, err := call(s.ctx)
	s.backendMu.Unlock()
	if err != nil {
		return s.errorMessage(codec, id, ErrInternalError, err.Error())
	}
	return s.reply(codec, MsgOutput, id, out)
}

func (s *Server) reply(codec Codec, t MessageType, id uint32, v any) *Message {
	payload, err := codec.Marshal(v)
	if err != nil {
		return s.errorMessage(codec, id, ErrInternalError, err.Error())
	}
	return NewMessage(t, id, codec.Flags(), payload)
}

func (s *Server) errorMessage(codec Codec, id uint32, code int, text string) *Message {
	payload, _ := codec.Marshal(&ErrorResponse{Code: code, Message: text})
	return NewMessage(MsgError, id, codec.Flags(), payload)
}

func (s *Server) sendMessage(c *conn, msg *Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.nc.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return msg.Write(c.nc)
}

// sendPing keeps an idle connection alive.
func (s *Server) sendPing(c *conn) {
	s.sendMessage(c, NewMessage(MsgPing, 0, 0, nil))
}
