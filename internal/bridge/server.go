// Package bridge serves the menu to renderer processes over a websocket on
// a local Unix socket.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/qubesos/qubes-appmenu/internal/display"
	"github.com/qubesos/qubes-appmenu/internal/menu"
)

// Menu is the part of the engine the bridge drives.
type Menu interface {
	Model() display.Model
	Submit(ctx context.Context, in menu.Intent) error
}

// Options configures a Server.
type Options struct {
	Socket string
	// SendBuffer is the number of messages queued per client before the
	// client is considered too slow and disconnected.
	SendBuffer   int
	WriteTimeout time.Duration
	// AllowAnyPeer skips the peer uid check. Only for tests over TCP.
	AllowAnyPeer bool
	Logger       *slog.Logger
}

// Server is a menu.Sink that fans render updates out to connected
// renderers and turns their requests into intents.
type Server struct {
	menu   Menu
	opts   Options
	logger *slog.Logger
	http   *http.Server

	mu      sync.Mutex
	clients map[*client]struct{}
}

var _ menu.Sink = (*Server)(nil)

// New creates a Server. Call Serve to start listening.
func New(m Menu, opts Options) *Server {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Server{
		menu:    m,
		opts:    opts,
		logger:  opts.Logger.With("component", "bridge"),
		clients: make(map[*client]struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/menu", s.withPeerCheck(s.handleMenu))
	mux.HandleFunc("GET /v1/model", s.withPeerCheck(s.handleModel))

	s.http = &http.Server{
		Handler:     logMiddleware(s.logger, mux),
		ConnContext: peerContext,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler, for serving on a custom listener.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Serve listens on the configured Unix socket until ctx ends. A stale
// socket file from an earlier run is replaced.
func (s *Server) Serve(ctx context.Context) error {
	if err := os.Remove(s.opts.Socket); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing stale socket: %w", err)
	}
	ln, err := net.Listen("unix", s.opts.Socket)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.opts.Socket, err)
	}
	if err := os.Chmod(s.opts.Socket, 0600); err != nil {
		ln.Close()
		return fmt.Errorf("restricting socket permissions: %w", err)
	}
	s.logger.Info("bridge listening", "socket", s.opts.Socket)

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.http.Shutdown(shutdownCtx)
		s.closeAll()
	})
	defer stop()

	err = s.http.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return ctx.Err()
	}
	return err
}

func (s *Server) handleModel(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.menu.Model())
}

func (s *Server) handleMenu(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	conn.SetReadLimit(64 << 10)

	ctx := r.Context()
	c := newClient(conn, s.opts.SendBuffer)
	s.register(c)
	defer s.unregister(c)

	go c.writeLoop(ctx, s.opts.WriteTimeout)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		in, err := decodeRequest(data)
		if err != nil {
			s.deliver(c, encode(message{Type: typeError, Error: err.Error()}))
			continue
		}
		if err := s.menu.Submit(ctx, in); err != nil {
			return
		}
	}
}

// register adds c and queues the full model as its first message. Holding
// the lock orders the model before any later broadcast; a diff already
// contained in the model is an idempotent upsert for the renderer.
func (s *Server) register(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.menu.Model()
	c.send <- encode(message{Type: typeModel, Model: &m})
	s.clients[c] = struct{}{}
	s.logger.Debug("renderer connected", "clients", len(s.clients))
}

func (s *Server) unregister(c *client) {
	s.mu.Lock()
	delete(s.clients, c)
	n := len(s.clients)
	s.mu.Unlock()
	c.stop()
	s.logger.Debug("renderer disconnected", "clients", n)
}

func (s *Server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		c.kick(websocket.StatusGoingAway, "menu shutting down")
		delete(s.clients, c)
	}
}

// ClientCount reports the number of connected renderers.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) broadcast(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		s.deliverLocked(c, data)
	}
}

func (s *Server) deliver(c *client, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliverLocked(c, data)
}

// deliverLocked never blocks. A client whose buffer is full is dropped;
// it reconnects and gets a fresh model.
func (s *Server) deliverLocked(c *client, data []byte) {
	if _, ok := s.clients[c]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
		s.logger.Warn("renderer too slow, disconnecting", "buffer", cap(c.send))
		delete(s.clients, c)
		c.kick(websocket.StatusPolicyViolation, "client too slow")
	}
}

func (s *Server) PublishModel(m display.Model) {
	s.broadcast(encode(message{Type: typeModel, Model: &m}))
}

func (s *Server) PublishDiff(d display.ModelDiff) {
	s.broadcast(encode(message{Type: typeDiff, Diff: &d}))
}

func (s *Server) PublishSearch(query string, results []display.SearchResult) {
	if results == nil {
		results = []display.SearchResult{}
	}
	s.broadcast(encode(message{Type: typeSearch, Query: query, Results: results}))
}

func (s *Server) Notify(n menu.Notification) {
	s.broadcast(encode(message{Type: typeNotification, Notification: &n}))
}

func (s *Server) LaunchStatus(st menu.LaunchStatus) {
	s.broadcast(encode(message{Type: typeLaunchStatus, Launch: &st}))
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newClient(conn *websocket.Conn, buffer int) *client {
	return &client{
		conn: conn,
		send: make(chan []byte, buffer),
		done: make(chan struct{}),
	}
}

func (c *client) stop() {
	c.once.Do(func() { close(c.done) })
}

// kick stops the writer and closes the connection, which also ends the
// read loop of the handler.
func (c *client) kick(code websocket.StatusCode, reason string) {
	c.stop()
	if c.conn != nil {
		go c.conn.Close(code, reason)
	}
}

func (c *client) writeLoop(ctx context.Context, timeout time.Duration) {
	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		case data := <-c.send:
			writeCtx, cancel := context.WithTimeout(ctx, timeout)
			err := c.conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				c.kick(websocket.StatusInternalError, "write failed")
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func logMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start).Round(time.Millisecond))
	})
}
