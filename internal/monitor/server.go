package monitor

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"flightlink/internal/telemetry"
)

const (
	OpHello  = "hello"
	OpPacket = "packet"
)

type Config struct {
	Addr    string
	SendBuf int
	Name    string
}

func DefaultConfig() Config {
	return Config{
		Addr:    "127.0.0.1:8765",
		SendBuf: 32,
		Name:    "flightlink",
	}
}

// HelloMsg is sent once when a client connects.
type HelloMsg struct {
	Op     string   `json:"op"`
	Name   string   `json:"name"`
	Fields []string `json:"fields"`
}

// PacketMsg carries one telemetry packet.
type PacketMsg struct {
	Op        string   `json:"op"`
	Sequence  int      `json:"seq"`
	TS        string   `json:"ts"`
	Phase     string   `json:"phase"`
	Fault     string   `json:"fault"`
	Emergency bool     `json:"emergency,omitempty"`
	Frame     string   `json:"frame"`
	Values    []string `json:"values"`
}

// Server broadcasts packets to websocket clients. A client that cannot keep
// up misses packets rather than slowing the producer.
type Server struct {
	cfg Config
	log *slog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func NewServer(cfg Config, log *slog.Logger) *Server {
	defaults := DefaultConfig()
	if cfg.Addr == "" {
		cfg.Addr = defaults.Addr
	}
	if cfg.SendBuf <= 0 {
		cfg.SendBuf = defaults.SendBuf
	}
	if cfg.Name == "" {
		cfg.Name = defaults.Name
	}
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		log:     log,
		clients: make(map[*client]struct{}),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWS)
	return mux
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()
	s.log.Info("live monitor listening", "addr", s.cfg.Addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = httpServer.Shutdown(shutdownCtx)
		cancel()
		for _, c := range s.snapshotClients() {
			c.close()
		}
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// Publish queues p for every connected client. It never blocks.
func (s *Server) Publish(p telemetry.Packet) {
	clients := s.snapshotClients()
	if len(clients) == 0 {
		return
	}
	msg, err := json.Marshal(PacketMsg{
		Op:        OpPacket,
		Sequence:  p.Sequence,
		TS:        p.Time.UTC().Format(time.RFC3339Nano),
		Phase:     p.Phase.String(),
		Fault:     p.Fault.String(),
		Emergency: p.Emergency,
		Frame:     p.Frame(),
		Values:    p.Fields(),
	})
	if err != nil {
		s.log.Warn("encode monitor packet", "err", err)
		return
	}
	for _, c := range clients {
		c.trySend(msg)
	}
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool {
			return true
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &client{conn: conn, send: make(chan []byte, s.cfg.SendBuf)}
	if err := conn.WriteJSON(HelloMsg{Op: OpHello, Name: s.cfg.Name, Fields: telemetry.Header}); err != nil {
		c.close()
		return
	}
	s.addClient(c)
	s.log.Debug("monitor client connected", "remote", r.RemoteAddr)

	go c.writeLoop()
	c.readLoop()

	c.close()
	s.removeClient(c)
	s.log.Debug("monitor client disconnected", "remote", r.RemoteAddr)
}

func (s *Server) addClient(c *client) {
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) removeClient(c *client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
}

func (s *Server) snapshotClients() []*client {
	s.mu.RLock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.RUnlock()
	return clients
}

// readLoop discards client messages until the connection closes.
func (c *client) readLoop() {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writeLoop() {
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.close()
			return
		}
	}
}

func (c *client) trySend(msg []byte) {
	defer func() {
		_ = recover()
	}()
	select {
	case c.send <- msg:
	default:
	}
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.send)
		_ = c.conn.Close()
	})
}
