package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ardnew/carlink/config"
	"github.com/ardnew/carlink/dongle"
	"github.com/ardnew/carlink/pkg"
	"github.com/ardnew/carlink/protocol"
)

// Defaults.
const (
	DefaultWriteTimeout   = 5 * time.Second
	DefaultClientBuffer   = 64
	DefaultMaxMessageSize = 64 << 10
)

// Sender delivers client input to the dongle. *dongle.Driver implements it.
type Sender interface {
	Send(ctx context.Context, msg protocol.Sendable) dongle.Result
}

// Option configures a [Server].
type Option func(*Server)

// WithGatherer sets the registry served at /metrics. The default is
// prometheus.DefaultGatherer.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithWriteTimeout bounds each WebSocket write.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.writeTimeout = d
	}
}

// WithVideoSize sets the video size viewport controls are fitted to until
// the first video frame reports its own.
func WithVideoSize(width, height int) Option {
	return func(s *Server) {
		s.setVideoSize(uint32(width), uint32(height))
	}
}

// WithClientBuffer sets how many messages may queue for one client before
// further messages to it are dropped.
func WithClientBuffer(n int) Option {
	return func(s *Server) {
		s.clientBuffer = n
	}
}

// Health is the body of /healthz.
type Health struct {
	Connected bool   `json:"connected"`
	Phone     string `json:"phone,omitempty"`
	Clients   int    `json:"clients"`
	Dropped   uint64 `json:"dropped"`
}

type outbound struct {
	kind int
	data []byte
}

type client struct {
	conn  *websocket.Conn
	send  chan outbound
	done  chan struct{}
	once  sync.Once
	touch dongle.Touch
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// Server relays dongle events to WebSocket clients. It implements
// [dongle.Handler]; subscribe it to a driver to feed it.
type Server struct {
	sender       Sender
	gatherer     prometheus.Gatherer
	writeTimeout time.Duration
	clientBuffer int
	upgrader     websocket.Upgrader
	router       chi.Router

	mu      sync.RWMutex
	clients map[*client]struct{}

	connected atomic.Bool
	phone     atomic.Value  // string
	video     atomic.Uint64 // width<<32 | height
	dropped   atomic.Uint64
}

// New creates a relay that forwards client input to sender.
func New(sender Sender, opts ...Option) *Server {
	s := &Server{
		sender:       sender,
		gatherer:     prometheus.DefaultGatherer,
		writeTimeout: DefaultWriteTimeout,
		clientBuffer: DefaultClientBuffer,
		clients:      make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 64 << 10,
			CheckOrigin: func(r *http.Request) bool {
				return true // The relay serves a local head unit.
			},
		},
	}
	s.phone.Store("")
	def := config.Default()
	s.setVideoSize(uint32(def.Width), uint32(def.Height))
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/ws", s.handleWebSocket)
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	s.router = r
	return s
}

// Handler returns the HTTP handler serving the relay routes.
func (s *Server) Handler() http.Handler {
	return s.router
}

// HandleEvent encodes ev and queues it for every client.
func (s *Server) HandleEvent(ev dongle.Event) {
	switch ev.Kind {
	case dongle.EventConnected:
		s.connected.Store(true)
	case dongle.EventDisconnected, dongle.EventFailure:
		s.connected.Store(false)
		s.phone.Store("")
	case dongle.EventMessage:
		switch m := ev.Message.(type) {
		case *protocol.Plugged:
			s.phone.Store(m.Phone.String())
		case *protocol.Unplugged:
			s.phone.Store("")
		case *protocol.VideoData:
			if m.Width > 0 && m.Height > 0 {
				s.setVideoSize(m.Width, m.Height)
			}
		}
	}

	isBinary, data, err := encodeEvent(ev)
	if err != nil {
		pkg.LogWarn(pkg.ComponentRelay, "drop event", "event", ev.String(), "error", err)
		return
	}
	kind := websocket.TextMessage
	if isBinary {
		kind = websocket.BinaryMessage
	}
	s.broadcast(outbound{kind: kind, data: data})
}

func (s *Server) setVideoSize(w, h uint32) {
	s.video.Store(uint64(w)<<32 | uint64(h))
}

func (s *Server) videoSize() (w, h int) {
	v := s.video.Load()
	return int(v >> 32), int(uint32(v))
}

func (s *Server) broadcast(msg outbound) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for c := range s.clients {
		select {
		case c.send <- msg:
		default:
			s.dropped.Add(1)
		}
	}
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Close disconnects every client.
func (s *Server) Close() {
	s.mu.Lock()
	clients := s.clients
	s.clients = make(map[*client]struct{})
	s.mu.Unlock()
	for c := range clients {
		c.close()
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	h := Health{
		Connected: s.connected.Load(),
		Phone:     s.phone.Load().(string),
		Clients:   s.ClientCount(),
		Dropped:   s.dropped.Load(),
	}
	w.Header().Set("Content-Type", "application/json")
	if !h.Connected {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(h)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		pkg.LogDebug(pkg.ComponentRelay, "upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(DefaultMaxMessageSize)

	c := &client{
		conn: conn,
		send: make(chan outbound, s.clientBuffer),
		done: make(chan struct{}),
	}
	c.touch.SetViewport(unitViewport)
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	pkg.LogInfo(pkg.ComponentRelay, "client connected", "remote", r.RemoteAddr)

	go s.writeLoop(c)
	s.readLoop(r.Context(), c)

	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
	c.close()
	pkg.LogInfo(pkg.ComponentRelay, "client disconnected", "remote", r.RemoteAddr)
}

func (s *Server) writeLoop(c *client) {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := c.conn.WriteMessage(msg.kind, msg.data); err != nil {
				pkg.LogDebug(pkg.ComponentRelay, "write failed", "error", err)
				c.close()
				return
			}
		}
	}
}

func (s *Server) readLoop(ctx context.Context, c *client) {
	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if kind != websocket.TextMessage {
			continue
		}

		var ctl Control
		if err := json.Unmarshal(data, &ctl); err != nil {
			s.reply(c, EventMessage{Kind: "error", Error: "invalid control: " + err.Error()})
			continue
		}
		w, h := s.videoSize()
		msg, err := ctl.Message(&c.touch, w, h)
		if err != nil {
			s.reply(c, EventMessage{Kind: "error", Error: err.Error()})
			continue
		}
		if msg == nil {
			continue
		}
		if r := s.sender.Send(ctx, msg); r != dongle.ResultAcked {
			s.reply(c, EventMessage{Kind: "error", Type: msg.MessageType().String(), Error: "send " + r.String()})
		}
	}
}

func (s *Server) reply(c *client, msg EventMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case c.send <- outbound{kind: websocket.TextMessage, data: data}:
	default:
		s.dropped.Add(1)
	}
}
